// Package permission defines the chat-visibility collaborator contract.
// Grant CRUD is owned by the surrounding admin service; Ongea consumes only
// the read side, to filter listings and message pushes for non-owner
// employees. The tenant owner always sees everything.
package permission

import "context"

// Service answers which of a tenant's conversations an employee may see.
type Service interface {
	// ListPermittedConversationIDs returns the chat IDs granted to the
	// given employee within the tenant. An owner check happens elsewhere;
	// this is only consulted for non-owners.
	ListPermittedConversationIDs(ctx context.Context, tenantID, userID string) ([]string, error)
}

// GrantReader is the storage-side view of chat grants.
type GrantReader interface {
	ListChatIDs(ctx context.Context, tenantID, userID string) ([]string, error)
}

// FromGrants adapts a grant reader into a Service.
func FromGrants(g GrantReader) Service {
	return grantService{g}
}

type grantService struct {
	grants GrantReader
}

func (s grantService) ListPermittedConversationIDs(ctx context.Context, tenantID, userID string) ([]string, error) {
	return s.grants.ListChatIDs(ctx, tenantID, userID)
}

// Static is a fixed in-memory Service, used in tests and single-user setups.
type Static map[string][]string // userID → chat IDs

func (s Static) ListPermittedConversationIDs(_ context.Context, _ string, userID string) ([]string, error) {
	return s[userID], nil
}
