// Package lease provides TTL-based distributed leases for cross-process
// session ownership. At most one valid (non-expired) lease exists per tenant
// across the whole store at any instant; losing the lease is always fatal to
// the local session, never retried in place.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TTL is the fixed lease lifetime. Refresh cadence must stay strictly below
// this value; the session layer uses 8s for the permanent loop and 3s for the
// temporary one.
const TTL = 10 * time.Second

// ErrLeaseLost is returned by Refresh when the lease key no longer exists —
// either it expired or another process took ownership after expiry.
var ErrLeaseLost = errors.New("lease lost")

// Store is the TTL lease primitive over a shared key-value store.
//
// No ownership token is kept: the refresh cadence is strictly shorter than
// TTL, so a double-acquire after expiry is a detectable fatal condition for
// the stale holder (its next Refresh fails), not a silently tolerated one.
type Store interface {
	// Acquire sets the tenant's lease key only if absent, with TTL.
	// Returns true iff this call created the lease.
	Acquire(ctx context.Context, tenantID string) (bool, error)

	// Refresh extends the TTL only if the key currently exists.
	// Returns ErrLeaseLost if the key is absent.
	Refresh(ctx context.Context, tenantID string) error

	// Release deletes the lease. Idempotent: no error if absent.
	Release(ctx context.Context, tenantID string) error
}

// Key returns the store key for a tenant's session lease.
func Key(tenantID string) string {
	return fmt.Sprintf("session:%s:lock", tenantID)
}
