// Package gateway defines the interface for Ongea's serving entry points.
package gateway

import "context"

// Gateway is a long-running entry point such as the HTTP control API.
type Gateway interface {
	// Start launches the gateway's serve loop and blocks until the gateway
	// exits or the context is canceled. Returns an error only on failure.
	Start(ctx context.Context) error

	// Stop performs graceful shutdown. The context carries a deadline for
	// the grace period; in-flight requests drain before returning.
	Stop(ctx context.Context) error
}
