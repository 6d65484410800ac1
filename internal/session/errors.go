package session

import "errors"

// ErrAlreadyActive means a start was requested while a connection is already
// registered for the tenant in this process. Recoverable; no state change.
var ErrAlreadyActive = errors.New("session already active")

// ErrLeaseUnavailable means another process holds the tenant's session
// lease. Surfaces to the start caller as a conflict.
var ErrLeaseUnavailable = errors.New("session lease held elsewhere")

// ErrInitializationFailed wraps lease or gateway failures during session
// startup. The connection is torn down before this surfaces.
var ErrInitializationFailed = errors.New("session initialization failed")

// ErrNoQRCode means no connection code has been issued yet (or the session
// is past the scanning stage).
var ErrNoQRCode = errors.New("no connection code available")

// ErrNotActive means a gateway operation was requested while the connection
// is not in the active state.
var ErrNotActive = errors.New("session not active")
