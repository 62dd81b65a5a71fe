package portal

import "fmt"

// HandshakeError means the portal did not issue a token. Nothing downstream can
// work without one, so callers usually treat this as fatal.
type HandshakeError struct {
	Portal string
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake with %s failed: %v", e.Portal, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// SessionError means profile validation failed twice (the initial attempt plus
// the single automatic re-handshake). The device identity is likely rejected.
type SessionError struct {
	Portal string
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session with %s not accepted: %v", e.Portal, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// CatalogError means the channel list stayed empty or undecodable even after
// one session renewal. Fatal for playlist generation; the gateway surfaces it
// per-request instead.
type CatalogError struct {
	Portal string
	Err    error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog from %s unavailable: %v", e.Portal, e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }

// ResolveError means one channel's link resolution exhausted all attempts.
// Non-fatal: batch mode records a missing entry, gateway mode returns a 500.
type ResolveError struct {
	ChannelID string
	Attempts  int
	Err       error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve channel %s failed after %d attempts: %v", e.ChannelID, e.Attempts, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }
