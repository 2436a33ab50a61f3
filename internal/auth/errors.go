package auth

import (
	"errors"
	"fmt"
)

// ErrProviderConfig indicates the identity provider client credentials are
// missing or incomplete. Config validation at startup should make this
// unreachable in a running server; it remains here so a directly constructed
// Broker still guards itself.
var ErrProviderConfig = errors.New("identity provider client is not configured")

// ErrReauthRequired indicates the user must sign in again: the refresh
// credential was revoked, consent was withdrawn, or no token is cached for
// the account. This is an expected, user-recoverable condition and is kept
// distinct from server faults so callers can map it to a 401 instead of a
// generic 500.
var ErrReauthRequired = errors.New("re-authentication required")

// ExchangeError wraps a failed authorization-code exchange. The underlying
// provider error is preserved for logging; callers should present a generic
// failure page to the browser.
type ExchangeError struct {
	Err error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("authorization code exchange failed: %v", e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}
