// Package auth implements the OAuth2 token broker for delegated mailbox
// access.
//
// The Broker owns an explicit per-account token cache keyed by the provider
// account id, so silent renewal and invalidation are testable in isolation.
// Raw access tokens never leave the broker except through AccessToken, whose
// result is handed straight to the upstream gateway and is never logged or
// stored elsewhere.
//
// Error taxonomy: ErrProviderConfig (misconfiguration), ExchangeError (bad
// or expired authorization code), ErrReauthRequired (renewal impossible,
// user must sign in again). ErrReauthRequired is deliberately distinct from
// everything else so the HTTP layer can answer 401 "log in again" rather
// than a generic 500.
package auth
