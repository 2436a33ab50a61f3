// Package logging provides slog attribute helpers for consistent structured
// logging across the service, including anonymization of user identifiers
// and masking of credentials.
//
// Session ids, access tokens and raw email addresses must never reach log
// output; use SessionHash, SanitizeToken and UserHash instead.
package logging
