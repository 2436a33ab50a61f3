// Package server implements the browser-facing HTTP surface: the OAuth
// login and redirect endpoints, session introspection, logout and the
// enriched mail fetch. It also hosts the health probes and a dedicated
// metrics server.
//
// Sessions ride in an HMAC-signed, HttpOnly cookie; the session id
// doubles as the OAuth state parameter during login.
package server
