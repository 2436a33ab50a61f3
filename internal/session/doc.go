// Package session holds the server-side session store: an in-memory map
// from opaque, unguessable session ids to signed-in identities, with a
// background sweep for idle sessions. Lookups are O(1) by id; nothing ever
// enumerates or prefix-matches sessions.
package session
