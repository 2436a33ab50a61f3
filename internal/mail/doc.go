// Package mail wraps the upstream Gmail API behind a narrow gateway:
// fetch a page of recent messages for an access token, flatten each into a
// plain Item and normalize bodies to text. Search queries are passed
// through opaquely; no local parsing or validation of their syntax.
package mail
