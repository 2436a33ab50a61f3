package mail

import (
	"errors"
	"time"
)

// ErrUpstreamUnavailable indicates the mail provider could not be reached
// or answered with a server error. Maps to a generic 500 for the client;
// detail goes to the log only.
var ErrUpstreamUnavailable = errors.New("mail provider unavailable")

// ErrUpstreamRejected indicates the mail provider rejected the request,
// e.g. insufficient scope or a malformed query. Also a server-side 500 for
// the client; re-authentication problems are caught at the token layer
// before this call is ever attempted.
var ErrUpstreamRejected = errors.New("mail provider rejected the request")

// Item is an upstream mail record. Read-only input to analysis; never
// mutated after the fetch.
type Item struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"threadId"`
	Subject  string    `json:"subject"`
	From     string    `json:"from"`
	Date     time.Time `json:"date"`
	Snippet  string    `json:"snippet"`
	Body     string    `json:"body"`
}
