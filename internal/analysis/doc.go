// Package analysis talks to the generative analysis service. The request
// and response contract is deliberately small: one prompt in, one
// four-field JSON record out. The client owns the failure-substitution
// policy — a fixed fallback record replaces any failed or off-schema
// response, so enrichment batches never lose items to a flaky upstream.
package analysis
