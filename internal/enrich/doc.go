// Package enrich joins the token broker, the mail gateway and the analysis
// client into one pipeline: validate the token, fetch a page, fan out one
// analysis call per item, and zip the results back in fetch order. One
// item's analysis failure never aborts the batch.
package enrich
