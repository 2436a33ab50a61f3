// Package instrumentation provides OpenTelemetry-based metrics and tracing
// for the service.
//
// The Provider owns the meter and tracer providers and is constructed once
// at process start. Metrics are exported via Prometheus (default), OTLP or
// stdout; traces via OTLP or stdout. The Metrics recorder covers the
// domain-level signals: HTTP requests, active sessions, authorization code
// exchanges, silent token renewals, upstream mail fetches and per-message
// analysis calls.
package instrumentation
