package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys - using constants for consistency and DRY
const (
	attrMethod = "method"
	attrPath   = "path"
	attrStatus = "status"
	attrResult = "result"
)

// Metrics provides methods for recording observability metrics.
// All record methods are safe on a nil or uninitialized receiver so callers
// can hold a *Metrics without caring whether instrumentation is enabled.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	activeSessions      metric.Int64UpDownCounter

	// OAuth broker metrics
	exchangeTotal     metric.Int64Counter
	tokenRenewalTotal metric.Int64Counter

	// Upstream metrics
	mailFetchTotal    metric.Int64Counter
	mailFetchDuration metric.Float64Histogram
	analysisTotal     metric.Int64Counter
	analysisDuration  metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.activeSessions, err = meter.Int64UpDownCounter(
		"active_sessions",
		metric.WithDescription("Number of active user sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_sessions gauge: %w", err)
	}

	m.exchangeTotal, err = meter.Int64Counter(
		"oauth_exchange_total",
		metric.WithDescription("Total number of authorization code exchanges"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_exchange_total counter: %w", err)
	}

	m.tokenRenewalTotal, err = meter.Int64Counter(
		"oauth_token_renewal_total",
		metric.WithDescription("Total number of silent token renewal attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_renewal_total counter: %w", err)
	}

	m.mailFetchTotal, err = meter.Int64Counter(
		"mail_fetch_total",
		metric.WithDescription("Total number of upstream mail fetch operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail_fetch_total counter: %w", err)
	}

	m.mailFetchDuration, err = meter.Float64Histogram(
		"mail_fetch_duration_seconds",
		metric.WithDescription("Upstream mail fetch duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail_fetch_duration_seconds histogram: %w", err)
	}

	m.analysisTotal, err = meter.Int64Counter(
		"analysis_total",
		metric.WithDescription("Total number of message analysis calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis_total counter: %w", err)
	}

	m.analysisDuration, err = meter.Float64Histogram(
		"analysis_duration_seconds",
		metric.WithDescription("Message analysis call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordExchange records an authorization code exchange attempt.
// Result should be one of: "success", "error"
func (m *Metrics) RecordExchange(ctx context.Context, result string) {
	if m == nil || m.exchangeTotal == nil {
		return
	}
	m.exchangeTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordTokenRenewal records a silent token renewal attempt.
// Result should be one of: "success", "error", "reauth_required"
func (m *Metrics) RecordTokenRenewal(ctx context.Context, result string) {
	if m == nil || m.tokenRenewalTotal == nil {
		return
	}
	m.tokenRenewalTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordMailFetch records an upstream mail fetch with status and duration.
func (m *Metrics) RecordMailFetch(ctx context.Context, status string, duration time.Duration) {
	if m == nil || m.mailFetchTotal == nil || m.mailFetchDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String(attrStatus, status)}
	m.mailFetchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.mailFetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordAnalysis records a message analysis call.
// Status should be one of: "success", "fallback"
func (m *Metrics) RecordAnalysis(ctx context.Context, status string, duration time.Duration) {
	if m == nil || m.analysisTotal == nil || m.analysisDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String(attrStatus, status)}
	m.analysisTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.analysisDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// IncrementActiveSessions increments the active sessions counter.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

// DecrementActiveSessions decrements the active sessions counter.
func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
}
