package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ServerMetrics holds metric instruments for HTTP server telemetry.
// Initialize once at server startup and reuse throughout the application lifecycle.
type ServerMetrics struct {
	RequestCounter  metric.Int64Counter     // Total HTTP requests
	RequestDuration metric.Float64Histogram // HTTP request latency
	ErrorCounter    metric.Int64Counter     // Total HTTP errors (5xx)
}

// NewServerMetrics creates a new ServerMetrics instance with pre-configured instruments.
func NewServerMetrics() (*ServerMetrics, error) {
	meter := otel.Meter("authgate/http")

	requestCounter, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	// Buckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s
	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"http.server.error.count",
		metric.WithDescription("Total number of HTTP server errors (5xx)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		ErrorCounter:    errorCounter,
	}, nil
}

// RecordRequest records an HTTP request with method, route, status, and duration.
func (m *ServerMetrics) RecordRequest(ctx context.Context, method, route, status string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
		attribute.String(AttrHTTPStatusCode, status),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, attrs)

	if len(status) > 0 && status[0] == '5' {
		m.ErrorCounter.Add(ctx, 1, attrs)
	}
}

// AuthMetrics holds metric instruments for authentication decisions.
type AuthMetrics struct {
	Decisions        metric.Int64Counter     // Decisions by path and outcome
	ExchangeDuration metric.Float64Histogram // Authorization-code exchange latency
	Logouts          metric.Int64Counter     // Remote logout calls by scope and outcome
}

// NewAuthMetrics creates metric instruments for authentication telemetry.
func NewAuthMetrics() (*AuthMetrics, error) {
	meter := otel.Meter("authgate/auth")

	decisions, err := meter.Int64Counter(
		"auth.decision.count",
		metric.WithDescription("Total number of authentication decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	exchangeDuration, err := meter.Float64Histogram(
		"auth.code_exchange.duration",
		metric.WithDescription("Authorization code exchange duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)
	if err != nil {
		return nil, err
	}

	logouts, err := meter.Int64Counter(
		"auth.logout.count",
		metric.WithDescription("Total number of remote logout requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		Decisions:        decisions,
		ExchangeDuration: exchangeDuration,
		Logouts:          logouts,
	}, nil
}

// RecordDecision counts one authentication decision. method is bearer,
// session or code; outcome is authenticated, redirect, denied or error.
func (a *AuthMetrics) RecordDecision(ctx context.Context, method, outcome string) {
	if a == nil {
		return
	}
	a.Decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAuthMethod, method),
		attribute.String(AttrAuthOutcome, outcome),
	))
}

// RecordExchange records the latency of one code exchange.
func (a *AuthMetrics) RecordExchange(ctx context.Context, success bool, durationMs float64) {
	if a == nil {
		return
	}
	a.ExchangeDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.Bool(AttrAuthSuccess, success),
	))
}

// RecordLogout counts one remote logout request. scope is user or all.
func (a *AuthMetrics) RecordLogout(ctx context.Context, scope, outcome string) {
	if a == nil {
		return
	}
	a.Logouts.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrLogoutScope, scope),
		attribute.String(AttrAuthOutcome, outcome),
	))
}

// Common metric attribute keys
const (
	// HTTP attributes
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"

	// Auth attributes
	AttrAuthMethod  = "auth.method"
	AttrAuthOutcome = "auth.outcome"
	AttrAuthSuccess = "auth.success"
	AttrLogoutScope = "auth.logout.scope"
)

// Decision outcomes
const (
	OutcomeAuthenticated = "authenticated"
	OutcomeRedirect      = "redirect"
	OutcomeDenied        = "denied"
	OutcomeError         = "error"
)
