package core

import (
	"context"
	"time"
)

// Recorder receives application metrics. Implementations include the
// Prometheus-backed metrics.Metrics and the no-op metrics.NoopMetrics.
type Recorder interface {
	// Authorization endpoint; result is approved, denied or rejected.
	RecordAuthorizationDecision(result string)

	// Token endpoint
	RecordTokenIssued(tokenType, grantType string, generationTime time.Duration)
	RecordTokenRevoked(tokenType, reason string)
	RecordTokenRefresh(success bool)
	RecordReplayDetected(credential string) // authorization_code or refresh_token
	RecordTokenValidation(result string, duration time.Duration)

	// Client authentication failures by reason (unknown_client, bad_secret, revoked).
	RecordClientAuthFailure(reason string)

	// Periodic gauges
	SetActiveTokensCount(tokenType string, count int)

	RecordDatabaseQueryError(operation string)
}

// MetricsStore is the database surface the gauge updater reads from.
type MetricsStore interface {
	CountActiveTokens(ctx context.Context, tokenType string) (int64, error)
}
