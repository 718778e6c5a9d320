package metrics

import "time"

// NoopMetrics discards everything. Used when metrics are disabled.
type NoopMetrics struct{}

var _ Recorder = (*NoopMetrics)(nil)

func NewNoopMetrics() Recorder {
	return &NoopMetrics{}
}

func (n *NoopMetrics) RecordAuthorizationDecision(string)              {}
func (n *NoopMetrics) RecordTokenIssued(string, string, time.Duration) {}
func (n *NoopMetrics) RecordTokenRevoked(string, string)               {}
func (n *NoopMetrics) RecordTokenRefresh(bool)                         {}
func (n *NoopMetrics) RecordReplayDetected(string)                     {}
func (n *NoopMetrics) RecordTokenValidation(string, time.Duration)     {}
func (n *NoopMetrics) RecordClientAuthFailure(string)                  {}
func (n *NoopMetrics) SetActiveTokensCount(string, int)                {}
func (n *NoopMetrics) RecordDatabaseQueryError(string)                 {}
