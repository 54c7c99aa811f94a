// Package health tracks request counters and derives the server's health
// status from error rate and session lifecycle state.
package health

import (
	"sync/atomic"
	"time"
)

// Statuses reported by Snapshot.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Error-rate thresholds, in percent.
const (
	degradedErrorRate  = 10.0
	unhealthyErrorRate = 50.0
)

// Metrics accumulates request statistics. All methods are safe for
// concurrent use and never block a request path; counters are eventually
// consistent.
type Metrics struct {
	start time.Time

	requests  atomic.Int64
	errors    atomic.Int64
	latencyNS atomic.Int64
}

// NewMetrics starts the uptime clock.
func NewMetrics() *Metrics {
	return &Metrics{start: time.Now()}
}

// Track records one completed request.
func (m *Metrics) Track(d time.Duration, success bool) {
	m.requests.Add(1)
	m.latencyNS.Add(int64(d))
	if !success {
		m.errors.Add(1)
	}
}

// Snapshot is a point-in-time view of server health.
type Snapshot struct {
	Status        string  `json:"status"`
	SessionState  string  `json:"session_state"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	RequestCount  int64   `json:"request_count"`
	ErrorCount    int64   `json:"error_count"`
	ErrorRatePct  float64 `json:"error_rate_percent"`
	AvgLatencyMS  int64   `json:"avg_response_time_ms"`
}

// Snapshot derives the current status. sessionState is the lifecycle
// manager's aggregate state string ("ready", "degraded", "connecting",
// "closed", "uninitialized").
func (m *Metrics) Snapshot(sessionState string) Snapshot {
	requests := m.requests.Load()
	errs := m.errors.Load()

	var rate float64
	if requests > 0 {
		rate = float64(errs) / float64(requests) * 100
	}
	var avg int64
	if requests > 0 {
		avg = m.latencyNS.Load() / requests / int64(time.Millisecond)
	}

	return Snapshot{
		Status:        status(sessionState, rate),
		SessionState:  sessionState,
		UptimeSeconds: int64(time.Since(m.start).Seconds()),
		RequestCount:  requests,
		ErrorCount:    errs,
		ErrorRatePct:  round2(rate),
		AvgLatencyMS:  avg,
	}
}

func status(sessionState string, errorRate float64) string {
	switch {
	case sessionState == "closed" || errorRate > unhealthyErrorRate:
		return StatusUnhealthy
	case sessionState == "degraded" || sessionState == "connecting" || errorRate > degradedErrorRate:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
