// Package health evaluates capture health from element statistics and
// reports it over HTTP and MQTT.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	bigeyesrc "github.com/Banakin/gst-plugin-bigeye"
)

// Status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Degradation thresholds
const (
	// MaxDropRate is the drop percentage above which the stream is degraded
	MaxDropRate = 50.0
	// StaleFrames is how many frame intervals without a frame count as stale
	StaleFrames = 5
)

// StatsSource is anything that reports element statistics
type StatsSource interface {
	Stats() bigeyesrc.Stats
}

// Report is one health snapshot
type Report struct {
	Status    string          `json:"status"`
	Reasons   []string        `json:"reasons,omitempty"`
	Instance  string          `json:"instance"`
	Timestamp time.Time       `json:"timestamp"`
	Stats     bigeyesrc.Stats `json:"stats"`
}

// Evaluate derives a status from stats.
//
// Streaming with a fresh, stable cadence is healthy. Streaming with stale
// frames, unstable cadence or a high drop rate is degraded. Anything else
// is unhealthy.
func Evaluate(stats bigeyesrc.Stats) (string, []string) {
	if stats.State != bigeyesrc.StateStreaming {
		reason := "state " + stats.State.String()
		if stats.LastError != "" {
			reason += ": " + stats.LastError
		}
		return StatusUnhealthy, []string{reason}
	}

	var reasons []string
	if stats.FPSTarget > 0 && stats.FramesCaptured > 0 {
		staleMS := int64(StaleFrames * 1000 / stats.FPSTarget)
		if stats.LatencyMS > staleMS {
			reasons = append(reasons, "stale frames")
		}
	}
	if stats.FramesCaptured == 0 && stats.Uptime > time.Second {
		reasons = append(reasons, "no frames captured")
	}
	if stats.FramesCaptured > 0 && !stats.IsStable {
		reasons = append(reasons, "unstable cadence")
	}
	if stats.DropRate > MaxDropRate {
		reasons = append(reasons, "high drop rate")
	}

	if len(reasons) > 0 {
		return StatusDegraded, reasons
	}
	return StatusHealthy, nil
}

// NewReport builds a report for the given instance
func NewReport(instance string, stats bigeyesrc.Stats, now time.Time) Report {
	status, reasons := Evaluate(stats)
	return Report{
		Status:    status,
		Reasons:   reasons,
		Instance:  instance,
		Timestamp: now.UTC(),
		Stats:     stats,
	}
}

// Handler serves the current report. Unhealthy answers 503; degraded is
// still ready and answers 200.
func Handler(instance string, src StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := NewReport(instance, src.Stats(), time.Now())

		statusCode := http.StatusOK
		if report.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(report)
	}
}
