package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	bigeyesrc "github.com/Banakin/gst-plugin-bigeye"
)

type fixedStats bigeyesrc.Stats

func (f fixedStats) Stats() bigeyesrc.Stats { return bigeyesrc.Stats(f) }

func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += fmt.Sprintf("{%s=%s}", lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				values[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				values[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return values
}

func TestStatsCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, fixedStats{
		State:          bigeyesrc.StateStreaming,
		FramesCaptured: 300,
		FramesDropped:  12,
		FramesPulled:   288,
		FPSReal:        29.9,
		IsStable:       true,
		LatencyMS:      40,
	})

	got := gather(t, reg)

	want := map[string]float64{
		"bigeye_frames_captured_total":  300,
		"bigeye_frames_dropped_total":   12,
		"bigeye_frames_pulled_total":    288,
		"bigeye_fps_real":               29.9,
		"bigeye_cadence_stable":         1,
		"bigeye_last_frame_age_seconds": 0.04,
		"bigeye_state{state=streaming}": 1,
		"bigeye_state{state=errored}":   0,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestObservePull(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, fixedStats{})

	m.ObservePull(10*time.Millisecond, &bigeyesrc.OutputBuffer{Payload: make([]byte, 614400)}, nil)
	m.ObservePull(50*time.Millisecond, nil, fmt.Errorf("x: %w", bigeyesrc.ErrEndOfStream))
	m.ObservePull(time.Millisecond, nil, fmt.Errorf("x: %w", bigeyesrc.ErrCancelled))

	got := gather(t, reg)
	for k, v := range map[string]float64{
		"bigeye_pulls_total{result=ok}":        1,
		"bigeye_pulls_total{result=eos}":       1,
		"bigeye_pulls_total{result=cancelled}": 1,
		"bigeye_frame_size_bytes":              1,
	} {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{bigeyesrc.ErrEndOfStream, "eos"},
		{bigeyesrc.ErrCancelled, "cancelled"},
		{bigeyesrc.ErrNotNegotiated, "not_negotiated"},
		{errors.New("device failed"), "error"},
	}
	for _, tt := range tests {
		if got := Result(tt.err); got != tt.want {
			t.Errorf("Result(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
