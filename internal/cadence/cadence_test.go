package cadence

import (
	"math"
	"testing"
	"time"
)

func evenly(n int, interval time.Duration) []time.Time {
	base := time.Unix(1700000000, 0)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = base.Add(time.Duration(i) * interval)
	}
	return out
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name       string
		times      []time.Time
		wantFPS    float64
		wantStable bool
	}{
		{"empty", nil, 0, false},
		{"single frame", evenly(1, time.Second), 0, false},
		{"steady 30fps", evenly(31, time.Second/30), 30, true},
		{"steady 2fps", evenly(10, 500*time.Millisecond), 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.times)
			if math.Abs(got.FPSMean-tt.wantFPS) > 0.01 {
				t.Errorf("FPSMean = %.3f, want %.3f", got.FPSMean, tt.wantFPS)
			}
			if got.IsStable != tt.wantStable {
				t.Errorf("IsStable = %v, want %v", got.IsStable, tt.wantStable)
			}
			if got.Frames != len(tt.times) {
				t.Errorf("Frames = %d, want %d", got.Frames, len(tt.times))
			}
		})
	}
}

func TestCalculate_Unstable(t *testing.T) {
	times := evenly(20, 33*time.Millisecond)
	// Stall for half a second in the middle
	for i := 10; i < len(times); i++ {
		times[i] = times[i].Add(500 * time.Millisecond)
	}

	got := Calculate(times)
	if got.IsStable {
		t.Errorf("IsStable = true for a stalled stream (stddev=%.2f, jitter=%.3f)", got.FPSStdDev, got.JitterMean)
	}
	if got.JitterMax < 0.4 {
		t.Errorf("JitterMax = %.3f, want the stall to dominate", got.JitterMax)
	}
}

func TestWindow_BoundedAndOrdered(t *testing.T) {
	var w Window
	times := evenly(windowSize*3, 10*time.Millisecond)
	for _, ts := range times {
		w.Record(ts)
	}

	s := w.Stats()
	if s.Frames != windowSize {
		t.Errorf("Frames = %d, want %d (bounded)", s.Frames, windowSize)
	}
	if math.Abs(s.FPSMean-100) > 0.01 {
		t.Errorf("FPSMean = %.3f, want 100", s.FPSMean)
	}
	if !w.Last().Equal(times[len(times)-1]) {
		t.Errorf("Last() = %v, want newest arrival", w.Last())
	}

	w.Reset()
	if s := w.Stats(); s.Frames != 0 || !w.Last().IsZero() {
		t.Errorf("after Reset: Frames=%d Last=%v", s.Frames, w.Last())
	}
}
