// Package cadence measures how regularly a device delivers frames.
package cadence

import (
	"math"
	"sync"
	"time"
)

const (
	// fpsStabilityThreshold: stable if FPS stddev < 15% of mean FPS
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold: stable if mean jitter < 20% of the expected interval
	jitterStabilityThreshold = 0.20

	// windowSize keeps ~4s of arrivals at 30 FPS
	windowSize = 128
)

// Stats summarises frame arrival times.
type Stats struct {
	Frames    int
	Span      time.Duration
	FPSMean   float64
	FPSStdDev float64
	FPSMin    float64
	FPSMax    float64
	// Jitter values are in seconds
	JitterMean float64
	JitterMax  float64
	IsStable   bool
}

// Calculate computes cadence statistics over ordered arrival times.
//
// Mean FPS is intervals/span, so a window of N arrivals covering one
// second at 30 FPS yields 30 regardless of N.
func Calculate(times []time.Time) Stats {
	n := len(times)
	if n < 2 {
		return Stats{Frames: n}
	}

	span := times[n-1].Sub(times[0])
	if span <= 0 {
		return Stats{Frames: n, Span: span}
	}

	fpsMean := float64(n-1) / span.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := times[i].Sub(times[i-1]).Seconds(); interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return Stats{Frames: n, Span: span, FPSMean: fpsMean}
	}

	fpsMin, fpsMax := instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		fpsMin = math.Min(fpsMin, fps)
		fpsMax = math.Max(fpsMax, fps)
		diff := fps - fpsMean
		sumSquares += diff * diff
	}
	fpsStdDev := math.Sqrt(sumSquares / float64(len(instantaneous)))

	expectedInterval := 1.0 / fpsMean
	var jitterSum, jitterMax float64
	for i := 1; i < n; i++ {
		jitter := math.Abs(times[i].Sub(times[i-1]).Seconds() - expectedInterval)
		jitterSum += jitter
		jitterMax = math.Max(jitterMax, jitter)
	}
	jitterMean := jitterSum / float64(n-1)

	return Stats{
		Frames:     n,
		Span:       span,
		FPSMean:    fpsMean,
		FPSStdDev:  fpsStdDev,
		FPSMin:     fpsMin,
		FPSMax:     fpsMax,
		JitterMean: jitterMean,
		JitterMax:  jitterMax,
		IsStable: fpsStdDev < fpsMean*fpsStabilityThreshold &&
			jitterMean < expectedInterval*jitterStabilityThreshold,
	}
}

// Window is a bounded ring of recent arrival times, safe for one writer
// (capture callback) and concurrent readers.
type Window struct {
	mu    sync.Mutex
	times [windowSize]time.Time
	next  int
	count int
}

// Record appends an arrival time, evicting the oldest when full
func (w *Window) Record(t time.Time) {
	w.mu.Lock()
	w.times[w.next] = t
	w.next = (w.next + 1) % windowSize
	if w.count < windowSize {
		w.count++
	}
	w.mu.Unlock()
}

// Last returns the most recent arrival, zero if none
func (w *Window) Last() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count == 0 {
		return time.Time{}
	}
	return w.times[(w.next-1+windowSize)%windowSize]
}

// Reset forgets all arrivals
func (w *Window) Reset() {
	w.mu.Lock()
	w.next, w.count = 0, 0
	w.mu.Unlock()
}

// Stats computes cadence over the current window contents
func (w *Window) Stats() Stats {
	w.mu.Lock()
	ordered := make([]time.Time, 0, w.count)
	start := (w.next - w.count + windowSize) % windowSize
	for i := 0; i < w.count; i++ {
		ordered = append(ordered, w.times[(start+i)%windowSize])
	}
	w.mu.Unlock()

	return Calculate(ordered)
}
