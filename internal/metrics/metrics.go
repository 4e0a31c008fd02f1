// Package metrics exposes element statistics and pull outcomes to
// Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	bigeyesrc "github.com/Banakin/gst-plugin-bigeye"
)

const namespace = "bigeye"

// StatsSource is anything that reports element statistics
type StatsSource interface {
	Stats() bigeyesrc.Stats
}

// Metrics holds the metrics observed by the pull loop; the element's own
// counters are exported by a collector reading Stats at scrape time.
type Metrics struct {
	PullDuration *prometheus.HistogramVec
	PullResults  *prometheus.CounterVec
	FrameSize    prometheus.Histogram
}

// New creates and registers all metrics on reg
func New(reg prometheus.Registerer, src StatsSource) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		PullDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pull_duration_seconds",
				Help:      "Time spent blocked in Pull",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
			},
			[]string{"result"},
		),
		PullResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pulls_total",
				Help:      "Pull calls by result",
			},
			[]string{"result"}, // ok, eos, cancelled, not_negotiated, error
		),
		FrameSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_size_bytes",
			Help:      "Size of pulled frames",
			Buckets:   prometheus.ExponentialBuckets(16*1024, 2, 8), // 16KB to 2MB
		}),
	}

	reg.MustRegister(newStatsCollector(src))
	return m
}

// ObservePull records one Pull outcome
func (m *Metrics) ObservePull(elapsed time.Duration, buf *bigeyesrc.OutputBuffer, err error) {
	result := Result(err)
	m.PullDuration.WithLabelValues(result).Observe(elapsed.Seconds())
	m.PullResults.WithLabelValues(result).Inc()
	if buf != nil {
		m.FrameSize.Observe(float64(len(buf.Payload)))
	}
}

// Result maps a Pull error to its metric label
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, bigeyesrc.ErrEndOfStream):
		return "eos"
	case errors.Is(err, bigeyesrc.ErrCancelled):
		return "cancelled"
	case errors.Is(err, bigeyesrc.ErrNotNegotiated):
		return "not_negotiated"
	default:
		return "error"
	}
}

// statsCollector reads Stats once per scrape
type statsCollector struct {
	src StatsSource

	framesCaptured *prometheus.Desc
	bytesCaptured  *prometheus.Desc
	framesPulled   *prometheus.Desc
	framesDropped  *prometheus.Desc
	pullTimeouts   *prometheus.Desc
	pullCancels    *prometheus.Desc
	sessions       *prometheus.Desc
	fpsTarget      *prometheus.Desc
	fpsReal        *prometheus.Desc
	jitter         *prometheus.Desc
	latency        *prometheus.Desc
	stable         *prometheus.Desc
	state          *prometheus.Desc
}

func newStatsCollector(src StatsSource) *statsCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &statsCollector{
		src:            src,
		framesCaptured: desc("frames_captured_total", "Frames delivered by the device"),
		bytesCaptured:  desc("bytes_captured_total", "Payload bytes delivered by the device"),
		framesPulled:   desc("frames_pulled_total", "Buffers handed downstream"),
		framesDropped:  desc("frames_dropped_total", "Frames overwritten in the mailbox before a pull"),
		pullTimeouts:   desc("pull_timeouts_total", "Pulls that ended with end-of-stream"),
		pullCancels:    desc("pull_cancels_total", "Pulls interrupted by unlock or stop"),
		sessions:       desc("sessions_total", "Successful starts"),
		fpsTarget:      desc("fps_target", "Negotiated frame rate"),
		fpsReal:        desc("fps_real", "Measured delivery rate"),
		jitter:         desc("jitter_seconds", "Mean deviation from the expected frame interval"),
		latency:        desc("last_frame_age_seconds", "Time since the device delivered the last frame"),
		stable:         desc("cadence_stable", "1 when the delivery cadence is steady"),
		state:          desc("state", "1 for the current lifecycle state", "state"),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.framesCaptured, c.bytesCaptured, c.framesPulled, c.framesDropped,
		c.pullTimeouts, c.pullCancels, c.sessions, c.fpsTarget, c.fpsReal,
		c.jitter, c.latency, c.stable, c.state,
	} {
		ch <- d
	}
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.framesCaptured, s.FramesCaptured)
	counter(c.bytesCaptured, s.BytesCaptured)
	counter(c.framesPulled, s.FramesPulled)
	counter(c.framesDropped, s.FramesDropped)
	counter(c.pullTimeouts, s.PullTimeouts)
	counter(c.pullCancels, s.PullCancels)
	counter(c.sessions, s.Sessions)

	gauge(c.fpsTarget, s.FPSTarget)
	gauge(c.fpsReal, s.FPSReal)
	gauge(c.jitter, s.JitterMS/1000)
	gauge(c.latency, float64(s.LatencyMS)/1000)
	gauge(c.stable, boolValue(s.IsStable))

	for _, st := range []bigeyesrc.SessionState{
		bigeyesrc.StateIdle, bigeyesrc.StateNegotiated, bigeyesrc.StateStreaming,
		bigeyesrc.StateStopped, bigeyesrc.StateErrored,
	} {
		gauge(c.state, boolValue(s.State == st), st.String())
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
