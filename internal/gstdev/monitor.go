package gstdev

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// busPollInterval bounds how long the monitor takes to notice cancellation
const busPollInterval = 50 * time.Millisecond

// waitForError drains the bus until an error message arrives or timeout
// elapses. Used after a failed state change: the element posts the reason
// on the bus, SetState only reports that it failed.
func waitForError(pipeline *gst.Pipeline, timeout time.Duration) *gst.GError {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}
		if msg.Type() == gst.MessageError {
			return msg.ParseError()
		}
	}
	return nil
}

// waitForPlaying blocks until the pipeline itself reports PLAYING, an
// error is posted, or timeout elapses.
func waitForPlaying(pipeline *gst.Pipeline, timeout time.Duration, logger *slog.Logger) (*gst.GError, error) {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			return msg.ParseError(), nil

		case gst.MessageEOS:
			return nil, fmt.Errorf("end of stream before PLAYING")

		case gst.MessageStateChanged:
			if msg.Source() != pipeline.GetName() {
				continue
			}
			old, new := msg.ParseStateChanged()
			logger.Debug("gstdev: pipeline state changed", "from", old, "to", new)
			if new == gst.StatePlaying {
				return nil, nil
			}
		}
	}
	return nil, fmt.Errorf("pipeline did not reach PLAYING within %v", timeout)
}

// monitorBus watches the bus while streaming.
//
// Returns nil if ctx is cancelled (graceful shutdown), or the first error /
// end-of-stream the pipeline posts. The caller reports it through the
// session's error callback.
func monitorBus(ctx context.Context, pipeline *gst.Pipeline, logger *slog.Logger) error {
	bus := pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("gstdev: context cancelled, stopping bus monitor")
			return nil

		default:
			// Short timeout for responsive shutdown
			msg := bus.TimedPop(busPollInterval)
			if msg == nil {
				continue
			}

			switch msg.Type() {
			case gst.MessageEOS:
				return fmt.Errorf("end of stream")

			case gst.MessageError:
				gerr := msg.ParseError()
				category := ClassifyGStreamerError(gerr)
				logger.Error("gstdev: pipeline error",
					"error", gerr.Error(),
					"debug", gerr.DebugString(),
					"category", category.String(),
					"source", msg.Source(),
				)
				return fmt.Errorf("pipeline error [%s]: %w", category, newBusError(gerr))

			case gst.MessageWarning:
				gerr := msg.ParseWarning()
				logger.Warn("gstdev: pipeline warning",
					"warning", gerr.Error(),
					"debug", gerr.DebugString(),
					"source", msg.Source(),
				)

			case gst.MessageStateChanged:
				if msg.Source() == pipeline.GetName() {
					old, new := msg.ParseStateChanged()
					logger.Debug("gstdev: pipeline state changed", "from", old, "to", new)
				}
			}
		}
	}
}
