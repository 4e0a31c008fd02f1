package gstdev

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/Banakin/gst-plugin-bigeye/internal/capture"
)

// PipelineConfig contains configuration for capture pipeline creation
type PipelineConfig struct {
	// Device is the V4L2 node, e.g. /dev/video0
	Device string
	// Format is locked with a capsfilter right after the source
	Format capture.Format
	// Name is used as the pipeline name (appears in bus messages)
	Name string
	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// PipelineElements holds references to the elements needed at runtime
type PipelineElements struct {
	Pipeline   *gst.Pipeline
	Source     *gst.Element
	CapsFilter *gst.Element
	AppSink    *app.Sink
}

// CreatePipeline builds the capture pipeline:
//
//	v4l2src device=<dev> → capsfilter(<fixed caps>) → appsink
//
// No decoder and no videorate: the device delivers the fixed format and
// the appsink keeps only the latest buffer (max-buffers=1, drop=true), the
// same overwrite policy as the mailbox downstream.
//
// The pipeline is configured but NOT started (state remains NULL).
func CreatePipeline(cfg PipelineConfig) (*PipelineElements, error) {
	// Safe to call multiple times
	gst.Init(nil)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pipeline, err := gst.NewPipeline(cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	source, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("failed to create v4l2src (gst-plugins-good missing?): %w", err)
	}
	source.SetProperty("device", cfg.Device)
	// Live timestamps come from the element clock, not from the driver
	source.SetProperty("do-timestamp", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(cfg.Format.Caps()))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)    // No sync with clock (real-time)
	appsink.SetProperty("max-buffers", 1) // Keep only latest frame
	appsink.SetProperty("drop", true)     // Drop old frames

	if err := pipeline.AddMany(source, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(source, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	logger.Debug("gstdev: pipeline created",
		"device", cfg.Device,
		"caps", cfg.Format.Caps(),
	)

	return &PipelineElements{
		Pipeline:   pipeline,
		Source:     source,
		CapsFilter: capsfilter,
		AppSink:    appsink,
	}, nil
}

// DestroyPipeline sets the pipeline to NULL, which stops the streaming
// thread and closes the device. Safe on a nil or already destroyed pipeline.
func DestroyPipeline(elements *PipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}

	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}
