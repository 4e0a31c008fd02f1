package gstdev

import (
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// onNewSample is called by GStreamer on the streaming thread when a new
// frame is available.
//
// This callback:
//  1. Pulls the sample from the appsink
//  2. Maps the buffer and copies the bytes (GStreamer reuses the buffer)
//  3. Hands the copy to the session's frame callback
//
// Returns gst.FlowOK for bad samples too: a single corrupted frame should
// not kill the pipeline. After Close it returns FlowFlushing.
func (s *session) onNewSample(sink *app.Sink) gst.FlowReturn {
	if s.closed.Load() {
		return gst.FlowFlushing
	}

	sample := sink.PullSample()
	if sample == nil {
		s.logger.Warn("gstdev: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		s.logger.Warn("gstdev: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		s.logger.Warn("gstdev: empty buffer received")
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	s.samples.Add(1)

	if onFrame := s.onFrame.Load(); onFrame != nil {
		(*onFrame)(frameData)
	}
	return gst.FlowOK
}
