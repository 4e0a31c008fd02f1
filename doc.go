// Package bigeyesrc provides a live video capture source for pull-based
// media pipelines.
//
// A capture device pushes frames asynchronously from its own thread; the
// hosting pipeline pulls buffers when it is ready for one. The element
// bridges the two with a single-slot mailbox: each new frame overwrites
// the one not yet pulled, so a pull always gets the most recent frame and
// never a historical one.
//
// # Quick Start
//
//	dev := bigeyesrc.NewGStreamerDevice(bigeyesrc.DeviceConfig{Path: "/dev/video0"})
//
//	elem, err := bigeyesrc.NewElement(bigeyesrc.Config{
//	    Device: dev,
//	    Format: bigeyesrc.DefaultFormat, // 640x480 @ 30 YUYV
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	elem.SetClock(bigeyesrc.NewSystemClock(), 0)
//
//	if err := elem.Start(); err != nil {
//	    log.Fatal(err) // errors.Is(err, bigeyesrc.ErrDeviceBusy) etc.
//	}
//	defer elem.Stop()
//
//	for {
//	    buf, err := elem.Pull(100 * time.Millisecond)
//	    if errors.Is(err, bigeyesrc.ErrEndOfStream) {
//	        break // device went silent
//	    }
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    process(buf.Payload, buf.PTS, buf.Duration)
//	}
//
// # Lifecycle
//
//	Idle ──Negotiate──▶ Negotiated ──Start──▶ Streaming ──Stop──▶ Stopped
//	  │                                  │          │
//	  └──────────────Start───────────────┘          └─device error─▶ Errored
//
// Any failing Start step moves the element to Errored with no device
// handle left open. There are no internal retries: the caller decides
// whether to Start again.
//
// # Devices
//
// Three backends implement Device:
//
//   - NewGStreamerDevice: v4l2src → capsfilter → appsink (requires gstreamer1.0)
//   - NewV4L2Device: direct V4L2 mmap streaming, no GStreamer runtime
//   - NewSimulatedDevice: synthetic color bars, for tests and demos
//
// Devices are selected by node path, or by USB vendor/product id (first
// matching node). Default ids are set at build time with -ldflags on
// internal/usbid.DefaultVendor and DefaultProduct.
//
// # Timestamps
//
// Each buffer's PTS is the pipeline clock's running time at pull minus
// the base time given to SetClock, clamped to zero. Without a clock the
// buffer is left without PTS (PTSValid false). Duration is one frame at
// the negotiated rate.
//
// # Hosts
//
// cmd/bigeye drives the element without a media framework: "capture"
// pulls a number of buffers to disk, "serve" exposes a live MJPEG
// preview with Prometheus metrics and health reporting.
package bigeyesrc
