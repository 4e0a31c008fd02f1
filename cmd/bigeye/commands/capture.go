package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	bigeyesrc "github.com/Banakin/gst-plugin-bigeye"
	"github.com/Banakin/gst-plugin-bigeye/internal/preview"
)

type captureOptions struct {
	count         int
	outputDir     string
	jpeg          bool
	statsInterval time.Duration
	quiet         bool
}

func newCaptureCommand(a *app) *cobra.Command {
	var opts captureOptions

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Pull frames from the device and optionally save them",
		Long: `Start the element, pull buffers until --count is reached, the device goes
silent (end-of-stream) or Ctrl+C, then print capture statistics.`,
		Example: `  # Pull 100 frames from the first matching USB camera
  bigeye capture --count 100

  # Save frames as JPEG from /dev/video2
  bigeye capture --device /dev/video2 --output ./frames --jpeg

  # No hardware: simulated color bars
  bigeye capture --backend simulated --count 30`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runCapture(ctx, cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&opts.count, "count", "n", 30, "frames to pull (0 = until interrupted)")
	flags.StringVarP(&opts.outputDir, "output", "o", "", "directory to save frames (optional)")
	flags.BoolVar(&opts.jpeg, "jpeg", false, "save YUYV frames as JPEG instead of raw")
	flags.DurationVar(&opts.statsInterval, "stats-interval", 10*time.Second, "interval between stats reports")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print a line per frame")
	return cmd
}

func (a *app) runCapture(ctx context.Context, out io.Writer, opts captureOptions) error {
	if opts.outputDir != "" {
		if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	elem, err := a.newElement()
	if err != nil {
		return err
	}

	a.logger.Info("bigeye: starting capture", "caps", elem.Caps(), "max_wait", a.cfg.Pull.MaxWait)
	if err := elem.Start(); err != nil {
		return err
	}
	defer func() {
		if err := elem.Stop(); err != nil {
			a.logger.Error("bigeye: stop failed", "error", err)
		}
	}()

	// Ctrl+C wakes a blocked pull
	unlock := context.AfterFunc(ctx, elem.Unlock)
	defer unlock()

	fmt.Fprintf(out, "Capturing %s from %s\n", elem.Caps(), elem.Stats().Device)
	fmt.Fprintf(out, "Press Ctrl+C to stop\n")
	fmt.Fprintf(out, "═══════════════════════════════════════════════════════════\n\n")

	start := time.Now()
	lastReport := start
	pulled, saved := 0, 0

	for opts.count == 0 || pulled < opts.count {
		buf, err := elem.Pull(a.cfg.Pull.MaxWait)
		switch {
		case err == nil:
		case errors.Is(err, bigeyesrc.ErrCancelled):
			fmt.Fprintf(out, "\nInterrupted, stopping...\n")
			goto done
		case errors.Is(err, bigeyesrc.ErrEndOfStream):
			fmt.Fprintf(out, "\nNo frame within %s, device went silent\n", a.cfg.Pull.MaxWait)
			goto done
		default:
			return err
		}

		pulled++
		if !opts.quiet {
			fmt.Fprintf(out, "[%s] Frame #%-6d | Seq: %-8d | Size: %7.1f KB | PTS: %s\n",
				time.Now().Format("15:04:05"),
				pulled,
				buf.Seq,
				float64(len(buf.Payload))/1024,
				buf.PTS.Round(time.Millisecond),
			)
		}

		if opts.outputDir != "" {
			if err := saveBuffer(opts.outputDir, elem.Format(), buf, opts.jpeg); err != nil {
				a.logger.Error("bigeye: failed to save frame", "seq", buf.Seq, "error", err)
			} else {
				saved++
			}
		}

		if opts.statsInterval > 0 && time.Since(lastReport) >= opts.statsInterval {
			printStats(out, elem.Stats())
			lastReport = time.Now()
		}
	}

done:
	stats := elem.Stats()
	fmt.Fprintf(out, "\n")
	fmt.Fprintf(out, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(out, "                     Final Statistics                      \n")
	fmt.Fprintf(out, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(out, "  Total Time:         %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(out, "  Frames Pulled:      %d frames\n", pulled)
	if opts.outputDir != "" {
		fmt.Fprintf(out, "  Frames Saved:       %d frames\n", saved)
	}
	fmt.Fprintf(out, "  Frames Captured:    %d frames\n", stats.FramesCaptured)
	fmt.Fprintf(out, "  Frames Dropped:     %d frames (%.1f%%)\n", stats.FramesDropped, stats.DropRate)
	fmt.Fprintf(out, "  Average FPS:        %.2f fps\n", stats.FPSReal)
	fmt.Fprintf(out, "  Bytes Captured:     %.2f MB\n", float64(stats.BytesCaptured)/1024/1024)
	fmt.Fprintf(out, "═══════════════════════════════════════════════════════════\n")
	return nil
}

func printStats(out io.Writer, stats bigeyesrc.Stats) {
	fmt.Fprintf(out, "\n")
	fmt.Fprintf(out, "╭─────────────────────────────────────────────────────────╮\n")
	fmt.Fprintf(out, "│ Capture Statistics (Uptime: %s)\n", stats.Uptime.Round(time.Second))
	fmt.Fprintf(out, "├─────────────────────────────────────────────────────────┤\n")
	fmt.Fprintf(out, "│ Frames Captured:    %6d frames\n", stats.FramesCaptured)
	fmt.Fprintf(out, "│ Frames Pulled:      %6d frames\n", stats.FramesPulled)
	if stats.FramesDropped > 0 {
		fmt.Fprintf(out, "│ Mailbox Drops:      %6d frames (%.1f%%)\n", stats.FramesDropped, stats.DropRate)
	}
	fmt.Fprintf(out, "│ Target FPS:         %6.2f fps\n", stats.FPSTarget)
	fmt.Fprintf(out, "│ Real FPS:           %6.2f fps\n", stats.FPSReal)
	fmt.Fprintf(out, "│ Jitter:             %6.2f ms\n", stats.JitterMS)
	fmt.Fprintf(out, "│ Stable:             %6v\n", stats.IsStable)
	fmt.Fprintf(out, "│ Last Frame Age:     %6d ms\n", stats.LatencyMS)
	fmt.Fprintf(out, "╰─────────────────────────────────────────────────────────╯\n")
	fmt.Fprintf(out, "\n")
}

// saveBuffer writes one buffer: MJPEG as .jpg, YUYV raw as .yuyv or
// converted to .jpg
func saveBuffer(dir string, format bigeyesrc.CaptureFormat, buf *bigeyesrc.OutputBuffer, asJPEG bool) error {
	data, ext := buf.Payload, "yuyv"
	switch {
	case format.Encoding == bigeyesrc.EncodingMJPEG:
		ext = "jpg"
	case asJPEG:
		var err error
		if data, err = preview.Render(format, buf.Payload, preview.RenderOptions{Quality: 90}); err != nil {
			return err
		}
		ext = "jpg"
	}

	name := fmt.Sprintf("frame_%06d_%s.%s", buf.Seq, buf.CapturedAt.Format("20060102_150405.000"), ext)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}
