package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	bigeyesrc "github.com/Banakin/gst-plugin-bigeye"
)

func newCapsCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "caps",
		Short: "Show element metadata and advertised caps",
		Long: `Show the element's registration metadata and the single caps description
it advertises for the configured capture format. The device is not opened.`,
		Example: `  # Default format (640x480 @ 30 YUYV)
  bigeye caps

  # MJPEG at 720p
  bigeye caps --width 1280 --height 720 --encoding mjpeg --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.cfg.Format.CaptureFormat()
			if err != nil {
				return err
			}
			md := bigeyesrc.Metadata()
			caps := bigeyesrc.SupportedCaps(format)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Metadata     bigeyesrc.ElementMetadata `json:"metadata"`
					Caps         string                    `json:"caps"`
					Live         bool                      `json:"live"`
					Seekable     bool                      `json:"seekable"`
					MinLatencyNS int64                     `json:"min_latency_ns"`
					FrameBytes   int                       `json:"frame_bytes,omitempty"`
				}{
					Metadata:     md,
					Caps:         caps,
					Live:         true,
					MinLatencyNS: int64(format.FrameDuration()),
					FrameBytes:   format.FrameSize(),
				})
			}

			fmt.Fprintf(out, "Element:      %s\n", md.LongName)
			fmt.Fprintf(out, "Klass:        %s\n", md.Klass)
			fmt.Fprintf(out, "Description:  %s\n", md.Description)
			fmt.Fprintf(out, "Author:       %s\n", md.Author)
			fmt.Fprintf(out, "Live:         yes (not seekable)\n")
			fmt.Fprintf(out, "Min latency:  %s\n", format.FrameDuration())
			fmt.Fprintf(out, "Caps:         %s\n", caps)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
