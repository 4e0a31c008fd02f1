package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	bigeyesrc "github.com/Banakin/gst-plugin-bigeye"
	"github.com/Banakin/gst-plugin-bigeye/internal/config"
)

// Version is set at build time
var Version = "dev"

// app carries state shared by all commands of one invocation
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "bigeye",
		Short: "BigEye - live capture source for USB video devices",
		Long: `BigEye captures raw frames from a USB video device and hands them to a
pull-based consumer, always the most recent frame, never a backlog.

Backends:
  • gstreamer  v4l2src pipeline (requires the GStreamer runtime)
  • v4l2       direct V4L2 mmap streaming
  • simulated  synthetic color bars, no hardware needed`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./bigeye.yaml or /etc/bigeye/bigeye.yaml)")
	flags.String("backend", "", "capture backend: gstreamer, v4l2, simulated")
	flags.String("device", "", "device node (default: first node matching the USB ids)")
	flags.String("vendor-id", "", "USB vendor id, 4 hex digits")
	flags.String("product-id", "", "USB product id, 4 hex digits")
	flags.Uint("width", 0, "capture width")
	flags.Uint("height", 0, "capture height")
	flags.Uint("fps", 0, "capture frame rate")
	flags.String("encoding", "", "pixel encoding: yuyv, mjpeg")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")

	for key, flag := range map[string]string{
		"device.backend":    "backend",
		"device.path":       "device",
		"device.vendor_id":  "vendor-id",
		"device.product_id": "product-id",
		"format.width":      "width",
		"format.height":     "height",
		"format.fps":        "fps",
		"format.encoding":   "encoding",
		"log.level":         "log-level",
		"log.format":        "log-format",
	} {
		mustBindPFlag(a.v, key, flags, flag)
	}

	root.AddCommand(
		newCapsCommand(a),
		newDevicesCommand(a),
		newCaptureCommand(a),
		newServeCommand(a),
		newConfigCommand(a),
	)
	return root
}

// mustBindPFlag binds a viper key to a registered flag. A missing flag is
// a programming error, so it panics instead of silently ignoring the flag.
func mustBindPFlag(v *viper.Viper, key string, flags *pflag.FlagSet, name string) {
	if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
		panic(fmt.Sprintf("bigeye: bind flag --%s to %s: %v", name, key, err))
	}
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// load reads the configuration and builds the process logger once
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.Log.NewLogger(cmd.ErrOrStderr())
	slog.SetDefault(a.logger)
	return nil
}

// newDevice builds the configured capture device
func (a *app) newDevice() (bigeyesrc.Device, error) {
	dc := bigeyesrc.DeviceConfig{
		Path:      a.cfg.Device.Path,
		VendorID:  a.cfg.Device.VendorID,
		ProductID: a.cfg.Device.ProductID,
		Logger:    a.logger,
	}

	switch a.cfg.Device.Backend {
	case config.BackendGStreamer:
		return bigeyesrc.NewGStreamerDevice(dc), nil
	case config.BackendV4L2:
		return bigeyesrc.NewV4L2Device(dc), nil
	case config.BackendSimulated:
		return bigeyesrc.NewSimulatedDevice(bigeyesrc.SimulatedDeviceConfig{
			Name:   a.cfg.InstanceID,
			Logger: a.logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", a.cfg.Device.Backend)
	}
}

// newElement builds an element on the configured device, clocked by the
// system monotonic clock
func (a *app) newElement() (*bigeyesrc.Element, error) {
	format, err := a.cfg.Format.CaptureFormat()
	if err != nil {
		return nil, err
	}
	dev, err := a.newDevice()
	if err != nil {
		return nil, err
	}

	elem, err := bigeyesrc.NewElement(bigeyesrc.Config{
		Device: dev,
		Format: format,
		Logger: a.logger,
	})
	if err != nil {
		return nil, err
	}
	elem.SetClock(bigeyesrc.NewSystemClock(), 0)
	return elem, nil
}
