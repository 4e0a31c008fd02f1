// Package config loads the capture host configuration from defaults, an
// optional YAML file, BIGEYE_* environment variables and bound flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	bigeyesrc "github.com/Banakin/gst-plugin-bigeye"
)

// EnvPrefix prefixes environment overrides (BIGEYE_DEVICE_PATH, ...)
const EnvPrefix = "BIGEYE"

// Backends
const (
	BackendGStreamer = "gstreamer"
	BackendV4L2      = "v4l2"
	BackendSimulated = "simulated"
)

// Config represents the complete capture host configuration
type Config struct {
	InstanceID string        `yaml:"instance_id" mapstructure:"instance_id"`
	Device     DeviceConfig  `yaml:"device" mapstructure:"device"`
	Format     FormatConfig  `yaml:"format" mapstructure:"format"`
	Pull       PullConfig    `yaml:"pull" mapstructure:"pull"`
	Log        LogConfig     `yaml:"log" mapstructure:"log"`
	Preview    PreviewConfig `yaml:"preview" mapstructure:"preview"`
	MQTT       MQTTConfig    `yaml:"mqtt" mapstructure:"mqtt"`
}

// DeviceConfig selects the capture device
type DeviceConfig struct {
	Backend   string `yaml:"backend" mapstructure:"backend"`       // gstreamer, v4l2, simulated
	Path      string `yaml:"path" mapstructure:"path"`             // empty = look up by USB id
	VendorID  string `yaml:"vendor_id" mapstructure:"vendor_id"`   // 4 hex digits
	ProductID string `yaml:"product_id" mapstructure:"product_id"` // 4 hex digits
}

// FormatConfig is the fixed capture format
type FormatConfig struct {
	Width    uint   `yaml:"width" mapstructure:"width"`
	Height   uint   `yaml:"height" mapstructure:"height"`
	FPS      uint   `yaml:"fps" mapstructure:"fps"`
	Encoding string `yaml:"encoding" mapstructure:"encoding"` // yuyv, mjpeg
}

// PullConfig controls how hosts pull buffers
type PullConfig struct {
	MaxWait time.Duration `yaml:"max_wait" mapstructure:"max_wait"`
}

// LogConfig controls the process logger
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // text, json
}

// PreviewConfig controls the HTTP preview server
type PreviewConfig struct {
	Listen      string `yaml:"listen" mapstructure:"listen"`
	JPEGQuality int    `yaml:"jpeg_quality" mapstructure:"jpeg_quality"`
}

// MQTTConfig controls health reporting; an empty broker disables it
type MQTTConfig struct {
	Broker   string        `yaml:"broker" mapstructure:"broker"`
	Topic    string        `yaml:"topic" mapstructure:"topic"`
	ClientID string        `yaml:"client_id" mapstructure:"client_id"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// SetDefaults registers every key with its default on v, so environment
// overrides work for keys absent from the file.
func SetDefaults(v *viper.Viper) {
	host, _ := os.Hostname()

	v.SetDefault("instance_id", host)
	v.SetDefault("device.backend", BackendGStreamer)
	v.SetDefault("device.path", "")
	v.SetDefault("device.vendor_id", "")
	v.SetDefault("device.product_id", "")
	v.SetDefault("format.width", bigeyesrc.DefaultFormat.Width)
	v.SetDefault("format.height", bigeyesrc.DefaultFormat.Height)
	v.SetDefault("format.fps", bigeyesrc.DefaultFormat.FrameRate)
	v.SetDefault("format.encoding", "yuyv")
	v.SetDefault("pull.max_wait", time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("preview.listen", ":8080")
	v.SetDefault("preview.jpeg_quality", 80)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "bigeye/health")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.interval", 10*time.Second)
}

// Load reads the configuration into a validated Config. With path empty,
// bigeye.yaml is looked up in the working directory and /etc/bigeye; a
// missing file is not an error. Flags must already be bound on v.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bigeye")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bigeye")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

var usbIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{4}$`)

// Validate checks the configuration for errors
func Validate(cfg *Config) error {
	switch cfg.Device.Backend {
	case BackendGStreamer, BackendV4L2, BackendSimulated:
	default:
		return fmt.Errorf("device.backend must be gstreamer, v4l2 or simulated (got %q)", cfg.Device.Backend)
	}
	if cfg.Device.VendorID != "" && !usbIDPattern.MatchString(cfg.Device.VendorID) {
		return fmt.Errorf("device.vendor_id must be 4 hex digits (got %q)", cfg.Device.VendorID)
	}
	if cfg.Device.ProductID != "" && !usbIDPattern.MatchString(cfg.Device.ProductID) {
		return fmt.Errorf("device.product_id must be 4 hex digits (got %q)", cfg.Device.ProductID)
	}

	if _, err := cfg.Format.CaptureFormat(); err != nil {
		return fmt.Errorf("format: %w", err)
	}

	if cfg.Pull.MaxWait <= 0 {
		return fmt.Errorf("pull.max_wait must be positive (got %s)", cfg.Pull.MaxWait)
	}

	if _, err := parseLevel(cfg.Log.Level); err != nil {
		return err
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json (got %q)", cfg.Log.Format)
	}

	if cfg.Preview.JPEGQuality < 1 || cfg.Preview.JPEGQuality > 100 {
		return fmt.Errorf("preview.jpeg_quality must be in [1,100] (got %d)", cfg.Preview.JPEGQuality)
	}

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topic == "" {
			return fmt.Errorf("mqtt.topic is required when mqtt.broker is set")
		}
		if cfg.MQTT.Interval <= 0 {
			return fmt.Errorf("mqtt.interval must be positive (got %s)", cfg.MQTT.Interval)
		}
	}

	return nil
}

// CaptureFormat converts to the element's fixed format
func (f FormatConfig) CaptureFormat() (bigeyesrc.CaptureFormat, error) {
	enc, err := bigeyesrc.ParseEncoding(f.Encoding)
	if err != nil {
		return bigeyesrc.CaptureFormat{}, err
	}
	format := bigeyesrc.CaptureFormat{
		Width:     f.Width,
		Height:    f.Height,
		FrameRate: f.FPS,
		Encoding:  enc,
	}
	if err := format.Validate(); err != nil {
		return bigeyesrc.CaptureFormat{}, err
	}
	return format, nil
}

func parseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level must be debug, info, warn or error (got %q)", level)
	}
}

// NewLogger builds the process logger writing to w
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := parseLevel(l.Level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Render returns the configuration as YAML
func Render(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}

// MarshalYAML renders max_wait as a duration string
func (p PullConfig) MarshalYAML() (any, error) {
	return struct {
		MaxWait string `yaml:"max_wait"`
	}{p.MaxWait.String()}, nil
}

// MarshalYAML renders interval as a duration string
func (m MQTTConfig) MarshalYAML() (any, error) {
	return struct {
		Broker   string `yaml:"broker"`
		Topic    string `yaml:"topic"`
		ClientID string `yaml:"client_id"`
		Interval string `yaml:"interval"`
	}{m.Broker, m.Topic, m.ClientID, m.Interval.String()}, nil
}
