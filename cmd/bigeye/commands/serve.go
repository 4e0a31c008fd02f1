package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Banakin/gst-plugin-bigeye/internal/health"
	"github.com/Banakin/gst-plugin-bigeye/internal/metrics"
	"github.com/Banakin/gst-plugin-bigeye/internal/preview"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a live preview with metrics and health reporting",
		Long: `Start the element and serve over HTTP:

  /stream.mjpg    MJPEG live stream
  /snapshot.jpg   latest frame (?width=N scales, ?overlay=1 labels)
  /api/stats      element statistics (JSON), /api/stats/ws pushes them
  /api/caps       caps and element metadata
  /health         health report (503 when not streaming)
  /metrics        Prometheus metrics

With mqtt.broker set, a health report is also published every mqtt.interval.`,
		Example: `  # Preview the first matching USB camera on :8080
  bigeye serve

  # Custom address, publish health to a local broker
  bigeye serve --listen :9090 --mqtt-broker localhost:1883`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runServe(ctx, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.String("listen", "", "HTTP listen address (default :8080)")
	flags.String("mqtt-broker", "", "MQTT broker for health reports (host:port or URL)")
	flags.String("mqtt-topic", "", "MQTT health topic")
	mustBindPFlag(a.v, "preview.listen", flags, "listen")
	mustBindPFlag(a.v, "mqtt.broker", flags, "mqtt-broker")
	mustBindPFlag(a.v, "mqtt.topic", flags, "mqtt-topic")
	return cmd
}

func (a *app) runServe(ctx context.Context, out io.Writer) error {
	elem, err := a.newElement()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := preview.New(preview.Config{
		Source:   elem,
		Instance: a.cfg.InstanceID,
		Metrics:  metrics.New(reg, elem),
		Gatherer: reg,
		Quality:  a.cfg.Preview.JPEGQuality,
		PullWait: a.cfg.Pull.MaxWait,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}

	var publisher *health.Publisher
	if a.cfg.MQTT.Broker != "" {
		clientID := a.cfg.MQTT.ClientID
		if clientID == "" {
			clientID = "bigeye-" + a.cfg.InstanceID
		}
		publisher, err = health.NewPublisher(health.PublisherConfig{
			Broker:   a.cfg.MQTT.Broker,
			Topic:    a.cfg.MQTT.Topic,
			ClientID: clientID,
			Interval: a.cfg.MQTT.Interval,
			Logger:   a.logger,
		})
		if err != nil {
			return err
		}
		if err := publisher.Connect(ctx); err != nil {
			return err
		}
		defer publisher.Disconnect()
	}

	if err := elem.Start(); err != nil {
		return err
	}
	defer func() {
		if err := elem.Stop(); err != nil {
			a.logger.Error("bigeye: stop failed", "error", err)
		}
	}()

	fmt.Fprintf(out, "✅ BigEye is serving %s\n", elem.Caps())
	fmt.Fprintf(out, "   - Stream:  http://localhost%s/stream.mjpg\n", a.cfg.Preview.Listen)
	fmt.Fprintf(out, "   - Stats:   http://localhost%s/api/stats\n", a.cfg.Preview.Listen)
	fmt.Fprintf(out, "   - Metrics: http://localhost%s/metrics\n", a.cfg.Preview.Listen)
	if publisher != nil {
		fmt.Fprintf(out, "   - Health:  mqtt %s → %s\n", a.cfg.MQTT.Broker, a.cfg.MQTT.Topic)
	}
	fmt.Fprintf(out, "   - Press Ctrl+C to stop\n")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if publisher != nil {
		go publisher.Run(ctx, a.cfg.InstanceID, elem)
	}

	// The pull loop ends on cancel or device failure; either way stop serving
	pullErr := make(chan error, 1)
	go func() {
		err := srv.Run(ctx)
		cancel()
		pullErr <- err
	}()

	serveErr := srv.ListenAndServe(ctx, a.cfg.Preview.Listen)
	cancel()
	if err := <-pullErr; err != nil {
		return err
	}
	return serveErr
}
