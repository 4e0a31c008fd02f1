package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// PublisherConfig configures MQTT health reporting
type PublisherConfig struct {
	// Broker is host:port or a full URL (tcp://, ssl://, ws://)
	Broker   string
	Topic    string
	ClientID string
	// Interval between reports (default 10s)
	Interval time.Duration
	QoS      byte
	Logger   *slog.Logger
}

// PublisherStats reports publisher activity
type PublisherStats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// Publisher periodically publishes health reports to an MQTT broker
type Publisher struct {
	cfg    PublisherConfig
	logger *slog.Logger
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewPublisher creates a publisher. Call Connect before Run.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("health: mqtt broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("health: mqtt topic is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "bigeye"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Publisher{cfg: cfg, logger: logger}
	p.client = mqtt.NewClient(p.clientOptions())
	return p, nil
}

func (p *Publisher) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(p.cfg.Broker))
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		p.setConnected(true)
		p.logger.Info("health: mqtt connection established",
			"broker", p.cfg.Broker,
			"client_id", p.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.setConnected(false)
		p.logger.Warn("health: mqtt connection lost, will auto-reconnect",
			"broker", p.cfg.Broker,
			"error", err)
	}
	return opts
}

// brokerURL adds the tcp scheme to a bare host:port
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection
func (p *Publisher) Connect(ctx context.Context) error {
	p.logger.Info("health: connecting to mqtt broker", "broker", p.cfg.Broker)

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	token := p.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("health: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("health: mqtt connection failed: %w", err)
	}

	p.setConnected(true)
	return nil
}

// Run publishes a report every interval until ctx is cancelled. Publish
// failures are logged and counted; the loop keeps going.
func (p *Publisher) Run(ctx context.Context, instance string, src StatsSource) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := p.Publish(NewReport(instance, src.Stats(), time.Now())); err != nil {
			p.logger.Warn("health: publish failed", "topic", p.cfg.Topic, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Publish sends one report
func (p *Publisher) Publish(report Report) error {
	if !p.isConnected() {
		p.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(report)
	if err != nil {
		p.countError()
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		p.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	p.logger.Debug("health: report published",
		"topic", p.cfg.Topic,
		"status", report.Status,
		"size", len(payload))
	return nil
}

// Disconnect closes the broker connection
func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		p.logger.Info("health: mqtt disconnected")
	}
	p.setConnected(false)
}

// Stats returns publisher statistics
func (p *Publisher) Stats() PublisherStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PublisherStats{
		Connected: p.connected,
		Published: p.published,
		Errors:    p.errors,
	}
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *Publisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
