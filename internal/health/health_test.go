package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	bigeyesrc "github.com/Banakin/gst-plugin-bigeye"
)

func TestEvaluate(t *testing.T) {
	streaming := bigeyesrc.Stats{
		State:          bigeyesrc.StateStreaming,
		FramesCaptured: 300,
		FPSTarget:      30,
		IsStable:       true,
		LatencyMS:      20,
		Uptime:         10 * time.Second,
	}

	tests := []struct {
		name       string
		mutate     func(s *bigeyesrc.Stats)
		wantStatus string
		wantReason string
	}{
		{"healthy", func(s *bigeyesrc.Stats) {}, StatusHealthy, ""},
		{"stale frames", func(s *bigeyesrc.Stats) { s.LatencyMS = 200 }, StatusDegraded, "stale frames"},
		{"unstable", func(s *bigeyesrc.Stats) { s.IsStable = false }, StatusDegraded, "unstable cadence"},
		{"drops", func(s *bigeyesrc.Stats) { s.DropRate = 75 }, StatusDegraded, "high drop rate"},
		{"silent device", func(s *bigeyesrc.Stats) { s.FramesCaptured = 0 }, StatusDegraded, "no frames captured"},
		{"just started", func(s *bigeyesrc.Stats) { s.FramesCaptured = 0; s.Uptime = 100 * time.Millisecond }, StatusHealthy, ""},
		{"stopped", func(s *bigeyesrc.Stats) { s.State = bigeyesrc.StateStopped }, StatusUnhealthy, "state stopped"},
		{"errored", func(s *bigeyesrc.Stats) {
			s.State = bigeyesrc.StateErrored
			s.LastError = "device unplugged"
		}, StatusUnhealthy, "state errored: device unplugged"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := streaming
			tt.mutate(&stats)

			status, reasons := Evaluate(stats)
			if status != tt.wantStatus {
				t.Errorf("status = %s, want %s (reasons %v)", status, tt.wantStatus, reasons)
			}
			if tt.wantReason == "" {
				if len(reasons) != 0 {
					t.Errorf("reasons = %v, want none", reasons)
				}
				return
			}
			if len(reasons) != 1 || reasons[0] != tt.wantReason {
				t.Errorf("reasons = %v, want [%s]", reasons, tt.wantReason)
			}
		})
	}
}

type fixedStats bigeyesrc.Stats

func (f fixedStats) Stats() bigeyesrc.Stats { return bigeyesrc.Stats(f) }

func TestHandler(t *testing.T) {
	tests := []struct {
		state bigeyesrc.SessionState
		want  int
	}{
		{bigeyesrc.StateStreaming, http.StatusOK},
		{bigeyesrc.StateErrored, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			h := Handler("cam-1", fixedStats{State: tt.state})
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest("GET", "/health", nil))

			if rec.Code != tt.want {
				t.Errorf("status code = %d, want %d", rec.Code, tt.want)
			}
			var report Report
			if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if report.Instance != "cam-1" {
				t.Errorf("instance = %q", report.Instance)
			}
		})
	}
}

// fakeToken completes immediately with err
type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeClient records publishes; unused methods panic through the nil
// embedded interface
type fakeClient struct {
	mqtt.Client

	mu       sync.Mutex
	err      error
	messages []fakeMessage
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (c *fakeClient) Connect() mqtt.Token { return fakeToken{} }
func (c *fakeClient) IsConnected() bool   { return true }
func (c *fakeClient) Disconnect(uint)     {}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.messages = append(c.messages, fakeMessage{topic, payload.([]byte)})
	}
	return fakeToken{err: c.err}
}

func (c *fakeClient) published() []fakeMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fakeMessage(nil), c.messages...)
}

func newTestPublisher(t *testing.T, client *fakeClient) *Publisher {
	t.Helper()
	p, err := NewPublisher(PublisherConfig{
		Broker:   "localhost:1883",
		Topic:    "bigeye/cam-1/health",
		Interval: 10 * time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	p.client = client
	return p
}

func TestNewPublisher_Validation(t *testing.T) {
	if _, err := NewPublisher(PublisherConfig{Topic: "x"}); err == nil {
		t.Error("NewPublisher() without broker succeeded")
	}
	if _, err := NewPublisher(PublisherConfig{Broker: "localhost:1883"}); err == nil {
		t.Error("NewPublisher() without topic succeeded")
	}
}

func TestBrokerURL(t *testing.T) {
	tests := map[string]string{
		"localhost:1883":        "tcp://localhost:1883",
		"ssl://broker:8883":     "ssl://broker:8883",
		"ws://broker:9001/mqtt": "ws://broker:9001/mqtt",
	}
	for in, want := range tests {
		if got := brokerURL(in); got != want {
			t.Errorf("brokerURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPublisher_NotConnected(t *testing.T) {
	p := newTestPublisher(t, &fakeClient{})

	if err := p.Publish(Report{Status: StatusHealthy}); err == nil {
		t.Error("Publish() before Connect succeeded")
	}
	if got := p.Stats().Errors; got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
}

func TestPublisher_Publish(t *testing.T) {
	client := &fakeClient{}
	p := newTestPublisher(t, client)
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	report := NewReport("cam-1", bigeyesrc.Stats{State: bigeyesrc.StateStreaming}, time.Now())
	if err := p.Publish(report); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msgs := client.published()
	if len(msgs) != 1 || msgs[0].topic != "bigeye/cam-1/health" {
		t.Fatalf("published = %+v", msgs)
	}
	var got map[string]any
	if err := json.Unmarshal(msgs[0].payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got["status"] != StatusHealthy || got["instance"] != "cam-1" {
		t.Errorf("payload = %v", got)
	}
	if stats, _ := got["stats"].(map[string]any); stats["state"] != "streaming" {
		t.Errorf("payload stats = %v", got["stats"])
	}

	client.err = errors.New("broker gone")
	if err := p.Publish(report); err == nil {
		t.Error("Publish() with failing token succeeded")
	}
	if s := p.Stats(); s.Published != 1 || s.Errors != 1 {
		t.Errorf("Stats() = %+v, want 1 published 1 error", s)
	}
}

func TestPublisher_Run(t *testing.T) {
	client := &fakeClient{}
	p := newTestPublisher(t, client)
	p.Connect(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, "cam-1", fixedStats{State: bigeyesrc.StateStreaming})
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for len(client.published()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("published %d reports within 1s, want 3", len(client.published()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	p.Disconnect()
	if p.Stats().Connected {
		t.Error("Connected after Disconnect")
	}
}
