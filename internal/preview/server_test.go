package preview

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	bigeyesrc "github.com/Banakin/gst-plugin-bigeye"
	"github.com/Banakin/gst-plugin-bigeye/internal/metrics"
	"github.com/Banakin/gst-plugin-bigeye/internal/simdev"
)

var testFormat = bigeyesrc.CaptureFormat{Width: 64, Height: 48, FrameRate: 30, Encoding: bigeyesrc.EncodingYUYV}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	elem   *bigeyesrc.Element
	server *Server
	http   *httptest.Server
	cancel context.CancelFunc
	done   chan error
}

// startEnv runs a preview over a generated 64x48 stream
func startEnv(t *testing.T) *testEnv {
	t.Helper()

	dev := bigeyesrc.NewSimulatedDevice(bigeyesrc.SimulatedDeviceConfig{Logger: quietLogger()})
	elem, err := bigeyesrc.NewElement(bigeyesrc.Config{Device: dev, Format: testFormat, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewElement() error = %v", err)
	}
	if err := elem.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	reg := prometheus.NewRegistry()
	srv, err := New(Config{
		Source:        elem,
		Metrics:       metrics.New(reg, elem),
		Gatherer:      reg,
		PullWait:      50 * time.Millisecond,
		StatsInterval: 20 * time.Millisecond,
		Logger:        quietLogger(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	env := &testEnv{
		elem:   elem,
		server: srv,
		http:   httptest.NewServer(srv.Handler()),
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { env.done <- srv.Run(ctx) }()

	t.Cleanup(func() {
		env.http.Close()
		cancel()
		<-env.done
		elem.Stop()
	})
	return env
}

// waitForFrame polls until the pull loop has published a frame
func (e *testEnv) waitForFrame(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for e.server.latestFrame() == nil {
		if time.Now().After(deadline) {
			t.Fatal("no frame published within 2s")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDecode_YUYV(t *testing.T) {
	payload, err := simdev.Pattern(testFormat, 0)
	if err != nil {
		t.Fatal(err)
	}

	img, err := Decode(testFormat, payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	ycc, ok := img.(*image.YCbCr)
	if !ok {
		t.Fatalf("Decode() returned %T, want *image.YCbCr", img)
	}
	if ycc.Bounds() != image.Rect(0, 0, 64, 48) {
		t.Errorf("Bounds() = %v", ycc.Bounds())
	}

	// 8 bars of 8 pixels: white then yellow
	if got := ycc.Y[ycc.YOffset(0, 10)]; got != 180 {
		t.Errorf("Y(0,10) = %d, want 180", got)
	}
	if got := ycc.Y[ycc.YOffset(8, 10)]; got != 162 {
		t.Errorf("Y(8,10) = %d, want 162", got)
	}
	if got := ycc.Cb[ycc.COffset(8, 10)]; got != 44 {
		t.Errorf("Cb(8,10) = %d, want 44", got)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		format  bigeyesrc.CaptureFormat
		payload []byte
	}{
		{"short yuyv", testFormat, make([]byte, 100)},
		{"odd width", bigeyesrc.CaptureFormat{Width: 63, Height: 48, FrameRate: 30}, make([]byte, 63*48*2)},
		{"bad jpeg", bigeyesrc.CaptureFormat{Width: 64, Height: 48, FrameRate: 30, Encoding: bigeyesrc.EncodingMJPEG}, []byte{0xff, 0xd8, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.format, tt.payload); err == nil {
				t.Error("Decode() succeeded, want error")
			}
		})
	}
}

func TestRender(t *testing.T) {
	mjpegFormat := testFormat
	mjpegFormat.Encoding = bigeyesrc.EncodingMJPEG
	mjpegPayload, err := simdev.Pattern(mjpegFormat, 0)
	if err != nil {
		t.Fatal(err)
	}
	yuyvPayload, _ := simdev.Pattern(testFormat, 0)

	// MJPEG at native size passes through untouched
	out, err := Render(mjpegFormat, mjpegPayload, RenderOptions{})
	if err != nil || !bytes.Equal(out, mjpegPayload) {
		t.Errorf("Render(mjpeg native) did not pass through (err %v)", err)
	}

	tests := []struct {
		name    string
		format  bigeyesrc.CaptureFormat
		payload []byte
		opts    RenderOptions
		wantW   int
		wantH   int
	}{
		{"yuyv native", testFormat, yuyvPayload, RenderOptions{}, 64, 48},
		{"yuyv scaled", testFormat, yuyvPayload, RenderOptions{Width: 32}, 32, 24},
		{"yuyv labelled", testFormat, yuyvPayload, RenderOptions{Label: "#1"}, 64, 48},
		{"mjpeg scaled", mjpegFormat, mjpegPayload, RenderOptions{Width: 128, Label: "#2"}, 128, 96},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Render(tt.format, tt.payload, tt.opts)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
			if err != nil {
				t.Fatalf("output is not a JPEG: %v", err)
			}
			if cfg.Width != tt.wantW || cfg.Height != tt.wantH {
				t.Errorf("output %dx%d, want %dx%d", cfg.Width, cfg.Height, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestNew_RequiresSource(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without source succeeded")
	}
}

func TestServer_Snapshot(t *testing.T) {
	env := startEnv(t)
	env.waitForFrame(t)

	tests := []struct {
		query      string
		wantStatus int
		wantWidth  int
	}{
		{"", http.StatusOK, 64},
		{"?width=32", http.StatusOK, 32},
		{"?width=32&overlay=true", http.StatusOK, 32},
		{"?width=abc", http.StatusBadRequest, 0},
		{"?width=-5", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, err := http.Get(env.http.URL + "/snapshot.jpg" + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if resp.Header.Get("X-Frame-Seq") == "" {
				t.Error("missing X-Frame-Seq header")
			}
			cfg, err := jpeg.DecodeConfig(resp.Body)
			if err != nil {
				t.Fatalf("body is not a JPEG: %v", err)
			}
			if cfg.Width != tt.wantWidth {
				t.Errorf("width = %d, want %d", cfg.Width, tt.wantWidth)
			}
		})
	}
}

func TestServer_SnapshotBeforeFirstFrame(t *testing.T) {
	dev := bigeyesrc.NewSimulatedDevice(bigeyesrc.SimulatedDeviceConfig{Manual: true, Logger: quietLogger()})
	elem, _ := bigeyesrc.NewElement(bigeyesrc.Config{Device: dev, Format: testFormat, Logger: quietLogger()})
	srv, err := New(Config{Source: elem, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/snapshot.jpg", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}

	// No Gatherer: /metrics is not routed
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("/metrics status = %d, want 404", rec.Code)
	}
}

func TestServer_Stream(t *testing.T) {
	env := startEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", env.http.URL+"/stream.mjpg", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended before a frame: %v", err)
		}
		if line == "--frame\r\n" {
			break
		}
	}
	header, _ := reader.ReadString('\n')
	if header != "Content-Type: image/jpeg\r\n" {
		t.Errorf("part header = %q", header)
	}
	t.Logf("✅ received MJPEG part")
}

func TestServer_StatsAndCaps(t *testing.T) {
	env := startEnv(t)
	env.waitForFrame(t)

	resp, err := http.Get(env.http.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	var stats map[string]any
	json.NewDecoder(resp.Body).Decode(&stats)
	resp.Body.Close()

	if stats["state"] != "streaming" {
		t.Errorf("state = %v, want streaming", stats["state"])
	}
	if n, _ := stats["frames_pulled"].(float64); n < 1 {
		t.Errorf("frames_pulled = %v, want >= 1", stats["frames_pulled"])
	}
	if _, ok := stats["clients"]; !ok {
		t.Error("stats missing clients")
	}

	resp, err = http.Get(env.http.URL + "/api/caps")
	if err != nil {
		t.Fatal(err)
	}
	var caps struct {
		Caps     string `json:"caps"`
		Metadata struct {
			Klass string `json:"klass"`
		} `json:"metadata"`
	}
	json.NewDecoder(resp.Body).Decode(&caps)
	resp.Body.Close()

	if want := "video/x-raw,format=YUY2,width=64,height=48,framerate=30/1"; caps.Caps != want {
		t.Errorf("caps = %q, want %q", caps.Caps, want)
	}
	if caps.Metadata.Klass != "Source/Video" {
		t.Errorf("klass = %q", caps.Metadata.Klass)
	}

	resp, err = http.Get(env.http.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_StatsWebSocket(t *testing.T) {
	env := startEnv(t)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/stats/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 2; i++ {
		var stats map[string]any
		if err := conn.ReadJSON(&stats); err != nil {
			t.Fatalf("ReadJSON() #%d error = %v", i, err)
		}
		if stats["state"] != "streaming" {
			t.Errorf("state = %v, want streaming", stats["state"])
		}
	}
}

func TestServer_Metrics(t *testing.T) {
	env := startEnv(t)
	env.waitForFrame(t)

	resp, err := http.Get(env.http.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	for _, name := range []string{
		"bigeye_frames_captured_total",
		`bigeye_pulls_total{result="ok"}`,
		`bigeye_state{state="streaming"} 1`,
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("/metrics missing %s", name)
		}
	}
}

func TestRun_ReturnsOnCancel(t *testing.T) {
	env := startEnv(t)
	env.waitForFrame(t)

	env.cancel()
	select {
	case err := <-env.done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
		env.done <- nil // for cleanup
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRun_ReturnsOnDeviceFailure(t *testing.T) {
	dev := bigeyesrc.NewSimulatedDevice(bigeyesrc.SimulatedDeviceConfig{Manual: true, Logger: quietLogger()})
	elem, _ := bigeyesrc.NewElement(bigeyesrc.Config{Device: dev, Format: testFormat, Logger: quietLogger()})
	if err := elem.Start(); err != nil {
		t.Fatal(err)
	}
	defer elem.Stop()

	srv, _ := New(Config{Source: elem, PullWait: 20 * time.Millisecond, Logger: quietLogger()})
	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()

	dev.Fail(io.ErrUnexpectedEOF)

	select {
	case err := <-done:
		if err == nil {
			t.Error("Run() returned nil after device failure")
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after device failure")
	}
}
