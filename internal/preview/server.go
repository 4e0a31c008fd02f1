// Package preview serves a live view of a capture element over HTTP: an
// MJPEG stream, JPEG snapshots, statistics (JSON and websocket) and
// Prometheus metrics.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	bigeyesrc "github.com/Banakin/gst-plugin-bigeye"
	"github.com/Banakin/gst-plugin-bigeye/internal/health"
	"github.com/Banakin/gst-plugin-bigeye/internal/metrics"
)

// Source is the part of the element the preview drives
type Source interface {
	Pull(maxWait time.Duration) (*bigeyesrc.OutputBuffer, error)
	Unlock()
	Format() bigeyesrc.CaptureFormat
	Caps() string
	Stats() bigeyesrc.Stats
}

// Config configures a preview server
type Config struct {
	Source Source
	// Instance names this capture in health reports
	Instance string

	// Metrics records pull outcomes (optional)
	Metrics *metrics.Metrics
	// Gatherer, if set, is served at /metrics
	Gatherer prometheus.Gatherer

	// Quality is the JPEG quality for stream frames (default 80)
	Quality int
	// PullWait bounds each Pull (default 200ms)
	PullWait time.Duration
	// StatsInterval is the websocket push period (default 1s)
	StatsInterval time.Duration

	Logger *slog.Logger
}

// Server pulls frames from a Source and serves them over HTTP
type Server struct {
	src      Source
	metrics  *metrics.Metrics
	quality  int
	pullWait time.Duration
	interval time.Duration
	logger   *slog.Logger

	router   *mux.Router
	upgrader websocket.Upgrader

	frameMu sync.RWMutex
	latest  *bigeyesrc.OutputBuffer

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	framesServed atomic.Uint64
}

// New creates a preview server. Call Run to start pulling.
func New(cfg Config) (*Server, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("preview: source is required")
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 80
	}
	if cfg.PullWait <= 0 {
		cfg.PullWait = 200 * time.Millisecond
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		src:      cfg.Source,
		metrics:  cfg.Metrics,
		quality:  cfg.Quality,
		pullWait: cfg.PullWait,
		interval: cfg.StatsInterval,
		logger:   logger,
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[chan []byte]struct{}),
	}

	s.router.HandleFunc("/stream.mjpg", s.handleStream).Methods("GET")
	s.router.HandleFunc("/snapshot.jpg", s.handleSnapshot).Methods("GET")

	s.router.HandleFunc("/health", health.Handler(cfg.Instance, cfg.Source)).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/stats/ws", s.handleStatsWS)
	api.HandleFunc("/caps", s.handleCaps).Methods("GET")

	if cfg.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	return s, nil
}

// Handler returns the HTTP handler for all routes
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run pulls frames until ctx is cancelled or the source fails. Cancelling
// ctx unlocks a pull in progress.
func (s *Server) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.src.Unlock)
	defer stop()

	s.logger.Info("preview: pull loop started", "caps", s.src.Caps())

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		buf, err := s.src.Pull(s.pullWait)
		if s.metrics != nil {
			s.metrics.ObservePull(time.Since(start), buf, err)
		}

		switch {
		case err == nil:
			s.publish(buf)
		case errors.Is(err, bigeyesrc.ErrEndOfStream):
			s.logger.Debug("preview: no frame within pull window", "wait", s.pullWait)
		case errors.Is(err, bigeyesrc.ErrCancelled):
			if ctx.Err() != nil {
				return nil
			}
			// Unlocked by someone else; wait for UnlockStop
			time.Sleep(s.pullWait)
		default:
			return fmt.Errorf("preview: pull: %w", err)
		}
	}
}

// ListenAndServe serves the handler on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("preview: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("preview: listen: %w", err)
	case <-ctx.Done():
	}

	s.closeClients()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("preview: shutdown: %w", err)
	}
	return nil
}

// publish stores the newest frame and fans it out to stream clients
func (s *Server) publish(buf *bigeyesrc.OutputBuffer) {
	s.frameMu.Lock()
	s.latest = buf
	s.frameMu.Unlock()

	s.clientsMu.RLock()
	n := len(s.clients)
	s.clientsMu.RUnlock()
	if n == 0 {
		return
	}

	data, err := Render(s.src.Format(), buf.Payload, RenderOptions{Quality: s.quality})
	if err != nil {
		s.logger.Warn("preview: render failed", "seq", buf.Seq, "error", err)
		return
	}

	s.clientsMu.RLock()
	for ch := range s.clients {
		select {
		case ch <- data:
		default:
			// Slow client, skip this frame
		}
	}
	s.clientsMu.RUnlock()
}

func (s *Server) latestFrame() *bigeyesrc.OutputBuffer {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.latest
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	for ch := range s.clients {
		close(ch)
	}
	s.clients = make(map[chan []byte]struct{})
	s.clientsMu.Unlock()
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	frames := make(chan []byte, 2)

	s.clientsMu.Lock()
	s.clients[frames] = struct{}{}
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Info("preview: stream client connected", "remote", r.RemoteAddr, "clients", count)

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, frames)
		count := len(s.clients)
		s.clientsMu.Unlock()
		s.logger.Info("preview: stream client disconnected", "remote", r.RemoteAddr, "clients", count)
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-frames:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			s.framesServed.Add(1)
		}
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	buf := s.latestFrame()
	if buf == nil {
		http.Error(w, "no frame captured yet", http.StatusServiceUnavailable)
		return
	}

	opts := RenderOptions{Quality: s.quality}
	if v := r.URL.Query().Get("width"); v != "" {
		width, err := strconv.Atoi(v)
		if err != nil || width <= 0 || width > 8192 {
			http.Error(w, "invalid width", http.StatusBadRequest)
			return
		}
		opts.Width = width
	}
	if overlay, _ := strconv.ParseBool(r.URL.Query().Get("overlay")); overlay {
		opts.Label = fmt.Sprintf("#%d %s", buf.Seq, buf.PTS.Round(time.Millisecond))
	}

	data, err := Render(s.src.Format(), buf.Payload, opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(buf.Seq, 10))
	w.Write(data)
	s.framesServed.Add(1)
}

// statsResponse is the element's statistics plus preview counters
type statsResponse struct {
	bigeyesrc.Stats
	Clients      int    `json:"clients"`
	FramesServed uint64 `json:"frames_served"`
}

func (s *Server) stats() statsResponse {
	s.clientsMu.RLock()
	clients := len(s.clients)
	s.clientsMu.RUnlock()

	return statsResponse{
		Stats:        s.src.Stats(),
		Clients:      clients,
		FramesServed: s.framesServed.Load(),
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.stats())
}

func (s *Server) handleStatsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("preview: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reader detects the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.stats()); err != nil {
			s.logger.Debug("preview: websocket write failed", "error", err)
			return
		}
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleCaps(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Caps     string                    `json:"caps"`
		Format   string                    `json:"format"`
		Metadata bigeyesrc.ElementMetadata `json:"metadata"`
	}{
		Caps:     s.src.Caps(),
		Format:   s.src.Format().String(),
		Metadata: bigeyesrc.Metadata(),
	})
}
