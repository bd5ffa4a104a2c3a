// ABOUTME: HealthServer: landing page plus liveness, readiness and status endpoints
// ABOUTME: Listens on TCP or a tailnet via tsnet; started once, after the first ready

package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/coven-presence/internal/store"
)

// Status is the snapshot reported by /health/status.
type Status struct {
	State             string    `json:"state"`
	Ready             bool      `json:"ready"`
	Since             time.Time `json:"since"`
	UserID            string    `json:"user_id,omitempty"`
	MessageIndex      int       `json:"message_index"`
	ModeIndex         int       `json:"mode_index"`
	NextMessage       string    `json:"next_message"`
	NextMode          string    `json:"next_mode"`
	RotationActive    bool      `json:"rotation_active"`
	ReconnectState    string    `json:"reconnect_state"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	MaxAttempts       int       `json:"max_reconnect_attempts"`
	StartedAt         time.Time `json:"started_at"`
	Uptime            string    `json:"uptime"`
}

// StatusSource supplies the status snapshot. It is called from HTTP
// handler goroutines and must be safe for that.
type StatusSource interface {
	Status() Status
}

// EventLister returns recent connection events.
type EventLister interface {
	ListConnectionEvents(ctx context.Context, limit int) ([]store.ConnectionEvent, error)
}

// TailscaleOptions configures the optional tailnet listener.
type TailscaleOptions struct {
	Enabled   bool
	Hostname  string
	AuthKey   string
	StateDir  string
	Ephemeral bool
}

// Config configures a Server.
type Config struct {
	Addr      string
	PagePath  string
	Tailscale TailscaleOptions
	Source    StatusSource
	Events    EventLister // optional
	Logger    *slog.Logger
}

// Server serves the health endpoints. The HTTP handlers never touch bot
// state directly; they read the published snapshot from Source.
type Server struct {
	cfg    Config
	logger *slog.Logger
	page   []byte
	mux    *http.ServeMux

	httpServer *http.Server

	mu          sync.Mutex
	tsnetServer *tsnet.Server

	once    sync.Once
	started atomic.Bool
	bound   chan struct{}
	addr    atomic.Pointer[string]
	errCh   chan error
}

// New renders the landing page and builds the routes. Nothing listens
// until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Source == nil {
		return nil, errors.New("health: status source is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	page, err := renderPage(cfg.PagePath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "health"),
		page:   page,
		mux:    http.NewServeMux(),
		bound:  make(chan struct{}),
		errCh:  make(chan error, 1),
	}

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /health/ready", s.handleReady)
	s.mux.HandleFunc("GET /health/status", s.handleStatus)
	s.mux.HandleFunc("GET /health/events", s.handleEvents)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Errors delivers a fatal listen or serve error.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Bound is closed once the listener is up.
func (s *Server) Bound() <-chan struct{} {
	return s.bound
}

// Addr returns the listening address once bound, or "" before.
func (s *Server) Addr() string {
	if a := s.addr.Load(); a != nil {
		return *a
	}
	return ""
}

// Start begins serving. Only the first call has any effect. Listener
// setup happens in the background because joining a tailnet can take
// a while.
func (s *Server) Start(ctx context.Context) {
	s.once.Do(func() {
		s.started.Store(true)
		go s.serve(ctx)
	})
}

func (s *Server) serve(ctx context.Context) {
	ln, err := s.listen(ctx)
	if err != nil {
		s.fail(err)
		return
	}

	addr := ln.Addr().String()
	s.addr.Store(&addr)
	close(s.bound)
	s.logger.Info("health server listening", "url", displayURL(addr, s.cfg.Tailscale))

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		s.fail(fmt.Errorf("HTTP server: %w", err))
	}
}

func (s *Server) fail(err error) {
	select {
	case s.errCh <- err:
	default:
		s.logger.Error("additional health server error", "error", err)
	}
}

func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	if !s.cfg.Tailscale.Enabled {
		ln, err := net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
		}
		return ln, nil
	}
	return s.listenTailscale(ctx)
}

// listenTailscale joins the tailnet and listens on port 80 of the node.
func (s *Server) listenTailscale(ctx context.Context) (net.Listener, error) {
	ts := s.cfg.Tailscale

	stateDir, err := resolveTailscaleStateDir(ts.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(ts.AuthKey)
	if err != nil {
		return nil, err
	}

	srv := &tsnet.Server{
		Hostname:  ts.Hostname,
		Dir:       stateDir,
		Ephemeral: ts.Ephemeral,
		AuthKey:   authKey,
	}
	s.mu.Lock()
	s.tsnetServer = srv
	s.mu.Unlock()

	s.logger.Info("starting tailscale node", "hostname", ts.Hostname, "state_dir", stateDir, "ephemeral", ts.Ephemeral)
	status, err := srv.Up(ctx)
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	if len(status.TailscaleIPs) > 0 {
		s.logger.Info("tailscale node ready", "hostname", ts.Hostname, "tailscale_ip", status.TailscaleIPs[0].String())
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}

	ln, err := srv.Listen("tcp", ":80")
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "coven-presence", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

func displayURL(addr string, ts TailscaleOptions) string {
	if ts.Enabled {
		return "http://" + ts.Hostname
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// Shutdown stops the HTTP server and leaves the tailnet. Safe when the
// server was never started.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	s.mu.Lock()
	srv := s.tsnetServer
	s.mu.Unlock()
	if srv != nil {
		if err := srv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(s.page)
}

// handleHealth returns 200 OK if the process is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK while the gateway session is connected.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	st := s.cfg.Source.Status()
	if !st.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "not ready (%s)", st.State)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Source.Status())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Events == nil {
		writeJSON(w, http.StatusOK, []store.ConnectionEvent{})
		return
	}

	limit := store.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}

	events, err := s.cfg.Events.ListConnectionEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list connection events", "error", err)
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []store.ConnectionEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
