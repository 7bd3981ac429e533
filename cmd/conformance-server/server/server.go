// Package server provides the HTTP and WebRTC signaling server that browser
// conformance pages run against.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thesyncim/conformance/pkg/conformance"
	"github.com/thesyncim/conformance/pkg/earlyhints"
	"github.com/thesyncim/conformance/pkg/webcodecs"
)

// Config holds server configuration options.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Scenario is the audio streamed to each WebRTC peer.
	Scenario conformance.Scenario

	// ReportInterval is how often RTCP sender reports go to WebRTC peers.
	// Zero disables them.
	ReportInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
// Uses port 0 for automatic port assignment (useful for testing).
func DefaultConfig() Config {
	return Config{
		Addr:           ":0",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		Scenario:       conformance.DefaultScenario(),
		ReportInterval: time.Second,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// Server serves the conformance pages and answers WebRTC offers.
type Server struct {
	cfg        Config
	log        *zap.SugaredLogger
	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
	addr       string

	mu       sync.Mutex
	running  bool
	sessions map[string]*session
}

// NewServer creates a new server with the given configuration.
// Call Start() to begin accepting connections.
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Scenario.Validate(); err != nil {
		return nil, fmt.Errorf("server scenario: %w", err)
	}
	if cfg.Scenario.Codec != "opus" {
		return nil, fmt.Errorf("server scenario: WebRTC sessions need opus, got %q", cfg.Scenario.Codec)
	}
	if ok, err := webcodecs.IsConfigSupported(cfg.Scenario.EncoderConfig(true)); !ok {
		return nil, fmt.Errorf("server scenario: %w", err)
	}
	if cfg.ReportInterval < 0 {
		return nil, fmt.Errorf("report interval must not be negative, got %v", cfg.ReportInterval)
	}

	s := &Server{
		cfg:      cfg,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}

	handler, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.handler = handler
	s.httpServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

func (s *Server) routes() (http.Handler, error) {
	pages, err := staticFS()
	if err != nil {
		return nil, err
	}
	docs, err := earlyHintsFS()
	if err != nil {
		return nil, err
	}
	loader := earlyhints.NewLoader(docs, "/early-hints/",
		earlyhints.WithLoaderLogger(s.log.Named("earlyhints")))

	mux := http.NewServeMux()
	mux.Handle("GET /", http.FileServerFS(pages))
	mux.Handle("GET /early-hints/"+earlyhints.LoaderPath, loader)
	mux.HandleFunc("POST /offer", s.HandleOffer)
	mux.HandleFunc("GET /stats", s.HandleStats)
	return mux, nil
}

// Handler returns the server's routes, for mounting on another listener
// such as an HTTP/2 test server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening on the configured address.
// Returns the actual address (useful when port 0 is used).
// The server runs in a background goroutine; use Shutdown() to stop it.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.addr, nil
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	s.listener = listener
	s.addr = listener.Addr().String()
	s.running = true

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorw("http server stopped", "error", err)
		}
	}()

	s.log.Infow("server listening", "addr", s.addr)
	return s.addr, nil
}

// Shutdown closes every WebRTC session and gracefully stops the HTTP
// server.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, sess := range s.snapshotSessions() {
		sess.close()
	}

	s.mu.Lock()
	running := s.running
	s.running = false
	s.mu.Unlock()

	if !running {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server's listening address.
// Returns empty string if server hasn't started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) addSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.id] = sess
}

func (s *Server) removeSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) snapshotSessions() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}
