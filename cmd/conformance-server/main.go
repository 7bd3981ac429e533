// Conformance test server.
//
// Serves the browser conformance pages and a Pion WebRTC endpoint that
// sends a synthesized Opus track, with or without DTX:
//
//	/                    WebCodecs Opus DTX check (runs in the browser)
//	/webrtc.html         receives the server's Opus track
//	/early-hints/        Early Hints preload check
//	/stats               what each WebRTC session has sent
//
// Chrome only honours Early Hints over HTTP/2, so pass -cert and -key to
// serve TLS when running the Early Hints page.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/thesyncim/conformance/cmd/conformance-server/server"
	"github.com/thesyncim/conformance/pkg/conformance"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	scenarioPath := flag.String("scenario", "", "YAML scenario streamed to WebRTC peers (default: built-in opus-dtx)")
	reportInterval := flag.Duration("report-interval", time.Second, "RTCP sender report interval, 0 disables")
	certFile := flag.String("cert", "", "TLS certificate file")
	keyFile := flag.String("key", "", "TLS key file")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	log, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := server.DefaultConfig()
	cfg.Addr = *addr
	cfg.ReportInterval = *reportInterval
	if *scenarioPath != "" {
		sc, err := conformance.LoadScenario(*scenarioPath)
		if err != nil {
			log.Fatalw("load scenario", "error", err)
		}
		cfg.Scenario = sc
	}

	srv, err := server.NewServer(cfg, server.WithLogger(log))
	if err != nil {
		log.Fatalw("create server", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *certFile != "" || *keyFile != "" {
		err = serveTLS(ctx, srv, cfg.Addr, *certFile, *keyFile)
	} else {
		err = serve(ctx, srv)
	}
	if err != nil {
		log.Fatalw("server stopped", "error", err)
	}
	log.Infow("server stopped")
}

func serve(ctx context.Context, srv *server.Server) error {
	if _, err := srv.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// serveTLS mounts the server's routes on an HTTP/2 TLS listener.
func serveTLS(ctx context.Context, srv *server.Server, addr, certFile, keyFile string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	hs := &http.Server{Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- hs.ServeTLS(ln, certFile, keyFile)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()

	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	case "warn", "warning":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), nil
}
