package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loomhttp/loom/loom"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// main wires loomd's env-driven Config, a promhttp metrics endpoint, an
// errgroup supervising the listener, and signal-triggered graceful
// shutdown.
func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "loomd: config:", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	metrics := loom.NewMetrics("loom", registry)
	logger := loom.NewLogger("slog", &loom.LogConfig{Target: "stdout"})
	defer logger.Close()

	srv := newServer(cfg, metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runMetricsServer(ctx, cfg.MetricsAddr, registry, logger)
	})

	g.Go(func() error {
		return runListener(ctx, cfg.ListenAddr, srv, logger)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Logf("loomd: %v", err)
		os.Exit(1)
	}
}

func runMetricsServer(ctx context.Context, addr string, registry *prometheus.Registry, logger loom.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Logf("metrics listening on %s", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// runListener accepts connections on addr until ctx is cancelled, handing
// each one to srv.handleConn in its own goroutine — a goroutine-per-
// connection shape, distinct from the core's own single-threaded,
// lock-free transaction model, which is what loomd demonstrates a caller
// can build around.
func runListener(ctx context.Context, addr string, srv *server, logger loom.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Logf("listening on %s", addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go srv.handleConn(conn)
	}
}

func init() {
	// keep slog's default level at Info regardless of build tags; loomd
	// has no LOG_LEVEL knob of its own (the core package has no concept
	// of log levels, only the registered Logger sink).
	slog.SetLogLoggerLevel(slog.LevelInfo)
}
