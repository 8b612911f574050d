// jsonedit server
//
// Serves an editing page for a single JSON file and keeps every open tab in
// sync with the file on disk over a WebSocket channel.
//
//	jsonedit-server [path] [port]
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
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jsonedit/jsonedit/internal/api"
	"github.com/jsonedit/jsonedit/internal/config"
	"github.com/jsonedit/jsonedit/internal/coordinator"
	"github.com/jsonedit/jsonedit/internal/filestore"
	"github.com/jsonedit/jsonedit/internal/hub"
	"github.com/jsonedit/jsonedit/internal/logging"
	"github.com/jsonedit/jsonedit/internal/metrics"
	"github.com/jsonedit/jsonedit/internal/watcher"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [path] [port]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyArgs(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	logging.Info("starting jsonedit server",
		zap.String("file", cfg.FilePath),
		zap.String("listen", cfg.ListenAddr()),
		zap.String("watch", cfg.WatchMode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := filestore.New()
	content, err := store.Load(cfg.FilePath)
	switch {
	case errors.Is(err, filestore.ErrNoPath):
		logging.Info("no file given, serving placeholder")
	case err != nil:
		logging.Warn("initial load failed, serving placeholder", zap.Error(err))
	}

	h := hub.New()
	coord := coordinator.New(cfg.FilePath, content, store, h)

	var feed *watcher.Feed
	if cfg.FilePath != "" {
		feed = watcher.New(cfg.FilePath, watcher.Options{
			Mode:     cfg.WatchMode,
			Interval: cfg.WatchInterval,
			Debounce: cfg.WatchDebounce,
		})
		if err := feed.Start(ctx); err != nil {
			logging.Error("file watcher unavailable, external changes will not be pushed", zap.Error(err))
			feed = nil
		} else {
			go coord.Run(ctx, feed.Events())
		}
	}

	srv, err := api.NewServer(coord, h, cfg.FilePath, cfg.StaticDir)
	if err != nil {
		logging.Fatal("server init failed", zap.Error(err))
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metrics.Handler(),
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	ln, err := listen(cfg)
	if err != nil {
		if errors.Is(err, errPortInUse) {
			logging.Fatal("port already in use",
				zap.Int("port", cfg.Port),
				zap.Error(err))
		}
		logging.Fatal("listen failed",
			zap.String("addr", cfg.ListenAddr()),
			zap.Error(err))
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logging.Info("shutting down...",
			zap.String("signal", sig.String()),
			zap.Int("sessions", h.Count()))
		cancel()
		if feed != nil {
			feed.Stop()
		}
		h.CloseAll()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("graceful shutdown incomplete", zap.Error(err))
		}
		if metricsServer != nil {
			metricsServer.Close()
		}
	}()

	logging.Info("server listening", zap.String("url", cfg.BaseURL()))
	if err := httpServer.Serve(ln); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
}

var errPortInUse = errors.New("port already in use")

// listen binds the HTTP listener. An occupied port is reported as
// errPortInUse.
func listen(cfg *config.Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		if isAddrInUse(err) {
			return nil, fmt.Errorf("%w: %d: %w", errPortInUse, cfg.Port, err)
		}
		return nil, fmt.Errorf("listen on %s: %w", cfg.ListenAddr(), err)
	}
	return ln, nil
}
