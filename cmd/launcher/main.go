// jsonedit launcher
//
// Starts jsonedit-server for a file on the first free port, waits until it
// answers and opens the editing page in the default browser.
//
//	jsonedit [-server bin] [-start-port n] [-no-browser] <path>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/jsonedit/jsonedit/internal/config"
	"github.com/jsonedit/jsonedit/internal/launcher"
	"github.com/jsonedit/jsonedit/internal/logging"
)

const serverBinName = "jsonedit-server"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	serverBin := flag.String("server", defaultServerBin(), "path to the jsonedit-server binary")
	startPort := flag.Int("start-port", cfg.Port, "first port to probe")
	noBrowser := flag.Bool("no-browser", false, "print the URL instead of opening a browser")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <path>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	path, err := filepath.Abs(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve path: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	code := run(cfg, *serverBin, path, *startPort, *noBrowser)
	logging.Sync()
	os.Exit(code)
}

func run(cfg *config.Config, serverBin, path string, startPort int, noBrowser bool) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := launcher.Start(ctx, launcher.Options{
		ServerBin: serverBin,
		FilePath:  path,
		Host:      cfg.Host,
		StartPort: startPort,
	})
	if err != nil {
		logging.Error("launch failed", zap.Error(err))
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sigCh {
			logging.Info("forwarding signal to server", zap.String("signal", sig.String()))
			l.Cmd.Process.Signal(sig)
		}
	}()

	var waitErr error
	exited := make(chan struct{})
	go func() {
		waitErr = l.Cmd.Wait()
		close(exited)
	}()

	readyCtx, readyCancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-exited:
			readyCancel()
		case <-readyCtx.Done():
		}
	}()

	failed := false
	err = launcher.WaitReady(readyCtx, l.URL, launcher.ReadinessConfig{
		InitialDelay: cfg.ReadyDelay,
		Interval:     cfg.ReadyInterval,
		MaxAttempts:  cfg.ReadyAttempts,
		Timeout:      cfg.ReadyTimeout,
	})
	readyCancel()
	switch {
	case err == nil:
		logging.Info("server ready", zap.String("url", l.URL))
		if noBrowser {
			fmt.Println(l.URL)
		} else if err := launcher.OpenBrowser(l.URL); err != nil {
			logging.Warn("could not open browser", zap.Error(err))
			fmt.Printf("open %s in your browser\n", l.URL)
		}
	case errors.Is(err, launcher.ErrReadinessTimeout):
		logging.Error("server did not become ready, leaving it running",
			zap.String("url", l.URL),
			zap.Error(err))
		failed = true
	default:
		// The server exited before answering.
		failed = true
	}

	<-exited
	signal.Stop(sigCh)
	close(sigCh)
	if err := waitErr; err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && !exitErr.Exited() {
			logging.Info("server stopped by signal", zap.String("state", exitErr.String()))
		} else {
			logging.Error("server exited", zap.Error(err))
			failed = true
		}
	}
	if failed {
		return 1
	}
	return 0
}

// defaultServerBin prefers a jsonedit-server next to this executable and
// falls back to $PATH.
func defaultServerBin() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), serverBinName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if p, err := exec.LookPath(serverBinName); err == nil {
		return p
	}
	return serverBinName
}
