// Package launcher starts the jsonedit server on a free port, waits until it
// answers HTTP and opens a browser on it.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jsonedit/jsonedit/internal/logging"
	"github.com/jsonedit/jsonedit/internal/portprobe"
	"github.com/jsonedit/jsonedit/internal/retry"
)

// ErrReadinessTimeout is returned when the server never answered 200
// within the configured attempts.
var ErrReadinessTimeout = errors.New("server readiness timeout")

// ReadinessConfig bounds the readiness poll.
type ReadinessConfig struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxAttempts  int
	Timeout      time.Duration // per request
}

// DefaultReadiness returns 1s initial delay, 500ms interval, 20 attempts and
// a 2s request timeout.
func DefaultReadiness() ReadinessConfig {
	return ReadinessConfig{
		InitialDelay: time.Second,
		Interval:     500 * time.Millisecond,
		MaxAttempts:  20,
		Timeout:      2 * time.Second,
	}
}

// Options configures Start.
type Options struct {
	ServerBin  string   // server executable
	ServerArgs []string // arguments placed before [path] [port]
	FilePath   string
	Host       string
	StartPort  int
	Env        []string // extra environment for the server
	Prober     *portprobe.Prober
}

// Launch is a running server process.
type Launch struct {
	Port int
	URL  string
	Cmd  *exec.Cmd
}

// Start probes for a free port from opts.StartPort and spawns the server
// on it. The server inherits stdout and stderr.
func Start(ctx context.Context, opts Options) (*Launch, error) {
	prober := opts.Prober
	if prober == nil {
		prober = portprobe.New()
		if opts.Host != "" {
			prober.Host = opts.Host
		}
	}
	host := opts.Host
	if host == "" {
		host = "localhost"
	}

	port, err := prober.FindAvailable(ctx, opts.StartPort)
	if err != nil {
		return nil, fmt.Errorf("find port: %w", err)
	}

	args := append([]string{}, opts.ServerArgs...)
	args = append(args, opts.FilePath, strconv.Itoa(port))
	cmd := exec.CommandContext(ctx, opts.ServerBin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), opts.Env...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", opts.ServerBin, err)
	}

	logging.Info("server spawned",
		zap.String("bin", opts.ServerBin),
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("port", port))

	return &Launch{
		Port: port,
		URL:  fmt.Sprintf("http://%s:%d/", host, port),
		Cmd:  cmd,
	}, nil
}

// WaitReady polls url with GET until it answers 200. Connection errors,
// other statuses and request timeouts are retried at a fixed interval up
// to cfg.MaxAttempts, after which ErrReadinessTimeout is returned.
func WaitReady(ctx context.Context, url string, cfg ReadinessConfig) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(cfg.InitialDelay):
	}

	client := &http.Client{Timeout: cfg.Timeout}
	rc := retry.Fixed(cfg.MaxAttempts, cfg.Interval)
	rc.OnRetry = func(attempt int, err error) {
		logging.Debug("server not ready",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	err := retry.Do(ctx, rc, func(int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return retry.Retryable(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return retry.Retryable(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		return nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%w: %s: %w", ErrReadinessTimeout, url, err)
	}
	return err
}

// BrowserCommand returns the command that opens url on goos.
func BrowserCommand(goos, url string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return "xdg-open", []string{url}
	}
}

// OpenBrowser opens url in the user's default browser.
func OpenBrowser(url string) error {
	name, args := BrowserCommand(runtime.GOOS, url)
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open browser with %s: %w", name, err)
	}
	go cmd.Wait()
	return nil
}
