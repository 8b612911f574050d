// Package watcher observes the target file and reports when it changes.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jsonedit/jsonedit/internal/logging"
)

// Backends.
const (
	ModeFsnotify = "fsnotify"
	ModePoll     = "poll"
)

// Event reports that the file changed on disk. It carries no content;
// consumers re-read the file themselves.
type Event struct {
	Path string
	Op   string // last observed operation, for logging
	Time time.Time
}

// Options configures a Feed.
type Options struct {
	Mode     string        // fsnotify (default) or poll
	Interval time.Duration // poll interval
	Debounce time.Duration // fsnotify burst window
}

// Feed watches a single file.
type Feed struct {
	path   string
	opts   Options
	log    *zap.Logger
	events chan Event

	done     chan struct{}
	stopOnce sync.Once

	fsw *fsnotify.Watcher

	// poll state
	exists bool
	mtime  int64
	size   int64
}

// New creates a feed for path. Nothing is observed until Start.
func New(path string, opts Options) *Feed {
	if opts.Mode == "" {
		opts.Mode = ModeFsnotify
	}
	if opts.Interval == 0 {
		opts.Interval = time.Second
	}
	return &Feed{
		path:   filepath.Clean(path),
		opts:   opts,
		log:    logging.Named("watcher").With(zap.String("path", path)),
		events: make(chan Event, 100),
		done:   make(chan struct{}),
	}
}

// Events returns the feed's output. It is closed when the feed stops.
func (f *Feed) Events() <-chan Event {
	return f.events
}

// Start begins watching. The file's current state is the baseline and
// never produces an event.
func (f *Feed) Start(ctx context.Context) error {
	switch f.opts.Mode {
	case ModeFsnotify:
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create fsnotify watcher: %w", err)
		}
		// Watch the directory so saves that replace the file by rename
		// stay visible.
		if err := w.Add(filepath.Dir(f.path)); err != nil {
			w.Close()
			return fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
		}
		f.fsw = w
		go f.notifyLoop(ctx)
	case ModePoll:
		f.exists, f.mtime, f.size = f.stat()
		go f.pollLoop(ctx)
	default:
		return fmt.Errorf("unknown watch mode %q", f.opts.Mode)
	}
	f.log.Info("watching file", zap.String("mode", f.opts.Mode))
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() { close(f.done) })
}

func (f *Feed) notifyLoop(ctx context.Context) {
	defer close(f.events)
	defer f.fsw.Close()

	var (
		fire   <-chan time.Time
		lastOp string
	)
	for {
		select {
		case ev, ok := <-f.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path || ev.Op == fsnotify.Chmod {
				continue
			}
			f.log.Debug("fs event", zap.String("op", ev.Op.String()))
			lastOp = ev.Op.String()
			fire = time.After(f.opts.Debounce)
		case <-fire:
			fire = nil
			if !f.emit(ctx, lastOp) {
				return
			}
		case err, ok := <-f.fsw.Errors:
			if !ok {
				return
			}
			f.log.Warn("fsnotify error", zap.Error(err))
		case <-f.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (f *Feed) pollLoop(ctx context.Context) {
	defer close(f.events)

	ticker := time.NewTicker(f.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			exists, mtime, size := f.stat()
			op := ""
			switch {
			case exists && !f.exists:
				op = "create"
			case !exists && f.exists:
				op = "remove"
			case exists && (mtime != f.mtime || size != f.size):
				op = "write"
			}
			f.exists, f.mtime, f.size = exists, mtime, size
			if op != "" && !f.emit(ctx, op) {
				return
			}
		case <-f.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (f *Feed) stat() (exists bool, mtime, size int64) {
	info, err := os.Stat(f.path)
	if err != nil {
		return false, 0, 0
	}
	return true, info.ModTime().UnixNano(), info.Size()
}

// emit reports a change. It reports false when the feed is shutting down.
func (f *Feed) emit(ctx context.Context, op string) bool {
	ev := Event{Path: f.path, Op: op, Time: time.Now()}
	select {
	case f.events <- ev:
		return true
	case <-f.done:
		return false
	case <-ctx.Done():
		return false
	}
}
