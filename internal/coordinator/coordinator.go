// Package coordinator keeps the target file, the watch feed and the
// connected browser sessions consistent.
//
// The coordinator is the only owner of the shared content. Every handler
// runs to completion under one lock, so a save, a disk change and a new
// connection never interleave mid-mutation. Saves are last-writer-wins:
// a browser save overwrites the disk even when the disk changed after the
// browser's snapshot was taken.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/jsonedit/jsonedit/internal/events"
	"github.com/jsonedit/jsonedit/internal/hub"
	"github.com/jsonedit/jsonedit/internal/logging"
	"github.com/jsonedit/jsonedit/internal/metrics"
	"github.com/jsonedit/jsonedit/internal/watcher"
)

// ErrNoFileConfigured is the save-error message sent when the server was
// started without a target file.
const ErrNoFileConfigured = "no file configured"

// Store reads and persists the target file.
type Store interface {
	Read(path string) (string, error)
	Write(path, content string) error
}

// Sessions is the set of connected browser sessions.
type Sessions interface {
	Join(s *hub.Session, first events.Event)
	Leave(s *hub.Session)
	Broadcast(e events.Event) int
}

// Coordinator enforces the sync policy between disk and sessions.
type Coordinator struct {
	mu      sync.Mutex
	path    string
	content string

	store    Store
	sessions Sessions
	log      *zap.Logger
}

// New creates a coordinator for path whose shared content starts as
// initial. An empty path means no file is configured.
func New(path, initial string, store Store, sessions Sessions) *Coordinator {
	return &Coordinator{
		path:     path,
		content:  initial,
		store:    store,
		sessions: sessions,
		log:      logging.Named("coordinator"),
	}
}

// Content returns the current shared content.
func (c *Coordinator) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

// OnConnect sends the new session a snapshot of the shared content.
func (c *Coordinator) OnConnect(s *hub.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions.Join(s, events.New(events.FileContent, c.content))
}

// OnDisconnect removes the session. Content is untouched.
func (c *Coordinator) OnDisconnect(s *hub.Session) {
	c.sessions.Leave(s)
	c.log.Debug("session disconnected",
		zap.String("session", s.ID()),
		zap.Duration("connected_for", time.Since(s.ConnectedAt())))
}

// OnMessage dispatches an inbound event from s.
func (c *Coordinator) OnMessage(s *hub.Session, e events.Event) {
	switch e.Event {
	case events.SaveFile:
		c.Save(s, e.Data)
	default:
		c.log.Debug("ignoring unknown event",
			zap.String("session", s.ID()),
			zap.String("event", e.Event))
	}
}

// Save persists content on behalf of s. On success every session,
// including s, receives file-updated; on failure only s hears about it.
func (c *Coordinator) Save(s *hub.Session, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		s.Send(events.New(events.SaveError, ErrNoFileConfigured))
		return
	}

	if err := c.store.Write(c.path, content); err != nil {
		c.log.Warn("save failed",
			zap.String("session", s.ID()),
			zap.String("path", c.path),
			zap.Error(err))
		s.Send(events.New(events.SaveError, err.Error()))
		return
	}

	c.content = content
	s.Send(events.New(events.SaveSuccess, ""))
	n := c.sessions.Broadcast(events.New(events.FileUpdated, content))
	c.log.Info("saved",
		zap.String("session", s.ID()),
		zap.Int("bytes", len(content)),
		zap.Int("recipients", n))
}

// HandleWatch re-reads the file after the feed saw it change. The read
// happens under the same lock as Save, so it always observes the disk
// after any save that got there first. A read equal to the shared content
// is an echo of our own save or a spurious OS event and is dropped.
func (c *Coordinator) HandleWatch(ev watcher.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		return
	}

	content, err := c.store.Read(c.path)
	if err != nil {
		metrics.RecordWatchEvent("error")
		n := c.sessions.Broadcast(events.New(events.FileError, err.Error()))
		c.log.Warn("file re-read failed",
			zap.String("op", ev.Op),
			zap.Error(err),
			zap.Int("recipients", n))
		return
	}
	if content == c.content {
		metrics.RecordWatchEvent("unchanged")
		return
	}

	metrics.RecordWatchEvent("changed")
	ins, del := diffStats(c.content, content)
	metrics.RecordExternalChange(ins, del)
	c.content = content
	n := c.sessions.Broadcast(events.New(events.FileChanged, content))
	c.log.Info("file changed on disk",
		zap.String("op", ev.Op),
		zap.Int("inserted", ins),
		zap.Int("deleted", del),
		zap.Int("recipients", n))
}

// Run applies watch feed results until the feed closes or ctx is done.
func (c *Coordinator) Run(ctx context.Context, feed <-chan watcher.Event) {
	for {
		select {
		case ev, ok := <-feed:
			if !ok {
				return
			}
			c.HandleWatch(ev)
		case <-ctx.Done():
			return
		}
	}
}

// diffStats counts inserted and deleted characters between two versions.
func diffStats(before, after string) (inserted, deleted int) {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 50 * time.Millisecond
	for _, d := range dmp.DiffMain(before, after, false) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserted += len(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += len(d.Text)
		}
	}
	return inserted, deleted
}
