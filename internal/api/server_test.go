package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jsonedit/jsonedit/internal/coordinator"
	"github.com/jsonedit/jsonedit/internal/events"
	"github.com/jsonedit/jsonedit/internal/filestore"
	"github.com/jsonedit/jsonedit/internal/hub"
	"github.com/jsonedit/jsonedit/internal/logging"
	"github.com/jsonedit/jsonedit/internal/watcher"
)

func init() {
	logging.InitNop()
}

type testEnv struct {
	ts   *httptest.Server
	path string
	hub  *hub.Hub
}

// newEnv starts a full server over path. An empty path runs without a file
// and without a watcher.
func newEnv(t *testing.T, path, staticDir string) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := filestore.New()
	content, _ := store.Load(path)
	h := hub.New()
	coord := coordinator.New(path, content, store, h)

	if path != "" {
		feed := watcher.New(path, watcher.Options{Debounce: 20 * time.Millisecond})
		if err := feed.Start(ctx); err != nil {
			t.Fatalf("Failed to start watcher: %v", err)
		}
		t.Cleanup(feed.Stop)
		go coord.Run(ctx, feed.Events())
	}

	srv, err := NewServer(coord, h, path, staticDir)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		h.CloseAll()
		ts.Close()
	})
	return &testEnv{ts: ts, path: path, hub: h}
}

func newFileEnv(t *testing.T, initial string) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte(initial), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	return newEnv(t, path, "")
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	e, err := events.UnmarshalEvent(data)
	if err != nil {
		t.Fatalf("Failed to decode event %q: %v", data, err)
	}
	return e
}

func expectEvent(t *testing.T, conn *websocket.Conn, name, data string) {
	t.Helper()
	e := readEvent(t, conn)
	if e.Event != name || e.Data != data {
		t.Fatalf("expected %s(%q), got %s(%q)", name, data, e.Event, e.Data)
	}
}

func sendEvent(t *testing.T, conn *websocket.Conn, name, data string) {
	t.Helper()
	msg, err := events.MarshalEvent(events.New(name, data))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
}

func TestSnapshotOnConnect(t *testing.T) {
	env := newFileEnv(t, `{"a":1}`)
	conn := env.dial(t)
	expectEvent(t, conn, events.FileContent, `{"a":1}`)
}

func TestSaveBroadcastsToAllTabs(t *testing.T) {
	env := newFileEnv(t, `{"a":1}`)
	a := env.dial(t)
	expectEvent(t, a, events.FileContent, `{"a":1}`)
	b := env.dial(t)
	expectEvent(t, b, events.FileContent, `{"a":1}`)

	sendEvent(t, a, events.SaveFile, `{"a":2}`)

	expectEvent(t, a, events.SaveSuccess, "")
	expectEvent(t, a, events.FileUpdated, `{"a":2}`)
	expectEvent(t, b, events.FileUpdated, `{"a":2}`)

	data, err := os.ReadFile(env.path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(data) != `{"a":2}` {
		t.Errorf("expected file to hold new content, got %q", data)
	}

	// Late joiners see the saved content.
	c := env.dial(t)
	expectEvent(t, c, events.FileContent, `{"a":2}`)
}

func TestExternalChangePushed(t *testing.T) {
	env := newFileEnv(t, `{"a":1}`)
	conn := env.dial(t)
	expectEvent(t, conn, events.FileContent, `{"a":1}`)

	if err := os.WriteFile(env.path, []byte(`{"b":2}`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	expectEvent(t, conn, events.FileChanged, `{"b":2}`)
}

func TestNoFileConfigured(t *testing.T) {
	env := newEnv(t, "", "")
	conn := env.dial(t)
	expectEvent(t, conn, events.FileContent, `{"message":"no file specified"}`)

	sendEvent(t, conn, events.SaveFile, `{"x":1}`)
	expectEvent(t, conn, events.SaveError, coordinator.ErrNoFileConfigured)
}

func TestIndexEmbedsEscapedContent(t *testing.T) {
	env := newFileEnv(t, `{"html":"</textarea><script>"}`)

	resp, err := http.Get(env.ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected html content type, got %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	page := string(body)
	if strings.Contains(page, "</textarea><script>") {
		t.Error("content was embedded unescaped")
	}
	if !strings.Contains(page, "&lt;/textarea&gt;&lt;script&gt;") {
		t.Error("expected escaped content in page")
	}
	if !strings.Contains(page, "data.json - jsonedit") {
		t.Error("expected file name in title")
	}
}

func TestHealth(t *testing.T) {
	env := newEnv(t, "", "")

	resp, err := http.Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body)
	}
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.css"), []byte("body{}"), 0644); err != nil {
		t.Fatalf("Failed to write asset: %v", err)
	}
	env := newEnv(t, "", dir)

	resp, err := http.Get(env.ts.URL + "/app.css")
	if err != nil {
		t.Fatalf("GET /app.css: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "body{}" {
		t.Errorf("expected asset, got %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(env.ts.URL + "/missing.css")
	if err != nil {
		t.Fatalf("GET /missing.css: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}
