package filestore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte(`{"name":"fruit"}`), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	content, err := New().Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if content != `{"name":"fruit"}` {
		t.Errorf("unexpected content %q", content)
	}
}

func TestLoadNoPath(t *testing.T) {
	content, err := New().Load("")
	if !errors.Is(err, ErrNoPath) {
		t.Fatalf("expected ErrNoPath, got %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		t.Fatalf("placeholder is not JSON: %v", err)
	}
	if payload["message"] != "no file specified" {
		t.Errorf("unexpected placeholder %q", content)
	}
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	content, err := New().Load(path)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		t.Fatalf("placeholder is not JSON: %v", err)
	}
	if payload["error"] != err.Error() {
		t.Errorf("placeholder should carry the read error, got %q", content)
	}
}

func TestReadMissingFile(t *testing.T) {
	content, err := New().Read(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("expected error")
	}
	if content != "" {
		t.Errorf("expected empty content on failure, got %q", content)
	}
}

func TestWriteThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	s := New()

	if err := s.Write(path, `[1,2,3]`); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(path, `[4]`); err != nil {
		t.Fatalf("Write: %v", err)
	}

	content, err := s.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if content != `[4]` {
		t.Errorf("expected overwrite, got %q", content)
	}
}

func TestWriteFailureReturnsUnderlyingError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no-such-dir", "data.json")

	err := New().Write(path, `{}`)
	var pathErr *fs.PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("expected *fs.PathError, got %T: %v", err, err)
	}
	if pathErr.Path != path {
		t.Errorf("expected error for %s, got %s", path, pathErr.Path)
	}
}

func TestNonUTF8Refused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latin1.json")
	if err := os.WriteFile(path, []byte("{\"name\":\"caf\xe9\"}"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	s := New()

	content, err := s.Read(path)
	if !errors.Is(err, ErrNotUTF8) {
		t.Fatalf("Read: expected ErrNotUTF8, got %v", err)
	}
	if content != "" {
		t.Errorf("Read: expected no content, got %q", content)
	}

	content, err = s.Load(path)
	if !errors.Is(err, ErrNotUTF8) {
		t.Fatalf("Load: expected ErrNotUTF8, got %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		t.Fatalf("placeholder is not JSON: %v", err)
	}
	if payload["error"] != err.Error() {
		t.Errorf("placeholder should carry the error, got %q", content)
	}

	// The bytes on disk are left alone.
	data, _ := os.ReadFile(path)
	if string(data) != "{\"name\":\"caf\xe9\"}" {
		t.Errorf("file was modified: %q", data)
	}
}
