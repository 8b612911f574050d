// Package filestore reads and writes the target file.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/jsonedit/jsonedit/internal/metrics"
)

var (
	// ErrNoPath is returned by Load when the server was started without a file.
	ErrNoPath = errors.New("no file specified")

	// ErrNotUTF8 is returned when the file cannot travel as text over the
	// realtime channel without its bytes being altered.
	ErrNotUTF8 = errors.New("file is not valid UTF-8")
)

// Store mediates disk access for the target file. It holds no content of
// its own; the coordinator owns the in-memory copy.
type Store struct {
	perm os.FileMode
}

// New creates a store. New files are created with mode 0644.
func New() *Store {
	return &Store{perm: 0644}
}

// Load returns the file content. On failure it returns a JSON placeholder
// payload together with the error, so callers can keep serving something:
// {"message":"no file specified"} when path is empty and {"error":"..."}
// when the read fails.
func (s *Store) Load(path string) (string, error) {
	if path == "" {
		return placeholder("message", ErrNoPath.Error()), ErrNoPath
	}
	content, err := s.Read(path)
	if err != nil {
		return placeholder("error", err.Error()), err
	}
	return content, nil
}

// Read returns the raw file content without a placeholder. Used when a
// failed read must not be mistaken for content. Content that is not valid
// UTF-8 is refused with ErrNotUTF8.
func (s *Store) Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil && !utf8.Valid(data) {
		err = fmt.Errorf("read %s: %w", path, ErrNotUTF8)
	}
	metrics.RecordFileLoad(err == nil)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Write overwrites the file with content. The error, if any, is returned
// as produced by the OS. No retry.
func (s *Store) Write(path, content string) error {
	err := os.WriteFile(path, []byte(content), s.perm)
	metrics.RecordFileWrite(len(content), err == nil)
	return err
}

func placeholder(key, msg string) string {
	data, _ := json.Marshal(map[string]string{key: msg})
	return string(data)
}
