// Package events defines the realtime channel's event names and wire format.
package events

import (
	"encoding/json"
	"fmt"
)

// Server to client.
const (
	FileContent = "file-content"
	SaveSuccess = "save-success"
	SaveError   = "save-error"
	FileUpdated = "file-updated"
	FileChanged = "file-changed"
	FileError   = "file-error"
)

// Client to server.
const (
	SaveFile = "save-file"
)

// Event is one frame on the realtime channel. Data carries the file
// content or an error message; it is empty for save-success.
type Event struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// New builds an event.
func New(name, data string) Event {
	return Event{Event: name, Data: data}
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent parses a frame. Frames without an event name are rejected.
func UnmarshalEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Event == "" {
		return Event{}, fmt.Errorf("decode event: missing event name")
	}
	return e, nil
}
