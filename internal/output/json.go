package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/HexSleeves/buzz/internal/errors"
)

// EventType represents the type of JSON output event.
type EventType string

const (
	// EventReply is an assistant reply from ask.
	EventReply EventType = "reply"
	// EventChats is a chat listing.
	EventChats EventType = "chats"
	// EventChat is one chat with its messages.
	EventChat EventType = "chat"
	// EventUsers is a user listing.
	EventUsers EventType = "users"
	// EventUser is a created user.
	EventUser EventType = "user"
	// EventInit reports a written config file.
	EventInit EventType = "init"
	// EventTools is the tool registry with enablement.
	EventTools EventType = "tools"
	// EventConfig is the effective configuration.
	EventConfig EventType = "config"
	// EventSpeech is a written audio file.
	EventSpeech EventType = "speech"
	// EventVoice is a user's voice settings.
	EventVoice EventType = "voice"
	// EventDeleted confirms a deletion.
	EventDeleted EventType = "deleted"
	// EventError is emitted when a command fails.
	EventError EventType = "error"
)

// JSONEvent is the wrapper for all JSON output events.
type JSONEvent struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Error     *ErrorEvent `json:"error,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// ErrorEvent represents an error that occurred.
type ErrorEvent struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// JSONWriter writes newline-delimited events.
type JSONWriter struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{w: w, now: time.Now}
}

func (jw *JSONWriter) writeEvent(event JSONEvent) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	event.Timestamp = jw.now().UTC()
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(jw.w, string(data))
	return err
}

// Write emits an event carrying data.
func (jw *JSONWriter) Write(t EventType, data interface{}) error {
	return jw.writeEvent(JSONEvent{Type: t, Data: data})
}

// WriteError emits an error event tagged with the error's kind.
func (jw *JSONWriter) WriteError(err error) error {
	return jw.writeEvent(JSONEvent{
		Type:  EventError,
		Error: &ErrorEvent{Message: err.Error(), Kind: string(errors.KindOf(err))},
	})
}
