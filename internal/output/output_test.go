package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/HexSleeves/buzz/internal/errors"
)

func TestModeFromFlags(t *testing.T) {
	if m, err := ModeFromFlags(false, false); err != nil || m != ModePlain {
		t.Errorf("default: got %v %v", m, err)
	}
	if m, _ := ModeFromFlags(true, false); m != ModeJSON {
		t.Errorf("json: got %v", m)
	}
	if m, _ := ModeFromFlags(false, true); m != ModeQuiet {
		t.Errorf("quiet: got %v", m)
	}
	if _, err := ModeFromFlags(true, true); err == nil {
		t.Error("expected error for --json with --quiet")
	}
}

func TestManagerEmitOnlyInJSONMode(t *testing.T) {
	var buf bytes.Buffer
	NewManagerWithWriter(ModePlain, false, &buf).Emit(EventReply, "hi")
	if buf.Len() != 0 {
		t.Errorf("plain mode emitted %q", buf.String())
	}

	m := NewManagerWithWriter(ModeJSON, false, &buf)
	if err := m.Emit(EventReply, map[string]string{"content": "hi"}); err != nil {
		t.Fatal(err)
	}
	var ev struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatalf("invalid JSON line %q: %v", buf.String(), err)
	}
	if ev.Type != "reply" || ev.Data["content"] != "hi" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestManagerFail(t *testing.T) {
	var buf bytes.Buffer
	m := NewManagerWithWriter(ModeJSON, false, &buf)
	m.Fail(errors.New(errors.KindNotFound, "Chat not found"))
	var ev JSONEvent
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventError || ev.Error == nil || ev.Error.Kind != "not_found" || ev.Error.Message != "Chat not found" {
		t.Errorf("unexpected error event %+v", ev.Error)
	}

	buf.Reset()
	NewManagerWithWriter(ModeQuiet, false, &buf).Fail(fmt.Errorf("boom"))
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("quiet mode should still print errors, got %q", buf.String())
	}
}

func TestJSONWriterOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	jw := NewJSONWriter(&buf)
	jw.Write(EventChats, []int{1, 2})
	jw.Write(EventDeleted, nil)
	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Errorf("expected 2 lines, got %d", n)
	}
}
