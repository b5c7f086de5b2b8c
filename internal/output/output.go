// Package output renders CLI results as styled text or JSON lines.
package output

import (
	"fmt"
	"io"
	"os"
)

// Mode represents the output mode.
type Mode int

const (
	// ModePlain is styled human-readable output.
	ModePlain Mode = iota
	// ModeJSON is one JSON event per line.
	ModeJSON
	// ModeQuiet suppresses everything except errors.
	ModeQuiet
)

// ModeFromFlags resolves the --json and --quiet flags. They are mutually
// exclusive.
func ModeFromFlags(json, quiet bool) (Mode, error) {
	switch {
	case json && quiet:
		return ModePlain, fmt.Errorf("flags --json and --quiet are mutually exclusive")
	case json:
		return ModeJSON, nil
	case quiet:
		return ModeQuiet, nil
	}
	return ModePlain, nil
}

// Manager bundles the printer and JSON writer for one command invocation.
type Manager struct {
	mode    Mode
	printer *Printer
	json    *JSONWriter
	stdout  io.Writer
}

// NewManager creates a new output manager.
func NewManager(mode Mode, verbose bool) *Manager {
	return NewManagerWithWriter(mode, verbose, os.Stdout)
}

// NewManagerWithWriter creates a new output manager with a custom writer (for testing).
func NewManagerWithWriter(mode Mode, verbose bool, w io.Writer) *Manager {
	return &Manager{
		mode:    mode,
		printer: NewPrinterWithWriter(mode, verbose, w),
		json:    NewJSONWriter(w),
		stdout:  w,
	}
}

// Mode returns the current output mode.
func (m *Manager) Mode() Mode {
	return m.mode
}

// IsJSON returns true if JSON mode is enabled.
func (m *Manager) IsJSON() bool {
	return m.mode == ModeJSON
}

// Printer returns the styled printer. It is silent outside plain mode.
func (m *Manager) Printer() *Printer {
	return m.printer
}

// Emit writes v as a JSON event in JSON mode and does nothing otherwise.
func (m *Manager) Emit(t EventType, v interface{}) error {
	if m.mode != ModeJSON {
		return nil
	}
	return m.json.Write(t, v)
}

// Fail reports err in the active mode. Quiet mode still prints errors.
func (m *Manager) Fail(err error) {
	switch m.mode {
	case ModeJSON:
		m.json.WriteError(err)
	case ModeQuiet:
		fmt.Fprintln(m.stdout, "error:", err)
	default:
		m.printer.Error("%v", err)
	}
}
