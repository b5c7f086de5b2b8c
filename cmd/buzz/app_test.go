package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type event struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Kind    string `json:"kind"`
	} `json:"error"`
}

// runBuzz runs the CLI against a temp data dir with the demo provider and
// returns everything written to stdout.
func runBuzz(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	app.ErrWriter = &buf

	base := []string{"buzz",
		"--config", filepath.Join(dir, "buzz.json"),
		"--env-file", filepath.Join(dir, "missing.env"),
		"--data-dir", filepath.Join(dir, "data"),
		"--provider", "demo",
	}
	err := app.Run(context.Background(), append(base, args...))
	return buf.String(), err
}

func events(t *testing.T, out string) []event {
	t.Helper()
	var evs []event
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		evs = append(evs, ev)
	}
	return evs
}

func TestOutputFlagsMutuallyExclusive(t *testing.T) {
	_, err := runBuzz(t, t.TempDir(), "--json", "--quiet", "tools")
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("expected mutual exclusion error, got %v", err)
	}
}

func TestInitWritesConfig(t *testing.T) {
	dir := t.TempDir()
	if _, err := runBuzz(t, dir, "init"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "buzz.json")); err != nil {
		t.Errorf("config not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "data")); err != nil {
		t.Errorf("data dir not created: %v", err)
	}

	if _, err := runBuzz(t, dir, "init"); err == nil {
		t.Error("expected error re-initializing without --force")
	}
	if _, err := runBuzz(t, dir, "init", "--force"); err != nil {
		t.Errorf("init --force failed: %v", err)
	}
}

func TestAskThenManageChats(t *testing.T) {
	dir := t.TempDir()

	out, err := runBuzz(t, dir, "--json", "ask", "what", "time", "is", "it")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	evs := events(t, out)
	if len(evs) != 1 || evs[0].Type != "reply" {
		t.Fatalf("unexpected events %+v", evs)
	}
	var reply struct {
		ChatID  int64  `json:"chat_id"`
		Content string `json:"content"`
	}
	json.Unmarshal(evs[0].Data, &reply)
	if reply.ChatID == 0 || !strings.Contains(reply.Content, "what time is it") {
		t.Errorf("unexpected reply %+v", reply)
	}

	out, err = runBuzz(t, dir, "--json", "chats", "list")
	if err != nil {
		t.Fatalf("chats list failed: %v", err)
	}
	var chats []struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
	}
	json.Unmarshal(events(t, out)[0].Data, &chats)
	if len(chats) != 1 || chats[0].Title != "what time is it" {
		t.Fatalf("unexpected chats %+v", chats)
	}

	exportPath := filepath.Join(dir, "chat.yaml")
	if _, err := runBuzz(t, dir, "chats", "export", "--out", exportPath, "1"); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatal(err)
	}
	var doc exportedChat
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("export is not YAML: %v", err)
	}
	if doc.ID != 1 || len(doc.Messages) != 2 || doc.Messages[0].Role != "user" {
		t.Errorf("unexpected export %+v", doc)
	}

	if _, err := runBuzz(t, dir, "chats", "delete", "1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := runBuzz(t, dir, "chats", "show", "1"); err == nil {
		t.Error("expected not found after delete")
	}
}

func TestChatsScopedToUser(t *testing.T) {
	dir := t.TempDir()
	if _, err := runBuzz(t, dir, "--json", "ask", "hello"); err != nil {
		t.Fatal(err)
	}
	out, err := runBuzz(t, dir, "--json", "chats", "--user", "someone-else", "list")
	if err != nil {
		t.Fatal(err)
	}
	if d := string(events(t, out)[0].Data); d != "[]" {
		t.Errorf("expected no chats for another user, got %s", d)
	}
}

func TestChatArgValidation(t *testing.T) {
	if _, err := runBuzz(t, t.TempDir(), "chats", "show", "abc"); err == nil {
		t.Error("expected error for non-numeric id")
	}
	if _, err := runBuzz(t, t.TempDir(), "chats", "show"); err == nil {
		t.Error("expected usage error with no id")
	}
}

func TestUsersAddAndList(t *testing.T) {
	dir := t.TempDir()
	if _, err := runBuzz(t, dir, "--quiet", "users", "add", "--first-name", "Ada", "--password", "engine", "ada@example.com"); err != nil {
		t.Fatalf("users add failed: %v", err)
	}
	if _, err := runBuzz(t, dir, "users", "add", "--first-name", "Ada", "--password", "x", "ada@example.com"); err == nil {
		t.Error("expected duplicate email error")
	}

	out, err := runBuzz(t, dir, "--json", "users", "list")
	if err != nil {
		t.Fatal(err)
	}
	var users []struct {
		Email string `json:"email"`
	}
	json.Unmarshal(events(t, out)[0].Data, &users)
	// The demo user plus Ada.
	if len(users) != 2 {
		t.Errorf("expected 2 users, got %+v", users)
	}
	if strings.Contains(out, "password") {
		t.Error("password hash leaked into output")
	}
}

func TestSayStripOnly(t *testing.T) {
	out, err := runBuzz(t, t.TempDir(), "say", "--strip-only", "## Hello **world**")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "Hello world" {
		t.Errorf("unexpected stripped text %q", out)
	}
}

func TestSayWithoutKey(t *testing.T) {
	t.Setenv("GOOGLE_TTS_API_KEY", "")
	_, err := runBuzz(t, t.TempDir(), "say", "hello")
	if err == nil || !strings.Contains(err.Error(), "not available") {
		t.Errorf("expected unavailable error, got %v", err)
	}
}

func TestToolsListing(t *testing.T) {
	t.Setenv("ENABLED_TOOLS", "calculate")
	out, err := runBuzz(t, t.TempDir(), "--json", "tools")
	if err != nil {
		t.Fatal(err)
	}
	var rows []struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}
	json.Unmarshal(events(t, out)[0].Data, &rows)
	if len(rows) != 4 {
		t.Fatalf("expected 4 tools, got %d", len(rows))
	}
	for _, r := range rows {
		if r.Enabled != (r.Name == "calculate") {
			t.Errorf("tool %s enabled=%v", r.Name, r.Enabled)
		}
	}
}

func TestMask(t *testing.T) {
	tests := map[string]string{
		"":                "(not set)",
		"short":           "****",
		"sk-ant-12345678": "sk-a…5678",
	}
	for in, want := range tests {
		if got := mask(in); got != want {
			t.Errorf("mask(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToolsListingPlain(t *testing.T) {
	t.Setenv("ENABLED_TOOLS", "calculate")
	out, err := runBuzz(t, t.TempDir(), "tools")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "get_current_time (off)") || strings.Contains(out, "calculate (off)") {
		t.Errorf("unexpected listing:\n%s", out)
	}
	if !strings.Contains(out, "arithmetic") {
		t.Errorf("descriptions missing:\n%s", out)
	}
}

func TestToolsBlankAllowListEnablesNone(t *testing.T) {
	t.Setenv("ENABLED_TOOLS", ",,")
	out, err := runBuzz(t, t.TempDir(), "--json", "tools")
	if err != nil {
		t.Fatal(err)
	}
	var rows []struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}
	json.Unmarshal(events(t, out)[0].Data, &rows)
	for _, r := range rows {
		if r.Enabled {
			t.Errorf("tool %s enabled by a blank allow-list", r.Name)
		}
	}
}

func TestVerboseDebugOutput(t *testing.T) {
	dir := t.TempDir()
	out, err := runBuzz(t, dir, "--verbose", "config")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "config file") || !strings.Contains(out, "not found, skipped") {
		t.Errorf("missing config provenance:\n%s", out)
	}

	out, err = runBuzz(t, dir, "config")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "not found, skipped") {
		t.Errorf("debug output without --verbose:\n%s", out)
	}

	out, err = runBuzz(t, dir, "--verbose", "--provider", "ollama", "config")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "--provider=ollama overrides") {
		t.Errorf("missing flag provenance:\n%s", out)
	}
}

func TestVoiceSetAndShow(t *testing.T) {
	dir := t.TempDir()
	if _, err := runBuzz(t, dir, "--quiet", "voice", "--speed", "1.5", "--pitch", "2"); err != nil {
		t.Fatalf("voice set failed: %v", err)
	}
	if _, err := runBuzz(t, dir, "voice", "--speed", "9"); err == nil {
		t.Error("expected out-of-range speed to be rejected")
	}

	out, err := runBuzz(t, dir, "--json", "voice")
	if err != nil {
		t.Fatal(err)
	}
	var v struct {
		Voice string  `json:"voice"`
		Speed float64 `json:"speed"`
		Pitch float64 `json:"pitch"`
	}
	json.Unmarshal(events(t, out)[0].Data, &v)
	if v.Speed != 1.5 || v.Pitch != 2 || v.Voice == "" {
		t.Errorf("unexpected voice %+v", v)
	}

	// The saved voice rides along with chat replies.
	out, err = runBuzz(t, dir, "--json", "ask", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(events(t, out)[0].Data), `"speed":1.5`) {
		t.Errorf("reply missing saved voice: %s", out)
	}
}
