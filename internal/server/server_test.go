package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HexSleeves/buzz/internal/auth"
	"github.com/HexSleeves/buzz/internal/chat"
	"github.com/HexSleeves/buzz/internal/config"
	"github.com/HexSleeves/buzz/internal/llm"
	"github.com/HexSleeves/buzz/internal/speech"
	"github.com/HexSleeves/buzz/internal/state"
)

type fakeSynth struct {
	got   speech.Request
	audio []byte
	err   error
}

func (f *fakeSynth) Synthesize(ctx context.Context, req speech.Request) ([]byte, error) {
	f.got = req
	return f.audio, f.err
}

type testEnv struct {
	srv  *Server
	db   *state.DB
	auth *auth.PlaceholderProvider
	h    http.Handler
}

func newTestEnv(t *testing.T, mutate func(*config.Config), synth speech.Synthesizer) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "demo"
	if mutate != nil {
		mutate(cfg)
	}

	db, err := state.OpenDB(t.TempDir())
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.EnsureUser(context.Background(), cfg.Auth.DemoUserID, "demo@example.com", "Demo"); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}

	quiet := log.New(io.Discard, "", 0)
	conv := chat.NewConverser(llm.NewDemoClient(), cfg.LLM)
	conv.SetLogger(quiet)
	svc := chat.NewService(db, conv, cfg.Tools, speech.DefaultVoice(cfg.Speech))
	svc.SetLogger(quiet)
	provider := auth.NewPlaceholderProvider(db)

	srv := New(Deps{Config: cfg, DB: db, Chat: svc, Auth: provider, Speech: synth, Logger: quiet})
	return &testEnv{srv: srv, db: db, auth: provider, h: srv.Handler()}
}

func (e *testEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, "/api/v1"+path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	decode(t, rec, &body)
	return body.Detail
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	rec := e.do("GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	decode(t, rec, &body)
	if body["status"] != "ok" || body["tts_available"] != false {
		t.Errorf("unexpected health %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestRegisterAndLogin(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	rec := e.do("POST", "/users", "", map[string]string{
		"first_name": "Ada", "last_name": "Lovelace", "email": "ada@example.com", "password": "engine",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var reg tokenResponse
	decode(t, rec, &reg)
	if reg.UserID == "" || reg.TokenType != "bearer" || reg.FirstName != "Ada" {
		t.Errorf("unexpected register response %+v", reg)
	}

	rec = e.do("POST", "/users", "", map[string]string{
		"first_name": "Ada", "last_name": "L", "email": "ada@example.com", "password": "x",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate: expected 409, got %d", rec.Code)
	}

	rec = e.do("POST", "/auth/login", "", map[string]string{"email": "ada@example.com", "password": "engine"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var login tokenResponse
	decode(t, rec, &login)
	if login.AccessToken != reg.AccessToken {
		t.Errorf("expected the same token, got %q and %q", login.AccessToken, reg.AccessToken)
	}

	rec = e.do("POST", "/auth/login", "", map[string]string{"email": "ada@example.com", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized || detail(t, rec) != "Invalid credentials" {
		t.Errorf("bad password: got %d %s", rec.Code, rec.Body)
	}
	rec = e.do("POST", "/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown email: expected 401, got %d", rec.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	cases := []map[string]string{
		{"first_name": "", "last_name": "L", "email": "a@example.com", "password": "p"},
		{"first_name": "A", "last_name": "L", "email": "not-an-email", "password": "p"},
		{"first_name": "A", "last_name": "L", "email": "a@example.com", "password": ""},
	}
	for i, body := range cases {
		if rec := e.do("POST", "/users", "", body); rec.Code != http.StatusBadRequest {
			t.Errorf("case %d: expected 400, got %d", i, rec.Code)
		}
	}
}

func TestCurrentUser(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	if rec := e.do("GET", "/admin/current-user", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", rec.Code)
	}
	if rec := e.do("GET", "/admin/current-user", "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", rec.Code)
	}

	rec := e.do("GET", "/admin/current-user", e.auth.Issue("demo-user"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		User auth.Claims `json:"user"`
	}
	decode(t, rec, &body)
	if body.User.UserID != "demo-user" || body.User.Email != "demo@example.com" {
		t.Errorf("unexpected claims %+v", body.User)
	}
}

func TestListUsersPaging(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	for i := 0; i < 4; i++ {
		email := fmt.Sprintf("u%d@example.com", i)
		if _, err := e.db.CreateUser(context.Background(), state.User{Email: email, FirstName: "U", IsActive: true}); err != nil {
			t.Fatal(err)
		}
	}

	rec := e.do("GET", "/users?page=2&size=2", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var page userPage
	decode(t, rec, &page)
	// 4 created plus the demo user.
	if page.ItemCount != 5 || page.PageCount != 3 || len(page.Items) != 2 {
		t.Errorf("unexpected page %+v", page)
	}
	if page.PrevPage == nil || *page.PrevPage != 1 || page.NextPage == nil || *page.NextPage != 3 {
		t.Errorf("unexpected links prev=%v next=%v", page.PrevPage, page.NextPage)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("password hash leaked into listing")
	}

	if rec := e.do("GET", "/users?size=500", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("oversize page: expected 400, got %d", rec.Code)
	}
	if rec := e.do("GET", "/users?page=9223372036854775807&size=100", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("page near MaxInt64: expected 400, got %d", rec.Code)
	}
	rec = e.do("GET", fmt.Sprintf("/users?page=%d&size=%d", maxPage, maxPageSize), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("last allowed page: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var last userPage
	decode(t, rec, &last)
	if len(last.Items) != 0 || last.NextPage != nil {
		t.Errorf("unexpected last page %+v", last)
	}
}

func TestChatLifecycle(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	rec := e.do("POST", "/chat", "", map[string]interface{}{"message": "hello there"})
	if rec.Code != http.StatusOK {
		t.Fatalf("send: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var reply chat.MessageView
	decode(t, rec, &reply)
	if reply.Role != state.RoleAssistant || reply.Content != llm.DemoReply("hello there") {
		t.Errorf("unexpected reply %+v", reply)
	}
	if reply.VoiceSettings.Voice == "" {
		t.Error("expected voice settings on the reply")
	}

	rec = e.do("POST", "/chat", "", map[string]interface{}{"message": "again", "chat_id": reply.ChatID, "enable_tools": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("follow-up: expected 200, got %d", rec.Code)
	}

	rec = e.do("GET", "/chat", "", nil)
	var chats []state.Chat
	decode(t, rec, &chats)
	if len(chats) != 1 || chats[0].ID != reply.ChatID || chats[0].Title != "hello there" {
		t.Fatalf("unexpected chats %+v", chats)
	}

	rec = e.do("GET", fmt.Sprintf("/chat/%d", reply.ChatID), "", nil)
	var view chat.ChatView
	decode(t, rec, &view)
	if len(view.Messages) != 4 {
		t.Errorf("expected 4 messages, got %d", len(view.Messages))
	}

	rec = e.do("DELETE", fmt.Sprintf("/chat/%d", reply.ChatID), "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Chat deleted successfully") {
		t.Errorf("delete: got %d %s", rec.Code, rec.Body)
	}
	if rec := e.do("GET", fmt.Sprintf("/chat/%d", reply.ChatID), "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("after delete: expected 404, got %d", rec.Code)
	}
}

func TestChatErrors(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	if rec := e.do("POST", "/chat", "", map[string]string{"message": "  "}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty message: expected 400, got %d", rec.Code)
	}
	if rec := e.do("GET", "/chat/abc", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}
	if rec := e.do("POST", "/chat", "", map[string]interface{}{"message": "hi", "chat_id": 999}); rec.Code != http.StatusNotFound {
		t.Errorf("missing chat: expected 404, got %d", rec.Code)
	}

	req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec.Code)
	}
}

func TestChatOwnership(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	ctx := context.Background()
	other, err := e.db.CreateUser(ctx, state.User{Email: "o@example.com", FirstName: "O", IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	c, err := e.db.CreateChat(ctx, other.ID, "private")
	if err != nil {
		t.Fatal(err)
	}

	if rec := e.do("GET", fmt.Sprintf("/chat/%d", c.ID), "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("demo user reading another's chat: expected 404, got %d", rec.Code)
	}
	if rec := e.do("GET", fmt.Sprintf("/chat/%d", c.ID), e.auth.Issue(other.ID), nil); rec.Code != http.StatusOK {
		t.Errorf("owner: expected 200, got %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) { c.Auth.Required = true }, nil)

	if rec := e.do("GET", "/chat", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", rec.Code)
	}
	if rec := e.do("GET", "/chat", e.auth.Issue("demo-user"), nil); rec.Code != http.StatusOK {
		t.Errorf("valid token: expected 200, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	req := httptest.NewRequest("OPTIONS", "/api/v1/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("unexpected allow-origin %q", got)
	}

	req = httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin should not be allowed")
	}
}

func TestCORSWildcardWithoutCredentials(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) {
		c.Server.CORSOrigins = []string{"*", "http://app.example"}
	}, nil)

	get := func(origin string) http.Header {
		req := httptest.NewRequest("GET", "/api/v1/health", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		e.h.ServeHTTP(rec, req)
		return rec.Header()
	}

	h := get("http://anywhere.example")
	if h.Get("Access-Control-Allow-Origin") != "http://anywhere.example" {
		t.Errorf("wildcard should allow any origin, got %q", h.Get("Access-Control-Allow-Origin"))
	}
	if h.Get("Access-Control-Allow-Credentials") != "" {
		t.Error("wildcard match must not allow credentials")
	}

	h = get("http://app.example")
	if h.Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("listed origin should allow credentials")
	}
}

func TestTTS(t *testing.T) {
	synth := &fakeSynth{audio: []byte("ID3fake")}
	e := newTestEnv(t, nil, synth)

	rec := e.do("POST", "/tts", "", map[string]interface{}{"text": "## Hello **world**", "speed": 1.5})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("Content-Type") != "audio/mpeg" || rec.Body.String() != "ID3fake" {
		t.Errorf("unexpected audio response %q %q", rec.Header().Get("Content-Type"), rec.Body)
	}
	if synth.got.Text != "Hello world" || synth.got.Speed != 1.5 || synth.got.Pitch != -2 || synth.got.Voice != "en-US-Neural2-D" {
		t.Errorf("unexpected synth request %+v", synth.got)
	}
}

func TestVoiceSettingsPerUser(t *testing.T) {
	synth := &fakeSynth{audio: []byte("ID3")}
	e := newTestEnv(t, nil, synth)

	var v speech.VoiceSettings
	rec := e.do("GET", "/tts/voice", "", nil)
	decode(t, rec, &v)
	if v != (speech.VoiceSettings{Voice: "en-US-Neural2-D", Speed: 0.9, Pitch: -2}) {
		t.Errorf("unexpected defaults %+v", v)
	}

	rec = e.do("PUT", "/tts/voice", "", map[string]interface{}{"speed": 1.5})
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT voice: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	decode(t, rec, &v)
	if v.Speed != 1.5 || v.Voice != "en-US-Neural2-D" || v.Pitch != -2 {
		t.Errorf("partial update lost fields: %+v", v)
	}
	if rec := e.do("PUT", "/tts/voice", "", map[string]interface{}{"pitch": 30}); rec.Code != http.StatusBadRequest {
		t.Errorf("pitch out of range: expected 400, got %d", rec.Code)
	}

	if rec := e.do("POST", "/tts", "", map[string]interface{}{"text": "hi"}); rec.Code != http.StatusOK {
		t.Fatalf("tts: expected 200, got %d", rec.Code)
	}
	if synth.got.Speed != 1.5 {
		t.Errorf("tts ignored saved speed: %+v", synth.got)
	}

	rec = e.do("POST", "/chat", "", map[string]interface{}{"message": "hello"})
	var reply struct {
		VoiceSettings speech.VoiceSettings `json:"voice_settings"`
	}
	decode(t, rec, &reply)
	if reply.VoiceSettings.Speed != 1.5 {
		t.Errorf("chat reply voice = %+v", reply.VoiceSettings)
	}

	other, err := e.db.CreateUser(context.Background(), state.User{Email: "v@example.com", FirstName: "V", IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	decode(t, e.do("GET", "/tts/voice", e.auth.Issue(other.ID), nil), &v)
	if v.Speed != 0.9 {
		t.Errorf("another user's voice changed: %+v", v)
	}
}

func TestTTSErrors(t *testing.T) {
	synth := &fakeSynth{}
	e := newTestEnv(t, nil, synth)

	rec := e.do("POST", "/tts", "", map[string]interface{}{"text": ""})
	if rec.Code != http.StatusBadRequest || detail(t, rec) != "Text is required" {
		t.Errorf("empty text: got %d %s", rec.Code, rec.Body)
	}
	if rec := e.do("POST", "/tts", "", map[string]interface{}{"text": "hi", "speed": 9}); rec.Code != http.StatusBadRequest {
		t.Errorf("speed out of range: expected 400, got %d", rec.Code)
	}
	if rec := e.do("POST", "/tts", "", map[string]interface{}{"text": "```\ncode\n```"}); rec.Code != http.StatusBadRequest {
		t.Errorf("only code: expected 400, got %d", rec.Code)
	}
	long := strings.Repeat("[", speech.MaxTextBytes) + "a"
	if rec := e.do("POST", "/tts", "", map[string]interface{}{"text": long}); rec.Code != http.StatusBadRequest {
		t.Errorf("oversized text: expected 400, got %d", rec.Code)
	}
	if synth.got.Text != "" {
		t.Errorf("synthesizer called for rejected input %q", synth.got.Text)
	}

	synth.err = fmt.Errorf("quota exceeded")
	rec = e.do("POST", "/tts", "", map[string]interface{}{"text": "hi"})
	if rec.Code != http.StatusInternalServerError || detail(t, rec) != "Text-to-speech failed: quota exceeded" {
		t.Errorf("synth failure: got %d %s", rec.Code, rec.Body)
	}

	bare := newTestEnv(t, nil, nil)
	rec = bare.do("POST", "/tts", "", map[string]interface{}{"text": "hi"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no synth: expected 503, got %d", rec.Code)
	}
}

// blockingSynth holds a request open until released and reports whether
// the request context survived.
type blockingSynth struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingSynth) Synthesize(ctx context.Context, req speech.Request) ([]byte, error) {
	close(b.started)
	<-b.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte("ID3"), nil
}

func TestServeDrainsInFlightOnShutdown(t *testing.T) {
	synth := &blockingSynth{started: make(chan struct{}), release: make(chan struct{})}
	e := newTestEnv(t, func(c *config.Config) { c.Server.ShutdownTimeout = 5 * time.Second }, synth)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- e.srv.Serve(ctx, ln) }()

	type result struct {
		code int
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.Post("http://"+ln.Addr().String()+"/api/v1/tts", "application/json", strings.NewReader(`{"text":"hi"}`))
		if err != nil {
			got <- result{err: err}
			return
		}
		resp.Body.Close()
		got <- result{code: resp.StatusCode}
	}()

	<-synth.started
	cancel()
	close(synth.release)

	r := <-got
	if r.err != nil || r.code != http.StatusOK {
		t.Errorf("in-flight request during shutdown: code %d err %v", r.code, r.err)
	}
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
}

func TestServeReturnsListenerFailure(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ln.Close()

	served := make(chan error, 1)
	go func() { served <- e.srv.Serve(context.Background(), ln) }()
	select {
	case err := <-served:
		if err == nil {
			t.Error("expected an error from a closed listener")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve hung on a closed listener")
	}
}
