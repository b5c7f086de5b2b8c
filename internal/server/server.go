// Package server exposes chats, users and speech over HTTP.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/HexSleeves/buzz/internal/auth"
	"github.com/HexSleeves/buzz/internal/chat"
	"github.com/HexSleeves/buzz/internal/config"
	"github.com/HexSleeves/buzz/internal/speech"
	"github.com/HexSleeves/buzz/internal/state"
)

// maxBodyBytes bounds request bodies; attachments travel inline as base64.
const maxBodyBytes = 32 << 20

// Deps are the collaborators a Server routes to.
type Deps struct {
	Config *config.Config
	DB     *state.DB
	Chat   *chat.Service
	Auth   auth.Provider
	// Speech may be nil, in which case /tts answers 503.
	Speech speech.Synthesizer
	Logger *log.Logger
}

// Server is the HTTP API.
type Server struct {
	cfg    *config.Config
	db     *state.DB
	chat   *chat.Service
	auth   auth.Provider
	speech speech.Synthesizer
	logger *log.Logger
	now    func() time.Time
}

func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Server{
		cfg:    d.Config,
		db:     d.DB,
		chat:   d.Chat,
		auth:   d.Auth,
		speech: d.Speech,
		logger: logger,
		now:    time.Now,
	}
}

// Handler returns the routed handler wrapped in logging and CORS.
func (s *Server) Handler() http.Handler {
	p := s.cfg.Server.APIPrefix
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+p+"/health", s.handleHealth)

	mux.HandleFunc("POST "+p+"/auth/login", s.handleLogin)
	mux.HandleFunc("POST "+p+"/users", s.handleRegister)
	mux.HandleFunc("GET "+p+"/users", s.requireUser(s.handleListUsers))
	mux.HandleFunc("GET "+p+"/admin/current-user", s.handleCurrentUser)

	mux.HandleFunc("POST "+p+"/chat", s.requireUser(s.handleSendChat))
	mux.HandleFunc("POST "+p+"/chat/{$}", s.requireUser(s.handleSendChat))
	mux.HandleFunc("GET "+p+"/chat", s.requireUser(s.handleListChats))
	mux.HandleFunc("GET "+p+"/chat/{$}", s.requireUser(s.handleListChats))
	mux.HandleFunc("GET "+p+"/chat/{id}", s.requireUser(s.handleGetChat))
	mux.HandleFunc("DELETE "+p+"/chat/{id}", s.requireUser(s.handleDeleteChat))

	mux.HandleFunc("POST "+p+"/tts", s.requireUser(s.handleTTS))
	mux.HandleFunc("POST "+p+"/tts/{$}", s.requireUser(s.handleTTS))
	mux.HandleFunc("GET "+p+"/tts/voice", s.requireUser(s.handleGetVoice))
	mux.HandleFunc("PUT "+p+"/tts/voice", s.requireUser(s.handlePutVoice))

	return s.withLogging(s.withCORS(mux))
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		// In-flight replies keep running through the shutdown drain.
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	done := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			errc <- nil
			return
		}
		s.logger.Println("⛔ Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		errc <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Printf("🐝 Serving %s on http://%s", s.cfg.Server.APIPrefix, ln.Addr())
	err := srv.Serve(ln)
	close(done)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return <-errc
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"provider":      s.cfg.LLM.Provider,
		"model":         s.cfg.LLM.Model,
		"tools_enabled": s.cfg.Tools.Enabled,
		"tts_available": s.speech != nil,
		"time":          s.now().UTC().Format(time.RFC3339),
	})
}
