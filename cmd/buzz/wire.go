package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/HexSleeves/buzz/internal/auth"
	"github.com/HexSleeves/buzz/internal/chat"
	"github.com/HexSleeves/buzz/internal/config"
	"github.com/HexSleeves/buzz/internal/llm"
	"github.com/HexSleeves/buzz/internal/output"
	"github.com/HexSleeves/buzz/internal/speech"
	"github.com/HexSleeves/buzz/internal/state"
	"github.com/HexSleeves/buzz/internal/tools"
	"github.com/urfave/cli/v3"
)

// loadConfig layers the config file, the dotenv file, the environment and
// the global flags, in that order.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(cmd.String("env-file")); err != nil {
		return nil, fmt.Errorf("load %s: %w", cmd.String("env-file"), err)
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if v := cmd.String("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v := cmd.String("provider"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := cmd.String("model"); v != "" {
		cfg.LLM.Model = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func outputFor(cmd *cli.Command) *output.Manager {
	mode, _ := output.ModeFromFlags(cmd.Bool("json"), cmd.Bool("quiet"))
	return output.NewManagerWithWriter(mode, cmd.Bool("verbose"), cmd.Root().Writer)
}

// loggerFor logs to stderr when verbose and discards otherwise.
func loggerFor(cmd *cli.Command) *log.Logger {
	if cmd.Bool("verbose") {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

// newClient builds the provider client, falling back to demo mode when the
// provider has no credentials.
func newClient(cfg config.LLMConfig, logger *log.Logger) (llm.Client, error) {
	if !cfg.HasCredentials() {
		logger.Printf("⚠ No API key for provider %q, running in demo mode", cfg.Provider)
		return llm.NewDemoClient(), nil
	}
	return llm.NewFromConfig(llm.ProviderConfig{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	})
}

// newSynthesizer returns nil when speech is not configured.
func newSynthesizer(cfg config.SpeechConfig) speech.Synthesizer {
	if g := speech.NewGoogleSynthesizer(cfg); g != nil {
		return g
	}
	return nil
}

// app is everything a command needs, opened once per invocation.
type app struct {
	cfg    *config.Config
	db     *state.DB
	chat   *chat.Service
	auth   *auth.PlaceholderProvider
	speech speech.Synthesizer
	out    *output.Manager
	logger *log.Logger
}

// openApp loads config, opens the database and wires the chat service.
func openApp(ctx context.Context, cmd *cli.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := loggerFor(cmd)

	for _, u := range tools.CheckAllowed(cfg.Tools.Allowed) {
		if u.Suggestion != "" {
			logger.Printf("⚠ Unknown tool %q in allow-list (did you mean %q?)", u.Name, u.Suggestion)
		} else {
			logger.Printf("⚠ Unknown tool %q in allow-list", u.Name)
		}
	}

	db, err := state.OpenDB(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.EnsureUser(ctx, cfg.Auth.DemoUserID, cfg.Auth.DemoUserID+"@localhost", "Demo"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure demo user: %w", err)
	}

	client, err := newClient(cfg.LLM, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	conv := chat.NewConverser(client, cfg.LLM)
	conv.SetLogger(logger)

	svc := chat.NewService(db, conv, cfg.Tools, speech.DefaultVoice(cfg.Speech))
	svc.SetLogger(logger)

	return &app{
		cfg:    cfg,
		db:     db,
		chat:   svc,
		auth:   auth.NewPlaceholderProvider(db),
		speech: newSynthesizer(cfg.Speech),
		out:    outputFor(cmd),
		logger: logger,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// userFlag returns the --user flag, or the demo user.
func (a *app) userFlag(cmd *cli.Command) string {
	if u := cmd.String("user"); u != "" {
		return u
	}
	return a.cfg.Auth.DemoUserID
}
