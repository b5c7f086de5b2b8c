package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/HexSleeves/buzz/internal/chat"
	"github.com/HexSleeves/buzz/internal/config"
	"github.com/HexSleeves/buzz/internal/errors"
	"github.com/HexSleeves/buzz/internal/output"
	"github.com/HexSleeves/buzz/internal/server"
	"github.com/HexSleeves/buzz/internal/speech"
	"github.com/HexSleeves/buzz/internal/tools"
	"github.com/urfave/cli/v3"
)

func cmdServe(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	// The server always logs requests, verbose or not.
	logger := log.New(os.Stderr, "", log.LstdFlags)
	if v := cmd.String("addr"); v != "" {
		a.cfg.Server.Addr = v
	}
	logger.Printf("🐝 Database: %s", a.db.Path())
	if a.speech == nil {
		logger.Println("⚠ GOOGLE_TTS_API_KEY not set, /tts will answer 503")
	}
	if !a.cfg.Tools.Enabled {
		logger.Println("⚠ Tool calling disabled")
	}

	srv := server.New(server.Deps{
		Config: a.cfg,
		DB:     a.db,
		Chat:   a.chat,
		Auth:   a.auth,
		Speech: a.speech,
		Logger: logger,
	})
	return srv.Start(ctx)
}

func cmdInit(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	out := outputFor(cmd)

	if _, err := os.Stat(configPath); err == nil && !cmd.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	cfg := config.DefaultConfig()
	if v := cmd.String("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", cfg.DataDir, err)
	}
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out.Printer().Success("Config saved to %s", configPath)
	out.Printer().Info("Data directory: %s", cfg.DataDir)
	return out.Emit(output.EventInit, map[string]string{"config": configPath, "data_dir": cfg.DataDir})
}

func cmdConfig(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := outputFor(cmd)
	p := out.Printer()
	p.Debug("config file %s: %s", cmd.String("config"), fileState(cmd.String("config")))
	p.Debug("env file %s: %s", cmd.String("env-file"), fileState(cmd.String("env-file")))
	for _, flag := range []string{"data-dir", "provider", "model"} {
		if cmd.IsSet(flag) {
			p.Debug("--%s=%s overrides file and environment", flag, cmd.String(flag))
		}
	}

	shown := *cfg
	shown.LLM.APIKey = mask(cfg.LLM.APIKey)
	shown.Speech.APIKey = mask(cfg.Speech.APIKey)
	if out.IsJSON() {
		return out.Emit(output.EventConfig, shown)
	}

	toolList := strings.Join(toolNames(cfg.Tools), ", ")
	if toolList == "" {
		toolList = "(none)"
	}
	tts := "unavailable"
	if cfg.Speech.APIKey != "" {
		tts = fmt.Sprintf("%s @ %.2fx, %+.1f st", cfg.Speech.Voice, cfg.Speech.Speed, cfg.Speech.Pitch)
	}

	p.Section(fmt.Sprintf("Configuration (%s)", cmd.String("config")))
	p.KeyValue([][]string{
		{"Data Dir", cfg.DataDir},
		{"Listen", cfg.Server.Addr + cfg.Server.APIPrefix},
		{"Auth Required", fmt.Sprint(cfg.Auth.Required)},
		{"Provider", fmt.Sprintf("%s (%s)", cfg.LLM.Provider, cfg.LLM.Model)},
		{"API Key", shown.LLM.APIKey},
		{"Temperature", fmt.Sprintf("%.2f", cfg.LLM.Temperature)},
		{"Max Tokens", fmt.Sprint(cfg.LLM.MaxTokens)},
		{"Knowledge Base", cfg.LLM.KnowledgeBaseID},
		{"Tools", toolList},
		{"Speech", tts},
	})
	for _, u := range tools.CheckAllowed(cfg.Tools.Allowed) {
		if u.Suggestion != "" {
			p.Warning("Unknown tool %q in allow-list (did you mean %q?)", u.Name, u.Suggestion)
		} else {
			p.Warning("Unknown tool %q in allow-list", u.Name)
		}
	}
	return nil
}

func toolNames(cfg config.ToolsConfig) []string {
	enabled := tools.ListEnabled(cfg)
	names := make([]string, 0, len(enabled))
	for _, t := range enabled {
		names = append(names, t.Name)
	}
	return names
}

func fileState(path string) string {
	if _, err := os.Stat(path); err != nil {
		return "not found, skipped"
	}
	return "loaded"
}

func mask(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 8:
		return "****"
	}
	return key[:4] + "…" + key[len(key)-4:]
}

func cmdTools(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := outputFor(cmd)

	enabled := map[string]bool{}
	for _, t := range tools.ListEnabled(cfg.Tools) {
		enabled[t.Name] = true
	}
	defs := tools.Definitions()
	if out.IsJSON() {
		type toolRow struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Enabled     bool   `json:"enabled"`
		}
		rows := make([]toolRow, 0, len(defs))
		for _, d := range defs {
			rows = append(rows, toolRow{d.Name, d.Description, enabled[d.Name]})
		}
		return out.Emit(output.EventTools, rows)
	}

	items := make([]output.BulletItem, 0, 2*len(defs))
	for _, d := range defs {
		item := output.BulletItem{Icon: "✓", Text: d.Name}
		if !enabled[d.Name] {
			item = output.BulletItem{Icon: "✗", Text: d.Name + " (off)"}
		}
		items = append(items, item, output.BulletItem{Level: 1, Icon: "·", Text: d.Description})
	}
	p := out.Printer()
	p.Header("Tools")
	p.BulletList(items)
	return nil
}

func cmdAsk(ctx context.Context, cmd *cli.Command) error {
	message := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if message == "" {
		return fmt.Errorf("usage: buzz ask <message>")
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	p := a.out.Printer()
	if cmd.Bool("no-tools") {
		p.Debug("%s/%s, tools off", a.cfg.LLM.Provider, a.cfg.LLM.Model)
	} else {
		p.Debug("%s/%s, tools: %s", a.cfg.LLM.Provider, a.cfg.LLM.Model, strings.Join(toolNames(a.cfg.Tools), ", "))
	}
	started := time.Now()

	sp := p.Spinner("Thinking...")
	reply, err := a.chat.Send(ctx, chat.SendRequest{
		UserID:      a.userFlag(cmd),
		Message:     message,
		ChatID:      cmd.Int64("chat"),
		EnableTools: !cmd.Bool("no-tools"),
	})
	if err != nil {
		sp.Fail("Failed")
		a.out.Fail(err)
		return cli.Exit("", 1)
	}
	sp.Stop(fmt.Sprintf("Chat %d", reply.ChatID))
	p.Debug("reply of %d bytes in %s", len(reply.Content), time.Since(started).Round(time.Millisecond))

	if a.out.IsJSON() {
		return a.out.Emit(output.EventReply, reply)
	}
	if a.out.Mode() == output.ModePlain {
		p.Message(reply.Role, reply.Content, terminalWidth())
	} else {
		fmt.Fprintln(cmd.Root().Writer, reply.Content)
	}
	return nil
}

func cmdSay(ctx context.Context, cmd *cli.Command) error {
	text := strings.Join(cmd.Args().Slice(), " ")
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := outputFor(cmd)

	if cmd.Bool("strip-only") {
		stripped := speech.Strip(text)
		if out.IsJSON() {
			return out.Emit(output.EventSpeech, map[string]string{"text": stripped})
		}
		fmt.Fprintln(cmd.Root().Writer, stripped)
		return nil
	}

	def := speech.DefaultVoice(cfg.Speech)
	req := speech.Request{Text: text, Voice: def.Voice, Speed: def.Speed, Pitch: def.Pitch}
	if v := cmd.String("voice"); v != "" {
		req.Voice = v
	}
	if cmd.IsSet("speed") {
		req.Speed = cmd.Float("speed")
	}
	if cmd.IsSet("pitch") {
		req.Pitch = cmd.Float("pitch")
	}
	if err := req.Validate(); err != nil {
		return err
	}

	synth := newSynthesizer(cfg.Speech)
	if synth == nil {
		return errors.New(errors.KindUnavailable, "Text-to-speech service is not available (set GOOGLE_TTS_API_KEY)")
	}
	req.Text = speech.Strip(req.Text)
	if req.Text == "" {
		return errors.New(errors.KindValidation, "Text has nothing to read aloud once formatting is removed")
	}

	audio, err := synth.Synthesize(ctx, req)
	if err != nil {
		return fmt.Errorf("text-to-speech failed: %w", err)
	}
	path := cmd.String("out")
	if err := os.WriteFile(path, audio, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	out.Printer().Success("Wrote %d bytes to %s", len(audio), path)
	return out.Emit(output.EventSpeech, map[string]interface{}{"file": path, "bytes": len(audio)})
}
