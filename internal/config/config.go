package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	// Directory holding buzz.db
	DataDir string `json:"data_dir" toml:"data_dir"`

	Server ServerConfig `json:"server" toml:"server"`
	Auth   AuthConfig   `json:"auth" toml:"auth"`
	LLM    LLMConfig    `json:"llm" toml:"llm"`
	Tools  ToolsConfig  `json:"tools" toml:"tools"`
	Speech SpeechConfig `json:"speech" toml:"speech"`
}

type ServerConfig struct {
	Addr            string        `json:"addr" toml:"addr"`
	APIPrefix       string        `json:"api_prefix" toml:"api_prefix"`
	CORSOrigins     []string      `json:"cors_origins" toml:"cors_origins"`
	ReadTimeout     time.Duration `json:"read_timeout" toml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" toml:"shutdown_timeout"`
}

type AuthConfig struct {
	// Required rejects requests without a bearer token. When false,
	// anonymous requests act as DemoUserID.
	Required   bool   `json:"required" toml:"required"`
	DemoUserID string `json:"demo_user_id" toml:"demo_user_id"`
}

type LLMConfig struct {
	Provider        string        `json:"provider" toml:"provider"`
	Model           string        `json:"model" toml:"model"`
	APIKey          string        `json:"api_key,omitempty" toml:"api_key,omitempty"`
	BaseURL         string        `json:"base_url,omitempty" toml:"base_url,omitempty"`
	Temperature     float64       `json:"temperature" toml:"temperature"`
	MaxTokens       int           `json:"max_tokens" toml:"max_tokens"`
	Timeout         time.Duration `json:"timeout" toml:"timeout"`
	SystemPrompt    string        `json:"system_prompt,omitempty" toml:"system_prompt,omitempty"`
	KnowledgeBaseID string        `json:"knowledge_base_id,omitempty" toml:"knowledge_base_id,omitempty"`
}

type ToolsConfig struct {
	Enabled bool `json:"enabled" toml:"enabled"`
	// Allowed restricts the enabled tools by name. Nil means all; a set but
	// empty list means none.
	Allowed []string `json:"allowed" toml:"allowed"`
}

type SpeechConfig struct {
	APIKey  string        `json:"api_key,omitempty" toml:"api_key,omitempty"`
	BaseURL string        `json:"base_url,omitempty" toml:"base_url,omitempty"`
	Voice   string        `json:"voice" toml:"voice"`
	Speed   float64       `json:"speed" toml:"speed"`
	Pitch   float64       `json:"pitch" toml:"pitch"`
	Timeout time.Duration `json:"timeout" toml:"timeout"`
}

const (
	MinSpeed = 0.25
	MaxSpeed = 4.0
	MinPitch = -20.0
	MaxPitch = 20.0
)

var providers = []string{"anthropic", "openai", "gemini", "ollama", "demo"}

func DefaultConfig() *Config {
	return &Config{
		DataDir: ".buzz",
		Server: ServerConfig{
			Addr:            ":8000",
			APIPrefix:       "/api/v1",
			CORSOrigins:     []string{"http://localhost:5173"},
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    3 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			DemoUserID: "demo-user",
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			Temperature: 0.7,
			MaxTokens:   4096,
			Timeout:     2 * time.Minute,
		},
		Tools: ToolsConfig{
			Enabled: true,
		},
		Speech: SpeechConfig{
			Voice:   "en-US-Neural2-D",
			Speed:   0.9,
			Pitch:   -2.0,
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads a JSON or TOML (by extension) config file over the defaults.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return cfg, nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	if isTOML(path) {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return err
		}
		defer f.Close()
		return toml.NewEncoder(f).Encode(c)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// DBPath is the SQLite file inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "buzz.db")
}

// LoadDotEnv populates the process environment from .env files. Missing
// files are not an error.
func LoadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from environment variables. getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("BUZZ_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv("API_PREFIX"); v != "" {
		c.Server.APIPrefix = v
	}
	if v := getenv("BUZZ_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = SplitList(v)
	}
	if v := getenv("BUZZ_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := getenv("BUZZ_AUTH_REQUIRED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BUZZ_AUTH_REQUIRED: %w", err)
		}
		c.Auth.Required = b
	}

	if v := getenv("BUZZ_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := getenv("BUZZ_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := getenv("BUZZ_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := getenv("BUZZ_KNOWLEDGE_BASE_ID"); v != "" {
		c.LLM.KnowledgeBaseID = v
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = getenv(apiKeyEnv(c.LLM.Provider))
	}
	if v := getenv("BUZZ_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}

	if v := getenv("ENABLE_TOOLS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENABLE_TOOLS: %w", err)
		}
		c.Tools.Enabled = b
	}
	if v := getenv("ENABLED_TOOLS"); v != "" {
		c.Tools.Allowed = append([]string{}, SplitList(v)...)
	}

	if v := getenv("GOOGLE_TTS_API_KEY"); v != "" {
		c.Speech.APIKey = v
	}
	return nil
}

func apiKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	}
	return "BUZZ_API_KEY"
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// HasCredentials reports whether the configured provider can be reached.
// Providers that need no key (ollama, demo) always can.
func (l LLMConfig) HasCredentials() bool {
	switch l.Provider {
	case "ollama", "demo":
		return true
	}
	return l.APIKey != ""
}

func (c *Config) Validate() error {
	var errs []error
	if !contains(providers, c.LLM.Provider) {
		errs = append(errs, fmt.Errorf("llm.provider %q is not one of %s", c.LLM.Provider, strings.Join(providers, ", ")))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must be positive"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f out of range [0, 2]", c.LLM.Temperature))
	}
	if c.Speech.Speed < MinSpeed || c.Speech.Speed > MaxSpeed {
		errs = append(errs, fmt.Errorf("speech.speed %.2f out of range [%.2f, %.1f]", c.Speech.Speed, MinSpeed, MaxSpeed))
	}
	if c.Speech.Pitch < MinPitch || c.Speech.Pitch > MaxPitch {
		errs = append(errs, fmt.Errorf("speech.pitch %.1f out of range [%.0f, %.0f]", c.Speech.Pitch, MinPitch, MaxPitch))
	}
	if c.Server.APIPrefix != "" && !strings.HasPrefix(c.Server.APIPrefix, "/") {
		errs = append(errs, fmt.Errorf("server.api_prefix %q must start with /", c.Server.APIPrefix))
	}
	return errors.Join(errs...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
