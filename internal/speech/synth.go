package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HexSleeves/buzz/internal/config"
	"github.com/HexSleeves/buzz/internal/errors"
)

const (
	defaultGoogleBaseURL = "https://texttospeech.googleapis.com"
	languageCode         = "en-US"

	// MaxTextBytes is the largest input Google accepts in one request.
	MaxTextBytes = 5000
)

// Request is one synthesis job. Text is expected to be stripped already.
type Request struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
	Pitch float64 `json:"pitch"`
}

// Validate rejects blank or oversized text and out-of-range speed or pitch.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return errors.New(errors.KindValidation, "Text is required")
	}
	if len(r.Text) > MaxTextBytes {
		return errors.Newf(errors.KindValidation, "text is %d bytes, limit is %d", len(r.Text), MaxTextBytes)
	}
	return checkRanges(r.Speed, r.Pitch)
}

func checkRanges(speed, pitch float64) error {
	if speed < config.MinSpeed || speed > config.MaxSpeed {
		return errors.Newf(errors.KindValidation, "speed must be between %.2f and %.1f", config.MinSpeed, config.MaxSpeed)
	}
	if pitch < config.MinPitch || pitch > config.MaxPitch {
		return errors.Newf(errors.KindValidation, "pitch must be between %.1f and %.1f", config.MinPitch, config.MaxPitch)
	}
	return nil
}

// VoiceSettings are the defaults a client should use to read a message aloud.
type VoiceSettings struct {
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
	Pitch float64 `json:"pitch"`
}

// Validate rejects a blank voice and out-of-range speed or pitch.
func (v VoiceSettings) Validate() error {
	if strings.TrimSpace(v.Voice) == "" {
		return errors.New(errors.KindValidation, "voice is required")
	}
	return checkRanges(v.Speed, v.Pitch)
}

// DefaultVoice returns the configured voice settings.
func DefaultVoice(cfg config.SpeechConfig) VoiceSettings {
	return VoiceSettings{Voice: cfg.Voice, Speed: cfg.Speed, Pitch: cfg.Pitch}
}

// Synthesizer converts text to MP3 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// GoogleSynthesizer calls the Google Cloud Text-to-Speech REST API.
type GoogleSynthesizer struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewGoogleSynthesizer returns nil when no API key is configured.
func NewGoogleSynthesizer(cfg config.SpeechConfig) *GoogleSynthesizer {
	if cfg.APIKey == "" {
		return nil
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGoogleBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GoogleSynthesizer{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type synthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string  `json:"audioEncoding"`
		SpeakingRate  float64 `json:"speakingRate"`
		Pitch         float64 `json:"pitch"`
	} `json:"audioConfig"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
	Error        *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (g *GoogleSynthesizer) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var body synthesizeRequest
	body.Input.Text = req.Text
	body.Voice.LanguageCode = languageCode
	body.Voice.Name = req.Voice
	body.AudioConfig.AudioEncoding = "MP3"
	body.AudioConfig.SpeakingRate = req.Speed
	body.AudioConfig.Pitch = req.Pitch

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text:synthesize?key=%s", g.baseURL, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var sr synthesizeResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return nil, fmt.Errorf("unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	if sr.Error != nil {
		return nil, fmt.Errorf("tts API error (%d): %s", sr.Error.Code, sr.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts API returned status %d", resp.StatusCode)
	}

	audio, err := base64.StdEncoding.DecodeString(sr.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts API returned no audio")
	}
	return audio, nil
}
