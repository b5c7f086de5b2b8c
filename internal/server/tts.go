package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/HexSleeves/buzz/internal/errors"
	"github.com/HexSleeves/buzz/internal/speech"
)

type ttsRequest struct {
	Text  string   `json:"text"`
	Voice string   `json:"voice"`
	Speed *float64 `json:"speed"`
	Pitch *float64 `json:"pitch"`
}

// apply overlays the fields the client sent onto v.
func (b ttsRequest) apply(v speech.VoiceSettings) speech.VoiceSettings {
	if b.Voice != "" {
		v.Voice = b.Voice
	}
	if b.Speed != nil {
		v.Speed = *b.Speed
	}
	if b.Pitch != nil {
		v.Pitch = *b.Pitch
	}
	return v
}

func (s *Server) handleGetVoice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chat.Voice(r.Context(), claimsFrom(r.Context()).UserID))
}

// handlePutVoice saves the caller's voice settings. Omitted fields keep
// their current values.
func (s *Server) handlePutVoice(w http.ResponseWriter, r *http.Request) {
	var body ttsRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	userID := claimsFrom(r.Context()).UserID
	v := body.apply(s.chat.Voice(r.Context(), userID))
	if err := s.chat.SetVoice(r.Context(), userID, v); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var body ttsRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}

	v := body.apply(s.chat.Voice(r.Context(), claimsFrom(r.Context()).UserID))
	req := speech.Request{Text: body.Text, Voice: v.Voice, Speed: v.Speed, Pitch: v.Pitch}
	if err := req.Validate(); err != nil {
		writeError(w, s.logger, err)
		return
	}

	if s.speech == nil {
		writeError(w, s.logger, errors.New(errors.KindUnavailable, "Text-to-speech service is not available"))
		return
	}

	req.Text = speech.Strip(req.Text)
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, s.logger, errors.New(errors.KindValidation, "Text has nothing to read aloud once formatting is removed"))
		return
	}

	audio, err := s.speech.Synthesize(r.Context(), req)
	if err != nil {
		s.logger.Printf("⚠ TTS error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Text-to-speech failed: " + err.Error()})
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", "inline; filename=speech.mp3")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}
