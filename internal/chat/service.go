package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/HexSleeves/buzz/internal/config"
	"github.com/HexSleeves/buzz/internal/errors"
	"github.com/HexSleeves/buzz/internal/llm"
	"github.com/HexSleeves/buzz/internal/speech"
	"github.com/HexSleeves/buzz/internal/state"
	"github.com/HexSleeves/buzz/internal/tools"
)

const maxAttachmentBytes = 5 << 20

// Store is the persistence the service needs. *state.DB satisfies it.
type Store interface {
	tools.ChatStore
	CreateChat(ctx context.Context, userID, title string) (*state.Chat, error)
	GetChat(ctx context.Context, userID string, chatID int64) (*state.Chat, error)
	ListChatsPage(ctx context.Context, userID string, skip, limit int) ([]state.Chat, error)
	DeleteChat(ctx context.Context, userID string, chatID int64) error
	AddMessage(ctx context.Context, chatID int64, role, content string) (*state.Message, error)
	SetKV(ctx context.Context, key, value string) error
	GetKV(ctx context.Context, key string) (string, bool, error)
}

// Attachment is a base64 image or document sent alongside a message.
type Attachment struct {
	Format string // jpeg, png, gif, webp for images; txt, md, csv, html, json for documents
	Name   string
	Data   string
}

// SendRequest is an inbound chat message.
type SendRequest struct {
	UserID      string
	Message     string
	ChatID      int64 // zero starts a new chat
	Images      []Attachment
	Documents   []Attachment
	EnableTools bool
}

// MessageView is a stored message plus the voice settings to read it with.
type MessageView struct {
	state.Message
	VoiceSettings speech.VoiceSettings `json:"voice_settings"`
}

// ChatView is a chat with its full message history.
type ChatView struct {
	state.Chat
	Messages []MessageView `json:"messages"`
}

// Service persists chats around the conversation loop.
type Service struct {
	store     Store
	converser *Converser
	tools     config.ToolsConfig
	voice     speech.VoiceSettings
	logger    *log.Logger
}

func NewService(store Store, converser *Converser, toolsCfg config.ToolsConfig, voice speech.VoiceSettings) *Service {
	return &Service{
		store:     store,
		converser: converser,
		tools:     toolsCfg,
		voice:     voice,
		logger:    log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (s *Service) SetLogger(l *log.Logger) {
	s.logger = l
}

// Send stores the user's message, runs the loop, and stores the reply.
// Nothing is stored for the assistant if ctx is canceled mid-reply.
func (s *Service) Send(ctx context.Context, req SendRequest) (*MessageView, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New(errors.KindValidation, "Message is required")
	}
	attachments, err := decodeAttachments(req.Images, req.Documents)
	if err != nil {
		return nil, err
	}

	var chat *state.Chat
	if req.ChatID != 0 {
		chat, err = s.store.GetChat(ctx, req.UserID, req.ChatID)
	} else {
		chat, err = s.store.CreateChat(ctx, req.UserID, state.TitleFromMessage(req.Message))
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.store.AddMessage(ctx, chat.ID, state.RoleUser, req.Message); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}

	loopReq := Request{Message: req.Message, Attachments: attachments}
	if req.EnableTools {
		loopReq.Tools = tools.ListEnabled(s.tools)
		exec := tools.NewExecutor(s.store, req.UserID)
		exec.SetLogger(s.logger)
		loopReq.Runner = exec
	}

	out := s.converser.Reply(ctx, loopReq)
	if out.Kind == errors.KindCanceled {
		s.logger.Printf("⛔ Chat %d: request canceled, reply discarded", chat.ID)
		return nil, errors.Wrap(errors.KindCanceled, out.Err)
	}
	s.logger.Printf("✓ Chat %d: %d round-trip(s), %d tool call(s), %d/%d tokens",
		chat.ID, out.RoundTrips, out.ToolCalls, out.Usage.InputTokens, out.Usage.OutputTokens)

	// The reply is stored even if the client went away after the loop ended.
	msg, err := s.store.AddMessage(context.WithoutCancel(ctx), chat.ID, state.RoleAssistant, out.Text)
	if err != nil {
		return nil, fmt.Errorf("store assistant message: %w", err)
	}
	return &MessageView{Message: *msg, VoiceSettings: s.Voice(ctx, req.UserID)}, nil
}

func voiceKey(userID string) string { return "voice:" + userID }

// Voice returns the user's saved voice settings, falling back to the
// configured defaults when none are saved or they cannot be read.
func (s *Service) Voice(ctx context.Context, userID string) speech.VoiceSettings {
	raw, ok, err := s.store.GetKV(ctx, voiceKey(userID))
	if err != nil {
		s.logger.Printf("⚠ Voice settings for %s unavailable: %v", userID, err)
		return s.voice
	}
	if !ok {
		return s.voice
	}
	v := s.voice
	if err := json.Unmarshal([]byte(raw), &v); err != nil || v.Validate() != nil {
		s.logger.Printf("⚠ Ignoring unreadable voice settings for %s", userID)
		return s.voice
	}
	return v
}

// SetVoice validates and saves the user's voice settings.
func (s *Service) SetVoice(ctx context.Context, userID string, v speech.VoiceSettings) error {
	if err := v.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.store.SetKV(ctx, voiceKey(userID), string(data)); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err)
	}
	return nil
}

func (s *Service) ListChats(ctx context.Context, userID string, skip, limit int) ([]state.Chat, error) {
	chats, err := s.store.ListChatsPage(ctx, userID, skip, limit)
	if err != nil {
		return nil, err
	}
	if chats == nil {
		chats = []state.Chat{}
	}
	return chats, nil
}

func (s *Service) GetChat(ctx context.Context, userID string, chatID int64) (*ChatView, error) {
	chat, err := s.store.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	voice := s.Voice(ctx, userID)
	view := &ChatView{Chat: *chat, Messages: make([]MessageView, 0, len(msgs))}
	for _, m := range msgs {
		view.Messages = append(view.Messages, MessageView{Message: m, VoiceSettings: voice})
	}
	return view, nil
}

func (s *Service) DeleteChat(ctx context.Context, userID string, chatID int64) error {
	return s.store.DeleteChat(ctx, userID, chatID)
}

var imageTypes = map[string]string{
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

var textDocuments = map[string]bool{
	"txt":  true,
	"md":   true,
	"csv":  true,
	"html": true,
	"json": true,
}

// decodeAttachments validates attachments and converts them to content
// blocks. Documents must be text; binary office formats and PDFs are refused.
func decodeAttachments(images, documents []Attachment) ([]llm.ContentBlock, error) {
	var blocks []llm.ContentBlock
	for i, img := range images {
		mediaType, ok := imageTypes[strings.ToLower(img.Format)]
		if !ok {
			return nil, errors.Newf(errors.KindValidation, "image %d: unsupported format %q", i+1, img.Format)
		}
		if _, err := decodeBase64(img.Data); err != nil {
			return nil, errors.Newf(errors.KindValidation, "image %d: %v", i+1, err)
		}
		blocks = append(blocks, llm.ImageBlock(mediaType, img.Data))
	}

	for i, doc := range documents {
		name := doc.Name
		if name == "" {
			name = fmt.Sprintf("document %d", i+1)
		}
		if !textDocuments[strings.ToLower(doc.Format)] {
			return nil, errors.Newf(errors.KindValidation, "%s: unsupported document format %q", name, doc.Format)
		}
		data, err := decodeBase64(doc.Data)
		if err != nil {
			return nil, errors.Newf(errors.KindValidation, "%s: %v", name, err)
		}
		if !utf8.Valid(data) {
			return nil, errors.Newf(errors.KindValidation, "%s: not valid UTF-8 text", name)
		}
		blocks = append(blocks, llm.TextBlock(fmt.Sprintf("Attached document %q:\n\n%s", name, data)))
	}
	return blocks, nil
}

func decodeBase64(data string) ([]byte, error) {
	if data == "" {
		return nil, fmt.Errorf("empty content")
	}
	if base64.StdEncoding.DecodedLen(len(data)) > maxAttachmentBytes {
		return nil, fmt.Errorf("larger than %d bytes", maxAttachmentBytes)
	}
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return b, nil
}
