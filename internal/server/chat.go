package server

import (
	"net/http"
	"strconv"

	"github.com/HexSleeves/buzz/internal/chat"
	"github.com/HexSleeves/buzz/internal/errors"
)

type attachmentSource struct {
	Bytes string `json:"bytes"`
}

type attachmentJSON struct {
	Type   string           `json:"type"`
	Format string           `json:"format"`
	Name   string           `json:"name"`
	Source attachmentSource `json:"source"`
}

type chatRequest struct {
	Message     string           `json:"message"`
	ChatID      *int64           `json:"chat_id"`
	Images      []attachmentJSON `json:"images"`
	Documents   []attachmentJSON `json:"documents"`
	EnableTools *bool            `json:"enable_tools"`
}

func toAttachments(in []attachmentJSON) []chat.Attachment {
	out := make([]chat.Attachment, 0, len(in))
	for _, a := range in {
		out = append(out, chat.Attachment{Format: a.Format, Name: a.Name, Data: a.Source.Bytes})
	}
	return out
}

func (s *Server) handleSendChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	send := chat.SendRequest{
		UserID:      claimsFrom(r.Context()).UserID,
		Message:     req.Message,
		Images:      toAttachments(req.Images),
		Documents:   toAttachments(req.Documents),
		EnableTools: req.EnableTools == nil || *req.EnableTools,
	}
	if req.ChatID != nil {
		send.ChatID = *req.ChatID
	}

	reply, err := s.chat.Send(r.Context(), send)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0, 0, 0)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	limit, err := queryInt(r, "limit", 100, 1, 1000)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	chats, err := s.chat.ListChats(r.Context(), claimsFrom(r.Context()).UserID, skip, limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	id, err := chatID(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	view, err := s.chat.GetChat(r.Context(), claimsFrom(r.Context()).UserID, id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id, err := chatID(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.chat.DeleteChat(r.Context(), claimsFrom(r.Context()).UserID, id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat deleted successfully"})
}

func chatID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New(errors.KindValidation, "chat id must be a positive integer")
	}
	return id, nil
}
