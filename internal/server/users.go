package server

import (
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"github.com/HexSleeves/buzz/internal/auth"
	"github.com/HexSleeves/buzz/internal/errors"
	"github.com/HexSleeves/buzz/internal/state"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	// maxPage keeps (page-1)*size far from overflowing into a negative offset.
	maxPage         = 1_000_000
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	FirstName   string `json:"first_name"`
	UserID      string `json:"user_id,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	invalid := errors.New(errors.KindUnauthorized, "Invalid credentials")
	u, err := s.db.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if errors.Is(err, errors.KindNotFound) {
		writeError(w, s.logger, invalid)
		return
	}
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if !u.IsActive || !auth.CheckPassword(u.PasswordHash, req.Password) {
		writeError(w, s.logger, invalid)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: s.auth.Issue(u.ID),
		TokenType:   auth.TokenType,
		FirstName:   u.FirstName,
	})
}

type registerRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

func (req registerRequest) validate() error {
	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"first_name", req.FirstName, 100},
		{"last_name", req.LastName, 100},
		{"email", req.Email, 254},
	}
	for _, f := range fields {
		n := len([]rune(strings.TrimSpace(f.value)))
		if n == 0 || n > f.max {
			return errors.Newf(errors.KindValidation, "%s must be between 1 and %d characters", f.name, f.max)
		}
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return errors.New(errors.KindValidation, "email is not a valid address")
	}
	if req.Password == "" {
		return errors.New(errors.KindValidation, "password is required")
	}
	return nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, s.logger, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	u, err := s.db.CreateUser(r.Context(), state.User{
		Email:        strings.TrimSpace(req.Email),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PasswordHash: hash,
		IsActive:     true,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.logger.Printf("✓ Registered user %s", u.ID)

	writeJSON(w, http.StatusCreated, tokenResponse{
		AccessToken: s.auth.Issue(u.ID),
		TokenType:   auth.TokenType,
		FirstName:   u.FirstName,
		UserID:      u.ID,
	})
}

type userPage struct {
	Items     []state.User `json:"items"`
	ItemCount int          `json:"item_count"`
	PageCount int          `json:"page_count"`
	PrevPage  *int         `json:"prev_page"`
	NextPage  *int         `json:"next_page"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1, 1, maxPage)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	size, err := queryInt(r, "size", defaultPageSize, 1, maxPageSize)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	total, err := s.db.CountUsers(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	users, err := s.db.ListUsers(r.Context(), (page-1)*size, size)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	out := userPage{Items: users, ItemCount: total, PageCount: (total + size - 1) / size}
	if out.Items == nil {
		out.Items = []state.User{}
	}
	if page > 1 {
		prev := page - 1
		out.PrevPage = &prev
	}
	if page < out.PageCount {
		next := page + 1
		out.NextPage = &next
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCurrentUser always needs a valid token; the demo fallback does not
// apply.
func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, s.logger, errors.New(errors.KindUnauthorized, "Not authenticated"))
		return
	}
	claims, err := s.auth.Validate(r.Context(), token)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": claims})
}

// queryInt parses an integer query parameter. max <= 0 means unbounded.
func queryInt(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || (max > 0 && v > max) {
		if max > 0 {
			return 0, errors.Newf(errors.KindValidation, "%s must be an integer between %d and %d", name, min, max)
		}
		return 0, errors.Newf(errors.KindValidation, "%s must be an integer >= %d", name, min)
	}
	return v, nil
}
