// Package auth issues and validates bearer tokens and hashes passwords.
//
// Tokens are opaque placeholders of the form "fake-jwt-token-for-<user id>".
// They identify a user without signing anything, so Provider is the seam
// where a real token scheme plugs in.
package auth

import (
	"context"
	"strings"

	"github.com/HexSleeves/buzz/internal/errors"
	"github.com/HexSleeves/buzz/internal/state"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenPrefix = "fake-jwt-token-for-"
	TokenType   = "bearer"
)

// Claims identify the caller of a request.
type Claims struct {
	UserID    string `json:"sub"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// Provider issues tokens and resolves them back to claims.
type Provider interface {
	Issue(userID string) string
	Validate(ctx context.Context, token string) (*Claims, error)
}

// UserLookup resolves user IDs. *state.DB satisfies it.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*state.User, error)
}

// PlaceholderProvider issues unsigned tokens naming the user directly.
type PlaceholderProvider struct {
	users UserLookup
}

func NewPlaceholderProvider(users UserLookup) *PlaceholderProvider {
	return &PlaceholderProvider{users: users}
}

func (p *PlaceholderProvider) Issue(userID string) string {
	return tokenPrefix + userID
}

// Validate accepts tokens for active users only.
func (p *PlaceholderProvider) Validate(ctx context.Context, token string) (*Claims, error) {
	userID, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok || userID == "" {
		return nil, errors.New(errors.KindUnauthorized, "Invalid token")
	}
	u, err := p.users.GetUser(ctx, userID)
	if errors.Is(err, errors.KindNotFound) {
		return nil, errors.New(errors.KindUnauthorized, "Invalid token")
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, errors.New(errors.KindUnauthorized, "Inactive user")
	}
	return &Claims{UserID: u.ID, Email: u.Email, FirstName: u.FirstName}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, TokenType) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
