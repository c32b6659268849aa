package session

import (
	"context"
	"errors"
	"strings"
)

// ErrIncomplete is returned when a session carries a token without a session id or the reverse.
var ErrIncomplete = errors.New("session requires both token and session id")

// Profile is the cached identity returned by the login endpoint.
type Profile struct {
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar,omitempty"`
}

// IsZero reports whether no profile field is set.
func (p Profile) IsZero() bool {
	return p.Name == "" && p.Email == "" && p.AvatarURL == ""
}

// Session is the authenticated principal held by the client.
type Session struct {
	Token     string   `json:"token"`
	SessionID string   `json:"sessionId"`
	IssuedTo  *Profile `json:"user,omitempty"`
}

// Validate enforces that token and session id travel together.
func (s Session) Validate() error {
	hasToken := strings.TrimSpace(s.Token) != ""
	hasID := strings.TrimSpace(s.SessionID) != ""
	if hasToken != hasID || !hasToken {
		return ErrIncomplete
	}
	return nil
}

// Clone returns a copy that shares no profile with s.
func (s Session) Clone() Session {
	if s.IssuedTo != nil {
		p := *s.IssuedTo
		s.IssuedTo = &p
	}
	return s
}

// Repository persists the session across process restarts.
// Load returns ok=false when nothing is stored.
type Repository interface {
	Load(ctx context.Context) (Session, bool, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context) error
}
