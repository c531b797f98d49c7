package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SessionFile holds a persisted console session. It is written to disk
// by 'redoubt login' and read back by NewFromSessionFile so that later
// commands reuse the same token instead of prompting again.
type SessionFile struct {
	// ServerURL is the console base URL the session was issued by.
	ServerURL string `json:"server_url"`

	// Token is the bearer session token. Keep this secret.
	Token string `json:"token"`

	// Email identifies the account, for display only.
	Email string `json:"email,omitempty"`

	// ExpiresAt is when the token stops working.
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the saved token's lifetime has passed.
func (s *SessionFile) Expired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// DefaultSessionPath returns the conventional session location,
// $HOME/.redoubt/session.json.
func DefaultSessionPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".redoubt", "session.json"), nil
}

// SaveSession writes the session to path, creating the parent directory
// if needed. The file is created owner-readable only.
func SaveSession(path string, s *SessionFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// LoadSession reads a session previously written by SaveSession.
//
//	s, err := client.LoadSession(os.ExpandEnv("$HOME/.redoubt/session.json"))
func LoadSession(path string) (*SessionFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var s SessionFile
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode session file %q: %w", path, err)
	}
	return &s, nil
}

// NewFromSessionFile creates an authenticated SDK client from the
// session written by 'redoubt login' at path.
//
// Additional options can be appended:
//
//	c, err := client.NewFromSessionFile(
//	    os.ExpandEnv("$HOME/.redoubt/session.json"),
//	    client.WithUserAgent("redoubt-cli"),
//	)
func NewFromSessionFile(path string, opts ...Option) (*Client, error) {
	s, err := LoadSession(path)
	if err != nil {
		return nil, fmt.Errorf("load session from %q: %w", path, err)
	}
	if s.Expired() {
		return nil, fmt.Errorf("session in %q expired at %s; log in again", path, s.ExpiresAt.Format(time.RFC3339))
	}
	return New(s.ServerURL, append([]Option{WithToken(s.Token)}, opts...)...)
}
