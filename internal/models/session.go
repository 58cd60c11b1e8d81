package models

import (
	"fmt"
	"strings"
	"time"
)

// Session mirrors a provider-issued session for one browser.
// The provider owns it; we only keep what is needed to act on the user's behalf.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"-"` // Never serialize to JSON
	RefreshToken string    `json:"-"` // Never serialize to JSON
	ExpiresAt    time.Time `json:"expires_at"`
}

// SessionState represents the current state of a session
type SessionState string

const (
	SessionStateActive  SessionState = "active"
	SessionStateExpired SessionState = "expired"
)

// Validate checks if the session fields are valid
func (s *Session) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("user id is required")
	}

	if s.Email == "" || !strings.Contains(s.Email, "@") {
		return fmt.Errorf("email is required")
	}

	if s.AccessToken == "" {
		return fmt.Errorf("access_token is required")
	}

	if s.ExpiresAt.IsZero() {
		return fmt.Errorf("expires_at is required")
	}

	return nil
}

// User returns the part of the session that views display
func (s *Session) User() User {
	return User{ID: s.UserID, Email: s.Email}
}

// State returns the state of the session at now
func (s *Session) State(now time.Time) SessionState {
	if !now.Before(s.ExpiresAt) {
		return SessionStateExpired
	}
	return SessionStateActive
}

// IsExpired returns true if the access token has expired at now
func (s *Session) IsExpired(now time.Time) bool {
	return s.State(now) == SessionStateExpired
}

// ExpiresWithin reports whether the access token expires within d of now
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	return s.IsExpired(now.Add(d))
}

// User is the authenticated user as shown on the dashboard
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AuthEvent names a session change pushed by the auth provider binding
type AuthEvent string

const (
	AuthEventSignedIn       AuthEvent = "SIGNED_IN"
	AuthEventSignedOut      AuthEvent = "SIGNED_OUT"
	AuthEventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)
