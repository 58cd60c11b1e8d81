package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const (
	sessionName         = "mockportal-session"
	sessionKeyBrowserID = "browser_id"
)

type contextKey string

const browserIDContextKey contextKey = "browser_id"

// SessionManager gives every browser an opaque id held in an HttpOnly cookie.
// Provider tokens are stored server-side under that id, never in the cookie.
type SessionManager struct {
	store *sessions.CookieStore
}

// InitSessions creates a new session manager with HTTP-only cookies
func InitSessions(secret string, maxAge int, secure bool, sameSite http.SameSite) *SessionManager {
	store := sessions.NewCookieStore([]byte(secret))

	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true, // Prevent JavaScript access
		Secure:   secure,
		SameSite: sameSite,
	}

	return &SessionManager{store: store}
}

// BrowserID returns the browser's id, issuing and saving a new one if the cookie has none
func (sm *SessionManager) BrowserID(w http.ResponseWriter, r *http.Request) (string, error) {
	// A cookie that fails to decode (rotated secret) yields a fresh session
	cookieSession, err := sm.store.Get(r, sessionName)
	if err != nil && cookieSession == nil {
		return "", fmt.Errorf("failed to get cookie session: %w", err)
	}

	if id, ok := cookieSession.Values[sessionKeyBrowserID].(string); ok && id != "" {
		return id, nil
	}

	id := uuid.New().String()
	cookieSession.Values[sessionKeyBrowserID] = id
	if err := cookieSession.Save(r, w); err != nil {
		return "", fmt.Errorf("failed to save cookie session: %w", err)
	}

	return id, nil
}

// PeekBrowserID returns the browser's id without issuing one
func (sm *SessionManager) PeekBrowserID(r *http.Request) (string, bool) {
	cookieSession, err := sm.store.Get(r, sessionName)
	if err != nil {
		return "", false
	}
	id, ok := cookieSession.Values[sessionKeyBrowserID].(string)
	return id, ok && id != ""
}

// GetBrowserIDFromContext retrieves the browser id from request context
func GetBrowserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(browserIDContextKey).(string)
	return id, ok && id != ""
}

// SetBrowserIDInContext stores the browser id in request context
func SetBrowserIDInContext(ctx context.Context, browserID string) context.Context {
	return context.WithValue(ctx, browserIDContextKey, browserID)
}
