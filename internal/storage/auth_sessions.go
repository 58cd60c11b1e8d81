package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shindakun/mockportal/internal/models"
)

// SessionStore keeps provider tokens keyed by browser id
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore wraps an initialized database
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// SaveAuthSession inserts or replaces the tokens held for a browser
func (s *SessionStore) SaveAuthSession(ctx context.Context, browserID string, session *models.Session) error {
	if browserID == "" {
		return fmt.Errorf("browser id is required")
	}
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	query := `
		INSERT INTO auth_sessions (browser_id, user_id, email, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(browser_id) DO UPDATE SET
			user_id = excluded.user_id,
			email = excluded.email,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		browserID,
		session.UserID,
		session.Email,
		session.AccessToken,
		session.RefreshToken,
		session.ExpiresAt.Unix(),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save auth session: %w", err)
	}

	return nil
}

// GetAuthSession returns the tokens held for a browser, or nil when there are none
func (s *SessionStore) GetAuthSession(ctx context.Context, browserID string) (*models.Session, error) {
	query := `
		SELECT user_id, email, access_token, refresh_token, expires_at
		FROM auth_sessions
		WHERE browser_id = ?
	`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, browserID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auth session: %w", err)
	}

	return session, nil
}

// DeleteAuthSession forgets the tokens held for a browser
func (s *SessionStore) DeleteAuthSession(ctx context.Context, browserID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE browser_id = ?`, browserID); err != nil {
		return fmt.Errorf("failed to delete auth session: %w", err)
	}
	return nil
}

// DeleteAuthSessionIfRefreshToken deletes the browser's tokens only while they still
// hold refreshToken, and reports whether a row was deleted
func (s *SessionStore) DeleteAuthSessionIfRefreshToken(ctx context.Context, browserID, refreshToken string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE browser_id = ? AND refresh_token = ?`,
		browserID, refreshToken,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete auth session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check deleted auth session: %w", err)
	}
	return n > 0, nil
}

// ExpiringSession pairs stored tokens with the browser they belong to
type ExpiringSession struct {
	BrowserID string
	Session   *models.Session
}

// ListExpiringAuthSessions returns sessions whose access token expires before the given time,
// soonest first.
func (s *SessionStore) ListExpiringAuthSessions(ctx context.Context, before time.Time, limit int) ([]ExpiringSession, error) {
	query := `
		SELECT browser_id, user_id, email, access_token, refresh_token, expires_at
		FROM auth_sessions
		WHERE expires_at < ?
		ORDER BY expires_at ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, before.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring auth sessions: %w", err)
	}
	defer rows.Close()

	var result []ExpiringSession
	for rows.Next() {
		var browserID string
		var session models.Session
		var expiresAt int64
		if err := rows.Scan(&browserID, &session.UserID, &session.Email, &session.AccessToken, &session.RefreshToken, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan auth session: %w", err)
		}
		session.ExpiresAt = time.Unix(expiresAt, 0)
		result = append(result, ExpiringSession{BrowserID: browserID, Session: &session})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate auth sessions: %w", err)
	}

	return result, nil
}

// CountAuthSessions returns the number of browsers holding tokens
func (s *SessionStore) CountAuthSessions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auth_sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count auth sessions: %w", err)
	}
	return n, nil
}

// PingContext checks that the database answers
func (s *SessionStore) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanSession(row *sql.Row) (*models.Session, error) {
	var session models.Session
	var expiresAt int64
	if err := row.Scan(&session.UserID, &session.Email, &session.AccessToken, &session.RefreshToken, &expiresAt); err != nil {
		return nil, err
	}
	session.ExpiresAt = time.Unix(expiresAt, 0)
	return &session, nil
}
