package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shindakun/mockportal/internal/models"
	"github.com/shindakun/mockportal/internal/portal"
	"github.com/shindakun/mockportal/internal/provider"
	"golang.org/x/sync/singleflight"
)

// ProviderAPI is the hosted auth service's token API
type ProviderAPI interface {
	SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error)
	GetUser(ctx context.Context, accessToken string) (*models.User, error)
	SignOut(ctx context.Context, accessToken string) error
}

// TokenStore persists provider tokens per browser
type TokenStore interface {
	SaveAuthSession(ctx context.Context, browserID string, session *models.Session) error
	GetAuthSession(ctx context.Context, browserID string) (*models.Session, error)
	DeleteAuthSession(ctx context.Context, browserID string) error
	DeleteAuthSessionIfRefreshToken(ctx context.Context, browserID, refreshToken string) (bool, error)
}

// Service binds the provider, the token store and the notifier together
type Service struct {
	api      ProviderAPI
	store    TokenStore
	notifier Notifier
	clock    clockwork.Clock
	margin   time.Duration
	logger   *log.Logger

	refreshes singleflight.Group

	// signingIn holds browsers with a password grant in flight
	signInMu  sync.Mutex
	signingIn map[string]bool
}

// NewService creates a Service. Tokens expiring within margin are refreshed before use.
func NewService(api ProviderAPI, store TokenStore, notifier Notifier, clock clockwork.Clock, margin time.Duration, logger *log.Logger) *Service {
	return &Service{
		api:       api,
		store:     store,
		notifier:  notifier,
		clock:     clock,
		margin:    margin,
		logger:    logger,
		signingIn: make(map[string]bool),
	}
}

// ForBrowser returns the provider as seen by one browser
func (s *Service) ForBrowser(browserID string) *Client {
	return &Client{svc: s, browserID: browserID}
}

// beginSignIn claims the browser's sign-in slot, reporting false when one is already in flight
func (s *Service) beginSignIn(browserID string) bool {
	s.signInMu.Lock()
	defer s.signInMu.Unlock()
	if s.signingIn[browserID] {
		return false
	}
	s.signingIn[browserID] = true
	return true
}

func (s *Service) endSignIn(browserID string) {
	s.signInMu.Lock()
	defer s.signInMu.Unlock()
	delete(s.signingIn, browserID)
}

func (s *Service) publish(ctx context.Context, browserID string, event models.AuthEvent, session *models.Session) {
	if err := s.notifier.Publish(ctx, browserID, Notification{Event: event, Session: session}); err != nil {
		s.logger.Printf("Failed to publish %s for %s: %v", event, browserID, err)
	}
}

// refresh exchanges the browser's refresh token. Concurrent refreshes of one
// browser share a single provider call, since refresh tokens are single use.
// stored is the copy the caller read; when the row has rotated since, the
// current row is returned without asking the provider. A nil session means
// the browser signed out in the meantime.
func (s *Service) refresh(ctx context.Context, browserID string, stored *models.Session) (*models.Session, error) {
	v, err, _ := s.refreshes.Do(browserID, func() (any, error) {
		current, err := s.store.GetAuthSession(ctx, browserID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload session: %w", err)
		}
		if current == nil || current.RefreshToken != stored.RefreshToken {
			return current, nil
		}

		fresh, err := s.api.RefreshSession(ctx, current.RefreshToken)
		if err != nil {
			if isRejection(err) {
				// The provider ended the session; mirror that locally unless
				// the row was replaced while the call was in flight
				deleted, delErr := s.store.DeleteAuthSessionIfRefreshToken(ctx, browserID, current.RefreshToken)
				switch {
				case delErr != nil:
					s.logger.Printf("Failed to delete rejected session for %s: %v", browserID, delErr)
				case deleted:
					s.publish(ctx, browserID, models.AuthEventSignedOut, nil)
				default:
					return s.store.GetAuthSession(ctx, browserID)
				}
			}
			return nil, fmt.Errorf("failed to refresh session: %w", err)
		}

		if err := s.store.SaveAuthSession(ctx, browserID, fresh); err != nil {
			return nil, fmt.Errorf("failed to store refreshed session: %w", err)
		}
		s.publish(ctx, browserID, models.AuthEventTokenRefreshed, fresh)
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	session, _ := v.(*models.Session)
	return session, nil
}

func isRejection(err error) bool {
	var perr *provider.Error
	return errors.As(err, &perr) && perr.IsAuthRejection()
}

// Client is the hosted auth service bound to one browser
type Client struct {
	svc       *Service
	browserID string
}

// BrowserID returns the browser this client acts for
func (c *Client) BrowserID() string {
	return c.browserID
}

// GetSession returns the browser's current session, or nil when it has none.
// Stored tokens are refreshed when close to expiry and otherwise checked with the provider.
func (c *Client) GetSession(ctx context.Context) (*models.Session, error) {
	stored, err := c.svc.store.GetAuthSession(ctx, c.browserID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}

	if stored.ExpiresWithin(c.svc.clock.Now(), c.svc.margin) {
		return c.svc.refresh(ctx, c.browserID, stored)
	}

	user, err := c.svc.api.GetUser(ctx, stored.AccessToken)
	if err != nil {
		if isRejection(err) {
			// Revoked or malformed access token; a refresh decides whether the session survives
			return c.svc.refresh(ctx, c.browserID, stored)
		}
		return nil, fmt.Errorf("failed to verify session: %w", err)
	}

	session := *stored
	session.UserID = user.ID
	if user.Email != "" {
		session.Email = user.Email
	}
	return &session, nil
}

// OnAuthStateChange calls fn for every session change of this browser
func (c *Client) OnAuthStateChange(fn func(models.AuthEvent, *models.Session)) func() {
	return c.svc.notifier.Subscribe(c.browserID, func(n Notification) {
		fn(n.Event, n.Session)
	})
}

// SignInWithPassword verifies credentials with the provider and stores the issued tokens.
// A browser gets one password grant at a time; a second one returns
// portal.ErrSubmitInProgress without reaching the provider.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	if !c.svc.beginSignIn(c.browserID) {
		return nil, portal.ErrSubmitInProgress
	}
	defer c.svc.endSignIn(c.browserID)

	session, err := c.svc.api.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if err := c.svc.store.SaveAuthSession(ctx, c.browserID, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	c.svc.publish(ctx, c.browserID, models.AuthEventSignedIn, session)
	return session, nil
}

// SignOut revokes the session with the provider and forgets the tokens.
// A session the provider no longer knows is signed out locally.
func (c *Client) SignOut(ctx context.Context) error {
	stored, err := c.svc.store.GetAuthSession(ctx, c.browserID)
	if err != nil {
		return err
	}

	if stored != nil {
		if err := c.svc.api.SignOut(ctx, stored.AccessToken); err != nil && !isGone(err) {
			return fmt.Errorf("failed to sign out: %w", err)
		}
		if err := c.svc.store.DeleteAuthSession(ctx, c.browserID); err != nil {
			return err
		}
	}

	c.svc.publish(ctx, c.browserID, models.AuthEventSignedOut, nil)
	return nil
}

// isGone reports a provider answer meaning the session is already over
func isGone(err error) bool {
	var perr *provider.Error
	if !errors.As(err, &perr) {
		return false
	}
	switch perr.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
