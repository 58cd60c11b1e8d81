package auth

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shindakun/mockportal/internal/models"
	"github.com/shindakun/mockportal/internal/provider"
	"github.com/shindakun/mockportal/internal/storage"
	"github.com/stretchr/testify/require"
)

// fakeAPI scripts the hosted provider
type fakeAPI struct {
	mu sync.Mutex

	signInSession *models.Session
	signInErr     error
	refreshed     *models.Session
	refreshErr    error
	user          *models.User
	userErr       error
	signOutErr    error
	signInGate    chan struct{}

	// live, when set, makes refresh tokens single use: each accepted token
	// is retired and a rotated one issued
	live map[string]bool

	signInCalls  int
	refreshCalls []string
	userCalls    []string
	signOutCalls []string
}

func (f *fakeAPI) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	f.mu.Lock()
	f.signInCalls++
	gate := f.signInGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signInSession, f.signInErr
}

func (f *fakeAPI) signInCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signInCalls
}

func (f *fakeAPI) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls = append(f.refreshCalls, refreshToken)
	if f.live == nil {
		return f.refreshed, f.refreshErr
	}

	if !f.live[refreshToken] {
		return nil, errRejected
	}
	delete(f.live, refreshToken)
	rotated := *f.refreshed
	rotated.RefreshToken = refreshToken + "+"
	rotated.AccessToken = "access-" + rotated.RefreshToken
	f.live[rotated.RefreshToken] = true
	return &rotated, nil
}

func (f *fakeAPI) GetUser(ctx context.Context, accessToken string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls = append(f.userCalls, accessToken)
	return f.user, f.userErr
}

func (f *fakeAPI) SignOut(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls = append(f.signOutCalls, accessToken)
	return f.signOutErr
}

func (f *fakeAPI) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refreshCalls)
}

// recorder collects notifications delivered to one browser
type recorder struct {
	mu   sync.Mutex
	seen []Notification
}

func (r *recorder) record(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
}

func (r *recorder) events() []models.AuthEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuthEvent, 0, len(r.seen))
	for _, n := range r.seen {
		out = append(out, n.Event)
	}
	return out
}

type testEnv struct {
	api   *fakeAPI
	store *storage.SessionStore
	hub   *Hub
	clock *clockwork.FakeClock
	svc   *Service
}

const testMargin = time.Minute

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := storage.InitDB(filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		api:   &fakeAPI{},
		store: storage.NewSessionStore(db),
		hub:   NewHub(),
		clock: clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)),
	}
	env.svc = NewService(env.api, env.store, env.hub, env.clock, testMargin, discardLogger())
	return env
}

func (e *testEnv) session(email string, ttl time.Duration) *models.Session {
	return &models.Session{
		UserID:       "user-" + email,
		Email:        email,
		AccessToken:  "access-" + email,
		RefreshToken: "refresh-" + email,
		ExpiresAt:    e.clock.Now().Add(ttl).Truncate(time.Second),
	}
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

var errRejected = &provider.Error{Status: 400, Code: "refresh_token_not_found", Message: "Invalid Refresh Token"}
