package portal

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"

	"github.com/shindakun/mockportal/internal/models"
)

// fakeProvider is an in-memory Provider whose calls can be scripted and inspected
type fakeProvider struct {
	mu sync.Mutex

	session    *models.Session
	getErr     error
	getGate    chan struct{}
	signInUser *models.Session
	signInErr  error
	signInGate chan struct{}
	signOutErr error

	signInCalls []signInCall
	listeners   map[int]func(models.AuthEvent, *models.Session)
	nextID      int
}

type signInCall struct {
	email    string
	password string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{listeners: make(map[int]func(models.AuthEvent, *models.Session))}
}

func (f *fakeProvider) GetSession(ctx context.Context) (*models.Session, error) {
	if f.getGate != nil {
		select {
		case <-f.getGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.getErr
}

func (f *fakeProvider) OnAuthStateChange(fn func(models.AuthEvent, *models.Session)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	f.mu.Lock()
	f.signInCalls = append(f.signInCalls, signInCall{email: email, password: password})
	gate := f.signInGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signInUser, f.signInErr
}

func (f *fakeProvider) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOutErr
}

func (f *fakeProvider) push(event models.AuthEvent, session *models.Session) {
	f.mu.Lock()
	fns := make([]func(models.AuthEvent, *models.Session), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(event, session)
	}
}

func (f *fakeProvider) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeProvider) calls() []signInCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]signInCall(nil), f.signInCalls...)
}

// authError satisfies ProviderError
type authError struct {
	code    string
	message string
}

func (e *authError) Error() string           { return "auth error: " + e.message }
func (e *authError) ProviderCode() string    { return e.code }
func (e *authError) ProviderMessage() string { return e.message }

var errNetwork = errors.New("dial tcp: connection refused")

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testSession(email string) *models.Session {
	return &models.Session{UserID: "user-" + email, Email: email, AccessToken: "access", RefreshToken: "refresh"}
}
