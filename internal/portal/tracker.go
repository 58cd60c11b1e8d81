package portal

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/shindakun/mockportal/internal/models"
)

// ErrSubmitInProgress is returned when a submission arrives while another is outstanding
var ErrSubmitInProgress = errors.New("credential submission already in progress")

// Provider is the hosted auth service as seen by one screen
type Provider interface {
	GetSession(ctx context.Context) (*models.Session, error)
	OnAuthStateChange(fn func(models.AuthEvent, *models.Session)) (unsubscribe func())
	SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(ctx context.Context) error
}

// Tracker is one mounted screen: it mirrors the provider's session and
// owns the login form state. Start mounts it, Close unmounts it.
type Tracker struct {
	provider Provider
	logger   *log.Logger

	mu          sync.Mutex
	state       State
	watchers    map[int]func(State)
	nextWatcher int
	unsubscribe func()

	// notifyMu keeps watcher calls in transition order
	notifyMu sync.Mutex

	ready     chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewTracker creates an unmounted screen with the given initial form
func NewTracker(provider Provider, logger *log.Logger, form models.FormState) *Tracker {
	return &Tracker{
		provider: provider,
		logger:   logger,
		state:    InitialState(form),
		watchers: make(map[int]func(State)),
		ready:    make(chan struct{}),
	}
}

// Start subscribes to session changes and issues the initial session fetch.
// It returns immediately; Ready is closed once the fetch settles.
func (t *Tracker) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		unsubscribe := t.provider.OnAuthStateChange(func(event models.AuthEvent, session *models.Session) {
			t.Dispatch(SessionChanged{Event: event, Session: session})
		})

		t.mu.Lock()
		t.unsubscribe = unsubscribe
		t.mu.Unlock()

		go t.fetchSession(ctx)
	})
}

func (t *Tracker) fetchSession(ctx context.Context) {
	defer close(t.ready)

	session, err := t.provider.GetSession(ctx)
	if err != nil {
		// Never surfaced; the screen falls back to the login form
		t.logger.Printf("Session fetch error: %v", err)
		session = nil
	}
	t.Dispatch(SessionFetched{Session: session})
}

// Ready is closed when the initial session fetch has settled
func (t *Tracker) Ready() <-chan struct{} {
	return t.ready
}

// Wait blocks until initialization completes or ctx is done.
// It reports whether initialization completed.
func (t *Tracker) Wait(ctx context.Context) bool {
	select {
	case <-t.ready:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close releases the session-change subscription and drops all watchers. Safe to call more than once.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		unsubscribe := t.unsubscribe
		t.unsubscribe = nil
		t.watchers = make(map[int]func(State))
		t.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
	})
}

// State returns the current snapshot
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Watch registers fn to be called with every new snapshot.
// fn receives the snapshot and must not call back into the Tracker.
func (t *Tracker) Watch(fn func(State)) (cancel func()) {
	t.mu.Lock()
	id := t.nextWatcher
	t.nextWatcher++
	t.watchers[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.watchers, id)
		t.mu.Unlock()
	}
}

// Dispatch applies events in order and notifies watchers once with the result
func (t *Tracker) Dispatch(events ...Event) State {
	state, _ := t.dispatchIf(nil, events...)
	return state
}

// dispatchIf applies events only when allow accepts the current state
func (t *Tracker) dispatchIf(allow func(State) bool, events ...Event) (State, bool) {
	t.mu.Lock()
	if allow != nil && !allow(t.state) {
		state := t.state
		t.mu.Unlock()
		return state, false
	}
	for _, e := range events {
		t.state = Reduce(t.state, e)
	}
	state := t.state
	watchers := make([]func(State), 0, len(t.watchers))
	for _, fn := range t.watchers {
		watchers = append(watchers, fn)
	}
	t.notifyMu.Lock()
	t.mu.Unlock()

	defer t.notifyMu.Unlock()
	for _, fn := range watchers {
		fn(state)
	}
	return state, true
}

// Submit validates the credentials and, when they pass, signs in with the provider.
// ErrSubmitInProgress is returned when this screen or the provider client already
// has a submission outstanding. Form.Submitting is only left set when the screen's own
// earlier submission is still running.
func (t *Tracker) Submit(ctx context.Context, email, password string) (State, error) {
	notSubmitting := func(s State) bool { return !s.Form.Submitting }
	if state, ok := t.dispatchIf(notSubmitting, FormEdited{Email: email, Password: password}, SubmitStarted{}); !ok {
		return state, ErrSubmitInProgress
	}

	if msg := ValidateCredentials(email, password); msg != "" {
		return t.Dispatch(SubmitRejected{Message: msg}), nil
	}

	normalized := NormalizeEmail(email)
	t.logger.Printf("Attempting login for: %s", normalized)

	session, err := t.signIn(ctx, normalized, password)
	if errors.Is(err, ErrSubmitInProgress) {
		// Another screen of this browser holds the grant
		t.logger.Printf("Sign-in already in flight for %s", normalized)
		return t.Dispatch(SubmitSuperseded{}), ErrSubmitInProgress
	}
	if err != nil {
		t.logger.Printf("Sign-in error for %s: %v", normalized, err)
		return t.Dispatch(SubmitFailed{Message: MessageForError(err)}), nil
	}

	if session != nil {
		t.logger.Printf("Login successful: %s", session.Email)
	}
	return t.Dispatch(SubmitSucceeded{Session: session}), nil
}

// signIn turns a provider panic into an error so the form is never left disabled
func (t *Tracker) signIn(ctx context.Context, email, password string) (session *models.Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("unexpected sign-in failure")
			t.logger.Printf("Recovered from sign-in panic: %v", r)
		}
	}()
	return t.provider.SignInWithPassword(ctx, email, password)
}

// SignOut asks the provider to end the session. On failure the session is
// kept and the dashboard shows MsgSignOutFailed.
func (t *Tracker) SignOut(ctx context.Context) State {
	var email string
	if session := t.State().Session; session != nil {
		email = session.Email
	}

	if err := t.provider.SignOut(ctx); err != nil {
		t.logger.Printf("Logout error: %v", err)
		return t.Dispatch(SignOutFailed{Message: MsgSignOutFailed})
	}
	return t.Dispatch(SignOutSucceeded{Email: email})
}

// TogglePasswordVisibility flips the password field, keeping the typed email
func (t *Tracker) TogglePasswordVisibility(email string) State {
	current := t.State()
	return t.Dispatch(FormEdited{Email: email, Password: current.Form.Password}, PasswordVisibilityToggled{})
}
