package portal

import (
	"github.com/shindakun/mockportal/internal/models"
)

// State is an immutable snapshot of one screen.
// It changes only through Reduce; the session pointer is shared, never mutated.
type State struct {
	Initializing bool
	Session      *models.Session
	Form         models.FormState
	// Notice is a dashboard-level error, such as a failed sign-out
	Notice string
}

// InitialState is the state of a freshly mounted screen
func InitialState(form models.FormState) State {
	return State{Initializing: true, Form: form}
}

// Authenticated reports whether a session is held
func (s State) Authenticated() bool {
	return s.Session != nil
}

// View is the screen chosen for a state
func (s State) View() View {
	return SelectView(s)
}

// Event is one user action or provider callback
type Event interface {
	apply(State) State
}

// Reduce applies e to s and returns the new snapshot
func Reduce(s State, e Event) State {
	return e.apply(s)
}

// SessionFetched completes initialization with the result of the initial session fetch.
// A failed fetch is recorded as an absent session.
type SessionFetched struct {
	Session *models.Session
}

func (e SessionFetched) apply(s State) State {
	s.Initializing = false
	s.Session = e.Session
	return s
}

// SessionChanged is a provider push; it replaces the held session whether or not
// initialization has finished.
type SessionChanged struct {
	Event   models.AuthEvent
	Session *models.Session
}

func (e SessionChanged) apply(s State) State {
	if (s.Session == nil) != (e.Session == nil) {
		s.Notice = ""
	}
	s.Session = e.Session
	return s
}

// FormEdited records user input
type FormEdited struct {
	Email    string
	Password string
}

func (e FormEdited) apply(s State) State {
	s.Form.Email = e.Email
	s.Form.Password = e.Password
	return s
}

// PasswordVisibilityToggled flips the password field between hidden and plain text
type PasswordVisibilityToggled struct{}

func (PasswordVisibilityToggled) apply(s State) State {
	if s.Form.Submitting {
		return s
	}
	s.Form.ShowPassword = !s.Form.ShowPassword
	return s
}

// SubmitStarted disables the form and clears the previous error
type SubmitStarted struct{}

func (SubmitStarted) apply(s State) State {
	s.Form.Submitting = true
	s.Form.Error = ""
	return s
}

// SubmitRejected is a local validation failure
type SubmitRejected struct {
	Message string
}

func (e SubmitRejected) apply(s State) State {
	s.Form.Submitting = false
	s.Form.Error = e.Message
	return s
}

// SubmitSucceeded records the user returned by the provider without waiting for its push.
// A nil session only settles the submission.
type SubmitSucceeded struct {
	Session *models.Session
}

func (e SubmitSucceeded) apply(s State) State {
	s.Form.Submitting = false
	s.Form.Error = ""
	if e.Session != nil {
		s.Session = e.Session
		s.Form.Password = ""
		s.Notice = ""
	}
	return s
}

// SubmitFailed carries the user-facing message for a provider or connection error
type SubmitFailed struct {
	Message string
}

func (e SubmitFailed) apply(s State) State {
	s.Form.Submitting = false
	s.Form.Error = e.Message
	return s
}

// SubmitSuperseded settles a submission that lost to one already in flight for the browser
type SubmitSuperseded struct{}

func (SubmitSuperseded) apply(s State) State {
	s.Form.Submitting = false
	return s
}

// SignOutSucceeded clears the session and returns to a clean login form.
// Email pre-fills the form; the provider's own push may already have cleared the session.
type SignOutSucceeded struct {
	Email string
}

func (e SignOutSucceeded) apply(s State) State {
	switch {
	case e.Email != "":
		s.Form.Email = e.Email
	case s.Session != nil:
		s.Form.Email = s.Session.Email
	}
	s.Session = nil
	s.Notice = ""
	s.Form.Password = ""
	s.Form.Error = ""
	s.Form.Submitting = false
	return s
}

// SignOutFailed keeps the session and shows the failure on the dashboard
type SignOutFailed struct {
	Message string
}

func (e SignOutFailed) apply(s State) State {
	s.Notice = e.Message
	return s
}
