package models

// FormState is the login form as the user left it.
// It lives only while the login view is shown.
type FormState struct {
	// Email is the value to pre-populate in the form after an error.
	Email string

	// Password is carried between events of one submission. It is rendered back
	// only when the visibility toggle re-renders the form.
	Password string

	// ShowPassword renders the password field as plain text.
	ShowPassword bool

	// Submitting is true while a credential submission is outstanding.
	// All form controls are disabled while it is set.
	Submitting bool

	// Error is the user-facing message from the last failed submission.
	// Empty string means no error.
	Error string
}

// HasError reports whether the form carries an error message
func (f FormState) HasError() bool {
	return f.Error != ""
}
