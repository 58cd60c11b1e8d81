package portal

import (
	"errors"
	"strings"
	"unicode/utf16"
)

// MinPasswordLength is the shortest password accepted before calling the provider
const MinPasswordLength = 6

// User-facing messages
const (
	MsgMissingCredentials = "Please enter both email and password."
	MsgInvalidEmail       = "Please enter a valid email address."
	MsgShortPassword      = "Password must be at least 6 characters."
	MsgInvalidCredentials = "Invalid email or password. Please check your credentials."
	MsgEmailNotConfirmed  = "Please confirm your email address before logging in."
	MsgUserNotFound       = "No account found with this email. Please sign up first."
	MsgConnection         = "Connection error. Please check your internet connection."
	MsgSignOutFailed      = "Sign out failed. Please try again."
)

// ProviderError is implemented by errors in which the auth provider rejected a request.
// Errors that do not implement it are treated as connection failures.
type ProviderError interface {
	error
	ProviderCode() string
	ProviderMessage() string
}

// ValidateCredentials runs the local checks in order and returns the first failure
// message, or "" when the credentials may be sent.
func ValidateCredentials(email, password string) string {
	if email == "" || password == "" {
		return MsgMissingCredentials
	}
	// Deliberately weak; the provider is the authority on addresses
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return MsgInvalidEmail
	}
	// Counted in UTF-16 code units, as browsers measure input length
	if len(utf16.Encode([]rune(password))) < MinPasswordLength {
		return MsgShortPassword
	}
	return ""
}

// NormalizeEmail trims and lowercases an address before it is submitted
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var codeMessages = map[string]string{
	"invalid_credentials": MsgInvalidCredentials,
	"email_not_confirmed": MsgEmailNotConfirmed,
	"user_not_found":      MsgUserNotFound,
}

var substringMessages = []struct {
	substr  string
	message string
}{
	{"Invalid login credentials", MsgInvalidCredentials},
	{"Email not confirmed", MsgEmailNotConfirmed},
	{"User not found", MsgUserNotFound},
}

// MessageForError maps a sign-in error to the text shown under the form.
// Structured provider codes win; message substrings are the fallback for
// providers that only send text.
func MessageForError(err error) string {
	var perr ProviderError
	if !errors.As(err, &perr) {
		return MsgConnection
	}

	if msg, ok := codeMessages[perr.ProviderCode()]; ok {
		return msg
	}

	raw := perr.ProviderMessage()
	for _, m := range substringMessages {
		if strings.Contains(raw, m.substr) {
			return m.message
		}
	}

	if raw == "" {
		return perr.Error()
	}
	return raw
}
