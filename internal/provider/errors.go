package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformedResponse is a 2xx token answer without tokens or a user. It is not
// an *Error, so the login form reports it as a connection problem.
var ErrMalformedResponse = errors.New("token response missing access token or user")

// Error is a rejection reported by the auth provider
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth provider error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("auth provider error %d: %s", e.Status, e.Message)
}

// ProviderCode returns the structured error code, if the provider sent one
func (e *Error) ProviderCode() string { return e.Code }

// ProviderMessage returns the provider's human-readable message
func (e *Error) ProviderMessage() string { return e.Message }

// IsAuthRejection reports whether the provider refused the credentials or tokens,
// as opposed to failing on its side.
func (e *Error) IsAuthRejection() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

// errorBody covers both the current and the legacy GoTrue error shapes
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// decodeError builds an Error from a non-2xx response body
func decodeError(status int, body []byte) *Error {
	e := &Error{Status: status}

	var b errorBody
	if err := json.Unmarshal(body, &b); err != nil {
		e.Message = http.StatusText(status)
		return e
	}

	e.Code = b.ErrorCode
	if e.Code == "" {
		// Some deployments send the code as a string in "code" instead of a number
		var code string
		if json.Unmarshal(b.Code, &code) == nil {
			e.Code = code
		}
	}
	if e.Code == "" {
		e.Code = b.Error
	}

	switch {
	case b.Msg != "":
		e.Message = b.Msg
	case b.ErrorDescription != "":
		e.Message = b.ErrorDescription
	case b.Message != "":
		e.Message = b.Message
	default:
		e.Message = http.StatusText(status)
	}

	return e
}
