package renex

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"
)

var (
	// ErrNetwork indicates a transport failure or an unusable response.
	ErrNetwork = errors.New("network error")
	// ErrAuth indicates the session is missing, invalid or expired. Callers
	// must re-authenticate.
	ErrAuth = errors.New("session invalid")
	// ErrSubmit indicates a message submission failed.
	ErrSubmit = errors.New("submit failed")
)

// APIError is a non-success response from the API.
type APIError struct {
	Status  int
	Message string
	kind    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("renex API %d: %s", e.Status, e.Message)
}

// Unwrap exposes the error's category (ErrAuth, ErrSubmit or ErrNetwork).
func (e *APIError) Unwrap() error {
	return e.kind
}

// ValidationError is returned for text rejected before any network call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid message: " + e.Reason
}

// IsAuth reports whether err requires re-authentication.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsNetwork reports whether err is a transport-level failure.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// TextLength returns the length of s in UTF-16 code units.
func TextLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// ValidateText checks that text is non-empty after trimming and within
// MaxMessageLength. It returns the trimmed text.
func ValidateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &ValidationError{Reason: "empty"}
	}
	if TextLength(text) > MaxMessageLength {
		return "", &ValidationError{Reason: fmt.Sprintf("longer than %d characters", MaxMessageLength)}
	}
	return text, nil
}
