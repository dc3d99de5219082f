package models

import (
	"regexp"
	"strings"
	"time"
)

// handleRegex restricts handles to lowercase letters, digits, '_', '.' and '-'.
var handleRegex = regexp.MustCompile(`^[a-z0-9_.\-]{1,32}$`)

// User is a handle known to the service and its published key.
type User struct {
	Handle    string    `json:"handle"`
	PublicKey string    `json:"public_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeHandle trims and lowercases a handle.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// ValidHandle reports whether a normalized handle is well formed.
func ValidHandle(handle string) bool {
	return handleRegex.MatchString(handle)
}
