package renex

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SelfSentinel is the sender handle some servers use for the viewer's own messages.
const SelfSentinel = "me"

const sessionFile = "session.json"

// Credentials is the stored session issued by the login collaborator.
type Credentials struct {
	Handle string `json:"handle"`
	Token  string `json:"token"`
}

// NormalizeHandle trims and lowercases a handle so that comparisons between
// URL-supplied handles and stored sender fields are consistent.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// Handle returns the handle of the signed-in user.
func (c *Client) Handle() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetCredentials sets the session without persisting it.
func (c *Client) SetCredentials(handle, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handle = NormalizeHandle(handle)
	c.token = token
}

func (c *Client) clearToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

// Active reports whether there is a usable session. Tokens that parse as JWTs
// are checked for expiry; the signature is the server's concern.
func (c *Client) Active() bool {
	token := c.Token()
	if token == "" {
		return false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		// Opaque tokens are accepted as-is.
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return time.Now().Before(claims.ExpiresAt.Time)
}

// LoadCredentials loads the stored session from disk.
func (c *Client) LoadCredentials() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, sessionFile))
	if err != nil {
		return err
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return err
	}

	c.SetCredentials(creds.Handle, creds.Token)
	return nil
}

// Login stores the session for handle and persists it.
func (c *Client) Login(handle, token string) error {
	if NormalizeHandle(handle) == "" || token == "" {
		return errors.New("handle and token are required")
	}
	c.SetCredentials(handle, token)

	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(Credentials{Handle: c.Handle(), Token: token}, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, sessionFile), data, 0600)
}

// Logout discards the session in memory and on disk.
func (c *Client) Logout() error {
	c.SetCredentials("", "")
	err := os.Remove(filepath.Join(c.ConfigDir, sessionFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
