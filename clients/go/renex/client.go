// Package renex provides a client for the renex message API.
package renex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.renex.id"

// MaxMessageLength is the maximum message length in UTF-16 code units.
const MaxMessageLength = 1000

// Client is a renex API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	HTTPClient *http.Client

	mu     sync.RWMutex
	handle string
	token  string
}

// NewClient creates a new renex client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	configDir := os.Getenv("RENEX_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".renex")
	}

	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadCredentials()
	return c
}

// Message represents a chat message as exchanged with the API.
type Message struct {
	ID        string `json:"id,omitempty"`
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	Text      string `json:"message"`
	Timestamp int64  `json:"ts,omitempty"` // Unix ms
}

// Outcome is the result of an accepted submission. Exactly one of Message
// (confirmed) or RateLimited is meaningful.
type Outcome struct {
	Message     Message
	RateLimited bool
	Reason      string
}

// Confirmed reports whether the server accepted the message.
func (o Outcome) Confirmed() bool {
	return !o.RateLimited && o.Message.ID != ""
}

// ThreadResponse is the response from listing a thread.
type ThreadResponse struct {
	Messages []Message `json:"messages"`
}

// SendRequest is the request body for sending a message.
type SendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// SendResponse is the response from sending a message.
type SendResponse struct {
	Message Message `json:"message"`
}

type errorResponse struct {
	Error       string `json:"error"`
	RateLimited bool   `json:"rateLimited"`
}

// response is a fully read HTTP response.
type response struct {
	status int
	body   []byte
}

// doRequest performs an authenticated HTTP request. Transport failures are
// wrapped in ErrNetwork; a 401 clears the in-memory token and wraps ErrAuth.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*response, error) {
	token := c.Token()
	if token == "" {
		return nil, fmt.Errorf("%w: no active session", ErrAuth)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrNetwork, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.clearToken()
		return nil, &APIError{Status: resp.StatusCode, Message: errorText(respBody, resp.Status), kind: ErrAuth}
	}

	return &response{status: resp.StatusCode, body: respBody}, nil
}

// errorText extracts the server's error message, falling back to the status line.
func errorText(body []byte, fallback string) string {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	return fallback
}

// FetchSince returns the server's current view of the thread with the
// counterpart, in server order.
func (c *Client) FetchSince(ctx context.Context, counterpart string) ([]Message, error) {
	path := "/chat/list?with=" + url.QueryEscape(NormalizeHandle(counterpart))

	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.status >= 300 {
		return nil, &APIError{Status: resp.status, Message: errorText(resp.body, http.StatusText(resp.status)), kind: ErrNetwork}
	}

	var thread ThreadResponse
	if len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, &thread); err != nil {
			return nil, fmt.Errorf("%w: decoding thread: %v", ErrNetwork, err)
		}
	}
	return thread.Messages, nil
}

// Submit sends a message to the counterpart. A rate-limited submission is
// reported through the Outcome, not as an error.
func (c *Client) Submit(ctx context.Context, counterpart, text string) (Outcome, error) {
	body, _ := json.Marshal(SendRequest{To: NormalizeHandle(counterpart), Message: text})

	resp, err := c.doRequest(ctx, http.MethodPost, "/chat/send", body)
	if err != nil {
		if IsNetwork(err) {
			return Outcome{}, fmt.Errorf("%w: %w", ErrSubmit, err)
		}
		return Outcome{}, err
	}

	if resp.status == http.StatusTooManyRequests {
		reason := errorText(resp.body, "Too many messages")
		return Outcome{RateLimited: true, Reason: reason}, nil
	}
	if resp.status >= 300 {
		return Outcome{}, &APIError{Status: resp.status, Message: errorText(resp.body, http.StatusText(resp.status)), kind: ErrSubmit}
	}

	var sent SendResponse
	if err := json.Unmarshal(resp.body, &sent); err != nil {
		return Outcome{}, fmt.Errorf("%w: decoding response: %v", ErrSubmit, err)
	}
	if sent.Message.ID == "" {
		return Outcome{}, fmt.Errorf("%w: response carried no message id", ErrSubmit)
	}
	return Outcome{Message: sent.Message}, nil
}

// KeyResponse is a published public key.
type KeyResponse struct {
	Handle    string `json:"handle"`
	PublicKey string `json:"public_key"`
}

// PublishKey publishes the caller's public key.
func (c *Client) PublishKey(ctx context.Context, publicKeyB64 string) error {
	body, _ := json.Marshal(map[string]string{"public_key": publicKeyB64})

	resp, err := c.doRequest(ctx, http.MethodPut, "/keys", body)
	if err != nil {
		return err
	}
	if resp.status >= 300 {
		return &APIError{Status: resp.status, Message: errorText(resp.body, http.StatusText(resp.status)), kind: ErrSubmit}
	}
	return nil
}

// GetKey fetches the public key published by handle.
func (c *Client) GetKey(ctx context.Context, handle string) (*KeyResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/keys/"+url.PathEscape(NormalizeHandle(handle)), nil)
	if err != nil {
		return nil, err
	}
	if resp.status >= 300 {
		return nil, &APIError{Status: resp.status, Message: errorText(resp.body, http.StatusText(resp.status)), kind: ErrNetwork}
	}

	var key KeyResponse
	if err := json.Unmarshal(resp.body, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health. It does not require a session.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return &health, nil
}
