package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf16"

	"github.com/renex-id/renex/internal/store"
)

// MaxMessageLength is the longest accepted message, in UTF-16 code units.
const MaxMessageLength = 1000

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db        store.DataStore
	redis     *store.RedisStore
	cooldown  time.Duration
	maxThread int
}

// Options tunes send throttling and thread size.
type Options struct {
	SendCooldown      time.Duration
	MaxThreadMessages int
}

// NewHandler creates a new Handler with the given stores.
func NewHandler(db store.DataStore, redis *store.RedisStore, opts Options) *Handler {
	if opts.MaxThreadMessages <= 0 {
		opts.MaxThreadMessages = 200
	}
	return &Handler{
		db:        db,
		redis:     redis,
		cooldown:  opts.SendCooldown,
		maxThread: opts.MaxThreadMessages,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeText trims text and removes control characters other than
// newlines and tabs.
func sanitizeText(text string) string {
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(text)
}

// textLength counts UTF-16 code units, the unit clients measure in.
func textLength(text string) int {
	n := 0
	for _, r := range text {
		n += utf16.RuneLen(r)
	}
	return n
}
