package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/renex-id/renex/internal/api/middleware"
	"github.com/renex-id/renex/internal/crypto"
	"github.com/renex-id/renex/internal/metrics"
	"github.com/renex-id/renex/internal/models"
)

// KeyRequest represents the publish key request body.
type KeyRequest struct {
	PublicKey string `json:"public_key"`
}

// KeyResponse represents a published key.
type KeyResponse struct {
	Handle    string `json:"handle"`
	PublicKey string `json:"public_key"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// PutKey publishes the caller's Ed25519 public key, replacing any earlier one.
func (h *Handler) PutKey(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())
	if me == "" {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req KeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.PublicKey == "" {
		h.Error(w, http.StatusBadRequest, "public_key is required")
		return
	}

	if _, err := crypto.ValidatePublicKey(req.PublicKey); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid public_key: must be base64-encoded Ed25519 public key (32 bytes)")
		return
	}

	user, err := h.db.SetPublicKey(r.Context(), me, req.PublicKey)
	if err != nil {
		log.Error().Err(err).Str("user", me).Msg("failed to store public key")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	metrics.KeysPublished.Inc()
	h.JSON(w, http.StatusOK, keyResponse(user))
}

// GetKey returns the public key published by a handle.
func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	handle := models.NormalizeHandle(chi.URLParam(r, "handle"))
	if !models.ValidHandle(handle) {
		h.Error(w, http.StatusBadRequest, "invalid handle")
		return
	}

	user, err := h.db.GetUser(r.Context(), handle)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	if user == nil || user.PublicKey == "" {
		h.Error(w, http.StatusNotFound, "no key published")
		return
	}

	h.JSON(w, http.StatusOK, keyResponse(user))
}

func keyResponse(user *models.User) KeyResponse {
	return KeyResponse{
		Handle:    user.Handle,
		PublicKey: user.PublicKey,
		UpdatedAt: user.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}
