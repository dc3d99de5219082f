package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/renex-id/renex/internal/api/middleware"
	"github.com/renex-id/renex/internal/metrics"
	"github.com/renex-id/renex/internal/models"
)

// SendRequest represents the send message request body.
type SendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// SendResponse wraps the stored message.
type SendResponse struct {
	Message models.Message `json:"message"`
}

// ThreadResponse represents a thread listing.
type ThreadResponse struct {
	Messages []models.Message `json:"messages"`
}

// ListThread returns the newest messages exchanged with the handle in the
// "with" query parameter, oldest first.
func (h *Handler) ListThread(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())
	if me == "" {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	with := models.NormalizeHandle(r.URL.Query().Get("with"))
	if with == "" {
		h.Error(w, http.StatusBadRequest, "with is required")
		return
	}
	if !models.ValidHandle(with) {
		h.Error(w, http.StatusBadRequest, "invalid handle")
		return
	}

	messages, err := h.redis.ThreadMessages(r.Context(), me, with, h.maxThread)
	if err != nil {
		log.Error().Err(err).Str("user", me).Str("with", with).Msg("thread read failed")
		h.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	metrics.ThreadReads.Inc()
	h.JSON(w, http.StatusOK, ThreadResponse{Messages: messages})
}

// Send stores a message from the caller to a counterpart. A sender may store
// at most one message per cooldown window.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())
	if me == "" {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	to := models.NormalizeHandle(req.To)
	switch {
	case to == "":
		h.reject(w, http.StatusBadRequest, "to is required")
		return
	case !models.ValidHandle(to):
		h.reject(w, http.StatusBadRequest, "invalid recipient handle")
		return
	case to == me:
		h.reject(w, http.StatusBadRequest, "cannot message yourself")
		return
	}

	text := sanitizeText(req.Message)
	if text == "" {
		h.reject(w, http.StatusBadRequest, "message is required")
		return
	}
	if textLength(text) > MaxMessageLength {
		h.reject(w, http.StatusUnprocessableEntity, fmt.Sprintf("message too long (max %d characters)", MaxMessageLength))
		return
	}

	ok, err := h.redis.AcquireSendSlot(r.Context(), me, h.cooldown)
	if err != nil {
		log.Error().Err(err).Str("user", me).Msg("cooldown check failed")
		h.Error(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	if !ok {
		metrics.SendsRejected.WithLabelValues("cooldown").Inc()
		middleware.WriteRateLimited(w, "too many messages")
		return
	}

	msg := &models.Message{From: me, To: to, Body: text}
	if err := h.redis.AddMessage(r.Context(), msg); err != nil {
		h.redis.ReleaseSendSlot(r.Context(), me)
		log.Error().Err(err).Str("user", me).Str("to", to).Msg("message store failed")
		h.Error(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	// Record both ends as known handles
	for _, handle := range []string{me, to} {
		if err := h.db.TouchUser(r.Context(), handle); err != nil {
			log.Warn().Err(err).Str("handle", handle).Msg("failed to record user")
		}
	}

	metrics.MessagesSent.Inc()
	h.JSON(w, http.StatusCreated, SendResponse{Message: *msg})
}

func (h *Handler) reject(w http.ResponseWriter, status int, message string) {
	metrics.SendsRejected.WithLabelValues("validation").Inc()
	h.Error(w, status, message)
}
