package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pushboard/pushboard-api/internal/authz"
	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/pushboard/pushboard-api/internal/notification"
	"github.com/pushboard/pushboard-api/internal/repository"
	"github.com/rs/zerolog"
)

type NotificationHandler struct {
	templates    repository.TemplateRepository
	deliveries   repository.DeliveryRepository
	orchestrator *notification.Orchestrator
	flash        *notification.FlashService
	logger       zerolog.Logger
}

func NewNotificationHandler(
	templates repository.TemplateRepository,
	deliveries repository.DeliveryRepository,
	orchestrator *notification.Orchestrator,
	flash *notification.FlashService,
	logger zerolog.Logger,
) *NotificationHandler {
	return &NotificationHandler{
		templates:    templates,
		deliveries:   deliveries,
		orchestrator: orchestrator,
		flash:        flash,
		logger:       logger.With().Str("handler", "notification").Logger(),
	}
}

// SendNow dispatches an approved template immediately, outside its schedule.
// The conditional claim keeps it from racing the scheduler.
func (h *NotificationHandler) SendNow(w http.ResponseWriter, r *http.Request) {
	actor, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return
	}
	id, ok := templateID(w, r)
	if !ok {
		return
	}

	tpl, err := h.templates.GetByID(r.Context(), id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.Error().Err(err).Int64("template_id", id).Msg("failed to load template")
		http.Error(w, "Failed to load template", http.StatusInternalServerError)
		return
	}
	if tpl.ApprovalStatus != models.ApprovalApproved {
		http.Error(w, "Only approved templates can be sent", http.StatusConflict)
		return
	}

	claimed, err := h.templates.ClaimForSend(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Int64("template_id", id).Msg("failed to claim template")
		http.Error(w, "Failed to send template", http.StatusInternalServerError)
		return
	}
	if !claimed {
		http.Error(w, "Template was already sent", http.StatusConflict)
		return
	}

	result, err := h.orchestrator.DispatchNow(r.Context(), tpl, notification.TriggerManual, actor)
	if err != nil {
		// Nothing went out, so the claim must not stay consumed.
		if relErr := h.templates.ReleaseClaim(r.Context(), id); relErr != nil {
			h.logger.Error().Err(relErr).Int64("template_id", id).Msg("failed to release send claim")
		}
		if writeDomainError(w, err) {
			return
		}
		h.logger.Error().Err(err).Int64("template_id", id).Msg("manual dispatch failed")
		http.Error(w, "Failed to send template", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"template_id":    result.TemplateID,
		"matched":        result.Matched,
		"sent":           result.Sent,
		"failed":         result.Failed,
		"skipped":        result.Skipped,
		"invalid_tokens": result.InvalidTokens,
	})
}

type flashRequest struct {
	AccountID string `json:"account_id"`
}

// Flash serves the on-demand notification a client app requests when it
// wants something to show right now.
func (h *NotificationHandler) Flash(w http.ResponseWriter, r *http.Request) {
	var req flashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		http.Error(w, "Account ID is required", http.StatusBadRequest)
		return
	}

	record, err := h.flash.ShowNow(r.Context(), accountID)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.Error().Err(err).Str("account_id", accountID).Msg("flash send failed")
		http.Error(w, "Failed to send notification", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Inbox lists an account's delivered notifications, newest first.
func (h *NotificationHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(mux.Vars(r)["accountID"])
	if accountID == "" {
		http.Error(w, "Account ID is required", http.StatusBadRequest)
		return
	}

	limit, offset := 25, 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			offset = parsed
		}
	}

	records, err := h.deliveries.ListByAccount(r.Context(), accountID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("account_id", accountID).Msg("failed to list deliveries")
		http.Error(w, "Failed to list notifications", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": records})
}
