package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/pushboard/pushboard-api/internal/repository"
	"github.com/rs/zerolog"
)

type RecipientHandler struct {
	recipients repository.RecipientRepository
	logger     zerolog.Logger
}

func NewRecipientHandler(recipients repository.RecipientRepository, logger zerolog.Logger) *RecipientHandler {
	return &RecipientHandler{
		recipients: recipients,
		logger:     logger.With().Str("handler", "recipient").Logger(),
	}
}

type recipientRequest struct {
	AccountID  string             `json:"account_id"`
	PushToken  string             `json:"push_token"`
	Platform   models.Platform    `json:"platform"`
	AppVariant *models.AppVariant `json:"app_variant,omitempty"`
	Language   models.Language    `json:"language"`
}

// Sync registers or refreshes a device registration for an account.
func (h *RecipientHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req recipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req.AccountID = strings.TrimSpace(req.AccountID)
	req.PushToken = strings.TrimSpace(req.PushToken)
	if req.AccountID == "" || req.PushToken == "" {
		http.Error(w, "Account ID and push token are required", http.StatusBadRequest)
		return
	}
	if req.Platform != models.PlatformIOS && req.Platform != models.PlatformAndroid {
		http.Error(w, "Platform must be IOS or ANDROID", http.StatusBadRequest)
		return
	}
	if !models.IsValidLanguage(req.Language) {
		req.Language = models.LanguageKhmer
	}

	rec, err := h.recipients.Upsert(r.Context(), models.Recipient{
		AccountID:  req.AccountID,
		PushToken:  req.PushToken,
		Platform:   req.Platform,
		AppVariant: req.AppVariant,
		Language:   req.Language,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("account_id", req.AccountID).Msg("failed to upsert recipient")
		http.Error(w, "Failed to save recipient", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
