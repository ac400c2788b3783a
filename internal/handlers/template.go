package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pushboard/pushboard-api/internal/authz"
	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/pushboard/pushboard-api/internal/repository"
	"github.com/pushboard/pushboard-api/internal/template"
	"github.com/rs/zerolog"
)

type TemplateHandler struct {
	service template.Service
	logger  zerolog.Logger
}

func NewTemplateHandler(service template.Service, logger zerolog.Logger) *TemplateHandler {
	return &TemplateHandler{
		service: service,
		logger:  logger.With().Str("handler", "template").Logger(),
	}
}

type translationRequest struct {
	Language models.Language `json:"language"`
	Title    string          `json:"title"`
	Content  string          `json:"content"`
	ImageURL *string         `json:"image_url,omitempty"`
	LinkURL  *string         `json:"link_url,omitempty"`
}

type templateRequest struct {
	Name          string               `json:"name"`
	Platforms     []models.Platform    `json:"platforms"`
	AppVariant    *models.AppVariant   `json:"app_variant,omitempty"`
	Category      *string              `json:"category,omitempty"`
	SendType      models.SendType      `json:"send_type"`
	SendSchedule  *time.Time           `json:"send_schedule,omitempty"`
	SendInterval  *models.SendInterval `json:"send_interval,omitempty"`
	ShowPerDay    int                  `json:"show_per_day"`
	MaxDayShowing int                  `json:"max_day_showing"`
	IsFlash       bool                 `json:"is_flash"`
	Translations  []translationRequest `json:"translations"`
}

func (req templateRequest) toInput() template.Input {
	translations := make([]models.Translation, 0, len(req.Translations))
	for _, tr := range req.Translations {
		translations = append(translations, models.Translation{
			Language: tr.Language,
			Title:    strings.TrimSpace(tr.Title),
			Content:  strings.TrimSpace(tr.Content),
			ImageURL: tr.ImageURL,
			LinkURL:  tr.LinkURL,
		})
	}
	return template.Input{
		Name:          strings.TrimSpace(req.Name),
		Platforms:     req.Platforms,
		AppVariant:    req.AppVariant,
		Category:      req.Category,
		SendType:      req.SendType,
		SendSchedule:  req.SendSchedule,
		SendInterval:  req.SendInterval,
		ShowPerDay:    req.ShowPerDay,
		MaxDayShowing: req.MaxDayShowing,
		IsFlash:       req.IsFlash,
		Translations:  translations,
	}
}

func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return
	}

	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tpl, err := h.service.Create(r.Context(), req.toInput(), actor)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.Error().Err(err).Msg("failed to create template")
		http.Error(w, "Failed to create template", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (h *TemplateHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return
	}
	id, ok := templateID(w, r)
	if !ok {
		return
	}

	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tpl, err := h.service.Update(r.Context(), id, req.toInput(), actor)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.Error().Err(err).Int64("template_id", id).Msg("failed to update template")
		http.Error(w, "Failed to update template", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := templateID(w, r)
	if !ok {
		return
	}

	tpl, err := h.service.Get(r.Context(), id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.Error().Err(err).Int64("template_id", id).Msg("failed to load template")
		http.Error(w, "Failed to load template", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := repository.ListTemplatesFilter{}
	query := r.URL.Query()

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status := models.ApprovalStatus(raw)
		if raw == "DRAFT" {
			status = models.ApprovalDraft
		}
		if !models.IsValidApprovalStatus(status) {
			http.Error(w, "Unknown approval status", http.StatusBadRequest)
			return
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(query.Get("send_type")); raw != "" {
		sendType := models.SendType(raw)
		filter.SendType = &sendType
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			filter.Offset = parsed
		}
	}

	templates, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list templates")
		http.Error(w, "Failed to list templates", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"templates": templates})
}

func (h *TemplateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := templateID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.Error().Err(err).Int64("template_id", id).Msg("failed to delete template")
		http.Error(w, "Failed to delete template", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TemplateHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return
	}
	id, ok := templateID(w, r)
	if !ok {
		return
	}

	// The submit body is optional; when present it carries edits that are
	// saved before the template enters review.
	var edits *template.Input
	if r.ContentLength != 0 {
		var req templateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		input := req.toInput()
		edits = &input
	}

	tpl, err := h.service.Submit(r.Context(), id, edits, actor)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.Error().Err(err).Int64("template_id", id).Msg("failed to submit template")
		http.Error(w, "Failed to submit template", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (h *TemplateHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return
	}
	id, ok := templateID(w, r)
	if !ok {
		return
	}

	tpl, err := h.service.Approve(r.Context(), id, actor)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.Error().Err(err).Int64("template_id", id).Msg("failed to approve template")
		http.Error(w, "Failed to approve template", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *TemplateHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return
	}
	id, ok := templateID(w, r)
	if !ok {
		return
	}

	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tpl, err := h.service.Reject(r.Context(), id, actor, strings.TrimSpace(req.Reason))
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.Error().Err(err).Int64("template_id", id).Msg("failed to reject template")
		http.Error(w, "Failed to reject template", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func templateID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(mux.Vars(r)["templateID"])
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid template ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
