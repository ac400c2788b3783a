package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pushboard/pushboard-api/internal/notification"
	"github.com/pushboard/pushboard-api/internal/template"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeDomainError maps domain errors onto HTTP statuses. It returns false
// when the error is not a recognized domain error, so the caller can handle
// it as an internal failure.
func writeDomainError(w http.ResponseWriter, err error) bool {
	var validationErr *template.ValidationError
	var transitionErr *template.IllegalTransitionError

	switch {
	case errors.Is(err, sql.ErrNoRows):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.As(err, &validationErr):
		http.Error(w, validationErr.Msg, http.StatusUnprocessableEntity)
	case errors.As(err, &transitionErr):
		http.Error(w, transitionErr.Error(), http.StatusConflict)
	case errors.Is(err, notification.ErrNoRecipients):
		http.Error(w, "No recipients match the template audience", http.StatusUnprocessableEntity)
	case errors.Is(err, notification.ErrClaimLost):
		http.Error(w, "Template was already sent", http.StatusConflict)
	case errors.Is(err, notification.ErrDailyLimitReached):
		http.Error(w, "Daily notification limit reached", http.StatusTooManyRequests)
	case errors.Is(err, notification.ErrNoTemplateAvailable):
		http.Error(w, "No notification available", http.StatusNotFound)
	default:
		return false
	}
	return true
}
