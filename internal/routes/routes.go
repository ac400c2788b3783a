package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pushboard/pushboard-api/internal/authz"
	"github.com/pushboard/pushboard-api/internal/handlers"
	"github.com/pushboard/pushboard-api/internal/models"
)

// NewRouter sets up the API routes
func NewRouter(
	auth *handlers.AuthHandler,
	templates *handlers.TemplateHandler,
	notifications *handlers.NotificationHandler,
	recipients *handlers.RecipientHandler,
) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// Public auth endpoints
	router.HandleFunc("/api/signup", auth.SignUp).Methods(http.MethodPost)
	router.HandleFunc("/api/login", auth.Login).Methods(http.MethodPost)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.JWTMiddleware)

	viewer := authz.RequireRole(models.RoleViewer)
	editor := authz.RequireRole(models.RoleEditor)
	approver := authz.RequireRole(models.RoleApprover)
	admin := authz.RequireRole(models.RoleAdmin)

	// Template authoring
	api.Handle("/templates", viewer(http.HandlerFunc(templates.List))).Methods(http.MethodGet)
	api.Handle("/templates", editor(http.HandlerFunc(templates.Create))).Methods(http.MethodPost)
	api.Handle("/templates/{templateID}", viewer(http.HandlerFunc(templates.Get))).Methods(http.MethodGet)
	api.Handle("/templates/{templateID}", editor(http.HandlerFunc(templates.Update))).Methods(http.MethodPut)
	api.Handle("/templates/{templateID}", admin(http.HandlerFunc(templates.Delete))).Methods(http.MethodDelete)

	// Approval flow
	api.Handle("/templates/{templateID}/submit", editor(http.HandlerFunc(templates.Submit))).Methods(http.MethodPost)
	api.Handle("/templates/{templateID}/approve", approver(http.HandlerFunc(templates.Approve))).Methods(http.MethodPost)
	api.Handle("/templates/{templateID}/reject", approver(http.HandlerFunc(templates.Reject))).Methods(http.MethodPost)

	// Dispatch
	api.Handle("/templates/{templateID}/send", admin(http.HandlerFunc(notifications.SendNow))).Methods(http.MethodPost)
	api.Handle("/notifications/flash", viewer(http.HandlerFunc(notifications.Flash))).Methods(http.MethodPost)
	api.Handle("/accounts/{accountID}/inbox", viewer(http.HandlerFunc(notifications.Inbox))).Methods(http.MethodGet)

	// Device registrations
	api.Handle("/recipients", viewer(http.HandlerFunc(recipients.Sync))).Methods(http.MethodPut)

	return router
}
