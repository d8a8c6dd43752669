package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/mail-aggregator/internal/auth"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, authManager *auth.AuthManager) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	// CORS - the UI may be served from anywhere, tokens travel in headers
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		// Auth routes stay reachable without a session
		r.Route("/auth", func(r chi.Router) {
			r.Get("/config", h.AuthConfig)
			r.Post("/login", h.Login)
			r.Get("/me", h.AuthMe)
			r.Post("/change-password", h.ChangePassword)
			r.Post("/reset-password", h.ResetPassword)
		})

		// Everything else requires a session token or the static API token
		r.Group(func(r chi.Router) {
			if authManager != nil {
				r.Use(func(next http.Handler) http.Handler {
					return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
						if !authManager.IsAuthenticated(req) {
							w.Header().Set("Content-Type", "application/json")
							w.WriteHeader(http.StatusUnauthorized)
							w.Write([]byte(`{"error":"unauthorized"}`))
							return
						}
						next.ServeHTTP(w, req)
					})
				})
			}

			// Mailbox accounts and per-account push filters
			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", h.ListAccounts)
				r.Post("/", h.CreateAccount)
				r.Get("/status", h.ListAccountStatus)
				r.Patch("/telegram-rules/{id}", h.UpdateTelegramRule)
				r.Delete("/telegram-rules/{id}", h.DeleteTelegramRule)
				r.Patch("/{id}", h.UpdateAccount)
				r.Delete("/{id}", h.DeleteAccount)
				r.Get("/{id}/telegram-rules", h.ListTelegramRules)
				r.Post("/{id}/telegram-rules", h.CreateTelegramRule)
			})

			// Labeling rules
			r.Route("/rules", func(r chi.Router) {
				r.Get("/", h.ListRules)
				r.Post("/", h.CreateRule)
				r.Patch("/{id}", h.UpdateRule)
				r.Delete("/{id}", h.DeleteRule)
			})

			// Stored mail
			r.Route("/emails", func(r chi.Router) {
				r.Get("/", h.ListEmails)
				r.Post("/apply-rules", h.ApplyRules)
				r.Post("/accounts/{id}/fetch_once", h.FetchOnce)
				r.Get("/{id}", h.GetEmail)
				r.Post("/{id}/read", h.MarkEmailRead)
			})

			// Settings and config backup
			r.Route("/settings", func(r chi.Router) {
				r.Get("/", h.GetSettings)
				r.Patch("/", h.UpdateSettings)
				r.Get("/export", h.ExportSettings)
				r.Post("/import", h.ImportSettings)
			})

			// Stats and maintenance
			r.Route("/stats", func(r chi.Router) {
				r.Get("/overview", h.StatsOverview)
				r.Post("/cleanup", h.CleanupEmails)
				r.Post("/archive", h.ArchiveEmails)
				r.Get("/archive/{name}", h.DownloadArchive)
			})
		})
	})

	return r
}
