package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/apollo-xwb/paysecure/internal/auth"
	"github.com/apollo-xwb/paysecure/internal/handlers"
	"github.com/apollo-xwb/paysecure/internal/middleware"
	"github.com/apollo-xwb/paysecure/internal/models"
	pkghttp "github.com/apollo-xwb/paysecure/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Portal is one audience-isolated route tree, e.g. /customer or /employee
type Portal struct {
	Prefix   string
	Audience string
	Handler  *handlers.AuthHandler
}

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies are the components the router is built from
type Dependencies struct {
	Portals   []Portal
	Validator auth.SessionValidator
	IPConfig  *pkghttp.IPConfig
	RateLimit middleware.RateLimitConfig
	Health    HealthChecker
	Metrics   http.Handler
	// Anomalies is mounted on the employee portal for admins. Nil when Redis is not configured.
	Anomalies *handlers.AnomalyHandler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	for _, p := range deps.Portals {
		registerPortal(router, p, deps)
	}

	router.Get("/health", healthHandler(deps.Health))
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics)
	}
}

func registerPortal(router chi.Router, p Portal, deps Dependencies) {
	limit := middleware.RateLimitByIP(deps.RateLimit, deps.IPConfig)

	router.Route(p.Prefix, func(r chi.Router) {
		// Public routes
		r.With(limit).Post("/auth/login", p.Handler.Login)
		r.With(limit).Post("/auth/refresh", p.Handler.Refresh)
		r.Post("/auth/logout", p.Handler.Logout)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession(deps.Validator, p.Audience, deps.IPConfig))
			r.Get("/auth/me", p.Handler.Me)
			r.Post("/auth/logout-all", p.Handler.LogoutAll)
			r.Get("/sessions", p.Handler.Sessions)

			if p.Audience == auth.AudienceEmployee && deps.Anomalies != nil {
				r.With(auth.RequireRole(models.RoleAdmin)).Get("/security/device-anomalies", deps.Anomalies.List)
			}
		})
	})
}

func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := checker.HealthCheck(ctx); err != nil {
				pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
				return
			}
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	}
}
