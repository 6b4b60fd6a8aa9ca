/**
 * @description
 * HTTP router for the wheel service using go-chi/chi.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: routing and standard middleware.
 * - github.com/go-chi/cors: CORS policy for the wheel frontend.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
)

// RouterConfig holds the settings of the HTTP surface.
type RouterConfig struct {
	Keyfunc        jwt.Keyfunc
	Auth           AuthOptions
	InternalAPIKey string
	AllowedOrigins []string
}

// WheelRoutes creates the router mounted under /wheel.
func WheelRoutes(h *WheelHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/tokens/refresh", h.InternalRefreshTokensHandler)
		r.Post("/extractions/sweep", h.InternalSweepExtractionsHandler)
	})

	// Public reads. Listing assets is public only for the enabled state.
	r.Group(func(r chi.Router) {
		r.Use(OptionalAuth(cfg.Keyfunc, cfg.Auth))
		r.Get("/prizes", h.ListWheelPrizesHandler)
		r.Get("/extractions/last", h.GetLastExtractionHandler)
		r.Get("/assets", h.ListAssetsHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(cfg.Keyfunc, cfg.Auth))

		r.Post("/assets", h.CreateAssetHandler)
		r.Post("/assets/defaults", h.SetDefaultAssetsHandler)
		r.Post("/assets/tokens/refresh", h.RefreshTokensHandler)
		r.Get("/assets/{id}", h.GetAssetHandler)
		r.Put("/assets/{id}", h.UpdateAssetHandler)
		r.Delete("/assets/{id}", h.DeleteAssetHandler)

		r.Put("/prizes/order", h.UpdatePrizesOrderHandler)

		r.Post("/extractions", h.CreateExtractionHandler)
		r.Get("/extractions", h.ListExtractionsHandler)
		r.Get("/extractions/{id}", h.GetExtractionHandler)

		r.Post("/wallet/transfer", h.TransferTokenHandler)
	})

	return r
}
