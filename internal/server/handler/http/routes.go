package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/GophOTP/internal/middleware"
)

// NewRouter constructs the HTTP handler serving the companion API.
//
// Routes:
//
//	GET    /api/tokens            → tokens.List
//	POST   /api/tokens            → tokens.Add
//	GET    /api/tokens/count      → tokens.Count
//	POST   /api/tokens/move       → tokens.Move
//	GET    /api/tokens/{id}/code  → tokens.CodeAt (id is a list position)
//	POST   /api/tokens/{id}/codes → tokens.Codes  (id is an account)
//	PUT    /api/tokens/{id}/lock  → tokens.Lock
//	DELETE /api/tokens/{id}       → tokens.Delete
//
// Middleware chain (applied in order):
//  1. AllowContentType("application/json"): rejects non-JSON bodies
//  2. WithRequestLogging(logger):         logs every request
//  3. CertAuth:                          requires a companion client certificate
//  4. PresencePIN:                       forwards the presence PIN header
func NewRouter(tokens *TokenHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(middleware.CertAuth)
	r.Use(middleware.PresencePIN)

	r.Route("/api/tokens", func(r chi.Router) {
		r.Get("/", tokens.List)
		r.Post("/", tokens.Add)
		r.Get("/count", tokens.Count)
		r.Post("/move", tokens.Move)
		r.Get("/{id}/code", tokens.CodeAt)
		r.Post("/{id}/codes", tokens.Codes)
		r.Put("/{id}/lock", tokens.Lock)
		r.Delete("/{id}", tokens.Delete)
	})

	return r
}
