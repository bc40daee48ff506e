// Package middleware provides HTTP middlewares for companion authentication,
// presence PIN forwarding and request logging.
package middleware

import (
	"context"
	"net/http"
)

type ctxKey string

const companionKey ctxKey = "companion"

// CertAuth is a middleware that enforces mutual TLS authentication of the
// companion device.
//
// The Common Name of the client certificate identifies the companion and is
// stored in the request context.
func CertAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			http.Error(w, "no client certificate provided", http.StatusUnauthorized)
			return
		}
		cert := r.TLS.PeerCertificates[0]
		ctx := context.WithValue(r.Context(), companionKey, cert.Subject.CommonName)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CompanionFromContext returns the companion name set by CertAuth, or an
// empty string.
func CompanionFromContext(ctx context.Context) string {
	val := ctx.Value(companionKey)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}
