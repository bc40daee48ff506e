package middleware

import (
	"net/http"

	"github.com/atinyakov/GophOTP/internal/crypto"
)

// PINHeader carries the presence PIN for requests touching locked tokens.
const PINHeader = "X-Presence-PIN"

// PresencePIN moves the PIN header into the request context where the
// presence gate looks for it.
func PresencePIN(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pin := r.Header.Get(PINHeader); pin != "" {
			r = r.WithContext(crypto.WithPIN(r.Context(), pin))
		}
		next.ServeHTTP(w, r)
	})
}
