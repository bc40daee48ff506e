// Package http provides the HTTP handlers through which companion devices
// list tokens and request codes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/GophOTP/internal/middleware"
	"github.com/atinyakov/GophOTP/internal/models"
	"github.com/atinyakov/GophOTP/internal/otp"
	"github.com/atinyakov/GophOTP/internal/otpuri"
	"github.com/atinyakov/GophOTP/internal/repository"
	"github.com/atinyakov/GophOTP/internal/service"
)

// emptyReplyTTL is how long a companion waits before asking again for an
// index that holds no token.
const emptyReplyTTL = 5 * time.Second

// TokenService defines the token operations required by the TokenHandler.
type TokenService interface {
	ListTokens(ctx context.Context) ([]models.TokenSummary, error)
	AddFromURI(ctx context.Context, text string) (models.TokenSummary, error)
	Count(ctx context.Context) (int, error)
	CodeAt(ctx context.Context, index int) (models.Token, []otp.Code, bool, error)
	Codes(ctx context.Context, account string) ([]otp.Code, error)
	SetLocked(ctx context.Context, account string, locked bool) (models.Token, error)
	MoveToken(ctx context.Context, from, to int) error
	RemoveToken(ctx context.Context, account string) error
}

// TokenHandler handles the /api/tokens endpoints.
type TokenHandler struct {
	Tokens TokenService
	Log    *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// CodeReply is the answer to a code request by index.
type CodeReply struct {
	Token   string    `json:"token"`
	Account string    `json:"account"`
	To      time.Time `json:"to"`
}

// List handles GET /api/tokens.
func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.Tokens.ListTokens(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Add handles POST /api/tokens with a body of {"uri": "..."}.
func (h *TokenHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URI string `json:"uri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URI == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	summary, err := h.Tokens.AddFromURI(r.Context(), req.URI)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

// Count handles GET /api/tokens/count.
func (h *TokenHandler) Count(w http.ResponseWriter, r *http.Request) {
	n, err := h.Tokens.Count(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// CodeAt handles GET /api/tokens/{id}/code where id is a list position.
// An empty position yields an empty reply asking the caller to retry
// shortly.
func (h *TokenHandler) CodeAt(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}

	tok, codes, ok, err := h.Tokens.CodeAt(r.Context(), index)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, CodeReply{To: h.now().Add(emptyReplyTTL)})
		return
	}
	writeJSON(w, http.StatusOK, CodeReply{
		Token:   codes[0].Value,
		Account: tok.Account,
		To:      codes[0].To,
	})
}

// Codes handles POST /api/tokens/{id}/codes where id is an account.
func (h *TokenHandler) Codes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.Tokens.Codes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, codes)
}

// Lock handles PUT /api/tokens/{id}/lock with a body of {"locked": bool}.
func (h *TokenHandler) Lock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Locked *bool `json:"locked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Locked == nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	tok, err := h.Tokens.SetLocked(r.Context(), chi.URLParam(r, "id"), *req.Locked)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tok.Summary())
}

// Move handles POST /api/tokens/move with a body of {"from": n, "to": m}.
func (h *TokenHandler) Move(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From *int `json:"from"`
		To   *int `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.From == nil || req.To == nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if err := h.Tokens.MoveToken(r.Context(), *req.From, *req.To); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/tokens/{id} where id is an account.
func (h *TokenHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Tokens.RemoveToken(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TokenHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && h.Log != nil {
		h.Log.Error("token request failed",
			zap.String("path", r.URL.Path),
			zap.String("companion", middleware.CompanionFromContext(r.Context())),
			zap.Error(err),
		)
	}
	http.Error(w, err.Error(), status)
}

func (h *TokenHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrCorruptedState), errors.Is(err, service.ErrPersistence):
		return http.StatusInternalServerError
	case errors.Is(err, otpuri.ErrMalformedURI),
		errors.Is(err, otpuri.ErrMissingSecret),
		errors.Is(err, otpuri.ErrInvalidPeriod),
		errors.Is(err, otpuri.ErrInvalidCounter),
		errors.Is(err, otp.ErrInvalidDigits),
		errors.Is(err, otp.ErrInvalidAlgorithm),
		errors.Is(err, otp.ErrDecode),
		errors.Is(err, service.ErrIndexOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrDuplicateAccount), errors.Is(err, repository.ErrLockingUnsupported):
		return http.StatusConflict
	case errors.Is(err, repository.ErrPresenceDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
