package http_test

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/atinyakov/GophOTP/internal/crypto"
	"github.com/atinyakov/GophOTP/internal/middleware"
	"github.com/atinyakov/GophOTP/internal/models"
	"github.com/atinyakov/GophOTP/internal/otp"
	"github.com/atinyakov/GophOTP/internal/otpuri"
	"github.com/atinyakov/GophOTP/internal/repository"
	handler "github.com/atinyakov/GophOTP/internal/server/handler/http"
	"github.com/atinyakov/GophOTP/internal/service"
)

// fakeTokenService records calls and returns preconfigured results.
type fakeTokenService struct {
	receivedURI     string
	receivedIndex   int
	receivedAccount string
	receivedLocked  bool
	receivedFrom    int
	receivedTo      int

	list  []models.TokenSummary
	token models.Token
	codes []otp.Code
	found bool
	count int
	err   error
}

func (f *fakeTokenService) ListTokens(context.Context) ([]models.TokenSummary, error) {
	return f.list, f.err
}

func (f *fakeTokenService) AddFromURI(_ context.Context, text string) (models.TokenSummary, error) {
	f.receivedURI = text
	return f.token.Summary(), f.err
}

func (f *fakeTokenService) Count(context.Context) (int, error) {
	return f.count, f.err
}

func (f *fakeTokenService) CodeAt(_ context.Context, index int) (models.Token, []otp.Code, bool, error) {
	f.receivedIndex = index
	return f.token, f.codes, f.found, f.err
}

func (f *fakeTokenService) Codes(_ context.Context, account string) ([]otp.Code, error) {
	f.receivedAccount = account
	return f.codes, f.err
}

func (f *fakeTokenService) SetLocked(_ context.Context, account string, locked bool) (models.Token, error) {
	f.receivedAccount = account
	f.receivedLocked = locked
	return f.token, f.err
}

func (f *fakeTokenService) MoveToken(_ context.Context, from, to int) error {
	f.receivedFrom = from
	f.receivedTo = to
	return f.err
}

func (f *fakeTokenService) RemoveToken(_ context.Context, account string) error {
	f.receivedAccount = account
	return f.err
}

func withCompanion(req *http.Request) *http.Request {
	req.TLS = &tls.ConnectionState{
		PeerCertificates: []*x509.Certificate{{Subject: pkix.Name{CommonName: "watch"}}},
	}
	return req
}

func jsonRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return withCompanion(req)
}

func serve(h *handler.TokenHandler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	handler.NewRouter(h, zap.NewNop()).ServeHTTP(w, req)
	return w
}

func TestTokenHandler_AddBadJSON(t *testing.T) {
	h := &handler.TokenHandler{Tokens: &fakeTokenService{}}
	req := httptest.NewRequest(http.MethodPost, "/api/tokens", bytes.NewBufferString("not-a-json"))
	w := httptest.NewRecorder()

	h.Add(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want %d", w.Code, http.StatusBadRequest)
	}
	if body := w.Body.String(); body != "invalid body\n" {
		t.Errorf("body = %q; want %q", body, "invalid body\n")
	}
}

func TestTokenHandler_AddEmptyURI(t *testing.T) {
	fake := &fakeTokenService{}
	w := serve(&handler.TokenHandler{Tokens: fake}, jsonRequest(http.MethodPost, "/api/tokens", map[string]string{"uri": ""}))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want %d", w.Code, http.StatusBadRequest)
	}
	if fake.receivedURI != "" {
		t.Errorf("service called with %q", fake.receivedURI)
	}
}

func TestTokenHandler_AddSuccess(t *testing.T) {
	fake := &fakeTokenService{token: models.Token{Account: "acc-1", Kind: otp.TOTP, Issuer: "ACME", Label: "bob", IssuerOrig: "ACME", LabelOrig: "bob"}}
	raw := "otpauth://totp/ACME:bob?secret=JBSWY3DPEHPK3PXP"
	w := serve(&handler.TokenHandler{Tokens: fake}, jsonRequest(http.MethodPost, "/api/tokens", map[string]string{"uri": raw}))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d; want %d", w.Code, http.StatusCreated)
	}
	if fake.receivedURI != raw {
		t.Errorf("receivedURI = %q; want %q", fake.receivedURI, raw)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q; want application/json", ct)
	}
	var got models.TokenSummary
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Account != "acc-1" || got.UID != "ACME:bob" {
		t.Errorf("summary = %+v", got)
	}
}

func TestTokenHandler_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"malformed uri", fmt.Errorf("%w: scheme", otpuri.ErrMalformedURI), http.StatusBadRequest},
		{"missing secret", otpuri.ErrMissingSecret, http.StatusBadRequest},
		{"bad base32", otp.ErrDecode, http.StatusBadRequest},
		{"bad algorithm", otp.ErrInvalidAlgorithm, http.StatusBadRequest},
		{"bad digits", otp.ErrInvalidDigits, http.StatusBadRequest},
		{"index", service.ErrIndexOutOfRange, http.StatusBadRequest},
		{"not found", repository.ErrNotFound, http.StatusNotFound},
		{"duplicate", repository.ErrDuplicateAccount, http.StatusConflict},
		{"locking unsupported", repository.ErrLockingUnsupported, http.StatusConflict},
		{"presence", fmt.Errorf("load: %w", repository.ErrPresenceDenied), http.StatusForbidden},
		{"corrupted", fmt.Errorf("%w: %w", service.ErrCorruptedState, repository.ErrNotFound), http.StatusInternalServerError},
		{"persistence", fmt.Errorf("%w: %w", service.ErrPersistence, repository.ErrStoreIO), http.StatusInternalServerError},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeTokenService{err: tt.err}
			w := serve(&handler.TokenHandler{Tokens: fake}, jsonRequest(http.MethodDelete, "/api/tokens/acc-1", nil))
			if w.Code != tt.want {
				t.Errorf("status = %d; want %d", w.Code, tt.want)
			}
		})
	}
}

func TestTokenHandler_ServerErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	fake := &fakeTokenService{err: service.ErrCorruptedState}
	h := &handler.TokenHandler{Tokens: fake, Log: zap.New(core)}

	w := serve(h, jsonRequest(http.MethodGet, "/api/tokens", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	entries := logs.FilterMessage("token request failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "watch", entries[0].ContextMap()["companion"])
}

func TestTokenHandler_Count(t *testing.T) {
	w := serve(&handler.TokenHandler{Tokens: &fakeTokenService{count: 3}}, jsonRequest(http.MethodGet, "/api/tokens/count", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":3}`, w.Body.String())
}

func TestTokenHandler_CodeAt(t *testing.T) {
	to := time.Unix(1020, 0).UTC()
	fake := &fakeTokenService{
		token: models.Token{Account: "acc-7"},
		codes: []otp.Code{{Value: "123456", From: time.Unix(990, 0).UTC(), To: to}},
		found: true,
	}
	w := serve(&handler.TokenHandler{Tokens: fake}, jsonRequest(http.MethodGet, "/api/tokens/2/code", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, fake.receivedIndex)
	var got handler.CodeReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "123456", got.Token)
	assert.Equal(t, "acc-7", got.Account)
	assert.True(t, to.Equal(got.To))
}

func TestTokenHandler_CodeAtEmpty(t *testing.T) {
	now := time.Unix(5000, 0).UTC()
	h := &handler.TokenHandler{Tokens: &fakeTokenService{}, Now: func() time.Time { return now }}
	w := serve(h, jsonRequest(http.MethodGet, "/api/tokens/9/code", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var got handler.CodeReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Empty(t, got.Token)
	assert.Empty(t, got.Account)
	assert.True(t, now.Add(5*time.Second).Equal(got.To))
}

func TestTokenHandler_CodeAtBadIndex(t *testing.T) {
	w := serve(&handler.TokenHandler{Tokens: &fakeTokenService{}}, jsonRequest(http.MethodGet, "/api/tokens/first/code", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTokenHandler_Codes(t *testing.T) {
	fake := &fakeTokenService{codes: []otp.Code{{Value: "111111"}, {Value: "222222"}}}
	w := serve(&handler.TokenHandler{Tokens: fake}, jsonRequest(http.MethodPost, "/api/tokens/acc-3/codes", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acc-3", fake.receivedAccount)
	var got []otp.Code
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "222222", got[1].Value)
}

func TestTokenHandler_Lock(t *testing.T) {
	fake := &fakeTokenService{token: models.Token{Account: "acc-4", Locked: true}}
	w := serve(&handler.TokenHandler{Tokens: fake}, jsonRequest(http.MethodPut, "/api/tokens/acc-4/lock", map[string]bool{"locked": true}))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acc-4", fake.receivedAccount)
	assert.True(t, fake.receivedLocked)
}

func TestTokenHandler_LockMissingFlag(t *testing.T) {
	fake := &fakeTokenService{}
	w := serve(&handler.TokenHandler{Tokens: fake}, jsonRequest(http.MethodPut, "/api/tokens/acc-4/lock", map[string]string{}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, fake.receivedAccount)
}

func TestTokenHandler_Move(t *testing.T) {
	fake := &fakeTokenService{}
	w := serve(&handler.TokenHandler{Tokens: fake}, jsonRequest(http.MethodPost, "/api/tokens/move", map[string]int{"from": 0, "to": 2}))

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, fake.receivedFrom)
	assert.Equal(t, 2, fake.receivedTo)
}

func TestTokenHandler_MoveMissingField(t *testing.T) {
	w := serve(&handler.TokenHandler{Tokens: &fakeTokenService{}}, jsonRequest(http.MethodPost, "/api/tokens/move", map[string]int{"from": 1}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_RequiresCertificate(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/tokens", nil)
	w := httptest.NewRecorder()
	handler.NewRouter(&handler.TokenHandler{Tokens: &fakeTokenService{}}, zap.NewNop()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_RejectsNonJSONBody(t *testing.T) {
	req := withCompanion(httptest.NewRequest(http.MethodPost, "/api/tokens", bytes.NewBufferString("uri=x")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler.NewRouter(&handler.TokenHandler{Tokens: &fakeTokenService{}}, zap.NewNop()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

// TestRouter_EndToEnd drives a real token store through the router,
// including a locked token that needs the presence PIN.
func TestRouter_EndToEnd(t *testing.T) {
	sealer, err := crypto.NewSealer([]byte("router test key"))
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte("1357"), bcrypt.MinCost)
	require.NoError(t, err)

	store := service.NewTokenStoreOn(repository.NewMemoryBackend(), sealer, crypto.NewPINGate(string(hash)), zap.NewNop())
	store.SetClock(func() time.Time { return time.Unix(59, 0) })
	h := &handler.TokenHandler{Tokens: store}

	// RFC 6238 SHA1 vector at T=59.
	raw := "otpauth://totp/ACME:bob?secret=GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ&digits=8&lock=true"
	w := serve(h, jsonRequest(http.MethodPost, "/api/tokens", map[string]string{"uri": raw}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = serve(h, jsonRequest(http.MethodGet, "/api/tokens/0/code", nil))
	require.Equal(t, http.StatusForbidden, w.Code)

	req := jsonRequest(http.MethodGet, "/api/tokens/0/code", nil)
	req.Header.Set(middleware.PINHeader, "1357")
	w = serve(h, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got handler.CodeReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "94287082", got.Token)

	w = serve(h, jsonRequest(http.MethodGet, "/api/tokens", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.TokenSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.True(t, list[0].Locked)

	w = serve(h, jsonRequest(http.MethodDelete, "/api/tokens/"+list[0].Account, nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = serve(h, jsonRequest(http.MethodGet, "/api/tokens/count", nil))
	assert.JSONEq(t, `{"count":0}`, w.Body.String())
}
