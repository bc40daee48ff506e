package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/atinyakov/GophOTP/internal/crypto"
	"github.com/atinyakov/GophOTP/internal/repository"
	"github.com/atinyakov/GophOTP/internal/service"
)

const (
	rfcHOTP = "otpauth://hotp/Example:alice@google.com?secret=GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ&image=http%3A%2F%2Ffoo%2Fbar"
	rfcTOTP = "otpauth://totp/ACME:bob?secret=GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ&digits=8"
	testPIN = "2468"
)

var errInjected = errors.New("injected failure")

// faultyBackend fails selected operations per service.
type faultyBackend struct {
	repository.Backend

	mu     sync.Mutex
	insert map[string]bool
	update map[string]bool
	delete map[string]bool
}

func newFaultyBackend() *faultyBackend {
	return &faultyBackend{
		Backend: repository.NewMemoryBackend(),
		insert:  map[string]bool{},
		update:  map[string]bool{},
		delete:  map[string]bool{},
	}
}

func (f *faultyBackend) failInsert(service string, fail bool) { f.set(f.insert, service, fail) }
func (f *faultyBackend) failUpdate(service string, fail bool) { f.set(f.update, service, fail) }
func (f *faultyBackend) failDelete(service string, fail bool) { f.set(f.delete, service, fail) }

func (f *faultyBackend) set(m map[string]bool, service string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m[service] = fail
}

func (f *faultyBackend) fails(m map[string]bool, service string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return m[service]
}

func (f *faultyBackend) Insert(ctx context.Context, item repository.Item) error {
	if f.fails(f.insert, item.Service) {
		return errInjected
	}
	return f.Backend.Insert(ctx, item)
}

func (f *faultyBackend) Update(ctx context.Context, item repository.Item) error {
	if f.fails(f.update, item.Service) {
		return errInjected
	}
	return f.Backend.Update(ctx, item)
}

func (f *faultyBackend) Delete(ctx context.Context, service, account string) error {
	if f.fails(f.delete, service) {
		return errInjected
	}
	return f.Backend.Delete(ctx, service, account)
}

func (f *faultyBackend) count(service string) int {
	return f.Backend.(*repository.MemoryBackend).Len(service)
}

type fixture struct {
	store   *service.TokenStore
	backend *faultyBackend
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T, withPIN bool) *fixture {
	t.Helper()

	sealer, err := crypto.NewSealer([]byte("service test key"))
	require.NoError(t, err)

	var gate repository.PresenceGate = repository.NoPresence{}
	if withPIN {
		h, err := bcrypt.GenerateFromPassword([]byte(testPIN), bcrypt.MinCost)
		require.NoError(t, err)
		gate = crypto.NewPINGate(string(h))
	}

	core, logs := observer.New(zapcore.InfoLevel)
	backend := newFaultyBackend()
	store := service.NewTokenStoreOn(backend, sealer, gate, zap.New(core))
	store.SetClock(func() time.Time { return time.Unix(1000, 0) })

	return &fixture{store: store, backend: backend, logs: logs}
}

func (f *fixture) mustAdd(t *testing.T, raw string) string {
	t.Helper()
	tok, err := f.store.Add(context.Background(), raw)
	require.NoError(t, err)
	return tok.Account
}

func (f *fixture) accounts(t *testing.T) []string {
	t.Helper()
	all, err := f.store.All(context.Background())
	require.NoError(t, err)
	out := make([]string, len(all))
	for i, tok := range all {
		out[i] = tok.Account
	}
	return out
}
