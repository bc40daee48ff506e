package crypto

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrPINMismatch is returned when the supplied PIN does not match.
var ErrPINMismatch = errors.New("pin mismatch")

type pinKey struct{}

// WithPIN attaches the PIN entered for this request.
func WithPIN(ctx context.Context, pin string) context.Context {
	return context.WithValue(ctx, pinKey{}, pin)
}

// PINFromContext returns the PIN attached by WithPIN.
func PINFromContext(ctx context.Context) (string, bool) {
	pin, ok := ctx.Value(pinKey{}).(string)
	return pin, ok && pin != ""
}

// HashPIN returns the bcrypt hash stored in configuration.
func HashPIN(pin string) (string, error) {
	if pin == "" {
		return "", fmt.Errorf("%w: empty pin", ErrPINMismatch)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(h), nil
}

// PINGate is a presence check backed by a PIN carried in the context.
// With no hash configured presence-gated storage is unavailable.
type PINGate struct {
	hash []byte
}

// NewPINGate returns a gate for the given bcrypt hash.
func NewPINGate(hash string) *PINGate {
	return &PINGate{hash: []byte(hash)}
}

// Available reports whether a PIN is configured.
func (g *PINGate) Available(context.Context) bool {
	return len(g.hash) > 0
}

// Verify compares the context PIN with the configured hash.
func (g *PINGate) Verify(ctx context.Context, account string) error {
	if !g.Available(ctx) {
		return fmt.Errorf("%w: no pin configured", ErrPINMismatch)
	}
	pin, ok := PINFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: no pin supplied for %s", ErrPINMismatch, account)
	}
	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(pin)); err != nil {
		return fmt.Errorf("%w: %s", ErrPINMismatch, account)
	}
	return nil
}
