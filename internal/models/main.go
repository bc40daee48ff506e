// Package models defines the records persisted by the token store: the
// secret half of a token, its display metadata and the order list.
package models

import (
	"github.com/atinyakov/GophOTP/internal/otp"
)

// Storable is implemented by every record kept in an encrypted key store.
// AccountID is the storage key.
type Storable interface {
	AccountID() string
}

// OTP holds the engine configuration and the raw shared secret. It is the
// only record that may be stored under the presence-gated protection class.
type OTP struct {
	// Account is the opaque identifier shared with the paired Token.
	Account string `json:"account"`
	// Secret is the decoded shared key.
	Secret []byte `json:"secret"`
	// Algorithm is the HMAC hash.
	Algorithm otp.Algorithm `json:"algorithm"`
	// Digits is the code length, 6..9.
	Digits int `json:"digits"`
}

// AccountID implements Storable.
func (o OTP) AccountID() string { return o.Account }

// Size is the digest length of the configured algorithm.
func (o OTP) Size() int { return o.Algorithm.Size() }

// Engine builds the code generator for this secret.
func (o OTP) Engine() (*otp.Engine, error) {
	return otp.NewEngine(o.Secret, o.Algorithm, o.Digits)
}
