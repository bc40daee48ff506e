// Package crypto seals stored records and verifies the presence PIN.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	recordKeyInfo = "gophotp/records/v1"
	keySize       = 32
)

var (
	// ErrEmptyKey is returned when no master key is configured.
	ErrEmptyKey = errors.New("empty master key")
	// ErrOpen is returned when a sealed blob fails authentication.
	ErrOpen = errors.New("cannot open sealed record")
)

// Sealer encrypts records with AES-256-GCM. The key is derived from the
// master key with HKDF-SHA256.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the record key from masterKey.
func NewSealer(masterKey []byte) (*Sealer, error) {
	if len(masterKey) == 0 {
		return nil, ErrEmptyKey
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(recordKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns nonce||ciphertext. aad binds the blob to its storage slot.
func (s *Sealer) Seal(plain, aad []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plain, aad), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, fmt.Errorf("%w: short blob", ErrOpen)
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	return plain, nil
}
