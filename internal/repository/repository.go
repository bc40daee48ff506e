// Package repository provides encrypted record storage for tokens on top of
// raw byte backends (memory, JSON file, PostgreSQL, SQLite).
package repository

import (
	"context"
	"errors"
)

var (
	// ErrDuplicateAccount is returned by Insert/Add when the key is taken.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrNotFound is returned when no record exists for the key.
	ErrNotFound = errors.New("record not found")
	// ErrStoreIO wraps failures of the underlying storage.
	ErrStoreIO = errors.New("store i/o")
	// ErrLockingUnsupported is returned when a presence-gated record is
	// requested but the gate is unavailable.
	ErrLockingUnsupported = errors.New("presence-gated storage unsupported")
	// ErrPresenceDenied is returned when the presence check fails.
	ErrPresenceDenied = errors.New("presence check failed")
)

// ProtectionClass selects whether a record needs a presence check to open.
type ProtectionClass int

const (
	// ClassUnlocked records open without a presence check.
	ClassUnlocked ProtectionClass = iota
	// ClassPresence records require PresenceGate.Verify before opening.
	ClassPresence
)

func classFor(locked bool) ProtectionClass {
	if locked {
		return ClassPresence
	}
	return ClassUnlocked
}

// Item is a sealed record as seen by a backend.
type Item struct {
	Service string
	Account string
	Class   ProtectionClass
	Data    []byte
}

// Backend stores sealed items keyed by (service, account). Each call is a
// single-record transaction.
type Backend interface {
	// Insert fails with ErrDuplicateAccount if the key exists.
	Insert(ctx context.Context, item Item) error
	// Update fails with ErrNotFound if the key does not exist.
	Update(ctx context.Context, item Item) error
	// Get fails with ErrNotFound if the key does not exist.
	Get(ctx context.Context, service, account string) (Item, error)
	// Delete fails with ErrNotFound if the key does not exist.
	Delete(ctx context.Context, service, account string) error
}

// Sealer encrypts and authenticates record payloads.
type Sealer interface {
	Seal(plain, aad []byte) ([]byte, error)
	Open(sealed, aad []byte) ([]byte, error)
}

// PresenceGate performs the user-presence check guarding ClassPresence.
type PresenceGate interface {
	// Available reports whether presence-gated storage can be used now.
	Available(ctx context.Context) bool
	// Verify performs the check for account.
	Verify(ctx context.Context, account string) error
}

// NoPresence is a gate that is never available.
type NoPresence struct{}

// Available implements PresenceGate.
func (NoPresence) Available(context.Context) bool { return false }

// Verify implements PresenceGate.
func (NoPresence) Verify(context.Context, string) error { return ErrLockingUnsupported }
