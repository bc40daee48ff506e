package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/atinyakov/GophOTP/internal/models"
)

const probeService = "probe"

// KeyStore is an encrypted map from account id to a record of type T.
type KeyStore[T models.Storable] struct {
	service string
	backend Backend
	sealer  Sealer
	gate    PresenceGate
}

// NewKeyStore returns a store for records of type T kept under service.
// A nil gate disables presence-gated storage.
func NewKeyStore[T models.Storable](service string, backend Backend, sealer Sealer, gate PresenceGate) *KeyStore[T] {
	if gate == nil {
		gate = NoPresence{}
	}
	return &KeyStore[T]{service: service, backend: backend, sealer: sealer, gate: gate}
}

// Add stores rec under a new key. It fails with ErrDuplicateAccount if the
// account is already present and with ErrLockingUnsupported if locked is
// requested while the gate is unavailable.
func (s *KeyStore[T]) Add(ctx context.Context, rec T, locked bool) error {
	class := classFor(locked)
	if locked && !s.gate.Available(ctx) {
		return ErrLockingUnsupported
	}
	item, err := s.seal(rec, class)
	if err != nil {
		return err
	}
	return s.backend.Insert(ctx, item)
}

// Save overwrites an existing record, keeping its protection class.
func (s *KeyStore[T]) Save(ctx context.Context, rec T) error {
	cur, err := s.backend.Get(ctx, s.service, rec.AccountID())
	if err != nil {
		return err
	}
	item, err := s.seal(rec, cur.Class)
	if err != nil {
		return err
	}
	return s.backend.Update(ctx, item)
}

// Load returns the record for account. Presence-gated records are verified
// through the gate first.
func (s *KeyStore[T]) Load(ctx context.Context, account string) (T, error) {
	var rec T
	item, err := s.backend.Get(ctx, s.service, account)
	if err != nil {
		return rec, err
	}
	return s.open(ctx, item)
}

// Erase removes the record for account.
func (s *KeyStore[T]) Erase(ctx context.Context, account string) error {
	return s.backend.Delete(ctx, s.service, account)
}

// Locked reports whether the record for account is presence-gated.
func (s *KeyStore[T]) Locked(ctx context.Context, account string) (bool, error) {
	item, err := s.backend.Get(ctx, s.service, account)
	if err != nil {
		return false, err
	}
	return item.Class == ClassPresence, nil
}

// Reprotect moves the record for account to the protection class given by
// locked. The record is rewritten in a single update, so a failure leaves
// the previous copy in place. Leaving the presence class requires a
// successful presence check.
func (s *KeyStore[T]) Reprotect(ctx context.Context, account string, locked bool) error {
	if locked && !s.LockingSupported(ctx) {
		return ErrLockingUnsupported
	}
	item, err := s.backend.Get(ctx, s.service, account)
	if err != nil {
		return err
	}
	class := classFor(locked)
	if item.Class == class {
		return nil
	}
	rec, err := s.open(ctx, item)
	if err != nil {
		return err
	}
	next, err := s.seal(rec, class)
	if err != nil {
		return err
	}
	return s.backend.Update(ctx, next)
}

// LockingSupported probes whether a presence-gated record can be stored
// right now by adding and erasing a throwaway record. The answer is not
// cached.
func (s *KeyStore[T]) LockingSupported(ctx context.Context) bool {
	if !s.gate.Available(ctx) {
		return false
	}
	probe := Item{
		Service: probeService,
		Account: uuid.NewString(),
		Class:   ClassPresence,
	}
	var err error
	if probe.Data, err = s.sealer.Seal(nil, aad(probe.Service, probe.Account, probe.Class)); err != nil {
		return false
	}
	if err := s.backend.Insert(ctx, probe); err != nil {
		return false
	}
	return s.backend.Delete(ctx, probe.Service, probe.Account) == nil
}

func (s *KeyStore[T]) seal(rec T, class ProtectionClass) (Item, error) {
	plain, err := json.Marshal(rec)
	if err != nil {
		return Item{}, fmt.Errorf("encode %s record: %w", s.service, err)
	}
	account := rec.AccountID()
	data, err := s.sealer.Seal(plain, aad(s.service, account, class))
	if err != nil {
		return Item{}, fmt.Errorf("seal %s record: %w", s.service, err)
	}
	return Item{Service: s.service, Account: account, Class: class, Data: data}, nil
}

func (s *KeyStore[T]) open(ctx context.Context, item Item) (T, error) {
	var rec T
	if item.Class == ClassPresence {
		if err := s.gate.Verify(ctx, item.Account); err != nil {
			if errors.Is(err, ErrPresenceDenied) {
				return rec, err
			}
			return rec, fmt.Errorf("%w: %w", ErrPresenceDenied, err)
		}
	}
	plain, err := s.sealer.Open(item.Data, aad(item.Service, item.Account, item.Class))
	if err != nil {
		return rec, fmt.Errorf("%w: open %s/%s: %w", ErrStoreIO, item.Service, item.Account, err)
	}
	if err := json.Unmarshal(plain, &rec); err != nil {
		return rec, fmt.Errorf("%w: decode %s/%s: %w", ErrStoreIO, item.Service, item.Account, err)
	}
	return rec, nil
}

func aad(service, account string, class ProtectionClass) []byte {
	return []byte(service + "\x00" + account + "\x00" + strconv.Itoa(int(class)))
}
