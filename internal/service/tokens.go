// Package service implements the token store: the ordered collection of
// encrypted token records and the operations callers perform on it.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/GophOTP/internal/models"
	"github.com/atinyakov/GophOTP/internal/otp"
	"github.com/atinyakov/GophOTP/internal/otpuri"
	"github.com/atinyakov/GophOTP/internal/repository"
)

var (
	// ErrCorruptedState is returned when a failed multi-step operation could
	// not be undone and records may be orphaned.
	ErrCorruptedState = errors.New("token store corrupted")
	// ErrPersistence is returned when a HOTP counter advance could not be
	// saved. No code is handed out in that case.
	ErrPersistence = errors.New("counter not persisted")
	// ErrIndexOutOfRange is returned for positions outside the order list.
	ErrIndexOutOfRange = errors.New("token index out of range")
)

// Store names under which the three record kinds are kept.
const (
	OTPService   = "otp"
	TokenService = "token"
	OrderService = "order"
)

// RecordStore is the persistence contract of a single record kind.
// repository.KeyStore implements it.
type RecordStore[T models.Storable] interface {
	Add(ctx context.Context, rec T, locked bool) error
	Save(ctx context.Context, rec T) error
	Load(ctx context.Context, account string) (T, error)
	Erase(ctx context.Context, account string) error
	Reprotect(ctx context.Context, account string, locked bool) error
	LockingSupported(ctx context.Context) bool
}

// TokenStore keeps the secret and metadata records of every token plus the
// order list. Mutations are serialized by a single writer lock; reads run
// concurrently with each other. HOTP code generation is additionally
// serialized per account so a counter value is never handed out twice.
type TokenStore struct {
	mu sync.RWMutex

	otps   RecordStore[models.OTP]
	tokens RecordStore[models.Token]
	order  RecordStore[models.TokenOrder]

	counters sync.Map // account -> *sync.Mutex

	now func() time.Time
	log *zap.Logger
}

// NewTokenStore builds a store over the three record stores.
func NewTokenStore(
	otps RecordStore[models.OTP],
	tokens RecordStore[models.Token],
	order RecordStore[models.TokenOrder],
	log *zap.Logger,
) *TokenStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenStore{otps: otps, tokens: tokens, order: order, now: time.Now, log: log}
}

// NewTokenStoreOn builds a store whose records share one backend.
func NewTokenStoreOn(
	backend repository.Backend,
	sealer repository.Sealer,
	gate repository.PresenceGate,
	log *zap.Logger,
) *TokenStore {
	return NewTokenStore(
		repository.NewKeyStore[models.OTP](OTPService, backend, sealer, gate),
		repository.NewKeyStore[models.Token](TokenService, backend, sealer, gate),
		repository.NewKeyStore[models.TokenOrder](OrderService, backend, sealer, gate),
		log,
	)
}

// SetClock replaces the time source used for codes.
func (s *TokenStore) SetClock(now func() time.Time) {
	s.now = now
}

// Count returns the number of tokens.
func (s *TokenStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, _, err := s.loadOrder(ctx)
	if err != nil {
		return 0, err
	}
	return order.Len(), nil
}

// Add parses raw as a freshly scanned or typed URI and stores it at the top
// of the list. A token whose UID is already listed is refused with
// repository.ErrDuplicateAccount. On failure every record written so far is
// removed again.
func (s *TokenStore) Add(ctx context.Context, raw string) (models.Token, error) {
	u, err := otpuri.Parse(raw, otpuri.ModeFresh)
	if err != nil {
		return models.Token{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sec, tok := models.NewFromURI(u)
	_, dup, err := s.findByUID(ctx, tok.UID())
	if err != nil {
		return models.Token{}, err
	}
	if dup {
		return models.Token{}, fmt.Errorf("%w: %s", repository.ErrDuplicateAccount, tok.UID())
	}
	return s.insert(ctx, sec, tok, 0)
}

func (s *TokenStore) insert(ctx context.Context, sec models.OTP, tok models.Token, index int) (models.Token, error) {
	if tok.Locked && !s.otps.LockingSupported(ctx) {
		s.log.Warn("presence lock unavailable, storing token unlocked", zap.String("account", tok.Account))
		tok.Locked = false
	}

	order, existed, err := s.loadOrder(ctx)
	if err != nil {
		return models.Token{}, err
	}

	if err := s.otps.Add(ctx, sec, tok.Locked); err != nil {
		return models.Token{}, fmt.Errorf("add secret: %w", err)
	}
	if err := s.tokens.Add(ctx, tok, false); err != nil {
		return models.Token{}, s.rollback(ctx, tok.Account, fmt.Errorf("add token: %w", err), s.otps.Erase)
	}
	if err := s.saveOrder(ctx, order.Insert(index, tok.Account), existed); err != nil {
		return models.Token{}, s.rollback(ctx, tok.Account, fmt.Errorf("save order: %w", err), s.tokens.Erase, s.otps.Erase)
	}

	s.log.Info("token added", zap.String("account", tok.Account), zap.String("kind", string(tok.Kind)))
	return tok, nil
}

// Load returns the token at index. ok is false when index is outside the
// list.
func (s *TokenStore) Load(ctx context.Context, index int) (tok models.Token, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, _, err := s.loadOrder(ctx)
	if err != nil {
		return models.Token{}, false, err
	}
	account, ok := order.At(index)
	if !ok {
		return models.Token{}, false, nil
	}
	tok, err = s.loadToken(ctx, account)
	if err != nil {
		return models.Token{}, false, err
	}
	return tok, true, nil
}

// Get returns the token stored under account.
func (s *TokenStore) Get(ctx context.Context, account string) (models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.listed(ctx, account); err != nil {
		return models.Token{}, err
	}
	return s.loadToken(ctx, account)
}

// All returns every token in list order.
func (s *TokenStore) All(ctx context.Context) ([]models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.all(ctx)
}

func (s *TokenStore) all(ctx context.Context) ([]models.Token, error) {
	order, _, err := s.loadOrder(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Token, 0, order.Len())
	for _, account := range order.Accounts {
		tok, err := s.loadToken(ctx, account)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, nil
}

// FindByUID returns the first token whose identity key equals uid.
func (s *TokenStore) FindByUID(ctx context.Context, uid string) (models.Token, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.findByUID(ctx, uid)
}

func (s *TokenStore) findByUID(ctx context.Context, uid string) (models.Token, bool, error) {
	all, err := s.all(ctx)
	if err != nil {
		return models.Token{}, false, err
	}
	for _, tok := range all {
		if tok.UID() == uid {
			return tok, true, nil
		}
	}
	return models.Token{}, false, nil
}

// Erase removes the token at index.
func (s *TokenStore) Erase(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, _, err := s.loadOrder(ctx)
	if err != nil {
		return err
	}
	account, ok := order.At(index)
	if !ok {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, order.Len())
	}
	return s.erase(ctx, order, account)
}

// EraseAccount removes the token stored under account.
func (s *TokenStore) EraseAccount(ctx context.Context, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, _, err := s.loadOrder(ctx)
	if err != nil {
		return err
	}
	return s.erase(ctx, order, account)
}

// erase commits the shortened order list first. The records are only
// removed once the list no longer references them.
func (s *TokenStore) erase(ctx context.Context, order models.TokenOrder, account string) error {
	next, ok := order.Remove(account)
	if !ok {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, account)
	}
	if err := s.order.Save(ctx, next); err != nil {
		return fmt.Errorf("save order: %w", err)
	}

	var failed []error
	if err := s.tokens.Erase(ctx, account); err != nil && !errors.Is(err, repository.ErrNotFound) {
		failed = append(failed, err)
	}
	if err := s.otps.Erase(ctx, account); err != nil && !errors.Is(err, repository.ErrNotFound) {
		failed = append(failed, err)
	}
	s.counters.Delete(account)

	if len(failed) > 0 {
		err := fmt.Errorf("%w: erase %s: %w", ErrCorruptedState, account, errors.Join(failed...))
		s.log.Error("token unlisted but records remain", zap.String("account", account), zap.Error(err))
		return err
	}

	s.log.Info("token erased", zap.String("account", account))
	return nil
}

// Move relocates the token at from to position to.
func (s *TokenStore) Move(ctx context.Context, from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, _, err := s.loadOrder(ctx)
	if err != nil {
		return err
	}
	next, ok := order.Move(from, to)
	if !ok {
		return fmt.Errorf("%w: move %d to %d of %d", ErrIndexOutOfRange, from, to, order.Len())
	}
	if from == to {
		return nil
	}
	if err := s.order.Save(ctx, next); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

// Codes returns the codes of the token stored under account. A HOTP token
// yields one code and its advanced counter is saved before the code is
// returned; if the save fails the call fails with ErrPersistence. A TOTP
// token yields the current and the next window.
func (s *TokenStore) Codes(ctx context.Context, account string) ([]otp.Code, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.listed(ctx, account); err != nil {
		return nil, err
	}
	_, codes, err := s.codes(ctx, account)
	return codes, err
}

// CodeAt resolves index and returns the token with its codes. ok is false
// when index is outside the list.
func (s *TokenStore) CodeAt(ctx context.Context, index int) (models.Token, []otp.Code, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, _, err := s.loadOrder(ctx)
	if err != nil {
		return models.Token{}, nil, false, err
	}
	account, ok := order.At(index)
	if !ok {
		return models.Token{}, nil, false, nil
	}
	tok, codes, err := s.codes(ctx, account)
	if err != nil {
		return models.Token{}, nil, false, err
	}
	return tok, codes, true, nil
}

func (s *TokenStore) codes(ctx context.Context, account string) (models.Token, []otp.Code, error) {
	mu := s.counterLock(account)
	mu.Lock()
	defer mu.Unlock()

	tok, err := s.loadToken(ctx, account)
	if err != nil {
		return models.Token{}, nil, err
	}
	sec, err := s.otps.Load(ctx, account)
	if err != nil {
		return models.Token{}, nil, fmt.Errorf("load secret: %w", err)
	}
	engine, err := sec.Engine()
	if err != nil {
		return models.Token{}, nil, err
	}

	codes := tok.Codes(engine, s.now())
	if tok.Kind == otp.HOTP {
		if err := s.tokens.Save(ctx, tok); err != nil {
			s.log.Warn("hotp counter not saved", zap.String("account", account), zap.Error(err))
			return models.Token{}, nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}
	return tok, codes, nil
}

func (s *TokenStore) counterLock(account string) *sync.Mutex {
	mu, _ := s.counters.LoadOrStore(account, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// SetLocked moves the secret of account in or out of presence-gated
// storage and records the new flag in the metadata. On failure the stored
// state is left as it was and the returned token carries the old flag.
func (s *TokenStore) SetLocked(ctx context.Context, account string, locked bool) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.listed(ctx, account); err != nil {
		return models.Token{}, err
	}
	tok, err := s.loadToken(ctx, account)
	if err != nil {
		return models.Token{}, err
	}
	if tok.Locked == locked {
		return tok, nil
	}
	if locked && !s.otps.LockingSupported(ctx) {
		return tok, repository.ErrLockingUnsupported
	}
	prev := tok
	tok.Locked = locked

	// Compensating steps must not need a presence check.
	if locked {
		if err := s.tokens.Save(ctx, tok); err != nil {
			return prev, fmt.Errorf("save token: %w", err)
		}
		if err := s.otps.Reprotect(ctx, account, true); err != nil {
			restore := func(ctx context.Context, _ string) error { return s.tokens.Save(ctx, prev) }
			return prev, s.rollback(ctx, account, fmt.Errorf("lock secret: %w", err), restore)
		}
	} else {
		if err := s.otps.Reprotect(ctx, account, false); err != nil {
			return prev, fmt.Errorf("unlock secret: %w", err)
		}
		if err := s.tokens.Save(ctx, tok); err != nil {
			relock := func(ctx context.Context, account string) error { return s.otps.Reprotect(ctx, account, true) }
			return prev, s.rollback(ctx, account, fmt.Errorf("save token: %w", err), relock)
		}
	}

	s.log.Info("token lock changed", zap.String("account", account), zap.Bool("locked", locked))
	return tok, nil
}

// Edit changes the display fields of account. Empty values restore the
// values captured when the token was added.
func (s *TokenStore) Edit(ctx context.Context, account, issuer, label, image string) (models.Token, error) {
	return s.update(ctx, account, func(tok *models.Token) {
		tok.SetIssuer(issuer)
		tok.SetLabel(label)
		tok.SetImage(image)
	})
}

// Reset restores every display field of account to its baseline.
func (s *TokenStore) Reset(ctx context.Context, account string) (models.Token, error) {
	return s.update(ctx, account, (*models.Token).Reset)
}

func (s *TokenStore) update(ctx context.Context, account string, fn func(*models.Token)) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.listed(ctx, account); err != nil {
		return models.Token{}, err
	}
	tok, err := s.loadToken(ctx, account)
	if err != nil {
		return models.Token{}, err
	}
	fn(&tok)
	if err := s.tokens.Save(ctx, tok); err != nil {
		return models.Token{}, fmt.Errorf("save token: %w", err)
	}
	return tok, nil
}

// URI serializes the complete token under account, secret included. A
// locked token passes the presence check first.
func (s *TokenStore) URI(ctx context.Context, account string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.listed(ctx, account); err != nil {
		return "", err
	}
	tok, err := s.loadToken(ctx, account)
	if err != nil {
		return "", err
	}
	sec, err := s.otps.Load(ctx, account)
	if err != nil {
		return "", fmt.Errorf("load secret: %w", err)
	}
	return models.ToURI(sec, tok).String(), nil
}

// LockingSupported reports whether tokens can currently be locked.
func (s *TokenStore) LockingSupported(ctx context.Context) bool {
	return s.otps.LockingSupported(ctx)
}

func (s *TokenStore) loadOrder(ctx context.Context) (models.TokenOrder, bool, error) {
	order, err := s.order.Load(ctx, models.OrderAccount)
	if errors.Is(err, repository.ErrNotFound) {
		return models.TokenOrder{}, false, nil
	}
	if err != nil {
		return models.TokenOrder{}, false, fmt.Errorf("load order: %w", err)
	}
	return order, true, nil
}

func (s *TokenStore) saveOrder(ctx context.Context, order models.TokenOrder, existed bool) error {
	if existed {
		return s.order.Save(ctx, order)
	}
	return s.order.Add(ctx, order, false)
}

func (s *TokenStore) listed(ctx context.Context, account string) error {
	order, _, err := s.loadOrder(ctx)
	if err != nil {
		return err
	}
	if order.IndexOf(account) < 0 {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, account)
	}
	return nil
}

func (s *TokenStore) loadToken(ctx context.Context, account string) (models.Token, error) {
	tok, err := s.tokens.Load(ctx, account)
	if errors.Is(err, repository.ErrNotFound) {
		err = fmt.Errorf("%w: token %s listed but missing: %w", ErrCorruptedState, account, err)
		s.log.Error("order references a missing token", zap.String("account", account))
		return models.Token{}, err
	}
	if err != nil {
		return models.Token{}, fmt.Errorf("load token: %w", err)
	}
	return tok, nil
}

// rollback runs the undo steps in order. If any of them fails the records
// of account are inconsistent and the failure is escalated.
func (s *TokenStore) rollback(ctx context.Context, account string, cause error, undo ...func(context.Context, string) error) error {
	ctx = context.WithoutCancel(ctx)

	var failed []error
	for _, step := range undo {
		if err := step(ctx, account); err != nil && !errors.Is(err, repository.ErrNotFound) {
			failed = append(failed, err)
		}
	}
	if len(failed) == 0 {
		return cause
	}

	err := fmt.Errorf("%w: %w: rollback: %w", ErrCorruptedState, cause, errors.Join(failed...))
	s.log.Error("rollback failed", zap.String("account", account), zap.Error(err))
	return err
}
