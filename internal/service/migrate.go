package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/GophOTP/internal/models"
	"github.com/atinyakov/GophOTP/internal/otpuri"
	"github.com/atinyakov/GophOTP/internal/repository"
)

// MigrationResult summarizes one migration pass.
type MigrationResult struct {
	Migrated  int
	Remaining int
	// Done is true once the legacy order list no longer exists.
	Done bool
}

// Migrate moves tokens from the legacy flat store into encrypted records.
// Each legacy entry is removed only after its token is stored. Entries that
// fail stay in the legacy store, and the legacy order list is rewritten to
// list just them; it is removed once nothing is left.
func (s *TokenStore) Migrate(ctx context.Context, legacy repository.LegacyStore) (MigrationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, found, err := legacy.Order(ctx)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("read legacy order: %w", err)
	}
	if !found {
		return MigrationResult{Done: true}, nil
	}

	existing, err := s.all(ctx)
	if err != nil {
		return MigrationResult{}, err
	}
	known := make(map[string]bool, len(existing))
	for _, tok := range existing {
		known[tok.UID()] = true
	}

	var (
		res       MigrationResult
		remaining []string
	)
	// Inserting at the top while walking backwards keeps the legacy order.
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		if err := s.migrateOne(ctx, legacy, id, known); err != nil {
			s.log.Warn("legacy token not migrated", zap.String("id", id), zap.Error(err))
			remaining = append(remaining, id)
			continue
		}
		res.Migrated++
	}
	slices.Reverse(remaining)
	res.Remaining = len(remaining)

	if len(remaining) == 0 {
		if err := legacy.RemoveOrder(ctx); err != nil {
			return res, fmt.Errorf("remove legacy order: %w", err)
		}
		res.Done = true
		s.log.Info("legacy migration complete", zap.Int("migrated", res.Migrated))
		return res, nil
	}

	if !slices.Equal(remaining, ids) {
		if err := legacy.SetOrder(ctx, remaining); err != nil {
			return res, fmt.Errorf("rewrite legacy order: %w", err)
		}
	}
	s.log.Info("legacy migration incomplete",
		zap.Int("migrated", res.Migrated),
		zap.Int("remaining", res.Remaining),
	)
	return res, nil
}

func (s *TokenStore) migrateOne(ctx context.Context, legacy repository.LegacyStore, id string, known map[string]bool) error {
	raw, ok, err := legacy.URI(ctx, id)
	if err != nil {
		return err
	}
	if ok {
		u, err := otpuri.Parse(raw, otpuri.ModeLoad)
		if err != nil {
			return err
		}
		sec, tok := models.NewFromURI(u)
		if !known[tok.UID()] {
			if _, err := s.insert(ctx, sec, tok, 0); err != nil {
				return err
			}
			known[tok.UID()] = true
		}
	}
	return legacy.Remove(ctx, id)
}

// StartLegacyMigration runs Migrate immediately and then on every tick
// until the legacy order list is gone or ctx is cancelled. The returned
// channel is closed when the worker exits.
func StartLegacyMigration(
	ctx context.Context,
	store *TokenStore,
	legacy repository.LegacyStore,
	interval time.Duration,
	log *zap.Logger,
) <-chan struct{} {
	done := make(chan struct{})

	pass := func() bool {
		res, err := store.Migrate(ctx, legacy)
		if err != nil {
			log.Error("legacy migration failed", zap.Error(err))
			return false
		}
		return res.Done
	}

	go func() {
		defer close(done)
		if pass() {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if pass() {
					return
				}
			}
		}
	}()
	return done
}
