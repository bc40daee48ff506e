// Package bootstrap opens the token store described by the configuration
// and starts its background workers. Both binaries share it.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/GophOTP/internal/config"
	"github.com/atinyakov/GophOTP/internal/crypto"
	"github.com/atinyakov/GophOTP/internal/db"
	"github.com/atinyakov/GophOTP/internal/repository"
	"github.com/atinyakov/GophOTP/internal/service"
)

const (
	probeCleanInterval = time.Hour
	probeRetention     = 24 * time.Hour
)

// Store is an opened token store together with the resources behind it.
type Store struct {
	Tokens *service.TokenStore

	db      *sql.DB
	backend string
	log     *zap.Logger
}

// Open builds the sealer, presence gate and backend selected by opts.
func Open(opts *config.Options, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	sealer, err := crypto.NewSealer([]byte(opts.MasterKey))
	if err != nil {
		return nil, fmt.Errorf("create sealer: %w", err)
	}
	var gate repository.PresenceGate = repository.NoPresence{}
	if opts.PresencePINHash != "" {
		gate = crypto.NewPINGate(opts.PresencePINHash)
	}

	s := &Store{backend: opts.Backend, log: log}

	var backend repository.Backend
	switch opts.Backend {
	case config.BackendPostgres:
		if s.db, err = db.InitPostgres(opts.DatabaseDSN); err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		backend = repository.NewSQLBackend(s.db, repository.Postgres)
	case config.BackendSQLite:
		if s.db, err = db.InitSQLite(opts.SQLitePath); err != nil {
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
		backend = repository.NewSQLBackend(s.db, repository.SQLite)
	case config.BackendFile:
		if backend, err = repository.OpenFileBackend(opts.FilePath); err != nil {
			return nil, fmt.Errorf("open record file: %w", err)
		}
	case config.BackendMemory:
		backend = repository.NewMemoryBackend()
	default:
		return nil, fmt.Errorf("unknown backend %q", opts.Backend)
	}

	s.Tokens = service.NewTokenStoreOn(backend, sealer, gate, log)
	log.Info("token store opened",
		zap.String("backend", opts.Backend),
		zap.Bool("presence", gate.Available(context.Background())),
	)
	return s, nil
}

// Start launches the legacy migration when legacyPath is set and, for SQL
// backends, the probe row cleaner. The returned channel is closed when the
// migration worker exits, or immediately when there is nothing to migrate.
func (s *Store) Start(ctx context.Context, legacyPath string, interval time.Duration) <-chan struct{} {
	if s.db != nil {
		db.StartProbeCleaner(ctx, s.db, s.backend, probeCleanInterval, probeRetention, s.log)
	}
	if legacyPath == "" {
		done := make(chan struct{})
		close(done)
		return done
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return service.StartLegacyMigration(ctx, s.Tokens, repository.NewLegacyFile(legacyPath), interval, s.log)
}

// Close releases the database connection, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
