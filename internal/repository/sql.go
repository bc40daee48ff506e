package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect selects the placeholder style of an SQLBackend.
type Dialect int

const (
	// Postgres uses $N placeholders.
	Postgres Dialect = iota
	// SQLite uses ? placeholders.
	SQLite
)

// SQLBackend stores items in the records table created by the db package.
type SQLBackend struct {
	// DB is the database handle for executing queries.
	DB      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLBackend creates a backend over db. db must already carry the
// records schema.
func NewSQLBackend(db *sql.DB, dialect Dialect) *SQLBackend {
	return &SQLBackend{DB: db, dialect: dialect, now: time.Now}
}

// Insert adds a new row. A conflicting key leaves the table untouched and
// reports ErrDuplicateAccount.
func (s *SQLBackend) Insert(ctx context.Context, item Item) error {
	ts := s.now().Unix()
	res, err := s.DB.ExecContext(ctx, s.rebind(`
		INSERT INTO records (service, account, class, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (service, account) DO NOTHING
	`), item.Service, item.Account, int(item.Class), item.Data, ts, ts)
	if err != nil {
		return fmt.Errorf("%w: insert %s/%s: %w", ErrStoreIO, item.Service, item.Account, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", ErrStoreIO, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateAccount, item.Service, item.Account)
	}
	return nil
}

// Update replaces the class and payload of an existing row.
func (s *SQLBackend) Update(ctx context.Context, item Item) error {
	res, err := s.DB.ExecContext(ctx, s.rebind(`
		UPDATE records SET class = ?, data = ?, updated_at = ?
		 WHERE service = ? AND account = ?
	`), int(item.Class), item.Data, s.now().Unix(), item.Service, item.Account)
	if err != nil {
		return fmt.Errorf("%w: update %s/%s: %w", ErrStoreIO, item.Service, item.Account, err)
	}
	return affectedOne(res, item.Service, item.Account)
}

// Get reads a single row.
func (s *SQLBackend) Get(ctx context.Context, service, account string) (Item, error) {
	item := Item{Service: service, Account: account}
	var class int
	err := s.DB.QueryRowContext(ctx, s.rebind(`
		SELECT class, data FROM records WHERE service = ? AND account = ?
	`), service, account).Scan(&class, &item.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: %s/%s", ErrNotFound, service, account)
	}
	if err != nil {
		return Item{}, fmt.Errorf("%w: get %s/%s: %w", ErrStoreIO, service, account, err)
	}
	item.Class = ProtectionClass(class)
	return item, nil
}

// Delete removes a single row.
func (s *SQLBackend) Delete(ctx context.Context, service, account string) error {
	res, err := s.DB.ExecContext(ctx, s.rebind(`
		DELETE FROM records WHERE service = ? AND account = ?
	`), service, account)
	if err != nil {
		return fmt.Errorf("%w: delete %s/%s: %w", ErrStoreIO, service, account, err)
	}
	return affectedOne(res, service, account)
}

func affectedOne(res sql.Result, service, account string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", ErrStoreIO, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, service, account)
	}
	return nil
}

// rebind rewrites ? placeholders for the backend dialect.
func (s *SQLBackend) rebind(query string) string {
	query = strings.TrimSpace(query)
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
