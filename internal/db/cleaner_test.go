package db

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStartProbeCleaner_Success(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	defer dbMock.Close()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM records WHERE service = $1 AND created_at < $2`)).
		WithArgs(ProbeService, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	core, logs := observer.New(zapcore.InfoLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartProbeCleaner(ctx, dbMock, "postgres", 10*time.Millisecond, time.Hour, zap.New(core))

	deadline := time.Now().Add(2 * time.Second)
	for logs.FilterMessage("cleaned probe records").Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if logs.FilterMessage("cleaned probe records").Len() == 0 {
		t.Errorf("expected info log about removed rows")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStartProbeCleaner_ErrorLogged(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	defer dbMock.Close()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM records WHERE service = ? AND created_at < ?`)).
		WithArgs(ProbeService, sqlmock.AnyArg()).
		WillReturnError(fmt.Errorf("db fail"))

	core, logs := observer.New(zapcore.ErrorLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartProbeCleaner(ctx, dbMock, "sqlite", 10*time.Millisecond, time.Hour, zap.New(core))

	deadline := time.Now().Add(2 * time.Second)
	for logs.FilterMessage("failed to clean probe records").Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if logs.FilterMessage("failed to clean probe records").Len() == 0 {
		t.Errorf("expected error log, got %d entries", logs.Len())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStartProbeCleaner_CancelBeforeTicker(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	defer dbMock.Close()

	ctx, cancel := context.WithCancel(context.Background())

	StartProbeCleaner(ctx, dbMock, "postgres", 100*time.Millisecond, time.Hour, zap.NewNop())
	cancel()

	time.Sleep(50 * time.Millisecond)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected sql calls: %v", err)
	}
}
