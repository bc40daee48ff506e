package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// ProbeService is the service name of the throwaway rows written when
// probing for presence-gated storage.
const ProbeService = "probe"

// StartProbeCleaner removes probe rows left behind by an interrupted
// capability probe. driver is "postgres" or "sqlite".
func StartProbeCleaner(
	ctx context.Context,
	db *sql.DB,
	driver string,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	query := `DELETE FROM records WHERE service = ? AND created_at < ?`
	if driver == "postgres" {
		query = `DELETE FROM records WHERE service = $1 AND created_at < $2`
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention).Unix()
				res, err := db.ExecContext(ctx, query, ProbeService, cutoff)
				if err != nil {
					log.Error("failed to clean probe records", zap.Error(err))
					continue
				}
				if rows, _ := res.RowsAffected(); rows > 0 {
					log.Info("cleaned probe records", zap.Int64("removed", rows))
				}
			}
		}
	}()
}
