package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scribe/internal/platform/logger"
)

// TxFn runs inside a transaction opened by RunInTransaction.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// RunInTransaction runs fn in a transaction. It commits when fn returns nil
// and rolls back when fn fails or panics; a panic is re-raised after rollback.
func RunInTransaction(ctx context.Context, db *sql.DB, fn TxFn) error {
	log := logger.FromContext(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("transaction begin failed", slog.Any("error", err))
		return fmt.Errorf("%w: begin: %w", ErrTransactionFailed, err)
	}

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("rollback after panic failed", slog.Any("error", rbErr), slog.Any("panic", p))
		}
		panic(p)
	}()

	if fnErr := fn(ctx, tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("rollback failed",
				slog.Any("rollback_error", rbErr),
				slog.Any("error", fnErr))
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, fnErr)
		}
		log.Debug("transaction rolled back", slog.Any("error", fnErr))
		return fnErr
	}

	if err := tx.Commit(); err != nil {
		log.Error("transaction commit failed", slog.Any("error", err))
		return fmt.Errorf("%w: commit: %w", ErrTransactionFailed, err)
	}
	return nil
}
