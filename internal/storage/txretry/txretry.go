// Package txretry wraps a database transaction with bounded exponential
// backoff retry on transient (serialization/lock-timeout) failures.
// Grounded on internal/storage/dolt/transaction.go's RunInTransaction:
// the teacher hand-rolls the backoff loop; this module uses
// github.com/cenkalti/backoff/v4, a dependency the teacher already
// carries for other retry paths, instead of re-deriving the same logic.
package txretry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/MolSSI/QCFractal-sub003/internal/logging"
)

// MaxRetries bounds how many times a transaction is retried after a
// retryable failure (mirrors the teacher's maxTransactionRetries = 5).
const MaxRetries = 5

// IsRetryable classifies whether err warrants a retry.
type IsRetryable func(err error) bool

// Do runs fn inside a transaction opened with beginSQL (if non-empty,
// executed immediately after BeginTx to raise isolation — e.g. SQLite's
// "BEGIN IMMEDIATE"), committing on success and retrying the whole
// attempt — including re-opening the transaction — on a retryable
// error, per the teacher's runTransactionOnce/RunInTransaction split.
func Do(ctx context.Context, db *sql.DB, beginSQL string, retryable IsRetryable, fn func(tx *sql.Tx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0 // bounded by attempt count below, not wall time

	var lastErr error
	attempt := 0
	op := func() error {
		attempt++
		err := runOnce(ctx, db, beginSQL, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt > MaxRetries {
			return backoff.Permanent(err)
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		logging.Default().Warnf("txretry: attempt %d/%d failed with retryable error, backing off: %v", attempt, MaxRetries, err)
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if lastErr != nil {
			return fmt.Errorf("transaction failed after %d attempts: %w", attempt, lastErr)
		}
		return err
	}
	return nil
}

func runOnce(ctx context.Context, db *sql.DB, beginSQL string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("txretry: begin: %w", err)
	}
	if beginSQL != "" {
		if _, err := tx.ExecContext(ctx, beginSQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("txretry: %s: %w", beginSQL, err)
		}
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("txretry: commit: %w", err)
	}
	return nil
}
