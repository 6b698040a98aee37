package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
)

// ScheduleJob upserts a due-at-scheduledFor job under uniqueName; a
// second schedule call for the same name simply reschedules it, the
// same "insert, and on conflict update" idiom ActivateManager uses
// (spec §4.7 internal job queue).
func (b *Base) ScheduleJob(ctx context.Context, uniqueName, serialGroup string, scheduledFor time.Time, payload []byte) (int64, error) {
	var id int64
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		now := nowUTC()
		res, err := tx.ExecContext(ctx, `INSERT INTO internal_job (unique_name, serial_group, scheduled_for, payload, progress, cancelled, completed, created_on)
			VALUES (?, ?, ?, ?, '', 0, 0, ?)`, uniqueName, serialGroup, scheduledFor, payload, now)
		if err == nil {
			id, err = res.LastInsertId()
			return err
		}
		if !b.Dialect.IsUniqueViolation(err) {
			return fmt.Errorf("schedule_job insert: %w", err)
		}
		if _, uerr := tx.ExecContext(ctx, `UPDATE internal_job SET scheduled_for = ?, payload = ?, cancelled = 0, completed = 0, claimed_by = NULL
			WHERE unique_name = ?`, scheduledFor, payload, uniqueName); uerr != nil {
			return fmt.Errorf("schedule_job reschedule: %w", uerr)
		}
		return tx.QueryRowContext(ctx, `SELECT id FROM internal_job WHERE unique_name = ?`, uniqueName).Scan(&id)
	})
	return id, err
}

// ClaimDueJobs selects due, unclaimed, non-cancelled jobs — at most one
// per serial_group within this call, the oldest scheduled_for first —
// and marks them claimed by claimant. A serial group whose job from an
// earlier call is still claimed and not completed is not excluded.
func (b *Base) ClaimDueJobs(ctx context.Context, claimant string, limit int) ([]storage.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	var claimed []storage.Job
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		now := nowUTC()
		rows, err := tx.QueryContext(ctx, `SELECT id, unique_name, serial_group, scheduled_for, payload
			FROM internal_job
			WHERE completed = 0 AND cancelled = 0 AND claimed_by IS NULL AND scheduled_for <= ?
			ORDER BY scheduled_for ASC`, now)
		if err != nil {
			return fmt.Errorf("claim_due_jobs candidate scan: %w", err)
		}
		type candidate struct {
			id           int64
			uniqueName   string
			serialGroup  string
			scheduledFor time.Time
			payload      []byte
		}
		var candidates []candidate
		for rows.Next() {
			var c candidate
			if err := rows.Scan(&c.id, &c.uniqueName, &c.serialGroup, &c.scheduledFor, &c.payload); err != nil {
				rows.Close()
				return err
			}
			candidates = append(candidates, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		claimedGroups := map[string]bool{}
		for _, c := range candidates {
			if len(claimed) >= limit {
				break
			}
			if claimedGroups[c.serialGroup] {
				continue
			}
			res, uerr := tx.ExecContext(ctx, `UPDATE internal_job SET claimed_by = ? WHERE id = ? AND claimed_by IS NULL`, claimant, c.id)
			if uerr != nil {
				return fmt.Errorf("claim_due_jobs claim %d: %w", c.id, uerr)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			claimedGroups[c.serialGroup] = true
			claimed = append(claimed, storage.Job{
				ID: c.id, UniqueName: c.uniqueName, SerialGroup: c.serialGroup,
				ScheduledFor: c.scheduledFor, Payload: c.payload, ClaimedBy: claimant,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (b *Base) UpdateJobProgress(ctx context.Context, jobID int64, progress string) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE internal_job SET progress = ? WHERE id = ?`, progress, jobID)
		return err
	})
}

func (b *Base) CompleteJob(ctx context.Context, jobID int64) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE internal_job SET completed = 1, claimed_by = NULL WHERE id = ?`, jobID)
		return err
	})
}

func (b *Base) CancelJob(ctx context.Context, uniqueName string) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE internal_job SET cancelled = 1, claimed_by = NULL WHERE unique_name = ?`, uniqueName)
		return err
	})
}
