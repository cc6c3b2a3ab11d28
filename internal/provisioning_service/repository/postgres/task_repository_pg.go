package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/virtnum/golang_services/internal/provisioning_service/domain"
)

// PgTaskRepository is the durable provisioning queue backed by the
// provisioning_tasks table.
type PgTaskRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgTaskRepository(db *pgxpool.Pool, logger *slog.Logger) *PgTaskRepository {
	return &PgTaskRepository{db: db, logger: logger}
}

const taskColumns = `
	id, purchased_number_id, action, priority, status, metadata, error_message,
	claimed_at, created_at, updated_at`

func (r *PgTaskRepository) Enqueue(ctx context.Context, task *domain.ProvisioningTask) error {
	// The referenced number must exist; the FK violation is surfaced as a
	// client error. An identical pending (number, action, metadata) task
	// makes the insert a no-op so trigger sources can fire more than once per
	// event. A pending task with the same action but a different payload is a
	// distinct unit of work and still inserts, so a newer forwarding config
	// is never silently dropped behind a queued older one.
	query := `
		INSERT INTO provisioning_tasks (` + taskColumns + `)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		WHERE EXISTS (SELECT 1 FROM purchased_numbers WHERE id = $2)
		  AND NOT EXISTS (
			SELECT 1 FROM provisioning_tasks
			WHERE purchased_number_id = $2 AND action = $3 AND status = $11
			  AND metadata IS NOT DISTINCT FROM $6
		  )
	`
	tag, err := r.db.Exec(ctx, query,
		task.ID, task.NumberID, task.Action, task.Priority, task.Status,
		task.Metadata, task.Error, task.ClaimedAt, task.CreatedAt, task.UpdatedAt,
		domain.TaskStatusPending,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error enqueueing provisioning task", "error", err, "number_id", task.NumberID, "action", task.Action)
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM purchased_numbers WHERE id = $1)`, task.NumberID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			r.logger.WarnContext(ctx, "Enqueue rejected: number does not exist", "number_id", task.NumberID)
			return domain.ErrNotFound
		}
		r.logger.InfoContext(ctx, "Duplicate pending task, enqueue skipped", "number_id", task.NumberID, "action", task.Action)
		return nil
	}
	r.logger.InfoContext(ctx, "Provisioning task enqueued",
		"task_id", task.ID, "number_id", task.NumberID, "action", task.Action, "priority", task.Priority)
	return nil
}

// claimRaceRetries bounds re-claims after losing a race with a concurrent
// processor; the next poll tick picks up anything left over.
const claimRaceRetries = 3

func (r *PgTaskRepository) ClaimNext(ctx context.Context, staleAfter time.Duration) (*domain.ProvisioningTask, error) {
	// Atomic claim: highest priority first, FIFO within a priority band.
	// Numbers with a processing task are excluded here, in the store, so the
	// serialization invariant holds across processor instances. A processing
	// row whose claim is older than staleAfter is presumed orphaned by a
	// crashed worker and is itself claimable again; its pending siblings stay
	// blocked until it reaches a terminal status.
	//
	// The NOT EXISTS alone is not race-free: it reads the statement snapshot,
	// and SKIP LOCKED hides a sibling another session is claiming but has not
	// committed. The partial unique index on (purchased_number_id) WHERE
	// status = 'processing' is the real fence; losing that race surfaces as a
	// unique violation and the claim is retried against a fresh snapshot.
	query := `
		WITH claimable AS (
			SELECT t.id
			FROM provisioning_tasks t
			WHERE (
				t.status = $1
				OR (t.status = $2 AND t.claimed_at < $3)
			)
			AND NOT EXISTS (
				SELECT 1 FROM provisioning_tasks live
				WHERE live.purchased_number_id = t.purchased_number_id
				  AND live.id != t.id
				  AND live.status = $2
			)
			ORDER BY t.priority DESC, t.created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE provisioning_tasks pt
		SET status = $2, claimed_at = $4, updated_at = $4
		FROM claimable c
		WHERE pt.id = c.id
		RETURNING pt.id, pt.purchased_number_id, pt.action, pt.priority, pt.status,
		          pt.metadata, pt.error_message, pt.claimed_at, pt.created_at, pt.updated_at
	`
	now := time.Now().UTC()
	staleCutoff := now.Add(-staleAfter)

	for attempt := 0; attempt <= claimRaceRetries; attempt++ {
		task := &domain.ProvisioningTask{}
		err := r.db.QueryRow(ctx, query,
			domain.TaskStatusPending, domain.TaskStatusProcessing, staleCutoff, now,
		).Scan(
			&task.ID, &task.NumberID, &task.Action, &task.Priority, &task.Status,
			&task.Metadata, &task.Error, &task.ClaimedAt, &task.CreatedAt, &task.UpdatedAt,
		)
		if err == nil {
			r.logger.InfoContext(ctx, "Task claimed",
				"task_id", task.ID, "number_id", task.NumberID, "action", task.Action, "priority", task.Priority)
			return task, nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoPendingTasks
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			r.logger.DebugContext(ctx, "Lost claim race, retrying", "attempt", attempt)
			continue
		}
		r.logger.ErrorContext(ctx, "Error claiming next task", "error", err)
		return nil, err
	}
	return nil, domain.ErrNoPendingTasks
}

// Terminal writes and retry resets match on the lease handed out by
// ClaimNext in addition to the processing status. A slow claimant whose
// claim was reclaimed as stale holds a superseded lease, so its write
// affects zero rows instead of clobbering the new claimant's work.

func (r *PgTaskRepository) MarkCompleted(ctx context.Context, id uuid.UUID, lease time.Time) error {
	query := `
		UPDATE provisioning_tasks
		SET status = $1, error_message = NULL, updated_at = $2
		WHERE id = $3 AND status = $4 AND claimed_at = $5
	`
	return r.finish(ctx, id, query, domain.TaskStatusCompleted, time.Now().UTC(), id, domain.TaskStatusProcessing, lease)
}

func (r *PgTaskRepository) MarkFailed(ctx context.Context, id uuid.UUID, lease time.Time, errMsg string) error {
	query := `
		UPDATE provisioning_tasks
		SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4 AND status = $5 AND claimed_at = $6
	`
	return r.finish(ctx, id, query,
		domain.TaskStatusFailed, sql.NullString{String: errMsg, Valid: true}, time.Now().UTC(), id, domain.TaskStatusProcessing, lease)
}

func (r *PgTaskRepository) ResetForRetry(ctx context.Context, id uuid.UUID, lease time.Time, newPriority int, errMsg string) error {
	// Same row back to pending; attempt history lives on the owning number.
	query := `
		UPDATE provisioning_tasks
		SET status = $1, priority = $2, error_message = $3, claimed_at = NULL, updated_at = $4
		WHERE id = $5 AND status = $6 AND claimed_at = $7
	`
	return r.finish(ctx, id, query,
		domain.TaskStatusPending, newPriority, sql.NullString{String: errMsg, Valid: true},
		time.Now().UTC(), id, domain.TaskStatusProcessing, lease)
}

func (r *PgTaskRepository) finish(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating task status", "error", err, "task_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Task not found, not processing, or claim superseded", "task_id", id)
		return domain.ErrNotFound
	}
	return nil
}

func (r *PgTaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ProvisioningTask, error) {
	query := `SELECT ` + taskColumns + ` FROM provisioning_tasks WHERE id = $1`
	task := &domain.ProvisioningTask{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&task.ID, &task.NumberID, &task.Action, &task.Priority, &task.Status,
		&task.Metadata, &task.Error, &task.ClaimedAt, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting task by ID", "error", err, "task_id", id)
		return nil, err
	}
	return task, nil
}

func (r *PgTaskRepository) CountsByStatus(ctx context.Context) (domain.TaskCounts, error) {
	query := `SELECT status, COUNT(*) FROM provisioning_tasks GROUP BY status`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error counting tasks by status", "error", err)
		return domain.TaskCounts{}, err
	}
	defer rows.Close()

	var counts domain.TaskCounts
	for rows.Next() {
		var status domain.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return domain.TaskCounts{}, err
		}
		switch status {
		case domain.TaskStatusPending:
			counts.Pending = count
		case domain.TaskStatusProcessing:
			counts.Processing = count
		case domain.TaskStatusCompleted:
			counts.Completed = count
		case domain.TaskStatusFailed:
			counts.Failed = count
		}
	}
	return counts, rows.Err()
}

func (r *PgTaskRepository) SweepOld(ctx context.Context, olderThan time.Time, statuses []domain.TaskStatus) (int64, error) {
	query := `
		DELETE FROM provisioning_tasks
		WHERE updated_at < $1 AND status = ANY($2)
	`
	statusStrings := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrings[i] = string(s)
	}
	tag, err := r.db.Exec(ctx, query, olderThan, statusStrings)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error sweeping old tasks", "error", err)
		return 0, err
	}
	if tag.RowsAffected() > 0 {
		r.logger.InfoContext(ctx, "Old tasks swept", "deleted", tag.RowsAffected(), "older_than", olderThan)
	}
	return tag.RowsAffected(), nil
}
