package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NumberRepository manages PurchasedNumber records. Every write is a named
// lifecycle transition; callers never mutate number rows directly, so the
// state-machine invariants hold no matter who drives the repository.
type NumberRepository interface {
	Create(ctx context.Context, number *PurchasedNumber) error
	GetByID(ctx context.Context, id uuid.UUID) (*PurchasedNumber, error)

	// MarkProvisioning moves pending -> provisioning when a provision task
	// is claimed.
	MarkProvisioning(ctx context.Context, id uuid.UUID) error
	// MarkActive records the external provider identifier atomically with
	// the status change to active, and sets is_active.
	MarkActive(ctx context.Context, id uuid.UUID, externalID string) error
	MarkSuspended(ctx context.Context, id uuid.UUID) error
	MarkReactivated(ctx context.Context, id uuid.UUID) error
	// MarkPendingCancellation flips is_active to false in the same statement
	// so billing and usage stop before the external deprovision completes.
	MarkPendingCancellation(ctx context.Context, id uuid.UUID) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	// MarkFailed records the terminal provisioning error on the number.
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error

	// PrepareRetry resets a failed number to pending and clears
	// last_provision_error. The attempts counter is cumulative and is not
	// touched. Returns ErrNumberNotRetryable unless the number is failed.
	PrepareRetry(ctx context.Context, id uuid.UUID) error
	// IncrementAttempts bumps provisioning_attempts and returns the new
	// count. The counter never decreases.
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)

	UpdateForwarding(ctx context.Context, id uuid.UUID, cfg ForwardingConfig) error
}

// TaskCounts is the queue-wide breakdown by task status.
type TaskCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// TaskRepository is the durable provisioning queue. It is the single source
// of truth for outstanding work and the place where the
// at-most-one-processing-task-per-number invariant is enforced, so the
// guarantee holds even with concurrent processor instances.
type TaskRepository interface {
	// Enqueue inserts a pending task. It fails with ErrNotFound when the
	// referenced number does not exist, and is a no-op when an identical
	// pending (number, action, metadata) task is already queued, so trigger
	// sources may safely fire more than once per logical event. The same
	// action with a different payload is a distinct unit of work and always
	// inserts.
	Enqueue(ctx context.Context, task *ProvisioningTask) error

	// ClaimNext atomically selects and marks processing the oldest task
	// among the highest-priority eligible tasks (priority descending, then
	// created_at ascending). Tasks whose number already has a task in
	// processing are skipped; a processing row claimed longer than
	// staleAfter ago is presumed orphaned and is itself reclaimable, while
	// its siblings stay blocked until it terminates. The claimed task's
	// ClaimedAt is the lease the terminal writes below require. Returns
	// ErrNoPendingTasks when nothing is claimable.
	ClaimNext(ctx context.Context, staleAfter time.Duration) (*ProvisioningTask, error)

	// MarkCompleted, MarkFailed, and ResetForRetry only touch a row still
	// processing under the caller's lease (the ClaimedAt handed out by
	// ClaimNext); a claimant superseded by stale-claim recovery gets
	// ErrNotFound instead of overwriting the new claimant's work.
	MarkCompleted(ctx context.Context, id uuid.UUID, lease time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, lease time.Time, errMsg string) error
	// ResetForRetry returns a processing task to pending on the same row,
	// recording the attempt's error and the degraded priority for the next
	// claim.
	ResetForRetry(ctx context.Context, id uuid.UUID, lease time.Time, newPriority int, errMsg string) error

	GetByID(ctx context.Context, id uuid.UUID) (*ProvisioningTask, error)
	CountsByStatus(ctx context.Context) (TaskCounts, error)

	// SweepOld deletes terminal tasks older than the cutoff. Housekeeping
	// only; correctness never depends on it.
	SweepOld(ctx context.Context, olderThan time.Time, statuses []TaskStatus) (int64, error)
}
