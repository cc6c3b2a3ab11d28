package memory

import (
	"bytes"
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/virtnum/golang_services/internal/provisioning_service/domain"
)

// TaskRepository is an in-memory domain.TaskRepository. Claim semantics
// mirror the postgres implementation: priority descending, FIFO within a
// band, one live processing task per number, stale claims reclaimable.
type TaskRepository struct {
	mu      sync.Mutex
	tasks   map[uuid.UUID]*domain.ProvisioningTask
	numbers *NumberRepository // nil disables the enqueue existence check
}

// NewTaskRepository creates a TaskRepository. When numbers is non-nil,
// Enqueue validates that the referenced number exists, matching the foreign
// key the postgres schema enforces.
func NewTaskRepository(numbers *NumberRepository) *TaskRepository {
	return &TaskRepository{
		tasks:   make(map[uuid.UUID]*domain.ProvisioningTask),
		numbers: numbers,
	}
}

func (r *TaskRepository) Enqueue(ctx context.Context, task *domain.ProvisioningTask) error {
	if r.numbers != nil {
		if _, err := r.numbers.GetByID(ctx, task.NumberID); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.NumberID == task.NumberID && t.Action == task.Action &&
			t.Status == domain.TaskStatusPending && bytes.Equal(t.Metadata, task.Metadata) {
			return nil // duplicate trigger, no-op
		}
	}
	cp := *task
	r.tasks[task.ID] = &cp
	return nil
}

func (r *TaskRepository) ClaimNext(_ context.Context, staleAfter time.Duration) (*domain.ProvisioningTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	staleCutoff := now.Add(-staleAfter)

	// Any processing task blocks its number's pending siblings, stale or
	// not. A stale claim is only recoverable through the stale row itself
	// being re-driven; siblings stay blocked until it reaches a terminal
	// status.
	processing := make(map[uuid.UUID]bool)
	for _, t := range r.tasks {
		if t.Status == domain.TaskStatusProcessing {
			processing[t.NumberID] = true
		}
	}

	var eligible []*domain.ProvisioningTask
	for _, t := range r.tasks {
		switch {
		case t.Status == domain.TaskStatusPending && !processing[t.NumberID]:
			eligible = append(eligible, t)
		case t.Status == domain.TaskStatusProcessing && t.ClaimedAt.Valid && t.ClaimedAt.Time.Before(staleCutoff):
			eligible = append(eligible, t)
		}
	}
	if len(eligible) == 0 {
		return nil, domain.ErrNoPendingTasks
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	t := eligible[0]
	t.Status = domain.TaskStatusProcessing
	t.ClaimedAt = sql.NullTime{Time: now, Valid: true}
	t.UpdatedAt = now
	cp := *t
	return &cp, nil
}

func (r *TaskRepository) MarkCompleted(_ context.Context, id uuid.UUID, lease time.Time) error {
	return r.finish(id, lease, func(t *domain.ProvisioningTask) {
		t.Status = domain.TaskStatusCompleted
		t.Error = sql.NullString{}
	})
}

func (r *TaskRepository) MarkFailed(_ context.Context, id uuid.UUID, lease time.Time, errMsg string) error {
	return r.finish(id, lease, func(t *domain.ProvisioningTask) {
		t.Status = domain.TaskStatusFailed
		t.Error = sql.NullString{String: errMsg, Valid: true}
	})
}

func (r *TaskRepository) ResetForRetry(_ context.Context, id uuid.UUID, lease time.Time, newPriority int, errMsg string) error {
	return r.finish(id, lease, func(t *domain.ProvisioningTask) {
		t.Status = domain.TaskStatusPending
		t.Priority = newPriority
		t.Error = sql.NullString{String: errMsg, Valid: true}
		t.ClaimedAt = sql.NullTime{}
	})
}

// finish applies fn only when the row is still processing under the caller's
// lease; a claimant superseded by stale-claim recovery matches nothing.
func (r *TaskRepository) finish(id uuid.UUID, lease time.Time, fn func(t *domain.ProvisioningTask)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != domain.TaskStatusProcessing || !t.ClaimedAt.Valid || !t.ClaimedAt.Time.Equal(lease) {
		return domain.ErrNotFound
	}
	fn(t)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *TaskRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.ProvisioningTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *TaskRepository) CountsByStatus(_ context.Context) (domain.TaskCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var counts domain.TaskCounts
	for _, t := range r.tasks {
		switch t.Status {
		case domain.TaskStatusPending:
			counts.Pending++
		case domain.TaskStatusProcessing:
			counts.Processing++
		case domain.TaskStatusCompleted:
			counts.Completed++
		case domain.TaskStatusFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

func (r *TaskRepository) SweepOld(_ context.Context, olderThan time.Time, statuses []domain.TaskStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, t := range r.tasks {
		if !t.UpdatedAt.Before(olderThan) {
			continue
		}
		for _, s := range statuses {
			if t.Status == s {
				delete(r.tasks, id)
				deleted++
				break
			}
		}
	}
	return deleted, nil
}
