// Package memory provides in-process implementations of the provisioning
// repositories. They honor the same contracts as the postgres package —
// including the at-most-one-processing-task-per-number claim rule — behind a
// mutex instead of row locks. Used by tests and the local development mode.
package memory

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/virtnum/golang_services/internal/provisioning_service/domain"
)

// NumberRepository is an in-memory domain.NumberRepository.
type NumberRepository struct {
	mu      sync.Mutex
	numbers map[uuid.UUID]*domain.PurchasedNumber
}

func NewNumberRepository() *NumberRepository {
	return &NumberRepository{numbers: make(map[uuid.UUID]*domain.PurchasedNumber)}
}

func (r *NumberRepository) Create(_ context.Context, number *domain.PurchasedNumber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *number
	r.numbers[number.ID] = &cp
	return nil
}

func (r *NumberRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.PurchasedNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.numbers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

// transition applies fn under the lock after validating the status change.
func (r *NumberRepository) transition(id uuid.UUID, to domain.NumberStatus, from []domain.NumberStatus, fn func(n *domain.PurchasedNumber)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.numbers[id]
	if !ok {
		return domain.ErrNotFound
	}
	allowed := len(from) == 0
	for _, s := range from {
		if n.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return &domain.InvalidTransitionError{From: n.Status, To: to}
	}
	fn(n)
	n.Status = to
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *NumberRepository) MarkProvisioning(_ context.Context, id uuid.UUID) error {
	return r.transition(id, domain.NumberStatusProvisioning,
		[]domain.NumberStatus{domain.NumberStatusPending},
		func(*domain.PurchasedNumber) {})
}

func (r *NumberRepository) MarkActive(_ context.Context, id uuid.UUID, externalID string) error {
	return r.transition(id, domain.NumberStatusActive,
		[]domain.NumberStatus{domain.NumberStatusProvisioning, domain.NumberStatusSuspended},
		func(n *domain.PurchasedNumber) {
			n.ExternalID = sql.NullString{String: externalID, Valid: true}
			n.IsActive = true
			n.LastProvisionError = sql.NullString{}
		})
}

func (r *NumberRepository) MarkSuspended(_ context.Context, id uuid.UUID) error {
	return r.transition(id, domain.NumberStatusSuspended,
		[]domain.NumberStatus{domain.NumberStatusActive},
		func(n *domain.PurchasedNumber) { n.IsActive = false })
}

func (r *NumberRepository) MarkReactivated(_ context.Context, id uuid.UUID) error {
	return r.transition(id, domain.NumberStatusActive,
		[]domain.NumberStatus{domain.NumberStatusSuspended},
		func(n *domain.PurchasedNumber) { n.IsActive = true })
}

func (r *NumberRepository) MarkPendingCancellation(_ context.Context, id uuid.UUID) error {
	return r.transition(id, domain.NumberStatusPendingCancellation,
		[]domain.NumberStatus{
			domain.NumberStatusPending, domain.NumberStatusProvisioning,
			domain.NumberStatusActive, domain.NumberStatusSuspended, domain.NumberStatusFailed,
		},
		func(n *domain.PurchasedNumber) { n.IsActive = false })
}

func (r *NumberRepository) MarkCancelled(_ context.Context, id uuid.UUID) error {
	return r.transition(id, domain.NumberStatusCancelled,
		[]domain.NumberStatus{domain.NumberStatusPendingCancellation},
		func(n *domain.PurchasedNumber) { n.IsActive = false })
}

func (r *NumberRepository) MarkFailed(_ context.Context, id uuid.UUID, lastError string) error {
	return r.transition(id, domain.NumberStatusFailed,
		[]domain.NumberStatus{
			domain.NumberStatusPending, domain.NumberStatusProvisioning,
			domain.NumberStatusActive, domain.NumberStatusSuspended,
			domain.NumberStatusPendingCancellation, domain.NumberStatusFailed,
		},
		func(n *domain.PurchasedNumber) {
			n.IsActive = false
			n.LastProvisionError = sql.NullString{String: lastError, Valid: true}
		})
}

func (r *NumberRepository) PrepareRetry(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.numbers[id]
	if !ok {
		return domain.ErrNotFound
	}
	if n.Status != domain.NumberStatusFailed {
		return domain.ErrNumberNotRetryable
	}
	n.Status = domain.NumberStatusPending
	n.LastProvisionError = sql.NullString{}
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *NumberRepository) IncrementAttempts(_ context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.numbers[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	n.ProvisioningAttempts++
	n.UpdatedAt = time.Now().UTC()
	return n.ProvisioningAttempts, nil
}

func (r *NumberRepository) UpdateForwarding(_ context.Context, id uuid.UUID, cfg domain.ForwardingConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.numbers[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.ForwardingType = cfg.Type
	n.SMSEnabled = cfg.SMSEnabled
	n.ForwardingDestination = sql.NullString{}
	if cfg.Destination != "" {
		n.ForwardingDestination = sql.NullString{String: cfg.Destination, Valid: true}
	}
	n.UpdatedAt = time.Now().UTC()
	return nil
}
