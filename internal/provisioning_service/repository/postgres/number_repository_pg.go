package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/virtnum/golang_services/internal/provisioning_service/domain"
)

// PgNumberRepository persists PurchasedNumber records in the
// purchased_numbers table.
type PgNumberRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgNumberRepository(db *pgxpool.Pool, logger *slog.Logger) *PgNumberRepository {
	return &PgNumberRepository{db: db, logger: logger}
}

const numberColumns = `
	id, customer_id, phone_number, external_id, status, is_active, sms_enabled,
	forwarding_type, forwarding_destination, provisioning_attempts,
	last_provision_error, subscription_id, created_at, updated_at`

func (r *PgNumberRepository) Create(ctx context.Context, number *domain.PurchasedNumber) error {
	query := `
		INSERT INTO purchased_numbers (` + numberColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.Exec(ctx, query,
		number.ID, number.CustomerID, number.PhoneNumber, number.ExternalID,
		number.Status, number.IsActive, number.SMSEnabled,
		number.ForwardingType, number.ForwardingDestination, number.ProvisioningAttempts,
		number.LastProvisionError, number.SubscriptionID, number.CreatedAt, number.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating purchased number", "error", err, "number_id", number.ID)
		return err
	}
	r.logger.InfoContext(ctx, "Purchased number created", "number_id", number.ID, "phone_number", number.PhoneNumber)
	return nil
}

func (r *PgNumberRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PurchasedNumber, error) {
	query := `SELECT ` + numberColumns + ` FROM purchased_numbers WHERE id = $1`
	number := &domain.PurchasedNumber{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&number.ID, &number.CustomerID, &number.PhoneNumber, &number.ExternalID,
		&number.Status, &number.IsActive, &number.SMSEnabled,
		&number.ForwardingType, &number.ForwardingDestination, &number.ProvisioningAttempts,
		&number.LastProvisionError, &number.SubscriptionID, &number.CreatedAt, &number.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting purchased number", "error", err, "number_id", id)
		return nil, err
	}
	return number, nil
}

// transition runs a guarded status update. The WHERE clause carries the
// allowed source statuses so an out-of-order write cannot violate the state
// machine even under races; zero rows affected surfaces as an
// InvalidTransitionError (or ErrNotFound when the row is missing).
func (r *PgNumberRepository) transition(ctx context.Context, id uuid.UUID, to domain.NumberStatus, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating number status", "error", err, "number_id", id, "new_status", to)
		return err
	}
	if tag.RowsAffected() == 0 {
		current, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		return &domain.InvalidTransitionError{From: current.Status, To: to}
	}
	r.logger.InfoContext(ctx, "Number status updated", "number_id", id, "new_status", to)
	return nil
}

func (r *PgNumberRepository) MarkProvisioning(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE purchased_numbers
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	return r.transition(ctx, id, domain.NumberStatusProvisioning, query,
		domain.NumberStatusProvisioning, time.Now().UTC(), id, domain.NumberStatusPending)
}

func (r *PgNumberRepository) MarkActive(ctx context.Context, id uuid.UUID, externalID string) error {
	// The external resource identifier is recorded atomically with the
	// status change.
	query := `
		UPDATE purchased_numbers
		SET status = $1, is_active = TRUE, external_id = $2, last_provision_error = NULL, updated_at = $3
		WHERE id = $4 AND status IN ($5, $6)
	`
	return r.transition(ctx, id, domain.NumberStatusActive, query,
		domain.NumberStatusActive, externalID, time.Now().UTC(), id,
		domain.NumberStatusProvisioning, domain.NumberStatusSuspended)
}

func (r *PgNumberRepository) MarkSuspended(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE purchased_numbers
		SET status = $1, is_active = FALSE, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	return r.transition(ctx, id, domain.NumberStatusSuspended, query,
		domain.NumberStatusSuspended, time.Now().UTC(), id, domain.NumberStatusActive)
}

func (r *PgNumberRepository) MarkReactivated(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE purchased_numbers
		SET status = $1, is_active = TRUE, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	return r.transition(ctx, id, domain.NumberStatusActive, query,
		domain.NumberStatusActive, time.Now().UTC(), id, domain.NumberStatusSuspended)
}

func (r *PgNumberRepository) MarkPendingCancellation(ctx context.Context, id uuid.UUID) error {
	// is_active flips to false in the same statement: the customer stops
	// being billed before the external deprovision completes.
	query := `
		UPDATE purchased_numbers
		SET status = $1, is_active = FALSE, updated_at = $2
		WHERE id = $3 AND status NOT IN ($4, $5)
	`
	return r.transition(ctx, id, domain.NumberStatusPendingCancellation, query,
		domain.NumberStatusPendingCancellation, time.Now().UTC(), id,
		domain.NumberStatusCancelled, domain.NumberStatusPendingCancellation)
}

func (r *PgNumberRepository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE purchased_numbers
		SET status = $1, is_active = FALSE, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	return r.transition(ctx, id, domain.NumberStatusCancelled, query,
		domain.NumberStatusCancelled, time.Now().UTC(), id, domain.NumberStatusPendingCancellation)
}

func (r *PgNumberRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	query := `
		UPDATE purchased_numbers
		SET status = $1, is_active = FALSE, last_provision_error = $2, updated_at = $3
		WHERE id = $4 AND status != $5
	`
	return r.transition(ctx, id, domain.NumberStatusFailed, query,
		domain.NumberStatusFailed, sql.NullString{String: lastError, Valid: true}, time.Now().UTC(), id,
		domain.NumberStatusCancelled)
}

func (r *PgNumberRepository) PrepareRetry(ctx context.Context, id uuid.UUID) error {
	// Attempts are cumulative across manual retries; only the error message
	// clears.
	query := `
		UPDATE purchased_numbers
		SET status = $1, last_provision_error = NULL, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	tag, err := r.db.Exec(ctx, query,
		domain.NumberStatusPending, time.Now().UTC(), id, domain.NumberStatusFailed)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error preparing number retry", "error", err, "number_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrNumberNotRetryable
	}
	r.logger.InfoContext(ctx, "Number reset to pending for manual retry", "number_id", id)
	return nil
}

func (r *PgNumberRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		UPDATE purchased_numbers
		SET provisioning_attempts = provisioning_attempts + 1, updated_at = $1
		WHERE id = $2
		RETURNING provisioning_attempts
	`
	var attempts int
	err := r.db.QueryRow(ctx, query, time.Now().UTC(), id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error incrementing provisioning attempts", "error", err, "number_id", id)
		return 0, err
	}
	return attempts, nil
}

func (r *PgNumberRepository) UpdateForwarding(ctx context.Context, id uuid.UUID, cfg domain.ForwardingConfig) error {
	var dest sql.NullString
	if cfg.Destination != "" {
		dest = sql.NullString{String: cfg.Destination, Valid: true}
	}
	query := `
		UPDATE purchased_numbers
		SET forwarding_type = $1, forwarding_destination = $2, sms_enabled = $3, updated_at = $4
		WHERE id = $5
	`
	tag, err := r.db.Exec(ctx, query, cfg.Type, dest, cfg.SMSEnabled, time.Now().UTC(), id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating number forwarding", "error", err, "number_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
