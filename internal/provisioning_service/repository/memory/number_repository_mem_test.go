package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtnum/golang_services/internal/provisioning_service/domain"
)

func createNumber(t *testing.T, repo *NumberRepository) *domain.PurchasedNumber {
	t.Helper()
	number := domain.NewPurchasedNumber(uuid.New(), uuid.New(), "+15550001234", domain.ForwardingConfig{})
	require.NoError(t, repo.Create(context.Background(), number))
	return number
}

func TestNumberRepository_LifecycleHappyPath(t *testing.T) {
	ctx := context.Background()
	repo := NewNumberRepository()
	number := createNumber(t, repo)

	require.NoError(t, repo.MarkProvisioning(ctx, number.ID))
	require.NoError(t, repo.MarkActive(ctx, number.ID, "ext-123"))

	stored, err := repo.GetByID(ctx, number.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NumberStatusActive, stored.Status)
	assert.True(t, stored.IsActive)
	assert.Equal(t, "ext-123", stored.ExternalID.String)
	assert.False(t, stored.LastProvisionError.Valid)

	require.NoError(t, repo.MarkSuspended(ctx, number.ID))
	stored, err = repo.GetByID(ctx, number.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	require.NoError(t, repo.MarkReactivated(ctx, number.ID))
	stored, err = repo.GetByID(ctx, number.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
}

func TestNumberRepository_GuardedTransitions(t *testing.T) {
	ctx := context.Background()
	repo := NewNumberRepository()
	number := createNumber(t, repo)

	// Activation straight from pending is not a legal move.
	var transitionErr *domain.InvalidTransitionError
	err := repo.MarkActive(ctx, number.ID, "ext-123")
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, domain.NumberStatusPending, transitionErr.From)

	// Suspending a number that was never active is rejected too.
	err = repo.MarkSuspended(ctx, number.ID)
	assert.ErrorAs(t, err, &transitionErr)

	assert.ErrorIs(t, repo.MarkProvisioning(ctx, uuid.New()), domain.ErrNotFound)
}

func TestNumberRepository_CancellationIsTerminal(t *testing.T) {
	ctx := context.Background()
	repo := NewNumberRepository()
	number := createNumber(t, repo)

	require.NoError(t, repo.MarkPendingCancellation(ctx, number.ID))
	stored, err := repo.GetByID(ctx, number.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive, "cancellation intent turns the number off before provider confirmation")

	require.NoError(t, repo.MarkCancelled(ctx, number.ID))

	var transitionErr *domain.InvalidTransitionError
	assert.ErrorAs(t, repo.MarkProvisioning(ctx, number.ID), &transitionErr)
	assert.ErrorAs(t, repo.MarkFailed(ctx, number.ID, "late failure"), &transitionErr)
	assert.ErrorIs(t, repo.PrepareRetry(ctx, number.ID), domain.ErrNumberNotRetryable)
}

func TestNumberRepository_FailAndRetry(t *testing.T) {
	ctx := context.Background()
	repo := NewNumberRepository()
	number := createNumber(t, repo)

	attempts, err := repo.IncrementAttempts(ctx, number.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	attempts, err = repo.IncrementAttempts(ctx, number.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	require.NoError(t, repo.MarkFailed(ctx, number.ID, "provider rejected the number"))
	stored, err := repo.GetByID(ctx, number.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NumberStatusFailed, stored.Status)
	assert.Equal(t, "provider rejected the number", stored.LastProvisionError.String)

	// Manual retry: only from failed, clears the error, keeps the counter.
	assert.ErrorIs(t, repo.PrepareRetry(ctx, uuid.New()), domain.ErrNotFound)
	require.NoError(t, repo.PrepareRetry(ctx, number.ID))

	stored, err = repo.GetByID(ctx, number.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NumberStatusPending, stored.Status)
	assert.False(t, stored.LastProvisionError.Valid)
	assert.Equal(t, 2, stored.ProvisioningAttempts, "attempt counter is cumulative across manual retries")

	// A second retry on the now-pending number is rejected.
	assert.ErrorIs(t, repo.PrepareRetry(ctx, number.ID), domain.ErrNumberNotRetryable)
}

func TestNumberRepository_UpdateForwarding(t *testing.T) {
	ctx := context.Background()
	repo := NewNumberRepository()
	number := createNumber(t, repo)

	cfg := domain.ForwardingConfig{Type: domain.ForwardingBoth, Destination: "+15559990000", SMSEnabled: true}
	require.NoError(t, repo.UpdateForwarding(ctx, number.ID, cfg))

	stored, err := repo.GetByID(ctx, number.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ForwardingBoth, stored.ForwardingType)
	assert.Equal(t, "+15559990000", stored.ForwardingDestination.String)
	assert.True(t, stored.SMSEnabled)

	require.NoError(t, repo.UpdateForwarding(ctx, number.ID, domain.ForwardingConfig{Type: domain.ForwardingNone}))
	stored, err = repo.GetByID(ctx, number.ID)
	require.NoError(t, err)
	assert.False(t, stored.ForwardingDestination.Valid)
}
