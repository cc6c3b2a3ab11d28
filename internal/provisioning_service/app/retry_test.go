package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/virtnum/golang_services/internal/provisioning_service/domain"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.True(t, policy.ShouldRetry(1))
	assert.True(t, policy.ShouldRetry(2))
	assert.False(t, policy.ShouldRetry(3), "the third attempt exhausts the budget")
	assert.False(t, policy.ShouldRetry(7))
}

func TestRetryPolicy_NextPriority(t *testing.T) {
	policy := DefaultRetryPolicy()

	// Each failed attempt pushes the task further down the queue.
	assert.Equal(t, 3, policy.NextPriority(domain.PriorityNormal))
	assert.Equal(t, 1, policy.NextPriority(3))
	assert.Equal(t, 0, policy.NextPriority(1), "degradation floors at MinPriority")

	// An urgent task keeps jumping normal work even after a failure.
	assert.Equal(t, 8, policy.NextPriority(domain.PriorityUrgent))
}

func TestRetryPolicy_NextPriorityFloor(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, PriorityStep: 4, MinPriority: 1}
	assert.Equal(t, 1, policy.NextPriority(domain.PriorityNormal))
}
