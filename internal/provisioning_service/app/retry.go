package app

// RetryPolicy decides whether and how a transiently failed task is retried.
//
// Backoff is expressed as priority degradation rather than a wall-clock
// sleep: a reset task stays claimable immediately, but each failed attempt
// pushes it further down the queue so a poison task cannot monopolize the
// processor while healthy numbers wait.
type RetryPolicy struct {
	// MaxAttempts is the provisioning attempt ceiling. When the number's
	// cumulative attempt counter reaches it, the task and the number go to
	// failed.
	MaxAttempts int
	// PriorityStep is how much priority is shed per failed attempt.
	PriorityStep int
	// MinPriority is the floor a degraded task can sink to.
	MinPriority int
}

// DefaultRetryPolicy matches the configured defaults: three attempts, one
// priority band shed per failure, floor at zero.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, PriorityStep: 2, MinPriority: 0}
}

// ShouldRetry reports whether another automatic attempt is allowed after the
// given cumulative attempt count.
func (p RetryPolicy) ShouldRetry(attempts int) bool {
	return attempts < p.MaxAttempts
}

// NextPriority returns the degraded priority after one more failed attempt,
// shedding PriorityStep from the task's current priority.
func (p RetryPolicy) NextPriority(currentPriority int) int {
	next := currentPriority - p.PriorityStep
	if next < p.MinPriority {
		return p.MinPriority
	}
	return next
}
