package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/virtnum/golang_services/internal/provisioning_service/adapters/telephonyprovider"
	"github.com/virtnum/golang_services/internal/provisioning_service/domain"
)

// ProcessorState is the coarse lifecycle state of the queue processor.
type ProcessorState string

const (
	ProcessorStopped ProcessorState = "stopped"
	ProcessorIdle    ProcessorState = "idle"    // started, no task in flight
	ProcessorRunning ProcessorState = "running" // at least one task in flight
)

// ProcessorStatus is the answer to the status query surface.
type ProcessorStatus struct {
	State    ProcessorState `json:"state"`
	InFlight int            `json:"in_flight"`
}

// ProcessorConfig tunes the queue processor loop.
type ProcessorConfig struct {
	PollingInterval    time.Duration `mapstructure:"PROCESSOR_POLLING_INTERVAL"`
	Concurrency        int           `mapstructure:"PROCESSOR_CONCURRENCY"`
	AdapterCallTimeout time.Duration `mapstructure:"PROCESSOR_ADAPTER_CALL_TIMEOUT"`
	// StaleClaimAfter is the maximum task duration: a processing claim older
	// than this is considered abandoned and reclaimable.
	StaleClaimAfter time.Duration `mapstructure:"PROCESSOR_STALE_CLAIM_AFTER"`
	// RetentionWindow is how long terminal tasks are kept before the sweep
	// purges them.
	RetentionWindow time.Duration `mapstructure:"PROCESSOR_RETENTION_WINDOW"`
	SweepInterval   time.Duration `mapstructure:"PROCESSOR_SWEEP_INTERVAL"`
}

// QueueProcessor claims provisioning tasks in priority order, drives the
// telephony provider adapter, and transitions both the task and the owning
// number. It is an owned handle: construct as many isolated instances as
// needed (the task store serializes them per number).
type QueueProcessor struct {
	tasks    domain.TaskRepository
	numbers  domain.NumberRepository
	adapter  telephonyprovider.Adapter
	notifier Notifier
	policy   RetryPolicy
	config   ProcessorConfig
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// NewQueueProcessor wires a processor. A nil notifier disables notification.
func NewQueueProcessor(
	tasks domain.TaskRepository,
	numbers domain.NumberRepository,
	adapter telephonyprovider.Adapter,
	notifier Notifier,
	policy RetryPolicy,
	cfg ProcessorConfig,
	logger *slog.Logger,
) *QueueProcessor {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.AdapterCallTimeout <= 0 {
		cfg.AdapterCallTimeout = 30 * time.Second
	}
	if cfg.StaleClaimAfter <= 0 {
		cfg.StaleClaimAfter = 10 * time.Minute
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = 7 * 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	return &QueueProcessor{
		tasks:    tasks,
		numbers:  numbers,
		adapter:  adapter,
		notifier: notifier,
		policy:   policy,
		config:   cfg,
		logger:   logger.With("component", "queue_processor"),
	}
}

// Start launches the continuous poll loop and the retention sweep. It
// returns an error when the processor is already running.
func (p *QueueProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("queue processor already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(2)
	go p.pollLoop(loopCtx)
	go p.sweepLoop(loopCtx)

	p.logger.InfoContext(ctx, "Queue processor started",
		"polling_interval", p.config.PollingInterval, "concurrency", p.config.Concurrency)
	return nil
}

// Stop cancels the loops and waits for in-flight tasks to finish, bounded by
// ctx.
func (p *QueueProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.InfoContext(ctx, "Queue processor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue processor stop timed out: %w", ctx.Err())
	}
}

// Status answers the idle/running query.
func (p *QueueProcessor) Status() ProcessorStatus {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	inFlight := int(p.inFlight.Load())
	switch {
	case !running:
		return ProcessorStatus{State: ProcessorStopped, InFlight: inFlight}
	case inFlight > 0:
		return ProcessorStatus{State: ProcessorRunning, InFlight: inFlight}
	default:
		return ProcessorStatus{State: ProcessorIdle, InFlight: 0}
	}
}

// ProcessOne claims and processes a single task synchronously, independent
// of the continuous loop. Returns the processed task, or ErrNoPendingTasks.
func (p *QueueProcessor) ProcessOne(ctx context.Context) (*domain.ProvisioningTask, error) {
	task, err := p.tasks.ClaimNext(ctx, p.config.StaleClaimAfter)
	if err != nil {
		return nil, err
	}
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	p.processTask(ctx, task)
	return task, nil
}

func (p *QueueProcessor) pollLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.PollingInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, p.config.Concurrency)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.observeQueueDepth(ctx)
			p.drainClaimable(ctx, sem)
		}
	}
}

// drainClaimable claims tasks until the queue is empty or all worker slots
// are busy. Claims from different numbers run in parallel; the store never
// hands out two live tasks for the same number.
func (p *QueueProcessor) drainClaimable(ctx context.Context, sem chan struct{}) {
	for {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		task, err := p.tasks.ClaimNext(ctx, p.config.StaleClaimAfter)
		if err != nil {
			<-sem
			if !errors.Is(err, domain.ErrNoPendingTasks) && ctx.Err() == nil {
				p.logger.ErrorContext(ctx, "Failed to claim next task", "error", err)
			}
			return
		}

		p.inFlight.Add(1)
		p.wg.Add(1)
		go func(task *domain.ProvisioningTask) {
			defer p.wg.Done()
			defer p.inFlight.Add(-1)
			defer func() { <-sem }()
			p.processTask(ctx, task)
		}(task)
	}
}

func (p *QueueProcessor) sweepLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-p.config.RetentionWindow)
			deleted, err := p.tasks.SweepOld(ctx, cutoff,
				[]domain.TaskStatus{domain.TaskStatusCompleted, domain.TaskStatusFailed})
			if err != nil {
				p.logger.ErrorContext(ctx, "Retention sweep failed", "error", err)
				continue
			}
			tasksSweptCounter.Add(float64(deleted))
		}
	}
}

func (p *QueueProcessor) observeQueueDepth(ctx context.Context) {
	counts, err := p.tasks.CountsByStatus(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.WarnContext(ctx, "Failed to read queue counts", "error", err)
		}
		return
	}
	queueDepthGauge.WithLabelValues(string(domain.TaskStatusPending)).Set(float64(counts.Pending))
	queueDepthGauge.WithLabelValues(string(domain.TaskStatusProcessing)).Set(float64(counts.Processing))
	queueDepthGauge.WithLabelValues(string(domain.TaskStatusCompleted)).Set(float64(counts.Completed))
	queueDepthGauge.WithLabelValues(string(domain.TaskStatusFailed)).Set(float64(counts.Failed))
}

// processTask runs one claimed task to a terminal or retryable outcome. All
// adapter errors are classified before any state mutation; the task and the
// number are always left in a consistent, re-driveable state.
func (p *QueueProcessor) processTask(ctx context.Context, task *domain.ProvisioningTask) {
	timer := prometheus.NewTimer(taskProcessingDurationHist.WithLabelValues(string(task.Action)))
	defer timer.ObserveDuration()

	log := p.logger.With("task_id", task.ID, "number_id", task.NumberID, "action", string(task.Action))
	log.InfoContext(ctx, "Processing task", "priority", task.Priority)

	number, err := p.numbers.GetByID(ctx, task.NumberID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load number for task", "error", err)
		p.failTask(ctx, task, fmt.Sprintf("load number: %v", err))
		return
	}

	var outcome error
	switch task.Action {
	case domain.ActionProvision:
		outcome = p.handleProvision(ctx, task, number, log)
	case domain.ActionUpdate:
		outcome = p.handleUpdate(ctx, task, number, log)
	case domain.ActionCancel:
		outcome = p.handleCancel(ctx, task, number, log)
	case domain.ActionSuspend:
		outcome = p.handleSuspend(ctx, task, number, log)
	case domain.ActionReactivate:
		outcome = p.handleReactivate(ctx, task, number, log)
	default:
		log.WarnContext(ctx, "Unknown task action")
		p.failTask(ctx, task, fmt.Sprintf("unknown action %q", task.Action))
		return
	}

	if outcome != nil {
		p.handleFailure(ctx, task, number, outcome, log)
	}
}

func (p *QueueProcessor) handleProvision(ctx context.Context, task *domain.ProvisioningTask, number *domain.PurchasedNumber, log *slog.Logger) error {
	switch number.Status {
	case domain.NumberStatusCancelled, domain.NumberStatusPendingCancellation:
		// A cancel overtook this provision; do not resurrect the number.
		log.WarnContext(ctx, "Skipping provision for cancelled number", "number_status", number.Status)
		p.failTask(ctx, task, "number is cancelled or being cancelled")
		return nil
	case domain.NumberStatusPending:
		if err := p.numbers.MarkProvisioning(ctx, number.ID); err != nil {
			return fmt.Errorf("mark provisioning: %w", err)
		}
		number.Status = domain.NumberStatusProvisioning
	case domain.NumberStatusProvisioning:
		// Re-driven after a crash or stale-claim recovery; continue.
	}

	cfg, ok, err := task.ForwardingMetadata()
	if err != nil {
		log.ErrorContext(ctx, "Malformed task metadata", "error", err)
		p.failTask(ctx, task, "malformed metadata: "+err.Error())
		return nil
	}
	if !ok {
		cfg = number.Forwarding()
	}

	req := telephonyprovider.ProvisionRequest{
		NumberID:    number.ID.String(),
		PhoneNumber: number.PhoneNumber,
		ExternalID:  number.ExternalID.String, // set on retries; keeps provision idempotent
		Forwarding:  cfg,
	}
	externalID, err := p.callProvisionAdapter(ctx, req)
	if err != nil {
		return err
	}

	if err := p.numbers.MarkActive(ctx, number.ID, externalID); err != nil {
		return fmt.Errorf("mark active: %w", err)
	}
	p.completeTask(ctx, task)
	p.notify(ctx, EventNumberActivated, number.ID)
	log.InfoContext(ctx, "Number provisioned", "external_id", externalID)
	return nil
}

func (p *QueueProcessor) handleUpdate(ctx context.Context, task *domain.ProvisioningTask, number *domain.PurchasedNumber, log *slog.Logger) error {
	if !number.ExternalID.Valid {
		return telephonyprovider.Permanent("update", 0, "number has no external resource", nil)
	}
	cfg, ok, err := task.ForwardingMetadata()
	if err != nil || !ok {
		msg := "update task carries no forwarding config"
		if err != nil {
			msg = "malformed metadata: " + err.Error()
		}
		log.ErrorContext(ctx, "Invalid update task metadata", "error", err)
		p.failTask(ctx, task, msg)
		return nil
	}

	if err := p.callAdapter(ctx, "update", func(callCtx context.Context) error {
		return p.adapter.UpdateConfig(callCtx, number.ExternalID.String, cfg)
	}); err != nil {
		return err
	}

	if err := p.numbers.UpdateForwarding(ctx, number.ID, cfg); err != nil {
		return fmt.Errorf("persist forwarding: %w", err)
	}
	p.completeTask(ctx, task)
	log.InfoContext(ctx, "Forwarding config updated", "forwarding_type", string(cfg.Type))
	return nil
}

func (p *QueueProcessor) handleCancel(ctx context.Context, task *domain.ProvisioningTask, number *domain.PurchasedNumber, log *slog.Logger) error {
	if number.Status == domain.NumberStatusCancelled {
		log.InfoContext(ctx, "Number already cancelled, completing task")
		p.completeTask(ctx, task)
		return nil
	}

	// A number that never reached the provider has nothing external to tear
	// down.
	if number.ExternalID.Valid {
		if err := p.callAdapter(ctx, "cancel", func(callCtx context.Context) error {
			return p.adapter.Cancel(callCtx, number.ExternalID.String)
		}); err != nil {
			return err
		}
	}

	if err := p.numbers.MarkCancelled(ctx, number.ID); err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	p.completeTask(ctx, task)
	p.notify(ctx, EventNumberCancelled, number.ID)
	log.InfoContext(ctx, "Number cancelled")
	return nil
}

func (p *QueueProcessor) handleSuspend(ctx context.Context, task *domain.ProvisioningTask, number *domain.PurchasedNumber, log *slog.Logger) error {
	if !number.ExternalID.Valid {
		return telephonyprovider.Permanent("suspend", 0, "number has no external resource", nil)
	}
	if err := p.callAdapter(ctx, "suspend", func(callCtx context.Context) error {
		return p.adapter.Suspend(callCtx, number.ExternalID.String)
	}); err != nil {
		return err
	}
	if err := p.numbers.MarkSuspended(ctx, number.ID); err != nil {
		return fmt.Errorf("mark suspended: %w", err)
	}
	p.completeTask(ctx, task)
	p.notify(ctx, EventNumberSuspended, number.ID)
	log.InfoContext(ctx, "Number suspended")
	return nil
}

func (p *QueueProcessor) handleReactivate(ctx context.Context, task *domain.ProvisioningTask, number *domain.PurchasedNumber, log *slog.Logger) error {
	if !number.ExternalID.Valid {
		return telephonyprovider.Permanent("reactivate", 0, "number has no external resource", nil)
	}
	if err := p.callAdapter(ctx, "reactivate", func(callCtx context.Context) error {
		return p.adapter.Reactivate(callCtx, number.ExternalID.String)
	}); err != nil {
		return err
	}
	if err := p.numbers.MarkReactivated(ctx, number.ID); err != nil {
		return fmt.Errorf("mark reactivated: %w", err)
	}
	p.completeTask(ctx, task)
	p.notify(ctx, EventNumberActivated, number.ID)
	log.InfoContext(ctx, "Number reactivated")
	return nil
}

// callAdapter runs one provider call under the per-call timeout. Adapter
// calls are the only blocking points in the processor; a timeout surfaces as
// a transient error.
func (p *QueueProcessor) callAdapter(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, p.config.AdapterCallTimeout)
	defer cancel()
	timer := prometheus.NewTimer(providerRequestDurationHist.WithLabelValues(operation))
	defer timer.ObserveDuration()

	err := fn(callCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return telephonyprovider.Transient(operation, 0, "provider call timed out", err)
	}
	return err
}

func (p *QueueProcessor) callProvisionAdapter(ctx context.Context, req telephonyprovider.ProvisionRequest) (string, error) {
	var externalID string
	err := p.callAdapter(ctx, "provision", func(callCtx context.Context) error {
		var callErr error
		externalID, callErr = p.adapter.Provision(callCtx, req)
		return callErr
	})
	return externalID, err
}

// handleFailure applies the retry policy to a classified adapter (or
// transition) error.
func (p *QueueProcessor) handleFailure(ctx context.Context, task *domain.ProvisioningTask, number *domain.PurchasedNumber, cause error, log *slog.Logger) {
	if telephonyprovider.IsPermanent(cause) {
		// No retry budget consulted: permanent means permanent.
		log.WarnContext(ctx, "Permanent provider failure", "error", cause)
		p.failNumberAndTask(ctx, task, cause.Error())
		return
	}

	attempts, err := p.numbers.IncrementAttempts(ctx, number.ID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to increment attempts; leaving task retryable", "error", err)
		attempts = number.ProvisioningAttempts + 1
	}

	if p.policy.ShouldRetry(attempts) {
		newPriority := p.policy.NextPriority(task.Priority)
		log.InfoContext(ctx, "Transient failure, task reset for retry",
			"error", cause, "attempts", attempts, "new_priority", newPriority)
		if err := p.tasks.ResetForRetry(ctx, task.ID, task.ClaimedAt.Time, newPriority, cause.Error()); err != nil {
			log.ErrorContext(ctx, "Failed to reset task for retry", "error", err)
		}
		tasksProcessedCounter.WithLabelValues(string(task.Action), "retried").Inc()
		return
	}

	log.WarnContext(ctx, "Retry budget exhausted", "error", cause, "attempts", attempts, "max_attempts", p.policy.MaxAttempts)
	p.failNumberAndTask(ctx, task, cause.Error())
}

func (p *QueueProcessor) failNumberAndTask(ctx context.Context, task *domain.ProvisioningTask, errMsg string) {
	n, getErr := p.numbers.GetByID(ctx, task.NumberID)
	if getErr == nil && !n.Status.IsTerminal() {
		if err := p.numbers.MarkFailed(ctx, task.NumberID, errMsg); err != nil {
			p.logger.ErrorContext(ctx, "Failed to mark number failed", "error", err, "number_id", task.NumberID)
		}
	}
	p.failTask(ctx, task, errMsg)
	p.notify(ctx, EventNumberFailed, task.NumberID)
}

func (p *QueueProcessor) completeTask(ctx context.Context, task *domain.ProvisioningTask) {
	if err := p.tasks.MarkCompleted(ctx, task.ID, task.ClaimedAt.Time); err != nil {
		p.logger.ErrorContext(ctx, "Failed to mark task completed", "error", err, "task_id", task.ID)
		return
	}
	tasksProcessedCounter.WithLabelValues(string(task.Action), "completed").Inc()
}

func (p *QueueProcessor) failTask(ctx context.Context, task *domain.ProvisioningTask, errMsg string) {
	if err := p.tasks.MarkFailed(ctx, task.ID, task.ClaimedAt.Time, errMsg); err != nil {
		p.logger.ErrorContext(ctx, "Failed to mark task failed", "error", err, "task_id", task.ID)
		return
	}
	tasksProcessedCounter.WithLabelValues(string(task.Action), "failed").Inc()
}

// notify re-reads the number so sinks see the post-transition state, then
// fires best-effort. Notification failures never touch the task outcome.
func (p *QueueProcessor) notify(ctx context.Context, event LifecycleEvent, numberID uuid.UUID) {
	if p.notifier == nil {
		return
	}
	number, err := p.numbers.GetByID(ctx, numberID)
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to load number for notification", "error", err, "number_id", numberID)
		return
	}
	if err := p.notifier.Notify(ctx, event, number); err != nil {
		p.logger.WarnContext(ctx, "Notification failed; ignoring",
			"event", string(event), "number_id", numberID, "error", err)
	}
}
