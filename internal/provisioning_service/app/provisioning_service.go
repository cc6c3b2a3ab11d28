package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/virtnum/golang_services/internal/platform/messagebroker"
	"github.com/virtnum/golang_services/internal/provisioning_service/domain"
)

// ProvisioningService is the trigger and status surface consumed by the
// storefront, the admin UI and the billing webhook. It creates number
// records and enqueues work; it never mutates lifecycle state directly —
// that is the processor's job.
type ProvisioningService struct {
	tasks      domain.TaskRepository
	numbers    domain.NumberRepository
	processor  *QueueProcessor
	natsClient *messagebroker.NATSClient
	logger     *slog.Logger

	billingSub *nats.Subscription
}

func NewProvisioningService(
	tasks domain.TaskRepository,
	numbers domain.NumberRepository,
	processor *QueueProcessor,
	natsClient *messagebroker.NATSClient,
	logger *slog.Logger,
) *ProvisioningService {
	return &ProvisioningService{
		tasks:      tasks,
		numbers:    numbers,
		processor:  processor,
		natsClient: natsClient,
		logger:     logger.With("service", "provisioning_app"),
	}
}

// Processor exposes the owned processor handle for the control surface.
func (s *ProvisioningService) Processor() *QueueProcessor { return s.processor }

// RegisterPurchase creates a pending number record at purchase confirmation
// and enqueues its provision task at normal priority.
func (s *ProvisioningService) RegisterPurchase(ctx context.Context, customerID uuid.UUID, phoneNumber string, fwd domain.ForwardingConfig) (*domain.PurchasedNumber, error) {
	if phoneNumber == "" {
		return nil, &domain.ValidationError{Field: "phone_number", Reason: "must not be empty"}
	}
	if customerID == uuid.Nil {
		return nil, &domain.ValidationError{Field: "customer_id", Reason: "must not be empty"}
	}

	number := domain.NewPurchasedNumber(uuid.New(), customerID, phoneNumber, fwd)
	if err := s.numbers.Create(ctx, number); err != nil {
		return nil, fmt.Errorf("create number record: %w", err)
	}

	if err := s.enqueue(ctx, number.ID, domain.ActionProvision, domain.PriorityNormal, fwd); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "Purchase registered", "number_id", number.ID, "phone_number", phoneNumber)
	return number, nil
}

// RequestCancellation runs the two-phase cancellation: mark intent (which
// flips is_active off immediately), then enqueue the external teardown at
// urgent priority.
func (s *ProvisioningService) RequestCancellation(ctx context.Context, numberID uuid.UUID) error {
	number, err := s.numbers.GetByID(ctx, numberID)
	if err != nil {
		return err
	}
	if number.Status == domain.NumberStatusCancelled {
		return domain.ErrNumberCancelled
	}
	if number.Status != domain.NumberStatusPendingCancellation {
		if err := s.numbers.MarkPendingCancellation(ctx, numberID); err != nil {
			return fmt.Errorf("mark pending cancellation: %w", err)
		}
	}
	if err := s.enqueue(ctx, numberID, domain.ActionCancel, domain.PriorityUrgent, nil); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Cancellation requested", "number_id", numberID)
	return nil
}

// RequestSuspend enqueues a suspend task (billing-inactive signal or
// explicit admin action). Only active numbers can be suspended.
func (s *ProvisioningService) RequestSuspend(ctx context.Context, numberID uuid.UUID) error {
	return s.enqueueChecked(ctx, numberID, domain.ActionSuspend, domain.PriorityElevated,
		domain.NumberStatusActive, domain.NumberStatusSuspended)
}

// RequestReactivate enqueues a reactivate task for a suspended number.
func (s *ProvisioningService) RequestReactivate(ctx context.Context, numberID uuid.UUID) error {
	return s.enqueueChecked(ctx, numberID, domain.ActionReactivate, domain.PriorityElevated,
		domain.NumberStatusSuspended, domain.NumberStatusActive)
}

// enqueueChecked enqueues action when the number is in requiredStatus, and
// quietly no-ops when the number already sits in the goal status (duplicate
// trigger for an already-applied transition).
func (s *ProvisioningService) enqueueChecked(ctx context.Context, numberID uuid.UUID, action domain.TaskAction, priority int, requiredStatus, goalStatus domain.NumberStatus) error {
	number, err := s.numbers.GetByID(ctx, numberID)
	if err != nil {
		return err
	}
	if number.Status == goalStatus {
		s.logger.InfoContext(ctx, "Number already in goal status, skipping enqueue",
			"number_id", numberID, "action", string(action), "status", string(number.Status))
		return nil
	}
	if number.Status != requiredStatus {
		return &domain.InvalidTransitionError{From: number.Status, To: goalStatus}
	}
	if err := s.enqueue(ctx, numberID, action, priority, nil); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Task requested", "number_id", numberID, "action", string(action))
	return nil
}

// UpdateForwarding enqueues an update task carrying the desired forwarding
// configuration in the task metadata.
func (s *ProvisioningService) UpdateForwarding(ctx context.Context, numberID uuid.UUID, cfg domain.ForwardingConfig) error {
	switch cfg.Type {
	case domain.ForwardingNone, domain.ForwardingCall, domain.ForwardingSMS, domain.ForwardingBoth:
	default:
		return &domain.ValidationError{Field: "forwarding_type", Reason: fmt.Sprintf("unknown value %q", cfg.Type)}
	}
	if cfg.Type != domain.ForwardingNone && cfg.Destination == "" {
		return &domain.ValidationError{Field: "forwarding_destination", Reason: "required when forwarding is enabled"}
	}

	number, err := s.numbers.GetByID(ctx, numberID)
	if err != nil {
		return err
	}
	if number.Status.IsTerminal() {
		return domain.ErrNumberCancelled
	}
	if err := s.enqueue(ctx, numberID, domain.ActionUpdate, domain.PriorityNormal, cfg); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Forwarding update requested", "number_id", numberID, "forwarding_type", string(cfg.Type))
	return nil
}

// RetryNumber is the manual retry path. Only numbers currently failed are
// eligible; the error message clears, the cumulative attempt counter does
// not, and the new provision task jumps the queue at elevated priority.
func (s *ProvisioningService) RetryNumber(ctx context.Context, numberID uuid.UUID) error {
	if err := s.numbers.PrepareRetry(ctx, numberID); err != nil {
		return err
	}
	if err := s.enqueue(ctx, numberID, domain.ActionProvision, domain.PriorityElevated, nil); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Manual retry enqueued", "number_id", numberID)
	return nil
}

// NumberStatusView is the per-number status answer for the UI/API layer.
type NumberStatusView struct {
	NumberID    uuid.UUID           `json:"number_id"`
	PhoneNumber string              `json:"phone_number"`
	Status      domain.NumberStatus `json:"status"`
	IsActive    bool                `json:"is_active"`
	ExternalID  string              `json:"external_id,omitempty"`
	LastError   string              `json:"last_error,omitempty"`
	Attempts    int                 `json:"attempts"`
}

// NumberStatus answers the per-number status query.
func (s *ProvisioningService) NumberStatus(ctx context.Context, numberID uuid.UUID) (*NumberStatusView, error) {
	number, err := s.numbers.GetByID(ctx, numberID)
	if err != nil {
		return nil, err
	}
	return &NumberStatusView{
		NumberID:    number.ID,
		PhoneNumber: number.PhoneNumber,
		Status:      number.Status,
		IsActive:    number.IsActive,
		ExternalID:  number.ExternalID.String,
		LastError:   number.LastProvisionError.String,
		Attempts:    number.ProvisioningAttempts,
	}, nil
}

// QueueCounts answers the queue-wide status query.
func (s *ProvisioningService) QueueCounts(ctx context.Context) (domain.TaskCounts, error) {
	return s.tasks.CountsByStatus(ctx)
}

func (s *ProvisioningService) enqueue(ctx context.Context, numberID uuid.UUID, action domain.TaskAction, priority int, metadata any) error {
	var raw json.RawMessage
	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal task metadata: %w", err)
		}
		raw = data
	}
	task := domain.NewProvisioningTask(uuid.New(), numberID, action, priority, raw)
	return s.tasks.Enqueue(ctx, task)
}

// billingEventPayload is the message shape on the billing subject.
type billingEventPayload struct {
	SubscriptionID string `json:"subscription_id"`
	NumberID       string `json:"number_id"`
	Active         bool   `json:"active"`
}

// StartConsumingBillingEvents subscribes to subscription state changes and
// maps them onto suspend/reactivate tasks. Duplicate deliveries are safe:
// the queue de-duplicates identical pending (number, action, payload) tasks.
func (s *ProvisioningService) StartConsumingBillingEvents(ctx context.Context, subject, queueGroup string) error {
	if s.natsClient == nil {
		return fmt.Errorf("NATS client not initialized in ProvisioningService")
	}
	s.logger.Info("Starting billing event consumer", "subject", subject, "queue_group", queueGroup)

	handler := func(msg *nats.Msg) {
		var event billingEventPayload
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			s.logger.Error("Failed to unmarshal billing event", "error", err, "data", string(msg.Data))
			return
		}
		numberID, err := uuid.Parse(event.NumberID)
		if err != nil {
			s.logger.Error("Billing event carries an invalid number ID", "error", err, "number_id", event.NumberID)
			return
		}

		eventCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if event.Active {
			err = s.RequestReactivate(eventCtx, numberID)
		} else {
			err = s.RequestSuspend(eventCtx, numberID)
		}
		if err != nil {
			s.logger.Error("Failed to act on billing event",
				"error", err, "number_id", numberID, "subscription_active", event.Active)
		}
	}

	sub, err := s.natsClient.SubscribeQueue(subject, queueGroup, handler)
	if err != nil {
		return fmt.Errorf("subscribe to billing events on %q: %w", subject, err)
	}
	s.billingSub = sub
	return nil
}

// StopConsumingBillingEvents unsubscribes from the billing subject.
func (s *ProvisioningService) StopConsumingBillingEvents() {
	if s.billingSub != nil {
		_ = s.billingSub.Unsubscribe()
		s.billingSub = nil
	}
}
