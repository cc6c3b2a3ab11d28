package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"
	"time"

	"github.com/virtnum/golang_services/internal/platform/messagebroker"
	"github.com/virtnum/golang_services/internal/provisioning_service/domain"
)

// LifecycleEvent names a terminal state change worth telling someone about.
type LifecycleEvent string

const (
	EventNumberActivated LifecycleEvent = "number.activated"
	EventNumberFailed    LifecycleEvent = "number.failed"
	EventNumberCancelled LifecycleEvent = "number.cancelled"
	EventNumberSuspended LifecycleEvent = "number.suspended"
)

// Notifier is a fire-and-forget sink for lifecycle events. Implementations
// must not be load-bearing: the processor logs and swallows their errors and
// never retries a task because a notification failed.
type Notifier interface {
	Notify(ctx context.Context, event LifecycleEvent, number *domain.PurchasedNumber) error
}

// EmailConfig holds SMTP connection details for the email notifier.
type EmailConfig struct {
	Host     string
	Port     int
	From     string
	To       string
	Username string
	Password string
}

// EmailNotifier sends a short plain-text email per lifecycle event.
type EmailNotifier struct {
	cfg    EmailConfig
	logger *slog.Logger
}

func NewEmailNotifier(cfg EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, logger: logger.With("notifier", "email")}
}

func (n *EmailNotifier) Notify(ctx context.Context, event LifecycleEvent, number *domain.PurchasedNumber) error {
	subject := fmt.Sprintf("[provisioning] %s: %s", event, number.PhoneNumber)
	body := fmt.Sprintf(
		"Number %s (%s) is now %s.\r\nAttempts: %d\r\nLast error: %s\r\n",
		number.PhoneNumber, number.ID, number.Status,
		number.ProvisioningAttempts, number.LastProvisionError.String,
	)
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		n.cfg.From, n.cfg.To, subject, body))

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, n.cfg.From, []string{n.cfg.To}, msg); err != nil {
		return fmt.Errorf("send notification email: %w", err)
	}
	n.logger.InfoContext(ctx, "Notification email sent", "event", string(event), "number_id", number.ID)
	return nil
}

// lifecycleEventPayload is the JSON shape published on the message broker.
type lifecycleEventPayload struct {
	Event       string    `json:"event"`
	NumberID    string    `json:"number_id"`
	PhoneNumber string    `json:"phone_number"`
	Status      string    `json:"status"`
	IsActive    bool      `json:"is_active"`
	ExternalID  string    `json:"external_id,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Attempts    int       `json:"attempts"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NATSNotifier publishes lifecycle events for other services (storefront,
// analytics) to consume.
type NATSNotifier struct {
	client  *messagebroker.NATSClient
	subject string
	logger  *slog.Logger
}

func NewNATSNotifier(client *messagebroker.NATSClient, subject string, logger *slog.Logger) *NATSNotifier {
	if subject == "" {
		subject = "number.lifecycle.changed"
	}
	return &NATSNotifier{client: client, subject: subject, logger: logger.With("notifier", "nats")}
}

func (n *NATSNotifier) Notify(ctx context.Context, event LifecycleEvent, number *domain.PurchasedNumber) error {
	payload := lifecycleEventPayload{
		Event:       string(event),
		NumberID:    number.ID.String(),
		PhoneNumber: number.PhoneNumber,
		Status:      string(number.Status),
		IsActive:    number.IsActive,
		ExternalID:  number.ExternalID.String,
		LastError:   number.LastProvisionError.String,
		Attempts:    number.ProvisioningAttempts,
		OccurredAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	if err := n.client.Publish(ctx, n.subject, data); err != nil {
		return fmt.Errorf("publish lifecycle event: %w", err)
	}
	n.logger.InfoContext(ctx, "Lifecycle event published", "event", string(event), "number_id", number.ID)
	return nil
}

// MultiNotifier fans out to several sinks. Each sink's failure is logged and
// swallowed independently; Notify itself never returns an error.
type MultiNotifier struct {
	sinks  []Notifier
	logger *slog.Logger
}

func NewMultiNotifier(logger *slog.Logger, sinks ...Notifier) *MultiNotifier {
	return &MultiNotifier{sinks: sinks, logger: logger}
}

func (n *MultiNotifier) Notify(ctx context.Context, event LifecycleEvent, number *domain.PurchasedNumber) error {
	for _, sink := range n.sinks {
		if err := sink.Notify(ctx, event, number); err != nil {
			n.logger.WarnContext(ctx, "Notification sink failed; continuing",
				"event", string(event), "number_id", number.ID, "error", err)
		}
	}
	return nil
}
