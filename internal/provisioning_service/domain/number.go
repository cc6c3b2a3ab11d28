package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// NumberStatus is the lifecycle status of a purchased number.
type NumberStatus string

const (
	NumberStatusPending             NumberStatus = "pending"
	NumberStatusProvisioning        NumberStatus = "provisioning"
	NumberStatusActive              NumberStatus = "active"
	NumberStatusSuspended           NumberStatus = "suspended"
	NumberStatusPendingCancellation NumberStatus = "pending_cancellation"
	NumberStatusCancelled           NumberStatus = "cancelled"
	NumberStatusFailed              NumberStatus = "failed"
)

// IsTerminal reports whether no further automated transition can occur.
// Only cancelled is terminal; failed numbers can be retried manually.
func (s NumberStatus) IsTerminal() bool {
	return s == NumberStatusCancelled
}

// CanTransitionTo encodes the allowed lifecycle transitions.
func (s NumberStatus) CanTransitionTo(next NumberStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case NumberStatusProvisioning:
		return s == NumberStatusPending
	case NumberStatusActive:
		return s == NumberStatusProvisioning || s == NumberStatusSuspended
	case NumberStatusSuspended:
		return s == NumberStatusActive
	case NumberStatusPendingCancellation:
		// Cancellation intent can be marked from any non-terminal state.
		return s != NumberStatusPendingCancellation
	case NumberStatusCancelled:
		return s == NumberStatusPendingCancellation
	case NumberStatusFailed:
		return true // any non-terminal state can fail on exhausted retries
	case NumberStatusPending:
		return s == NumberStatusFailed // manual retry only
	}
	return false
}

// ForwardingType describes where traffic on a number is forwarded.
type ForwardingType string

const (
	ForwardingNone ForwardingType = "none"
	ForwardingCall ForwardingType = "call"
	ForwardingSMS  ForwardingType = "sms"
	ForwardingBoth ForwardingType = "both"
)

// ForwardingConfig is the desired routing configuration for a number.
// It travels in task metadata for provision and update actions.
type ForwardingConfig struct {
	Type        ForwardingType `json:"type"`
	Destination string         `json:"destination,omitempty"`
	SMSEnabled  bool           `json:"sms_enabled"`
}

// PurchasedNumber represents one telephony resource owned by a customer.
//
// is_active is true only while the number is in the active status. The
// external provider identifier stays NULL until the first successful
// provision. Rows are never deleted; cancellation is a terminal status.
type PurchasedNumber struct {
	ID                    uuid.UUID      `json:"id"`
	CustomerID            uuid.UUID      `json:"customer_id"`
	PhoneNumber           string         `json:"phone_number"`
	ExternalID            sql.NullString `json:"external_id,omitempty"`
	Status                NumberStatus   `json:"status"`
	IsActive              bool           `json:"is_active"`
	SMSEnabled            bool           `json:"sms_enabled"`
	ForwardingType        ForwardingType `json:"forwarding_type"`
	ForwardingDestination sql.NullString `json:"forwarding_destination,omitempty"`
	ProvisioningAttempts  int            `json:"provisioning_attempts"`
	LastProvisionError    sql.NullString `json:"last_provision_error,omitempty"`
	SubscriptionID        sql.NullString `json:"subscription_id,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// NewPurchasedNumber creates a number record in the pending status, as it
// exists right after purchase confirmation and before any provisioning.
func NewPurchasedNumber(id, customerID uuid.UUID, phoneNumber string, fwd ForwardingConfig) *PurchasedNumber {
	now := time.Now().UTC()
	n := &PurchasedNumber{
		ID:             id,
		CustomerID:     customerID,
		PhoneNumber:    phoneNumber,
		Status:         NumberStatusPending,
		IsActive:       false,
		SMSEnabled:     fwd.SMSEnabled,
		ForwardingType: fwd.Type,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if fwd.Type == "" {
		n.ForwardingType = ForwardingNone
	}
	if fwd.Destination != "" {
		n.ForwardingDestination = sql.NullString{String: fwd.Destination, Valid: true}
	}
	return n
}

// Forwarding returns the number's current forwarding configuration.
func (n *PurchasedNumber) Forwarding() ForwardingConfig {
	return ForwardingConfig{
		Type:        n.ForwardingType,
		Destination: n.ForwardingDestination.String,
		SMSEnabled:  n.SMSEnabled,
	}
}
