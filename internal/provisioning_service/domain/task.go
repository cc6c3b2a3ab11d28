package domain

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskAction identifies the provider operation a task asks for.
type TaskAction string

const (
	ActionProvision  TaskAction = "provision"
	ActionUpdate     TaskAction = "update"
	ActionCancel     TaskAction = "cancel"
	ActionSuspend    TaskAction = "suspend"
	ActionReactivate TaskAction = "reactivate"
)

// Valid reports whether a is a known action.
func (a TaskAction) Valid() bool {
	switch a {
	case ActionProvision, ActionUpdate, ActionCancel, ActionSuspend, ActionReactivate:
		return true
	}
	return false
}

// TaskStatus is the processing status of a queued task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing" // claimed by a processor
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether the task row is immutable (except retention).
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task priorities. Higher is more urgent. Cancellations and manual retries
// jump the queue ahead of routine provisioning work.
const (
	PriorityNormal   = 5
	PriorityElevated = 8
	PriorityUrgent   = 10
)

// ProvisioningTask is one queued unit of work against one purchased number.
//
// At most one task per number may be in processing at any instant; the task
// store enforces that, not the processor. A retry is a status reset of the
// same row, never a new row.
type ProvisioningTask struct {
	ID        uuid.UUID       `json:"id"`
	NumberID  uuid.UUID       `json:"purchased_number_id"`
	Action    TaskAction      `json:"action"`
	Priority  int             `json:"priority"`
	Status    TaskStatus      `json:"status"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Error     sql.NullString  `json:"error,omitempty"`
	ClaimedAt sql.NullTime    `json:"claimed_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewProvisioningTask creates a pending task for the given number and action.
func NewProvisioningTask(id, numberID uuid.UUID, action TaskAction, priority int, metadata json.RawMessage) *ProvisioningTask {
	now := time.Now().UTC()
	return &ProvisioningTask{
		ID:        id,
		NumberID:  numberID,
		Action:    action,
		Priority:  priority,
		Status:    TaskStatusPending,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ForwardingMetadata extracts the forwarding configuration carried in the
// task metadata. Returns ok=false when the task carries none.
func (t *ProvisioningTask) ForwardingMetadata() (ForwardingConfig, bool, error) {
	if len(t.Metadata) == 0 {
		return ForwardingConfig{}, false, nil
	}
	var cfg ForwardingConfig
	if err := json.Unmarshal(t.Metadata, &cfg); err != nil {
		return ForwardingConfig{}, false, err
	}
	return cfg, true, nil
}
