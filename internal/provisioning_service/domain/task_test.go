package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvisioningTask(t *testing.T) {
	numberID := uuid.New()
	task := NewProvisioningTask(uuid.New(), numberID, ActionProvision, PriorityNormal, nil)

	assert.Equal(t, numberID, task.NumberID)
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.Equal(t, PriorityNormal, task.Priority)
	assert.False(t, task.ClaimedAt.Valid)
}

func TestProvisioningTask_ForwardingMetadata(t *testing.T) {
	t.Run("NoMetadata", func(t *testing.T) {
		task := NewProvisioningTask(uuid.New(), uuid.New(), ActionProvision, PriorityNormal, nil)
		_, ok, err := task.ForwardingMetadata()
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ValidMetadata", func(t *testing.T) {
		raw, err := json.Marshal(ForwardingConfig{Type: ForwardingSMS, Destination: "+15551112222", SMSEnabled: true})
		require.NoError(t, err)

		task := NewProvisioningTask(uuid.New(), uuid.New(), ActionUpdate, PriorityNormal, raw)
		cfg, ok, err := task.ForwardingMetadata()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, ForwardingSMS, cfg.Type)
		assert.Equal(t, "+15551112222", cfg.Destination)
		assert.True(t, cfg.SMSEnabled)
	})

	t.Run("MalformedMetadata", func(t *testing.T) {
		task := NewProvisioningTask(uuid.New(), uuid.New(), ActionUpdate, PriorityNormal, json.RawMessage(`{not json`))
		_, _, err := task.ForwardingMetadata()
		assert.Error(t, err)
	})
}

func TestTaskAction_Valid(t *testing.T) {
	assert.True(t, ActionProvision.Valid())
	assert.True(t, ActionCancel.Valid())
	assert.False(t, TaskAction("reboot").Valid())
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	assert.True(t, TaskStatusCompleted.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
	assert.False(t, TaskStatusPending.IsTerminal())
	assert.False(t, TaskStatusProcessing.IsTerminal())
}
