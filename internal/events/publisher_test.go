package events

import (
	"context"
	"encoding/json"
	"testing"

	"authorization-service/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestNewWorkflowEvent(t *testing.T) {
	approver, actor, project := uuid.New(), uuid.New(), uuid.New()
	w := &models.Workflow{
		ID:              uuid.New(),
		ProjectID:       &project,
		WorkflowType:    models.WorkflowTypePago,
		Title:           "Supplier payment",
		Amount:          12500,
		Status:          models.StatusEscalado,
		RequestedBy:     uuid.New(),
		CurrentApprover: &approver,
	}

	event := NewWorkflowEvent(WorkflowEscalated, w, &actor)
	assert.Equal(t, WorkflowEscalated, event.GetSubject())
	assert.Equal(t, StreamName, event.GetStream())
	assert.NotEmpty(t, event.SourceID)
	assert.Equal(t, w.ID.String(), event.WorkflowID)
	assert.Equal(t, approver.String(), event.CurrentApprover)
	assert.Equal(t, actor.String(), event.ActorID)
	assert.Equal(t, project.String(), event.ProjectID)

	unassigned := NewWorkflowEvent(WorkflowCreated, &models.Workflow{ID: uuid.New(), RequestedBy: uuid.New()}, nil)
	assert.Empty(t, unassigned.CurrentApprover)
	assert.Empty(t, unassigned.ActorID)
	assert.Empty(t, unassigned.ProjectID)
}

func TestNewNotificationEvent(t *testing.T) {
	n := &models.WorkflowNotification{
		ID:               uuid.New(),
		WorkflowID:       uuid.New(),
		RecipientID:      uuid.New(),
		NotificationType: models.NotificationFinalEscalation,
		Priority:         models.PriorityCritical,
		Message:          "CRITICAL",
		Metadata:         datatypes.JSON(`{"trigger_hours":96}`),
	}

	event := NewNotificationEvent(n)
	assert.Equal(t, NotificationCreated, event.GetSubject())
	assert.Equal(t, StreamName, event.GetStream())
	assert.Equal(t, n.ID.String(), event.SourceID)

	payload, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"trigger_hours":96`)

	n.Metadata = nil
	assert.Nil(t, NewNotificationEvent(n).Metadata)
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	ctx := context.Background()

	assert.NoError(t, p.PublishNotification(ctx, &models.WorkflowNotification{ID: uuid.New()}))
	assert.NoError(t, p.PublishWorkflowEvent(ctx, WorkflowCreated, &models.Workflow{ID: uuid.New()}, nil))
	assert.False(t, p.IsConnected())
	assert.NotPanics(t, p.Close)
}
