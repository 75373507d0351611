package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"authorization-service/internal/models"
	"authorization-service/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewNotification_Metadata(t *testing.T) {
	n := NewNotification(uuid.New(), uuid.New(), models.NotificationReminder, models.PriorityNormal, "waiting",
		map[string]interface{}{"trigger_hours": 6}, engineStart)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(n.Metadata, &meta))
	assert.Equal(t, float64(6), meta["trigger_hours"])
	assert.Equal(t, engineStart, n.CreatedAt)

	bare := NewNotification(uuid.New(), uuid.New(), models.NotificationReminder, models.PriorityNormal, "waiting", nil, engineStart)
	assert.Nil(t, bare.Metadata)
}

func TestOutbox_FlushSkipsNilPublisher(t *testing.T) {
	f := newEngineFixture(t, engineStart, ZeroRuleAutoApprove)
	outbox := &Outbox{}
	n := NewNotification(uuid.New(), uuid.New(), models.NotificationReminder, models.PriorityNormal, "waiting", nil, engineStart)
	require.NoError(t, outbox.Notify(context.Background(), f.repo, n))
	assert.Len(t, outbox.Notifications(), 1)

	outbox.Flush(context.Background(), nil, testLogger())
}

func TestOutbox_FlushContinuesAfterFailure(t *testing.T) {
	f := newEngineFixture(t, engineStart, ZeroRuleAutoApprove)
	publisher := new(MockEventPublisher)
	publisher.On("PublishNotification", mock.Anything, mock.Anything).Return(errors.New("timeout")).Twice()
	publisher.On("PublishWorkflowEvent", mock.Anything, "workflow.created", mock.Anything, mock.Anything).Return(nil).Once()

	outbox := &Outbox{}
	for i := 0; i < 2; i++ {
		n := NewNotification(uuid.New(), uuid.New(), models.NotificationReminder, models.PriorityNormal, "waiting", nil, engineStart)
		require.NoError(t, outbox.Notify(context.Background(), f.repo, n))
	}
	outbox.Event("workflow.created", &models.Workflow{ID: uuid.New(), Steps: []models.WorkflowStep{{}}}, nil)

	outbox.Flush(context.Background(), publisher, testLogger())
	publisher.AssertExpectations(t)
}

func TestOutbox_NotifyWrapsStoreError(t *testing.T) {
	f := newEngineFixture(t, engineStart, ZeroRuleAutoApprove)
	f.repo.FailOn("CreateNotification", errors.New("constraint violation"))

	outbox := &Outbox{}
	err := outbox.Notify(context.Background(), f.repo, NewNotification(uuid.New(), uuid.New(), models.NotificationReminder, models.PriorityNormal, "x", nil, engineStart))
	require.Error(t, err)
	assert.Empty(t, outbox.Notifications())
}

func TestNotificationService_Inbox(t *testing.T) {
	f := newEngineFixture(t, engineStart, ZeroRuleAutoApprove)
	svc := NewNotificationService(f.repo, f.clock)
	ctx := context.Background()
	user := uuid.New()

	var first *models.WorkflowNotification
	for i := 0; i < 3; i++ {
		n := NewNotification(uuid.New(), user, models.NotificationApprovalRequired, models.PriorityNormal, fmt.Sprintf("n%d", i), nil, engineStart)
		require.NoError(t, f.repo.CreateNotification(ctx, n))
		if first == nil {
			first = n
		}
	}

	require.NoError(t, svc.MarkRead(ctx, first.ID, user))
	assert.ErrorIs(t, svc.MarkRead(ctx, first.ID, uuid.New()), ErrNotificationNotFound)

	unread, total, err := svc.ListNotifications(ctx, user, true, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, unread, 2)

	all, total, err := svc.ListNotifications(ctx, user, false, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, all, 2)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{invalid("title", "is required"), KindValidation},
		{ErrNoMatchingRules, KindValidation},
		{ErrWorkflowNotFound, KindNotFound},
		{fmt.Errorf("load: %w", repository.ErrNotFound), KindNotFound},
		{ErrStepAlreadyDecided, KindConflict},
		{ErrOverlappingDelegation, KindConflict},
		{fmt.Errorf("update: %w", repository.ErrConflict), KindConflict},
		{ErrSelfApproval, KindForbidden},
		{ErrNotDelegator, KindForbidden},
		{errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorKind(tt.err))
		})
	}
}
