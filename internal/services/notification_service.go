package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"authorization-service/internal/clock"
	"authorization-service/internal/models"
	"authorization-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// EventPublisher delivers committed notifications and workflow events to the
// message bus
type EventPublisher interface {
	PublishNotification(ctx context.Context, n *models.WorkflowNotification) error
	PublishWorkflowEvent(ctx context.Context, eventType string, w *models.Workflow, actorID *uuid.UUID) error
}

// UserDirectory looks up users and their roles
type UserDirectory interface {
	GetUsersByRole(ctx context.Context, roles []models.Role) ([]models.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// NewNotification builds a notification row
func NewNotification(workflowID, recipientID uuid.UUID, notificationType, priority, message string, metadata map[string]interface{}, at time.Time) *models.WorkflowNotification {
	n := &models.WorkflowNotification{
		ID:               uuid.New(),
		WorkflowID:       workflowID,
		RecipientID:      recipientID,
		NotificationType: notificationType,
		Message:          message,
		Priority:         priority,
		CreatedAt:        at,
	}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			n.Metadata = datatypes.JSON(raw)
		}
	}
	return n
}

// NewHistory builds a workflow history entry
func NewHistory(workflowID uuid.UUID, stepID, actorID *uuid.UUID, eventType, fromStatus, toStatus, comments string, metadata map[string]interface{}, at time.Time) *models.WorkflowHistory {
	h := &models.WorkflowHistory{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		StepID:     stepID,
		EventType:  eventType,
		ActorID:    actorID,
		FromStatus: fromStatus,
		ToStatus:   toStatus,
		Comments:   comments,
		CreatedAt:  at,
	}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			h.Metadata = datatypes.JSON(raw)
		}
	}
	return h
}

type pendingEvent struct {
	eventType string
	workflow  models.Workflow
	actorID   *uuid.UUID
}

// Outbox collects notifications and events written inside a transaction so
// they are only published once it commits
type Outbox struct {
	notifications []*models.WorkflowNotification
	events        []pendingEvent
}

// Notify stores n through repo and queues it for publishing
func (o *Outbox) Notify(ctx context.Context, repo repository.WorkflowRepositoryInterface, n *models.WorkflowNotification) error {
	if err := repo.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	o.notifications = append(o.notifications, n)
	return nil
}

// Event queues a workflow lifecycle event
func (o *Outbox) Event(eventType string, w *models.Workflow, actorID *uuid.UUID) {
	snapshot := *w
	snapshot.Steps = nil
	o.events = append(o.events, pendingEvent{eventType: eventType, workflow: snapshot, actorID: actorID})
}

// Notifications returns the queued notifications
func (o *Outbox) Notifications() []*models.WorkflowNotification {
	return o.notifications
}

// Flush publishes everything queued. Failures are logged; the rows are
// already committed and can be polled.
func (o *Outbox) Flush(ctx context.Context, publisher EventPublisher, logger *logrus.Entry) {
	if publisher == nil {
		return
	}
	for _, n := range o.notifications {
		if err := publisher.PublishNotification(ctx, n); err != nil {
			logger.WithError(err).WithField("notification_id", n.ID).Warn("failed to publish notification")
		}
	}
	for i := range o.events {
		e := &o.events[i]
		if err := publisher.PublishWorkflowEvent(ctx, e.eventType, &e.workflow, e.actorID); err != nil {
			logger.WithError(err).WithField("workflow_id", e.workflow.ID).Warn("failed to publish workflow event")
		}
	}
}

// NotificationService serves a user's notification inbox
type NotificationService struct {
	repo  repository.WorkflowRepositoryInterface
	clock clock.Clock
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(repo repository.WorkflowRepositoryInterface, clk clock.Clock) *NotificationService {
	return &NotificationService{repo: repo, clock: clk}
}

// ListNotifications lists the notifications addressed to userID
func (s *NotificationService) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]models.WorkflowNotification, int64, error) {
	return s.repo.ListNotifications(ctx, userID, unreadOnly, limit, offset)
}

// MarkRead marks one of userID's notifications as read
func (s *NotificationService) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	if err := s.repo.MarkNotificationRead(ctx, id, userID, s.clock.Now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotificationNotFound
		}
		return err
	}
	return nil
}
