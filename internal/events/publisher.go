// Package events publishes workflow lifecycle and notification events to
// NATS JetStream for downstream delivery (email, push, dashboards).
package events

import (
	"context"
	"encoding/json"
	"time"

	"authorization-service/internal/models"
	"github.com/Tesseract-Nexus/go-shared/events"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// StreamName is the JetStream stream carrying every workflow subject
const StreamName = "AUTHORIZATION_WORKFLOWS"

// Event subjects
const (
	NotificationCreated    = "workflow.notification.created"
	WorkflowCreated        = "workflow.created"
	WorkflowStepApproved   = "workflow.step_approved"
	WorkflowApproved       = "workflow.approved"
	WorkflowRejected       = "workflow.rejected"
	WorkflowReversed       = "workflow.reversed"
	WorkflowCancelled      = "workflow.cancelled"
	WorkflowEscalated      = "workflow.escalated"
	WorkflowFinalEscalated = "workflow.final_escalated"
)

// WorkflowEvent is the payload of workflow lifecycle subjects
type WorkflowEvent struct {
	events.BaseEvent
	WorkflowID      string     `json:"workflowId"`
	WorkflowType    string     `json:"workflowType"`
	Title           string     `json:"title"`
	Amount          float64    `json:"amount"`
	Status          string     `json:"status"`
	RequestedBy     string     `json:"requestedBy"`
	CurrentApprover string     `json:"currentApprover,omitempty"`
	ActorID         string     `json:"actorId,omitempty"`
	ProjectID       string     `json:"projectId,omitempty"`
	DueDate         *time.Time `json:"dueDate,omitempty"`
}

func (e *WorkflowEvent) GetSubject() string {
	return e.EventType
}

func (e *WorkflowEvent) GetStream() string {
	return StreamName
}

// NotificationEvent is the payload of workflow.notification.created
type NotificationEvent struct {
	events.BaseEvent
	NotificationID   string          `json:"notificationId"`
	WorkflowID       string          `json:"workflowId"`
	RecipientID      string          `json:"recipientId"`
	NotificationType string          `json:"notificationType"`
	Priority         string          `json:"priority"`
	Message          string          `json:"message"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

func (e *NotificationEvent) GetSubject() string {
	return NotificationCreated
}

func (e *NotificationEvent) GetStream() string {
	return StreamName
}

// Publisher wraps the shared events publisher for workflow events. A nil
// *Publisher is a valid no-op publisher.
type Publisher struct {
	publisher *events.Publisher
	logger    *logrus.Entry
}

// Connect opens the shared publisher, ensures the workflow stream exists and
// returns a Publisher
func Connect(ctx context.Context, url string, logger *logrus.Logger) (*Publisher, error) {
	config := events.DefaultPublisherConfig(url)
	config.Name = "authorization-service"

	publisher, err := events.NewPublisher(config, logger)
	if err != nil {
		return nil, err
	}

	if err := publisher.EnsureStream(ctx, StreamName, []string{"workflow.>"}); err != nil {
		logger.WithError(err).Warnf("Failed to ensure %s stream", StreamName)
	}

	return &Publisher{
		publisher: publisher,
		logger:    logger.WithField("component", "workflow-events"),
	}, nil
}

// Close closes the NATS connection
func (p *Publisher) Close() {
	if p == nil || p.publisher == nil {
		return
	}
	p.publisher.Close()
}

// IsConnected returns true if connected to NATS
func (p *Publisher) IsConnected() bool {
	return p != nil && p.publisher != nil && p.publisher.IsConnected()
}

// PublishNotification publishes a stored notification
func (p *Publisher) PublishNotification(ctx context.Context, n *models.WorkflowNotification) error {
	if p == nil || p.publisher == nil {
		return nil
	}
	event := NewNotificationEvent(n)
	return p.logResult(event.GetSubject(), p.publisher.Publish(ctx, event))
}

// PublishWorkflowEvent publishes a workflow lifecycle event
func (p *Publisher) PublishWorkflowEvent(ctx context.Context, eventType string, w *models.Workflow, actorID *uuid.UUID) error {
	if p == nil || p.publisher == nil {
		return nil
	}
	event := NewWorkflowEvent(eventType, w, actorID)
	return p.logResult(event.GetSubject(), p.publisher.Publish(ctx, event))
}

// NewNotificationEvent builds the payload for a stored notification. The
// notification id doubles as the deduplication source id.
func NewNotificationEvent(n *models.WorkflowNotification) *NotificationEvent {
	event := &NotificationEvent{
		BaseEvent: events.BaseEvent{
			EventType: NotificationCreated,
			SourceID:  n.ID.String(),
			Timestamp: time.Now().UTC(),
		},
		NotificationID:   n.ID.String(),
		WorkflowID:       n.WorkflowID.String(),
		RecipientID:      n.RecipientID.String(),
		NotificationType: n.NotificationType,
		Priority:         n.Priority,
		Message:          n.Message,
	}
	if len(n.Metadata) > 0 {
		event.Metadata = json.RawMessage(n.Metadata)
	}
	return event
}

// NewWorkflowEvent builds the payload for a workflow lifecycle subject
func NewWorkflowEvent(eventType string, w *models.Workflow, actorID *uuid.UUID) *WorkflowEvent {
	event := &WorkflowEvent{
		BaseEvent: events.BaseEvent{
			EventType: eventType,
			SourceID:  uuid.New().String(),
			Timestamp: time.Now().UTC(),
		},
		WorkflowID:   w.ID.String(),
		WorkflowType: w.WorkflowType,
		Title:        w.Title,
		Amount:       w.Amount,
		Status:       w.Status,
		RequestedBy:  w.RequestedBy.String(),
		DueDate:      w.DueDate,
	}
	if w.CurrentApprover != nil {
		event.CurrentApprover = w.CurrentApprover.String()
	}
	if w.ProjectID != nil {
		event.ProjectID = w.ProjectID.String()
	}
	if actorID != nil {
		event.ActorID = actorID.String()
	}
	return event
}

func (p *Publisher) logResult(subject string, err error) error {
	if err != nil {
		p.logger.WithError(err).WithField("subject", subject).Error("Failed to publish workflow event")
		return err
	}
	p.logger.WithField("subject", subject).Debug("event published")
	return nil
}
