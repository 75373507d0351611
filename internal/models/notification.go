package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WorkflowNotification is a message for a user about a workflow. External
// delivery (email, push) polls these rows or consumes the published event.
type WorkflowNotification struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"workflowId"`
	RecipientID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"recipientId"`
	NotificationType string         `gorm:"type:varchar(50);not null" json:"notificationType"`
	Message          string         `gorm:"type:text;not null" json:"message"`
	Priority         string         `gorm:"type:varchar(20);not null;default:'normal'" json:"priority"`
	Metadata         datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	ReadAt           *time.Time     `json:"readAt,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// TableName returns the table name for WorkflowNotification
func (WorkflowNotification) TableName() string {
	return "workflow_notifications"
}

// Notification type constants
const (
	NotificationWorkflowCreated   = "workflow_created"
	NotificationApprovalRequired  = "approval_required"
	NotificationStepApproved      = "step_approved"
	NotificationWorkflowApproved  = "workflow_approved"
	NotificationWorkflowRejected  = "workflow_rejected"
	NotificationApprovalReversed  = "approval_reversed"
	NotificationWorkflowCancelled = "workflow_cancelled"
	NotificationReminder          = "reminder"
	NotificationEscalation        = "escalation"
	NotificationFinalEscalation   = "final_escalation"
)

// WorkflowHistory is an audit trail entry for a workflow
type WorkflowHistory struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowID uuid.UUID      `gorm:"type:uuid;not null;index" json:"workflowId"`
	StepID     *uuid.UUID     `gorm:"type:uuid" json:"stepId,omitempty"`
	EventType  string         `gorm:"type:varchar(50);not null;index" json:"eventType"`
	ActorID    *uuid.UUID     `gorm:"type:uuid" json:"actorId,omitempty"`
	FromStatus string         `gorm:"type:varchar(30)" json:"fromStatus,omitempty"`
	ToStatus   string         `gorm:"type:varchar(30)" json:"toStatus,omitempty"`
	Comments   string         `gorm:"type:text" json:"comments,omitempty"`
	Metadata   datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// TableName returns the table name for WorkflowHistory
func (WorkflowHistory) TableName() string {
	return "workflow_history"
}

// History event type constants
const (
	HistoryCreated         = "created"
	HistoryAutoApproved    = "auto_approved"
	HistoryApproved        = "approved"
	HistoryRejected        = "rejected"
	HistoryReversed        = "reversed"
	HistoryCancelled       = "cancelled"
	HistoryReminder        = "reminder"
	HistoryEscalated       = "escalated"
	HistoryFinalEscalation = "final_escalation"
)
