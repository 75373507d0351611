package models

import (
	"time"

	"github.com/google/uuid"
)

// EscalationRecord is the append-only ledger of reminders and escalations.
// The unique key makes each (workflow, type, threshold) fire at most once.
type EscalationRecord struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowID       uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_escalation_key" json:"workflowId"`
	EscalationType   string     `gorm:"type:varchar(30);not null;uniqueIndex:idx_escalation_key" json:"escalationType"`
	TriggerHours     int        `gorm:"not null;uniqueIndex:idx_escalation_key" json:"triggerHours"`
	TargetUserID     uuid.UUID  `gorm:"type:uuid;not null" json:"targetUserId"`
	PreviousApprover *uuid.UUID `gorm:"type:uuid" json:"previousApprover,omitempty"`
	Message          string     `gorm:"type:text" json:"message"`
	IsProcessed      bool       `gorm:"not null;default:false" json:"isProcessed"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// TableName returns the table name for EscalationRecord
func (EscalationRecord) TableName() string {
	return "escalation_records"
}

// Escalation type constants
const (
	EscalationTypeReminder        = "reminder"
	EscalationTypeEscalation      = "escalation"
	EscalationTypeFinalEscalation = "final_escalation"
)
