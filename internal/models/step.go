package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStep is one required approval level within a workflow
type WorkflowStep struct {
	ID                 uuid.UUID     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowID         uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:idx_step_order" json:"workflowId"`
	StepOrder          int           `gorm:"not null;uniqueIndex:idx_step_order" json:"stepOrder"`
	ApproverLevel      ApprovalLevel `gorm:"not null" json:"approverLevel"`
	AssignedApproverID *uuid.UUID    `gorm:"type:uuid;index" json:"assignedApproverId,omitempty"`
	IsRequired         bool          `gorm:"not null;default:true" json:"isRequired"`
	Status             string        `gorm:"type:varchar(20);not null;default:'pendiente';index" json:"status"`
	RuleID             *uuid.UUID    `gorm:"type:uuid" json:"ruleId,omitempty"`

	DecidedBy *uuid.UUID `gorm:"type:uuid" json:"decidedBy,omitempty"`
	DecidedAt *time.Time `json:"decidedAt,omitempty"`
	Comments  string     `gorm:"type:text" json:"comments,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName returns the table name for WorkflowStep
func (WorkflowStep) TableName() string {
	return "workflow_steps"
}

// Step status constants
const (
	StepPending  = "pendiente"
	StepApproved = "approved"
	StepRejected = "rejected"
)

// Decision constants
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// ActiveStep returns the pending step with the smallest step order, or nil
// when no step is pending. Actionability is always derived from the step
// collection rather than stored.
func ActiveStep(steps []WorkflowStep) *WorkflowStep {
	var active *WorkflowStep
	for i := range steps {
		s := &steps[i]
		if s.Status != StepPending {
			continue
		}
		if active == nil || s.StepOrder < active.StepOrder {
			active = s
		}
	}
	return active
}

// LastStepOrder returns the highest step order in steps
func LastStepOrder(steps []WorkflowStep) int {
	max := 0
	for _, s := range steps {
		if s.StepOrder > max {
			max = s.StepOrder
		}
	}
	return max
}

// HasApprovedAfter reports whether any step ordered after order is approved
func HasApprovedAfter(steps []WorkflowStep, order int) bool {
	for _, s := range steps {
		if s.StepOrder > order && s.Status == StepApproved {
			return true
		}
	}
	return false
}

// CountApproved returns the number of approved steps
func CountApproved(steps []WorkflowStep) int {
	n := 0
	for _, s := range steps {
		if s.Status == StepApproved {
			n++
		}
	}
	return n
}
