package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthorizationMatrixRule maps a workflow type and amount range to a required
// approval level. A nil bound is unbounded on that side.
type AuthorizationMatrixRule struct {
	ID                 uuid.UUID     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowType       string        `gorm:"type:varchar(50);not null;index" json:"workflowType"`
	MinAmount          *float64      `gorm:"type:numeric(18,2)" json:"minAmount,omitempty"`
	MaxAmount          *float64      `gorm:"type:numeric(18,2)" json:"maxAmount,omitempty"`
	RequiredLevel      ApprovalLevel `gorm:"not null" json:"requiredLevel"`
	EscalationHours    int           `gorm:"not null;default:0" json:"escalationHours"`
	RequiresSequential bool          `gorm:"not null;default:true" json:"requiresSequential"`
	IsActive           bool          `gorm:"not null;default:true;index" json:"isActive"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// TableName returns the table name for AuthorizationMatrixRule
func (AuthorizationMatrixRule) TableName() string {
	return "authorization_matrix_rules"
}

// Matches reports whether the rule applies to workflowType and amount
func (r *AuthorizationMatrixRule) Matches(workflowType string, amount float64) bool {
	if !r.IsActive || r.WorkflowType != workflowType {
		return false
	}
	if r.MinAmount != nil && amount < *r.MinAmount {
		return false
	}
	if r.MaxAmount != nil && amount > *r.MaxAmount {
		return false
	}
	return true
}
