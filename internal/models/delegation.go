package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// AuthorityDelegation temporarily hands a user's approval authority to
// another user, scoped by time window, workflow types and amount ceiling
type AuthorityDelegation struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	DelegatorID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"delegatorId"`
	DelegateID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"delegateId"`
	WorkflowTypes pq.StringArray `gorm:"type:text[];not null" json:"workflowTypes"`
	MaxAmount     *float64       `gorm:"type:numeric(18,2)" json:"maxAmount,omitempty"`
	ValidFrom     time.Time      `gorm:"not null" json:"validFrom"`
	ValidUntil    time.Time      `gorm:"not null" json:"validUntil"`
	Reason        string         `gorm:"type:text" json:"reason,omitempty"`
	IsActive      bool           `gorm:"not null;default:true;index" json:"isActive"`
	RevokedAt     *time.Time     `json:"revokedAt,omitempty"`
	RevokedBy     *uuid.UUID     `gorm:"type:uuid" json:"revokedBy,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// TableName returns the table name for AuthorityDelegation
func (AuthorityDelegation) TableName() string {
	return "authority_delegations"
}

// InWindow reports whether at falls inside [ValidFrom, ValidUntil]
func (d *AuthorityDelegation) InWindow(at time.Time) bool {
	return !at.Before(d.ValidFrom) && !at.After(d.ValidUntil)
}

// CoversType reports whether the delegation includes workflowType
func (d *AuthorityDelegation) CoversType(workflowType string) bool {
	for _, t := range d.WorkflowTypes {
		if t == workflowType {
			return true
		}
	}
	return false
}

// CoversAmount reports whether amount is within the delegation ceiling
func (d *AuthorityDelegation) CoversAmount(amount float64) bool {
	return d.MaxAmount == nil || amount <= *d.MaxAmount
}

// Applies reports whether the delegation transfers authority for a
// workflow of the given type and amount at the given time
func (d *AuthorityDelegation) Applies(workflowType string, amount float64, at time.Time) bool {
	return d.IsActive && d.InWindow(at) && d.CoversType(workflowType) && d.CoversAmount(amount)
}

// Overlaps reports whether two delegations share part of their window and
// at least one workflow type
func (d *AuthorityDelegation) Overlaps(other *AuthorityDelegation) bool {
	if d.ValidFrom.After(other.ValidUntil) || other.ValidFrom.After(d.ValidUntil) {
		return false
	}
	for _, t := range other.WorkflowTypes {
		if d.CoversType(t) {
			return true
		}
	}
	return false
}

// DelegationStatus constants
const (
	DelegationStatusActive    = "active"
	DelegationStatusExpired   = "expired"
	DelegationStatusRevoked   = "revoked"
	DelegationStatusScheduled = "scheduled"
)

// StatusAt returns the status of the delegation at the given time
func (d *AuthorityDelegation) StatusAt(at time.Time) string {
	if !d.IsActive || d.RevokedAt != nil {
		return DelegationStatusRevoked
	}
	if at.Before(d.ValidFrom) {
		return DelegationStatusScheduled
	}
	if at.After(d.ValidUntil) {
		return DelegationStatusExpired
	}
	return DelegationStatusActive
}
