package models

import (
	"time"

	"github.com/google/uuid"
)

// Workflow is a single authorization request moving through ordered approval steps
type Workflow struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ProjectID       *uuid.UUID `gorm:"type:uuid;index" json:"projectId,omitempty"`
	WorkflowType    string     `gorm:"type:varchar(50);not null;index" json:"workflowType"`
	Title           string     `gorm:"type:varchar(255);not null" json:"title"`
	Description     string     `gorm:"type:text" json:"description,omitempty"`
	Amount          float64    `gorm:"type:numeric(18,2);not null;default:0" json:"amount"`
	RequestedBy     uuid.UUID  `gorm:"type:uuid;not null;index" json:"requestedBy"`
	CurrentApprover *uuid.UUID `gorm:"type:uuid;index" json:"currentApprover,omitempty"`
	Status          string     `gorm:"type:varchar(30);not null;default:'pendiente';index" json:"status"`
	Priority        string     `gorm:"type:varchar(20);not null;default:'normal'" json:"priority"`
	DueDate         *time.Time `json:"dueDate,omitempty"`

	ApprovedAt       *time.Time `json:"approvedAt,omitempty"`
	RejectedAt       *time.Time `json:"rejectedAt,omitempty"`
	RejectionReason  string     `gorm:"type:text" json:"rejectionReason,omitempty"`
	CancelledAt      *time.Time `json:"cancelledAt,omitempty"`
	EscalatedAt      *time.Time `json:"escalatedAt,omitempty"`
	FinalEscalatedAt *time.Time `json:"finalEscalatedAt,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`

	Steps []WorkflowStep `gorm:"foreignKey:WorkflowID" json:"steps,omitempty"`
}

// TableName returns the table name for Workflow
func (Workflow) TableName() string {
	return "workflows"
}

// Workflow status constants
const (
	StatusPendiente           = "pendiente"
	StatusEnRevision          = "en_revision"
	StatusAprobado            = "aprobado"
	StatusRechazado           = "rechazado"
	StatusCancelado           = "cancelado"
	StatusEscalado            = "escalado"
	StatusEscalamientoCritico = "escalamiento_critico"
)

// OpenStatuses are the statuses a workflow can still be decided from
var OpenStatuses = []string{StatusPendiente, StatusEnRevision, StatusEscalado, StatusEscalamientoCritico}

// Priority constants
const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ValidPriority reports whether p is a known priority
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Workflow type constants
const (
	WorkflowTypePago              = "pago"
	WorkflowTypeLiberacionCredito = "liberacion_credito"
	WorkflowTypePresupuesto       = "presupuesto"
	WorkflowTypePermiso           = "permiso"
	WorkflowTypeLlamadaCapital    = "llamada_capital"
	WorkflowTypeVentaComercial    = "venta_comercial"
	WorkflowTypeContrato          = "contrato"
)

// WorkflowTypes lists every supported workflow type
var WorkflowTypes = []string{
	WorkflowTypePago,
	WorkflowTypeLiberacionCredito,
	WorkflowTypePresupuesto,
	WorkflowTypePermiso,
	WorkflowTypeLlamadaCapital,
	WorkflowTypeVentaComercial,
	WorkflowTypeContrato,
}

// ValidWorkflowType reports whether t is a supported workflow type
func ValidWorkflowType(t string) bool {
	for _, known := range WorkflowTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsTerminalStatus returns true if the status is a terminal state
func IsTerminalStatus(status string) bool {
	return status == StatusAprobado ||
		status == StatusRechazado ||
		status == StatusCancelado
}

// IsTerminal returns true if the workflow can no longer change
func (w *Workflow) IsTerminal() bool {
	return IsTerminalStatus(w.Status)
}
