package models

import (
	"time"

	"github.com/lib/pq"
)

// EscalationPolicy holds the timing rules of the escalation ladder for one
// workflow type. All values are hours since the workflow was created.
type EscalationPolicy struct {
	WorkflowType         string        `gorm:"type:varchar(50);primaryKey" json:"workflowType"`
	ReminderHours        pq.Int64Array `gorm:"type:bigint[]" json:"reminderHours"`
	EscalationHours      int           `gorm:"not null" json:"escalationHours"`
	FinalEscalationHours int           `gorm:"not null" json:"finalEscalationHours"`
	MaxAttempts          int           `gorm:"not null;default:3" json:"maxAttempts"`
	IsActive             bool          `gorm:"not null;default:true" json:"isActive"`
	UpdatedAt            time.Time     `json:"updatedAt"`
}

// TableName returns the table name for EscalationPolicy
func (EscalationPolicy) TableName() string {
	return "escalation_policies"
}

// DefaultEscalationPolicies are the built-in ladders used when no policy
// row exists for a workflow type
var DefaultEscalationPolicies = map[string]EscalationPolicy{
	WorkflowTypePago: {
		WorkflowType: WorkflowTypePago, ReminderHours: pq.Int64Array{24, 48, 72},
		EscalationHours: 96, FinalEscalationHours: 168, MaxAttempts: 3, IsActive: true,
	},
	WorkflowTypeLiberacionCredito: {
		WorkflowType: WorkflowTypeLiberacionCredito, ReminderHours: pq.Int64Array{6, 12, 24},
		EscalationHours: 48, FinalEscalationHours: 96, MaxAttempts: 3, IsActive: true,
	},
	WorkflowTypePresupuesto: {
		WorkflowType: WorkflowTypePresupuesto, ReminderHours: pq.Int64Array{24, 72},
		EscalationHours: 120, FinalEscalationHours: 240, MaxAttempts: 2, IsActive: true,
	},
	WorkflowTypePermiso: {
		WorkflowType: WorkflowTypePermiso, ReminderHours: pq.Int64Array{48, 96},
		EscalationHours: 168, FinalEscalationHours: 336, MaxAttempts: 2, IsActive: true,
	},
	WorkflowTypeLlamadaCapital: {
		WorkflowType: WorkflowTypeLlamadaCapital, ReminderHours: pq.Int64Array{12, 24, 48},
		EscalationHours: 72, FinalEscalationHours: 120, MaxAttempts: 3, IsActive: true,
	},
	WorkflowTypeVentaComercial: {
		WorkflowType: WorkflowTypeVentaComercial, ReminderHours: pq.Int64Array{24, 48},
		EscalationHours: 72, FinalEscalationHours: 144, MaxAttempts: 2, IsActive: true,
	},
	WorkflowTypeContrato: {
		WorkflowType: WorkflowTypeContrato, ReminderHours: pq.Int64Array{24, 72},
		EscalationHours: 120, FinalEscalationHours: 240, MaxAttempts: 2, IsActive: true,
	},
}

// Reminders returns the reminder thresholds as ints
func (p *EscalationPolicy) Reminders() []int {
	out := make([]int, len(p.ReminderHours))
	for i, h := range p.ReminderHours {
		out[i] = int(h)
	}
	return out
}
