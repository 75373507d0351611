package repository

import (
	"context"
	"errors"
	"time"

	"authorization-service/internal/models"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict - record was modified by another request")
)

// WorkflowFilter narrows ListWorkflows
type WorkflowFilter struct {
	Status       string
	WorkflowType string
	RequestedBy  *uuid.UUID
	ProjectID    *uuid.UUID
	Limit        int
	Offset       int
}

// WorkflowUpdate is the set of workflow fields a state transition writes
type WorkflowUpdate struct {
	Status           string
	CurrentApprover  *uuid.UUID
	ApprovedAt       *time.Time
	RejectedAt       *time.Time
	RejectionReason  string
	CancelledAt      *time.Time
	EscalatedAt      *time.Time
	FinalEscalatedAt *time.Time
	UpdatedAt        time.Time
}

// StepDecision records the outcome of a single step
type StepDecision struct {
	Status    string
	DecidedBy uuid.UUID
	DecidedAt time.Time
	Comments  string
}

// EscalationFilter narrows ListEscalationRecords
type EscalationFilter struct {
	WorkflowID     *uuid.UUID
	EscalationType string
	Since          *time.Time
	Limit          int
}

// WorkflowRepositoryInterface is the workflow and step store used by the
// services and the escalation job
type WorkflowRepositoryInterface interface {
	// Workflows
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]models.Workflow, int64, error)
	ListOpenWorkflows(ctx context.Context) ([]models.Workflow, error)
	ListOpenWorkflowsForApprovers(ctx context.Context, approverIDs []uuid.UUID) ([]models.Workflow, error)
	UpdateWorkflowState(ctx context.Context, id uuid.UUID, fromStatus string, update WorkflowUpdate) error

	// Steps
	CreateSteps(ctx context.Context, steps []models.WorkflowStep) error
	GetStepByID(ctx context.Context, id uuid.UUID) (*models.WorkflowStep, error)
	DecideStep(ctx context.Context, id uuid.UUID, decision StepDecision) error
	ReopenStep(ctx context.Context, id uuid.UUID, decidedBy uuid.UUID, at time.Time) error

	// Matrix rules
	ListMatrixRules(ctx context.Context, workflowType string, activeOnly bool) ([]models.AuthorizationMatrixRule, error)
	GetMatrixRuleByID(ctx context.Context, id uuid.UUID) (*models.AuthorizationMatrixRule, error)
	CreateMatrixRule(ctx context.Context, rule *models.AuthorizationMatrixRule) error
	DeactivateMatrixRule(ctx context.Context, id uuid.UUID, at time.Time) error

	// Delegations
	CreateDelegation(ctx context.Context, delegation *models.AuthorityDelegation) error
	GetDelegationByID(ctx context.Context, id uuid.UUID) (*models.AuthorityDelegation, error)
	ListDelegationsByDelegator(ctx context.Context, delegatorID uuid.UUID) ([]models.AuthorityDelegation, error)
	ListDelegationsByDelegate(ctx context.Context, delegateID uuid.UUID) ([]models.AuthorityDelegation, error)
	FindActiveDelegations(ctx context.Context, delegatorID uuid.UUID, at time.Time) ([]models.AuthorityDelegation, error)
	FindActiveDelegationsForDelegate(ctx context.Context, delegateID uuid.UUID, at time.Time) ([]models.AuthorityDelegation, error)
	FindOverlappingDelegations(ctx context.Context, delegatorID uuid.UUID, from, until time.Time) ([]models.AuthorityDelegation, error)
	RevokeDelegation(ctx context.Context, id uuid.UUID, revokedBy uuid.UUID, at time.Time) error

	// Escalation
	GetEscalationPolicy(ctx context.Context, workflowType string) (*models.EscalationPolicy, error)
	UpsertEscalationPolicy(ctx context.Context, policy *models.EscalationPolicy) error
	ClaimEscalation(ctx context.Context, record *models.EscalationRecord) (bool, error)
	ListEscalationRecords(ctx context.Context, filter EscalationFilter) ([]models.EscalationRecord, error)

	// Notifications and history
	CreateNotification(ctx context.Context, notification *models.WorkflowNotification) error
	ListNotifications(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit, offset int) ([]models.WorkflowNotification, int64, error)
	MarkNotificationRead(ctx context.Context, id, recipientID uuid.UUID, at time.Time) error
	CreateHistory(ctx context.Context, entry *models.WorkflowHistory) error
	GetWorkflowHistory(ctx context.Context, workflowID uuid.UUID) ([]models.WorkflowHistory, error)

	WithTransaction(ctx context.Context, fn func(txRepo WorkflowRepositoryInterface) error) error
}
