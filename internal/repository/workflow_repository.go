package repository

import (
	"context"
	"errors"
	"time"

	"authorization-service/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorkflowRepository handles database operations for authorization workflows
type WorkflowRepository struct {
	db *gorm.DB
}

// NewWorkflowRepository creates a new WorkflowRepository
func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

var _ WorkflowRepositoryInterface = (*WorkflowRepository)(nil)

// WithTransaction runs fn against a repository bound to a single database
// transaction. Returning an error from fn rolls everything back.
func (r *WorkflowRepository) WithTransaction(ctx context.Context, fn func(txRepo WorkflowRepositoryInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&WorkflowRepository{db: tx})
	})
}

func orderedSteps(db *gorm.DB) *gorm.DB {
	return db.Order("step_order ASC")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --- Workflow Methods ---

// CreateWorkflow inserts a workflow without its steps
func (r *WorkflowRepository) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(workflow).Error
}

// GetWorkflowByID retrieves a workflow with its steps in order
func (r *WorkflowRepository) GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	var workflow models.Workflow
	err := r.db.WithContext(ctx).
		Preload("Steps", orderedSteps).
		Where("id = ?", id).
		First(&workflow).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &workflow, nil
}

// ListWorkflows retrieves workflows matching the filter, newest first
func (r *WorkflowRepository) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]models.Workflow, int64, error) {
	var workflows []models.Workflow
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Workflow{})
	if filter.Status != "" && filter.Status != "all" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.WorkflowType != "" {
		query = query.Where("workflow_type = ?", filter.WorkflowType)
	}
	if filter.RequestedBy != nil {
		query = query.Where("requested_by = ?", *filter.RequestedBy)
	}
	if filter.ProjectID != nil {
		query = query.Where("project_id = ?", *filter.ProjectID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}
	err := query.
		Preload("Steps", orderedSteps).
		Order("created_at DESC").
		Find(&workflows).Error

	return workflows, total, err
}

// ListOpenWorkflows returns every workflow the escalation sweep must look at
func (r *WorkflowRepository) ListOpenWorkflows(ctx context.Context) ([]models.Workflow, error) {
	var workflows []models.Workflow
	err := r.db.WithContext(ctx).
		Preload("Steps", orderedSteps).
		Where("status IN ?", models.OpenStatuses).
		Where("approved_at IS NULL AND rejected_at IS NULL").
		Order("created_at ASC").
		Find(&workflows).Error
	return workflows, err
}

// ListOpenWorkflowsForApprovers returns open workflows where any of the given
// users is the current approver or is assigned a pending step
func (r *WorkflowRepository) ListOpenWorkflowsForApprovers(ctx context.Context, approverIDs []uuid.UUID) ([]models.Workflow, error) {
	var workflows []models.Workflow
	if len(approverIDs) == 0 {
		return workflows, nil
	}

	pendingSteps := r.db.WithContext(ctx).Model(&models.WorkflowStep{}).
		Select("workflow_id").
		Where("status = ? AND assigned_approver_id IN ?", models.StepPending, approverIDs)

	err := r.db.WithContext(ctx).
		Preload("Steps", orderedSteps).
		Where("status IN ?", models.OpenStatuses).
		Where("current_approver IN ? OR id IN (?)", approverIDs, pendingSteps).
		Order("created_at ASC").
		Find(&workflows).Error
	return workflows, err
}

// UpdateWorkflowState applies a status transition only if the workflow is
// still in fromStatus. Returns ErrConflict when another writer got there first.
func (r *WorkflowRepository) UpdateWorkflowState(ctx context.Context, id uuid.UUID, fromStatus string, update WorkflowUpdate) error {
	updates := map[string]interface{}{
		"status":           update.Status,
		"current_approver": update.CurrentApprover,
		"approved_at":      update.ApprovedAt,
		"rejected_at":      update.RejectedAt,
		"rejection_reason": update.RejectionReason,
		"updated_at":       update.UpdatedAt,
	}
	if update.CancelledAt != nil {
		updates["cancelled_at"] = update.CancelledAt
	}
	if update.EscalatedAt != nil {
		updates["escalated_at"] = update.EscalatedAt
	}
	if update.FinalEscalatedAt != nil {
		updates["final_escalated_at"] = update.FinalEscalatedAt
	}

	result := r.db.WithContext(ctx).Model(&models.Workflow{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// --- Step Methods ---

// CreateSteps inserts the steps of a workflow
func (r *WorkflowRepository) CreateSteps(ctx context.Context, steps []models.WorkflowStep) error {
	if len(steps) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&steps).Error
}

// GetStepByID retrieves a single step
func (r *WorkflowRepository) GetStepByID(ctx context.Context, id uuid.UUID) (*models.WorkflowStep, error) {
	var step models.WorkflowStep
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&step).Error; err != nil {
		return nil, notFound(err)
	}
	return &step, nil
}

// DecideStep records a decision on a pending step. The update is
// conditional on the step still being pending, so of two concurrent
// deciders exactly one wins and the other gets ErrConflict.
func (r *WorkflowRepository) DecideStep(ctx context.Context, id uuid.UUID, decision StepDecision) error {
	result := r.db.WithContext(ctx).Model(&models.WorkflowStep{}).
		Where("id = ? AND status = ?", id, models.StepPending).
		Updates(map[string]interface{}{
			"status":     decision.Status,
			"decided_by": decision.DecidedBy,
			"decided_at": decision.DecidedAt,
			"comments":   decision.Comments,
			"updated_at": decision.DecidedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// ReopenStep returns an approved step to pending, clearing its decision
func (r *WorkflowRepository) ReopenStep(ctx context.Context, id uuid.UUID, decidedBy uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.WorkflowStep{}).
		Where("id = ? AND status = ? AND decided_by = ?", id, models.StepApproved, decidedBy).
		Updates(map[string]interface{}{
			"status":     models.StepPending,
			"decided_by": nil,
			"decided_at": nil,
			"comments":   "",
			"updated_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// --- Matrix Methods ---

// ListMatrixRules retrieves matrix rules, optionally for one workflow type
func (r *WorkflowRepository) ListMatrixRules(ctx context.Context, workflowType string, activeOnly bool) ([]models.AuthorizationMatrixRule, error) {
	var rules []models.AuthorizationMatrixRule
	query := r.db.WithContext(ctx)
	if workflowType != "" {
		query = query.Where("workflow_type = ?", workflowType)
	}
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Order("workflow_type ASC, required_level ASC, min_amount ASC NULLS FIRST").Find(&rules).Error
	return rules, err
}

// GetMatrixRuleByID retrieves a matrix rule
func (r *WorkflowRepository) GetMatrixRuleByID(ctx context.Context, id uuid.UUID) (*models.AuthorizationMatrixRule, error) {
	var rule models.AuthorizationMatrixRule
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rule).Error; err != nil {
		return nil, notFound(err)
	}
	return &rule, nil
}

// CreateMatrixRule inserts a matrix rule
func (r *WorkflowRepository) CreateMatrixRule(ctx context.Context, rule *models.AuthorizationMatrixRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

// DeactivateMatrixRule marks an active rule inactive
func (r *WorkflowRepository) DeactivateMatrixRule(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.AuthorizationMatrixRule{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]interface{}{"is_active": false, "updated_at": at})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Delegation Methods ---

// CreateDelegation creates a new delegation record
func (r *WorkflowRepository) CreateDelegation(ctx context.Context, delegation *models.AuthorityDelegation) error {
	return r.db.WithContext(ctx).Create(delegation).Error
}

// GetDelegationByID retrieves a delegation by ID
func (r *WorkflowRepository) GetDelegationByID(ctx context.Context, id uuid.UUID) (*models.AuthorityDelegation, error) {
	var delegation models.AuthorityDelegation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&delegation).Error; err != nil {
		return nil, notFound(err)
	}
	return &delegation, nil
}

// ListDelegationsByDelegator retrieves all delegations created by a user
func (r *WorkflowRepository) ListDelegationsByDelegator(ctx context.Context, delegatorID uuid.UUID) ([]models.AuthorityDelegation, error) {
	var delegations []models.AuthorityDelegation
	err := r.db.WithContext(ctx).
		Where("delegator_id = ?", delegatorID).
		Order("created_at DESC").
		Find(&delegations).Error
	return delegations, err
}

// ListDelegationsByDelegate retrieves all delegations granted to a user
func (r *WorkflowRepository) ListDelegationsByDelegate(ctx context.Context, delegateID uuid.UUID) ([]models.AuthorityDelegation, error) {
	var delegations []models.AuthorityDelegation
	err := r.db.WithContext(ctx).
		Where("delegate_id = ?", delegateID).
		Order("created_at DESC").
		Find(&delegations).Error
	return delegations, err
}

// FindActiveDelegations finds the delegations a delegator has in effect at the given time
func (r *WorkflowRepository) FindActiveDelegations(ctx context.Context, delegatorID uuid.UUID, at time.Time) ([]models.AuthorityDelegation, error) {
	var delegations []models.AuthorityDelegation
	err := r.db.WithContext(ctx).
		Where("delegator_id = ? AND is_active = ?", delegatorID, true).
		Where("valid_from <= ? AND valid_until >= ?", at, at).
		Where("revoked_at IS NULL").
		Find(&delegations).Error
	return delegations, err
}

// FindActiveDelegationsForDelegate finds delegations granted to a user that
// are in effect at the given time
func (r *WorkflowRepository) FindActiveDelegationsForDelegate(ctx context.Context, delegateID uuid.UUID, at time.Time) ([]models.AuthorityDelegation, error) {
	var delegations []models.AuthorityDelegation
	err := r.db.WithContext(ctx).
		Where("delegate_id = ? AND is_active = ?", delegateID, true).
		Where("valid_from <= ? AND valid_until >= ?", at, at).
		Where("revoked_at IS NULL").
		Find(&delegations).Error
	return delegations, err
}

// FindOverlappingDelegations returns active delegations of the delegator
// whose window intersects [from, until]
func (r *WorkflowRepository) FindOverlappingDelegations(ctx context.Context, delegatorID uuid.UUID, from, until time.Time) ([]models.AuthorityDelegation, error) {
	var delegations []models.AuthorityDelegation
	err := r.db.WithContext(ctx).
		Where("delegator_id = ? AND is_active = ?", delegatorID, true).
		Where("revoked_at IS NULL").
		Where("valid_from <= ? AND valid_until >= ?", until, from).
		Find(&delegations).Error
	return delegations, err
}

// RevokeDelegation revokes an active delegation
func (r *WorkflowRepository) RevokeDelegation(ctx context.Context, id uuid.UUID, revokedBy uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.AuthorityDelegation{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]interface{}{
			"is_active":  false,
			"revoked_at": at,
			"revoked_by": revokedBy,
			"updated_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Escalation Methods ---

// GetEscalationPolicy retrieves the active policy for a workflow type
func (r *WorkflowRepository) GetEscalationPolicy(ctx context.Context, workflowType string) (*models.EscalationPolicy, error) {
	var policy models.EscalationPolicy
	err := r.db.WithContext(ctx).
		Where("workflow_type = ? AND is_active = ?", workflowType, true).
		First(&policy).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &policy, nil
}

// UpsertEscalationPolicy inserts or replaces the policy for its workflow type
func (r *WorkflowRepository) UpsertEscalationPolicy(ctx context.Context, policy *models.EscalationPolicy) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "workflow_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"reminder_hours", "escalation_hours", "final_escalation_hours", "max_attempts", "is_active", "updated_at"}),
	}).Create(policy).Error
}

// ClaimEscalation inserts an escalation record unless one already exists for
// the same (workflow, type, threshold). Returns false when another sweep
// already claimed it.
func (r *WorkflowRepository) ClaimEscalation(ctx context.Context, record *models.EscalationRecord) (bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "workflow_id"}, {Name: "escalation_type"}, {Name: "trigger_hours"}},
		DoNothing: true,
	}).Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListEscalationRecords retrieves escalation records, newest first
func (r *WorkflowRepository) ListEscalationRecords(ctx context.Context, filter EscalationFilter) ([]models.EscalationRecord, error) {
	var records []models.EscalationRecord
	query := r.db.WithContext(ctx)
	if filter.WorkflowID != nil {
		query = query.Where("workflow_id = ?", *filter.WorkflowID)
	}
	if filter.EscalationType != "" {
		query = query.Where("escalation_type = ?", filter.EscalationType)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	err := query.Order("created_at DESC").Find(&records).Error
	return records, err
}

// --- Notification Methods ---

// CreateNotification stores a notification for a user
func (r *WorkflowRepository) CreateNotification(ctx context.Context, notification *models.WorkflowNotification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

// ListNotifications retrieves a user's notifications, newest first
func (r *WorkflowRepository) ListNotifications(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit, offset int) ([]models.WorkflowNotification, int64, error) {
	var notifications []models.WorkflowNotification
	var total int64

	query := r.db.WithContext(ctx).Model(&models.WorkflowNotification{}).
		Where("recipient_id = ?", recipientID)
	if unreadOnly {
		query = query.Where("read_at IS NULL")
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit > 0 {
		query = query.Limit(limit).Offset(offset)
	}
	err := query.Order("created_at DESC").Find(&notifications).Error
	return notifications, total, err
}

// MarkNotificationRead sets read_at on a notification owned by recipientID
func (r *WorkflowRepository) MarkNotificationRead(ctx context.Context, id, recipientID uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.WorkflowNotification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Update("read_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- History Methods ---

// CreateHistory appends an audit entry
func (r *WorkflowRepository) CreateHistory(ctx context.Context, entry *models.WorkflowHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// GetWorkflowHistory retrieves the audit trail of a workflow
func (r *WorkflowRepository) GetWorkflowHistory(ctx context.Context, workflowID uuid.UUID) ([]models.WorkflowHistory, error) {
	var entries []models.WorkflowHistory
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}
