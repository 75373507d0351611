package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"authorization-service/internal/clock"
	"authorization-service/internal/events"
	"authorization-service/internal/models"
	"authorization-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ZeroRulePolicy decides what happens when no matrix rule matches a workflow
type ZeroRulePolicy string

const (
	ZeroRuleAutoApprove ZeroRulePolicy = "auto_approve"
	ZeroRuleReject      ZeroRulePolicy = "reject"
)

// Step actions accepted by ProcessApprovalStep
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionReverse = "reverse"
)

// Actor is the authenticated user performing an operation
type Actor struct {
	ID    uuid.UUID
	Roles []models.Role
}

// WorkflowEngine creates multi-level workflows and moves them through their
// approval steps
type WorkflowEngine struct {
	repo      repository.WorkflowRepositoryInterface
	matrix    *MatrixService
	directory UserDirectory
	publisher EventPublisher
	clock     clock.Clock
	logger    *logrus.Entry
	zeroRules ZeroRulePolicy
}

// NewWorkflowEngine creates a new WorkflowEngine. directory and publisher may be nil.
func NewWorkflowEngine(
	repo repository.WorkflowRepositoryInterface,
	matrix *MatrixService,
	directory UserDirectory,
	publisher EventPublisher,
	clk clock.Clock,
	logger *logrus.Entry,
	zeroRules ZeroRulePolicy,
) *WorkflowEngine {
	if zeroRules != ZeroRuleReject {
		zeroRules = ZeroRuleAutoApprove
	}
	return &WorkflowEngine{
		repo:      repo,
		matrix:    matrix,
		directory: directory,
		publisher: publisher,
		clock:     clk,
		logger:    logger.WithField("component", "workflow-engine"),
		zeroRules: zeroRules,
	}
}

// CreateWorkflowInput represents input for creating a workflow
type CreateWorkflowInput struct {
	ProjectID    *uuid.UUID                         `json:"projectId,omitempty"`
	WorkflowType string                             `json:"workflowType" binding:"required"`
	Title        string                             `json:"title" binding:"required"`
	Description  string                             `json:"description,omitempty"`
	Amount       float64                            `json:"amount"`
	Priority     string                             `json:"priority,omitempty"`
	DueDate      *time.Time                         `json:"dueDate,omitempty"`
	Approvers    map[models.ApprovalLevel]uuid.UUID `json:"approvers,omitempty"`
}

func (in *CreateWorkflowInput) validate(requesterID uuid.UUID) error {
	if requesterID == uuid.Nil {
		return invalid("requestedBy", "is required")
	}
	if !models.ValidWorkflowType(in.WorkflowType) {
		return invalid("workflowType", "unknown workflow type %q", in.WorkflowType)
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return invalid("title", "is required")
	}
	if in.Amount < 0 {
		return invalid("amount", "must not be negative")
	}
	if in.Priority == "" {
		in.Priority = models.PriorityNormal
	}
	if !models.ValidPriority(in.Priority) {
		return invalid("priority", "unknown priority %q", in.Priority)
	}
	for level, approver := range in.Approvers {
		if !level.Valid() {
			return invalid("approvers", "unknown approval level %d", level)
		}
		if approver == requesterID {
			return invalid("approvers", "requester cannot approve their own workflow")
		}
	}
	return nil
}

func (in *CreateWorkflowInput) newWorkflow(requesterID uuid.UUID, now time.Time) *models.Workflow {
	return &models.Workflow{
		ID:           uuid.New(),
		ProjectID:    in.ProjectID,
		WorkflowType: in.WorkflowType,
		Title:        in.Title,
		Description:  in.Description,
		Amount:       in.Amount,
		RequestedBy:  requesterID,
		Status:       models.StatusPendiente,
		Priority:     in.Priority,
		DueDate:      in.DueDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// CreateWorkflow persists a workflow in pendiente with no steps
func (e *WorkflowEngine) CreateWorkflow(ctx context.Context, requesterID uuid.UUID, input CreateWorkflowInput) (*models.Workflow, error) {
	if err := input.validate(requesterID); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	workflow := input.newWorkflow(requesterID, now)
	outbox := &Outbox{}

	err := e.repo.WithTransaction(ctx, func(txRepo repository.WorkflowRepositoryInterface) error {
		if err := txRepo.CreateWorkflow(ctx, workflow); err != nil {
			return fmt.Errorf("failed to create workflow: %w", err)
		}
		history := NewHistory(workflow.ID, nil, &requesterID, models.HistoryCreated, "", workflow.Status, "", nil, now)
		if err := txRepo.CreateHistory(ctx, history); err != nil {
			return fmt.Errorf("failed to create history: %w", err)
		}
		outbox.Event(events.WorkflowCreated, workflow, &requesterID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	outbox.Flush(ctx, e.publisher, e.logger)
	return workflow, nil
}

// CreateMultiLevelWorkflow creates a workflow with one pending step per
// matching matrix rule, ordered by required level. Workflow, steps, history
// and notifications are written in one transaction.
func (e *WorkflowEngine) CreateMultiLevelWorkflow(ctx context.Context, requesterID uuid.UUID, input CreateWorkflowInput) (*models.Workflow, []models.WorkflowStep, error) {
	if err := input.validate(requesterID); err != nil {
		return nil, nil, err
	}
	if err := e.verifyApprovers(ctx, input.Approvers); err != nil {
		return nil, nil, err
	}

	rules, err := e.matrix.RequiredApprovals(ctx, input.WorkflowType, input.Amount)
	if err != nil {
		return nil, nil, err
	}
	if len(rules) == 0 && e.zeroRules == ZeroRuleReject {
		return nil, nil, ErrNoMatchingRules
	}

	now := e.clock.Now()
	workflow := input.newWorkflow(requesterID, now)
	if len(rules) == 0 {
		workflow.Status = models.StatusAprobado
		workflow.ApprovedAt = &now
	}

	steps := make([]models.WorkflowStep, len(rules))
	for i := range rules {
		ruleID := rules[i].ID
		steps[i] = models.WorkflowStep{
			ID:                 uuid.New(),
			WorkflowID:         workflow.ID,
			StepOrder:          i + 1,
			ApproverLevel:      rules[i].RequiredLevel,
			AssignedApproverID: e.assigneeFor(ctx, input, rules[i].RequiredLevel, requesterID),
			IsRequired:         true,
			Status:             models.StepPending,
			RuleID:             &ruleID,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
	}

	outbox := &Outbox{}
	err = e.repo.WithTransaction(ctx, func(txRepo repository.WorkflowRepositoryInterface) error {
		// the nominal approver is stored; delegates are resolved when read
		if len(steps) > 0 {
			workflow.CurrentApprover = copyID(steps[0].AssignedApproverID)
		}

		if err := txRepo.CreateWorkflow(ctx, workflow); err != nil {
			return fmt.Errorf("failed to create workflow: %w", err)
		}
		if err := txRepo.CreateSteps(ctx, steps); err != nil {
			return fmt.Errorf("failed to create workflow steps: %w", err)
		}

		eventType := models.HistoryCreated
		requesterNotice := models.NotificationWorkflowCreated
		message := fmt.Sprintf("Your %s request %q was submitted and requires %d approval(s)", workflow.WorkflowType, workflow.Title, len(steps))
		if len(steps) == 0 {
			eventType = models.HistoryAutoApproved
			requesterNotice = models.NotificationWorkflowApproved
			message = fmt.Sprintf("Your %s request %q was approved automatically: no approval is required for this amount", workflow.WorkflowType, workflow.Title)
		}

		history := NewHistory(workflow.ID, nil, &requesterID, eventType, "", workflow.Status, "",
			map[string]interface{}{"steps": len(steps)}, now)
		if err := txRepo.CreateHistory(ctx, history); err != nil {
			return fmt.Errorf("failed to create history: %w", err)
		}

		if err := outbox.Notify(ctx, txRepo, NewNotification(workflow.ID, requesterID, requesterNotice, models.PriorityNormal, message, nil, now)); err != nil {
			return err
		}
		recipient, err := EffectiveApprover(ctx, txRepo, workflow, now)
		if err != nil {
			return err
		}
		if recipient != nil {
			n := NewNotification(workflow.ID, *recipient, models.NotificationApprovalRequired, workflow.Priority,
				fmt.Sprintf("%s request %q awaits your approval (step 1 of %d)", workflow.WorkflowType, workflow.Title, len(steps)),
				map[string]interface{}{"step_id": steps[0].ID.String(), "step_order": 1}, now)
			if err := outbox.Notify(ctx, txRepo, n); err != nil {
				return err
			}
		}

		outbox.Event(events.WorkflowCreated, workflow, &requesterID)
		if len(steps) == 0 {
			outbox.Event(events.WorkflowApproved, workflow, nil)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	outbox.Flush(ctx, e.publisher, e.logger)
	workflow.Steps = steps

	e.logger.WithFields(logrus.Fields{
		"workflow_id":   workflow.ID,
		"workflow_type": workflow.WorkflowType,
		"steps":         len(steps),
		"status":        workflow.Status,
	}).Info("workflow created")
	return workflow, steps, nil
}

// verifyApprovers checks that every explicitly named approver is an active
// user whose roles carry approval authority up to the level they are named for
func (e *WorkflowEngine) verifyApprovers(ctx context.Context, approvers map[models.ApprovalLevel]uuid.UUID) error {
	if len(approvers) == 0 {
		return nil
	}
	if e.directory == nil {
		return invalid("approvers", "approvers cannot be verified: no user directory configured")
	}

	levels := make([]models.ApprovalLevel, 0, len(approvers))
	for level := range approvers {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	for _, level := range levels {
		id := approvers[level]
		user, err := e.directory.GetUser(ctx, id)
		if errors.Is(err, ErrUserNotFound) {
			return invalid("approvers", "approver %s for level %s does not exist", id, level)
		}
		if err != nil {
			return fmt.Errorf("failed to look up approver %s: %w", id, err)
		}
		if !user.IsActive {
			return invalid("approvers", "approver %s for level %s is not active", id, level)
		}
		if !models.HasCapability(user.Roles, models.CapApprove) || models.HighestLevel(user.Roles) < level {
			return invalid("approvers", "approver %s lacks authority for level %s", id, level)
		}
	}
	return nil
}

// assigneeFor picks the nominal approver of a level: an explicit approver
// from the input (already verified), else the first active directory user holding the level's
// role. Lookup failures leave the step unassigned.
func (e *WorkflowEngine) assigneeFor(ctx context.Context, input CreateWorkflowInput, level models.ApprovalLevel, requesterID uuid.UUID) *uuid.UUID {
	if id, ok := input.Approvers[level]; ok {
		return &id
	}
	if e.directory == nil {
		return nil
	}
	users, err := e.directory.GetUsersByRole(ctx, []models.Role{level.Role()})
	if err != nil {
		e.logger.WithError(err).WithField("level", level.String()).Warn("approver lookup failed, step left unassigned")
		return nil
	}
	for _, u := range users {
		if u.IsActive && u.ID != requesterID {
			id := u.ID
			return &id
		}
	}
	e.logger.WithField("level", level.String()).Warn("no approver found for level, step left unassigned")
	return nil
}

// ProcessApprovalStep dispatches a step action: approve, reject or reverse
func (e *WorkflowEngine) ProcessApprovalStep(ctx context.Context, stepID uuid.UUID, action, comments string, actor Actor) (*models.Workflow, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionApprove, models.DecisionApproved:
		return e.ProcessStepDecision(ctx, stepID, models.DecisionApproved, comments, actor)
	case ActionReject, models.DecisionRejected:
		return e.ProcessStepDecision(ctx, stepID, models.DecisionRejected, comments, actor)
	case ActionReverse:
		return e.ReverseApproval(ctx, stepID, comments, actor)
	default:
		return nil, invalid("action", "must be one of approve, reject, reverse")
	}
}

// ProcessStepDecision approves or rejects the active step of a workflow.
// A rejection closes the workflow; approving the last step approves it.
func (e *WorkflowEngine) ProcessStepDecision(ctx context.Context, stepID uuid.UUID, decision, comments string, actor Actor) (*models.Workflow, error) {
	if decision != models.DecisionApproved && decision != models.DecisionRejected {
		return nil, invalid("decision", "must be %s or %s", models.DecisionApproved, models.DecisionRejected)
	}
	comments = strings.TrimSpace(comments)
	if decision == models.DecisionRejected && comments == "" {
		return nil, invalid("comments", "a reason is required to reject")
	}

	var result *models.Workflow
	outbox := &Outbox{}

	err := e.repo.WithTransaction(ctx, func(txRepo repository.WorkflowRepositoryInterface) error {
		workflow, step, err := loadStep(ctx, txRepo, stepID)
		if err != nil {
			return err
		}
		if workflow.IsTerminal() {
			return ErrWorkflowClosed
		}
		if workflow.RequestedBy == actor.ID {
			return ErrSelfApproval
		}

		active := models.ActiveStep(workflow.Steps)
		if active == nil || active.ID != step.ID {
			if step.Status != models.StepPending {
				return ErrStepAlreadyDecided
			}
			return ErrStepNotActive
		}

		now := e.clock.Now()
		if err := authorize(ctx, txRepo, workflow, active, actor, now); err != nil {
			return err
		}

		err = txRepo.DecideStep(ctx, active.ID, repository.StepDecision{
			Status:    decision,
			DecidedBy: actor.ID,
			DecidedAt: now,
			Comments:  comments,
		})
		if err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrStepAlreadyDecided
			}
			return fmt.Errorf("failed to record decision: %w", err)
		}
		actorID := actor.ID
		active.Status = decision
		active.DecidedBy = &actorID
		active.DecidedAt = &now
		active.Comments = comments

		fromStatus := workflow.Status
		update := repository.WorkflowUpdate{UpdatedAt: now}
		var next *models.WorkflowStep
		historyType := models.HistoryApproved
		eventType := events.WorkflowStepApproved
		requesterNotice := models.NotificationStepApproved
		message := fmt.Sprintf("Step %d of %d of your %s request %q was approved", active.StepOrder, len(workflow.Steps), workflow.WorkflowType, workflow.Title)

		if decision == models.DecisionRejected {
			update.Status = models.StatusRechazado
			update.RejectedAt = &now
			update.RejectionReason = comments
			historyType = models.HistoryRejected
			eventType = events.WorkflowRejected
			requesterNotice = models.NotificationWorkflowRejected
			message = fmt.Sprintf("Your %s request %q was rejected: %s", workflow.WorkflowType, workflow.Title, comments)
		} else if next = models.ActiveStep(workflow.Steps); next == nil {
			update.Status = models.StatusAprobado
			update.ApprovedAt = &now
			eventType = events.WorkflowApproved
			requesterNotice = models.NotificationWorkflowApproved
			message = fmt.Sprintf("Your %s request %q was fully approved", workflow.WorkflowType, workflow.Title)
		} else {
			update.Status = models.StatusEnRevision
			update.CurrentApprover = copyID(next.AssignedApproverID)
		}

		if err := txRepo.UpdateWorkflowState(ctx, workflow.ID, fromStatus, update); err != nil {
			return fmt.Errorf("failed to update workflow: %w", err)
		}
		ApplyUpdate(workflow, update)

		stepRef := active.ID
		history := NewHistory(workflow.ID, &stepRef, &actorID, historyType, fromStatus, workflow.Status, comments,
			map[string]interface{}{"step_order": active.StepOrder, "level": active.ApproverLevel.String()}, now)
		if err := txRepo.CreateHistory(ctx, history); err != nil {
			return fmt.Errorf("failed to create history: %w", err)
		}

		meta := map[string]interface{}{"step_id": active.ID.String(), "decided_by": actorID.String()}
		if err := outbox.Notify(ctx, txRepo, NewNotification(workflow.ID, workflow.RequestedBy, requesterNotice, models.PriorityNormal, message, meta, now)); err != nil {
			return err
		}
		var recipient *uuid.UUID
		if next != nil {
			if recipient, err = EffectiveApprover(ctx, txRepo, workflow, now); err != nil {
				return err
			}
		}
		if recipient != nil {
			n := NewNotification(workflow.ID, *recipient, models.NotificationApprovalRequired, workflow.Priority,
				fmt.Sprintf("%s request %q awaits your approval (step %d of %d)", workflow.WorkflowType, workflow.Title, next.StepOrder, len(workflow.Steps)),
				map[string]interface{}{"step_id": next.ID.String(), "step_order": next.StepOrder}, now)
			if err := outbox.Notify(ctx, txRepo, n); err != nil {
				return err
			}
		}

		outbox.Event(eventType, workflow, &actorID)
		result = workflow
		return nil
	})
	if err != nil {
		return nil, err
	}

	outbox.Flush(ctx, e.publisher, e.logger)
	e.logger.WithFields(logrus.Fields{
		"workflow_id": result.ID,
		"step_id":     stepID,
		"decision":    decision,
		"status":      result.Status,
	}).Info("step decided")
	return result, nil
}

// ReverseApproval returns an approved step to pending. Only the user who
// approved it may reverse it, and only while no later step is approved.
func (e *WorkflowEngine) ReverseApproval(ctx context.Context, stepID uuid.UUID, comments string, actor Actor) (*models.Workflow, error) {
	var result *models.Workflow
	outbox := &Outbox{}

	err := e.repo.WithTransaction(ctx, func(txRepo repository.WorkflowRepositoryInterface) error {
		workflow, step, err := loadStep(ctx, txRepo, stepID)
		if err != nil {
			return err
		}
		if workflow.Status == models.StatusRechazado || workflow.Status == models.StatusCancelado {
			return ErrWorkflowClosed
		}
		if step.Status != models.StepApproved {
			return ErrStepNotApproved
		}
		if step.DecidedBy == nil || *step.DecidedBy != actor.ID {
			return ErrUnauthorizedApprover
		}
		if models.HasApprovedAfter(workflow.Steps, step.StepOrder) {
			return ErrLaterApprovalExists
		}

		now := e.clock.Now()
		if err := txRepo.ReopenStep(ctx, step.ID, actor.ID, now); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrStepNotApproved
			}
			return fmt.Errorf("failed to reopen step: %w", err)
		}
		step.Status = models.StepPending
		step.DecidedBy = nil
		step.DecidedAt = nil
		step.Comments = ""

		fromStatus := workflow.Status
		update := repository.WorkflowUpdate{Status: models.StatusEnRevision, UpdatedAt: now}
		if models.CountApproved(workflow.Steps) == 0 {
			update.Status = models.StatusPendiente
		}
		if step.AssignedApproverID != nil {
			update.CurrentApprover = copyID(step.AssignedApproverID)
		} else {
			actorID := actor.ID
			update.CurrentApprover = &actorID
		}

		if err := txRepo.UpdateWorkflowState(ctx, workflow.ID, fromStatus, update); err != nil {
			return fmt.Errorf("failed to update workflow: %w", err)
		}
		ApplyUpdate(workflow, update)

		actorID := actor.ID
		stepRef := step.ID
		history := NewHistory(workflow.ID, &stepRef, &actorID, models.HistoryReversed, fromStatus, workflow.Status, comments,
			map[string]interface{}{"step_order": step.StepOrder}, now)
		if err := txRepo.CreateHistory(ctx, history); err != nil {
			return fmt.Errorf("failed to create history: %w", err)
		}

		message := fmt.Sprintf("Approval of step %d of your %s request %q was reversed", step.StepOrder, workflow.WorkflowType, workflow.Title)
		if err := outbox.Notify(ctx, txRepo, NewNotification(workflow.ID, workflow.RequestedBy, models.NotificationApprovalReversed, models.PriorityNormal, message,
			map[string]interface{}{"step_id": step.ID.String(), "comments": comments}, now)); err != nil {
			return err
		}

		outbox.Event(events.WorkflowReversed, workflow, &actorID)
		result = workflow
		return nil
	})
	if err != nil {
		return nil, err
	}

	outbox.Flush(ctx, e.publisher, e.logger)
	e.logger.WithFields(logrus.Fields{
		"workflow_id": result.ID,
		"step_id":     stepID,
		"status":      result.Status,
	}).Info("step approval reversed")
	return result, nil
}

// GetActionableWorkflows returns the open workflows userID can act on now:
// directly assigned, current approver, or through an in-window delegation
// covering the workflow's type and amount
func (e *WorkflowEngine) GetActionableWorkflows(ctx context.Context, userID uuid.UUID) ([]models.Workflow, error) {
	now := e.clock.Now()

	delegations, err := e.repo.FindActiveDelegationsForDelegate(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load delegations: %w", err)
	}

	ids := []uuid.UUID{userID}
	for _, d := range delegations {
		ids = append(ids, d.DelegatorID)
	}

	candidates, err := e.repo.ListOpenWorkflowsForApprovers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}

	actionable := make([]models.Workflow, 0, len(candidates))
	for i := range candidates {
		w := &candidates[i]
		if w.IsTerminal() || w.RequestedBy == userID {
			continue
		}
		if isActionableBy(w, userID, delegations, now) {
			actionable = append(actionable, *w)
		}
	}
	return actionable, nil
}

// GetWorkflowsRequiringApproval is the boundary name of GetActionableWorkflows
func (e *WorkflowEngine) GetWorkflowsRequiringApproval(ctx context.Context, userID uuid.UUID) ([]models.Workflow, error) {
	return e.GetActionableWorkflows(ctx, userID)
}

func isActionableBy(w *models.Workflow, userID uuid.UUID, delegations []models.AuthorityDelegation, now time.Time) bool {
	active := models.ActiveStep(w.Steps)
	if w.CurrentApprover != nil && *w.CurrentApprover == userID {
		return true
	}
	if active != nil && active.AssignedApproverID != nil && *active.AssignedApproverID == userID {
		return true
	}
	for i := range delegations {
		d := &delegations[i]
		if !d.Applies(w.WorkflowType, w.Amount, now) {
			continue
		}
		if active != nil && active.AssignedApproverID != nil && *active.AssignedApproverID == d.DelegatorID {
			return true
		}
		if w.CurrentApprover != nil && *w.CurrentApprover == d.DelegatorID {
			return true
		}
	}
	return false
}

// GetWorkflow retrieves a workflow with its steps
func (e *WorkflowEngine) GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	workflow, err := e.repo.GetWorkflowByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}
	return workflow, nil
}

// ListWorkflows lists workflows matching filter
func (e *WorkflowEngine) ListWorkflows(ctx context.Context, filter repository.WorkflowFilter) ([]models.Workflow, int64, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return e.repo.ListWorkflows(ctx, filter)
}

// GetWorkflowHistory returns the audit trail of a workflow
func (e *WorkflowEngine) GetWorkflowHistory(ctx context.Context, id uuid.UUID) ([]models.WorkflowHistory, error) {
	if _, err := e.GetWorkflow(ctx, id); err != nil {
		return nil, err
	}
	return e.repo.GetWorkflowHistory(ctx, id)
}

// CancelWorkflow withdraws an open workflow. Only the requester may cancel.
func (e *WorkflowEngine) CancelWorkflow(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*models.Workflow, error) {
	var result *models.Workflow
	outbox := &Outbox{}

	err := e.repo.WithTransaction(ctx, func(txRepo repository.WorkflowRepositoryInterface) error {
		workflow, err := txRepo.GetWorkflowByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrWorkflowNotFound
			}
			return err
		}
		if workflow.RequestedBy != actor.ID {
			return ErrNotRequester
		}
		if workflow.IsTerminal() {
			return ErrWorkflowClosed
		}

		now := e.clock.Now()
		previousApprover := workflow.CurrentApprover
		fromStatus := workflow.Status
		update := repository.WorkflowUpdate{
			Status:      models.StatusCancelado,
			CancelledAt: &now,
			UpdatedAt:   now,
		}
		if err := txRepo.UpdateWorkflowState(ctx, workflow.ID, fromStatus, update); err != nil {
			return fmt.Errorf("failed to update workflow: %w", err)
		}
		ApplyUpdate(workflow, update)

		actorID := actor.ID
		history := NewHistory(workflow.ID, nil, &actorID, models.HistoryCancelled, fromStatus, workflow.Status, reason, nil, now)
		if err := txRepo.CreateHistory(ctx, history); err != nil {
			return fmt.Errorf("failed to create history: %w", err)
		}
		if previousApprover != nil {
			n := NewNotification(workflow.ID, *previousApprover, models.NotificationWorkflowCancelled, models.PriorityLow,
				fmt.Sprintf("%s request %q was cancelled by the requester", workflow.WorkflowType, workflow.Title), nil, now)
			if err := outbox.Notify(ctx, txRepo, n); err != nil {
				return err
			}
		}

		outbox.Event(events.WorkflowCancelled, workflow, &actorID)
		result = workflow
		return nil
	})
	if err != nil {
		return nil, err
	}

	outbox.Flush(ctx, e.publisher, e.logger)
	e.logger.WithField("workflow_id", id).Info("workflow cancelled")
	return result, nil
}

// loadStep fetches a step and its workflow. The returned step points into
// workflow.Steps.
func loadStep(ctx context.Context, repo repository.WorkflowRepositoryInterface, stepID uuid.UUID) (*models.Workflow, *models.WorkflowStep, error) {
	step, err := repo.GetStepByID(ctx, stepID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrStepNotFound
		}
		return nil, nil, err
	}
	workflow, err := repo.GetWorkflowByID(ctx, step.WorkflowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrWorkflowNotFound
		}
		return nil, nil, err
	}
	for i := range workflow.Steps {
		if workflow.Steps[i].ID == stepID {
			return workflow, &workflow.Steps[i], nil
		}
	}
	return nil, nil, ErrStepNotFound
}

// authorize checks that actor may decide step: as its assignee, as the
// workflow's current approver, as a delegate of either, or by holding the
// step's level when the step has no assignee
func authorize(ctx context.Context, repo repository.WorkflowRepositoryInterface, w *models.Workflow, step *models.WorkflowStep, actor Actor, now time.Time) error {
	var nominal []uuid.UUID
	if step.AssignedApproverID != nil {
		nominal = append(nominal, *step.AssignedApproverID)
	}
	if w.CurrentApprover != nil {
		nominal = append(nominal, *w.CurrentApprover)
	}
	for _, id := range nominal {
		if id == actor.ID {
			return nil
		}
		effective, err := resolveActor(ctx, repo, id, w.WorkflowType, w.Amount, now)
		if err != nil {
			return err
		}
		if effective == actor.ID {
			return nil
		}
	}
	if step.AssignedApproverID == nil &&
		models.HasCapability(actor.Roles, models.CapApprove) &&
		models.HighestLevel(actor.Roles) >= step.ApproverLevel {
		return nil
	}
	return ErrUnauthorizedApprover
}

func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// ApplyUpdate copies a persisted transition onto an in-memory workflow
func ApplyUpdate(w *models.Workflow, u repository.WorkflowUpdate) {
	w.Status = u.Status
	w.CurrentApprover = u.CurrentApprover
	w.ApprovedAt = u.ApprovedAt
	w.RejectedAt = u.RejectedAt
	w.RejectionReason = u.RejectionReason
	w.UpdatedAt = u.UpdatedAt
	if u.CancelledAt != nil {
		w.CancelledAt = u.CancelledAt
	}
	if u.EscalatedAt != nil {
		w.EscalatedAt = u.EscalatedAt
	}
	if u.FinalEscalatedAt != nil {
		w.FinalEscalatedAt = u.FinalEscalatedAt
	}
}
