// Package repositorytest provides an in-memory WorkflowRepositoryInterface
// for service and job tests.
package repositorytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"authorization-service/internal/models"
	"authorization-service/internal/repository"
	"github.com/google/uuid"
)

// MemoryRepository keeps all records in maps. It honours the conditional
// updates and unique keys of the postgres repository. Transactions are
// serialized and roll back to a snapshot when fn fails.
type MemoryRepository struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data state

	failures map[string]error
}

type state struct {
	workflows     map[uuid.UUID]models.Workflow
	workflowOrder []uuid.UUID
	steps         map[uuid.UUID]models.WorkflowStep
	rules         map[uuid.UUID]models.AuthorizationMatrixRule
	ruleOrder     []uuid.UUID
	delegations   map[uuid.UUID]models.AuthorityDelegation
	policies      map[string]models.EscalationPolicy
	escalations   []models.EscalationRecord
	notifications []models.WorkflowNotification
	history       []models.WorkflowHistory
}

func (s state) clone() state {
	c := state{
		workflows:     make(map[uuid.UUID]models.Workflow, len(s.workflows)),
		workflowOrder: append([]uuid.UUID(nil), s.workflowOrder...),
		steps:         make(map[uuid.UUID]models.WorkflowStep, len(s.steps)),
		rules:         make(map[uuid.UUID]models.AuthorizationMatrixRule, len(s.rules)),
		ruleOrder:     append([]uuid.UUID(nil), s.ruleOrder...),
		delegations:   make(map[uuid.UUID]models.AuthorityDelegation, len(s.delegations)),
		policies:      make(map[string]models.EscalationPolicy, len(s.policies)),
		escalations:   append([]models.EscalationRecord(nil), s.escalations...),
		notifications: append([]models.WorkflowNotification(nil), s.notifications...),
		history:       append([]models.WorkflowHistory(nil), s.history...),
	}
	for k, v := range s.workflows {
		c.workflows[k] = v
	}
	for k, v := range s.steps {
		c.steps[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.delegations {
		c.delegations[k] = v
	}
	for k, v := range s.policies {
		c.policies[k] = v
	}
	return c
}

// NewMemoryRepository creates an empty MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		data: state{
			workflows:   map[uuid.UUID]models.Workflow{},
			steps:       map[uuid.UUID]models.WorkflowStep{},
			rules:       map[uuid.UUID]models.AuthorizationMatrixRule{},
			delegations: map[uuid.UUID]models.AuthorityDelegation{},
			policies:    map[string]models.EscalationPolicy{},
		},
		failures: map[string]error{},
	}
}

var _ repository.WorkflowRepositoryInterface = (*MemoryRepository)(nil)

// FailOn makes every later call of the named method return err. A nil err
// clears the failure.
func (m *MemoryRepository) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// lock acquires mu and returns the injected failure for method, if any
func (m *MemoryRepository) lock(method string) error {
	m.mu.Lock()
	return m.failures[method]
}

func stamp(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}

func newID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// WithTransaction serializes fn against other transactions and restores the
// previous state if fn returns an error
func (m *MemoryRepository) WithTransaction(ctx context.Context, fn func(txRepo repository.WorkflowRepositoryInterface) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := m.lock("WithTransaction"); err != nil {
		m.mu.Unlock()
		return err
	}
	snapshot := m.data.clone()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.data = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

// --- Workflows ---

func (m *MemoryRepository) withSteps(w models.Workflow) models.Workflow {
	var steps []models.WorkflowStep
	for _, s := range m.data.steps {
		if s.WorkflowID == w.ID {
			steps = append(steps, s)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	w.Steps = steps
	return w
}

func (m *MemoryRepository) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	err := m.lock("CreateWorkflow")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	newID(&workflow.ID)
	if _, exists := m.data.workflows[workflow.ID]; exists {
		return repository.ErrConflict
	}
	stamp(&workflow.CreatedAt)
	stamp(&workflow.UpdatedAt)
	if workflow.Status == "" {
		workflow.Status = models.StatusPendiente
	}
	stored := *workflow
	stored.Steps = nil
	m.data.workflows[workflow.ID] = stored
	m.data.workflowOrder = append(m.data.workflowOrder, workflow.ID)
	return nil
}

func (m *MemoryRepository) GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	err := m.lock("GetWorkflowByID")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	w, ok := m.data.workflows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	w = m.withSteps(w)
	return &w, nil
}

func (m *MemoryRepository) orderedWorkflows(keep func(models.Workflow) bool) []models.Workflow {
	var out []models.Workflow
	for _, id := range m.data.workflowOrder {
		w := m.data.workflows[id]
		if keep(w) {
			out = append(out, m.withSteps(w))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func isOpen(w models.Workflow) bool {
	for _, s := range models.OpenStatuses {
		if w.Status == s {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) ListWorkflows(ctx context.Context, filter repository.WorkflowFilter) ([]models.Workflow, int64, error) {
	err := m.lock("ListWorkflows")
	defer m.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}
	matched := m.orderedWorkflows(func(w models.Workflow) bool {
		if filter.Status != "" && filter.Status != "all" && w.Status != filter.Status {
			return false
		}
		if filter.WorkflowType != "" && w.WorkflowType != filter.WorkflowType {
			return false
		}
		if filter.RequestedBy != nil && w.RequestedBy != *filter.RequestedBy {
			return false
		}
		if filter.ProjectID != nil && (w.ProjectID == nil || *w.ProjectID != *filter.ProjectID) {
			return false
		}
		return true
	})
	// newest first
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	total := int64(len(matched))
	if filter.Limit > 0 {
		if filter.Offset >= len(matched) {
			return []models.Workflow{}, total, nil
		}
		end := filter.Offset + filter.Limit
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[filter.Offset:end]
	}
	return matched, total, nil
}

func (m *MemoryRepository) ListOpenWorkflows(ctx context.Context) ([]models.Workflow, error) {
	err := m.lock("ListOpenWorkflows")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.orderedWorkflows(func(w models.Workflow) bool {
		return isOpen(w) && w.ApprovedAt == nil && w.RejectedAt == nil
	}), nil
}

func (m *MemoryRepository) ListOpenWorkflowsForApprovers(ctx context.Context, approverIDs []uuid.UUID) ([]models.Workflow, error) {
	err := m.lock("ListOpenWorkflowsForApprovers")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ids := make(map[uuid.UUID]bool, len(approverIDs))
	for _, id := range approverIDs {
		ids[id] = true
	}
	return m.orderedWorkflows(func(w models.Workflow) bool {
		if !isOpen(w) {
			return false
		}
		if w.CurrentApprover != nil && ids[*w.CurrentApprover] {
			return true
		}
		for _, s := range m.data.steps {
			if s.WorkflowID == w.ID && s.Status == models.StepPending &&
				s.AssignedApproverID != nil && ids[*s.AssignedApproverID] {
				return true
			}
		}
		return false
	}), nil
}

func (m *MemoryRepository) UpdateWorkflowState(ctx context.Context, id uuid.UUID, fromStatus string, update repository.WorkflowUpdate) error {
	err := m.lock("UpdateWorkflowState")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	w, ok := m.data.workflows[id]
	if !ok || w.Status != fromStatus {
		return repository.ErrConflict
	}
	w.Status = update.Status
	w.CurrentApprover = update.CurrentApprover
	w.ApprovedAt = update.ApprovedAt
	w.RejectedAt = update.RejectedAt
	w.RejectionReason = update.RejectionReason
	w.UpdatedAt = update.UpdatedAt
	if update.CancelledAt != nil {
		w.CancelledAt = update.CancelledAt
	}
	if update.EscalatedAt != nil {
		w.EscalatedAt = update.EscalatedAt
	}
	if update.FinalEscalatedAt != nil {
		w.FinalEscalatedAt = update.FinalEscalatedAt
	}
	m.data.workflows[id] = w
	return nil
}

// --- Steps ---

func (m *MemoryRepository) CreateSteps(ctx context.Context, steps []models.WorkflowStep) error {
	err := m.lock("CreateSteps")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	for i := range steps {
		for _, existing := range m.data.steps {
			if existing.WorkflowID == steps[i].WorkflowID && existing.StepOrder == steps[i].StepOrder {
				return repository.ErrConflict
			}
		}
		newID(&steps[i].ID)
		stamp(&steps[i].CreatedAt)
		stamp(&steps[i].UpdatedAt)
		if steps[i].Status == "" {
			steps[i].Status = models.StepPending
		}
		m.data.steps[steps[i].ID] = steps[i]
	}
	return nil
}

func (m *MemoryRepository) GetStepByID(ctx context.Context, id uuid.UUID) (*models.WorkflowStep, error) {
	err := m.lock("GetStepByID")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s, ok := m.data.steps[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (m *MemoryRepository) DecideStep(ctx context.Context, id uuid.UUID, decision repository.StepDecision) error {
	err := m.lock("DecideStep")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	s, ok := m.data.steps[id]
	if !ok || s.Status != models.StepPending {
		return repository.ErrConflict
	}
	decidedBy := decision.DecidedBy
	decidedAt := decision.DecidedAt
	s.Status = decision.Status
	s.DecidedBy = &decidedBy
	s.DecidedAt = &decidedAt
	s.Comments = decision.Comments
	s.UpdatedAt = decidedAt
	m.data.steps[id] = s
	return nil
}

func (m *MemoryRepository) ReopenStep(ctx context.Context, id uuid.UUID, decidedBy uuid.UUID, at time.Time) error {
	err := m.lock("ReopenStep")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	s, ok := m.data.steps[id]
	if !ok || s.Status != models.StepApproved || s.DecidedBy == nil || *s.DecidedBy != decidedBy {
		return repository.ErrConflict
	}
	s.Status = models.StepPending
	s.DecidedBy = nil
	s.DecidedAt = nil
	s.Comments = ""
	s.UpdatedAt = at
	m.data.steps[id] = s
	return nil
}

// --- Matrix rules ---

func (m *MemoryRepository) ListMatrixRules(ctx context.Context, workflowType string, activeOnly bool) ([]models.AuthorizationMatrixRule, error) {
	err := m.lock("ListMatrixRules")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []models.AuthorizationMatrixRule
	for _, id := range m.data.ruleOrder {
		r := m.data.rules[id]
		if workflowType != "" && r.WorkflowType != workflowType {
			continue
		}
		if activeOnly && !r.IsActive {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].WorkflowType != out[j].WorkflowType {
			return out[i].WorkflowType < out[j].WorkflowType
		}
		return out[i].RequiredLevel < out[j].RequiredLevel
	})
	return out, nil
}

func (m *MemoryRepository) GetMatrixRuleByID(ctx context.Context, id uuid.UUID) (*models.AuthorizationMatrixRule, error) {
	err := m.lock("GetMatrixRuleByID")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r, ok := m.data.rules[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (m *MemoryRepository) CreateMatrixRule(ctx context.Context, rule *models.AuthorizationMatrixRule) error {
	err := m.lock("CreateMatrixRule")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	newID(&rule.ID)
	stamp(&rule.CreatedAt)
	stamp(&rule.UpdatedAt)
	m.data.rules[rule.ID] = *rule
	m.data.ruleOrder = append(m.data.ruleOrder, rule.ID)
	return nil
}

func (m *MemoryRepository) DeactivateMatrixRule(ctx context.Context, id uuid.UUID, at time.Time) error {
	err := m.lock("DeactivateMatrixRule")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	r, ok := m.data.rules[id]
	if !ok || !r.IsActive {
		return repository.ErrNotFound
	}
	r.IsActive = false
	r.UpdatedAt = at
	m.data.rules[id] = r
	return nil
}

// --- Delegations ---

func (m *MemoryRepository) CreateDelegation(ctx context.Context, delegation *models.AuthorityDelegation) error {
	err := m.lock("CreateDelegation")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	newID(&delegation.ID)
	stamp(&delegation.CreatedAt)
	stamp(&delegation.UpdatedAt)
	m.data.delegations[delegation.ID] = *delegation
	return nil
}

func (m *MemoryRepository) GetDelegationByID(ctx context.Context, id uuid.UUID) (*models.AuthorityDelegation, error) {
	err := m.lock("GetDelegationByID")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	d, ok := m.data.delegations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (m *MemoryRepository) delegationsWhere(keep func(models.AuthorityDelegation) bool) []models.AuthorityDelegation {
	var out []models.AuthorityDelegation
	for _, d := range m.data.delegations {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *MemoryRepository) ListDelegationsByDelegator(ctx context.Context, delegatorID uuid.UUID) ([]models.AuthorityDelegation, error) {
	err := m.lock("ListDelegationsByDelegator")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.delegationsWhere(func(d models.AuthorityDelegation) bool { return d.DelegatorID == delegatorID }), nil
}

func (m *MemoryRepository) ListDelegationsByDelegate(ctx context.Context, delegateID uuid.UUID) ([]models.AuthorityDelegation, error) {
	err := m.lock("ListDelegationsByDelegate")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.delegationsWhere(func(d models.AuthorityDelegation) bool { return d.DelegateID == delegateID }), nil
}

func (m *MemoryRepository) FindActiveDelegations(ctx context.Context, delegatorID uuid.UUID, at time.Time) ([]models.AuthorityDelegation, error) {
	err := m.lock("FindActiveDelegations")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.delegationsWhere(func(d models.AuthorityDelegation) bool {
		return d.DelegatorID == delegatorID && d.IsActive && d.RevokedAt == nil && d.InWindow(at)
	}), nil
}

func (m *MemoryRepository) FindActiveDelegationsForDelegate(ctx context.Context, delegateID uuid.UUID, at time.Time) ([]models.AuthorityDelegation, error) {
	err := m.lock("FindActiveDelegationsForDelegate")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.delegationsWhere(func(d models.AuthorityDelegation) bool {
		return d.DelegateID == delegateID && d.IsActive && d.RevokedAt == nil && d.InWindow(at)
	}), nil
}

func (m *MemoryRepository) FindOverlappingDelegations(ctx context.Context, delegatorID uuid.UUID, from, until time.Time) ([]models.AuthorityDelegation, error) {
	err := m.lock("FindOverlappingDelegations")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.delegationsWhere(func(d models.AuthorityDelegation) bool {
		return d.DelegatorID == delegatorID && d.IsActive && d.RevokedAt == nil &&
			!d.ValidFrom.After(until) && !d.ValidUntil.Before(from)
	}), nil
}

func (m *MemoryRepository) RevokeDelegation(ctx context.Context, id uuid.UUID, revokedBy uuid.UUID, at time.Time) error {
	err := m.lock("RevokeDelegation")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	d, ok := m.data.delegations[id]
	if !ok || !d.IsActive {
		return repository.ErrNotFound
	}
	d.IsActive = false
	d.RevokedAt = &at
	d.RevokedBy = &revokedBy
	d.UpdatedAt = at
	m.data.delegations[id] = d
	return nil
}

// --- Escalation ---

func (m *MemoryRepository) GetEscalationPolicy(ctx context.Context, workflowType string) (*models.EscalationPolicy, error) {
	err := m.lock("GetEscalationPolicy")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p, ok := m.data.policies[workflowType]
	if !ok || !p.IsActive {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (m *MemoryRepository) UpsertEscalationPolicy(ctx context.Context, policy *models.EscalationPolicy) error {
	err := m.lock("UpsertEscalationPolicy")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	stamp(&policy.UpdatedAt)
	m.data.policies[policy.WorkflowType] = *policy
	return nil
}

func (m *MemoryRepository) ClaimEscalation(ctx context.Context, record *models.EscalationRecord) (bool, error) {
	err := m.lock("ClaimEscalation")
	defer m.mu.Unlock()
	if err != nil {
		return false, err
	}
	for _, existing := range m.data.escalations {
		if existing.WorkflowID == record.WorkflowID &&
			existing.EscalationType == record.EscalationType &&
			existing.TriggerHours == record.TriggerHours {
			return false, nil
		}
	}
	newID(&record.ID)
	stamp(&record.CreatedAt)
	m.data.escalations = append(m.data.escalations, *record)
	return true, nil
}

func (m *MemoryRepository) ListEscalationRecords(ctx context.Context, filter repository.EscalationFilter) ([]models.EscalationRecord, error) {
	err := m.lock("ListEscalationRecords")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []models.EscalationRecord
	for i := len(m.data.escalations) - 1; i >= 0; i-- {
		r := m.data.escalations[i]
		if filter.WorkflowID != nil && r.WorkflowID != *filter.WorkflowID {
			continue
		}
		if filter.EscalationType != "" && r.EscalationType != filter.EscalationType {
			continue
		}
		if filter.Since != nil && r.CreatedAt.Before(*filter.Since) {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// EscalationRecords returns every stored escalation record in insertion order
func (m *MemoryRepository) EscalationRecords() []models.EscalationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.EscalationRecord(nil), m.data.escalations...)
}

// --- Notifications and history ---

func (m *MemoryRepository) CreateNotification(ctx context.Context, notification *models.WorkflowNotification) error {
	err := m.lock("CreateNotification")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	newID(&notification.ID)
	stamp(&notification.CreatedAt)
	m.data.notifications = append(m.data.notifications, *notification)
	return nil
}

func (m *MemoryRepository) ListNotifications(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit, offset int) ([]models.WorkflowNotification, int64, error) {
	err := m.lock("ListNotifications")
	defer m.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}
	var out []models.WorkflowNotification
	for i := len(m.data.notifications) - 1; i >= 0; i-- {
		n := m.data.notifications[i]
		if n.RecipientID != recipientID || (unreadOnly && n.ReadAt != nil) {
			continue
		}
		out = append(out, n)
	}
	total := int64(len(out))
	if limit > 0 {
		if offset >= len(out) {
			return []models.WorkflowNotification{}, total, nil
		}
		end := offset + limit
		if end > len(out) {
			end = len(out)
		}
		out = out[offset:end]
	}
	return out, total, nil
}

func (m *MemoryRepository) MarkNotificationRead(ctx context.Context, id, recipientID uuid.UUID, at time.Time) error {
	err := m.lock("MarkNotificationRead")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	for i := range m.data.notifications {
		n := &m.data.notifications[i]
		if n.ID == id && n.RecipientID == recipientID {
			n.ReadAt = &at
			return nil
		}
	}
	return repository.ErrNotFound
}

// Notifications returns every stored notification in insertion order
func (m *MemoryRepository) Notifications() []models.WorkflowNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.WorkflowNotification(nil), m.data.notifications...)
}

func (m *MemoryRepository) CreateHistory(ctx context.Context, entry *models.WorkflowHistory) error {
	err := m.lock("CreateHistory")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	newID(&entry.ID)
	stamp(&entry.CreatedAt)
	m.data.history = append(m.data.history, *entry)
	return nil
}

func (m *MemoryRepository) GetWorkflowHistory(ctx context.Context, workflowID uuid.UUID) ([]models.WorkflowHistory, error) {
	err := m.lock("GetWorkflowHistory")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []models.WorkflowHistory
	for _, h := range m.data.history {
		if h.WorkflowID == workflowID {
			out = append(out, h)
		}
	}
	return out, nil
}
