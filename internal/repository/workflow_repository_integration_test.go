//go:build integration

package repository_test

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"authorization-service/internal/clock"
	"authorization-service/internal/models"
	"authorization-service/internal/repository"
	"authorization-service/internal/services"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// RepositoryTestSuite runs the gorm repository against a real PostgreSQL
type RepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo *repository.WorkflowRepository
	ctx  context.Context
}

// SetupSuite runs once before all tests
func (s *RepositoryTestSuite) SetupSuite() {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=authorization_service_test port=5432 sslmode=disable"
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		s.T().Fatalf("Failed to connect to database: %v", err)
	}
	s.db = db

	err = s.db.AutoMigrate(
		&models.Workflow{},
		&models.WorkflowStep{},
		&models.AuthorizationMatrixRule{},
		&models.AuthorityDelegation{},
		&models.EscalationPolicy{},
		&models.EscalationRecord{},
		&models.WorkflowNotification{},
		&models.WorkflowHistory{},
	)
	s.Require().NoError(err)

	s.repo = repository.NewWorkflowRepository(db)
	s.ctx = context.Background()
}

// SetupTest starts each test from empty tables
func (s *RepositoryTestSuite) SetupTest() {
	s.db.Exec(`TRUNCATE workflow_history, workflow_notifications, escalation_records, escalation_policies,
		authority_delegations, authorization_matrix_rules, workflow_steps, workflows CASCADE`)
}

func (s *RepositoryTestSuite) createWorkflow(status string) *models.Workflow {
	now := time.Now().UTC()
	approver := uuid.New()
	w := &models.Workflow{
		ID:              uuid.New(),
		WorkflowType:    models.WorkflowTypePago,
		Title:           "Supplier payment",
		Amount:          12000,
		RequestedBy:     uuid.New(),
		CurrentApprover: &approver,
		Status:          status,
		Priority:        models.PriorityNormal,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.Require().NoError(s.repo.CreateWorkflow(s.ctx, w))
	steps := []models.WorkflowStep{
		{ID: uuid.New(), WorkflowID: w.ID, StepOrder: 1, ApproverLevel: models.LevelSupervisor, AssignedApproverID: &approver, IsRequired: true, Status: models.StepPending},
		{ID: uuid.New(), WorkflowID: w.ID, StepOrder: 2, ApproverLevel: models.LevelGerente, IsRequired: true, Status: models.StepPending},
	}
	s.Require().NoError(s.repo.CreateSteps(s.ctx, steps))
	w.Steps = steps
	return w
}

func (s *RepositoryTestSuite) TestGetWorkflowByID_LoadsOrderedSteps() {
	w := s.createWorkflow(models.StatusPendiente)

	loaded, err := s.repo.GetWorkflowByID(s.ctx, w.ID)
	s.Require().NoError(err)
	s.Require().Len(loaded.Steps, 2)
	s.Equal(1, loaded.Steps[0].StepOrder)
	s.Equal(2, loaded.Steps[1].StepOrder)

	_, err = s.repo.GetWorkflowByID(s.ctx, uuid.New())
	s.ErrorIs(err, repository.ErrNotFound)
}

func (s *RepositoryTestSuite) TestUpdateWorkflowState_Conflict() {
	w := s.createWorkflow(models.StatusPendiente)
	now := time.Now().UTC()

	err := s.repo.UpdateWorkflowState(s.ctx, w.ID, models.StatusPendiente, repository.WorkflowUpdate{
		Status: models.StatusEnRevision, CurrentApprover: w.CurrentApprover, UpdatedAt: now,
	})
	s.Require().NoError(err)

	// A writer that read the old status loses
	err = s.repo.UpdateWorkflowState(s.ctx, w.ID, models.StatusPendiente, repository.WorkflowUpdate{
		Status: models.StatusRechazado, RejectedAt: &now, UpdatedAt: now,
	})
	s.ErrorIs(err, repository.ErrConflict)
}

func (s *RepositoryTestSuite) TestDecideStep_OnlyOnce() {
	w := s.createWorkflow(models.StatusPendiente)
	decision := repository.StepDecision{
		Status: models.StepApproved, DecidedBy: uuid.New(), DecidedAt: time.Now().UTC(),
	}

	s.Require().NoError(s.repo.DecideStep(s.ctx, w.Steps[0].ID, decision))
	s.ErrorIs(s.repo.DecideStep(s.ctx, w.Steps[0].ID, decision), repository.ErrConflict)
}

func (s *RepositoryTestSuite) TestWithTransaction_RollsBack() {
	w := s.createWorkflow(models.StatusPendiente)

	err := s.repo.WithTransaction(s.ctx, func(txRepo repository.WorkflowRepositoryInterface) error {
		if err := txRepo.DecideStep(s.ctx, w.Steps[0].ID, repository.StepDecision{
			Status: models.StepApproved, DecidedBy: uuid.New(), DecidedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return services.ErrWorkflowClosed
	})
	s.ErrorIs(err, services.ErrWorkflowClosed)

	step, err := s.repo.GetStepByID(s.ctx, w.Steps[0].ID)
	s.Require().NoError(err)
	s.Equal(models.StepPending, step.Status)
}

func (s *RepositoryTestSuite) TestListOpenWorkflowsForApprovers() {
	open := s.createWorkflow(models.StatusPendiente)
	s.createWorkflow(models.StatusAprobado)

	workflows, err := s.repo.ListOpenWorkflowsForApprovers(s.ctx, []uuid.UUID{*open.CurrentApprover})
	s.Require().NoError(err)
	s.Require().Len(workflows, 1)
	s.Equal(open.ID, workflows[0].ID)
	s.Len(workflows[0].Steps, 2)
}

func (s *RepositoryTestSuite) TestClaimEscalation_Unique() {
	w := s.createWorkflow(models.StatusPendiente)
	record := func() *models.EscalationRecord {
		return &models.EscalationRecord{
			WorkflowID:     w.ID,
			EscalationType: models.EscalationTypeReminder,
			TriggerHours:   24,
			TargetUserID:   *w.CurrentApprover,
			Message:        "reminder",
		}
	}

	claimed, err := s.repo.ClaimEscalation(s.ctx, record())
	s.Require().NoError(err)
	s.True(claimed)

	claimed, err = s.repo.ClaimEscalation(s.ctx, record())
	s.Require().NoError(err)
	s.False(claimed)

	records, err := s.repo.ListEscalationRecords(s.ctx, repository.EscalationFilter{WorkflowID: &w.ID})
	s.Require().NoError(err)
	s.Len(records, 1)
}

func (s *RepositoryTestSuite) TestEscalationPolicyUpsert() {
	policy := models.DefaultEscalationPolicies[models.WorkflowTypePago]
	s.Require().NoError(s.repo.UpsertEscalationPolicy(s.ctx, &policy))

	policy.ReminderHours = pq.Int64Array{12}
	policy.EscalationHours = 36
	s.Require().NoError(s.repo.UpsertEscalationPolicy(s.ctx, &policy))

	loaded, err := s.repo.GetEscalationPolicy(s.ctx, models.WorkflowTypePago)
	s.Require().NoError(err)
	s.Equal(36, loaded.EscalationHours)
	s.Equal([]int{12}, loaded.Reminders())
}

func (s *RepositoryTestSuite) TestDelegationQueries() {
	delegator, delegate := uuid.New(), uuid.New()
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := &models.AuthorityDelegation{
		DelegatorID:   delegator,
		DelegateID:    delegate,
		WorkflowTypes: pq.StringArray{models.WorkflowTypePago},
		ValidFrom:     from,
		ValidUntil:    from.AddDate(0, 0, 10),
		IsActive:      true,
	}
	s.Require().NoError(s.repo.CreateDelegation(s.ctx, d))

	active, err := s.repo.FindActiveDelegations(s.ctx, delegator, from.AddDate(0, 0, 4))
	s.Require().NoError(err)
	s.Len(active, 1)

	active, err = s.repo.FindActiveDelegationsForDelegate(s.ctx, delegate, from.AddDate(0, 0, 11))
	s.Require().NoError(err)
	s.Empty(active)

	overlapping, err := s.repo.FindOverlappingDelegations(s.ctx, delegator, from.AddDate(0, 0, 9), from.AddDate(0, 0, 20))
	s.Require().NoError(err)
	s.Len(overlapping, 1)

	s.Require().NoError(s.repo.RevokeDelegation(s.ctx, d.ID, delegator, from.AddDate(0, 0, 5)))
	active, err = s.repo.FindActiveDelegations(s.ctx, delegator, from.AddDate(0, 0, 6))
	s.Require().NoError(err)
	s.Empty(active)
}

func (s *RepositoryTestSuite) TestNotifications() {
	w := s.createWorkflow(models.StatusPendiente)
	recipient := *w.CurrentApprover
	now := time.Now().UTC()
	n := services.NewNotification(w.ID, recipient, models.NotificationApprovalRequired, models.PriorityNormal, "awaits approval",
		map[string]interface{}{"step_order": 1}, now)
	s.Require().NoError(s.repo.CreateNotification(s.ctx, n))

	s.ErrorIs(s.repo.MarkNotificationRead(s.ctx, n.ID, uuid.New(), now), repository.ErrNotFound)
	s.Require().NoError(s.repo.MarkNotificationRead(s.ctx, n.ID, recipient, now))

	unread, total, err := s.repo.ListNotifications(s.ctx, recipient, true, 20, 0)
	s.Require().NoError(err)
	s.Empty(unread)
	s.Equal(int64(0), total)
}

func (s *RepositoryTestSuite) TestEngineRoundTrip() {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	entry := logrus.NewEntry(logger)
	clk := clock.Real()
	matrix := services.NewMatrixService(s.repo, 0, clk, entry)
	engine := services.NewWorkflowEngine(s.repo, matrix, nil, nil, clk, entry, services.ZeroRuleAutoApprove)

	max := 50000.0
	_, err := matrix.CreateRule(s.ctx, services.CreateRuleInput{
		WorkflowType: models.WorkflowTypePago, MaxAmount: &max, RequiredLevel: models.LevelSupervisor,
	})
	s.Require().NoError(err)

	// no directory: the step stays unassigned and any supervisor may decide it
	requester, supervisor := uuid.New(), uuid.New()
	w, steps, err := engine.CreateMultiLevelWorkflow(s.ctx, requester, services.CreateWorkflowInput{
		WorkflowType: models.WorkflowTypePago,
		Title:        "Site survey",
		Amount:       10000,
	})
	s.Require().NoError(err)
	s.Require().Len(steps, 1)
	s.Nil(steps[0].AssignedApproverID)

	approved, err := engine.ProcessApprovalStep(s.ctx, steps[0].ID, services.ActionApprove, "ok",
		services.Actor{ID: supervisor, Roles: []models.Role{models.RoleSupervisor}})
	s.Require().NoError(err)
	s.Equal(models.StatusAprobado, approved.Status)

	history, err := s.repo.GetWorkflowHistory(s.ctx, w.ID)
	s.Require().NoError(err)
	s.GreaterOrEqual(len(history), 2)
}

func TestRepositorySuite(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration tests. Set RUN_INTEGRATION_TESTS=true to run")
	}
	suite.Run(t, new(RepositoryTestSuite))
}
