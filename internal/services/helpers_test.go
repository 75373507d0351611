package services

import (
	"context"
	"io"
	"testing"
	"time"

	"authorization-service/internal/clock"
	"authorization-service/internal/models"
	"authorization-service/internal/repository/repositorytest"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockUserDirectory is a mock implementation of UserDirectory
type MockUserDirectory struct {
	mock.Mock
}

var _ UserDirectory = (*MockUserDirectory)(nil)

func (m *MockUserDirectory) GetUsersByRole(ctx context.Context, roles []models.Role) ([]models.User, error) {
	args := m.Called(ctx, roles)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

func (m *MockUserDirectory) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

// MockEventPublisher is a mock implementation of EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

var _ EventPublisher = (*MockEventPublisher)(nil)

func (m *MockEventPublisher) PublishNotification(ctx context.Context, n *models.WorkflowNotification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishWorkflowEvent(ctx context.Context, eventType string, w *models.Workflow, actorID *uuid.UUID) error {
	args := m.Called(ctx, eventType, w, actorID)
	return args.Error(0)
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func amount(v float64) *float64 {
	return &v
}

type engineFixture struct {
	repo        *repositorytest.MemoryRepository
	clock       *clock.FakeClock
	directory   *MockUserDirectory
	matrix      *MatrixService
	delegations *DelegationService
	engine      *WorkflowEngine
}

func newEngineFixture(t *testing.T, start time.Time, zeroRules ZeroRulePolicy) *engineFixture {
	t.Helper()
	repo := repositorytest.NewMemoryRepository()
	clk := clock.Fake(start)
	logger := testLogger()
	directory := new(MockUserDirectory)
	matrix := NewMatrixService(repo, 0, clk, logger)

	return &engineFixture{
		repo:        repo,
		clock:       clk,
		directory:   directory,
		matrix:      matrix,
		delegations: NewDelegationService(repo, clk, logger),
		engine:      NewWorkflowEngine(repo, matrix, directory, nil, clk, logger, zeroRules),
	}
}

// seedPagoRules installs supervisor for 0-50000 and gerente for
// 50000-200000 on pago workflows
func (f *engineFixture) seedPagoRules(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.matrix.CreateRule(ctx, CreateRuleInput{
		WorkflowType:  models.WorkflowTypePago,
		MinAmount:     amount(0),
		MaxAmount:     amount(50000),
		RequiredLevel: models.LevelSupervisor,
	})
	require.NoError(t, err)
	_, err = f.matrix.CreateRule(ctx, CreateRuleInput{
		WorkflowType:  models.WorkflowTypePago,
		MinAmount:     amount(50000),
		MaxAmount:     amount(200000),
		RequiredLevel: models.LevelGerente,
	})
	require.NoError(t, err)
}

// seedTwoLevelRules installs an unbounded supervisor rule and a gerente
// rule from 50000 on contrato workflows
func (f *engineFixture) seedTwoLevelRules(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.matrix.CreateRule(ctx, CreateRuleInput{
		WorkflowType:  models.WorkflowTypeContrato,
		RequiredLevel: models.LevelSupervisor,
	})
	require.NoError(t, err)
	_, err = f.matrix.CreateRule(ctx, CreateRuleInput{
		WorkflowType:  models.WorkflowTypeContrato,
		MinAmount:     amount(50000),
		RequiredLevel: models.LevelGerente,
	})
	require.NoError(t, err)
}
