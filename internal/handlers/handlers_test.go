package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"authorization-service/internal/clock"
	"authorization-service/internal/jobs"
	"authorization-service/internal/middleware"
	"authorization-service/internal/models"
	"authorization-service/internal/reports"
	"authorization-service/internal/repository/repositorytest"
	"authorization-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockEscalationRunner is a mock implementation of EscalationRunner
type MockEscalationRunner struct {
	mock.Mock
}

func (m *MockEscalationRunner) ProcessEscalations(ctx context.Context) (jobs.SweepResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(jobs.SweepResult), args.Error(1)
}

func (m *MockEscalationRunner) Stats() jobs.EscalationStats {
	args := m.Called()
	return args.Get(0).(jobs.EscalationStats)
}

type testEnv struct {
	router *gin.Engine
	repo   *repositorytest.MemoryRepository
	clock  *clock.FakeClock
	runner *MockEscalationRunner
}

var (
	requesterID  = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	supervisorID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	adminID      = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	deputyID     = uuid.MustParse("44444444-4444-4444-4444-444444444444")
	clerkID      = uuid.MustParse("55555555-5555-5555-5555-555555555555")
)

// staticDirectory serves a fixed set of users
type staticDirectory map[uuid.UUID]models.User

func (d staticDirectory) GetUsersByRole(_ context.Context, roles []models.Role) ([]models.User, error) {
	var out []models.User
	for _, u := range d {
		for _, r := range roles {
			if u.HasRole(r) {
				out = append(out, u)
				break
			}
		}
	}
	return out, nil
}

func (d staticDirectory) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := d[id]
	if !ok {
		return nil, services.ErrUserNotFound
	}
	return &u, nil
}

func testDirectory() staticDirectory {
	users := []models.User{
		{ID: requesterID, Roles: []models.Role{models.RoleSolicitante}, IsActive: true},
		{ID: supervisorID, Roles: []models.Role{models.RoleSupervisor}, IsActive: true},
		{ID: adminID, Roles: []models.Role{models.RoleAdmin}, IsActive: true},
		{ID: deputyID, Roles: []models.Role{models.RoleSupervisor}, IsActive: true},
		{ID: clerkID, Roles: []models.Role{models.RoleSolicitante}, IsActive: true},
	}
	d := make(staticDirectory, len(users))
	for _, u := range users {
		d[u.ID] = u
	}
	return d
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	entry := logrus.NewEntry(logger)

	repo := repositorytest.NewMemoryRepository()
	clk := clock.Fake(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	matrix := services.NewMatrixService(repo, 0, clk, entry)
	engine := services.NewWorkflowEngine(repo, matrix, testDirectory(), nil, clk, entry, services.ZeroRuleAutoApprove)
	runner := new(MockEscalationRunner)

	workflowHandler := NewWorkflowHandler(engine, entry)
	delegationHandler := NewDelegationHandler(services.NewDelegationService(repo, clk, entry), entry)
	matrixHandler := NewMatrixHandler(matrix, entry)
	notificationHandler := NewNotificationHandler(services.NewNotificationService(repo, clk), entry)
	escalationHandler := NewEscalationHandler(runner, repo, clk, entry)

	router := gin.New()
	router.GET("/health", HealthCheck)
	api := router.Group("/api/v1")
	api.Use(middleware.Auth(middleware.AuthConfig{TrustHeaders: true}))
	{
		api.POST("/workflows", workflowHandler.CreateWorkflow)
		api.GET("/workflows", workflowHandler.ListWorkflows)
		api.GET("/workflows/pending", middleware.RequireCapability(models.CapApprove), workflowHandler.ListPending)
		api.GET("/workflows/:id", workflowHandler.GetWorkflow)
		api.GET("/workflows/:id/history", workflowHandler.GetHistory)
		api.POST("/workflows/:id/cancel", workflowHandler.CancelWorkflow)
		api.POST("/workflow-steps/:id/action", workflowHandler.ProcessStep)

		api.POST("/delegations", middleware.RequireCapability(models.CapApprove), delegationHandler.CreateDelegation)
		api.GET("/delegations/outgoing", delegationHandler.ListOutgoing)
		api.GET("/delegations/incoming", delegationHandler.ListIncoming)
		api.GET("/delegations/:id", delegationHandler.GetDelegation)
		api.POST("/delegations/:id/revoke", delegationHandler.RevokeDelegation)

		api.GET("/notifications", notificationHandler.ListNotifications)
		api.POST("/notifications/:id/read", notificationHandler.MarkRead)

		admin := api.Group("/admin")
		admin.GET("/matrix-rules", middleware.RequireCapability(models.CapManageMatrix), matrixHandler.ListRules)
		admin.POST("/matrix-rules", middleware.RequireCapability(models.CapManageMatrix), matrixHandler.CreateRule)
		admin.POST("/matrix-rules/:id/deactivate", middleware.RequireCapability(models.CapManageMatrix), matrixHandler.DeactivateRule)
		admin.POST("/escalations/run", middleware.RequireCapability(models.CapTriggerEscalation), escalationHandler.RunSweep)
		admin.GET("/escalations/stats", middleware.RequireCapability(models.CapTriggerEscalation), escalationHandler.GetStats)
		admin.GET("/escalations/report", middleware.RequireCapability(models.CapTriggerEscalation), escalationHandler.ExportReport)
	}

	return &testEnv{router: router, repo: repo, clock: clk, runner: runner}
}

func (e *testEnv) do(t *testing.T, method, path string, userID uuid.UUID, roles string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID.String())
	req.Header.Set("X-User-Roles", roles)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func (e *testEnv) seedPagoRule(t *testing.T) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/admin/matrix-rules", adminID, "admin", gin.H{
		"workflowType":  "pago",
		"minAmount":     0,
		"maxAmount":     50000,
		"requiredLevel": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func (e *testEnv) createPago(t *testing.T, amount float64) models.Workflow {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/workflows", requesterID, "solicitante", gin.H{
		"workflowType": "pago",
		"title":        "Contractor payment",
		"amount":       amount,
		"approvers":    gin.H{"1": supervisorID},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Success bool            `json:"success"`
		Data    models.Workflow `json:"data"`
	}
	decode(t, w, &resp)
	require.True(t, resp.Success)
	return resp.Data
}

func TestHealthCheck(t *testing.T) {
	env := setupTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "authorization-service")
}

func TestWorkflowLifecycle_Handler(t *testing.T) {
	env := setupTestEnv(t)
	env.seedPagoRule(t)

	workflow := env.createPago(t, 30000)
	require.Len(t, workflow.Steps, 1)
	assert.Equal(t, models.StatusPendiente, workflow.Status)
	require.NotNil(t, workflow.CurrentApprover)
	assert.Equal(t, supervisorID, *workflow.CurrentApprover)

	w := env.do(t, http.MethodGet, "/api/v1/workflows/pending", supervisorID, "supervisor", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending struct {
		Data  []models.Workflow `json:"data"`
		Total int               `json:"total"`
	}
	decode(t, w, &pending)
	require.Equal(t, 1, pending.Total)
	assert.Equal(t, workflow.ID, pending.Data[0].ID)

	stepPath := "/api/v1/workflow-steps/" + workflow.Steps[0].ID.String() + "/action"
	w = env.do(t, http.MethodPost, stepPath, supervisorID, "supervisor", gin.H{"action": "approve", "comments": "ok"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var approved models.Workflow
	decode(t, w, &approved)
	assert.Equal(t, models.StatusAprobado, approved.Status)

	// Deciding the same step again conflicts
	w = env.do(t, http.MethodPost, stepPath, supervisorID, "supervisor", gin.H{"action": "approve"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/workflows/"+workflow.ID.String()+"/history", requesterID, "solicitante", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Data []models.WorkflowHistory `json:"data"`
	}
	decode(t, w, &history)
	assert.GreaterOrEqual(t, len(history.Data), 2)
}

func TestCreateWorkflow_Handler_Errors(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name   string
		body   interface{}
		status int
		field  string
	}{
		{name: "missing title", body: gin.H{"workflowType": "pago", "amount": 10}, status: http.StatusBadRequest},
		{name: "unknown type", body: gin.H{"workflowType": "loan", "title": "x", "amount": 10}, status: http.StatusBadRequest, field: "workflowType"},
		{name: "negative amount", body: gin.H{"workflowType": "pago", "title": "x", "amount": -1}, status: http.StatusBadRequest, field: "amount"},
		{name: "self approver", body: gin.H{"workflowType": "pago", "title": "x", "amount": 1, "approvers": gin.H{"1": requesterID}}, status: http.StatusBadRequest, field: "approvers"},
		{name: "approver without authority", body: gin.H{"workflowType": "pago", "title": "x", "amount": 1, "approvers": gin.H{"1": clerkID}}, status: http.StatusBadRequest, field: "approvers"},
		{name: "unknown approver", body: gin.H{"workflowType": "pago", "title": "x", "amount": 1, "approvers": gin.H{"1": uuid.New()}}, status: http.StatusBadRequest, field: "approvers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/workflows", requesterID, "solicitante", tt.body)
			assert.Equal(t, tt.status, w.Code)
			if tt.field != "" {
				var resp map[string]interface{}
				decode(t, w, &resp)
				assert.Equal(t, tt.field, resp["field"])
			}
		})
	}
}

func TestProcessStep_Handler_Errors(t *testing.T) {
	env := setupTestEnv(t)
	env.seedPagoRule(t)
	workflow := env.createPago(t, 1000)
	stepPath := "/api/v1/workflow-steps/" + workflow.Steps[0].ID.String() + "/action"

	w := env.do(t, http.MethodPost, stepPath, requesterID, "supervisor", gin.H{"action": "approve"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, stepPath, supervisorID, "supervisor", gin.H{"action": "reject"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, stepPath, supervisorID, "supervisor", gin.H{"action": "escalate"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/workflow-steps/"+uuid.NewString()+"/action", supervisorID, "supervisor", gin.H{"action": "approve"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/workflow-steps/not-a-uuid/action", supervisorID, "supervisor", gin.H{"action": "approve"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAndCancelWorkflow_Handler(t *testing.T) {
	env := setupTestEnv(t)
	env.seedPagoRule(t)
	workflow := env.createPago(t, 1000)

	w := env.do(t, http.MethodGet, "/api/v1/workflows/"+uuid.NewString(), requesterID, "solicitante", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	cancelPath := "/api/v1/workflows/" + workflow.ID.String() + "/cancel"
	w = env.do(t, http.MethodPost, cancelPath, supervisorID, "supervisor", gin.H{"reason": "not mine"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, cancelPath, requesterID, "solicitante", gin.H{"reason": "duplicate"})
	require.Equal(t, http.StatusOK, w.Code)
	var cancelled models.Workflow
	decode(t, w, &cancelled)
	assert.Equal(t, models.StatusCancelado, cancelled.Status)

	w = env.do(t, http.MethodPost, cancelPath, requesterID, "solicitante", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/workflows?mine=true&status=cancelado", requesterID, "solicitante", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data  []models.Workflow `json:"data"`
		Total int64             `json:"total"`
		Limit int               `json:"limit"`
	}
	decode(t, w, &list)
	assert.Equal(t, int64(1), list.Total)
	assert.Equal(t, 20, list.Limit)
}

func TestMatrixRules_Handler(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/admin/matrix-rules", supervisorID, "gerente", gin.H{
		"workflowType": "pago", "requiredLevel": 1,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/admin/matrix-rules", adminID, "admin", gin.H{
		"workflowType": "pago", "minAmount": 100, "maxAmount": 10, "requiredLevel": 2,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.seedPagoRule(t)
	w = env.do(t, http.MethodGet, "/api/v1/admin/matrix-rules?workflowType=pago", adminID, "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rules struct {
		Data []models.AuthorizationMatrixRule `json:"data"`
	}
	decode(t, w, &rules)
	require.Len(t, rules.Data, 1)

	w = env.do(t, http.MethodPost, "/api/v1/admin/matrix-rules/"+rules.Data[0].ID.String()+"/deactivate", adminID, "admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/admin/matrix-rules/"+uuid.NewString()+"/deactivate", adminID, "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// With no active rule the workflow is approved on creation
	workflow := env.createPago(t, 1000)
	assert.Equal(t, models.StatusAprobado, workflow.Status)
	assert.Empty(t, workflow.Steps)
}

func TestDelegations_Handler(t *testing.T) {
	env := setupTestEnv(t)
	now := env.clock.Now()
	body := gin.H{
		"delegateId":    deputyID,
		"workflowTypes": []string{"pago"},
		"validFrom":     now,
		"validUntil":    now.Add(72 * time.Hour),
		"reason":        "vacation",
	}

	w := env.do(t, http.MethodPost, "/api/v1/delegations", supervisorID, "supervisor", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created DelegationResponse
	decode(t, w, &created)
	assert.Equal(t, models.DelegationStatusActive, created.Status)

	w = env.do(t, http.MethodPost, "/api/v1/delegations", supervisorID, "supervisor", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/delegations/incoming", deputyID, "supervisor", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var incoming []DelegationResponse
	decode(t, w, &incoming)
	require.Len(t, incoming, 1)

	path := "/api/v1/delegations/" + created.ID.String()
	w = env.do(t, http.MethodGet, path, requesterID, "solicitante", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, path+"/revoke", deputyID, "supervisor", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, path+"/revoke", supervisorID, "supervisor", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var revoked DelegationResponse
	decode(t, w, &revoked)
	assert.False(t, revoked.IsActive)
	assert.Equal(t, models.DelegationStatusRevoked, revoked.Status)

	w = env.do(t, http.MethodGet, "/api/v1/delegations/outgoing", supervisorID, "supervisor", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var outgoing []DelegationResponse
	decode(t, w, &outgoing)
	assert.Len(t, outgoing, 1)
}

func TestNotifications_Handler(t *testing.T) {
	env := setupTestEnv(t)
	env.seedPagoRule(t)
	env.createPago(t, 1000)

	w := env.do(t, http.MethodGet, "/api/v1/notifications?unread=true", supervisorID, "supervisor", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var inbox struct {
		Data  []models.WorkflowNotification `json:"data"`
		Total int64                         `json:"total"`
	}
	decode(t, w, &inbox)
	require.Equal(t, int64(1), inbox.Total)
	assert.Equal(t, models.NotificationApprovalRequired, inbox.Data[0].NotificationType)

	readPath := "/api/v1/notifications/" + inbox.Data[0].ID.String() + "/read"
	w = env.do(t, http.MethodPost, readPath, requesterID, "solicitante", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, readPath, supervisorID, "supervisor", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/notifications?unread=true", supervisorID, "supervisor", nil)
	decode(t, w, &inbox)
	assert.Equal(t, int64(0), inbox.Total)
}

func TestEscalations_Handler(t *testing.T) {
	env := setupTestEnv(t)
	result := jobs.SweepResult{Scanned: 3, Reminders: 2}
	env.runner.On("ProcessEscalations", mock.Anything).Return(result, nil).Once()
	env.runner.On("ProcessEscalations", mock.Anything).Return(jobs.SweepResult{}, errors.New("db down")).Once()
	env.runner.On("Stats").Return(jobs.EscalationStats{Runs: 1, TotalReminders: 2})

	w := env.do(t, http.MethodPost, "/api/v1/admin/escalations/run", supervisorID, "supervisor", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/admin/escalations/run", adminID, "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reminders":2`)

	w = env.do(t, http.MethodPost, "/api/v1/admin/escalations/run", adminID, "ejecutivo", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")

	w = env.do(t, http.MethodGet, "/api/v1/admin/escalations/stats", adminID, "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"totalReminders":2`)

	env.runner.AssertExpectations(t)
}

func TestExportReport_Handler(t *testing.T) {
	env := setupTestEnv(t)
	env.seedPagoRule(t)
	workflow := env.createPago(t, 1000)

	claimed, err := env.repo.ClaimEscalation(context.Background(), &models.EscalationRecord{
		WorkflowID:     workflow.ID,
		EscalationType: models.EscalationTypeReminder,
		TriggerHours:   6,
		TargetUserID:   supervisorID,
		Message:        "reminder",
	})
	require.NoError(t, err)
	require.True(t, claimed)

	w := env.do(t, http.MethodGet, "/api/v1/admin/escalations/report?type=reminder", adminID, "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, reports.ContentType, w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Disposition"), "attachment; filename=escalations_20240301"))
	assert.NotZero(t, w.Body.Len())

	w = env.do(t, http.MethodGet, "/api/v1/admin/escalations/report?since=yesterday", adminID, "admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
