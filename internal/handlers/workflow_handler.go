package handlers

import (
	"net/http"

	"authorization-service/internal/repository"
	"authorization-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// WorkflowHandler handles HTTP requests for workflows and their steps
type WorkflowHandler struct {
	engine *services.WorkflowEngine
	logger *logrus.Entry
}

// NewWorkflowHandler creates a new WorkflowHandler
func NewWorkflowHandler(engine *services.WorkflowEngine, logger *logrus.Entry) *WorkflowHandler {
	return &WorkflowHandler{
		engine: engine,
		logger: logger.WithField("handler", "workflow"),
	}
}

// StepActionRequest is the body of a step action
type StepActionRequest struct {
	Action   string `json:"action" binding:"required"`
	Comments string `json:"comments"`
}

// CancelWorkflowRequest is the body of a cancellation
type CancelWorkflowRequest struct {
	Reason string `json:"reason"`
}

// CreateWorkflow creates a workflow and its approval steps from the matrix
// @Summary Create workflow
// @Tags Workflows
// @Accept json
// @Produce json
// @Param request body services.CreateWorkflowInput true "Workflow"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /api/v1/workflows [post]
func (h *WorkflowHandler) CreateWorkflow(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var input services.CreateWorkflowInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	workflow, steps, err := h.engine.CreateMultiLevelWorkflow(c.Request.Context(), actor.ID, input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    workflow,
		"steps":   len(steps),
		"message": "Workflow created successfully",
	})
}

// ListWorkflows lists workflows with optional filters
// @Summary List workflows
// @Tags Workflows
// @Produce json
// @Param status query string false "Status filter"
// @Param workflowType query string false "Workflow type filter"
// @Param projectId query string false "Project filter"
// @Param mine query bool false "Only workflows requested by the caller"
// @Param limit query int false "Limit" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/workflows [get]
func (h *WorkflowHandler) ListWorkflows(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	limit, offset := pagination(c)
	filter := repository.WorkflowFilter{
		Status:       c.Query("status"),
		WorkflowType: c.Query("workflowType"),
		Limit:        limit,
		Offset:       offset,
	}
	if raw := c.Query("projectId"); raw != "" {
		projectID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid projectId"})
			return
		}
		filter.ProjectID = &projectID
	}
	if c.Query("mine") == "true" {
		filter.RequestedBy = &actor.ID
	}

	workflows, total, err := h.engine.ListWorkflows(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   workflows,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// ListPending lists the open workflows the caller can act on now
// @Summary List workflows requiring my approval
// @Tags Workflows
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/workflows/pending [get]
func (h *WorkflowHandler) ListPending(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	workflows, err := h.engine.GetWorkflowsRequiringApproval(c.Request.Context(), actor.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  workflows,
		"total": len(workflows),
	})
}

// GetWorkflow retrieves a workflow with its steps
// @Summary Get workflow
// @Tags Workflows
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 200 {object} models.Workflow
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/workflows/{id} [get]
func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	workflow, err := h.engine.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, workflow)
}

// GetHistory returns the audit trail of a workflow
// @Summary Get workflow history
// @Tags Workflows
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/workflows/{id}/history [get]
func (h *WorkflowHandler) GetHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	history, err := h.engine.GetWorkflowHistory(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": history})
}

// CancelWorkflow withdraws an open workflow
// @Summary Cancel workflow
// @Tags Workflows
// @Accept json
// @Produce json
// @Param id path string true "Workflow ID"
// @Param request body CancelWorkflowRequest false "Reason"
// @Success 200 {object} models.Workflow
// @Router /api/v1/workflows/{id}/cancel [post]
func (h *WorkflowHandler) CancelWorkflow(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body CancelWorkflowRequest
	_ = c.ShouldBindJSON(&body)

	workflow, err := h.engine.CancelWorkflow(c.Request.Context(), id, actor, body.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, workflow)
}

// ProcessStep approves, rejects or reverses a workflow step
// @Summary Act on a workflow step
// @Tags Workflows
// @Accept json
// @Produce json
// @Param id path string true "Step ID"
// @Param request body StepActionRequest true "Action"
// @Success 200 {object} models.Workflow
// @Failure 403 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/v1/workflow-steps/{id}/action [post]
func (h *WorkflowHandler) ProcessStep(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body StepActionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	workflow, err := h.engine.ProcessApprovalStep(c.Request.Context(), id, body.Action, body.Comments, actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, workflow)
}
