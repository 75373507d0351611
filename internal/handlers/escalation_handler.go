package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"authorization-service/internal/clock"
	"authorization-service/internal/jobs"
	"authorization-service/internal/models"
	"authorization-service/internal/reports"
	"authorization-service/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EscalationRunner runs escalation sweeps on demand
type EscalationRunner interface {
	ProcessEscalations(ctx context.Context) (jobs.SweepResult, error)
	Stats() jobs.EscalationStats
}

// EscalationHandler exposes the escalation sweep to administrators
type EscalationHandler struct {
	runner EscalationRunner
	repo   repository.WorkflowRepositoryInterface
	clock  clock.Clock
	logger *logrus.Entry
}

// NewEscalationHandler creates a new EscalationHandler
func NewEscalationHandler(runner EscalationRunner, repo repository.WorkflowRepositoryInterface, clk clock.Clock, logger *logrus.Entry) *EscalationHandler {
	return &EscalationHandler{
		runner: runner,
		repo:   repo,
		clock:  clk,
		logger: logger.WithField("handler", "escalation"),
	}
}

// RunSweep triggers an escalation sweep immediately
// @Summary Run escalation sweep
// @Tags Admin
// @Produce json
// @Success 200 {object} jobs.SweepResult
// @Router /api/v1/admin/escalations/run [post]
func (h *EscalationHandler) RunSweep(c *gin.Context) {
	result, err := h.runner.ProcessEscalations(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

// GetStats returns sweep statistics since startup
// @Summary Escalation sweep statistics
// @Tags Admin
// @Produce json
// @Success 200 {object} jobs.EscalationStats
// @Router /api/v1/admin/escalations/stats [get]
func (h *EscalationHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.runner.Stats())
}

// ExportReport downloads escalation records as an Excel workbook
// @Summary Export escalation report
// @Tags Admin
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param type query string false "Escalation type (reminder, escalation, final_escalation)"
// @Param workflowId query string false "Workflow ID"
// @Param since query string false "RFC3339 lower bound on creation time"
// @Param limit query int false "Maximum records" default(1000)
// @Success 200 {file} file
// @Router /api/v1/admin/escalations/report [get]
func (h *EscalationHandler) ExportReport(c *gin.Context) {
	filter := repository.EscalationFilter{
		EscalationType: c.Query("type"),
		Limit:          1000,
	}
	if raw := c.Query("workflowId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflowId"})
			return
		}
		filter.WorkflowID = &id
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC3339 timestamp"})
			return
		}
		filter.Since = &since
	}
	if raw := c.Query("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 && limit <= 10000 {
			filter.Limit = limit
		}
	}

	ctx := c.Request.Context()
	records, err := h.repo.ListEscalationRecords(ctx, filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	workflows := make(map[uuid.UUID]models.Workflow)
	for _, r := range records {
		if _, seen := workflows[r.WorkflowID]; seen {
			continue
		}
		w, err := h.repo.GetWorkflowByID(ctx, r.WorkflowID)
		if err != nil {
			h.logger.WithError(err).WithField("workflow_id", r.WorkflowID).Warn("workflow missing from escalation report")
			continue
		}
		workflows[r.WorkflowID] = *w
	}

	now := h.clock.Now()
	filename := fmt.Sprintf("escalations_%s.xlsx", now.Format("20060102_150405"))
	c.Header("Content-Type", reports.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	if err := reports.WriteEscalationReport(c.Writer, records, workflows, now); err != nil {
		h.logger.WithError(err).Error("failed to write escalation report")
		c.Status(http.StatusInternalServerError)
		return
	}
}
