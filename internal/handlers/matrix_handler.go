package handlers

import (
	"net/http"

	"authorization-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MatrixHandler handles administration of the authorization matrix
type MatrixHandler struct {
	service *services.MatrixService
	logger  *logrus.Entry
}

// NewMatrixHandler creates a new MatrixHandler
func NewMatrixHandler(service *services.MatrixService, logger *logrus.Entry) *MatrixHandler {
	return &MatrixHandler{
		service: service,
		logger:  logger.WithField("handler", "matrix"),
	}
}

// ListRules lists matrix rules
// @Summary List authorization matrix rules
// @Tags Admin
// @Produce json
// @Param workflowType query string false "Workflow type filter"
// @Param includeInactive query bool false "Include deactivated rules"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/matrix-rules [get]
func (h *MatrixHandler) ListRules(c *gin.Context) {
	rules, err := h.service.ListRules(c.Request.Context(), c.Query("workflowType"), c.Query("includeInactive") == "true")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  rules,
		"total": len(rules),
	})
}

// CreateRule adds a matrix rule
// @Summary Create authorization matrix rule
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body services.CreateRuleInput true "Rule"
// @Success 201 {object} models.AuthorizationMatrixRule
// @Failure 400 {object} map[string]interface{}
// @Router /api/v1/admin/matrix-rules [post]
func (h *MatrixHandler) CreateRule(c *gin.Context) {
	var input services.CreateRuleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := h.service.CreateRule(c.Request.Context(), input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// DeactivateRule retires a matrix rule
// @Summary Deactivate authorization matrix rule
// @Tags Admin
// @Produce json
// @Param id path string true "Rule ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/admin/matrix-rules/{id}/deactivate [post]
func (h *MatrixHandler) DeactivateRule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.service.DeactivateRule(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Rule deactivated"})
}
