package handlers

import (
	"net/http"
	"time"

	"authorization-service/internal/models"
	"authorization-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DelegationHandler handles delegation-related HTTP requests
type DelegationHandler struct {
	service *services.DelegationService
	logger  *logrus.Entry
}

// NewDelegationHandler creates a new DelegationHandler
func NewDelegationHandler(service *services.DelegationService, logger *logrus.Entry) *DelegationHandler {
	return &DelegationHandler{
		service: service,
		logger:  logger.WithField("handler", "delegation"),
	}
}

// DelegationResponse represents a delegation in API responses
type DelegationResponse struct {
	ID            uuid.UUID  `json:"id"`
	DelegatorID   uuid.UUID  `json:"delegatorId"`
	DelegateID    uuid.UUID  `json:"delegateId"`
	WorkflowTypes []string   `json:"workflowTypes"`
	MaxAmount     *float64   `json:"maxAmount,omitempty"`
	ValidFrom     time.Time  `json:"validFrom"`
	ValidUntil    time.Time  `json:"validUntil"`
	Reason        string     `json:"reason,omitempty"`
	Status        string     `json:"status"`
	IsActive      bool       `json:"isActive"`
	RevokedAt     *time.Time `json:"revokedAt,omitempty"`
	RevokedBy     *uuid.UUID `json:"revokedBy,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// CreateDelegation creates a new delegation of the caller's authority
// @Summary Create a new delegation
// @Description Delegate approval authority to another user for a time window
// @Tags Delegations
// @Accept json
// @Produce json
// @Param request body services.CreateDelegationInput true "Delegation details"
// @Success 201 {object} DelegationResponse
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /api/v1/delegations [post]
func (h *DelegationHandler) CreateDelegation(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var input services.CreateDelegationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	delegation, err := h.service.CreateAuthorityDelegation(c.Request.Context(), actor.ID, input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, h.toResponse(delegation))
}

// GetDelegation retrieves a delegation by ID
// @Summary Get a delegation
// @Tags Delegations
// @Produce json
// @Param id path string true "Delegation ID"
// @Success 200 {object} DelegationResponse
// @Failure 404 {object} map[string]string
// @Router /api/v1/delegations/{id} [get]
func (h *DelegationHandler) GetDelegation(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	delegation, err := h.service.GetDelegation(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	// Only parties to the delegation and delegation managers may see it
	if delegation.DelegatorID != actor.ID && delegation.DelegateID != actor.ID &&
		!models.HasCapability(actor.Roles, models.CapManageDelegations) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	c.JSON(http.StatusOK, h.toResponse(delegation))
}

// ListOutgoing lists delegations created by the caller
// @Summary List my delegations
// @Tags Delegations
// @Produce json
// @Success 200 {array} DelegationResponse
// @Router /api/v1/delegations/outgoing [get]
func (h *DelegationHandler) ListOutgoing(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	delegations, err := h.service.ListOutgoing(c.Request.Context(), actor.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponses(delegations))
}

// ListIncoming lists delegations granted to the caller
// @Summary List delegations to me
// @Tags Delegations
// @Produce json
// @Success 200 {array} DelegationResponse
// @Router /api/v1/delegations/incoming [get]
func (h *DelegationHandler) ListIncoming(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	delegations, err := h.service.ListIncoming(c.Request.Context(), actor.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponses(delegations))
}

// RevokeDelegation revokes a delegation
// @Summary Revoke a delegation
// @Tags Delegations
// @Produce json
// @Param id path string true "Delegation ID"
// @Success 200 {object} DelegationResponse
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/v1/delegations/{id}/revoke [post]
func (h *DelegationHandler) RevokeDelegation(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	delegation, err := h.service.RevokeAuthorityDelegation(c.Request.Context(), id, actor.ID, actor.Roles)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, h.toResponse(delegation))
}

func (h *DelegationHandler) toResponses(delegations []models.AuthorityDelegation) []DelegationResponse {
	responses := make([]DelegationResponse, len(delegations))
	for i := range delegations {
		responses[i] = h.toResponse(&delegations[i])
	}
	return responses
}

func (h *DelegationHandler) toResponse(d *models.AuthorityDelegation) DelegationResponse {
	return DelegationResponse{
		ID:            d.ID,
		DelegatorID:   d.DelegatorID,
		DelegateID:    d.DelegateID,
		WorkflowTypes: d.WorkflowTypes,
		MaxAmount:     d.MaxAmount,
		ValidFrom:     d.ValidFrom,
		ValidUntil:    d.ValidUntil,
		Reason:        d.Reason,
		Status:        h.service.DelegationStatus(d),
		IsActive:      d.IsActive,
		RevokedAt:     d.RevokedAt,
		RevokedBy:     d.RevokedBy,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
