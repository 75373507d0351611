package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authorization-service/internal/clock"
	"authorization-service/internal/models"
	"authorization-service/internal/repository"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DelegationService manages authority delegations and resolves who may act
// for a nominal approver at a point in time
type DelegationService struct {
	repo   repository.WorkflowRepositoryInterface
	clock  clock.Clock
	logger *logrus.Entry
}

// NewDelegationService creates a new DelegationService
func NewDelegationService(repo repository.WorkflowRepositoryInterface, clk clock.Clock, logger *logrus.Entry) *DelegationService {
	return &DelegationService{
		repo:   repo,
		clock:  clk,
		logger: logger.WithField("component", "delegation"),
	}
}

// CreateDelegationInput represents input for creating a delegation
type CreateDelegationInput struct {
	DelegateID    uuid.UUID `json:"delegateId" binding:"required"`
	WorkflowTypes []string  `json:"workflowTypes" binding:"required"`
	MaxAmount     *float64  `json:"maxAmount,omitempty"`
	ValidFrom     time.Time `json:"validFrom" binding:"required"`
	ValidUntil    time.Time `json:"validUntil" binding:"required"`
	Reason        string    `json:"reason"`
}

// ResolveActor returns the user who effectively holds nominalApproverID's
// authority for a workflow of the given type and amount at the given time
func (s *DelegationService) ResolveActor(ctx context.Context, nominalApproverID uuid.UUID, workflowType string, amount float64, at time.Time) (uuid.UUID, error) {
	return resolveActor(ctx, s.repo, nominalApproverID, workflowType, amount, at)
}

func resolveActor(ctx context.Context, repo repository.WorkflowRepositoryInterface, nominalApproverID uuid.UUID, workflowType string, amount float64, at time.Time) (uuid.UUID, error) {
	delegations, err := repo.FindActiveDelegations(ctx, nominalApproverID, at)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to load delegations: %w", err)
	}

	var match *models.AuthorityDelegation
	for i := range delegations {
		if !delegations[i].Applies(workflowType, amount, at) {
			continue
		}
		if match != nil && match.DelegateID != delegations[i].DelegateID {
			return uuid.Nil, ErrAmbiguousDelegation
		}
		match = &delegations[i]
	}
	if match == nil {
		return nominalApproverID, nil
	}
	return match.DelegateID, nil
}

// EffectiveApprover resolves the workflow's stored approver through the
// delegations in force at the given time. Nil when the workflow has none.
func EffectiveApprover(ctx context.Context, repo repository.WorkflowRepositoryInterface, w *models.Workflow, at time.Time) (*uuid.UUID, error) {
	return resolveOptional(ctx, repo, w.CurrentApprover, w.WorkflowType, w.Amount, at)
}

// resolveOptional resolves a possibly unassigned approver
func resolveOptional(ctx context.Context, repo repository.WorkflowRepositoryInterface, nominal *uuid.UUID, workflowType string, amount float64, at time.Time) (*uuid.UUID, error) {
	if nominal == nil {
		return nil, nil
	}
	actor, err := resolveActor(ctx, repo, *nominal, workflowType, amount, at)
	if err != nil {
		return nil, err
	}
	return &actor, nil
}

// CreateAuthorityDelegation validates and stores a delegation from delegatorID
func (s *DelegationService) CreateAuthorityDelegation(ctx context.Context, delegatorID uuid.UUID, input CreateDelegationInput) (*models.AuthorityDelegation, error) {
	if input.DelegateID == uuid.Nil {
		return nil, invalid("delegateId", "is required")
	}
	if input.DelegateID == delegatorID {
		return nil, invalid("delegateId", "cannot delegate to yourself")
	}
	if !input.ValidUntil.After(input.ValidFrom) {
		return nil, invalid("validUntil", "must be after validFrom")
	}
	now := s.clock.Now()
	if input.ValidUntil.Before(now) {
		return nil, invalid("validUntil", "must be in the future")
	}
	if len(input.WorkflowTypes) == 0 {
		return nil, invalid("workflowTypes", "at least one workflow type is required")
	}
	seen := make(map[string]bool, len(input.WorkflowTypes))
	types := make(pq.StringArray, 0, len(input.WorkflowTypes))
	for _, t := range input.WorkflowTypes {
		if !models.ValidWorkflowType(t) {
			return nil, invalid("workflowTypes", "unknown workflow type %q", t)
		}
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	if input.MaxAmount != nil && *input.MaxAmount <= 0 {
		return nil, invalid("maxAmount", "must be positive")
	}

	delegation := &models.AuthorityDelegation{
		DelegatorID:   delegatorID,
		DelegateID:    input.DelegateID,
		WorkflowTypes: types,
		MaxAmount:     input.MaxAmount,
		ValidFrom:     input.ValidFrom.UTC(),
		ValidUntil:    input.ValidUntil.UTC(),
		Reason:        input.Reason,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.repo.WithTransaction(ctx, func(txRepo repository.WorkflowRepositoryInterface) error {
		existing, err := txRepo.FindOverlappingDelegations(ctx, delegatorID, delegation.ValidFrom, delegation.ValidUntil)
		if err != nil {
			return fmt.Errorf("failed to check for overlapping delegations: %w", err)
		}
		for i := range existing {
			if existing[i].Overlaps(delegation) {
				return ErrOverlappingDelegation
			}
		}
		if err := txRepo.CreateDelegation(ctx, delegation); err != nil {
			return fmt.Errorf("failed to create delegation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"delegation_id": delegation.ID,
		"delegator_id":  delegatorID,
		"delegate_id":   delegation.DelegateID,
	}).Info("delegation created")
	return delegation, nil
}

// RevokeAuthorityDelegation deactivates a delegation. Only the delegator or a
// user allowed to manage delegations may revoke it. Decisions already taken
// under the delegation stand.
func (s *DelegationService) RevokeAuthorityDelegation(ctx context.Context, id uuid.UUID, actorID uuid.UUID, actorRoles []models.Role) (*models.AuthorityDelegation, error) {
	delegation, err := s.GetDelegation(ctx, id)
	if err != nil {
		return nil, err
	}
	if delegation.DelegatorID != actorID && !models.HasCapability(actorRoles, models.CapManageDelegations) {
		return nil, ErrNotDelegator
	}
	if !delegation.IsActive {
		return nil, ErrDelegationNotFound
	}

	now := s.clock.Now()
	if err := s.repo.RevokeDelegation(ctx, id, actorID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDelegationNotFound
		}
		return nil, err
	}
	delegation.IsActive = false
	delegation.RevokedAt = &now
	delegation.RevokedBy = &actorID
	delegation.UpdatedAt = now

	s.logger.WithFields(logrus.Fields{
		"delegation_id": id,
		"revoked_by":    actorID,
	}).Info("delegation revoked")
	return delegation, nil
}

// GetDelegation retrieves a delegation by ID
func (s *DelegationService) GetDelegation(ctx context.Context, id uuid.UUID) (*models.AuthorityDelegation, error) {
	delegation, err := s.repo.GetDelegationByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDelegationNotFound
		}
		return nil, err
	}
	return delegation, nil
}

// ListOutgoing lists delegations created by delegatorID
func (s *DelegationService) ListOutgoing(ctx context.Context, delegatorID uuid.UUID) ([]models.AuthorityDelegation, error) {
	return s.repo.ListDelegationsByDelegator(ctx, delegatorID)
}

// ListIncoming lists delegations granted to delegateID
func (s *DelegationService) ListIncoming(ctx context.Context, delegateID uuid.UUID) ([]models.AuthorityDelegation, error) {
	return s.repo.ListDelegationsByDelegate(ctx, delegateID)
}

// DelegationStatus returns the status of d at the current time
func (s *DelegationService) DelegationStatus(d *models.AuthorityDelegation) string {
	return d.StatusAt(s.clock.Now())
}
