package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"authorization-service/internal/clock"
	"authorization-service/internal/models"
	"authorization-service/internal/repository"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// MatrixService answers which approval levels a workflow needs
type MatrixService struct {
	repo   repository.WorkflowRepositoryInterface
	rules  *cache.Cache
	clock  clock.Clock
	logger *logrus.Entry
}

// NewMatrixService creates a new MatrixService. Active rules are cached per
// workflow type for ttl; a zero ttl disables caching.
func NewMatrixService(repo repository.WorkflowRepositoryInterface, ttl time.Duration, clk clock.Clock, logger *logrus.Entry) *MatrixService {
	var c *cache.Cache
	if ttl > 0 {
		c = cache.New(ttl, 2*ttl)
	}
	return &MatrixService{
		repo:   repo,
		rules:  c,
		clock:  clk,
		logger: logger.WithField("component", "matrix"),
	}
}

// CreateRuleInput represents input for creating a matrix rule
type CreateRuleInput struct {
	WorkflowType       string               `json:"workflowType" binding:"required"`
	MinAmount          *float64             `json:"minAmount,omitempty"`
	MaxAmount          *float64             `json:"maxAmount,omitempty"`
	RequiredLevel      models.ApprovalLevel `json:"requiredLevel" binding:"required"`
	EscalationHours    int                  `json:"escalationHours"`
	RequiresSequential *bool                `json:"requiresSequential,omitempty"`
}

// SelectRules returns the active rules matching workflowType and amount,
// ordered by required level, then lower bound, then id
func SelectRules(rules []models.AuthorizationMatrixRule, workflowType string, amount float64) []models.AuthorizationMatrixRule {
	matched := make([]models.AuthorizationMatrixRule, 0, len(rules))
	for i := range rules {
		if rules[i].Matches(workflowType, amount) {
			matched = append(matched, rules[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.RequiredLevel != b.RequiredLevel {
			return a.RequiredLevel < b.RequiredLevel
		}
		if minOf(a) != minOf(b) {
			return minOf(a) < minOf(b)
		}
		return a.ID.String() < b.ID.String()
	})
	return matched
}

func minOf(r models.AuthorizationMatrixRule) float64 {
	if r.MinAmount == nil {
		return 0
	}
	return *r.MinAmount
}

// RequiredApprovals returns the ordered rules a workflow of the given type
// and amount must pass. An empty result is legal.
func (s *MatrixService) RequiredApprovals(ctx context.Context, workflowType string, amount float64) ([]models.AuthorizationMatrixRule, error) {
	if !models.ValidWorkflowType(workflowType) {
		return nil, invalid("workflowType", "unknown workflow type %q", workflowType)
	}
	if amount < 0 {
		return nil, invalid("amount", "must not be negative")
	}

	rules, err := s.activeRules(ctx, workflowType)
	if err != nil {
		return nil, err
	}
	return SelectRules(rules, workflowType, amount), nil
}

func (s *MatrixService) activeRules(ctx context.Context, workflowType string) ([]models.AuthorizationMatrixRule, error) {
	if s.rules != nil {
		if cached, ok := s.rules.Get(workflowType); ok {
			return cached.([]models.AuthorizationMatrixRule), nil
		}
	}
	rules, err := s.repo.ListMatrixRules(ctx, workflowType, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load matrix rules: %w", err)
	}
	if s.rules != nil {
		s.rules.Set(workflowType, rules, cache.DefaultExpiration)
	}
	return rules, nil
}

func (s *MatrixService) invalidate(workflowType string) {
	if s.rules != nil {
		s.rules.Delete(workflowType)
	}
}

// ListRules lists matrix rules, optionally for one workflow type
func (s *MatrixService) ListRules(ctx context.Context, workflowType string, includeInactive bool) ([]models.AuthorizationMatrixRule, error) {
	return s.repo.ListMatrixRules(ctx, workflowType, !includeInactive)
}

// CreateRule validates and stores a new matrix rule
func (s *MatrixService) CreateRule(ctx context.Context, input CreateRuleInput) (*models.AuthorizationMatrixRule, error) {
	if !models.ValidWorkflowType(input.WorkflowType) {
		return nil, invalid("workflowType", "unknown workflow type %q", input.WorkflowType)
	}
	if !input.RequiredLevel.Valid() {
		return nil, invalid("requiredLevel", "must be between %d and %d", models.LevelSupervisor, models.LevelEjecutivo)
	}
	if input.MinAmount != nil && *input.MinAmount < 0 {
		return nil, invalid("minAmount", "must not be negative")
	}
	if input.MinAmount != nil && input.MaxAmount != nil && *input.MinAmount > *input.MaxAmount {
		return nil, invalid("maxAmount", "must be greater than or equal to minAmount")
	}
	if input.EscalationHours < 0 {
		return nil, invalid("escalationHours", "must not be negative")
	}

	now := s.clock.Now()
	rule := &models.AuthorizationMatrixRule{
		WorkflowType:       input.WorkflowType,
		MinAmount:          input.MinAmount,
		MaxAmount:          input.MaxAmount,
		RequiredLevel:      input.RequiredLevel,
		EscalationHours:    input.EscalationHours,
		RequiresSequential: input.RequiresSequential == nil || *input.RequiresSequential,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.CreateMatrixRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create matrix rule: %w", err)
	}
	s.invalidate(rule.WorkflowType)

	s.logger.WithFields(logrus.Fields{
		"rule_id":        rule.ID,
		"workflow_type":  rule.WorkflowType,
		"required_level": rule.RequiredLevel.String(),
	}).Info("matrix rule created")
	return rule, nil
}

// DeactivateRule retires a rule. Steps already created from it are kept.
func (s *MatrixService) DeactivateRule(ctx context.Context, id uuid.UUID) error {
	rule, err := s.repo.GetMatrixRuleByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRuleNotFound
		}
		return err
	}
	if err := s.repo.DeactivateMatrixRule(ctx, id, s.clock.Now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRuleNotFound
		}
		return err
	}
	s.invalidate(rule.WorkflowType)
	s.logger.WithField("rule_id", id).Info("matrix rule deactivated")
	return nil
}
