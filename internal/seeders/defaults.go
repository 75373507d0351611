package seeders

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"authorization-service/internal/models"
	"authorization-service/internal/repository"
	"github.com/sirupsen/logrus"
)

type ruleSeed struct {
	level    models.ApprovalLevel
	min, max *float64
}

func amount(v float64) *float64 {
	return &v
}

// defaultMatrix is the starting authorization matrix per workflow type.
// Bounds are inclusive so an amount on a shared bound needs both levels.
var defaultMatrix = map[string][]ruleSeed{
	models.WorkflowTypePago: {
		{level: models.LevelSupervisor, min: amount(0), max: amount(50000)},
		{level: models.LevelGerente, min: amount(50000), max: amount(200000)},
		{level: models.LevelDirector, min: amount(200000)},
	},
	models.WorkflowTypeLiberacionCredito: {
		{level: models.LevelGerente, min: amount(0)},
		{level: models.LevelDirector, min: amount(500000)},
		{level: models.LevelEjecutivo, min: amount(2000000)},
	},
	models.WorkflowTypePresupuesto: {
		{level: models.LevelSupervisor, min: amount(0), max: amount(100000)},
		{level: models.LevelGerente, min: amount(100000)},
		{level: models.LevelDirector, min: amount(1000000)},
	},
	models.WorkflowTypePermiso: {
		{level: models.LevelGerente},
	},
	models.WorkflowTypeLlamadaCapital: {
		{level: models.LevelDirector},
		{level: models.LevelEjecutivo, min: amount(5000000)},
	},
	models.WorkflowTypeVentaComercial: {
		{level: models.LevelGerente, min: amount(0)},
		{level: models.LevelDirector, min: amount(3000000)},
	},
	models.WorkflowTypeContrato: {
		{level: models.LevelSupervisor},
		{level: models.LevelGerente, min: amount(50000)},
		{level: models.LevelDirector, min: amount(1000000)},
	},
}

func sortedTypes[V any](m map[string]V) []string {
	types := make([]string, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// SeedMatrixRules installs the default matrix for every workflow type that
// has no rules yet, active or not. Types an administrator already configured
// are left alone.
func SeedMatrixRules(ctx context.Context, repo repository.WorkflowRepositoryInterface, logger *logrus.Entry) error {
	for _, workflowType := range sortedTypes(defaultMatrix) {
		existing, err := repo.ListMatrixRules(ctx, workflowType, false)
		if err != nil {
			return fmt.Errorf("failed to list matrix rules for %s: %w", workflowType, err)
		}
		if len(existing) > 0 {
			continue
		}

		for _, seed := range defaultMatrix[workflowType] {
			rule := &models.AuthorizationMatrixRule{
				WorkflowType:       workflowType,
				MinAmount:          seed.min,
				MaxAmount:          seed.max,
				RequiredLevel:      seed.level,
				RequiresSequential: true,
				IsActive:           true,
			}
			if err := repo.CreateMatrixRule(ctx, rule); err != nil {
				return fmt.Errorf("failed to seed %s rule for %s: %w", seed.level, workflowType, err)
			}
		}
		logger.WithFields(logrus.Fields{
			"workflow_type": workflowType,
			"rules":         len(defaultMatrix[workflowType]),
		}).Info("seeded authorization matrix")
	}
	return nil
}

// SeedEscalationPolicies stores the built-in escalation ladder for every
// workflow type without an active policy
func SeedEscalationPolicies(ctx context.Context, repo repository.WorkflowRepositoryInterface, logger *logrus.Entry) error {
	for _, workflowType := range sortedTypes(models.DefaultEscalationPolicies) {
		_, err := repo.GetEscalationPolicy(ctx, workflowType)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to load escalation policy for %s: %w", workflowType, err)
		}

		policy := models.DefaultEscalationPolicies[workflowType]
		if err := repo.UpsertEscalationPolicy(ctx, &policy); err != nil {
			return fmt.Errorf("failed to seed escalation policy for %s: %w", workflowType, err)
		}
		logger.WithField("workflow_type", workflowType).Info("seeded escalation policy")
	}
	return nil
}
