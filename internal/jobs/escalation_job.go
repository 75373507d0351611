package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"authorization-service/internal/clock"
	"authorization-service/internal/events"
	"authorization-service/internal/models"
	"authorization-service/internal/repository"
	"authorization-service/internal/services"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultEscalationInterval is the default period between sweeps
	DefaultEscalationInterval = 1 * time.Hour

	// DefaultStartDelay is the delay before the first sweep after Start
	DefaultStartDelay = 30 * time.Second
)

// errSkipped marks an action another sweep already performed, or a workflow
// that closed while the sweep was running
var errSkipped = errors.New("escalation skipped")

// SweepResult summarizes one escalation sweep
type SweepResult struct {
	StartedAt        time.Time     `json:"startedAt"`
	Duration         time.Duration `json:"duration"`
	Scanned          int           `json:"scanned"`
	Reminders        int           `json:"reminders"`
	Escalations      int           `json:"escalations"`
	FinalEscalations int           `json:"finalEscalations"`
	Errors           int           `json:"errors"`
}

// EscalationStats tracks sweep statistics across runs
type EscalationStats struct {
	Runs                  int64        `json:"runs"`
	TotalReminders        int64        `json:"totalReminders"`
	TotalEscalations      int64        `json:"totalEscalations"`
	TotalFinalEscalations int64        `json:"totalFinalEscalations"`
	TotalErrors           int64        `json:"totalErrors"`
	LastRunAt             *time.Time   `json:"lastRunAt,omitempty"`
	LastRunDuration       string       `json:"lastRunDuration,omitempty"`
	LastResult            *SweepResult `json:"lastResult,omitempty"`
	LastError             string       `json:"lastError,omitempty"`
	Running               bool         `json:"running"`
}

// EscalationJob sweeps open workflows and applies the escalation ladder of
// their workflow type: reminders, escalation to a supervisor and final
// escalation to executives
type EscalationJob struct {
	repo       repository.WorkflowRepositoryInterface
	directory  services.UserDirectory
	publisher  services.EventPublisher
	clock      clock.Clock
	logger     *logrus.Entry
	interval   time.Duration
	startDelay time.Duration

	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
	stats   EscalationStats

	// serializes sweeps started from the ticker and from admin calls
	sweepMu sync.Mutex
}

// NewEscalationJob creates a new escalation job. A non-positive interval or
// a negative start delay falls back to the defaults.
func NewEscalationJob(
	repo repository.WorkflowRepositoryInterface,
	directory services.UserDirectory,
	publisher services.EventPublisher,
	clk clock.Clock,
	logger *logrus.Logger,
	interval, startDelay time.Duration,
) *EscalationJob {
	if interval <= 0 {
		interval = DefaultEscalationInterval
	}
	if startDelay < 0 {
		startDelay = DefaultStartDelay
	}
	return &EscalationJob{
		repo:       repo,
		directory:  directory,
		publisher:  publisher,
		clock:      clk,
		logger:     logger.WithField("component", "escalation-job"),
		interval:   interval,
		startDelay: startDelay,
	}
}

// Start runs the sweep loop in the background: once after the start delay,
// then every interval until Stop is called or ctx is cancelled. The job may
// be started again after Stop.
func (j *EscalationJob) Start(ctx context.Context) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	stopCh, doneCh := j.stopCh, j.doneCh
	j.mu.Unlock()

	go j.run(ctx, stopCh, doneCh)
	j.logger.WithFields(logrus.Fields{
		"interval":    j.interval.String(),
		"start_delay": j.startDelay.String(),
	}).Info("escalation job started")
}

// Stop signals the loop to exit and waits for the current sweep to finish
func (j *EscalationJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	stopCh, doneCh := j.stopCh, j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh
	j.logger.Info("escalation job stopped")
}

// Stats returns the current sweep statistics
func (j *EscalationJob) Stats() EscalationStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	stats := j.stats
	stats.Running = j.running
	return stats
}

func (j *EscalationJob) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	delay := time.NewTimer(j.startDelay)
	defer delay.Stop()
	select {
	case <-delay.C:
	case <-stopCh:
		return
	case <-ctx.Done():
		return
	}

	j.tick(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.tick(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			j.logger.Info("escalation job context cancelled")
			return
		}
	}
}

func (j *EscalationJob) tick(ctx context.Context) {
	if _, err := j.ProcessEscalations(ctx); err != nil {
		j.logger.WithError(err).Error("escalation sweep failed")
	}
}

// ProcessEscalations runs one sweep over every open workflow. Failures are
// isolated per workflow; only a failure to list workflows is returned.
func (j *EscalationJob) ProcessEscalations(ctx context.Context) (SweepResult, error) {
	j.sweepMu.Lock()
	defer j.sweepMu.Unlock()

	now := j.clock.Now()
	started := time.Now()
	result := SweepResult{StartedAt: now}

	workflows, err := j.repo.ListOpenWorkflows(ctx)
	if err != nil {
		j.recordRun(result, started, err)
		return result, fmt.Errorf("failed to list open workflows: %w", err)
	}

	for i := range workflows {
		if ctx.Err() != nil {
			break
		}
		result.Scanned++
		if err := j.processWorkflow(ctx, &workflows[i], now, &result); err != nil {
			result.Errors++
			j.logger.WithError(err).WithFields(logrus.Fields{
				"workflow_id":   workflows[i].ID,
				"workflow_type": workflows[i].WorkflowType,
			}).Error("failed to process escalations for workflow")
		}
	}

	j.recordRun(result, started, nil)
	j.logger.WithFields(logrus.Fields{
		"scanned":           result.Scanned,
		"reminders":         result.Reminders,
		"escalations":       result.Escalations,
		"final_escalations": result.FinalEscalations,
		"errors":            result.Errors,
	}).Info("escalation sweep completed")
	return result, nil
}

func (j *EscalationJob) recordRun(result SweepResult, started time.Time, err error) {
	result.Duration = time.Since(started)

	j.mu.Lock()
	defer j.mu.Unlock()
	runAt := result.StartedAt
	j.stats.Runs++
	j.stats.TotalReminders += int64(result.Reminders)
	j.stats.TotalEscalations += int64(result.Escalations)
	j.stats.TotalFinalEscalations += int64(result.FinalEscalations)
	j.stats.TotalErrors += int64(result.Errors)
	j.stats.LastRunAt = &runAt
	j.stats.LastRunDuration = result.Duration.String()
	j.stats.LastResult = &result
	j.stats.LastError = ""
	if err != nil {
		j.stats.LastError = err.Error()
	}
}

// HoursElapsed returns the whole hours between createdAt and now
func HoursElapsed(createdAt, now time.Time) int {
	if now.Before(createdAt) {
		return 0
	}
	return int(now.Sub(createdAt) / time.Hour)
}

type recordKey struct {
	escalationType string
	triggerHours   int
}

// processWorkflow applies every due rung of the ladder to one workflow.
// Each rung runs in its own transaction and is evaluated even when an
// earlier rung failed; the failures are joined and returned.
func (j *EscalationJob) processWorkflow(ctx context.Context, w *models.Workflow, now time.Time, result *SweepResult) error {
	policy, err := j.policyFor(ctx, w.WorkflowType)
	if err != nil {
		return err
	}
	hours := HoursElapsed(w.CreatedAt, now)

	existing, err := j.repo.ListEscalationRecords(ctx, repository.EscalationFilter{WorkflowID: &w.ID})
	if err != nil {
		return fmt.Errorf("failed to load escalation records: %w", err)
	}
	seen := make(map[recordKey]bool, len(existing))
	sentByType := make(map[string]int)
	for _, r := range existing {
		seen[recordKey{r.EscalationType, r.TriggerHours}] = true
		sentByType[r.EscalationType]++
	}

	var errs []error

	reminders := policy.Reminders()
	sort.Ints(reminders)
	for _, threshold := range reminders {
		if threshold > hours {
			break
		}
		if policy.MaxAttempts > 0 && sentByType[models.EscalationTypeReminder] >= policy.MaxAttempts {
			break
		}
		if seen[recordKey{models.EscalationTypeReminder, threshold}] {
			continue
		}
		err := j.sendReminder(ctx, w.ID, threshold, now)
		if errors.Is(err, errSkipped) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("reminder at %dh: %w", threshold, err))
			break
		}
		sentByType[models.EscalationTypeReminder]++
		result.Reminders++
	}

	if policy.EscalationHours > 0 && hours >= policy.EscalationHours && sentByType[models.EscalationTypeEscalation] == 0 {
		err := j.escalate(ctx, w, policy.EscalationHours, now)
		switch {
		case errors.Is(err, errSkipped):
		case err != nil:
			errs = append(errs, fmt.Errorf("escalation: %w", err))
		default:
			result.Escalations++
		}
	}

	if policy.FinalEscalationHours > 0 && hours >= policy.FinalEscalationHours && sentByType[models.EscalationTypeFinalEscalation] == 0 {
		err := j.finalEscalate(ctx, w, policy.FinalEscalationHours, now)
		switch {
		case errors.Is(err, errSkipped):
		case err != nil:
			errs = append(errs, fmt.Errorf("final escalation: %w", err))
		default:
			result.FinalEscalations++
		}
	}
	return errors.Join(errs...)
}

func (j *EscalationJob) policyFor(ctx context.Context, workflowType string) (*models.EscalationPolicy, error) {
	policy, err := j.repo.GetEscalationPolicy(ctx, workflowType)
	if err == nil {
		return policy, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load escalation policy: %w", err)
	}
	if def, ok := models.DefaultEscalationPolicies[workflowType]; ok {
		return &def, nil
	}
	return nil, fmt.Errorf("no escalation policy for workflow type %q", workflowType)
}

// reloadOpen re-reads the workflow inside a transaction and skips it if it
// closed since the sweep listed it
func reloadOpen(ctx context.Context, repo repository.WorkflowRepositoryInterface, id uuid.UUID) (*models.Workflow, error) {
	w, err := repo.GetWorkflowByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload workflow: %w", err)
	}
	if w.IsTerminal() || w.ApprovedAt != nil || w.RejectedAt != nil {
		return nil, errSkipped
	}
	return w, nil
}

func (j *EscalationJob) sendReminder(ctx context.Context, workflowID uuid.UUID, threshold int, now time.Time) error {
	outbox := &services.Outbox{}
	err := j.repo.WithTransaction(ctx, func(txRepo repository.WorkflowRepositoryInterface) error {
		w, err := reloadOpen(ctx, txRepo, workflowID)
		if err != nil {
			return err
		}
		recipient := w.RequestedBy
		effective, err := services.EffectiveApprover(ctx, txRepo, w, now)
		if err != nil {
			return fmt.Errorf("failed to resolve reminder recipient: %w", err)
		}
		if effective != nil {
			recipient = *effective
		}
		message := fmt.Sprintf("Reminder: %s request %q has been waiting for a decision for %d hours", w.WorkflowType, w.Title, threshold)

		claimed, err := txRepo.ClaimEscalation(ctx, &models.EscalationRecord{
			ID:               uuid.New(),
			WorkflowID:       w.ID,
			EscalationType:   models.EscalationTypeReminder,
			TriggerHours:     threshold,
			TargetUserID:     recipient,
			PreviousApprover: w.CurrentApprover,
			Message:          message,
			IsProcessed:      true,
			CreatedAt:        now,
		})
		if err != nil {
			return fmt.Errorf("failed to record reminder: %w", err)
		}
		if !claimed {
			return errSkipped
		}

		history := services.NewHistory(w.ID, nil, nil, models.HistoryReminder, w.Status, w.Status, message,
			map[string]interface{}{"trigger_hours": threshold, "recipient": recipient.String()}, now)
		if err := txRepo.CreateHistory(ctx, history); err != nil {
			return fmt.Errorf("failed to create history: %w", err)
		}
		n := services.NewNotification(w.ID, recipient, models.NotificationReminder, models.PriorityNormal, message,
			map[string]interface{}{"trigger_hours": threshold}, now)
		return outbox.Notify(ctx, txRepo, n)
	})
	if err != nil {
		return err
	}
	outbox.Flush(ctx, j.publisher, j.logger)
	j.logger.WithFields(logrus.Fields{"workflow_id": workflowID, "trigger_hours": threshold}).Info("reminder sent")
	return nil
}

// findSupervisor returns the first active user able to supervise who is
// neither the current approver nor the requester
func (j *EscalationJob) findSupervisor(ctx context.Context, w *models.Workflow) (uuid.UUID, error) {
	if j.directory == nil {
		return uuid.Nil, services.ErrNoSupervisor
	}
	users, err := j.directory.GetUsersByRole(ctx, models.RolesWithCapability(models.CapSupervise))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to look up supervisors: %w", err)
	}
	for _, u := range users {
		if !u.IsActive || u.ID == w.RequestedBy {
			continue
		}
		if w.CurrentApprover != nil && u.ID == *w.CurrentApprover {
			continue
		}
		return u.ID, nil
	}
	return uuid.Nil, services.ErrNoSupervisor
}

func (j *EscalationJob) escalate(ctx context.Context, listed *models.Workflow, threshold int, now time.Time) error {
	supervisor, err := j.findSupervisor(ctx, listed)
	if err != nil {
		return err
	}

	outbox := &services.Outbox{}
	err = j.repo.WithTransaction(ctx, func(txRepo repository.WorkflowRepositoryInterface) error {
		w, err := reloadOpen(ctx, txRepo, listed.ID)
		if err != nil {
			return err
		}
		previous := w.CurrentApprover
		message := fmt.Sprintf("%s request %q has been escalated to you after %d hours without a decision", w.WorkflowType, w.Title, threshold)

		claimed, err := txRepo.ClaimEscalation(ctx, &models.EscalationRecord{
			ID:               uuid.New(),
			WorkflowID:       w.ID,
			EscalationType:   models.EscalationTypeEscalation,
			TriggerHours:     threshold,
			TargetUserID:     supervisor,
			PreviousApprover: previous,
			Message:          message,
			IsProcessed:      true,
			CreatedAt:        now,
		})
		if err != nil {
			return fmt.Errorf("failed to record escalation: %w", err)
		}
		if !claimed {
			return errSkipped
		}

		fromStatus := w.Status
		newStatus := models.StatusEscalado
		if fromStatus == models.StatusEscalamientoCritico {
			newStatus = fromStatus
		}
		update := repository.WorkflowUpdate{
			Status:          newStatus,
			CurrentApprover: &supervisor,
			EscalatedAt:     &now,
			UpdatedAt:       now,
		}
		if err := txRepo.UpdateWorkflowState(ctx, w.ID, fromStatus, update); err != nil {
			return fmt.Errorf("failed to escalate workflow: %w", err)
		}
		services.ApplyUpdate(w, update)

		meta := map[string]interface{}{"trigger_hours": threshold, "supervisor": supervisor.String()}
		if previous != nil {
			meta["previous_approver"] = previous.String()
		}
		history := services.NewHistory(w.ID, nil, nil, models.HistoryEscalated, fromStatus, w.Status, message, meta, now)
		if err := txRepo.CreateHistory(ctx, history); err != nil {
			return fmt.Errorf("failed to create history: %w", err)
		}
		if err := outbox.Notify(ctx, txRepo, services.NewNotification(w.ID, supervisor, models.NotificationEscalation, models.PriorityHigh, message, meta, now)); err != nil {
			return err
		}
		outbox.Event(events.WorkflowEscalated, w, nil)
		return nil
	})
	if err != nil {
		return err
	}
	outbox.Flush(ctx, j.publisher, j.logger)
	j.logger.WithFields(logrus.Fields{"workflow_id": listed.ID, "supervisor": supervisor}).Info("workflow escalated")
	return nil
}

func (j *EscalationJob) findExecutives(ctx context.Context) ([]uuid.UUID, error) {
	if j.directory == nil {
		return nil, services.ErrNoExecutives
	}
	users, err := j.directory.GetUsersByRole(ctx, models.RolesWithCapability(models.CapExecutive))
	if err != nil {
		return nil, fmt.Errorf("failed to look up executives: %w", err)
	}
	var ids []uuid.UUID
	for _, u := range users {
		if u.IsActive {
			ids = append(ids, u.ID)
		}
	}
	if len(ids) == 0 {
		return nil, services.ErrNoExecutives
	}
	return ids, nil
}

func (j *EscalationJob) finalEscalate(ctx context.Context, listed *models.Workflow, threshold int, now time.Time) error {
	executives, err := j.findExecutives(ctx)
	if err != nil {
		return err
	}

	outbox := &services.Outbox{}
	err = j.repo.WithTransaction(ctx, func(txRepo repository.WorkflowRepositoryInterface) error {
		w, err := reloadOpen(ctx, txRepo, listed.ID)
		if err != nil {
			return err
		}
		message := fmt.Sprintf("CRITICAL: %s request %q (amount %.2f) has gone %d hours without a decision", w.WorkflowType, w.Title, w.Amount, threshold)

		claimed, err := txRepo.ClaimEscalation(ctx, &models.EscalationRecord{
			ID:               uuid.New(),
			WorkflowID:       w.ID,
			EscalationType:   models.EscalationTypeFinalEscalation,
			TriggerHours:     threshold,
			TargetUserID:     executives[0],
			PreviousApprover: w.CurrentApprover,
			Message:          message,
			IsProcessed:      true,
			CreatedAt:        now,
		})
		if err != nil {
			return fmt.Errorf("failed to record final escalation: %w", err)
		}
		if !claimed {
			return errSkipped
		}

		fromStatus := w.Status
		update := repository.WorkflowUpdate{
			Status:           models.StatusEscalamientoCritico,
			CurrentApprover:  w.CurrentApprover,
			FinalEscalatedAt: &now,
			UpdatedAt:        now,
		}
		if err := txRepo.UpdateWorkflowState(ctx, w.ID, fromStatus, update); err != nil {
			return fmt.Errorf("failed to apply final escalation: %w", err)
		}
		services.ApplyUpdate(w, update)

		meta := map[string]interface{}{"trigger_hours": threshold, "executives": len(executives)}
		history := services.NewHistory(w.ID, nil, nil, models.HistoryFinalEscalation, fromStatus, w.Status, message, meta, now)
		if err := txRepo.CreateHistory(ctx, history); err != nil {
			return fmt.Errorf("failed to create history: %w", err)
		}
		for _, exec := range executives {
			n := services.NewNotification(w.ID, exec, models.NotificationFinalEscalation, models.PriorityCritical, message, meta, now)
			if err := outbox.Notify(ctx, txRepo, n); err != nil {
				return err
			}
		}
		outbox.Event(events.WorkflowFinalEscalated, w, nil)
		return nil
	})
	if err != nil {
		return err
	}
	outbox.Flush(ctx, j.publisher, j.logger)
	j.logger.WithFields(logrus.Fields{"workflow_id": listed.ID, "executives": len(executives)}).Warn("workflow escalated to executives")
	return nil
}
