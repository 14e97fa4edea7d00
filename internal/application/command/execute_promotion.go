package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/school-portal/assessment-engine/internal/domain/promotion"
	"github.com/school-portal/assessment-engine/internal/domain/shared"
	"github.com/school-portal/assessment-engine/pkg/logger"
	"github.com/school-portal/assessment-engine/pkg/retry"
	"github.com/school-portal/assessment-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTE PROMOTION COMMAND
// Applies every submitted or approved promotion record of a campaign to the
// student records, batch by batch. A failing student never stops the run:
// the failure is written to the execution report and the record keeps its
// status so a later run picks it up again.
// ══════════════════════════════════════════════════════════════════════════════

// ExecutePromotionCommand triggers the execution of one campaign.
type ExecutePromotionCommand struct {
	TenantID   string `validate:"required"`
	CampaignID string `validate:"required"`
	ActorID    string `validate:"required"`
}

// Validate validates the command.
func (c ExecutePromotionCommand) Validate() error {
	return validateCommand("ExecutePromotion", c)
}

// ExecutePromotionResult is the final execution report.
type ExecutePromotionResult struct {
	ExecutionID string
	Execution   promotion.Execution
	Duration    time.Duration
}

// studentDocument is the part of a students document the executor reads.
type studentDocument struct {
	TenantID         string                  `json:"tenantId"`
	Name             string                  `json:"name"`
	CurrentClassID   string                  `json:"currentClassId"`
	CurrentClassName string                  `json:"currentClassName"`
	Status           string                  `json:"status"`
	PromotionHistory []promotionHistoryEntry `json:"promotionHistory"`
}

const studentGraduated = "graduated"

// promotedBy reports whether the student already sits in toClassID through
// this campaign, as left behind by a run that stopped before marking the record.
func (s studentDocument) promotedBy(campaignID, toClassID string) bool {
	if s.CurrentClassID != toClassID {
		return false
	}
	for _, e := range s.PromotionHistory {
		if e.CampaignID == campaignID && e.ToClassID == toClassID {
			return true
		}
	}
	return false
}

type promotionHistoryEntry struct {
	FromClassID   string    `json:"fromClassId"`
	FromClassName string    `json:"fromClassName"`
	ToClassID     string    `json:"toClassId"`
	ToClassName   string    `json:"toClassName"`
	AcademicYear  string    `json:"academicYear"`
	CampaignID    string    `json:"campaignId"`
	ExecutionID   string    `json:"executionId"`
	PromotedBy    string    `json:"promotedBy"`
	PromotedAt    time.Time `json:"promotedAt"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ExecutePromotionHandler handles the ExecutePromotionCommand.
type ExecutePromotionHandler struct {
	store          shared.RecordStore
	locker         Locker
	eventPublisher shared.EventPublisher
	log            *logger.Logger
	calendar       timeutil.Calendar
	config         ExecutePromotionConfig
}

// ExecutePromotionConfig contains configuration for the executor.
type ExecutePromotionConfig struct {
	// BatchSize is the number of records processed between progress saves.
	BatchSize int

	// LockTTL bounds how long a crashed run keeps the campaign locked.
	LockTTL time.Duration
}

// DefaultExecutePromotionConfig returns default configuration.
func DefaultExecutePromotionConfig() ExecutePromotionConfig {
	return ExecutePromotionConfig{
		BatchSize: promotion.DefaultBatchSize,
		LockTTL:   15 * time.Minute,
	}
}

// NewExecutePromotionHandler creates a new ExecutePromotionHandler.
// locker and eventPublisher may be nil.
func NewExecutePromotionHandler(
	store shared.RecordStore,
	locker Locker,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	calendar timeutil.Calendar,
	config ExecutePromotionConfig,
) *ExecutePromotionHandler {
	if locker == nil {
		locker = NopLocker{}
	}
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = promotion.DefaultBatchSize
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultExecutePromotionConfig().LockTTL
	}
	if calendar.Location == nil {
		calendar = timeutil.NewCalendar(nil, 0)
	}
	return &ExecutePromotionHandler{
		store:          store,
		locker:         locker,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("execute_promotion")),
		calendar:       calendar,
		config:         config,
	}
}

// Handle executes the campaign. Precondition failures are returned before
// any student is touched.
func (h *ExecutePromotionHandler) Handle(ctx context.Context, cmd ExecutePromotionCommand) (*ExecutePromotionResult, error) {
	startedAt := time.Now()

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("execute_promotion: validation failed: %w", err)
	}

	release, err := h.locker.Acquire(ctx, lockKey(cmd.TenantID, cmd.CampaignID), h.config.LockTTL)
	if err != nil {
		if errors.Is(err, shared.ErrLocked) {
			return nil, fmt.Errorf("execute_promotion: %w", shared.ErrExecutionInProgress)
		}
		return nil, fmt.Errorf("execute_promotion: acquire lock: %w", err)
	}
	defer func() {
		// Release with a fresh context so a cancelled request still unlocks.
		if err := release(context.WithoutCancel(ctx)); err != nil {
			h.log.Warn("failed to release campaign lock", logger.CampaignID(cmd.CampaignID), logger.Err(err))
		}
	}()

	campaign, err := loadCampaign(ctx, h.store, cmd.TenantID, cmd.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("execute_promotion: %w", err)
	}
	switch campaign.Status {
	case promotion.CampaignExecuted:
		return nil, fmt.Errorf("execute_promotion: %w", shared.ErrCampaignAlreadyExecuted)
	case promotion.CampaignCancelled:
		return nil, fmt.Errorf("execute_promotion: %w", shared.ErrCampaignCancelled)
	}

	records, err := h.executableRecords(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("execute_promotion: %w", shared.ErrNoRecordsToExecute)
	}

	exec := promotion.NewExecution(cmd.TenantID, cmd.CampaignID, cmd.ActorID,
		len(records), h.config.BatchSize, h.store.Now(ctx))
	if err := h.createExecution(ctx, exec); err != nil {
		return nil, err
	}

	log := h.log.With(
		logger.TenantID(cmd.TenantID),
		logger.CampaignID(cmd.CampaignID),
		logger.ExecutionID(exec.ID),
		logger.ActorID(cmd.ActorID),
	)

	if err := campaign.BeginExecution(exec.ID, h.store.Now(ctx)); err != nil {
		return nil, fmt.Errorf("execute_promotion: %w", err)
	}
	if err := h.saveCampaign(ctx, campaign); err != nil {
		return nil, err
	}

	log.Info("promotion execution started",
		logger.Int("records", exec.TotalStudents),
		logger.Int("batches", exec.TotalBatches),
	)
	h.publish(log, shared.NewExecutionStartedEvent(cmd.TenantID, exec.ID, cmd.CampaignID,
		exec.TotalStudents, exec.TotalBatches, cmd.ActorID))

	for i, batch := range promotion.SplitBatches(records, h.config.BatchSize) {
		if i > 0 {
			cancelled, err := h.cancelledMeanwhile(ctx, cmd)
			if err != nil {
				return nil, err
			}
			if cancelled {
				return h.stopCancelled(ctx, log, exec, startedAt)
			}
		}

		outcomes := make([]promotion.Outcome, 0, len(batch))
		for _, rec := range batch {
			outcome := h.processRecord(ctx, campaign, exec.ID, cmd.ActorID, rec)
			if !outcome.IsOk() {
				log.Warn("promotion record failed",
					logger.StudentID(rec.StudentID),
					logger.String("decision", string(rec.Decision)),
					logger.Err(outcome.Err),
				)
				h.publish(log, shared.NewPromotionRecordFailedEvent(cmd.TenantID, exec.ID,
					cmd.CampaignID, rec.StudentID, outcome.Err.Error()))
			}
			outcomes = append(outcomes, outcome)
		}

		exec.FoldBatch(outcomes, h.store.Now(ctx))
		if err := h.saveProgress(ctx, exec, exec.ProgressFields()); err != nil {
			// The records already applied stay applied; a rerun skips them.
			return nil, err
		}

		log.Info("promotion batch completed",
			logger.BatchNumber(i+1),
			logger.Int("processed", exec.ProcessedStudents),
			logger.Int("failed", exec.FailedCount),
		)
		h.publish(log, shared.NewExecutionBatchDoneEvent(cmd.TenantID, exec.ID, cmd.CampaignID,
			exec.CurrentBatch, exec.TotalBatches, exec.ProcessedStudents))
	}

	completedAt := h.store.Now(ctx)
	exec.Complete(completedAt)
	if err := h.saveProgress(ctx, exec, map[string]any{
		"status":      exec.Status,
		"completedAt": completedAt,
	}); err != nil {
		return nil, err
	}

	campaign.CompleteExecution(cmd.ActorID, completedAt)
	if err := h.saveCampaign(ctx, campaign); err != nil {
		return nil, err
	}

	h.publish(log, shared.NewExecutionCompletedEvent(cmd.TenantID, exec.ID, cmd.CampaignID,
		exec.SuccessCount, exec.FailedCount,
		exec.Results.Promoted, exec.Results.Repeated, exec.Results.Graduated))

	duration := time.Since(startedAt)
	log.Info("promotion execution completed",
		logger.Int("success", exec.SuccessCount),
		logger.Int("failed", exec.FailedCount),
		logger.Int("promoted", exec.Results.Promoted),
		logger.Int("repeated", exec.Results.Repeated),
		logger.Int("graduated", exec.Results.Graduated),
		logger.Latency(duration),
	)

	return &ExecutePromotionResult{
		ExecutionID: exec.ID,
		Execution:   *exec,
		Duration:    duration,
	}, nil
}

// cancelledMeanwhile reports whether the campaign was cancelled while this
// run was in progress.
func (h *ExecutePromotionHandler) cancelledMeanwhile(ctx context.Context, cmd ExecutePromotionCommand) (bool, error) {
	c, err := loadCampaign(ctx, h.store, cmd.TenantID, cmd.CampaignID)
	if err != nil {
		return false, fmt.Errorf("execute_promotion: %w", err)
	}
	return c.Status == promotion.CampaignCancelled, nil
}

func (h *ExecutePromotionHandler) stopCancelled(ctx context.Context, log *logger.Logger, exec *promotion.Execution, startedAt time.Time) (*ExecutePromotionResult, error) {
	at := h.store.Now(ctx)
	exec.Cancel(at)
	if err := h.saveProgress(ctx, exec, map[string]any{
		"status":      exec.Status,
		"completedAt": at,
	}); err != nil {
		return nil, err
	}

	log.Warn("promotion execution stopped: campaign cancelled",
		logger.Int("processed", exec.ProcessedStudents),
		logger.Int("remaining", exec.TotalStudents-exec.ProcessedStudents),
	)
	return &ExecutePromotionResult{
		ExecutionID: exec.ID,
		Execution:   *exec,
		Duration:    time.Since(startedAt),
	}, nil
}

func lockKey(tenantID, campaignID string) string {
	return "promotion:execute:" + tenantID + ":" + campaignID
}

func (h *ExecutePromotionHandler) executableRecords(ctx context.Context, cmd ExecutePromotionCommand) ([]promotion.Record, error) {
	statuses := make([]any, 0, len(promotion.ExecutableStatuses))
	for _, s := range promotion.ExecutableStatuses {
		statuses = append(statuses, s)
	}

	recs, err := h.store.Query(ctx, shared.CollectionPromotionRecords,
		shared.Eq("tenantId", cmd.TenantID),
		shared.Eq("campaignId", cmd.CampaignID),
		shared.In("status", statuses...),
	)
	if err != nil {
		return nil, fmt.Errorf("execute_promotion: load records: %w", err)
	}

	records := make([]promotion.Record, 0, len(recs))
	for _, r := range recs {
		var rec promotion.Record
		if err := r.Decode(&rec); err != nil {
			return nil, fmt.Errorf("execute_promotion: decode record %s: %w", r.ID, err)
		}
		rec.ID = r.ID
		records = append(records, rec)
	}
	return records, nil
}

func (h *ExecutePromotionHandler) createExecution(ctx context.Context, exec *promotion.Execution) error {
	fields, err := shared.ToFields(exec)
	if err != nil {
		return fmt.Errorf("execute_promotion: encode execution: %w", err)
	}
	id, err := h.store.Add(ctx, shared.CollectionPromotionExecutions, fields)
	if err != nil {
		return fmt.Errorf("execute_promotion: create execution: %w", err)
	}
	exec.ID = id
	return nil
}

func (h *ExecutePromotionHandler) saveProgress(ctx context.Context, exec *promotion.Execution, fields map[string]any) error {
	err := storeRetry(h.log, "save_execution_progress").Do(ctx, func(ctx context.Context) error {
		return h.store.Update(ctx, shared.CollectionPromotionExecutions, exec.ID, fields)
	})
	if err != nil {
		return fmt.Errorf("execute_promotion: save progress of %s: %w", exec.ID, err)
	}
	return nil
}

func (h *ExecutePromotionHandler) saveCampaign(ctx context.Context, c *promotion.Campaign) error {
	err := storeRetry(h.log, "save_campaign").Do(ctx, func(ctx context.Context) error {
		return h.store.Update(ctx, shared.CollectionPromotionCampaigns, c.ID, campaignStatusFields(c))
	})
	if err != nil {
		return fmt.Errorf("execute_promotion: save campaign %s: %w", c.ID, err)
	}
	return nil
}

func (h *ExecutePromotionHandler) publish(log *logger.Logger, event shared.Event) {
	if err := h.eventPublisher.Publish(event); err != nil {
		log.Warn("failed to publish event",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PER-RECORD PROCESSING
// ══════════════════════════════════════════════════════════════════════════════

// processRecord applies one record and reports the outcome. Nothing escapes
// it, including panics.
func (h *ExecutePromotionHandler) processRecord(
	ctx context.Context,
	campaign *promotion.Campaign,
	executionID, actorID string,
	rec promotion.Record,
) (outcome promotion.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = promotion.Failed(rec, fmt.Errorf("panic while applying record: %v", r))
		}
	}()

	if err := h.applyDecision(ctx, campaign, executionID, actorID, rec); err != nil {
		return promotion.Failed(rec, err)
	}

	at := h.store.Now(ctx)
	err := storeRetry(h.log, "mark_record_executed").Do(ctx, func(ctx context.Context) error {
		return h.store.Update(ctx, shared.CollectionPromotionRecords, rec.ID, map[string]any{
			"status":      promotion.RecordExecuted,
			"executionId": executionID,
			"executedAt":  at,
		})
	})
	if err != nil {
		// The student is already changed; the report carries the mismatch.
		return promotion.Failed(rec, fmt.Errorf("student updated but record status not saved: %w", err))
	}

	rec.Status = promotion.RecordExecuted
	rec.ExecutionID = executionID
	rec.ExecutedAt = &at
	return promotion.Ok(rec)
}

func (h *ExecutePromotionHandler) applyDecision(
	ctx context.Context,
	campaign *promotion.Campaign,
	executionID, actorID string,
	rec promotion.Record,
) error {
	student, err := h.loadStudent(ctx, rec)
	if err != nil {
		return err
	}
	now := h.store.Now(ctx)

	switch rec.Decision {
	case promotion.DecisionRepeat:
		// Repeating students keep their class; only the record changes.
		return nil

	case promotion.DecisionPromote:
		if rec.ToClassID == "" {
			return shared.NewDomainError("promotion", "ExecuteRecord", shared.ErrInvalidInput,
				"promote decision has no target class")
		}
		if student.promotedBy(campaign.ID, rec.ToClassID) {
			return nil
		}
		history := append(student.PromotionHistory, promotionHistoryEntry{
			FromClassID:   firstNonEmpty(rec.FromClassID, student.CurrentClassID),
			FromClassName: firstNonEmpty(rec.FromClassName, student.CurrentClassName),
			ToClassID:     rec.ToClassID,
			ToClassName:   rec.ToClassName,
			AcademicYear:  campaign.AcademicYear,
			CampaignID:    campaign.ID,
			ExecutionID:   executionID,
			PromotedBy:    actorID,
			PromotedAt:    now,
		})
		return h.updateStudent(ctx, rec.StudentID, map[string]any{
			"previousClassId":   student.CurrentClassID,
			"previousClassName": student.CurrentClassName,
			"currentClassId":    rec.ToClassID,
			"currentClassName":  rec.ToClassName,
			"promotionHistory":  history,
			"updatedAt":         now,
		})

	case promotion.DecisionGraduate:
		if student.Status == studentGraduated {
			return nil
		}
		return h.updateStudent(ctx, rec.StudentID, map[string]any{
			"status":              studentGraduated,
			"isActive":            false,
			"graduationYear":      h.graduationYear(campaign, now),
			"graduationClassId":   firstNonEmpty(rec.FromClassID, student.CurrentClassID),
			"graduationClassName": firstNonEmpty(rec.FromClassName, student.CurrentClassName),
			"finalAverage":        rec.AverageScore,
			"graduatedAt":         now,
			"updatedAt":           now,
		})

	default:
		return fmt.Errorf("%w: %q", shared.ErrUnknownDecision, rec.Decision)
	}
}

func (h *ExecutePromotionHandler) loadStudent(ctx context.Context, rec promotion.Record) (studentDocument, error) {
	var student studentDocument

	doc, err := h.store.Get(ctx, shared.CollectionStudents, rec.StudentID)
	if err != nil {
		if shared.IsNotFound(err) {
			return student, fmt.Errorf("%w: %s", shared.ErrStudentNotFound, rec.StudentID)
		}
		return student, fmt.Errorf("load student %s: %w", rec.StudentID, err)
	}
	if err := doc.Decode(&student); err != nil {
		return student, fmt.Errorf("decode student %s: %w", rec.StudentID, err)
	}
	if student.TenantID != rec.TenantID {
		return student, fmt.Errorf("%w: %s", shared.ErrStudentNotFound, rec.StudentID)
	}
	return student, nil
}

func (h *ExecutePromotionHandler) updateStudent(ctx context.Context, studentID string, fields map[string]any) error {
	err := retry.StorePolicy().With(retry.WithRetryIf(retry.IsRetryable)).Do(ctx, func(ctx context.Context) error {
		return h.store.Update(ctx, shared.CollectionStudents, studentID, fields)
	})
	if err != nil {
		return fmt.Errorf("update student %s: %w", studentID, err)
	}
	return nil
}

// graduationYear is the end year of the campaign's academic year, or of the
// academic year containing at when the label cannot be parsed.
func (h *ExecutePromotionHandler) graduationYear(c *promotion.Campaign, at time.Time) int {
	if _, end, err := timeutil.ParseAcademicYear(c.AcademicYear); err == nil {
		return end
	}
	return h.calendar.GraduationYear(at)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
