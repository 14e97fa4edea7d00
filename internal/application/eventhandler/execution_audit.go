// Package eventhandler contains subscribers for domain events.
package eventhandler

import (
	"github.com/school-portal/assessment-engine/internal/domain/shared"
	"github.com/school-portal/assessment-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// EXECUTION AUDIT HANDLER
// Writes the audit trail of promotion executions to the log: start, every
// persisted batch, every failed record and the final tally.
// ═══════════════════════════════════════════════════════════════════════════

// ExecutionAuditHandler logs the lifecycle of promotion executions.
type ExecutionAuditHandler struct {
	log *logger.Logger
}

// NewExecutionAuditHandler creates a new handler.
func NewExecutionAuditHandler(log *logger.Logger) *ExecutionAuditHandler {
	if log == nil {
		log = logger.Default()
	}
	return &ExecutionAuditHandler{log: log.With(logger.Component("execution_audit"))}
}

// EventTypes lists the events the handler subscribes to.
func (h *ExecutionAuditHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventExecutionStarted,
		shared.EventExecutionBatchDone,
		shared.EventPromotionRecordFailed,
		shared.EventExecutionCompleted,
	}
}

// Handle implements shared.EventHandler.
func (h *ExecutionAuditHandler) Handle(event shared.Event) error {
	log := h.log.With(
		logger.TenantID(event.TenantID()),
		logger.ExecutionID(event.AggregateID()),
	)

	switch e := event.(type) {
	case shared.ExecutionStartedEvent:
		log.Info("execution started",
			logger.CampaignID(e.CampaignID),
			logger.ActorID(e.ActorID),
			logger.Int("students", e.TotalStudents),
			logger.Int("batches", e.TotalBatches),
		)

	case shared.ExecutionBatchDoneEvent:
		log.Debug("execution batch persisted",
			logger.CampaignID(e.CampaignID),
			logger.BatchNumber(e.CurrentBatch),
			logger.Int("total_batches", e.TotalBatches),
			logger.Int("processed", e.ProcessedStudents),
		)

	case shared.PromotionRecordFailedEvent:
		log.Warn("promotion record failed",
			logger.CampaignID(e.CampaignID),
			logger.StudentID(e.StudentID),
			logger.String("reason", e.Reason),
		)

	case shared.ExecutionCompletedEvent:
		fields := []logger.Field{
			logger.CampaignID(e.CampaignID),
			logger.Int("success", e.SuccessCount),
			logger.Int("failed", e.FailedCount),
			logger.Int("promoted", e.Promoted),
			logger.Int("repeated", e.Repeated),
			logger.Int("graduated", e.Graduated),
		}
		if e.FailedCount > 0 {
			log.Warn("execution completed with failures", fields...)
		} else {
			log.Info("execution completed", fields...)
		}

	default:
		log.Debug("ignoring event", logger.String("event_type", string(event.EventType())))
	}
	return nil
}

// Register subscribes the handler to its events.
func (h *ExecutionAuditHandler) Register(sub shared.EventSubscriber) error {
	for _, t := range h.EventTypes() {
		if err := sub.Subscribe(t, h.Handle); err != nil {
			return err
		}
	}
	return nil
}
