package eventhandler

import (
	"github.com/school-portal/assessment-engine/internal/domain/shared"
	"github.com/school-portal/assessment-engine/pkg/logger"
)

// EventLogHandler writes every domain event to the log at debug level.
type EventLogHandler struct {
	log *logger.Logger
}

// NewEventLogHandler creates a new handler.
func NewEventLogHandler(log *logger.Logger) *EventLogHandler {
	if log == nil {
		log = logger.Default()
	}
	return &EventLogHandler{log: log.With(logger.Component("events"))}
}

// Handle implements shared.EventHandler.
func (h *EventLogHandler) Handle(event shared.Event) error {
	h.log.Debug("domain event",
		logger.String("event_type", string(event.EventType())),
		logger.TenantID(event.TenantID()),
		logger.String("aggregate_id", event.AggregateID()),
		logger.F("occurred_at", event.OccurredAt()),
		logger.F("payload", event.Payload()),
	)
	return nil
}
