package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that
// happened in the assessment, grading, or promotion flow.
const (
	// Assessment events
	EventScoreRecorded EventType = "assessment.score_recorded"

	// Promotion events
	EventCampaignTransitioned  EventType = "promotion.campaign_transitioned"
	EventCampaignAnalyzed      EventType = "promotion.campaign_analyzed"
	EventExecutionStarted      EventType = "promotion.execution_started"
	EventExecutionBatchDone    EventType = "promotion.execution_batch_done"
	EventExecutionCompleted    EventType = "promotion.execution_completed"
	EventPromotionRecordFailed EventType = "promotion.record_failed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// TenantID returns the tenant the event belongs to.
	TenantID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Tenant        string    `json:"tenant_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// TenantID implements Event interface.
func (e BaseEvent) TenantID() string {
	return e.Tenant
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, tenantID, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Tenant:      tenantID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Assessment Events
// ═══════════════════════════════════════════════════════════════════════════

// ScoreRecordedEvent is emitted when a subject score draft is written.
type ScoreRecordedEvent struct {
	BaseEvent
	StudentID  string  `json:"student_id"`
	SubjectID  string  `json:"subject_id"`
	ClassID    string  `json:"class_id"`
	Term       string  `json:"term"`
	Total      float64 `json:"total"`
	Percentage float64 `json:"percentage"`
	Grade      string  `json:"grade"`
}

// Payload implements Event interface.
func (e ScoreRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"subject_id": e.SubjectID,
		"class_id":   e.ClassID,
		"term":       e.Term,
		"total":      e.Total,
		"percentage": e.Percentage,
		"grade":      e.Grade,
	}
}

// NewScoreRecordedEvent creates a new ScoreRecordedEvent.
func NewScoreRecordedEvent(tenantID, scoreID, studentID, subjectID, classID, term string, total, percentage float64, grade string) ScoreRecordedEvent {
	return ScoreRecordedEvent{
		BaseEvent:  NewBaseEvent(EventScoreRecorded, tenantID, scoreID),
		StudentID:  studentID,
		SubjectID:  subjectID,
		ClassID:    classID,
		Term:       term,
		Total:      total,
		Percentage: percentage,
		Grade:      grade,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Promotion Events
// ═══════════════════════════════════════════════════════════════════════════

// CampaignTransitionedEvent is emitted when a campaign changes status.
type CampaignTransitionedEvent struct {
	BaseEvent
	From    string `json:"from"`
	To      string `json:"to"`
	ActorID string `json:"actor_id"`
}

// Payload implements Event interface.
func (e CampaignTransitionedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"from":     e.From,
		"to":       e.To,
		"actor_id": e.ActorID,
	}
}

// NewCampaignTransitionedEvent creates a new CampaignTransitionedEvent.
func NewCampaignTransitionedEvent(tenantID, campaignID, from, to, actorID string) CampaignTransitionedEvent {
	return CampaignTransitionedEvent{
		BaseEvent: NewBaseEvent(EventCampaignTransitioned, tenantID, campaignID),
		From:      from,
		To:        to,
		ActorID:   actorID,
	}
}

// CampaignAnalyzedEvent is emitted after an eligibility pass over a campaign.
type CampaignAnalyzedEvent struct {
	BaseEvent
	Total          int `json:"total"`
	AutoEligible   int `json:"auto_eligible"`
	AutoIneligible int `json:"auto_ineligible"`
	ReviewRequired int `json:"review_required"`
}

// Payload implements Event interface.
func (e CampaignAnalyzedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"total":           e.Total,
		"auto_eligible":   e.AutoEligible,
		"auto_ineligible": e.AutoIneligible,
		"review_required": e.ReviewRequired,
	}
}

// NewCampaignAnalyzedEvent creates a new CampaignAnalyzedEvent.
func NewCampaignAnalyzedEvent(tenantID, campaignID string, total, eligible, ineligible, review int) CampaignAnalyzedEvent {
	return CampaignAnalyzedEvent{
		BaseEvent:      NewBaseEvent(EventCampaignAnalyzed, tenantID, campaignID),
		Total:          total,
		AutoEligible:   eligible,
		AutoIneligible: ineligible,
		ReviewRequired: review,
	}
}

// ExecutionStartedEvent is emitted when a promotion execution begins.
type ExecutionStartedEvent struct {
	BaseEvent
	CampaignID    string `json:"campaign_id"`
	TotalStudents int    `json:"total_students"`
	TotalBatches  int    `json:"total_batches"`
	ActorID       string `json:"actor_id"`
}

// Payload implements Event interface.
func (e ExecutionStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"campaign_id":    e.CampaignID,
		"total_students": e.TotalStudents,
		"total_batches":  e.TotalBatches,
		"actor_id":       e.ActorID,
	}
}

// NewExecutionStartedEvent creates a new ExecutionStartedEvent.
func NewExecutionStartedEvent(tenantID, executionID, campaignID string, total, batches int, actorID string) ExecutionStartedEvent {
	return ExecutionStartedEvent{
		BaseEvent:     NewBaseEvent(EventExecutionStarted, tenantID, executionID),
		CampaignID:    campaignID,
		TotalStudents: total,
		TotalBatches:  batches,
		ActorID:       actorID,
	}
}

// ExecutionBatchDoneEvent is emitted after each batch's progress is persisted.
type ExecutionBatchDoneEvent struct {
	BaseEvent
	CampaignID        string `json:"campaign_id"`
	CurrentBatch      int    `json:"current_batch"`
	TotalBatches      int    `json:"total_batches"`
	ProcessedStudents int    `json:"processed_students"`
}

// Payload implements Event interface.
func (e ExecutionBatchDoneEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"campaign_id":        e.CampaignID,
		"current_batch":      e.CurrentBatch,
		"total_batches":      e.TotalBatches,
		"processed_students": e.ProcessedStudents,
	}
}

// NewExecutionBatchDoneEvent creates a new ExecutionBatchDoneEvent.
func NewExecutionBatchDoneEvent(tenantID, executionID, campaignID string, current, total, processed int) ExecutionBatchDoneEvent {
	return ExecutionBatchDoneEvent{
		BaseEvent:         NewBaseEvent(EventExecutionBatchDone, tenantID, executionID),
		CampaignID:        campaignID,
		CurrentBatch:      current,
		TotalBatches:      total,
		ProcessedStudents: processed,
	}
}

// ExecutionCompletedEvent is emitted when all batches have been processed.
type ExecutionCompletedEvent struct {
	BaseEvent
	CampaignID   string `json:"campaign_id"`
	SuccessCount int    `json:"success_count"`
	FailedCount  int    `json:"failed_count"`
	Promoted     int    `json:"promoted"`
	Repeated     int    `json:"repeated"`
	Graduated    int    `json:"graduated"`
}

// Payload implements Event interface.
func (e ExecutionCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"campaign_id":   e.CampaignID,
		"success_count": e.SuccessCount,
		"failed_count":  e.FailedCount,
		"promoted":      e.Promoted,
		"repeated":      e.Repeated,
		"graduated":     e.Graduated,
	}
}

// NewExecutionCompletedEvent creates a new ExecutionCompletedEvent.
func NewExecutionCompletedEvent(tenantID, executionID, campaignID string, success, failed, promoted, repeated, graduated int) ExecutionCompletedEvent {
	return ExecutionCompletedEvent{
		BaseEvent:    NewBaseEvent(EventExecutionCompleted, tenantID, executionID),
		CampaignID:   campaignID,
		SuccessCount: success,
		FailedCount:  failed,
		Promoted:     promoted,
		Repeated:     repeated,
		Graduated:    graduated,
	}
}

// PromotionRecordFailedEvent is emitted for every record the executor could not apply.
type PromotionRecordFailedEvent struct {
	BaseEvent
	CampaignID string `json:"campaign_id"`
	StudentID  string `json:"student_id"`
	Reason     string `json:"reason"`
}

// Payload implements Event interface.
func (e PromotionRecordFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"campaign_id": e.CampaignID,
		"student_id":  e.StudentID,
		"reason":      e.Reason,
	}
}

// NewPromotionRecordFailedEvent creates a new PromotionRecordFailedEvent.
func NewPromotionRecordFailedEvent(tenantID, executionID, campaignID, studentID, reason string) PromotionRecordFailedEvent {
	return PromotionRecordFailedEvent{
		BaseEvent:  NewBaseEvent(EventPromotionRecordFailed, tenantID, executionID),
		CampaignID: campaignID,
		StudentID:  studentID,
		Reason:     reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Publishing
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
