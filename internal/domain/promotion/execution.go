package promotion

import (
	"time"
)

// DefaultBatchSize is the number of records processed between progress saves.
const DefaultBatchSize = 50

// ExecutionStatus is an execution run's state.
type ExecutionStatus string

const (
	ExecutionProcessing ExecutionStatus = "processing"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionCancelled  ExecutionStatus = "cancelled"
)

// ExecutionResults counts outcomes by decision.
type ExecutionResults struct {
	Promoted  int `json:"promoted"`
	Repeated  int `json:"repeated"`
	Graduated int `json:"graduated"`
	Failed    int `json:"failed"`
}

// ExecutionError describes one record that could not be applied.
type ExecutionError struct {
	StudentID   string    `json:"studentId"`
	StudentName string    `json:"studentName"`
	Error       string    `json:"error"`
	Timestamp   time.Time `json:"timestamp"`
}

// Outcome is the result of applying one record: either Ok or Failed.
type Outcome struct {
	Record Record
	Err    error
}

// Ok reports a successfully applied record.
func Ok(rec Record) Outcome {
	return Outcome{Record: rec}
}

// Failed reports a record that could not be applied.
func Failed(rec Record, err error) Outcome {
	return Outcome{Record: rec, Err: err}
}

// IsOk reports whether the record was applied.
func (o Outcome) IsOk() bool {
	return o.Err == nil
}

// Execution is the run-state and audit report of one campaign execution.
// It is created at start, folded after every batch and never deleted.
type Execution struct {
	ID                string           `json:"-"`
	TenantID          string           `json:"tenantId"`
	CampaignID        string           `json:"campaignId"`
	ExecutedBy        string           `json:"executedBy"`
	Status            ExecutionStatus  `json:"status"`
	TotalStudents     int              `json:"totalStudents"`
	ProcessedStudents int              `json:"processedStudents"`
	SuccessCount      int              `json:"successCount"`
	FailedCount       int              `json:"failedCount"`
	CurrentBatch      int              `json:"currentBatch"`
	TotalBatches      int              `json:"totalBatches"`
	Results           ExecutionResults `json:"results"`
	Errors            []ExecutionError `json:"errors"`
	StartedAt         time.Time        `json:"startedAt"`
	CompletedAt       *time.Time       `json:"completedAt,omitempty"`
}

// NewExecution starts a run over total records.
func NewExecution(tenantID, campaignID, actorID string, total, batchSize int, at time.Time) *Execution {
	return &Execution{
		TenantID:      tenantID,
		CampaignID:    campaignID,
		ExecutedBy:    actorID,
		Status:        ExecutionProcessing,
		TotalStudents: total,
		TotalBatches:  BatchCount(total, batchSize),
		Results:       ExecutionResults{},
		Errors:        []ExecutionError{},
		StartedAt:     at,
	}
}

// Apply folds one record outcome into the report.
func (e *Execution) Apply(o Outcome, at time.Time) {
	e.ProcessedStudents++

	if !o.IsOk() {
		e.FailedCount++
		e.Results.Failed++
		e.Errors = append(e.Errors, ExecutionError{
			StudentID:   o.Record.StudentID,
			StudentName: o.Record.StudentName,
			Error:       o.Err.Error(),
			Timestamp:   at,
		})
		return
	}

	e.SuccessCount++
	switch o.Record.Decision {
	case DecisionPromote:
		e.Results.Promoted++
	case DecisionRepeat:
		e.Results.Repeated++
	case DecisionGraduate:
		e.Results.Graduated++
	}
}

// FoldBatch applies a batch of outcomes and advances the batch counter.
func (e *Execution) FoldBatch(outcomes []Outcome, at time.Time) {
	for _, o := range outcomes {
		e.Apply(o, at)
	}
	e.CurrentBatch++
}

// Complete marks the run finished.
func (e *Execution) Complete(at time.Time) {
	e.Status = ExecutionCompleted
	e.CompletedAt = &at
}

// Cancel stops the run after the last folded batch. Applied records stay applied.
func (e *Execution) Cancel(at time.Time) {
	e.Status = ExecutionCancelled
	e.CompletedAt = &at
}

// ProgressFields returns the fields persisted after every batch.
func (e *Execution) ProgressFields() map[string]any {
	errs := make([]any, 0, len(e.Errors))
	for _, ee := range e.Errors {
		errs = append(errs, map[string]any{
			"studentId":   ee.StudentID,
			"studentName": ee.StudentName,
			"error":       ee.Error,
			"timestamp":   ee.Timestamp,
		})
	}
	return map[string]any{
		"processedStudents": e.ProcessedStudents,
		"successCount":      e.SuccessCount,
		"failedCount":       e.FailedCount,
		"currentBatch":      e.CurrentBatch,
		"results": map[string]any{
			"promoted":  e.Results.Promoted,
			"repeated":  e.Results.Repeated,
			"graduated": e.Results.Graduated,
			"failed":    e.Results.Failed,
		},
		"errors": errs,
	}
}

// BatchCount returns how many batches total records split into.
func BatchCount(total, size int) int {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return (total + size - 1) / size
}

// SplitBatches splits records into consecutive batches of at most size.
func SplitBatches(records []Record, size int) [][]Record {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]Record, 0, BatchCount(len(records), size))
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}
