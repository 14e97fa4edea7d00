package promotion

import (
	"fmt"
	"time"

	"github.com/school-portal/assessment-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// Campaign
// ═══════════════════════════════════════════════════════════════════════════

// CampaignStatus is a campaign's lifecycle state.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignOpen      CampaignStatus = "open"
	CampaignInReview  CampaignStatus = "in_review"
	CampaignApproved  CampaignStatus = "approved"
	CampaignExecuting CampaignStatus = "executing"
	CampaignExecuted  CampaignStatus = "executed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// campaignTransitions lists the forward moves allowed from each status.
// Any status before executed may also move to cancelled.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignOpen},
	CampaignOpen:      {CampaignInReview},
	CampaignInReview:  {CampaignApproved, CampaignOpen},
	CampaignApproved:  {CampaignExecuting},
	CampaignExecuting: {CampaignExecuted},
}

// IsTerminal reports whether no further transitions are possible.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignExecuted || s == CampaignCancelled
}

// CanTransitionTo reports whether the move from s to next is allowed.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == CampaignCancelled {
		return true
	}
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Campaign moves a cohort of students between classes.
type Campaign struct {
	ID              string         `json:"-"`
	TenantID        string         `json:"tenantId"`
	Name            string         `json:"name"`
	AcademicYear    string         `json:"academicYear"`
	Status          CampaignStatus `json:"status"`
	Settings        Settings       `json:"settings"`
	CoreSubjectIDs  []string       `json:"coreSubjectIds"`
	FinalClassIDs   []string       `json:"finalClassIds,omitempty"`
	LastExecutionID string         `json:"lastExecutionId,omitempty"`
	ExecutedBy      string         `json:"executedBy,omitempty"`
	ExecutedAt      *time.Time     `json:"executedAt,omitempty"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// IsFinalClass reports whether students in classID graduate instead of moving up.
func (c *Campaign) IsFinalClass(classID string) bool {
	for _, id := range c.FinalClassIDs {
		if id == classID {
			return true
		}
	}
	return false
}

// TransitionTo moves the campaign to next if the lifecycle allows it.
func (c *Campaign) TransitionTo(next CampaignStatus, at time.Time) error {
	if !c.Status.CanTransitionTo(next) {
		return shared.WrapError("promotion", "Transition", shared.ErrStateTransition,
			fmt.Sprintf("cannot move campaign from %s to %s", c.Status, next), shared.ErrInvalidCampaignStatus)
	}
	c.Status = next
	c.UpdatedAt = at
	return nil
}

// BeginExecution checks the execution preconditions and marks the campaign
// executing. A campaign left executing by an interrupted run may be resumed.
func (c *Campaign) BeginExecution(executionID string, at time.Time) error {
	switch c.Status {
	case CampaignExecuted:
		return shared.ErrCampaignAlreadyExecuted
	case CampaignCancelled:
		return shared.ErrCampaignCancelled
	}
	c.Status = CampaignExecuting
	c.LastExecutionID = executionID
	c.UpdatedAt = at
	return nil
}

// CompleteExecution marks the campaign executed, whatever the per-student
// failures were.
func (c *Campaign) CompleteExecution(actorID string, at time.Time) {
	c.Status = CampaignExecuted
	c.ExecutedBy = actorID
	c.ExecutedAt = &at
	c.UpdatedAt = at
}

// ═══════════════════════════════════════════════════════════════════════════
// Promotion Record
// ═══════════════════════════════════════════════════════════════════════════

// Decision is what happens to one student when the campaign executes.
type Decision string

const (
	DecisionPromote  Decision = "promote"
	DecisionRepeat   Decision = "repeat"
	DecisionGraduate Decision = "graduate"
)

// RecordStatus is a promotion record's lifecycle state.
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordSubmitted RecordStatus = "submitted"
	RecordApproved  RecordStatus = "approved"
	RecordRejected  RecordStatus = "rejected"
	RecordExecuted  RecordStatus = "executed"
)

// ExecutableStatuses are the record statuses picked up by an execution run.
// Executed records are excluded so a rerun only touches what is left.
var ExecutableStatuses = []RecordStatus{RecordSubmitted, RecordApproved}

// Record is one student's decision within a campaign.
type Record struct {
	ID            string       `json:"-"`
	TenantID      string       `json:"tenantId"`
	CampaignID    string       `json:"campaignId"`
	StudentID     string       `json:"studentId"`
	StudentName   string       `json:"studentName"`
	Decision      Decision     `json:"decision"`
	FromClassID   string       `json:"fromClassId"`
	FromClassName string       `json:"fromClassName"`
	ToClassID     string       `json:"toClassId,omitempty"`
	ToClassName   string       `json:"toClassName,omitempty"`
	Status        RecordStatus `json:"status"`
	AverageScore  float64      `json:"averageScore"`
	ExecutionID   string       `json:"executionId,omitempty"`
	ExecutedAt    *time.Time   `json:"executedAt,omitempty"`
}
