package promotion

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/school-portal/assessment-engine/internal/domain/grading"
	"github.com/school-portal/assessment-engine/internal/domain/shared"
)

func pct(v float64) *float64 { return &v }

func fullCriteria() *Criteria {
	return &Criteria{
		MinimumAverageScore:     &Threshold{Enabled: true, Value: 40},
		MinimumSubjectsPassed:   &Threshold{Enabled: true, Value: 5},
		CoreSubjectsRequirement: &CoreSubjectsRequirement{Enabled: true, Type: CoreAll},
		AttendanceRequirement:   &AttendanceRequirement{Enabled: true, MinimumPercentage: 75},
	}
}

func TestAnalyze_ManualAlwaysReview(t *testing.T) {
	perf := StudentPerformance{StudentID: "s1", AverageScore: 99, SubjectsPassed: 10}

	res := Analyze(perf, Settings{Mode: ModeManual, Criteria: fullCriteria()}, nil)

	assert.Equal(t, CategoryReviewRequired, res.Category)
	assert.False(t, res.IsEligible)
	assert.Empty(t, res.CriteriaResults)
}

func TestAnalyze_AverageOnly(t *testing.T) {
	settings := Settings{
		Mode:     ModeAutomatic,
		Criteria: &Criteria{MinimumAverageScore: &Threshold{Enabled: true, Value: 40}},
	}

	res := Analyze(StudentPerformance{StudentID: "s1", AverageScore: 92}, settings, nil)

	assert.Equal(t, CategoryAutoEligible, res.Category)
	assert.True(t, res.IsEligible)
	assert.Equal(t, []string{"Average score 92% meets minimum of 40%"}, res.PassedCriteria)
	assert.Empty(t, res.FailedCriteria)
	assert.Len(t, res.CriteriaResults, 1)
}

func TestAnalyze_NoCriteriaIsEligible(t *testing.T) {
	res := Analyze(StudentPerformance{AverageScore: 5}, Settings{Mode: ModeAutomatic}, nil)
	assert.Equal(t, CategoryAutoEligible, res.Category)
}

func TestAnalyze_DisabledCriteriaIgnored(t *testing.T) {
	settings := Settings{
		Mode:     ModeAutomatic,
		Criteria: &Criteria{MinimumAverageScore: &Threshold{Enabled: false, Value: 90}},
	}
	res := Analyze(StudentPerformance{AverageScore: 10}, settings, nil)
	assert.Equal(t, CategoryAutoEligible, res.Category)
	assert.Empty(t, res.CriteriaResults)
}

func TestAnalyze_FailureCategoryByMode(t *testing.T) {
	perf := StudentPerformance{
		StudentID:          "s1",
		AverageScore:       35,
		SubjectsPassed:     6,
		FailedCoreSubjects: []string{"math"},
		Attendance:         pct(80),
	}

	automatic := Analyze(perf, Settings{Mode: ModeAutomatic, Criteria: fullCriteria()}, []string{"math", "eng"})
	assert.Equal(t, CategoryAutoIneligible, automatic.Category)
	assert.False(t, automatic.IsEligible)
	assert.Len(t, automatic.FailedCriteria, 2)
	assert.Len(t, automatic.PassedCriteria, 2)
	assert.False(t, automatic.CriteriaResults[CriterionAverageScore].Passed)
	assert.False(t, automatic.CriteriaResults[CriterionCoreSubjects].Passed)
	assert.True(t, automatic.CriteriaResults[CriterionSubjectsPassed].Passed)
	assert.True(t, automatic.CriteriaResults[CriterionAttendance].Passed)

	hybrid := Analyze(perf, Settings{Mode: ModeHybrid, Criteria: fullCriteria()}, []string{"math", "eng"})
	assert.Equal(t, CategoryReviewRequired, hybrid.Category)
	assert.False(t, hybrid.IsEligible)
}

func TestAnalyze_AttendanceSkippedWhenUnknown(t *testing.T) {
	settings := Settings{
		Mode:     ModeAutomatic,
		Criteria: &Criteria{AttendanceRequirement: &AttendanceRequirement{Enabled: true, MinimumPercentage: 90}},
	}

	res := Analyze(StudentPerformance{}, settings, nil)
	assert.Equal(t, CategoryAutoEligible, res.Category)
	assert.NotContains(t, res.CriteriaResults, CriterionAttendance)

	res = Analyze(StudentPerformance{Attendance: pct(60)}, settings, nil)
	assert.Equal(t, CategoryAutoIneligible, res.Category)
	assert.Equal(t, []string{"Attendance 60% is below minimum of 90%"}, res.FailedCriteria)
}

func TestAnalyze_CoreMinimum(t *testing.T) {
	settings := Settings{
		Mode: ModeAutomatic,
		Criteria: &Criteria{CoreSubjectsRequirement: &CoreSubjectsRequirement{
			Enabled: true, Type: CoreMinimum, MinimumRequired: 2,
		}},
	}
	core := []string{"math", "eng", "sci"}

	res := Analyze(StudentPerformance{FailedCoreSubjects: []string{"sci"}}, settings, core)
	assert.True(t, res.IsEligible)
	assert.Equal(t, 2.0, res.CriteriaResults[CriterionCoreSubjects].Actual)

	res = Analyze(StudentPerformance{FailedCoreSubjects: []string{"sci", "math"}}, settings, core)
	assert.False(t, res.IsEligible)
	assert.Equal(t, []string{"Passed only 1 of 3 core subjects, at least 2 required"}, res.FailedCriteria)
}

func TestSettings_Check(t *testing.T) {
	assert.NoError(t, Settings{Mode: ModeHybrid, Criteria: fullCriteria()}.Check())

	err := Settings{Mode: "sometimes"}.Check()
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidConfig))

	bad := fullCriteria()
	bad.CoreSubjectsRequirement.Type = "most"
	assert.Error(t, Settings{Mode: ModeAutomatic, Criteria: bad}.Check())
}

func TestBuildPerformance(t *testing.T) {
	cfg := grading.Config{PassMark: 50}
	scores := []grading.SubjectScore{
		{SubjectID: "math", Percentage: 45, Total: 45},
		{SubjectID: "eng", Percentage: 80, Total: 80},
		{SubjectID: "art", Percentage: 30, Total: 30},
		{SubjectID: "sci", Percentage: 10, Total: 10, IsAbsent: true},
	}

	perf := BuildPerformance("s1", "Ada", scores, cfg, []string{"math", "eng", "sci"}, pct(91))

	assert.Equal(t, 3, perf.TotalSubjects)
	assert.Equal(t, 1, perf.SubjectsPassed)
	assert.Equal(t, 2, perf.SubjectsFailed)
	assert.Equal(t, 51.67, perf.AverageScore)
	assert.Equal(t, []string{"math", "art"}, perf.FailedSubjects)
	assert.Equal(t, []string{"math"}, perf.FailedCoreSubjects)
	assert.Equal(t, 91.0, *perf.Attendance)
}

func TestSuggestedDecision(t *testing.T) {
	assert.Equal(t, DecisionPromote, SuggestedDecision(EligibilityResult{Category: CategoryAutoEligible}, false))
	assert.Equal(t, DecisionGraduate, SuggestedDecision(EligibilityResult{Category: CategoryAutoEligible}, true))
	assert.Equal(t, DecisionRepeat, SuggestedDecision(EligibilityResult{Category: CategoryAutoIneligible}, false))
	assert.Equal(t, Decision(""), SuggestedDecision(EligibilityResult{Category: CategoryReviewRequired}, false))
}

func TestCampaign_Transitions(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	c := &Campaign{Status: CampaignDraft}

	require.NoError(t, c.TransitionTo(CampaignOpen, now))
	require.NoError(t, c.TransitionTo(CampaignInReview, now))
	require.NoError(t, c.TransitionTo(CampaignApproved, now))
	assert.Equal(t, now, c.UpdatedAt)

	err := c.TransitionTo(CampaignDraft, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrStateTransition))

	require.NoError(t, c.TransitionTo(CampaignCancelled, now))
	assert.Error(t, c.TransitionTo(CampaignOpen, now))
	assert.Error(t, c.TransitionTo(CampaignCancelled, now))
}

func TestCampaign_BeginExecution(t *testing.T) {
	now := time.Now()

	executed := &Campaign{Status: CampaignExecuted}
	assert.ErrorIs(t, executed.BeginExecution("e1", now), shared.ErrCampaignAlreadyExecuted)

	cancelled := &Campaign{Status: CampaignCancelled}
	assert.ErrorIs(t, cancelled.BeginExecution("e1", now), shared.ErrCampaignCancelled)

	resumed := &Campaign{Status: CampaignExecuting}
	require.NoError(t, resumed.BeginExecution("e2", now))
	assert.Equal(t, "e2", resumed.LastExecutionID)

	resumed.CompleteExecution("admin", now)
	assert.Equal(t, CampaignExecuted, resumed.Status)
	assert.Equal(t, "admin", resumed.ExecutedBy)
}

func TestSplitBatches(t *testing.T) {
	records := make([]Record, 120)
	batches := SplitBatches(records, DefaultBatchSize)

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 50)
	assert.Len(t, batches[1], 50)
	assert.Len(t, batches[2], 20)
	assert.Equal(t, 3, BatchCount(120, 50))
	assert.Equal(t, 0, BatchCount(0, 50))
	assert.Empty(t, SplitBatches(nil, 50))
}

func TestExecution_Fold(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	exec := NewExecution("t1", "c1", "admin", 4, 2, now)
	assert.Equal(t, 2, exec.TotalBatches)

	exec.FoldBatch([]Outcome{
		Ok(Record{StudentID: "a", Decision: DecisionPromote}),
		Ok(Record{StudentID: "b", Decision: DecisionRepeat}),
	}, now)
	exec.FoldBatch([]Outcome{
		Ok(Record{StudentID: "c", Decision: DecisionGraduate}),
		Failed(Record{StudentID: "d", StudentName: "Dayo", Decision: DecisionPromote}, shared.ErrStudentNotFound),
	}, now)
	exec.Complete(now)

	assert.Equal(t, ExecutionCompleted, exec.Status)
	assert.Equal(t, 4, exec.ProcessedStudents)
	assert.Equal(t, 3, exec.SuccessCount)
	assert.Equal(t, 1, exec.FailedCount)
	assert.Equal(t, 2, exec.CurrentBatch)
	assert.Equal(t, ExecutionResults{Promoted: 1, Repeated: 1, Graduated: 1, Failed: 1}, exec.Results)
	require.Len(t, exec.Errors, 1)
	assert.Equal(t, "d", exec.Errors[0].StudentID)
	assert.Equal(t, "Dayo", exec.Errors[0].StudentName)

	fields := exec.ProgressFields()
	assert.Equal(t, 4, fields["processedStudents"])
	assert.Len(t, fields["errors"], 1)
}
