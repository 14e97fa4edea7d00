package grading

import (
	"github.com/school-portal/assessment-engine/internal/domain/shared"
)

// ScoreStatus tracks whether a subject score can still be rewritten.
type ScoreStatus string

const (
	ScoreDraft     ScoreStatus = "draft"
	ScorePublished ScoreStatus = "published"
)

// SubjectScore is one student's computed result in one subject for a term.
type SubjectScore struct {
	SubjectID   string             `json:"subjectId"`
	SubjectName string             `json:"subjectName"`
	StudentID   string             `json:"studentId,omitempty"`
	StudentName string             `json:"studentName,omitempty"`
	ClassID     string             `json:"classId,omitempty"`
	Term        string             `json:"term,omitempty"`
	TotalCA     float64            `json:"totalCa"`
	Total       float64            `json:"total"`
	Percentage  float64            `json:"percentage"`
	Grade       string             `json:"grade"`
	MaxScore    float64            `json:"maxScore"`
	Breakdown   map[string]float64 `json:"breakdown,omitempty"`
	IsAbsent    bool               `json:"isAbsent,omitempty"`
	IsExempted  bool               `json:"isExempted,omitempty"`
	Status      ScoreStatus        `json:"status,omitempty"`
	ConfigHash  string             `json:"configHash,omitempty"`
}

// Counted reports whether the score takes part in aggregation.
func (s SubjectScore) Counted() bool {
	return !s.IsAbsent && !s.IsExempted
}

// Aggregate is a student's term totals across subjects.
type Aggregate struct {
	TotalScore       float64 `json:"totalScore"`
	AverageScore     float64 `json:"averageScore"`
	NumberOfSubjects int     `json:"numberOfSubjects"`
	SubjectsPassed   int     `json:"subjectsPassed"`
	SubjectsFailed   int     `json:"subjectsFailed"`
}

// AggregateScores combines one student's subject scores. Absent and exempted
// subjects are left out entirely. The average is taken over percentages so
// subjects with different maximum scores weigh the same.
func AggregateScores(scores []SubjectScore, passMark float64) Aggregate {
	var agg Aggregate
	var pctSum float64

	for _, s := range scores {
		if !s.Counted() {
			continue
		}
		agg.NumberOfSubjects++
		agg.TotalScore += s.Total
		pctSum += s.Percentage
		if s.Percentage >= passMark {
			agg.SubjectsPassed++
		} else {
			agg.SubjectsFailed++
		}
	}

	if agg.NumberOfSubjects == 0 {
		return Aggregate{}
	}
	agg.TotalScore = shared.Round2(agg.TotalScore)
	agg.AverageScore = shared.Round2(pctSum / float64(agg.NumberOfSubjects))
	return agg
}

// Summary is an Aggregate with the overall grade and a remark.
type Summary struct {
	Aggregate
	OverallGrade string `json:"overallGrade"`
	Remark       string `json:"remark"`
}

// Summarize aggregates scores and grades the average.
func Summarize(scores []SubjectScore, cfg Config) Summary {
	agg := AggregateScores(scores, cfg.PassMark)
	return Summary{
		Aggregate:    agg,
		OverallGrade: cfg.LookupGrade(agg.AverageScore),
		Remark:       Remark(agg.AverageScore),
	}
}

// remarkBands are ordered by threshold, highest first; the last band is the
// catch-all for anything below the previous threshold.
var remarkBands = []struct {
	min    float64
	remark string
}{
	{75, "Excellent performance. Keep it up!"},
	{65, "Very good performance."},
	{55, "Good performance."},
	{45, "Fair performance. There is room for improvement."},
	{40, "Weak performance. Must work harder."},
}

const lowestRemark = "Poor performance. Must improve."

// Remark returns the comment for an average percentage.
func Remark(average float64) string {
	for _, b := range remarkBands {
		if average >= b.min {
			return b.remark
		}
	}
	return lowestRemark
}
