package promotion

import (
	"github.com/school-portal/assessment-engine/internal/domain/grading"
)

// StudentPerformance is the analyzer input for one student.
type StudentPerformance struct {
	StudentID          string   `json:"studentId"`
	StudentName        string   `json:"studentName,omitempty"`
	ClassID            string   `json:"classId,omitempty"`
	AverageScore       float64  `json:"averageScore"`
	TotalSubjects      int      `json:"totalSubjects"`
	SubjectsPassed     int      `json:"subjectsPassed"`
	SubjectsFailed     int      `json:"subjectsFailed"`
	FailedSubjects     []string `json:"failedSubjects"`
	FailedCoreSubjects []string `json:"failedCoreSubjects"`
	Attendance         *float64 `json:"attendance,omitempty"`
}

// BuildPerformance derives a performance snapshot from subject scores, using
// the same exclusions and pass mark as the term result.
func BuildPerformance(studentID, studentName string, scores []grading.SubjectScore, cfg grading.Config, coreSubjectIDs []string, attendance *float64) StudentPerformance {
	agg := grading.AggregateScores(scores, cfg.PassMark)

	core := make(map[string]bool, len(coreSubjectIDs))
	for _, id := range coreSubjectIDs {
		core[id] = true
	}

	perf := StudentPerformance{
		StudentID:          studentID,
		StudentName:        studentName,
		AverageScore:       agg.AverageScore,
		TotalSubjects:      agg.NumberOfSubjects,
		SubjectsPassed:     agg.SubjectsPassed,
		SubjectsFailed:     agg.SubjectsFailed,
		FailedSubjects:     []string{},
		FailedCoreSubjects: []string{},
		Attendance:         attendance,
	}
	for _, s := range scores {
		if !s.Counted() || cfg.Passed(s.Percentage) {
			continue
		}
		perf.FailedSubjects = append(perf.FailedSubjects, s.SubjectID)
		if core[s.SubjectID] {
			perf.FailedCoreSubjects = append(perf.FailedCoreSubjects, s.SubjectID)
		}
	}
	return perf
}

// SuggestedDecision proposes a decision for an analyzed student. Students
// needing review get no suggestion.
func SuggestedDecision(res EligibilityResult, finalClass bool) Decision {
	switch res.Category {
	case CategoryAutoEligible:
		if finalClass {
			return DecisionGraduate
		}
		return DecisionPromote
	case CategoryAutoIneligible:
		return DecisionRepeat
	default:
		return ""
	}
}
