package grading

import (
	"sort"
)

// StudentResult is one student's term result in a class. It is derived from
// subject scores and never edited directly.
type StudentResult struct {
	StudentID        string         `json:"studentId"`
	StudentName      string         `json:"studentName"`
	TotalScore       float64        `json:"totalScore"`
	AverageScore     float64        `json:"averageScore"`
	NumberOfSubjects int            `json:"numberOfSubjects"`
	SubjectsPassed   int            `json:"subjectsPassed"`
	SubjectsFailed   int            `json:"subjectsFailed"`
	OverallGrade     string         `json:"overallGrade,omitempty"`
	Remark           string         `json:"remark,omitempty"`
	Position         int            `json:"position,omitempty"`
	Subjects         []SubjectScore `json:"subjects,omitempty"`
}

// NewStudentResult builds a result from a student's subject scores.
func NewStudentResult(studentID, studentName string, scores []SubjectScore, cfg Config) StudentResult {
	sum := Summarize(scores, cfg)
	return StudentResult{
		StudentID:        studentID,
		StudentName:      studentName,
		TotalScore:       sum.TotalScore,
		AverageScore:     sum.AverageScore,
		NumberOfSubjects: sum.NumberOfSubjects,
		SubjectsPassed:   sum.SubjectsPassed,
		SubjectsFailed:   sum.SubjectsFailed,
		OverallGrade:     sum.OverallGrade,
		Remark:           sum.Remark,
		Subjects:         scores,
	}
}

// tiedWith reports whether two results share a position.
func (r StudentResult) tiedWith(o StudentResult) bool {
	return r.TotalScore == o.TotalScore && r.AverageScore == o.AverageScore
}

// ═══════════════════════════════════════════════════════════════════════════
// Class Ranking
// ═══════════════════════════════════════════════════════════════════════════

// ClassRanking is an ordered, positioned list of results for one class/term.
type ClassRanking struct {
	entries []StudentResult
	byID    map[string]int
}

// RankClass orders results by total descending, then average descending, and
// assigns positions. Students tied on both share a position and the next
// student's position is one plus the number ranked above them (1, 2, 2, 4).
// Names only order tied students for display. The input is not modified.
func RankClass(results []StudentResult) *ClassRanking {
	entries := make([]StudentResult, len(results))
	copy(entries, results)

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].TotalScore != entries[j].TotalScore {
			return entries[i].TotalScore > entries[j].TotalScore
		}
		if entries[i].AverageScore != entries[j].AverageScore {
			return entries[i].AverageScore > entries[j].AverageScore
		}
		return entries[i].StudentName < entries[j].StudentName
	})

	byID := make(map[string]int, len(entries))
	for i := range entries {
		if i > 0 && entries[i].tiedWith(entries[i-1]) {
			entries[i].Position = entries[i-1].Position
		} else {
			entries[i].Position = i + 1
		}
		byID[entries[i].StudentID] = i
	}

	return &ClassRanking{entries: entries, byID: byID}
}

// Results returns the positioned results. Never nil.
func (r *ClassRanking) Results() []StudentResult {
	out := make([]StudentResult, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of ranked students.
func (r *ClassRanking) Len() int {
	return len(r.entries)
}

// GetByID returns a student's ranked result.
func (r *ClassRanking) GetByID(studentID string) (StudentResult, bool) {
	i, ok := r.byID[studentID]
	if !ok {
		return StudentResult{}, false
	}
	return r.entries[i], true
}
