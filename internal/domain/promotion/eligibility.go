// Package promotion classifies students for promotion and models campaigns,
// their per-student records and the execution report.
package promotion

import (
	"fmt"

	"github.com/school-portal/assessment-engine/internal/domain/shared"
)

// Mode controls how much of the promotion decision is automated.
type Mode string

const (
	ModeManual    Mode = "manual"
	ModeAutomatic Mode = "automatic"
	ModeHybrid    Mode = "hybrid"
)

// IsValid checks if the mode is known.
func (m Mode) IsValid() bool {
	switch m {
	case ModeManual, ModeAutomatic, ModeHybrid:
		return true
	}
	return false
}

// CoreRequirementType selects how core subjects are counted.
type CoreRequirementType string

const (
	CoreAll     CoreRequirementType = "all"
	CoreMinimum CoreRequirementType = "minimum"
)

// Threshold is a toggleable numeric minimum.
type Threshold struct {
	Enabled bool    `json:"enabled"`
	Value   float64 `json:"value"`
}

// CoreSubjectsRequirement configures the core subject rule.
type CoreSubjectsRequirement struct {
	Enabled         bool                `json:"enabled"`
	Type            CoreRequirementType `json:"type"`
	MinimumRequired int                 `json:"minimumRequired,omitempty"`
}

// AttendanceRequirement configures the attendance rule.
type AttendanceRequirement struct {
	Enabled           bool    `json:"enabled"`
	MinimumPercentage float64 `json:"minimumPercentage"`
}

// Criteria are the independently toggleable promotion rules.
type Criteria struct {
	MinimumAverageScore     *Threshold               `json:"minimumAverageScore,omitempty"`
	MinimumSubjectsPassed   *Threshold               `json:"minimumSubjectsPassed,omitempty"`
	CoreSubjectsRequirement *CoreSubjectsRequirement `json:"coreSubjectsRequirement,omitempty"`
	AttendanceRequirement   *AttendanceRequirement   `json:"attendanceRequirement,omitempty"`
}

// Settings is a tenant's promotion policy.
type Settings struct {
	Mode     Mode      `json:"mode"`
	Criteria *Criteria `json:"criteria,omitempty"`
}

// Check reports problems with the settings.
func (s Settings) Check() error {
	var problems []string
	if !s.Mode.IsValid() {
		problems = append(problems, fmt.Sprintf("unknown promotion mode %q", s.Mode))
	}
	if c := s.Criteria; c != nil {
		if r := c.CoreSubjectsRequirement; r != nil && r.Enabled {
			if r.Type != CoreAll && r.Type != CoreMinimum {
				problems = append(problems, fmt.Sprintf("unknown core subjects requirement type %q", r.Type))
			}
			if r.Type == CoreMinimum && r.MinimumRequired < 0 {
				problems = append(problems, "core subjects minimumRequired cannot be negative")
			}
		}
		if r := c.AttendanceRequirement; r != nil && r.Enabled && (r.MinimumPercentage < 0 || r.MinimumPercentage > 100) {
			problems = append(problems, "attendance minimumPercentage must be within [0,100]")
		}
	}
	return shared.NewConfigError("promotion", problems)
}

// Category is the analyzer's classification of one student.
type Category string

const (
	CategoryAutoEligible   Category = "auto_eligible"
	CategoryAutoIneligible Category = "auto_ineligible"
	CategoryReviewRequired Category = "review_required"
)

// Criterion names used as keys in EligibilityResult.CriteriaResults.
const (
	CriterionAverageScore   = "minimumAverageScore"
	CriterionSubjectsPassed = "minimumSubjectsPassed"
	CriterionCoreSubjects   = "coreSubjectsRequirement"
	CriterionAttendance     = "attendanceRequirement"
)

// CriterionResult is the outcome of one evaluated criterion.
type CriterionResult struct {
	Passed   bool    `json:"passed"`
	Actual   float64 `json:"actual"`
	Required float64 `json:"required"`
	Message  string  `json:"message"`
}

// EligibilityResult is the analyzer output for one student.
type EligibilityResult struct {
	StudentID       string                     `json:"studentId"`
	IsEligible      bool                       `json:"isEligible"`
	Category        Category                   `json:"category"`
	CriteriaResults map[string]CriterionResult `json:"criteriaResults"`
	PassedCriteria  []string                   `json:"passedCriteria"`
	FailedCriteria  []string                   `json:"failedCriteria"`
}

func (r *EligibilityResult) record(name string, c CriterionResult) {
	r.CriteriaResults[name] = c
	if c.Passed {
		r.PassedCriteria = append(r.PassedCriteria, c.Message)
	} else {
		r.FailedCriteria = append(r.FailedCriteria, c.Message)
	}
}

// Analyze classifies one student against the promotion settings. In manual
// mode every student needs review. Otherwise each enabled criterion is
// evaluated on its own and the student is eligible only if all pass.
// Pure: no I/O, no shared state.
func Analyze(perf StudentPerformance, settings Settings, coreSubjectIDs []string) EligibilityResult {
	res := EligibilityResult{
		StudentID:       perf.StudentID,
		CriteriaResults: make(map[string]CriterionResult),
		PassedCriteria:  []string{},
		FailedCriteria:  []string{},
	}

	if settings.Mode == ModeManual {
		res.Category = CategoryReviewRequired
		return res
	}

	if c := settings.Criteria; c != nil {
		if t := c.MinimumAverageScore; t != nil && t.Enabled {
			res.record(CriterionAverageScore, minimumCheck(
				perf.AverageScore, t.Value, "Average score %s%% %s minimum of %s%%"))
		}
		if t := c.MinimumSubjectsPassed; t != nil && t.Enabled {
			res.record(CriterionSubjectsPassed, minimumCheck(
				float64(perf.SubjectsPassed), t.Value, "Passed %s subjects, %s minimum of %s"))
		}
		if r := c.CoreSubjectsRequirement; r != nil && r.Enabled {
			res.record(CriterionCoreSubjects, coreCheck(perf, r, len(coreSubjectIDs)))
		}
		if r := c.AttendanceRequirement; r != nil && r.Enabled && perf.Attendance != nil {
			res.record(CriterionAttendance, minimumCheck(
				*perf.Attendance, r.MinimumPercentage, "Attendance %s%% %s minimum of %s%%"))
		}
	}

	res.IsEligible = len(res.FailedCriteria) == 0
	switch {
	case res.IsEligible:
		res.Category = CategoryAutoEligible
	case settings.Mode == ModeHybrid:
		res.Category = CategoryReviewRequired
	default:
		res.Category = CategoryAutoIneligible
	}
	return res
}

func minimumCheck(actual, required float64, format string) CriterionResult {
	passed := actual >= required
	verdict := "meets"
	if !passed {
		verdict = "is below"
	}
	return CriterionResult{
		Passed:   passed,
		Actual:   actual,
		Required: required,
		Message:  fmt.Sprintf(format, shared.FormatNumber(actual), verdict, shared.FormatNumber(required)),
	}
}

func coreCheck(perf StudentPerformance, r *CoreSubjectsRequirement, coreCount int) CriterionResult {
	failed := len(perf.FailedCoreSubjects)

	if r.Type == CoreMinimum {
		passedCore := coreCount - failed
		c := CriterionResult{
			Passed:   passedCore >= r.MinimumRequired,
			Actual:   float64(passedCore),
			Required: float64(r.MinimumRequired),
		}
		if c.Passed {
			c.Message = fmt.Sprintf("Passed %d of %d core subjects, at least %d required", passedCore, coreCount, r.MinimumRequired)
		} else {
			c.Message = fmt.Sprintf("Passed only %d of %d core subjects, at least %d required", passedCore, coreCount, r.MinimumRequired)
		}
		return c
	}

	c := CriterionResult{
		Passed:   failed == 0,
		Actual:   float64(coreCount - failed),
		Required: float64(coreCount),
		Message:  "Passed all core subjects",
	}
	if !c.Passed {
		c.Message = fmt.Sprintf("Failed %d core subject(s): %v", failed, perf.FailedCoreSubjects)
	}
	return c
}
