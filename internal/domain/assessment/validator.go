package assessment

import (
	"fmt"

	"github.com/school-portal/assessment-engine/internal/domain/shared"
)

// ValidationResult lists every problem with a set of raw scores.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validate checks raw scores against cfg. Every field is checked on its own
// and all violations are reported. Scores are never modified.
func Validate(scores RawScores, cfg Config) ValidationResult {
	errs := make([]string, 0)

	for _, c := range cfg.Components {
		errs = append(errs, checkScore(scores, c)...)
	}
	if cfg.Exam.Enabled {
		errs = append(errs, checkScore(scores, cfg.Exam.component())...)
	}
	if cfg.Project.Enabled {
		errs = append(errs, checkScore(scores, cfg.Project.component())...)
	}
	for _, c := range cfg.CustomAssessments {
		errs = append(errs, checkScore(scores, c)...)
	}

	return ValidationResult{
		Valid:  len(errs) == 0,
		Errors: errs,
	}
}

func checkScore(scores RawScores, c Component) []string {
	v, ok := scores.Score(c.ID)
	if !ok {
		if c.IsOptional {
			return nil
		}
		return []string{fmt.Sprintf("%s is required", c.Name)}
	}

	if !shared.IsFinite(v) {
		return []string{fmt.Sprintf("%s must be a valid number", c.Name)}
	}
	if v < 0 {
		return []string{fmt.Sprintf("%s score cannot be negative", c.Name)}
	}
	if v > c.MaxScore {
		return []string{fmt.Sprintf("%s score (%s) exceeds maximum (%s)",
			c.Name, shared.FormatNumber(v), shared.FormatNumber(c.MaxScore))}
	}
	return nil
}
