// Package grading turns percentages into letter grades, aggregates a student's
// subject scores into a term result and ranks a class.
package grading

import (
	"fmt"
	"sort"

	"github.com/school-portal/assessment-engine/internal/domain/shared"
)

// Boundary maps an inclusive percentage range to a grade.
type Boundary struct {
	Grade    string  `json:"grade" validate:"required"`
	MinScore float64 `json:"minScore"`
	MaxScore float64 `json:"maxScore"`
}

// Contains reports whether pct falls within the boundary.
func (b Boundary) Contains(pct float64) bool {
	return pct >= b.MinScore && pct <= b.MaxScore
}

// Config is a tenant's grading scheme.
type Config struct {
	Boundaries []Boundary `json:"gradeBoundaries"`
	PassMark   float64    `json:"passMark"`
}

// Sorted returns the boundaries ordered by MinScore descending. Equal
// MinScores keep their configured order, so lookup is deterministic no matter
// how the boundaries were stored.
func (c Config) Sorted() []Boundary {
	out := make([]Boundary, len(c.Boundaries))
	copy(out, c.Boundaries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MinScore > out[j].MinScore
	})
	return out
}

// LookupGrade returns the first boundary containing pct after sorting.
// When nothing matches it falls back to the lowest configured grade instead
// of failing, and returns "" only when no boundaries exist.
func (c Config) LookupGrade(pct float64) string {
	sorted := c.Sorted()
	if len(sorted) == 0 {
		return ""
	}
	for _, b := range sorted {
		if b.Contains(pct) {
			return b.Grade
		}
	}
	return sorted[len(sorted)-1].Grade
}

// Passed reports whether pct meets the pass mark.
func (c Config) Passed(pct float64) bool {
	return pct >= c.PassMark
}

// Check reports every structural problem with the boundaries. Boundaries are
// expected to cover [0,100] without overlaps; gaps of at most one point are
// tolerated for integer-style schemes such as 70-100, 60-69.
func (c Config) Check() error {
	var problems []string

	if c.PassMark < 0 || c.PassMark > 100 {
		problems = append(problems, fmt.Sprintf("passMark %s must be within [0,100]", shared.FormatNumber(c.PassMark)))
	}
	if len(c.Boundaries) == 0 {
		problems = append(problems, "at least one grade boundary is required")
		return shared.NewConfigError("grading", problems)
	}

	sorted := c.Sorted()
	for i, b := range sorted {
		if b.Grade == "" {
			problems = append(problems, fmt.Sprintf("boundary %d has no grade", i))
		}
		if b.MinScore > b.MaxScore {
			problems = append(problems, fmt.Sprintf("grade %s: minScore %s above maxScore %s",
				b.Grade, shared.FormatNumber(b.MinScore), shared.FormatNumber(b.MaxScore)))
		}
		if i == 0 {
			continue
		}
		upper := sorted[i-1]
		switch gap := upper.MinScore - b.MaxScore; {
		case gap <= 0:
			problems = append(problems, fmt.Sprintf("grades %s and %s overlap", upper.Grade, b.Grade))
		case gap > 1:
			problems = append(problems, fmt.Sprintf("gap between grades %s and %s", b.Grade, upper.Grade))
		}
	}

	if top := sorted[0]; top.MaxScore < 100 {
		problems = append(problems, fmt.Sprintf("grade %s must reach 100", top.Grade))
	}
	if bottom := sorted[len(sorted)-1]; bottom.MinScore > 0 {
		problems = append(problems, fmt.Sprintf("grade %s must start at 0", bottom.Grade))
	}

	return shared.NewConfigError("grading", problems)
}
