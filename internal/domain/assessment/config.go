// Package assessment converts raw per-student component scores into subject
// totals and percentages under a tenant-defined scoring scheme.
package assessment

import (
	"math"
	"strconv"
	"strings"
)

// CalculationMethod selects how component scores combine into a total.
type CalculationMethod string

const (
	MethodSum             CalculationMethod = "sum"
	MethodWeightedAverage CalculationMethod = "weighted_average"
	MethodBestOfN         CalculationMethod = "best_of_n"
)

// Default score keys for the exam and project when the config leaves ID empty.
const (
	DefaultExamID    = "exam"
	DefaultProjectID = "project"
)

// Component is one continuous-assessment or custom component.
type Component struct {
	ID         string   `json:"id" validate:"required"`
	Name       string   `json:"name" validate:"required"`
	MaxScore   float64  `json:"maxScore" validate:"gt=0"`
	IsOptional bool     `json:"isOptional"`
	Weight     *float64 `json:"weight,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// ExamConfig toggles and sizes the final exam.
type ExamConfig struct {
	Enabled  bool     `json:"enabled"`
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name"`
	MaxScore float64  `json:"maxScore" validate:"required_if=Enabled true,gte=0"`
	Weight   *float64 `json:"weight,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// Key returns the raw-score key the exam is read from.
func (e ExamConfig) Key() string {
	if e.ID != "" {
		return e.ID
	}
	return DefaultExamID
}

// Label returns the display name used in validation messages.
func (e ExamConfig) Label() string {
	if e.Name != "" {
		return e.Name
	}
	return "Exam"
}

func (e ExamConfig) component() Component {
	return Component{ID: e.Key(), Name: e.Label(), MaxScore: e.MaxScore, Weight: e.Weight}
}

// ProjectConfig toggles and sizes the project component.
type ProjectConfig struct {
	Enabled    bool     `json:"enabled"`
	ID         string   `json:"id,omitempty"`
	Name       string   `json:"name"`
	MaxScore   float64  `json:"maxScore" validate:"required_if=Enabled true,gte=0"`
	Weight     *float64 `json:"weight,omitempty" validate:"omitempty,gte=0,lte=100"`
	IsOptional bool     `json:"isOptional"`
}

// Key returns the raw-score key the project is read from.
func (p ProjectConfig) Key() string {
	if p.ID != "" {
		return p.ID
	}
	return DefaultProjectID
}

// Label returns the display name used in validation messages.
func (p ProjectConfig) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return "Project"
}

func (p ProjectConfig) component() Component {
	return Component{ID: p.Key(), Name: p.Label(), MaxScore: p.MaxScore, Weight: p.Weight, IsOptional: p.IsOptional}
}

// BestOfN counts only the top Take of From CA scores.
type BestOfN struct {
	Take int `json:"take" validate:"gte=1"`
	From int `json:"from" validate:"gtefield=Take"`
}

// Config is a tenant's assessment scheme for one subject group.
// It is passed explicitly to every calculation and never cached globally.
type Config struct {
	Components        []Component       `json:"caComponents" validate:"dive"`
	Exam              ExamConfig        `json:"exam"`
	Project           ProjectConfig     `json:"project"`
	CustomAssessments []Component       `json:"customAssessments,omitempty" validate:"dive"`
	CalculationMethod CalculationMethod `json:"calculationMethod" validate:"oneof=sum weighted_average best_of_n"`
	BestOfN           *BestOfN          `json:"bestOfN,omitempty"`
	TotalMaxScore     float64           `json:"totalMaxScore" validate:"gte=0"`
}

// RawScores maps a component ID to its entered score. A nil entry or a
// missing key means the score was not entered.
type RawScores map[string]*float64

// Score returns the entered value and whether it is present.
func (r RawScores) Score(key string) (float64, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// ParseRawScores converts loosely typed input (decoded JSON or form values)
// into RawScores. Values that are neither null nor numeric become NaN so the
// validator reports them.
func ParseRawScores(in map[string]any) RawScores {
	out := make(RawScores, len(in))
	for key, raw := range in {
		var v float64
		switch x := raw.(type) {
		case nil:
			out[key] = nil
			continue
		case float64:
			v = x
		case float32:
			v = float64(x)
		case int:
			v = float64(x)
		case int64:
			v = float64(x)
		case string:
			s := strings.TrimSpace(x)
			if s == "" {
				out[key] = nil
				continue
			}
			parsed, err := strconv.ParseFloat(s, 64)
			if err != nil {
				parsed = math.NaN()
			}
			v = parsed
		default:
			v = math.NaN()
		}
		out[key] = &v
	}
	return out
}

// Float returns a pointer to v, for building RawScores and weights.
func Float(v float64) *float64 {
	return &v
}
