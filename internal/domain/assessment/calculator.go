package assessment

import (
	"sort"

	"github.com/school-portal/assessment-engine/internal/domain/shared"
)

// Result is the computed outcome for one student in one subject.
type Result struct {
	TotalCA    float64            `json:"totalCa"`
	Total      float64            `json:"total"`
	Percentage float64            `json:"percentage"`
	MaxScore   float64            `json:"maxScore"`
	Breakdown  map[string]float64 `json:"breakdown"`
}

// Calculate combines raw scores under cfg. It does not validate: callers run
// Validate first on every write path. Absent components contribute 0.
// The function is pure; identical inputs yield identical outputs.
func Calculate(scores RawScores, cfg Config) Result {
	var totalCA, total float64

	switch cfg.CalculationMethod {
	case MethodWeightedAverage:
		totalCA = weightedSum(scores, cfg.Components)
		total = totalCA
		if cfg.Exam.Enabled {
			total += weightedSum(scores, []Component{cfg.Exam.component()})
		}
		if cfg.Project.Enabled {
			total += weightedSum(scores, []Component{cfg.Project.component()})
		}
		total += weightedSum(scores, cfg.CustomAssessments)

	case MethodBestOfN:
		totalCA = bestOf(scores, cfg.Components, cfg.BestOfN)
		total = totalCA
		if cfg.Exam.Enabled {
			total += present(scores, cfg.Exam.Key())
		}

	default:
		for _, c := range cfg.Components {
			totalCA += present(scores, c.ID)
		}
		total = totalCA
		if cfg.Exam.Enabled {
			total += present(scores, cfg.Exam.Key())
		}
		if cfg.Project.Enabled {
			total += present(scores, cfg.Project.Key())
		}
		for _, c := range cfg.CustomAssessments {
			total += present(scores, c.ID)
		}
	}

	total = shared.Round2(total)
	return Result{
		TotalCA:    shared.Round2(totalCA),
		Total:      total,
		Percentage: shared.Round2(shared.Percent(total, cfg.TotalMaxScore)),
		MaxScore:   cfg.TotalMaxScore,
		Breakdown:  breakdown(scores, cfg),
	}
}

func present(scores RawScores, key string) float64 {
	v, _ := scores.Score(key)
	return v
}

// weightedSum adds (score/max*100)*weight/100 for every component that
// declares a weight. Unweighted components are left out of the sum.
func weightedSum(scores RawScores, components []Component) float64 {
	var sum float64
	for _, c := range components {
		if c.Weight == nil || c.MaxScore <= 0 {
			continue
		}
		v, ok := scores.Score(c.ID)
		if !ok {
			continue
		}
		sum += (v / c.MaxScore * 100) * *c.Weight / 100
	}
	return sum
}

func bestOf(scores RawScores, components []Component, n *BestOfN) float64 {
	values := make([]float64, 0, len(components))
	for _, c := range components {
		if v, ok := scores.Score(c.ID); ok {
			values = append(values, v)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(values)))

	take := len(values)
	if n != nil && n.Take >= 0 && n.Take < take {
		take = n.Take
	}
	var sum float64
	for _, v := range values[:take] {
		sum += v
	}
	return sum
}

// breakdown echoes every entered score for a configured component.
func breakdown(scores RawScores, cfg Config) map[string]float64 {
	out := make(map[string]float64)
	for _, c := range cfg.allComponents() {
		if v, ok := scores.Score(c.ID); ok {
			out[c.ID] = v
		}
	}
	return out
}

// allComponents lists CAs, enabled exam/project, then custom assessments.
func (cfg Config) allComponents() []Component {
	all := make([]Component, 0, len(cfg.Components)+len(cfg.CustomAssessments)+2)
	all = append(all, cfg.Components...)
	if cfg.Exam.Enabled {
		all = append(all, cfg.Exam.component())
	}
	if cfg.Project.Enabled {
		all = append(all, cfg.Project.component())
	}
	all = append(all, cfg.CustomAssessments...)
	return all
}
