package assessment

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/blake2b"

	"github.com/school-portal/assessment-engine/internal/domain/shared"
)

const epsilon = 1e-9

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// structValidator reports field names by their JSON tag.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Check reports every structural problem with the configuration. It returns
// nil or a *shared.ConfigError.
func (cfg Config) Check() error {
	var problems []string

	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return shared.NewConfigError("assessment", []string{err.Error()})
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
	}

	seen := make(map[string]bool)
	for _, c := range cfg.allComponents() {
		if c.ID == "" {
			continue
		}
		if seen[c.ID] {
			problems = append(problems, fmt.Sprintf("duplicate component id %q", c.ID))
		}
		seen[c.ID] = true
	}

	switch cfg.CalculationMethod {
	case MethodSum:
		var required, all float64
		for _, c := range cfg.allComponents() {
			all += c.MaxScore
			if !c.IsOptional {
				required += c.MaxScore
			}
		}
		if cfg.TotalMaxScore < required-epsilon || cfg.TotalMaxScore > all+epsilon {
			problems = append(problems, fmt.Sprintf(
				"totalMaxScore %s must be between the required components' maximum %s and all components' maximum %s",
				shared.FormatNumber(cfg.TotalMaxScore), shared.FormatNumber(required), shared.FormatNumber(all)))
		}

	case MethodWeightedAverage:
		if w := weightTotal(cfg.Components); w > 100+epsilon {
			problems = append(problems, fmt.Sprintf("CA weights total %s, above 100", shared.FormatNumber(w)))
		}
		if w := weightTotal(cfg.CustomAssessments); w > 100+epsilon {
			problems = append(problems, fmt.Sprintf("custom assessment weights total %s, above 100", shared.FormatNumber(w)))
		}

	case MethodBestOfN:
		if cfg.BestOfN == nil {
			problems = append(problems, "bestOfN is required for best_of_n")
		} else if cfg.BestOfN.From > len(cfg.Components) {
			problems = append(problems, fmt.Sprintf("bestOfN.from %d exceeds the %d configured CA components",
				cfg.BestOfN.From, len(cfg.Components)))
		}
	}

	return shared.NewConfigError("assessment", problems)
}

// Warnings lists legal but suspicious settings. Under weighted_average a
// component without a weight is scored but left out of the total.
func (cfg Config) Warnings() []string {
	if cfg.CalculationMethod != MethodWeightedAverage {
		return nil
	}

	counted := append([]Component{}, cfg.Components...)
	if cfg.Exam.Enabled {
		counted = append(counted, cfg.Exam.component())
	}
	if cfg.Project.Enabled {
		counted = append(counted, cfg.Project.component())
	}
	counted = append(counted, cfg.CustomAssessments...)

	var warnings []string
	for _, c := range counted {
		if c.Weight == nil {
			warnings = append(warnings, fmt.Sprintf("component %q has no weight and does not count towards the total", c.ID))
		}
	}
	return warnings
}

func weightTotal(components []Component) float64 {
	var sum float64
	for _, c := range components {
		if c.Weight != nil {
			sum += *c.Weight
		}
	}
	return sum
}

// Fingerprint identifies the scoring-relevant content of the configuration.
// Two configs with the same fingerprint score every input identically.
func (cfg Config) Fingerprint() (string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("assessment: fingerprint: %w", err)
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
