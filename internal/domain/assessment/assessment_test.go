package assessment

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/school-portal/assessment-engine/internal/domain/shared"
)

func threeCAWithExam() Config {
	return Config{
		Components: []Component{
			{ID: "ca1", Name: "CA1", MaxScore: 10},
			{ID: "ca2", Name: "CA2", MaxScore: 10},
			{ID: "ca3", Name: "CA3", MaxScore: 10},
		},
		Exam:              ExamConfig{Enabled: true, Name: "Exam", MaxScore: 70},
		CalculationMethod: MethodSum,
		TotalMaxScore:     100,
	}
}

func TestCalculate_SumEndToEnd(t *testing.T) {
	scores := RawScores{"ca1": Float(8), "ca2": Float(9), "ca3": Float(10), "exam": Float(65)}

	res := Calculate(scores, threeCAWithExam())

	assert.Equal(t, 27.0, res.TotalCA)
	assert.Equal(t, 92.0, res.Total)
	assert.Equal(t, 92.0, res.Percentage)
	assert.Equal(t, 100.0, res.MaxScore)
	assert.Equal(t, map[string]float64{"ca1": 8, "ca2": 9, "ca3": 10, "exam": 65}, res.Breakdown)
}

func TestCalculate_AbsentComponentsContributeZero(t *testing.T) {
	cfg := threeCAWithExam()
	cfg.Components[2].IsOptional = true
	scores := RawScores{"ca1": Float(5), "ca2": nil, "exam": Float(40)}

	res := Calculate(scores, cfg)

	assert.Equal(t, 5.0, res.TotalCA)
	assert.Equal(t, 45.0, res.Total)
	assert.NotContains(t, res.Breakdown, "ca2")
	assert.NotContains(t, res.Breakdown, "ca3")
}

func TestCalculate_ProjectAndCustom(t *testing.T) {
	cfg := threeCAWithExam()
	cfg.Project = ProjectConfig{Enabled: true, Name: "Project", MaxScore: 10}
	cfg.CustomAssessments = []Component{{ID: "oral", Name: "Oral", MaxScore: 5}}
	cfg.TotalMaxScore = 115
	scores := RawScores{"ca1": Float(10), "ca2": Float(10), "ca3": Float(10), "exam": Float(70), "project": Float(8), "oral": Float(4)}

	res := Calculate(scores, cfg)

	assert.Equal(t, 30.0, res.TotalCA)
	assert.Equal(t, 112.0, res.Total)
	assert.Equal(t, 97.39, res.Percentage)
}

func TestCalculate_DisabledExamIgnored(t *testing.T) {
	cfg := threeCAWithExam()
	cfg.Exam.Enabled = false
	cfg.TotalMaxScore = 30

	res := Calculate(RawScores{"ca1": Float(10), "exam": Float(70)}, cfg)

	assert.Equal(t, 10.0, res.Total)
	assert.NotContains(t, res.Breakdown, "exam")
}

func TestCalculate_ZeroTotalMaxScore(t *testing.T) {
	cfg := threeCAWithExam()
	cfg.TotalMaxScore = 0

	res := Calculate(RawScores{"ca1": Float(10)}, cfg)

	assert.Equal(t, 10.0, res.Total)
	assert.Equal(t, 0.0, res.Percentage)
}

func TestCalculate_WeightedAverage(t *testing.T) {
	cfg := Config{
		Components: []Component{
			{ID: "t1", Name: "Test 1", MaxScore: 20, Weight: Float(20)},
			{ID: "t2", Name: "Test 2", MaxScore: 50, Weight: Float(20)},
			{ID: "hw", Name: "Homework", MaxScore: 10},
		},
		Exam:              ExamConfig{Enabled: true, MaxScore: 100, Weight: Float(60)},
		CalculationMethod: MethodWeightedAverage,
		TotalMaxScore:     100,
	}
	scores := RawScores{"t1": Float(10), "t2": Float(50), "hw": Float(10), "exam": Float(80)}

	res := Calculate(scores, cfg)

	// t1: 50% of 20 = 10, t2: 100% of 20 = 20, homework has no weight.
	assert.Equal(t, 30.0, res.TotalCA)
	assert.Equal(t, 78.0, res.Total)
	assert.Equal(t, 78.0, res.Percentage)
	assert.Equal(t, 10.0, res.Breakdown["hw"])
	assert.Equal(t, []string{`component "hw" has no weight and does not count towards the total`}, cfg.Warnings())
}

func TestConfig_WarningsOnlyForWeightedAverage(t *testing.T) {
	assert.Empty(t, threeCAWithExam().Warnings())

	cfg := threeCAWithExam()
	cfg.CalculationMethod = MethodWeightedAverage
	assert.Len(t, cfg.Warnings(), 4)
}

func TestCalculate_BestOfN(t *testing.T) {
	cfg := Config{
		Components: []Component{
			{ID: "q1", Name: "Quiz 1", MaxScore: 10},
			{ID: "q2", Name: "Quiz 2", MaxScore: 10},
			{ID: "q3", Name: "Quiz 3", MaxScore: 10},
			{ID: "q4", Name: "Quiz 4", MaxScore: 10},
		},
		Exam:              ExamConfig{Enabled: true, MaxScore: 80},
		Project:           ProjectConfig{Enabled: true, MaxScore: 10},
		CalculationMethod: MethodBestOfN,
		BestOfN:           &BestOfN{Take: 2, From: 4},
		TotalMaxScore:     100,
	}

	t.Run("takes the top scores", func(t *testing.T) {
		scores := RawScores{"q1": Float(4), "q2": Float(9), "q3": Float(7), "q4": Float(8), "exam": Float(60), "project": Float(10)}
		res := Calculate(scores, cfg)
		assert.Equal(t, 17.0, res.TotalCA)
		assert.Equal(t, 77.0, res.Total)
	})

	t.Run("fewer scores than take", func(t *testing.T) {
		scores := RawScores{"q3": Float(6), "exam": Float(50)}
		res := Calculate(scores, cfg)
		assert.Equal(t, 6.0, res.TotalCA)
		assert.Equal(t, 56.0, res.Total)
	})
}

func TestCalculate_Idempotent(t *testing.T) {
	cfg := threeCAWithExam()
	scores := RawScores{"ca1": Float(7.33), "ca2": Float(8.67), "ca3": Float(9.01), "exam": Float(55.5)}

	first := Calculate(scores, cfg)
	second := Calculate(scores, cfg)

	assert.Equal(t, first, second)
}

func TestCalculate_RoundsToTwoDecimals(t *testing.T) {
	cfg := threeCAWithExam()
	cfg.TotalMaxScore = 30
	cfg.Exam.Enabled = false

	res := Calculate(RawScores{"ca1": Float(10), "ca2": Float(10), "ca3": Float(0)}, cfg)

	assert.Equal(t, 66.67, res.Percentage)
}

func TestValidate(t *testing.T) {
	cfg := threeCAWithExam()
	cfg.Components[2].IsOptional = true

	t.Run("valid", func(t *testing.T) {
		res := Validate(RawScores{"ca1": Float(8), "ca2": Float(0), "exam": Float(70)}, cfg)
		assert.True(t, res.Valid)
		assert.Empty(t, res.Errors)
	})

	t.Run("reports every violation", func(t *testing.T) {
		scores := RawScores{
			"ca1":  nil,
			"ca2":  Float(-1),
			"ca3":  Float(12),
			"exam": Float(math.NaN()),
		}
		res := Validate(scores, cfg)
		assert.False(t, res.Valid)
		assert.Equal(t, []string{
			"CA1 is required",
			"CA2 score cannot be negative",
			"CA3 score (12) exceeds maximum (10)",
			"Exam must be a valid number",
		}, res.Errors)
	})

	t.Run("disabled exam is not required", func(t *testing.T) {
		c := cfg
		c.Exam.Enabled = false
		res := Validate(RawScores{"ca1": Float(1), "ca2": Float(1)}, c)
		assert.True(t, res.Valid)
	})

	t.Run("optional project may be absent", func(t *testing.T) {
		c := cfg
		c.Project = ProjectConfig{Enabled: true, Name: "Project", MaxScore: 10, IsOptional: true}
		res := Validate(RawScores{"ca1": Float(1), "ca2": Float(1), "exam": Float(1)}, c)
		assert.True(t, res.Valid)

		res = Validate(RawScores{"ca1": Float(1), "ca2": Float(1), "exam": Float(1), "project": Float(10.5)}, c)
		assert.Equal(t, []string{"Project score (10.5) exceeds maximum (10)"}, res.Errors)
	})

	t.Run("does not mutate input", func(t *testing.T) {
		scores := RawScores{"ca1": Float(99)}
		Validate(scores, cfg)
		assert.Equal(t, 99.0, *scores["ca1"])
		assert.Len(t, scores, 1)
	})
}

func TestParseRawScores(t *testing.T) {
	parsed := ParseRawScores(map[string]any{
		"a": 8.5,
		"b": "9",
		"c": nil,
		"d": "abc",
		"e": "",
		"f": true,
	})

	v, ok := parsed.Score("a")
	assert.True(t, ok)
	assert.Equal(t, 8.5, v)

	v, ok = parsed.Score("b")
	assert.True(t, ok)
	assert.Equal(t, 9.0, v)

	_, ok = parsed.Score("c")
	assert.False(t, ok)
	_, ok = parsed.Score("e")
	assert.False(t, ok)

	v, _ = parsed.Score("d")
	assert.True(t, math.IsNaN(v))
	v, _ = parsed.Score("f")
	assert.True(t, math.IsNaN(v))
}

func TestConfig_Check(t *testing.T) {
	t.Run("valid sum config", func(t *testing.T) {
		assert.NoError(t, threeCAWithExam().Check())
	})

	t.Run("total max inconsistent with components", func(t *testing.T) {
		cfg := threeCAWithExam()
		cfg.TotalMaxScore = 90
		err := cfg.Check()
		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrInvalidConfig))
		assert.Contains(t, err.Error(), "totalMaxScore 90")
	})

	t.Run("struct tags", func(t *testing.T) {
		cfg := threeCAWithExam()
		cfg.Components[0].MaxScore = 0
		cfg.Components[1].Name = ""
		cfg.CalculationMethod = "median"
		err := cfg.Check()
		require.Error(t, err)

		var cerr *shared.ConfigError
		require.True(t, errors.As(err, &cerr))
		assert.Contains(t, cerr.Problems, `Config.caComponents[0].maxScore failed "gt"`)
		assert.Contains(t, cerr.Problems, `Config.caComponents[1].name failed "required"`)
		assert.Contains(t, cerr.Problems, `Config.calculationMethod failed "oneof"`)
	})

	t.Run("enabled exam needs a max score", func(t *testing.T) {
		cfg := threeCAWithExam()
		cfg.Exam.MaxScore = 0
		cfg.TotalMaxScore = 30
		err := cfg.Check()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exam.maxScore")
	})

	t.Run("duplicate ids", func(t *testing.T) {
		cfg := threeCAWithExam()
		cfg.Components[1].ID = "ca1"
		err := cfg.Check()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `duplicate component id "ca1"`)
	})

	t.Run("weights above 100", func(t *testing.T) {
		cfg := Config{
			Components: []Component{
				{ID: "a", Name: "A", MaxScore: 10, Weight: Float(60)},
				{ID: "b", Name: "B", MaxScore: 10, Weight: Float(50)},
			},
			CalculationMethod: MethodWeightedAverage,
			TotalMaxScore:     100,
		}
		err := cfg.Check()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CA weights total 110")
	})

	t.Run("best of n bounds", func(t *testing.T) {
		cfg := threeCAWithExam()
		cfg.CalculationMethod = MethodBestOfN
		assert.Error(t, cfg.Check())

		cfg.BestOfN = &BestOfN{Take: 2, From: 5}
		err := cfg.Check()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bestOfN.from 5 exceeds")

		cfg.BestOfN = &BestOfN{Take: 3, From: 2}
		assert.Error(t, cfg.Check())

		cfg.BestOfN = &BestOfN{Take: 2, From: 3}
		assert.NoError(t, cfg.Check())
	})
}

func TestConfig_Fingerprint(t *testing.T) {
	a, err := threeCAWithExam().Fingerprint()
	require.NoError(t, err)
	b, err := threeCAWithExam().Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	changed := threeCAWithExam()
	changed.Exam.MaxScore = 60
	c, err := changed.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
