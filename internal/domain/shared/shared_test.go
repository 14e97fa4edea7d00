package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRound2(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{92, 92},
		{0.125, 0.13},
		{2.344, 2.34},
		{2.346, 2.35},
		{87.5, 87.5},
		{0, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			assert.InDelta(t, tt.want, Round2(tt.in), 1e-9)
		})
	}
}

func TestPercent_ZeroWhole(t *testing.T) {
	assert.Equal(t, 0.0, Percent(50, 0))
	assert.Equal(t, 50.0, Percent(50, 100))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "12", FormatNumber(12))
	assert.Equal(t, "10.5", FormatNumber(10.5))
	assert.Equal(t, "-1", FormatNumber(-1))
}

func TestDomainError_Is(t *testing.T) {
	err := fmt.Errorf("execute: %w", ErrCampaignAlreadyExecuted)

	assert.True(t, errors.Is(err, ErrCampaignAlreadyExecuted))
	assert.True(t, errors.Is(err, ErrAlreadyProcessed))
	assert.True(t, IsPrecondition(err))
	assert.False(t, IsNotFound(err))
	assert.True(t, IsNotFound(ErrCampaignNotFound))
}

func TestConfigError(t *testing.T) {
	assert.NoError(t, NewConfigError("grading", nil))

	err := NewConfigError("grading", []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "a; b")
}

func TestMatches(t *testing.T) {
	fields := map[string]any{
		"tenantId":   "t1",
		"status":     "approved",
		"batchCount": float64(3),
	}

	assert.True(t, Matches(fields, nil))
	assert.True(t, Matches(fields, []Filter{Eq("tenantId", "t1"), Eq("batchCount", 3)}))
	assert.True(t, Matches(fields, []Filter{In("status", "submitted", "approved")}))
	assert.False(t, Matches(fields, []Filter{In("status", "executed")}))
	assert.False(t, Matches(fields, []Filter{Eq("missing", "x")}))
}

func TestRecord_Decode(t *testing.T) {
	type doc struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}
	fields, err := ToFields(doc{Name: "Ada", Score: 91.5})
	require.NoError(t, err)

	var out doc
	require.NoError(t, Record{ID: "r1", Fields: fields}.Decode(&out))
	assert.Equal(t, doc{Name: "Ada", Score: 91.5}, out)
	assert.Equal(t, "Ada", Record{Fields: fields}.String("name"))
}
