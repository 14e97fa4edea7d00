package tenant

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/school-portal/assessment-engine/internal/domain/assessment"
	"github.com/school-portal/assessment-engine/internal/domain/grading"
	"github.com/school-portal/assessment-engine/internal/domain/promotion"
	"github.com/school-portal/assessment-engine/internal/domain/shared"
	"github.com/school-portal/assessment-engine/internal/infrastructure/persistence/memory"
	"github.com/school-portal/assessment-engine/pkg/logger"
)

func incompleteSettings() Settings {
	return Settings{
		TenantID: "school-1",
		Assessment: assessment.Config{
			Components:        []assessment.Component{{ID: "ca1", Name: "CA1", MaxScore: 40}},
			Exam:              assessment.ExamConfig{Enabled: true, Name: "Exam", MaxScore: 60},
			CalculationMethod: assessment.MethodSum,
			TotalMaxScore:     100,
		},
		Grading: grading.Config{
			Boundaries: []grading.Boundary{{Grade: "A1", MinScore: 75, MaxScore: 100}},
			PassMark:   40,
		},
	}
}

func TestStoreProvider_SaveRejectsIncompleteSettings(t *testing.T) {
	store := memory.NewStore()
	p := NewStoreProvider(store, logger.Nop())

	err := p.Save(context.Background(), incompleteSettings())
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))

	recs, err := store.Query(context.Background(), shared.CollectionTenantSettings)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStoreProvider_ReadsIncompleteSettingsWithWarning(t *testing.T) {
	store := memory.NewStore()
	fields, err := shared.ToFields(incompleteSettings())
	require.NoError(t, err)
	require.NoError(t, store.Put(shared.CollectionTenantSettings, "settings-1", fields))

	var buf bytes.Buffer
	log := logger.New(logger.Options{Output: &buf, Level: logger.LevelDebug, Format: "json"})

	s, err := NewStoreProvider(store, log).Settings(context.Background(), "school-1")
	require.NoError(t, err)
	assert.Equal(t, "A1", s.Grading.LookupGrade(20))
	assert.Equal(t, promotion.Mode(""), s.Promotion.Mode)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "school-1", entry["tenant_id"])
	problems, ok := entry["problems"].([]any)
	require.True(t, ok)
	assert.Contains(t, problems, `promotion: unknown promotion mode ""`)
}

func TestStoreProvider_MissingSettings(t *testing.T) {
	_, err := NewStoreProvider(memory.NewStore(), logger.Nop()).Settings(context.Background(), "school-9")
	assert.True(t, shared.IsNotFound(err))
}
