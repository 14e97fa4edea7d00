package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/school-portal/assessment-engine/internal/application/command"
	"github.com/school-portal/assessment-engine/internal/application/query"
	"github.com/school-portal/assessment-engine/internal/application/tenant"
	"github.com/school-portal/assessment-engine/internal/domain/assessment"
	"github.com/school-portal/assessment-engine/internal/domain/grading"
	"github.com/school-portal/assessment-engine/internal/domain/promotion"
	"github.com/school-portal/assessment-engine/internal/domain/shared"
	"github.com/school-portal/assessment-engine/internal/infrastructure/persistence/memory"
	"github.com/school-portal/assessment-engine/internal/interface/http/handlers"
	"github.com/school-portal/assessment-engine/pkg/logger"
	"github.com/school-portal/assessment-engine/pkg/timeutil"
)

const testTenant = "school-1"

func testSettings() tenant.Settings {
	return tenant.Settings{
		TenantID: testTenant,
		Assessment: assessment.Config{
			Components: []assessment.Component{
				{ID: "ca1", Name: "CA1", MaxScore: 20},
				{ID: "ca2", Name: "CA2", MaxScore: 20},
			},
			Exam:              assessment.ExamConfig{Enabled: true, Name: "Exam", MaxScore: 60},
			CalculationMethod: assessment.MethodSum,
			TotalMaxScore:     100,
		},
		Grading: grading.Config{
			Boundaries: []grading.Boundary{
				{Grade: "A", MinScore: 70, MaxScore: 100},
				{Grade: "C", MinScore: 40, MaxScore: 69},
				{Grade: "F", MinScore: 0, MaxScore: 39},
			},
			PassMark: 40,
		},
		Promotion: promotion.Settings{Mode: promotion.ModeAutomatic},
	}
}

type testEnv struct {
	store   *memory.Store
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	start := time.Date(2026, time.July, 10, 9, 0, 0, 0, time.UTC)
	store := memory.NewStore(memory.WithClock(func() time.Time { return start }))
	settings := tenant.NewStoreProvider(store, logger.Nop())
	require.NoError(t, settings.Save(context.Background(), testSettings()))

	log := logger.Nop()
	classResults := query.NewGetClassResultsHandler(store, settings, nil, log)

	health := handlers.NewCompositeHealthChecker("test")
	health.AddCheck("store", func(context.Context) error { return nil })

	srv := NewServer(DefaultConfig(), Dependencies{
		RecordScore:        command.NewRecordScoreHandler(store, settings, nil, nil, log, command.DefaultRecordScoreHandlerConfig()),
		PublishScores:      command.NewPublishScoresHandler(store, nil, log),
		AnalyzeCampaign:    command.NewAnalyzeCampaignHandler(store, settings, nil, log),
		TransitionCampaign: command.NewTransitionCampaignHandler(store, nil, log),
		Settings:           settings,
		ExecutePromotion: command.NewExecutePromotionHandler(store, nil, nil, log,
			timeutil.NewCalendar(time.UTC, time.September), command.DefaultExecutePromotionConfig()),
		PreviewScore:  query.NewPreviewScoreHandler(settings),
		ClassResults:  classResults,
		StudentResult: query.NewGetStudentResultHandler(classResults),
		Executions:    query.NewGetExecutionHandler(store),
		Logger:        log,
		HealthChecker: health,
		Version:       "test",
	})
	return &testEnv{store: store, handler: srv.Handler()}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *ResponseMeta   `json:"meta"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handlers.HeaderTenantID, testTenant)
	req.Header.Set(handlers.HeaderActorID, "teacher-1")

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func scoreBody(studentID string, ca1, ca2, exam any) map[string]any {
	return map[string]any{
		"studentId":   studentID,
		"studentName": "Student " + studentID,
		"subjectId":   "math",
		"subjectName": "Mathematics",
		"classId":     "jss1",
		"term":        "2025-T1",
		"scores":      map[string]any{"ca1": ca1, "ca2": ca2, "exam": exam},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, body.Success)

	code, _ = env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestMissingTenant(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scores/validate", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_tenant")
}

func TestPreviewScore(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/api/v1/scores/validate", map[string]any{
		"scores": map[string]any{"ca1": 18, "ca2": "15", "exam": 50},
	})
	require.Equal(t, http.StatusOK, code)

	var res query.PreviewScoreResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.True(t, res.Valid)
	assert.Equal(t, "A", res.Grade)
	require.NotNil(t, res.Calculation)
	assert.Equal(t, 83.0, res.Calculation.Total)

	code, body = env.do(t, http.MethodPost, "/api/v1/scores/validate", map[string]any{
		"scores": map[string]any{"ca1": 25},
	})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Errors)
}

func TestRecordScore_CreateThenUpdate(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/api/v1/scores", scoreBody("stu-1", 10, 10, 30))
	require.Equal(t, http.StatusCreated, code)

	var first struct {
		ID    string  `json:"id"`
		Total float64 `json:"total"`
		Grade string  `json:"grade"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &first))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, 50.0, first.Total)
	assert.Equal(t, "C", first.Grade)

	code, body = env.do(t, http.MethodPost, "/api/v1/scores", scoreBody("stu-1", 20, 20, 40))
	require.Equal(t, http.StatusOK, code)

	var second struct {
		ID    string  `json:"id"`
		Total float64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &second))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 80.0, second.Total)
	assert.Equal(t, 1, env.store.Len(shared.CollectionSubjectScores))
}

func TestRecordScore_InvalidScores(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/api/v1/scores", scoreBody("stu-1", 25, -1, 30))
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "invalid_scores", body.Error.Code)
	assert.Len(t, body.Error.Errors, 2)
	assert.Equal(t, 0, env.store.Len(shared.CollectionSubjectScores))
}

func TestRecordScore_MissingFields(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/api/v1/scores", map[string]any{"studentId": "stu-1"})
	require.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "invalid_request", body.Error.Code)
}

func TestRecordScore_MalformedJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scores", bytes.NewBufferString(`{"studentId":`))
	req.Header.Set(handlers.HeaderTenantID, testTenant)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassResults(t *testing.T) {
	env := newTestEnv(t)

	for id, exam := range map[string]int{"stu-1": 30, "stu-2": 55, "stu-3": 10} {
		code, _ := env.do(t, http.MethodPost, "/api/v1/scores", scoreBody(id, 10, 10, exam))
		require.Equal(t, http.StatusCreated, code)
	}

	code, body := env.do(t, http.MethodGet, "/api/v1/terms/2025-T1/classes/jss1/results", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, body.Meta)
	assert.Equal(t, 3, body.Meta.TotalCount)
	assert.False(t, body.Meta.FromCache)

	var sheet query.ClassResults
	require.NoError(t, json.Unmarshal(body.Data, &sheet))
	require.Len(t, sheet.Results, 3)
	assert.Equal(t, "stu-2", sheet.Results[0].StudentID)
	assert.Equal(t, 1, sheet.Results[0].Position)
	assert.Equal(t, "stu-3", sheet.Results[2].StudentID)

	// Drafts are hidden from the published view until the class is published.
	code, body = env.do(t, http.MethodGet, "/api/v1/terms/2025-T1/classes/jss1/results?published=true", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body.Data, &sheet))
	assert.Empty(t, sheet.Results)

	code, body = env.do(t, http.MethodPost, "/api/v1/terms/2025-T1/classes/jss1/publish", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"published":3}`, string(body.Data))

	code, body = env.do(t, http.MethodGet, "/api/v1/terms/2025-T1/students/stu-1/result?class=jss1&published=true", nil)
	require.Equal(t, http.StatusOK, code)
	var view query.StudentResultView
	require.NoError(t, json.Unmarshal(body.Data, &view))
	assert.Equal(t, 2, view.Position)
	assert.Equal(t, 3, view.ClassSize)
}

func TestStudentResult_NotFound(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/api/v1/terms/2025-T1/students/nobody/result?class=jss1", nil)
	require.Equal(t, http.StatusNotFound, code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "not_found", body.Error.Code)
}

func TestGetExecution_NotFound(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodGet, "/api/v1/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestExecutePromotion(t *testing.T) {
	env := newTestEnv(t)

	fields, err := shared.ToFields(promotion.Campaign{
		TenantID:     testTenant,
		Name:         "End of year",
		AcademicYear: "2025/2026",
		Status:       promotion.CampaignApproved,
		Settings:     promotion.Settings{Mode: promotion.ModeAutomatic},
	})
	require.NoError(t, err)
	require.NoError(t, env.store.Put(shared.CollectionPromotionCampaigns, "camp-1", fields))
	require.NoError(t, env.store.Put(shared.CollectionStudents, "stu-1", map[string]any{
		"tenantId":       testTenant,
		"name":           "Ada",
		"currentClassId": "jss1",
		"status":         "active",
		"isActive":       true,
	}))
	rec, err := shared.ToFields(promotion.Record{
		TenantID: testTenant, CampaignID: "camp-1", StudentID: "stu-1", StudentName: "Ada",
		Decision: promotion.DecisionPromote, FromClassID: "jss1", ToClassID: "jss2", ToClassName: "JSS 2",
		Status: promotion.RecordApproved,
	})
	require.NoError(t, err)
	require.NoError(t, env.store.Put(shared.CollectionPromotionRecords, "rec-1", rec))

	code, body := env.do(t, http.MethodPost, "/api/v1/campaigns/camp-1/execute", nil)
	require.Equal(t, http.StatusOK, code)

	var res struct {
		ExecutionID string `json:"executionId"`
		Execution   struct {
			ID           string                     `json:"id"`
			Status       promotion.ExecutionStatus  `json:"status"`
			SuccessCount int                        `json:"successCount"`
			Results      promotion.ExecutionResults `json:"results"`
		} `json:"execution"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &res))
	require.NotEmpty(t, res.ExecutionID)
	assert.Equal(t, res.ExecutionID, res.Execution.ID)
	assert.Equal(t, promotion.ExecutionCompleted, res.Execution.Status)
	assert.Equal(t, 1, res.Execution.Results.Promoted)

	code, body = env.do(t, http.MethodGet, "/api/v1/executions/"+res.ExecutionID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"id":"`+res.ExecutionID+`"`)

	code, body = env.do(t, http.MethodGet, "/api/v1/campaigns/camp-1/executions", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, body.Meta.TotalCount)

	// A second run is refused once the campaign is executed.
	code, body = env.do(t, http.MethodPost, "/api/v1/campaigns/camp-1/execute", nil)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "conflict", body.Error.Code)
}

func TestTransitionCampaign_Invalid(t *testing.T) {
	env := newTestEnv(t)

	fields, err := shared.ToFields(promotion.Campaign{
		TenantID: testTenant, Name: "Mid year", Status: promotion.CampaignDraft,
	})
	require.NoError(t, err)
	require.NoError(t, env.store.Put(shared.CollectionPromotionCampaigns, "camp-2", fields))

	code, _ := env.do(t, http.MethodPost, "/api/v1/campaigns/camp-2/transition", map[string]any{"status": "approved"})
	assert.Equal(t, http.StatusConflict, code)
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/api/v1/settings", nil)
	require.Equal(t, http.StatusOK, code)
	var current tenant.Settings
	require.NoError(t, json.Unmarshal(body.Data, &current))
	assert.Equal(t, testTenant, current.TenantID)
	assert.Equal(t, 100.0, current.Assessment.TotalMaxScore)

	current.TenantID = "someone-else"
	current.Grading.PassMark = 50
	code, body = env.do(t, http.MethodPut, "/api/v1/settings", current)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body.Data, &current))
	assert.Equal(t, testTenant, current.TenantID)
	assert.Equal(t, 50.0, current.Grading.PassMark)

	broken := testSettings()
	broken.Assessment.TotalMaxScore = 90
	broken.Grading.Boundaries = broken.Grading.Boundaries[:1]
	code, body = env.do(t, http.MethodPut, "/api/v1/settings", broken)
	require.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "invalid_configuration", body.Error.Code)
	assert.GreaterOrEqual(t, len(body.Error.Errors), 2)
}
