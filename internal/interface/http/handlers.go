package http

import (
	"net/http"

	"github.com/school-portal/assessment-engine/internal/application/command"
	"github.com/school-portal/assessment-engine/internal/application/query"
	"github.com/school-portal/assessment-engine/internal/application/tenant"
	"github.com/school-portal/assessment-engine/internal/domain/assessment"
	"github.com/school-portal/assessment-engine/internal/domain/grading"
	"github.com/school-portal/assessment-engine/internal/domain/promotion"
	"github.com/school-portal/assessment-engine/internal/interface/http/handlers"
	"github.com/school-portal/assessment-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"status":  "healthy",
			"uptime":  s.Uptime().String(),
			"version": s.deps.Version,
		}, nil)
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status, nil)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		if status := s.deps.HealthChecker.Check(r.Context()); !status.Ready {
			writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message, nil)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"}, nil)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetSettings handles GET /api/v1/settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	id := handlers.IdentityFrom(r.Context())
	settings, err := s.deps.Settings.Settings(r.Context(), id.TenantID)
	if err != nil {
		s.writeError(w, r, "GetSettings", err)
		return
	}
	writeJSON(w, r, http.StatusOK, settings, nil)
}

// handlePutSettings handles PUT /api/v1/settings. The whole scheme is
// replaced; the tenant comes from the request identity, not the body.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings tenant.Settings
	if err := decodeBody(r, &settings); err != nil {
		s.writeError(w, r, "PutSettings", err)
		return
	}

	id := handlers.IdentityFrom(r.Context())
	settings.TenantID = id.TenantID
	if err := s.deps.Settings.Save(r.Context(), settings); err != nil {
		s.writeError(w, r, "PutSettings", err)
		return
	}

	warnings := settings.Warnings()
	s.logger.Info("tenant settings replaced",
		logger.TenantID(id.TenantID),
		logger.ActorID(id.ActorID),
		logger.Int("warnings", len(warnings)),
	)
	writeJSON(w, r, http.StatusOK, settings, &ResponseMeta{Warnings: warnings})
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// scoreRequest is the body of POST /api/v1/scores. Scores are keyed by
// component id; values may be numbers, numeric strings or null.
type scoreRequest struct {
	StudentID   string         `json:"studentId"`
	StudentName string         `json:"studentName"`
	SubjectID   string         `json:"subjectId"`
	SubjectName string         `json:"subjectName"`
	ClassID     string         `json:"classId"`
	Term        string         `json:"term"`
	Scores      map[string]any `json:"scores"`
	IsAbsent    bool           `json:"isAbsent"`
	IsExempted  bool           `json:"isExempted"`
}

// handlePreviewScore handles POST /api/v1/scores/validate
func (s *Server) handlePreviewScore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scores map[string]any `json:"scores"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, "PreviewScore", err)
		return
	}

	id := handlers.IdentityFrom(r.Context())
	result, err := s.deps.PreviewScore.Handle(r.Context(), query.PreviewScoreQuery{
		TenantID: id.TenantID,
		Scores:   assessment.ParseRawScores(req.Scores),
	})
	if err != nil {
		s.writeError(w, r, "PreviewScore", err)
		return
	}
	writeJSON(w, r, http.StatusOK, result, nil)
}

// handleRecordScore handles POST /api/v1/scores
func (s *Server) handleRecordScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, "RecordScore", err)
		return
	}

	id := handlers.IdentityFrom(r.Context())
	result, err := s.deps.RecordScore.Handle(r.Context(), command.RecordScoreCommand{
		TenantID:    id.TenantID,
		ActorID:     id.ActorID,
		StudentID:   req.StudentID,
		StudentName: req.StudentName,
		SubjectID:   req.SubjectID,
		SubjectName: req.SubjectName,
		ClassID:     req.ClassID,
		Term:        req.Term,
		Scores:      assessment.ParseRawScores(req.Scores),
		IsAbsent:    req.IsAbsent,
		IsExempted:  req.IsExempted,
	})
	if err != nil {
		s.writeError(w, r, "RecordScore", err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, struct {
		ID string `json:"id"`
		grading.SubjectScore
	}{ID: result.ScoreID, SubjectScore: result.Score}, nil)
}

// handlePublishScores handles POST /api/v1/terms/{term}/classes/{class}/publish
func (s *Server) handlePublishScores(w http.ResponseWriter, r *http.Request) {
	id := handlers.IdentityFrom(r.Context())
	result, err := s.deps.PublishScores.Handle(r.Context(), command.PublishScoresCommand{
		TenantID: id.TenantID,
		ActorID:  id.ActorID,
		ClassID:  r.PathValue("class"),
		Term:     r.PathValue("term"),
	})
	if err != nil {
		s.writeError(w, r, "PublishScores", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{"published": result.Published}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleClassResults handles GET /api/v1/terms/{term}/classes/{class}/results
func (s *Server) handleClassResults(w http.ResponseWriter, r *http.Request) {
	id := handlers.IdentityFrom(r.Context())
	sheet, err := s.deps.ClassResults.Handle(r.Context(), query.GetClassResultsQuery{
		TenantID:      id.TenantID,
		ClassID:       r.PathValue("class"),
		Term:          r.PathValue("term"),
		PublishedOnly: getQueryParamBool(r, "published"),
	})
	if err != nil {
		s.writeError(w, r, "GetClassResults", err)
		return
	}
	writeJSON(w, r, http.StatusOK, sheet, &ResponseMeta{
		TotalCount: len(sheet.Results),
		FromCache:  sheet.FromCache,
	})
}

// handleStudentResult handles GET /api/v1/terms/{term}/students/{student}/result?class=
func (s *Server) handleStudentResult(w http.ResponseWriter, r *http.Request) {
	id := handlers.IdentityFrom(r.Context())
	view, err := s.deps.StudentResult.Handle(r.Context(), query.GetStudentResultQuery{
		TenantID:      id.TenantID,
		ClassID:       r.URL.Query().Get("class"),
		Term:          r.PathValue("term"),
		StudentID:     r.PathValue("student"),
		PublishedOnly: getQueryParamBool(r, "published"),
	})
	if err != nil {
		s.writeError(w, r, "GetStudentResult", err)
		return
	}
	writeJSON(w, r, http.StatusOK, view, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROMOTION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleAnalyzeCampaign handles POST /api/v1/campaigns/{id}/analyze
func (s *Server) handleAnalyzeCampaign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Term     string   `json:"term"`
		ClassIDs []string `json:"classIds"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, "AnalyzeCampaign", err)
		return
	}

	id := handlers.IdentityFrom(r.Context())
	result, err := s.deps.AnalyzeCampaign.Handle(r.Context(), command.AnalyzeCampaignCommand{
		TenantID:   id.TenantID,
		CampaignID: r.PathValue("id"),
		ActorID:    id.ActorID,
		Term:       req.Term,
		ClassIDs:   req.ClassIDs,
	})
	if err != nil {
		s.writeError(w, r, "AnalyzeCampaign", err)
		return
	}
	writeJSON(w, r, http.StatusOK, result, &ResponseMeta{TotalCount: result.Total})
}

// handleTransitionCampaign handles POST /api/v1/campaigns/{id}/transition
func (s *Server) handleTransitionCampaign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status promotion.CampaignStatus `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, "TransitionCampaign", err)
		return
	}

	id := handlers.IdentityFrom(r.Context())
	result, err := s.deps.TransitionCampaign.Handle(r.Context(), command.TransitionCampaignCommand{
		TenantID:   id.TenantID,
		CampaignID: r.PathValue("id"),
		ActorID:    id.ActorID,
		Status:     req.Status,
	})
	if err != nil {
		s.writeError(w, r, "TransitionCampaign", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"from":     result.From,
		"to":       result.To,
		"campaign": struct {
			ID string `json:"id"`
			promotion.Campaign
		}{ID: result.Campaign.ID, Campaign: result.Campaign},
	}, nil)
}

// handleExecutePromotion handles POST /api/v1/campaigns/{id}/execute.
// The run completes before the response; per-record failures are in the
// report, not in the status code.
func (s *Server) handleExecutePromotion(w http.ResponseWriter, r *http.Request) {
	id := handlers.IdentityFrom(r.Context())
	result, err := s.deps.ExecutePromotion.Handle(r.Context(), command.ExecutePromotionCommand{
		TenantID:   id.TenantID,
		CampaignID: r.PathValue("id"),
		ActorID:    id.ActorID,
	})
	if err != nil {
		s.writeError(w, r, "ExecutePromotion", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"executionId": result.ExecutionID,
		"execution":   newExecutionView(result.Execution),
		"durationMs":  result.Duration.Milliseconds(),
	}, nil)
}

// handleListExecutions handles GET /api/v1/campaigns/{id}/executions
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id := handlers.IdentityFrom(r.Context())
	list, err := s.deps.Executions.ListExecutions(r.Context(), query.ListExecutionsQuery{
		TenantID:   id.TenantID,
		CampaignID: r.PathValue("id"),
	})
	if err != nil {
		s.writeError(w, r, "ListExecutions", err)
		return
	}
	views := make([]executionView, 0, len(list))
	for _, e := range list {
		views = append(views, newExecutionView(e))
	}
	writeJSON(w, r, http.StatusOK, views, &ResponseMeta{TotalCount: len(views)})
}

// handleGetExecution handles GET /api/v1/executions/{id}
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := handlers.IdentityFrom(r.Context())
	exec, err := s.deps.Executions.Handle(r.Context(), query.GetExecutionQuery{
		TenantID:    id.TenantID,
		ExecutionID: r.PathValue("id"),
	})
	if err != nil {
		s.writeError(w, r, "GetExecution", err)
		return
	}
	writeJSON(w, r, http.StatusOK, newExecutionView(*exec), nil)
}

// executionView exposes the id the stored document omits.
type executionView struct {
	ID string `json:"id"`
	promotion.Execution
}

func newExecutionView(e promotion.Execution) executionView {
	return executionView{ID: e.ID, Execution: e}
}
