package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/school-portal/assessment-engine/internal/application/tenant"
	"github.com/school-portal/assessment-engine/internal/domain/assessment"
	"github.com/school-portal/assessment-engine/internal/domain/shared"
)

// PreviewScoreQuery asks what a set of raw scores would come to, without
// storing anything. The score entry form calls it on every change.
type PreviewScoreQuery struct {
	TenantID string
	Scores   assessment.RawScores
}

// PreviewScoreResult holds either the validation errors or the computed score.
type PreviewScoreResult struct {
	Valid       bool               `json:"valid"`
	Errors      []string           `json:"errors"`
	Calculation *assessment.Result `json:"calculation,omitempty"`
	Grade       string             `json:"grade,omitempty"`
	Passed      bool               `json:"passed"`
}

// PreviewScoreHandler handles PreviewScoreQuery.
type PreviewScoreHandler struct {
	settings tenant.Provider
}

// NewPreviewScoreHandler creates a new handler.
func NewPreviewScoreHandler(settings tenant.Provider) *PreviewScoreHandler {
	return &PreviewScoreHandler{settings: settings}
}

// Handle executes the query.
func (h *PreviewScoreHandler) Handle(ctx context.Context, q PreviewScoreQuery) (*PreviewScoreResult, error) {
	if q.TenantID == "" {
		err := errors.New("tenant id is required")
		return nil, shared.WrapError("query", "PreviewScore", shared.ErrValidation, err.Error(), err)
	}

	settings, err := h.settings.Settings(ctx, q.TenantID)
	if err != nil {
		return nil, fmt.Errorf("preview_score: load settings: %w", err)
	}

	v := assessment.Validate(q.Scores, settings.Assessment)
	if !v.Valid {
		return &PreviewScoreResult{Valid: false, Errors: v.Errors}, nil
	}

	calc := assessment.Calculate(q.Scores, settings.Assessment)
	return &PreviewScoreResult{
		Valid:       true,
		Errors:      []string{},
		Calculation: &calc,
		Grade:       settings.Grading.LookupGrade(calc.Percentage),
		Passed:      settings.Grading.Passed(calc.Percentage),
	}, nil
}
