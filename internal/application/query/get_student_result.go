package query

import (
	"context"
	"errors"

	"github.com/school-portal/assessment-engine/internal/domain/grading"
	"github.com/school-portal/assessment-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STUDENT RESULT QUERY
// Returns one student's term result with their position in the class.
// ══════════════════════════════════════════════════════════════════════════════

// GetStudentResultQuery identifies a student within a class and term.
type GetStudentResultQuery struct {
	TenantID      string
	ClassID       string
	Term          string
	StudentID     string
	PublishedOnly bool
}

// Validate checks the query parameters.
func (q GetStudentResultQuery) Validate() error {
	if q.StudentID == "" {
		return errors.New("student id is required")
	}
	return q.classQuery().Validate()
}

func (q GetStudentResultQuery) classQuery() GetClassResultsQuery {
	return GetClassResultsQuery{
		TenantID:      q.TenantID,
		ClassID:       q.ClassID,
		Term:          q.Term,
		PublishedOnly: q.PublishedOnly,
	}
}

// StudentResultView is a student's result and the size of the class it was
// ranked in.
type StudentResultView struct {
	grading.StudentResult
	ClassID      string  `json:"classId"`
	Term         string  `json:"term"`
	ClassSize    int     `json:"classSize"`
	ClassAverage float64 `json:"classAverage"`
}

// GetStudentResultHandler handles GetStudentResultQuery on top of the class sheet.
type GetStudentResultHandler struct {
	classResults *GetClassResultsHandler
}

// NewGetStudentResultHandler creates a new handler.
func NewGetStudentResultHandler(classResults *GetClassResultsHandler) *GetStudentResultHandler {
	return &GetStudentResultHandler{classResults: classResults}
}

// Handle executes the query.
func (h *GetStudentResultHandler) Handle(ctx context.Context, q GetStudentResultQuery) (*StudentResultView, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetStudentResult", shared.ErrValidation, err.Error(), err)
	}

	sheet, err := h.classResults.Handle(ctx, q.classQuery())
	if err != nil {
		return nil, err
	}

	ranking := sheet.Ranking()
	r, ok := ranking.GetByID(q.StudentID)
	if !ok {
		return nil, shared.NewDomainError("query", "GetStudentResult", shared.ErrNotFound,
			"no result for student "+q.StudentID)
	}
	return &StudentResultView{
		StudentResult: r,
		ClassID:       sheet.ClassID,
		Term:          sheet.Term,
		ClassSize:     ranking.Len(),
		ClassAverage:  sheet.ClassAverage,
	}, nil
}
