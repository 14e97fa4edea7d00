// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/school-portal/assessment-engine/internal/application/tenant"
	"github.com/school-portal/assessment-engine/internal/domain/grading"
	"github.com/school-portal/assessment-engine/internal/domain/shared"
	"github.com/school-portal/assessment-engine/pkg/circuitbreaker"
	"github.com/school-portal/assessment-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CLASS RESULTS QUERY
// Aggregates every student's subject scores for one class and term and ranks
// the class. Ranked results are cached until a score in the class changes.
// ══════════════════════════════════════════════════════════════════════════════

// GetClassResultsQuery identifies a class and term.
type GetClassResultsQuery struct {
	TenantID string
	ClassID  string
	Term     string

	// PublishedOnly skips draft scores, for views shown to students and parents.
	PublishedOnly bool
}

// Validate checks the query parameters.
func (q GetClassResultsQuery) Validate() error {
	switch {
	case q.TenantID == "":
		return errors.New("tenant id is required")
	case q.ClassID == "":
		return errors.New("class id is required")
	case q.Term == "":
		return errors.New("term is required")
	}
	return nil
}

// ClassResults is the ranked result sheet of a class.
type ClassResults struct {
	TenantID     string                  `json:"tenantId"`
	ClassID      string                  `json:"classId"`
	Term         string                  `json:"term"`
	Results      []grading.StudentResult `json:"results"`
	ClassAverage float64                 `json:"classAverage"`
	GeneratedAt  time.Time               `json:"generatedAt"`
	FromCache    bool                    `json:"-"`

	ranking *grading.ClassRanking
}

// Ranking returns the sheet's ranking. Sheets loaded from the cache are
// re-indexed on first use; their positions are unchanged.
func (c *ClassResults) Ranking() *grading.ClassRanking {
	if c.ranking == nil {
		c.ranking = grading.RankClass(c.Results)
	}
	return c.ranking
}

// ResultsCache stores ranked class results between score changes.
type ResultsCache interface {
	// LoadClassResults decodes a cached sheet into dst and reports a hit.
	LoadClassResults(ctx context.Context, tenantID, classID, term string, dst any) (bool, error)
	StoreClassResults(ctx context.Context, tenantID, classID, term string, v any) error
}

// GetClassResultsHandler handles GetClassResultsQuery.
type GetClassResultsHandler struct {
	store    shared.RecordStore
	settings tenant.Provider
	cache    ResultsCache
	log      *logger.Logger
}

// NewGetClassResultsHandler creates a new handler. cache may be nil.
func NewGetClassResultsHandler(store shared.RecordStore, settings tenant.Provider, cache ResultsCache, log *logger.Logger) *GetClassResultsHandler {
	if log == nil {
		log = logger.Default()
	}
	return &GetClassResultsHandler{
		store:    store,
		settings: settings,
		cache:    cache,
		log:      log.With(logger.Component("get_class_results")),
	}
}

// Handle executes the query.
func (h *GetClassResultsHandler) Handle(ctx context.Context, q GetClassResultsQuery) (*ClassResults, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetClassResults", shared.ErrValidation, err.Error(), err)
	}

	// Only the full sheet is cached.
	useCache := h.cache != nil && !q.PublishedOnly
	if useCache {
		var cached ClassResults
		hit, err := h.cache.LoadClassResults(ctx, q.TenantID, q.ClassID, q.Term, &cached)
		switch {
		case circuitbreaker.IsRejected(err):
		case err != nil:
			h.log.Warn("class results cache read failed", logger.ClassID(q.ClassID), logger.Err(err))
		case hit:
			cached.FromCache = true
			return &cached, nil
		}
	}

	settings, err := h.settings.Settings(ctx, q.TenantID)
	if err != nil {
		return nil, fmt.Errorf("get_class_results: load settings: %w", err)
	}

	filters := []shared.Filter{
		shared.Eq("tenantId", q.TenantID),
		shared.Eq("classId", q.ClassID),
		shared.Eq("term", q.Term),
	}
	if q.PublishedOnly {
		filters = append(filters, shared.Eq("status", grading.ScorePublished))
	}
	recs, err := h.store.Query(ctx, shared.CollectionSubjectScores, filters...)
	if err != nil {
		return nil, fmt.Errorf("get_class_results: load scores: %w", err)
	}

	results, err := buildResults(recs, settings.Grading)
	if err != nil {
		return nil, fmt.Errorf("get_class_results: %w", err)
	}
	ranking := grading.RankClass(results)

	sheet := &ClassResults{
		TenantID:     q.TenantID,
		ClassID:      q.ClassID,
		Term:         q.Term,
		Results:      ranking.Results(),
		ClassAverage: classAverage(results),
		GeneratedAt:  h.store.Now(ctx),
		ranking:      ranking,
	}

	if useCache {
		if err := h.cache.StoreClassResults(ctx, q.TenantID, q.ClassID, q.Term, sheet); err != nil && !circuitbreaker.IsRejected(err) {
			h.log.Warn("class results cache write failed", logger.ClassID(q.ClassID), logger.Err(err))
		}
	}

	return sheet, nil
}

// buildResults groups scores by student, keeping first-seen order.
func buildResults(recs []shared.Record, cfg grading.Config) ([]grading.StudentResult, error) {
	order := make([]string, 0)
	names := make(map[string]string)
	byStudent := make(map[string][]grading.SubjectScore)

	for _, r := range recs {
		var s grading.SubjectScore
		if err := r.Decode(&s); err != nil {
			return nil, fmt.Errorf("decode score %s: %w", r.ID, err)
		}
		if _, seen := byStudent[s.StudentID]; !seen {
			order = append(order, s.StudentID)
		}
		if s.StudentName != "" {
			names[s.StudentID] = s.StudentName
		}
		byStudent[s.StudentID] = append(byStudent[s.StudentID], s)
	}

	results := make([]grading.StudentResult, 0, len(order))
	for _, id := range order {
		results = append(results, grading.NewStudentResult(id, names[id], byStudent[id], cfg))
	}
	return results, nil
}

// classAverage is the mean of the students' averages, skipping students
// with no counted subjects.
func classAverage(results []grading.StudentResult) float64 {
	var sum float64
	n := 0
	for _, r := range results {
		if r.NumberOfSubjects == 0 {
			continue
		}
		sum += r.AverageScore
		n++
	}
	if n == 0 {
		return 0
	}
	return shared.Round2(sum / float64(n))
}
