package command

import (
	"context"
	"fmt"

	"github.com/school-portal/assessment-engine/internal/domain/grading"
	"github.com/school-portal/assessment-engine/internal/domain/shared"
	"github.com/school-portal/assessment-engine/pkg/logger"
)

// PublishScoresCommand publishes every draft score of one class and term.
// Published scores can no longer be changed through RecordScore.
type PublishScoresCommand struct {
	TenantID string `validate:"required"`
	ActorID  string `validate:"required"`
	ClassID  string `validate:"required"`
	Term     string `validate:"required"`
}

// Validate validates the command.
func (c PublishScoresCommand) Validate() error {
	return validateCommand("PublishScores", c)
}

// PublishScoresResult reports how many drafts were published.
type PublishScoresResult struct {
	Published int
}

// PublishScoresHandler handles the PublishScoresCommand.
type PublishScoresHandler struct {
	store shared.RecordStore
	cache ResultsInvalidator
	log   *logger.Logger
}

// NewPublishScoresHandler creates a new PublishScoresHandler. cache may be nil.
func NewPublishScoresHandler(store shared.RecordStore, cache ResultsInvalidator, log *logger.Logger) *PublishScoresHandler {
	if cache == nil {
		cache = nopInvalidator{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &PublishScoresHandler{
		store: store,
		cache: cache,
		log:   log.With(logger.Component("publish_scores")),
	}
}

// Handle executes the publish command. Running it twice publishes nothing
// the second time.
func (h *PublishScoresHandler) Handle(ctx context.Context, cmd PublishScoresCommand) (*PublishScoresResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("publish_scores: validation failed: %w", err)
	}

	drafts, err := h.store.Query(ctx, shared.CollectionSubjectScores,
		shared.Eq("tenantId", cmd.TenantID),
		shared.Eq("classId", cmd.ClassID),
		shared.Eq("term", cmd.Term),
		shared.Eq("status", grading.ScoreDraft),
	)
	if err != nil {
		return nil, fmt.Errorf("publish_scores: load drafts: %w", err)
	}

	now := h.store.Now(ctx)
	for _, d := range drafts {
		err := h.store.Update(ctx, shared.CollectionSubjectScores, d.ID, map[string]any{
			"status":      grading.ScorePublished,
			"publishedBy": cmd.ActorID,
			"publishedAt": now,
		})
		if err != nil {
			return nil, fmt.Errorf("publish_scores: publish %s: %w", d.ID, err)
		}
	}

	if err := h.cache.InvalidateClassResults(ctx, cmd.TenantID, cmd.ClassID, cmd.Term); err != nil {
		h.log.Warn("failed to invalidate class results", logger.ClassID(cmd.ClassID), logger.Err(err))
	}

	h.log.Info("scores published",
		logger.TenantID(cmd.TenantID),
		logger.ClassID(cmd.ClassID),
		logger.Term(cmd.Term),
		logger.Int("count", len(drafts)),
	)
	return &PublishScoresResult{Published: len(drafts)}, nil
}
