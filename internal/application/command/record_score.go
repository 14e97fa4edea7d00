package command

import (
	"context"
	"fmt"
	"time"

	"github.com/school-portal/assessment-engine/internal/application/tenant"
	"github.com/school-portal/assessment-engine/internal/domain/assessment"
	"github.com/school-portal/assessment-engine/internal/domain/grading"
	"github.com/school-portal/assessment-engine/internal/domain/shared"
	"github.com/school-portal/assessment-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD SCORE COMMAND
// Validates raw component scores, computes the subject result and stores it
// as a draft. Published scores are never rewritten.
// ══════════════════════════════════════════════════════════════════════════════

// RecordScoreCommand contains one student's raw scores for one subject.
type RecordScoreCommand struct {
	TenantID    string `validate:"required"`
	ActorID     string `validate:"required"`
	StudentID   string `validate:"required"`
	StudentName string
	SubjectID   string `validate:"required"`
	SubjectName string
	ClassID     string `validate:"required"`
	Term        string `validate:"required"`

	Scores assessment.RawScores

	// IsAbsent and IsExempted store a placeholder that aggregation skips.
	IsAbsent   bool
	IsExempted bool
}

// Validate validates the command.
func (c RecordScoreCommand) Validate() error {
	return validateCommand("RecordScore", c)
}

// RecordScoreResult contains the stored subject score.
type RecordScoreResult struct {
	ScoreID string
	Created bool
	Score   grading.SubjectScore
}

// scoreDocument is the subject_scores layout.
type scoreDocument struct {
	grading.SubjectScore
	TenantID   string    `json:"tenantId"`
	RecordedBy string    `json:"recordedBy"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordScoreHandler handles the RecordScoreCommand.
type RecordScoreHandler struct {
	store          shared.RecordStore
	settings       tenant.Provider
	cache          ResultsInvalidator
	eventPublisher shared.EventPublisher
	log            *logger.Logger

	enforceLock bool
}

// RecordScoreHandlerConfig contains configuration for the handler.
type RecordScoreHandlerConfig struct {
	// EnforceAssessmentLock rejects scores when the tenant's assessment
	// config differs from the one the term was first scored under.
	EnforceAssessmentLock bool
}

// DefaultRecordScoreHandlerConfig returns default configuration.
func DefaultRecordScoreHandlerConfig() RecordScoreHandlerConfig {
	return RecordScoreHandlerConfig{EnforceAssessmentLock: true}
}

// NewRecordScoreHandler creates a new RecordScoreHandler. cache and
// eventPublisher may be nil.
func NewRecordScoreHandler(
	store shared.RecordStore,
	settings tenant.Provider,
	cache ResultsInvalidator,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	config RecordScoreHandlerConfig,
) *RecordScoreHandler {
	if cache == nil {
		cache = nopInvalidator{}
	}
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &RecordScoreHandler{
		store:          store,
		settings:       settings,
		cache:          cache,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("record_score")),
		enforceLock:    config.EnforceAssessmentLock,
	}
}

// Handle executes the record score command.
func (h *RecordScoreHandler) Handle(ctx context.Context, cmd RecordScoreCommand) (*RecordScoreResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_score: validation failed: %w", err)
	}

	settings, err := h.settings.Settings(ctx, cmd.TenantID)
	if err != nil {
		return nil, fmt.Errorf("record_score: load settings: %w", err)
	}
	cfg := settings.Assessment

	hash, err := cfg.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("record_score: %w", err)
	}

	score := grading.SubjectScore{
		SubjectID:   cmd.SubjectID,
		SubjectName: cmd.SubjectName,
		StudentID:   cmd.StudentID,
		StudentName: cmd.StudentName,
		ClassID:     cmd.ClassID,
		Term:        cmd.Term,
		MaxScore:    cfg.TotalMaxScore,
		Breakdown:   map[string]float64{},
		IsAbsent:    cmd.IsAbsent,
		IsExempted:  cmd.IsExempted,
		Status:      grading.ScoreDraft,
		ConfigHash:  hash,
	}

	if !cmd.IsAbsent && !cmd.IsExempted {
		if res := assessment.Validate(cmd.Scores, cfg); !res.Valid {
			return nil, &ScoreValidationError{Errors: res.Errors}
		}
		calc := assessment.Calculate(cmd.Scores, cfg)
		score.TotalCA = calc.TotalCA
		score.Total = calc.Total
		score.Percentage = calc.Percentage
		score.Breakdown = calc.Breakdown
		score.Grade = settings.Grading.LookupGrade(calc.Percentage)
	}

	if h.enforceLock {
		if err := h.checkAssessmentLock(ctx, cmd, hash); err != nil {
			return nil, err
		}
	}

	scoreID, created, err := h.upsertDraft(ctx, cmd, score)
	if err != nil {
		return nil, err
	}

	if err := h.cache.InvalidateClassResults(ctx, cmd.TenantID, cmd.ClassID, cmd.Term); err != nil {
		h.log.Warn("failed to invalidate class results",
			logger.TenantID(cmd.TenantID), logger.ClassID(cmd.ClassID), logger.Err(err))
	}

	event := shared.NewScoreRecordedEvent(cmd.TenantID, scoreID, cmd.StudentID, cmd.SubjectID,
		cmd.ClassID, cmd.Term, score.Total, score.Percentage, score.Grade)
	if err := h.eventPublisher.Publish(event); err != nil {
		h.log.Warn("failed to publish score event", logger.Err(err))
	}

	h.log.Debug("score recorded",
		logger.TenantID(cmd.TenantID),
		logger.StudentID(cmd.StudentID),
		logger.SubjectID(cmd.SubjectID),
		logger.Term(cmd.Term),
		logger.Bool("created", created),
	)

	return &RecordScoreResult{ScoreID: scoreID, Created: created, Score: score}, nil
}

// checkAssessmentLock pins the tenant's assessment config to a subject's term
// on its first score and refuses scores for that subject computed under any
// other config afterwards.
func (h *RecordScoreHandler) checkAssessmentLock(ctx context.Context, cmd RecordScoreCommand, hash string) error {
	locks, err := h.store.Query(ctx, shared.CollectionAssessmentLocks,
		shared.Eq("tenantId", cmd.TenantID),
		shared.Eq("term", cmd.Term),
		shared.Eq("subjectId", cmd.SubjectID),
	)
	if err != nil {
		return fmt.Errorf("record_score: load assessment lock: %w", err)
	}

	if len(locks) == 0 {
		_, err := h.store.Add(ctx, shared.CollectionAssessmentLocks, map[string]any{
			"tenantId":   cmd.TenantID,
			"term":       cmd.Term,
			"subjectId":  cmd.SubjectID,
			"configHash": hash,
			"lockedBy":   cmd.ActorID,
			"lockedAt":   h.store.Now(ctx),
		})
		if err != nil {
			return fmt.Errorf("record_score: create assessment lock: %w", err)
		}
		return nil
	}

	if locks[0].String("configHash") != hash {
		return fmt.Errorf("record_score: %s term %s: %w", cmd.SubjectID, cmd.Term, shared.ErrAssessmentConfigChanged)
	}
	return nil
}

func (h *RecordScoreHandler) upsertDraft(ctx context.Context, cmd RecordScoreCommand, score grading.SubjectScore) (string, bool, error) {
	existing, err := h.store.Query(ctx, shared.CollectionSubjectScores,
		shared.Eq("tenantId", cmd.TenantID),
		shared.Eq("studentId", cmd.StudentID),
		shared.Eq("subjectId", cmd.SubjectID),
		shared.Eq("term", cmd.Term),
	)
	if err != nil {
		return "", false, fmt.Errorf("record_score: load existing score: %w", err)
	}

	fields, err := shared.ToFields(scoreDocument{
		SubjectScore: score,
		TenantID:     cmd.TenantID,
		RecordedBy:   cmd.ActorID,
		UpdatedAt:    h.store.Now(ctx),
	})
	if err != nil {
		return "", false, fmt.Errorf("record_score: encode score: %w", err)
	}

	if len(existing) == 0 {
		id, err := h.store.Add(ctx, shared.CollectionSubjectScores, fields)
		if err != nil {
			return "", false, fmt.Errorf("record_score: add score: %w", err)
		}
		return id, true, nil
	}

	current := existing[0]
	if grading.ScoreStatus(current.String("status")) == grading.ScorePublished {
		return "", false, fmt.Errorf("record_score: %w", shared.ErrScorePublished)
	}
	if err := h.store.Update(ctx, shared.CollectionSubjectScores, current.ID, fields); err != nil {
		return "", false, fmt.Errorf("record_score: update score: %w", err)
	}
	return current.ID, false, nil
}
