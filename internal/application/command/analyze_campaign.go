package command

import (
	"context"
	"fmt"

	"github.com/school-portal/assessment-engine/internal/application/tenant"
	"github.com/school-portal/assessment-engine/internal/domain/grading"
	"github.com/school-portal/assessment-engine/internal/domain/promotion"
	"github.com/school-portal/assessment-engine/internal/domain/shared"
	"github.com/school-portal/assessment-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ANALYZE CAMPAIGN COMMAND
// Classifies every student of a campaign against its promotion settings.
// When a term is given the performance snapshots are rebuilt from that
// term's subject scores first; otherwise the stored snapshots are used.
// ══════════════════════════════════════════════════════════════════════════════

// AnalyzeCampaignCommand requests an eligibility pass over a campaign.
type AnalyzeCampaignCommand struct {
	TenantID   string `validate:"required"`
	CampaignID string `validate:"required"`
	ActorID    string `validate:"required"`

	// Term, when set, rebuilds snapshots from subject scores of that term.
	Term string

	// ClassIDs limits the rebuild to these classes.
	ClassIDs []string
}

// Validate validates the command.
func (c AnalyzeCampaignCommand) Validate() error {
	return validateCommand("AnalyzeCampaign", c)
}

// StudentAnalysis is the eligibility outcome of one student.
type StudentAnalysis struct {
	Performance       promotion.StudentPerformance `json:"performance"`
	Eligibility       promotion.EligibilityResult  `json:"eligibility"`
	SuggestedDecision promotion.Decision           `json:"suggestedDecision,omitempty"`
}

// AnalyzeCampaignResult contains the per-student analysis and counts per category.
type AnalyzeCampaignResult struct {
	CampaignID     string            `json:"campaignId"`
	Students       []StudentAnalysis `json:"students"`
	Total          int               `json:"total"`
	AutoEligible   int               `json:"autoEligible"`
	AutoIneligible int               `json:"autoIneligible"`
	ReviewRequired int               `json:"reviewRequired"`
}

// studentAttendance is the part of a students document the analysis reads.
type studentAttendance struct {
	TenantID             string   `json:"tenantId"`
	Name                 string   `json:"name"`
	AttendancePercentage *float64 `json:"attendancePercentage"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AnalyzeCampaignHandler handles the AnalyzeCampaignCommand.
type AnalyzeCampaignHandler struct {
	store          shared.RecordStore
	settings       tenant.Provider
	eventPublisher shared.EventPublisher
	log            *logger.Logger
}

// NewAnalyzeCampaignHandler creates a new AnalyzeCampaignHandler.
func NewAnalyzeCampaignHandler(
	store shared.RecordStore,
	settings tenant.Provider,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
) *AnalyzeCampaignHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &AnalyzeCampaignHandler{
		store:          store,
		settings:       settings,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("analyze_campaign")),
	}
}

// Handle executes the analyze campaign command.
func (h *AnalyzeCampaignHandler) Handle(ctx context.Context, cmd AnalyzeCampaignCommand) (*AnalyzeCampaignResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("analyze_campaign: validation failed: %w", err)
	}

	campaign, err := loadCampaign(ctx, h.store, cmd.TenantID, cmd.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("analyze_campaign: %w", err)
	}
	if err := campaign.Settings.Check(); err != nil {
		return nil, fmt.Errorf("analyze_campaign: %w", err)
	}

	var snapshots []promotion.StudentPerformance
	if cmd.Term != "" {
		snapshots, err = h.rebuildSnapshots(ctx, cmd, campaign)
	} else {
		snapshots, err = h.storedSnapshots(ctx, cmd)
	}
	if err != nil {
		return nil, err
	}

	result := &AnalyzeCampaignResult{
		CampaignID: campaign.ID,
		Students:   make([]StudentAnalysis, 0, len(snapshots)),
	}
	for _, perf := range snapshots {
		res := promotion.Analyze(perf, campaign.Settings, campaign.CoreSubjectIDs)
		result.Students = append(result.Students, StudentAnalysis{
			Performance:       perf,
			Eligibility:       res,
			SuggestedDecision: promotion.SuggestedDecision(res, campaign.IsFinalClass(perf.ClassID)),
		})
		switch res.Category {
		case promotion.CategoryAutoEligible:
			result.AutoEligible++
		case promotion.CategoryAutoIneligible:
			result.AutoIneligible++
		default:
			result.ReviewRequired++
		}
	}
	result.Total = len(result.Students)

	event := shared.NewCampaignAnalyzedEvent(cmd.TenantID, campaign.ID,
		result.Total, result.AutoEligible, result.AutoIneligible, result.ReviewRequired)
	if err := h.eventPublisher.Publish(event); err != nil {
		h.log.Warn("failed to publish analysis event", logger.Err(err))
	}

	h.log.Info("campaign analyzed",
		logger.TenantID(cmd.TenantID),
		logger.CampaignID(campaign.ID),
		logger.Int("students", result.Total),
		logger.Int("eligible", result.AutoEligible),
		logger.Int("ineligible", result.AutoIneligible),
		logger.Int("review", result.ReviewRequired),
	)
	return result, nil
}

func (h *AnalyzeCampaignHandler) storedSnapshots(ctx context.Context, cmd AnalyzeCampaignCommand) ([]promotion.StudentPerformance, error) {
	recs, err := h.store.Query(ctx, shared.CollectionPerformanceSnapshots,
		shared.Eq("tenantId", cmd.TenantID),
		shared.Eq("campaignId", cmd.CampaignID),
	)
	if err != nil {
		return nil, fmt.Errorf("analyze_campaign: load snapshots: %w", err)
	}

	out := make([]promotion.StudentPerformance, 0, len(recs))
	for _, r := range recs {
		var perf promotion.StudentPerformance
		if err := r.Decode(&perf); err != nil {
			return nil, fmt.Errorf("analyze_campaign: decode snapshot %s: %w", r.ID, err)
		}
		out = append(out, perf)
	}
	return out, nil
}

// rebuildSnapshots derives performance from the term's subject scores and
// stores one snapshot per student and campaign.
func (h *AnalyzeCampaignHandler) rebuildSnapshots(ctx context.Context, cmd AnalyzeCampaignCommand, campaign *promotion.Campaign) ([]promotion.StudentPerformance, error) {
	settings, err := h.settings.Settings(ctx, cmd.TenantID)
	if err != nil {
		return nil, fmt.Errorf("analyze_campaign: load settings: %w", err)
	}

	filters := []shared.Filter{
		shared.Eq("tenantId", cmd.TenantID),
		shared.Eq("term", cmd.Term),
	}
	if len(cmd.ClassIDs) > 0 {
		classes := make([]any, 0, len(cmd.ClassIDs))
		for _, id := range cmd.ClassIDs {
			classes = append(classes, id)
		}
		filters = append(filters, shared.In("classId", classes...))
	}
	recs, err := h.store.Query(ctx, shared.CollectionSubjectScores, filters...)
	if err != nil {
		return nil, fmt.Errorf("analyze_campaign: load scores: %w", err)
	}

	order := make([]string, 0)
	byStudent := make(map[string][]grading.SubjectScore)
	for _, r := range recs {
		var s grading.SubjectScore
		if err := r.Decode(&s); err != nil {
			return nil, fmt.Errorf("analyze_campaign: decode score %s: %w", r.ID, err)
		}
		if _, seen := byStudent[s.StudentID]; !seen {
			order = append(order, s.StudentID)
		}
		byStudent[s.StudentID] = append(byStudent[s.StudentID], s)
	}

	coreIDs := campaign.CoreSubjectIDs
	if len(coreIDs) == 0 {
		coreIDs = settings.CoreSubjectIDs
	}

	out := make([]promotion.StudentPerformance, 0, len(order))
	for _, studentID := range order {
		scores := byStudent[studentID]
		name, attendance := h.studentDetails(ctx, cmd.TenantID, studentID)
		if name == "" {
			name = scores[0].StudentName
		}

		perf := promotion.BuildPerformance(studentID, name, scores, settings.Grading, coreIDs, attendance)
		perf.ClassID = scores[0].ClassID

		if err := h.saveSnapshot(ctx, cmd, perf); err != nil {
			return nil, err
		}
		out = append(out, perf)
	}
	return out, nil
}

// studentDetails returns the student's name and attendance. A missing
// student document leaves both empty; attendance is then not evaluated.
func (h *AnalyzeCampaignHandler) studentDetails(ctx context.Context, tenantID, studentID string) (string, *float64) {
	rec, err := h.store.Get(ctx, shared.CollectionStudents, studentID)
	if err != nil {
		if !shared.IsNotFound(err) {
			h.log.Warn("failed to load student", logger.StudentID(studentID), logger.Err(err))
		}
		return "", nil
	}
	var doc studentAttendance
	if err := rec.Decode(&doc); err != nil || doc.TenantID != tenantID {
		return "", nil
	}
	return doc.Name, doc.AttendancePercentage
}

func (h *AnalyzeCampaignHandler) saveSnapshot(ctx context.Context, cmd AnalyzeCampaignCommand, perf promotion.StudentPerformance) error {
	fields, err := shared.ToFields(perf)
	if err != nil {
		return fmt.Errorf("analyze_campaign: encode snapshot: %w", err)
	}
	fields["tenantId"] = cmd.TenantID
	fields["campaignId"] = cmd.CampaignID
	fields["term"] = cmd.Term
	fields["updatedAt"] = h.store.Now(ctx)

	existing, err := h.store.Query(ctx, shared.CollectionPerformanceSnapshots,
		shared.Eq("tenantId", cmd.TenantID),
		shared.Eq("campaignId", cmd.CampaignID),
		shared.Eq("studentId", perf.StudentID),
	)
	if err != nil {
		return fmt.Errorf("analyze_campaign: load snapshot: %w", err)
	}
	if len(existing) > 0 {
		if err := h.store.Update(ctx, shared.CollectionPerformanceSnapshots, existing[0].ID, fields); err != nil {
			return fmt.Errorf("analyze_campaign: update snapshot: %w", err)
		}
		return nil
	}
	if _, err := h.store.Add(ctx, shared.CollectionPerformanceSnapshots, fields); err != nil {
		return fmt.Errorf("analyze_campaign: add snapshot: %w", err)
	}
	return nil
}
