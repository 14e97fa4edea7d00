package command

import (
	"context"
	"fmt"

	"github.com/school-portal/assessment-engine/internal/domain/promotion"
	"github.com/school-portal/assessment-engine/internal/domain/shared"
	"github.com/school-portal/assessment-engine/pkg/logger"
)

// TransitionCampaignCommand moves a campaign along its lifecycle.
// Executing and executed are reached through ExecutePromotion only.
type TransitionCampaignCommand struct {
	TenantID   string                   `validate:"required"`
	CampaignID string                   `validate:"required"`
	ActorID    string                   `validate:"required"`
	Status     promotion.CampaignStatus `validate:"required,oneof=open in_review approved cancelled"`
}

// Validate validates the command.
func (c TransitionCampaignCommand) Validate() error {
	return validateCommand("TransitionCampaign", c)
}

// TransitionCampaignResult contains both ends of the transition.
type TransitionCampaignResult struct {
	From     promotion.CampaignStatus
	To       promotion.CampaignStatus
	Campaign promotion.Campaign
}

// TransitionCampaignHandler handles the TransitionCampaignCommand.
type TransitionCampaignHandler struct {
	store          shared.RecordStore
	eventPublisher shared.EventPublisher
	log            *logger.Logger
}

// NewTransitionCampaignHandler creates a new TransitionCampaignHandler.
func NewTransitionCampaignHandler(store shared.RecordStore, eventPublisher shared.EventPublisher, log *logger.Logger) *TransitionCampaignHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &TransitionCampaignHandler{
		store:          store,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("transition_campaign")),
	}
}

// Handle executes the transition.
func (h *TransitionCampaignHandler) Handle(ctx context.Context, cmd TransitionCampaignCommand) (*TransitionCampaignResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("transition_campaign: validation failed: %w", err)
	}

	campaign, err := loadCampaign(ctx, h.store, cmd.TenantID, cmd.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("transition_campaign: %w", err)
	}

	from := campaign.Status
	if err := campaign.TransitionTo(cmd.Status, h.store.Now(ctx)); err != nil {
		return nil, fmt.Errorf("transition_campaign: %w", err)
	}
	if err := h.store.Update(ctx, shared.CollectionPromotionCampaigns, campaign.ID, campaignStatusFields(campaign)); err != nil {
		return nil, fmt.Errorf("transition_campaign: save campaign: %w", err)
	}

	event := shared.NewCampaignTransitionedEvent(cmd.TenantID, campaign.ID, string(from), string(campaign.Status), cmd.ActorID)
	if err := h.eventPublisher.Publish(event); err != nil {
		h.log.Warn("failed to publish transition event", logger.Err(err))
	}

	h.log.Info("campaign transitioned",
		logger.TenantID(cmd.TenantID),
		logger.CampaignID(campaign.ID),
		logger.String("from", string(from)),
		logger.String("to", string(campaign.Status)),
		logger.ActorID(cmd.ActorID),
	)

	return &TransitionCampaignResult{From: from, To: campaign.Status, Campaign: *campaign}, nil
}
