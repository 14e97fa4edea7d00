package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/school-portal/assessment-engine/internal/domain/promotion"
	"github.com/school-portal/assessment-engine/internal/domain/shared"
)

// GetExecutionQuery identifies a promotion execution report.
type GetExecutionQuery struct {
	TenantID    string
	ExecutionID string
}

// GetExecutionHandler returns execution reports, including those of runs
// still in progress.
type GetExecutionHandler struct {
	store shared.RecordStore
}

// NewGetExecutionHandler creates a new handler.
func NewGetExecutionHandler(store shared.RecordStore) *GetExecutionHandler {
	return &GetExecutionHandler{store: store}
}

// Handle executes the query.
func (h *GetExecutionHandler) Handle(ctx context.Context, q GetExecutionQuery) (*promotion.Execution, error) {
	if q.TenantID == "" || q.ExecutionID == "" {
		err := errors.New("tenant id and execution id are required")
		return nil, shared.WrapError("query", "GetExecution", shared.ErrValidation, err.Error(), err)
	}

	rec, err := h.store.Get(ctx, shared.CollectionPromotionExecutions, q.ExecutionID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("get_execution: %w", err)
	}

	var exec promotion.Execution
	if err := rec.Decode(&exec); err != nil {
		return nil, fmt.Errorf("get_execution: decode %s: %w", rec.ID, err)
	}
	if exec.TenantID != q.TenantID {
		return nil, shared.ErrExecutionNotFound
	}
	exec.ID = rec.ID
	return &exec, nil
}

// ListExecutionsQuery lists every run of one campaign.
type ListExecutionsQuery struct {
	TenantID   string
	CampaignID string
}

// ListExecutions returns a campaign's runs, oldest first.
func (h *GetExecutionHandler) ListExecutions(ctx context.Context, q ListExecutionsQuery) ([]promotion.Execution, error) {
	if q.TenantID == "" || q.CampaignID == "" {
		err := errors.New("tenant id and campaign id are required")
		return nil, shared.WrapError("query", "ListExecutions", shared.ErrValidation, err.Error(), err)
	}

	recs, err := h.store.Query(ctx, shared.CollectionPromotionExecutions,
		shared.Eq("tenantId", q.TenantID),
		shared.Eq("campaignId", q.CampaignID),
	)
	if err != nil {
		return nil, fmt.Errorf("list_executions: %w", err)
	}

	out := make([]promotion.Execution, 0, len(recs))
	for _, r := range recs {
		var exec promotion.Execution
		if err := r.Decode(&exec); err != nil {
			return nil, fmt.Errorf("list_executions: decode %s: %w", r.ID, err)
		}
		exec.ID = r.ID
		out = append(out, exec)
	}
	return out, nil
}
