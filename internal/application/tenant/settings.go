// Package tenant loads the per-school configuration that every calculation
// receives as an explicit parameter.
package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/school-portal/assessment-engine/internal/domain/assessment"
	"github.com/school-portal/assessment-engine/internal/domain/grading"
	"github.com/school-portal/assessment-engine/internal/domain/promotion"
	"github.com/school-portal/assessment-engine/internal/domain/shared"
	"github.com/school-portal/assessment-engine/pkg/logger"
)

// Settings bundles a tenant's scoring, grading and promotion configuration.
type Settings struct {
	TenantID       string             `json:"tenantId"`
	Assessment     assessment.Config  `json:"assessment"`
	Grading        grading.Config     `json:"grading"`
	Promotion      promotion.Settings `json:"promotion"`
	CoreSubjectIDs []string           `json:"coreSubjectIds"`
	TimeZone       string             `json:"timeZone,omitempty"`
}

// Check validates every part and joins the problems into one ConfigError.
func (s Settings) Check() error {
	var problems []string
	for _, err := range []error{s.Assessment.Check(), s.Grading.Check(), s.Promotion.Check()} {
		if err == nil {
			continue
		}
		var cerr *shared.ConfigError
		if errors.As(err, &cerr) {
			for _, p := range cerr.Problems {
				problems = append(problems, cerr.Domain+": "+p)
			}
			continue
		}
		problems = append(problems, err.Error())
	}
	return shared.NewConfigError("tenant", problems)
}

// Warnings reports settings that pass Check but are probably unintended.
func (s Settings) Warnings() []string {
	var out []string
	for _, w := range s.Assessment.Warnings() {
		out = append(out, "assessment: "+w)
	}
	return out
}

// Provider returns the current settings for a tenant.
type Provider interface {
	Settings(ctx context.Context, tenantID string) (Settings, error)
}

// StoreProvider reads settings from the tenant_settings collection.
type StoreProvider struct {
	store shared.RecordStore
	log   *logger.Logger
}

// NewStoreProvider creates a provider backed by store.
func NewStoreProvider(store shared.RecordStore, log *logger.Logger) *StoreProvider {
	if log == nil {
		log = logger.Default()
	}
	return &StoreProvider{store: store, log: log.With(logger.Component("tenant_settings"))}
}

// Settings loads the tenant's settings. Settings that fail Check are still
// returned: grading falls back to the lowest configured grade, and promotion
// analysis checks the campaign's own settings before it runs.
func (p *StoreProvider) Settings(ctx context.Context, tenantID string) (Settings, error) {
	recs, err := p.store.Query(ctx, shared.CollectionTenantSettings, shared.Eq("tenantId", tenantID))
	if err != nil {
		return Settings{}, fmt.Errorf("tenant: load settings: %w", err)
	}
	if len(recs) == 0 {
		return Settings{}, shared.WrapError("tenant", "Settings", shared.ErrNotFound,
			"no settings for tenant "+tenantID, nil)
	}

	var s Settings
	if err := recs[0].Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("tenant: %w", err)
	}
	if err := s.Check(); err != nil {
		var cerr *shared.ConfigError
		problems := []string{err.Error()}
		if errors.As(err, &cerr) {
			problems = cerr.Problems
		}
		p.log.Warn("stored tenant settings are incomplete",
			logger.TenantID(tenantID),
			logger.F("problems", problems),
		)
	}
	return s, nil
}

// Save writes settings for their tenant, replacing any earlier version.
func (p *StoreProvider) Save(ctx context.Context, s Settings) error {
	if err := s.Check(); err != nil {
		return err
	}
	fields, err := shared.ToFields(s)
	if err != nil {
		return fmt.Errorf("tenant: encode settings: %w", err)
	}

	recs, err := p.store.Query(ctx, shared.CollectionTenantSettings, shared.Eq("tenantId", s.TenantID))
	if err != nil {
		return fmt.Errorf("tenant: load settings: %w", err)
	}
	if len(recs) > 0 {
		return p.store.Update(ctx, shared.CollectionTenantSettings, recs[0].ID, fields)
	}
	_, err = p.store.Add(ctx, shared.CollectionTenantSettings, fields)
	return err
}
