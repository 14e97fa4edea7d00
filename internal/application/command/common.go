// Package command contains write operations (CQRS - Commands).
// Commands validate input, apply domain rules and persist the outcome
// through the abstract record store.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/school-portal/assessment-engine/internal/domain/promotion"
	"github.com/school-portal/assessment-engine/internal/domain/shared"
	"github.com/school-portal/assessment-engine/pkg/logger"
	"github.com/school-portal/assessment-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func commandValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// validateCommand checks a command's struct tags and returns an error that
// matches shared.ErrValidation.
func validateCommand(op string, cmd any) error {
	err := commandValidator().Struct(cmd)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.WrapError("command", op, shared.ErrValidation, "invalid command", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			msgs = append(msgs, fe.Field()+" is required")
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return shared.NewDomainError("command", op, shared.ErrValidation, strings.Join(msgs, "; "))
}

// ScoreValidationError carries every problem found in a set of raw scores.
type ScoreValidationError struct {
	Errors []string
}

// Error implements the error interface.
func (e *ScoreValidationError) Error() string {
	return "score validation failed: " + strings.Join(e.Errors, "; ")
}

// Is implements errors.Is() matching.
func (e *ScoreValidationError) Is(target error) bool {
	return target == shared.ErrValidation
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// ResultsInvalidator drops cached class results after a score changes.
type ResultsInvalidator interface {
	InvalidateClassResults(ctx context.Context, tenantID, classID, term string) error
}

// Locker serializes work on one key across processes.
type Locker interface {
	// Acquire returns shared.ErrLocked when the key is already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// NopLocker grants every lock. Used when no shared lock backend is configured.
type NopLocker struct{}

// Acquire implements Locker.
func (NopLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// LocalLocker serializes keys within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// Acquire implements Locker. The ttl is ignored; the lock lives until released.
func (l *LocalLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, shared.WrapError("lock", "Acquire", shared.ErrLocked, key+" is held", nil)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}

type nopInvalidator struct{}

func (nopInvalidator) InvalidateClassResults(context.Context, string, string, string) error {
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CAMPAIGN PERSISTENCE
// ══════════════════════════════════════════════════════════════════════════════

// loadCampaign reads a campaign and hides campaigns of other tenants.
func loadCampaign(ctx context.Context, store shared.RecordStore, tenantID, campaignID string) (*promotion.Campaign, error) {
	rec, err := store.Get(ctx, shared.CollectionPromotionCampaigns, campaignID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.ErrCampaignNotFound
		}
		return nil, err
	}

	var campaign promotion.Campaign
	if err := rec.Decode(&campaign); err != nil {
		return nil, fmt.Errorf("decode campaign %s: %w", campaignID, err)
	}
	if campaign.TenantID != tenantID {
		return nil, shared.ErrCampaignNotFound
	}
	campaign.ID = rec.ID
	return &campaign, nil
}

// campaignStatusFields returns the fields written on every campaign status change.
func campaignStatusFields(c *promotion.Campaign) map[string]any {
	fields := map[string]any{
		"status":    c.Status,
		"updatedAt": c.UpdatedAt,
	}
	if c.LastExecutionID != "" {
		fields["lastExecutionId"] = c.LastExecutionID
	}
	if c.ExecutedAt != nil {
		fields["executedBy"] = c.ExecutedBy
		fields["executedAt"] = *c.ExecutedAt
	}
	return fields
}

// storeRetry retries store writes that fail with a transient error.
func storeRetry(log *logger.Logger, op string) retry.Policy {
	return retry.StorePolicy().With(
		retry.WithRetryIf(func(err error) bool {
			return retry.IsRetryable(err) || shared.IsRetryable(err)
		}),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("retrying store write",
				logger.Operation(op),
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)
}
