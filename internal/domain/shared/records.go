package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Record Store
// ═══════════════════════════════════════════════════════════════════════════

// Collection names a group of documents in the record store.
type Collection string

const (
	CollectionStudents             Collection = "students"
	CollectionSubjectScores        Collection = "subject_scores"
	CollectionAssessmentLocks      Collection = "assessment_locks"
	CollectionPromotionCampaigns   Collection = "promotion_campaigns"
	CollectionPromotionRecords     Collection = "promotion_records"
	CollectionPromotionExecutions  Collection = "promotion_executions"
	CollectionPerformanceSnapshots Collection = "performance_snapshots"
	CollectionTenantSettings       Collection = "tenant_settings"
)

// FilterOp is a comparison operator understood by every RecordStore.
type FilterOp string

const (
	OpEq FilterOp = "=="
	OpIn FilterOp = "in"
)

// Filter restricts a query to documents whose top-level Field matches Value.
// For OpIn, Value must be a []any.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// In builds a membership filter.
func In(field string, values ...any) Filter {
	return Filter{Field: field, Op: OpIn, Value: values}
}

// Record is one stored document.
type Record struct {
	ID     string
	Fields map[string]any
}

// Decode unmarshals the record fields into dst through their JSON form.
func (r Record) Decode(dst any) error {
	raw, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode record %s: %w", r.ID, err)
	}
	return nil
}

// String returns a string field or "".
func (r Record) String(field string) string {
	s, _ := r.Fields[field].(string)
	return s
}

// ToFields converts a JSON-tagged value into a field map for Add/Update.
func ToFields(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// RecordStore is the abstract document store the engine runs against.
// Get and Update return an error matching ErrNotFound for unknown ids.
// Update merges top-level fields; it never removes unnamed ones.
type RecordStore interface {
	Get(ctx context.Context, collection Collection, id string) (Record, error)
	Query(ctx context.Context, collection Collection, filters ...Filter) ([]Record, error)
	Update(ctx context.Context, collection Collection, id string, fields map[string]any) error
	Add(ctx context.Context, collection Collection, fields map[string]any) (string, error)

	// Now returns a server timestamp that never goes backwards.
	Now(ctx context.Context) time.Time
}

// Matches reports whether fields satisfy every filter. Values are compared
// after JSON normalization so 3 and 3.0 are equal.
func Matches(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		got, ok := fields[f.Field]
		if !ok {
			return false
		}
		switch f.Op {
		case OpEq:
			if !sameValue(got, f.Value) {
				return false
			}
		case OpIn:
			values, _ := f.Value.([]any)
			found := false
			for _, v := range values {
				if sameValue(got, v) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ra) == string(rb)
}
