package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/school-portal/assessment-engine/internal/domain/shared"
	"github.com/school-portal/assessment-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD STORE
// ══════════════════════════════════════════════════════════════════════════════

// RecordStore implements shared.RecordStore on the records table.
type RecordStore struct {
	db Querier

	mu   sync.Mutex
	last time.Time
}

// NewRecordStore creates a store over a pool or a transaction.
func NewRecordStore(db Querier) *RecordStore {
	return &RecordStore{db: db}
}

// Get returns one document.
func (s *RecordStore) Get(ctx context.Context, collection shared.Collection, id string) (shared.Record, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT doc FROM records WHERE collection = $1 AND id = $2`,
		string(collection), id,
	).Scan(&raw)
	if err != nil {
		return shared.Record{}, mapError("Get", collection, id, err)
	}
	return decodeRecord(id, raw)
}

// Query returns documents matching every filter in insertion order.
func (s *RecordStore) Query(ctx context.Context, collection shared.Collection, filters ...shared.Filter) ([]shared.Record, error) {
	sql, args, err := buildQuery(collection, filters)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError("Query", collection, "", err)
	}
	defer rows.Close()

	out := make([]shared.Record, 0)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", collection, err)
		}
		rec, err := decodeRecord(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("Query", collection, "", err)
	}
	return out, nil
}

// Update merges top-level fields into a document.
func (s *RecordStore) Update(ctx context.Context, collection shared.Collection, id string, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("postgres: encode %s/%s: %w", collection, id, err)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE records SET doc = doc || $3::jsonb, updated_at = NOW() WHERE collection = $1 AND id = $2`,
		string(collection), id, string(patch),
	)
	if err != nil {
		return mapError("Update", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("Update", collection, id)
	}
	return nil
}

// Add inserts a document under a new UUID.
func (s *RecordStore) Add(ctx context.Context, collection shared.Collection, fields map[string]any) (string, error) {
	doc, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("postgres: encode %s: %w", collection, err)
	}

	id := uuid.NewString()
	if _, err := s.db.Exec(ctx,
		`INSERT INTO records (collection, id, doc) VALUES ($1, $2, $3::jsonb)`,
		string(collection), id, string(doc),
	); err != nil {
		return "", mapError("Add", collection, id, err)
	}
	return id, nil
}

// Now returns the database clock, never earlier than a previous call.
// It falls back to the local clock when the database cannot be reached.
func (s *RecordStore) Now(ctx context.Context) time.Time {
	var now time.Time
	if err := s.db.QueryRow(ctx, `SELECT clock_timestamp()`).Scan(&now); err != nil {
		now = time.Now()
	}
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

// ══════════════════════════════════════════════════════════════════════════════
// SQL BUILDING
// ══════════════════════════════════════════════════════════════════════════════

// buildQuery renders filters as JSONB comparisons. Values are bound as JSON
// text so 3 and 3.0 compare equal the way they do in memory.
func buildQuery(collection shared.Collection, filters []shared.Filter) (string, []any, error) {
	var b strings.Builder
	args := []any{string(collection)}
	b.WriteString(`SELECT id, doc FROM records WHERE collection = $1`)

	for _, f := range filters {
		if f.Field == "" {
			return "", nil, errors.New("postgres: filter without field")
		}
		value, err := json.Marshal(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("postgres: encode filter %s: %w", f.Field, err)
		}

		args = append(args, f.Field)
		field := len(args)
		args = append(args, string(value))
		param := len(args)

		switch f.Op {
		case shared.OpEq:
			fmt.Fprintf(&b, ` AND doc -> $%d::text = $%d::jsonb`, field, param)
		case shared.OpIn:
			if _, ok := f.Value.([]any); !ok {
				return "", nil, fmt.Errorf("postgres: filter %s: in needs a list", f.Field)
			}
			fmt.Fprintf(&b,
				` AND EXISTS (SELECT 1 FROM jsonb_array_elements($%d::jsonb) v WHERE v = doc -> $%d::text)`,
				param, field)
		default:
			return "", nil, fmt.Errorf("postgres: unsupported filter op %q", f.Op)
		}
	}

	b.WriteString(` ORDER BY seq`)
	return b.String(), args, nil
}

func decodeRecord(id string, raw []byte) (shared.Record, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return shared.Record{}, fmt.Errorf("postgres: decode %s: %w", id, err)
	}
	return shared.Record{ID: id, Fields: fields}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func notFound(op string, collection shared.Collection, id string) error {
	return shared.WrapError("postgres", op, shared.ErrNotFound,
		fmt.Sprintf("%s/%s not found", collection, id), nil)
}

// mapError turns missing rows into ErrNotFound and marks transient
// failures so the engine's store policy retries them.
func mapError(op string, collection shared.Collection, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(op, collection, id)
	}
	wrapped := fmt.Errorf("postgres: %s %s: %w", strings.ToLower(op), collection, err)
	if IsTransient(err) {
		return retry.Retryable(wrapped)
	}
	return wrapped
}
