package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one versioned schema change.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies migrations and records them in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: Migrations(),
		tableName:  "schema_migrations",
	}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
// It returns the number applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if _, done := applied[mig.Version]; done {
			continue
		}
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName),
				mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		count++
	}
	return count, nil
}

// Status lists every embedded migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Migrations returns all embedded migrations in order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_records", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "record_lookup_indexes", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "assessment_lock_per_subject", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

const migration001Up = `
CREATE TABLE IF NOT EXISTS records (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    seq BIGSERIAL NOT NULL,
    doc JSONB NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (collection, id),
    CONSTRAINT doc_is_object CHECK (jsonb_typeof(doc) = 'object')
);

CREATE INDEX IF NOT EXISTS idx_records_collection_seq ON records(collection, seq);
CREATE INDEX IF NOT EXISTS idx_records_doc ON records USING GIN (doc jsonb_path_ops);
`

const migration001Down = `
DROP TABLE IF EXISTS records;
`

// Tenant-scoped lookups done on every score entry and execution run.
const migration002Up = `
CREATE INDEX IF NOT EXISTS idx_records_scores_lookup
    ON records ((doc->>'tenantId'), (doc->>'term'), (doc->>'classId'))
    WHERE collection = 'subject_scores';

CREATE INDEX IF NOT EXISTS idx_records_promotion_lookup
    ON records ((doc->>'tenantId'), (doc->>'campaignId'), (doc->>'status'))
    WHERE collection = 'promotion_records';

CREATE UNIQUE INDEX IF NOT EXISTS idx_records_assessment_lock
    ON records ((doc->>'tenantId'), (doc->>'term'))
    WHERE collection = 'assessment_locks';
`

const migration002Down = `
DROP INDEX IF EXISTS idx_records_assessment_lock;
DROP INDEX IF EXISTS idx_records_promotion_lookup;
DROP INDEX IF EXISTS idx_records_scores_lookup;
`

const migration003Up = `
DROP INDEX IF EXISTS idx_records_assessment_lock;

CREATE UNIQUE INDEX IF NOT EXISTS idx_records_assessment_lock
    ON records ((doc->>'tenantId'), (doc->>'term'), (doc->>'subjectId'))
    WHERE collection = 'assessment_locks';
`

const migration003Down = `
DROP INDEX IF EXISTS idx_records_assessment_lock;

CREATE UNIQUE INDEX IF NOT EXISTS idx_records_assessment_lock
    ON records ((doc->>'tenantId'), (doc->>'term'))
    WHERE collection = 'assessment_locks';
`
