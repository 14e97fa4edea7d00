package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/school-portal/assessment-engine/internal/domain/shared"
	"github.com/school-portal/assessment-engine/pkg/retry"
)

func TestBuildQuery_NoFilters(t *testing.T) {
	sql, args, err := buildQuery(shared.CollectionStudents, nil)
	require.NoError(t, err)
	assert.Equal(t, `SELECT id, doc FROM records WHERE collection = $1 ORDER BY seq`, sql)
	assert.Equal(t, []any{"students"}, args)
}

func TestBuildQuery_EqAndIn(t *testing.T) {
	sql, args, err := buildQuery(shared.CollectionPromotionRecords, []shared.Filter{
		shared.Eq("tenantId", "school-1"),
		shared.In("status", "approved", "pending"),
		shared.Eq("attempt", 3),
	})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT id, doc FROM records WHERE collection = $1`+
			` AND doc -> $2::text = $3::jsonb`+
			` AND EXISTS (SELECT 1 FROM jsonb_array_elements($5::jsonb) v WHERE v = doc -> $4::text)`+
			` AND doc -> $6::text = $7::jsonb`+
			` ORDER BY seq`,
		sql)
	assert.Equal(t, []any{
		"promotion_records",
		"tenantId", `"school-1"`,
		"status", `["approved","pending"]`,
		"attempt", `3`,
	}, args)
}

func TestBuildQuery_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		filter shared.Filter
	}{
		{"empty field", shared.Eq("", "x")},
		{"in without list", shared.Filter{Field: "status", Op: shared.OpIn, Value: "approved"}},
		{"unknown op", shared.Filter{Field: "status", Op: "!=", Value: "x"}},
		{"unencodable value", shared.Eq("fn", func() {})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := buildQuery(shared.CollectionStudents, []shared.Filter{tt.filter})
			assert.Error(t, err)
		})
	}
}

func TestMapError(t *testing.T) {
	err := mapError("Get", shared.CollectionStudents, "stu-1", pgx.ErrNoRows)
	assert.True(t, shared.IsNotFound(err))
	assert.False(t, retry.IsRetryable(err))

	deadlock := &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	err = mapError("Update", shared.CollectionPromotionRecords, "rec-1", deadlock)
	assert.True(t, retry.IsRetryable(err))
	assert.ErrorIs(t, err, deadlock)

	conn := &pgconn.PgError{Code: "08006", Message: "connection failure"}
	assert.True(t, retry.IsRetryable(mapError("Query", shared.CollectionStudents, "", conn)))

	unique := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	err = mapError("Add", shared.CollectionStudents, "stu-1", unique)
	assert.False(t, retry.IsRetryable(err))
	assert.True(t, IsUniqueViolation(err))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("boom")))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40001"})))
	assert.True(t, IsTransient(&pgconn.PgError{Code: "57P01"}))
	assert.False(t, IsTransient(&pgconn.PgError{Code: "22P02"}))
}

func TestMigrations_Ordered(t *testing.T) {
	migs := Migrations()
	require.NotEmpty(t, migs)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
	assert.Contains(t, migs[0].UpSQL, "CREATE TABLE IF NOT EXISTS records")
	assert.Contains(t, migs[len(migs)-1].UpSQL, "(doc->>'subjectId')")
}
