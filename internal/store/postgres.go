package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/nornir/internal/validation"
)

// Compile-time check to verify that PostgresDatabase implements Database.
var _ Database = (*PostgresDatabase)(nil)

// PostgresDatabase persists enrollments in the 'enrollments' table.
// The full record is kept as JSONB; slug, active and is_rollout are
// duplicated into columns for querying.
type PostgresDatabase struct {
	db *pgxpool.Pool
}

// NewPostgresDatabase creates a new repository instance with the given connection pool.
func NewPostgresDatabase(db *pgxpool.Pool) *PostgresDatabase {
	validation.AssertNotNil(db, "store: database pool")
	return &PostgresDatabase{db: db}
}

// Upsert inserts or fully replaces the enrollment row.
func (p *PostgresDatabase) Upsert(ctx context.Context, e *Enrollment) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode enrollment: %w", err)
	}

	query := `
		INSERT INTO enrollments (slug, active, is_rollout, source, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slug) DO UPDATE
		SET active = EXCLUDED.active,
			is_rollout = EXCLUDED.is_rollout,
			source = EXCLUDED.source,
			data = EXCLUDED.data,
			updated_at = NOW()
	`

	if _, err := p.db.Exec(ctx, query, e.Slug, e.Active, e.IsRollout, e.Source, data); err != nil {
		return fmt.Errorf("failed to upsert enrollment: %w", err)
	}
	return nil
}

// Deactivate marks the row inactive. A row missing because an earlier write
// failed is inserted instead, so the historical record is never lost.
func (p *PostgresDatabase) Deactivate(ctx context.Context, e *Enrollment) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode enrollment: %w", err)
	}

	query := `
		UPDATE enrollments
		SET active = FALSE, data = $2, updated_at = NOW()
		WHERE slug = $1
	`

	tag, err := p.db.Exec(ctx, query, e.Slug, data)
	if err != nil {
		return fmt.Errorf("failed to deactivate enrollment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return p.Upsert(ctx, e)
	}
	return nil
}

// LoadAll reads every enrollment ordered by slug.
func (p *PostgresDatabase) LoadAll(ctx context.Context) ([]*Enrollment, error) {
	rows, err := p.db.Query(ctx, `SELECT data FROM enrollments ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	// Ensure rows are closed to prevent connection leaks in the pool.
	defer rows.Close()

	var out []*Enrollment
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment row: %w", err)
		}

		var e Enrollment
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to decode enrollment: %w", err)
		}
		out = append(out, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return out, nil
}
