package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/csvqa/csvqa/internal/audit"
)

const maxRecentLimit = 500

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping audit db: %w", err)
	}
	return nil
}

func (r *Repository) Record(ctx context.Context, record audit.Record) error {
	issues := record.Issues
	if issues == nil {
		issues = []string{}
	}
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("encode audit issues: %w", err)
	}

	query := `
INSERT INTO query_audit (query_id, trace_id, strategy, intent, state, sql_text, validation_ok, issues_json, engine_error, row_count, duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11, $12)`
	if _, err := r.db.ExecContext(ctx, query,
		record.QueryID.String(),
		record.TraceID,
		record.Strategy,
		nullString(record.Intent),
		record.State,
		record.SQL,
		record.ValidationOK,
		string(issuesJSON),
		nullString(record.EngineError),
		record.RowCount,
		record.DurationMs,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert query audit: %w", err)
	}
	return nil
}

func (r *Repository) Recent(ctx context.Context, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	query := `
SELECT query_id, trace_id, strategy, intent, state, sql_text, validation_ok, issues_json, engine_error, row_count, duration_ms, created_at
FROM query_audit
ORDER BY created_at DESC
LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list query audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []audit.Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query audit: %w", err)
	}
	return out, nil
}

func (r *Repository) Get(ctx context.Context, queryID uuid.UUID) (audit.Record, error) {
	query := `
SELECT query_id, trace_id, strategy, intent, state, sql_text, validation_ok, issues_json, engine_error, row_count, duration_ms, created_at
FROM query_audit
WHERE query_id = $1`
	record, err := scanRecord(r.db.QueryRowContext(ctx, query, queryID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Record{}, audit.ErrNotFound
		}
		return audit.Record{}, err
	}
	return record, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (audit.Record, error) {
	var (
		record      audit.Record
		queryID     string
		intent      sql.NullString
		engineError sql.NullString
		issuesJSON  []byte
	)
	if err := row.Scan(
		&queryID,
		&record.TraceID,
		&record.Strategy,
		&intent,
		&record.State,
		&record.SQL,
		&record.ValidationOK,
		&issuesJSON,
		&engineError,
		&record.RowCount,
		&record.DurationMs,
		&record.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Record{}, err
		}
		return audit.Record{}, fmt.Errorf("scan query audit: %w", err)
	}

	parsed, err := uuid.Parse(queryID)
	if err != nil {
		return audit.Record{}, fmt.Errorf("parse query id %q: %w", queryID, err)
	}
	record.QueryID = parsed
	record.Intent = intent.String
	record.EngineError = engineError.String
	record.Issues = []string{}
	if len(issuesJSON) > 0 {
		if err := json.Unmarshal(issuesJSON, &record.Issues); err != nil {
			return audit.Record{}, fmt.Errorf("decode audit issues: %w", err)
		}
	}
	return record, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
