package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	goduckdb "github.com/marcboeker/go-duckdb/v2"
	"golang.org/x/sync/errgroup"

	"github.com/csvqa/csvqa/internal/nl2sql"
	"github.com/csvqa/csvqa/internal/query"
)

// Engine owns the process-wide in-memory DuckDB database. Load builds a
// complete replacement before swapping it in under the write lock, so readers
// never observe a half-loaded dataset.
type Engine struct {
	mu       sync.RWMutex
	db       *sql.DB
	tables   []string
	loadedAt time.Time
}

func NewEngine() *Engine {
	return &Engine{}
}

// Load materializes every file as a table in a fresh database and swaps it in.
// The files may be removed once Load returns. After loading, the database can
// no longer read files or change its own configuration.
func (e *Engine) Load(ctx context.Context, files []query.TableFile) error {
	if len(files) == 0 {
		return fmt.Errorf("no table files to load")
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}

	tables := make([]string, 0, len(files))
	for _, file := range files {
		reader, err := readerFor(file)
		if err != nil {
			_ = db.Close()
			return err
		}
		createSQL := fmt.Sprintf(`CREATE OR REPLACE TABLE %s AS SELECT * FROM %s`, quoteIdent(file.TableName), reader)
		if _, err := db.ExecContext(ctx, createSQL); err != nil {
			_ = db.Close()
			return fmt.Errorf("load table %q from %q: %w", file.TableName, file.Path, err)
		}
		tables = append(tables, file.TableName)
	}
	if err := lockDown(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	e.mu.Lock()
	previous := e.db
	e.db = db
	e.tables = tables
	e.loadedAt = time.Now().UTC()
	e.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

var lockDownStatements = []string{
	"SET enable_external_access = false",
	"SET lock_configuration = true",
}

func lockDown(ctx context.Context, db *sql.DB) error {
	for _, statement := range lockDownStatements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("lock down database: %w", err)
		}
	}
	return nil
}

func (e *Engine) LoadedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadedAt
}

func (e *Engine) Tables() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.tables...)
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := query.StripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return query.Result{}, query.ErrNotLoaded
	}

	start := time.Now()
	columns, rows, err := queryRows(ctx, e.db, query.PageSQL(sqlText, request.Limit, request.Offset))
	if err != nil {
		return query.Result{}, err
	}

	var total int64
	if err := e.db.QueryRowContext(ctx, query.CountSQL(sqlText)).Scan(&total); err != nil {
		return query.Result{}, fmt.Errorf("count rows: %w", err)
	}

	return query.Result{
		Columns:  columns,
		Rows:     rows,
		Total:    total,
		Duration: time.Since(start),
	}, nil
}

// Preview samples each loaded table concurrently.
func (e *Engine) Preview(ctx context.Context, sampleRows int) (nl2sql.SchemaPreview, error) {
	if sampleRows < 0 {
		sampleRows = 0
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return nil, query.ErrNotLoaded
	}

	previews := make([]nl2sql.TablePreview, len(e.tables))
	group, groupCtx := errgroup.WithContext(ctx)
	for index, table := range e.tables {
		group.Go(func() error {
			columns, rows, err := queryRows(groupCtx, e.db, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), sampleRows))
			if err != nil {
				return fmt.Errorf("preview %q: %w", table, err)
			}
			previews[index] = nl2sql.TablePreview{Columns: columns, Sample: rows}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	out := make(nl2sql.SchemaPreview, len(e.tables))
	for index, table := range e.tables {
		out[table] = previews[index]
	}
	return out, nil
}

// Describe returns column names and engine types per loaded table.
func (e *Engine) Describe(ctx context.Context) (map[string][]query.Column, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return nil, query.ErrNotLoaded
	}

	rows, err := e.db.QueryContext(ctx, `SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'main'
ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("describe tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string][]query.Column{}
	for rows.Next() {
		var table string
		var column query.Column
		if err := rows.Scan(&table, &column.Name, &column.Type); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		out[table] = append(out[table], column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return out, nil
}

func queryRows(ctx context.Context, db *sql.DB, sqlText string) ([]string, []map[string]any, error) {
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		record := make(map[string]any, len(columns))
		for i, column := range columns {
			record[column] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, resultRows, nil
}

// normalizeValue maps driver types onto JSON-friendly values.
func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case *big.Int:
		if typed.IsInt64() {
			return typed.Int64()
		}
		return typed.String()
	case goduckdb.Decimal:
		return typed.Float64()
	case time.Time:
		if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 && typed.Nanosecond() == 0 {
			return typed.Format(time.DateOnly)
		}
		return typed.Format(time.RFC3339)
	default:
		return typed
	}
}

func readerFor(file query.TableFile) (string, error) {
	switch strings.ToLower(strings.TrimSpace(file.Format)) {
	case "", "csv":
		return fmt.Sprintf("read_csv_auto(%s, header = true)", quoteString(file.Path)), nil
	case "parquet":
		return fmt.Sprintf("read_parquet(%s)", quoteString(file.Path)), nil
	default:
		return "", fmt.Errorf("unsupported format %q for table %q", file.Format, file.TableName)
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
