package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/csvqa/csvqa/internal/nl2sql"
)

var ErrNotLoaded = errors.New("dataset is not loaded")

// TableFile is one local file backing a dataset table.
type TableFile struct {
	TableName string
	Path      string
	Format    string
}

type Request struct {
	SQL    string
	Limit  int
	Offset int
}

type Result struct {
	Columns  []string
	Rows     []map[string]any
	Total    int64
	Duration time.Duration
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Engine runs one read-only statement as a page plus a total count.
type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// Previewer samples every table for planner prompts.
type Previewer interface {
	Preview(ctx context.Context, sampleRows int) (nl2sql.SchemaPreview, error)
}

// PageSQL wraps a statement as a sub-relation so any SELECT can be paged.
func PageSQL(sqlText string, limit, offset int) string {
	if offset < 0 {
		offset = 0
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS sub LIMIT %d OFFSET %d", StripTrailingSemicolons(sqlText), limit, offset)
}

// CountSQL counts the full result of a statement, ignoring paging.
func CountSQL(sqlText string) string {
	return fmt.Sprintf("SELECT COUNT(*) AS c FROM (%s) sub", StripTrailingSemicolons(sqlText))
}

func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

// ClampLimit applies the page size default and ceiling.
func ClampLimit(limit, defaultLimit, maxLimit int) int {
	if limit <= 0 {
		limit = defaultLimit
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return limit
}
