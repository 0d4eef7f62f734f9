package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/csvqa/csvqa/internal/llm"
	"github.com/csvqa/csvqa/internal/observability"
)

const plannerSystemPrompt = `You are a SQL planner. Return ONLY a JSON object for QueryPlan with this exact shape:
{
  "intent": "TOTAL_BY_CUSTOMER"|"ORDERS_BY_CUSTOMER"|"TOP_CUSTOMERS"|"TOP_ITEMS"|"PRICE_LOOKUP"|"ORDERS_DATE_RANGE"|"ADHOC",
  "select": { "<virtual or column>": "sum|avg|min|max|count|null" },
  "from_": "Inventory"|"Detail"|"Customer"|"Pricelist",
  "joins": [{"left":"Inventory.IID","right":"Detail.IID"}],
  "filters": [{"column":"Inventory.CID","op":"=","value":1001}],
  "group_by": ["CID"],
  "order_by": ["revenue DESC"],
  "limit": 100
}
Rules:
- Use ONLY columns/tables that exist in the provided schema preview.
- 'revenue' => SUM(Detail.standardSubtotal) grouped appropriately.
- 'units'   => SUM(Detail.item_count).
- Prefer Inventory as the root for order/revenue questions.
- Filter ops: =, !=, <, >, <=, >=, between ({"start":..,"end":..}), in (list), contains, startswith, endswith.
- Limit <= 200. No prose, no extra keys.`

const repairSystemPrompt = `You are a SQL repair tool. Given: user message, failed SQL, engine error, and schema preview.
Return ONLY a corrected QueryPlan JSON (same schema as planner). Use only existing tables/columns.
Do not repeat the construct that caused the engine error.

` + plannerSystemPrompt

// TablePreview is the column list and a few sample rows of one table.
type TablePreview struct {
	Columns []string         `json:"columns"`
	Sample  []map[string]any `json:"sample"`
}

// SchemaPreview grounds planner prompts, keyed by table name.
type SchemaPreview map[string]TablePreview

// Planner asks a generator for a QueryPlan. Plan and Repair never fail: every
// problem (no generator, quota, transport, malformed output) is logged and
// reported as "no plan".
type Planner struct {
	generator llm.Generator
	logger    *slog.Logger
}

func NewPlanner(generator llm.Generator, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{generator: generator, logger: logger}
}

// Available reports whether a generator is wired at all.
func (p *Planner) Available() bool {
	return p != nil && p.generator != nil
}

func (p *Planner) Plan(ctx context.Context, message string, preview SchemaPreview) (QueryPlan, bool) {
	payload := map[string]any{"user_message": message}
	if preview != nil {
		payload["schema_preview"] = preview
	}
	return p.generate(ctx, "plan", plannerSystemPrompt, payload)
}

// Repair is attempted at most once per request by the caller; it sees the SQL
// that failed and the engine's error text.
func (p *Planner) Repair(ctx context.Context, message, failedSQL, engineError string, preview SchemaPreview) (QueryPlan, bool) {
	payload := map[string]any{
		"user_message":   message,
		"failed_sql":     failedSQL,
		"error":          engineError,
		"schema_preview": preview,
	}
	return p.generate(ctx, "repair", repairSystemPrompt, payload)
}

func (p *Planner) generate(ctx context.Context, purpose, system string, payload map[string]any) (QueryPlan, bool) {
	if !p.Available() {
		observability.ObserveGeneratorCall(purpose, "unavailable")
		return QueryPlan{}, false
	}

	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.WarnContext(ctx, "planner_prompt_failed", slog.String("purpose", purpose), slog.Any("error", err))
		observability.ObserveGeneratorCall(purpose, "error")
		return QueryPlan{}, false
	}

	text, err := p.generator.Generate(ctx, llm.Prompt{
		System:          system,
		User:            string(body),
		JSON:            true,
		Temperature:     0.1,
		TopP:            0.9,
		MaxOutputTokens: 512,
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, llm.ErrRateLimited) {
			outcome = "rate_limited"
		}
		p.logger.WarnContext(ctx, "planner_generate_failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("purpose", purpose),
			slog.String("model", p.generator.Model()),
			slog.String("outcome", outcome),
			slog.Any("error", err),
		)
		observability.ObserveGeneratorCall(purpose, outcome)
		return QueryPlan{}, false
	}

	plan, err := ParsePlan([]byte(text))
	if err != nil {
		p.logger.WarnContext(ctx, "planner_output_rejected",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("purpose", purpose),
			slog.Any("error", fmt.Errorf("parse %s output: %w", purpose, err)),
		)
		observability.ObserveGeneratorCall(purpose, "malformed")
		return QueryPlan{}, false
	}
	observability.ObserveGeneratorCall(purpose, "ok")
	return plan, true
}
