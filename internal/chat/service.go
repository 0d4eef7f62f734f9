package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/csvqa/csvqa/internal/audit"
	"github.com/csvqa/csvqa/internal/nl2sql"
	"github.com/csvqa/csvqa/internal/observability"
	"github.com/csvqa/csvqa/internal/query"
)

type State string

const (
	StateReceived                   State = "received"
	StateAnsweredConversational     State = "answered_conversational"
	StateIntentMatched              State = "intent_matched"
	StatePlanning                   State = "planning"
	StatePlanned                    State = "planned"
	StateUnplannable                State = "unplannable"
	StateRejectedNoPlan             State = "rejected_no_plan"
	StateBuilt                      State = "built"
	StateValidated                  State = "validated"
	StateRejectedInvalidSQL         State = "rejected_invalid_sql"
	StateExecuted                   State = "executed"
	StateExecFailed                 State = "exec_failed"
	StateRepairAttempted            State = "repair_attempted"
	StateRepairedValidated          State = "repaired_validated"
	StateRepairedExecuted           State = "repaired_executed"
	StateRepairedRejectedInvalidSQL State = "repaired_rejected_invalid_sql"
	StateRejectedExecError          State = "rejected_exec_error"
	StateResponded                  State = "responded"
)

// Strategy names the path that produced the final answer.
type Strategy string

const (
	StrategyIntent    Strategy = "intent"
	StrategyLLM       Strategy = "llm"
	StrategyLLMRepair Strategy = "llm_repair"
	StrategyFAQ       Strategy = "faq"
)

func (s Strategy) Confidence() float64 {
	switch s {
	case StrategyIntent:
		return 1.0
	case StrategyLLM, StrategyLLMRepair:
		return 0.9
	case StrategyFAQ:
		return 0.8
	default:
		return 0
	}
}

const (
	DefaultLimit             = 50
	DefaultPlannerSampleRows = 2
)

// ExamplePrompts are suggested when nothing can plan a question.
var ExamplePrompts = []string{
	"total revenue for CID: 1000001",
	"orders for cid: 1000001 between 2025-08-01 and 2025-08-02",
	"top customers by revenue",
	"price for item_id 1",
}

type Planner interface {
	Plan(ctx context.Context, message string, preview nl2sql.SchemaPreview) (nl2sql.QueryPlan, bool)
	Repair(ctx context.Context, message, failedSQL, engineError string, preview nl2sql.SchemaPreview) (nl2sql.QueryPlan, bool)
}

// Answerer is the conversational fallback. It must always return user-safe text.
type Answerer interface {
	Answer(ctx context.Context, question string) string
}

type Request struct {
	Message string `json:"message"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
}

type Response struct {
	Answer     string                  `json:"answer"`
	SQL        string                  `json:"sql"`
	Rows       []map[string]any        `json:"rows"`
	RowCount   int64                   `json:"row_count"`
	Provenance map[string][]any        `json:"provenance"`
	Confidence float64                 `json:"confidence"`
	Validation nl2sql.ValidationResult `json:"validation"`
	Strategy   Strategy                `json:"strategy"`
	Intent     string                  `json:"intent,omitempty"`
	State      State                   `json:"state"`
}

type Options struct {
	UsePlanner        bool
	UseRepair         bool
	UseFAQ            bool
	DefaultLimit      int
	MaxLimit          int
	PlannerSampleRows int
}

type Dependencies struct {
	Engine    query.Engine
	Previewer query.Previewer
	Planner   Planner
	FAQ       Answerer
	Audit     audit.Recorder
	Logger    *slog.Logger
}

// Service routes one message through rule intents or the planner, validates
// and executes the SQL, and repairs a failed execution at most once.
type Service struct {
	deps    Dependencies
	options Options
	logger  *slog.Logger
}

func NewService(deps Dependencies, options Options) *Service {
	if options.DefaultLimit <= 0 {
		options.DefaultLimit = DefaultLimit
	}
	if options.PlannerSampleRows <= 0 {
		options.PlannerSampleRows = DefaultPlannerSampleRows
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{deps: deps, options: options, logger: logger}
}

// run accumulates what one request went through; it feeds the log line, the
// metrics and the audit record.
type run struct {
	start      time.Time
	path       []State
	strategy   Strategy
	intent     string
	sql        string
	validation nl2sql.ValidationResult
}

func (r *run) to(state State) {
	r.path = append(r.path, state)
}

func (r *run) state() State {
	return r.path[len(r.path)-1]
}

func (s *Service) Answer(ctx context.Context, request Request) (Response, error) {
	r := &run{start: time.Now(), path: []State{StateReceived}}
	message := strings.TrimSpace(request.Message)
	if message == "" {
		return Response{}, &Error{Kind: KindInputEmpty, State: StateReceived, Message: "Empty message"}
	}
	limit := query.ClampLimit(request.Limit, s.options.DefaultLimit, s.options.MaxLimit)
	offset := max(request.Offset, 0)

	if !nl2sql.IsDataLike(message) && s.faqEnabled() {
		return s.conversational(ctx, r, message), nil
	}

	if intent, ok := nl2sql.InferIntent(message); ok {
		r.to(StateIntentMatched)
		r.strategy = StrategyIntent
		r.intent = string(intent)
		r.sql = strings.TrimSpace(nl2sql.BuildSQL(intent, message))
		r.to(StateBuilt)
	} else {
		r.to(StatePlanning)
		plan, ok := s.plan(ctx, message)
		if !ok {
			r.to(StateUnplannable)
			if s.faqEnabled() {
				return s.conversational(ctx, r, message), nil
			}
			r.to(StateRejectedNoPlan)
			return Response{}, s.reject(ctx, r, &Error{
				Kind:    KindPlanUnavailable,
				Message: "Planner unavailable and no rule matched.",
				Issues:  append([]string{"Try one of:"}, bulleted(ExamplePrompts)...),
			})
		}
		r.to(StatePlanned)
		r.strategy = StrategyLLM
		r.intent = string(plan.Intent)
		r.sql = nl2sql.RenderSQL(plan)
	}

	r.validation = nl2sql.ValidateSQL(r.sql)
	if !r.validation.OK {
		observability.IncrementSQLRejection(string(r.strategy))
		r.to(StateRejectedInvalidSQL)
		return Response{}, s.reject(ctx, r, &Error{
			Kind:    KindValidationRejected,
			Message: "Query rejected by validator",
			Issues:  r.validation.Issues,
			SQL:     r.sql,
		})
	}
	r.to(StateValidated)

	result, err := s.deps.Engine.Execute(ctx, query.Request{SQL: r.sql, Limit: limit, Offset: offset})
	if err != nil {
		if !isQueryError(err) {
			return Response{}, fmt.Errorf("execute chat query: %w", err)
		}
		r.to(StateExecFailed)
		result, err = s.repair(ctx, r, message, err.Error(), limit, offset)
		if err != nil {
			return Response{}, err
		}
	} else {
		r.to(StateExecuted)
	}
	r.to(StateResponded)
	return s.respond(ctx, r, result, limit), nil
}

func (s *Service) repair(ctx context.Context, r *run, message, engineError string, limit, offset int) (query.Result, error) {
	failedSQL := r.sql
	if !s.options.UseRepair || s.deps.Planner == nil {
		r.to(StateRejectedExecError)
		return query.Result{}, s.reject(ctx, r, &Error{
			Kind:        KindExecutionFailed,
			Message:     "Query failed",
			SQL:         failedSQL,
			EngineError: engineError,
		})
	}

	r.to(StateRepairAttempted)
	plan, ok := s.deps.Planner.Repair(ctx, message, failedSQL, engineError, s.preview(ctx))
	if !ok {
		r.to(StateRejectedExecError)
		return query.Result{}, s.reject(ctx, r, &Error{
			Kind:        KindRepairUnavailable,
			Message:     "Query failed and LLM repair unavailable.",
			SQL:         failedSQL,
			EngineError: engineError,
		})
	}

	r.strategy = StrategyLLMRepair
	r.intent = string(plan.Intent)
	r.sql = nl2sql.RenderSQL(plan)
	r.validation = nl2sql.ValidateSQL(r.sql)
	if !r.validation.OK {
		observability.IncrementSQLRejection(string(StrategyLLMRepair))
		r.to(StateRepairedRejectedInvalidSQL)
		return query.Result{}, s.reject(ctx, r, &Error{
			Kind:        KindRepairValidationRejected,
			Message:     "Query rejected by validator (after repair)",
			Issues:      r.validation.Issues,
			SQL:         r.sql,
			EngineError: engineError,
		})
	}
	r.to(StateRepairedValidated)

	result, err := s.deps.Engine.Execute(ctx, query.Request{SQL: r.sql, Limit: limit, Offset: offset})
	if err != nil {
		if !isQueryError(err) {
			return query.Result{}, fmt.Errorf("execute repaired chat query: %w", err)
		}
		r.to(StateRejectedExecError)
		return query.Result{}, s.reject(ctx, r, &Error{
			Kind:              KindRepairExecutionFailed,
			Message:           "Query failed after repair",
			SQL:               r.sql,
			EngineError:       engineError,
			RepairEngineError: err.Error(),
		})
	}
	r.to(StateRepairedExecuted)
	return result, nil
}

func (s *Service) plan(ctx context.Context, message string) (nl2sql.QueryPlan, bool) {
	if !s.options.UsePlanner || s.deps.Planner == nil {
		return nl2sql.QueryPlan{}, false
	}
	return s.deps.Planner.Plan(ctx, message, s.preview(ctx))
}

// preview is best effort: a planner prompt without samples is still useful.
func (s *Service) preview(ctx context.Context) nl2sql.SchemaPreview {
	if s.deps.Previewer == nil {
		return nil
	}
	preview, err := s.deps.Previewer.Preview(ctx, s.options.PlannerSampleRows)
	if err != nil {
		s.logger.WarnContext(ctx, "schema_preview_failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.Any("error", err),
		)
		return nil
	}
	return preview
}

func (s *Service) faqEnabled() bool {
	return s.options.UseFAQ && s.deps.FAQ != nil
}

func (s *Service) conversational(ctx context.Context, r *run, message string) Response {
	answer := s.deps.FAQ.Answer(ctx, message)
	r.to(StateAnsweredConversational)
	observability.ObserveChatAnswer(string(StrategyFAQ), string(StateAnsweredConversational), 0)
	s.logger.InfoContext(ctx, "chat_answered",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("strategy", string(StrategyFAQ)),
		slog.String("state", string(StateAnsweredConversational)),
	)
	return Response{
		Answer:     answer,
		SQL:        "",
		Rows:       []map[string]any{},
		RowCount:   0,
		Provenance: map[string][]any{},
		Confidence: StrategyFAQ.Confidence(),
		Validation: nl2sql.ValidationResult{OK: true, Issues: []string{}, Tables: []string{}},
		Strategy:   StrategyFAQ,
		State:      StateAnsweredConversational,
	}
}

func (s *Service) respond(ctx context.Context, r *run, result query.Result, limit int) Response {
	rows := result.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	answer := "No matching rows."
	if result.Total > 0 {
		answer = fmt.Sprintf("Found %d row(s). Showing up to %d.", result.Total, limit)
	}

	observability.ObserveQueryDuration(result.Duration)
	observability.ObserveChatAnswer(string(r.strategy), string(r.state()), int(result.Total))
	s.logger.InfoContext(ctx, "chat_answered",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("strategy", string(r.strategy)),
		slog.String("intent", r.intent),
		slog.String("state", string(r.state())),
		slog.Any("path", r.path),
		slog.Int64("row_count", result.Total),
	)
	s.record(ctx, r, result.Total, "")

	return Response{
		Answer:     answer,
		SQL:        r.sql,
		Rows:       rows,
		RowCount:   result.Total,
		Provenance: nl2sql.ExtractProvenance(result.Columns, rows),
		Confidence: r.strategy.Confidence(),
		Validation: r.validation,
		Strategy:   r.strategy,
		Intent:     r.intent,
		State:      r.state(),
	}
}

func (s *Service) reject(ctx context.Context, r *run, chatErr *Error) *Error {
	chatErr.State = r.state()
	strategy := string(r.strategy)
	if strategy == "" {
		strategy = "none"
	}
	observability.ObserveChatAnswer(strategy, string(chatErr.State), 0)
	s.logger.WarnContext(ctx, "chat_rejected",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("strategy", strategy),
		slog.String("intent", r.intent),
		slog.String("state", string(chatErr.State)),
		slog.String("kind", string(chatErr.Kind)),
		slog.Any("path", r.path),
		slog.Any("issues", chatErr.Issues),
	)
	if r.sql != "" {
		engineError := chatErr.EngineError
		if chatErr.RepairEngineError != "" {
			engineError = chatErr.RepairEngineError
		}
		s.record(ctx, r, 0, engineError)
	}
	return chatErr
}

func (s *Service) record(ctx context.Context, r *run, rowCount int64, engineError string) {
	record := audit.New(observability.TraceIDFromContext(ctx))
	record.Strategy = string(r.strategy)
	record.Intent = r.intent
	record.State = string(r.state())
	record.SQL = r.sql
	record.ValidationOK = r.validation.OK
	if r.validation.Issues != nil {
		record.Issues = r.validation.Issues
	}
	record.EngineError = engineError
	record.RowCount = rowCount
	record.DurationMs = time.Since(r.start).Milliseconds()
	if err := s.deps.Audit.Record(ctx, record); err != nil {
		s.logger.WarnContext(ctx, "chat_audit_failed",
			slog.String("trace_id", record.TraceID),
			slog.Any("error", err),
		)
	}
}

// isQueryError separates failures of the statement itself from the engine
// not being able to run anything at all.
func isQueryError(err error) bool {
	return !errors.Is(err, query.ErrNotLoaded) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func bulleted(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, "• "+item)
	}
	return out
}
