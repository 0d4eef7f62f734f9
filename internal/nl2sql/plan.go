package nl2sql

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cast"
)

const (
	DefaultPlanLimit = 100
	MaxPlanLimit     = 200
)

var ErrInvalidPlan = errors.New("invalid query plan")

var joinColumnPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type Intent string

const (
	IntentTotalByCustomer  Intent = "TOTAL_BY_CUSTOMER"
	IntentOrdersByCustomer Intent = "ORDERS_BY_CUSTOMER"
	IntentTopCustomers     Intent = "TOP_CUSTOMERS"
	IntentTopItems         Intent = "TOP_ITEMS"
	IntentPriceLookup      Intent = "PRICE_LOOKUP"
	IntentOrdersDateRange  Intent = "ORDERS_DATE_RANGE"
	IntentAdhoc            Intent = "ADHOC"
)

func (i Intent) Valid() bool {
	switch i {
	case IntentTotalByCustomer, IntentOrdersByCustomer, IntentTopCustomers, IntentTopItems,
		IntentPriceLookup, IntentOrdersDateRange, IntentAdhoc:
		return true
	default:
		return false
	}
}

// Aggregate is the optional aggregate applied to a selected column. The zero
// value means no aggregate.
type Aggregate string

const (
	AggNone  Aggregate = ""
	AggSum   Aggregate = "sum"
	AggAvg   Aggregate = "avg"
	AggMin   Aggregate = "min"
	AggMax   Aggregate = "max"
	AggCount Aggregate = "count"
)

func parseAggregate(raw *string) (Aggregate, error) {
	if raw == nil {
		return AggNone, nil
	}
	value := strings.ToLower(strings.TrimSpace(*raw))
	switch value {
	case "", "null", "none":
		return AggNone, nil
	case "sum", "avg", "min", "max", "count":
		return Aggregate(value), nil
	default:
		return AggNone, fmt.Errorf("%w: unsupported aggregate %q", ErrInvalidPlan, *raw)
	}
}

type Operator string

const (
	OpEq         Operator = "="
	OpNe         Operator = "!="
	OpLt         Operator = "<"
	OpGt         Operator = ">"
	OpLe         Operator = "<="
	OpGe         Operator = ">="
	OpBetween    Operator = "between"
	OpIn         Operator = "in"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startswith"
	OpEndsWith   Operator = "endswith"
)

func parseOperator(raw string) (Operator, error) {
	op := Operator(strings.ToLower(strings.TrimSpace(raw)))
	switch op {
	case OpEq, OpNe, OpLt, OpGt, OpLe, OpGe, OpBetween, OpIn, OpContains, OpStartsWith, OpEndsWith:
		return op, nil
	case "<>":
		return OpNe, nil
	default:
		return "", fmt.Errorf("%w: unsupported operator %q", ErrInvalidPlan, raw)
	}
}

// SelectItem is one entry of the plan's ordered select mapping.
type SelectItem struct {
	Column string
	Agg    Aggregate
}

type Join struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// DateRange is the value of a between filter. Bounds are strings (dates are
// detected at render time) or json.Number.
type DateRange struct {
	Start any
	End   any
}

// Filter values are normalized at parse time: DateRange for between, []any for
// in, and a scalar (string, json.Number, bool or nil) otherwise.
type Filter struct {
	Column string
	Op     Operator
	Value  any
}

// QueryPlan is the structured intermediate form produced by the generative
// planner. It is untrusted: rendering it does not make it safe, only
// ValidateSQL on the rendered text does.
type QueryPlan struct {
	Intent  Intent
	Select  []SelectItem
	From    string
	Joins   []Join
	Filters []Filter
	GroupBy []string
	OrderBy []string
	Limit   int
}

type rawPlan struct {
	Intent  string          `json:"intent"`
	Select  json.RawMessage `json:"select"`
	From    string          `json:"from_"`
	FromAlt string          `json:"from"`
	Joins   []Join          `json:"joins"`
	Filters []rawFilter     `json:"filters"`
	GroupBy []string        `json:"group_by"`
	OrderBy []string        `json:"order_by"`
	Limit   any             `json:"limit"`
}

type rawFilter struct {
	Column string          `json:"column"`
	Op     string          `json:"op"`
	Value  json.RawMessage `json:"value"`
}

// ParsePlan decodes model output into a QueryPlan, rejecting unknown intents,
// aggregates, operators and join sides that are not column names. Unknown
// keys are ignored. Anything that does not parse is treated by callers
// exactly like "no plan".
func ParsePlan(data []byte) (QueryPlan, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return QueryPlan{}, fmt.Errorf("%w: empty document", ErrInvalidPlan)
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var raw rawPlan
	if err := decoder.Decode(&raw); err != nil {
		return QueryPlan{}, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if decoder.More() {
		return QueryPlan{}, fmt.Errorf("%w: trailing data after plan", ErrInvalidPlan)
	}

	plan := QueryPlan{
		Intent:  Intent(strings.ToUpper(strings.TrimSpace(raw.Intent))),
		From:    strings.TrimSpace(raw.From),
		GroupBy: trimAll(raw.GroupBy),
		OrderBy: trimAll(raw.OrderBy),
	}
	if !plan.Intent.Valid() {
		return QueryPlan{}, fmt.Errorf("%w: unknown intent %q", ErrInvalidPlan, raw.Intent)
	}
	if plan.From == "" {
		plan.From = strings.TrimSpace(raw.FromAlt)
	}
	if plan.From == "" {
		return QueryPlan{}, fmt.Errorf("%w: from_ is required", ErrInvalidPlan)
	}

	selectItems, err := decodeSelect(raw.Select)
	if err != nil {
		return QueryPlan{}, err
	}
	plan.Select = selectItems

	for _, join := range raw.Joins {
		left, right := strings.TrimSpace(join.Left), strings.TrimSpace(join.Right)
		if left == "" || right == "" {
			return QueryPlan{}, fmt.Errorf("%w: join requires left and right", ErrInvalidPlan)
		}
		if !joinColumnPattern.MatchString(left) || !joinColumnPattern.MatchString(right) {
			return QueryPlan{}, fmt.Errorf("%w: join sides must be column names, got %q and %q", ErrInvalidPlan, left, right)
		}
		plan.Joins = append(plan.Joins, Join{Left: left, Right: right})
	}

	for _, item := range raw.Filters {
		filter, err := decodeFilter(item)
		if err != nil {
			return QueryPlan{}, err
		}
		plan.Filters = append(plan.Filters, filter)
	}

	limit, err := coerceLimit(raw.Limit)
	if err != nil {
		return QueryPlan{}, err
	}
	plan.Limit = limit
	return plan, nil
}

func decodeSelect(raw json.RawMessage) ([]SelectItem, error) {
	if len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	token, err := decoder.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: select: %v", ErrInvalidPlan, err)
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: select must be an object", ErrInvalidPlan)
	}

	items := []SelectItem{}
	positions := map[string]int{}
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: select: %v", ErrInvalidPlan, err)
		}
		column := strings.TrimSpace(keyToken.(string))
		var rawAgg *string
		if err := decoder.Decode(&rawAgg); err != nil {
			return nil, fmt.Errorf("%w: select[%q]: %v", ErrInvalidPlan, column, err)
		}
		if column == "" {
			return nil, fmt.Errorf("%w: select column is empty", ErrInvalidPlan)
		}
		agg, err := parseAggregate(rawAgg)
		if err != nil {
			return nil, err
		}
		// duplicate keys keep their first position and their last value
		if index, seen := positions[column]; seen {
			items[index].Agg = agg
			continue
		}
		positions[column] = len(items)
		items = append(items, SelectItem{Column: column, Agg: agg})
	}
	if _, err := decoder.Token(); err != nil {
		return nil, fmt.Errorf("%w: select: %v", ErrInvalidPlan, err)
	}
	return items, nil
}

func decodeFilter(raw rawFilter) (Filter, error) {
	column := strings.TrimSpace(raw.Column)
	if column == "" {
		return Filter{}, fmt.Errorf("%w: filter column is required", ErrInvalidPlan)
	}
	op, err := parseOperator(raw.Op)
	if err != nil {
		return Filter{}, err
	}

	var value any
	if len(raw.Value) > 0 {
		decoder := json.NewDecoder(bytes.NewReader(raw.Value))
		decoder.UseNumber()
		if err := decoder.Decode(&value); err != nil {
			return Filter{}, fmt.Errorf("%w: filter %q value: %v", ErrInvalidPlan, column, err)
		}
	}

	switch op {
	case OpBetween:
		bounds, err := toDateRange(value)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: filter %q: %v", ErrInvalidPlan, column, err)
		}
		return Filter{Column: column, Op: op, Value: bounds}, nil
	case OpIn:
		switch typed := value.(type) {
		case nil:
			return Filter{Column: column, Op: op, Value: []any{}}, nil
		case []any:
			for _, item := range typed {
				if !isScalar(item) {
					return Filter{}, fmt.Errorf("%w: filter %q: in-list items must be scalars", ErrInvalidPlan, column)
				}
			}
			return Filter{Column: column, Op: op, Value: typed}, nil
		default:
			if !isScalar(typed) {
				return Filter{}, fmt.Errorf("%w: filter %q: in requires a list", ErrInvalidPlan, column)
			}
			return Filter{Column: column, Op: op, Value: []any{typed}}, nil
		}
	default:
		if !isScalar(value) {
			return Filter{}, fmt.Errorf("%w: filter %q: %s requires a scalar value", ErrInvalidPlan, column, op)
		}
		return Filter{Column: column, Op: op, Value: value}, nil
	}
}

func toDateRange(value any) (DateRange, error) {
	switch typed := value.(type) {
	case map[string]any:
		start, okStart := typed["start"]
		end, okEnd := typed["end"]
		if !okStart || !okEnd || !isScalar(start) || !isScalar(end) {
			return DateRange{}, errors.New("between requires start and end")
		}
		return DateRange{Start: start, End: end}, nil
	case []any:
		if len(typed) != 2 || !isScalar(typed[0]) || !isScalar(typed[1]) {
			return DateRange{}, errors.New("between requires exactly two bounds")
		}
		return DateRange{Start: typed[0], End: typed[1]}, nil
	default:
		return DateRange{}, errors.New("between requires a {start, end} pair")
	}
}

func isScalar(value any) bool {
	switch value.(type) {
	case nil, string, json.Number, bool:
		return true
	default:
		return false
	}
}

func coerceLimit(value any) (int, error) {
	if value == nil {
		return DefaultPlanLimit, nil
	}
	if number, ok := value.(json.Number); ok {
		value = number.String()
	}
	limit, err := cast.ToIntE(value)
	if err != nil {
		asFloat, floatErr := cast.ToFloat64E(value)
		if floatErr != nil {
			return 0, fmt.Errorf("%w: limit %v is not a number", ErrInvalidPlan, value)
		}
		limit = int(asFloat)
	}
	return clampLimit(limit), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPlanLimit
	}
	if limit > MaxPlanLimit {
		return MaxPlanLimit
	}
	return limit
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
