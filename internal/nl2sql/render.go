package nl2sql

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	MetricRevenue = "revenue"
	MetricUnits   = "units"

	detailAlias = "d"
)

var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var metricColumns = map[string]string{
	MetricRevenue: "standardSubtotal",
	MetricUnits:   "item_count",
}

// RenderSQL turns a plan into exactly one SELECT statement. It does not check
// that the plan's tables, columns or expressions are allowed; the caller must
// run ValidateSQL on the result before executing it.
func RenderSQL(plan QueryPlan) string {
	root := strings.TrimSpace(plan.From)
	alias := rootAlias(root)
	scope := aliasScope{}
	scope.bind(root, alias)

	var joins strings.Builder
	for _, join := range plan.Joins {
		table := joinTable(root, join)
		if strings.EqualFold(table, TableDetail) && !strings.EqualFold(root, TableDetail) {
			scope.bind(TableDetail, detailAlias)
			fmt.Fprintf(&joins, " JOIN %s %s ON %s = %s", TableDetail, detailAlias, scope.qualify(join.Left), scope.qualify(join.Right))
			continue
		}
		fmt.Fprintf(&joins, " JOIN %s ON %s = %s", table, scope.qualify(join.Left), scope.qualify(join.Right))
	}

	selectParts := make([]string, 0, len(plan.Select))
	for _, item := range plan.Select {
		selectParts = append(selectParts, renderSelectItem(item, root, alias, scope))
	}
	selectSQL := "*"
	if len(selectParts) > 0 {
		selectSQL = strings.Join(selectParts, ", ")
	}

	var out strings.Builder
	fmt.Fprintf(&out, "SELECT %s FROM %s %s", selectSQL, root, alias)
	out.WriteString(joins.String())

	if len(plan.Filters) > 0 {
		predicates := make([]string, 0, len(plan.Filters))
		for _, filter := range plan.Filters {
			predicates = append(predicates, renderFilter(scope.qualify(filter.Column), filter.Op, filter.Value))
		}
		out.WriteString(" WHERE " + strings.Join(predicates, " AND "))
	}
	if len(plan.GroupBy) > 0 {
		out.WriteString(" GROUP BY " + strings.Join(scope.qualifyAll(plan.GroupBy), ", "))
	}
	if len(plan.OrderBy) > 0 {
		out.WriteString(" ORDER BY " + strings.Join(scope.qualifyAll(plan.OrderBy), ", "))
	}
	out.WriteString(" LIMIT " + strconv.Itoa(clampLimit(plan.Limit)))
	return out.String()
}

func rootAlias(root string) string {
	if strings.EqualFold(root, TableInventory) {
		return "i"
	}
	if root == "" {
		return "t"
	}
	return strings.ToLower(root[:1])
}

// joinTable picks the table a join brings in: the side that is not the root,
// preferring the right-hand side.
func joinTable(root string, join Join) string {
	left, right := tablePrefix(join.Left), tablePrefix(join.Right)
	if right != "" && !strings.EqualFold(right, root) {
		return right
	}
	if left != "" && !strings.EqualFold(left, root) {
		return left
	}
	return right
}

func tablePrefix(column string) string {
	table, _, ok := strings.Cut(strings.TrimSpace(column), ".")
	if !ok {
		return ""
	}
	return table
}

// aliasScope rewrites "Table.column" to "alias.column" for aliased tables, so
// fully-qualified plan columns keep resolving once the table is aliased.
type aliasScope map[string]string

func (s aliasScope) bind(table, alias string) {
	if table == "" {
		return
	}
	s[strings.ToLower(table)] = alias
}

func (s aliasScope) qualify(expr string) string {
	table, rest, ok := strings.Cut(strings.TrimSpace(expr), ".")
	if !ok {
		return strings.TrimSpace(expr)
	}
	if alias, bound := s[strings.ToLower(table)]; bound {
		return alias + "." + rest
	}
	return strings.TrimSpace(expr)
}

func (s aliasScope) qualifyAll(exprs []string) []string {
	out := make([]string, 0, len(exprs))
	for _, expr := range exprs {
		out = append(out, s.qualify(expr))
	}
	return out
}

func renderSelectItem(item SelectItem, root, alias string, scope aliasScope) string {
	if column, ok := metricColumns[strings.ToLower(item.Column)]; ok {
		name := strings.ToLower(item.Column)
		expr := metricExpr(column, root, alias)
		if item.Agg != AggNone {
			return fmt.Sprintf("%s(%s) AS %s", strings.ToUpper(string(item.Agg)), expr, name)
		}
		return expr + " AS " + name
	}

	column := scope.qualify(item.Column)
	if item.Agg == AggNone {
		return column
	}
	return fmt.Sprintf("%s(%s) AS %s", strings.ToUpper(string(item.Agg)), column, outputName(item))
}

func outputName(item SelectItem) string {
	name := item.Column
	if _, rest, ok := strings.Cut(name, "."); ok {
		name = rest
	}
	if name == "*" {
		return string(item.Agg)
	}
	return name
}

// metricExpr expands a virtual metric into a correlated subquery over Detail,
// keyed on the root table's link to it.
func metricExpr(column, root, alias string) string {
	canonical, _ := CanonicalTable(root)
	switch canonical {
	case TableDetail:
		return fmt.Sprintf("(SELECT SUM(COALESCE(dm.%s,0)) FROM Detail dm WHERE dm.Item_ID = %s.Item_ID)", column, alias)
	case TablePricelist:
		return fmt.Sprintf("(SELECT SUM(COALESCE(d.%s,0)) FROM Detail d WHERE d.price_table_item_id = %s.item_id)", column, alias)
	case TableCustomer:
		return fmt.Sprintf("(SELECT SUM(COALESCE(d.%s,0)) FROM Detail d WHERE d.IID IN (SELECT ci.IID FROM Inventory ci WHERE ci.CID = %s.CID))", column, alias)
	default:
		return fmt.Sprintf("(SELECT SUM(COALESCE(d.%s,0)) FROM Detail d WHERE d.IID = %s.IID)", column, alias)
	}
}

func renderFilter(column string, op Operator, value any) string {
	switch op {
	case OpBetween:
		bounds, ok := value.(DateRange)
		if !ok {
			return fmt.Sprintf("%s BETWEEN %s AND %s", column, literal(value), literal(value))
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", column, literal(bounds.Start), literal(bounds.End))
	case OpContains:
		return fmt.Sprintf("LOWER(%s) LIKE LOWER(%s)", column, quoteString("%"+text(value)+"%"))
	case OpStartsWith:
		return fmt.Sprintf("LOWER(%s) LIKE LOWER(%s)", column, quoteString(text(value)+"%"))
	case OpEndsWith:
		return fmt.Sprintf("LOWER(%s) LIKE LOWER(%s)", column, quoteString("%"+text(value)))
	case OpIn:
		items, _ := value.([]any)
		if len(items) == 0 {
			return column + " IN (NULL)"
		}
		rendered := make([]string, 0, len(items))
		for _, item := range items {
			rendered = append(rendered, literal(item))
		}
		return fmt.Sprintf("%s IN (%s)", column, strings.Join(rendered, ", "))
	default:
		return fmt.Sprintf("%s %s %s", column, op, literal(value))
	}
}

// literal renders a scalar; strings shaped like YYYY-MM-DD become DATE literals.
func literal(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case bool:
		if typed {
			return "TRUE"
		}
		return "FALSE"
	case json.Number:
		return typed.String()
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case string:
		if isoDatePattern.MatchString(typed) {
			return "DATE '" + typed + "'"
		}
		return quoteString(typed)
	default:
		return quoteString(fmt.Sprint(typed))
	}
}

func text(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	default:
		return fmt.Sprint(typed)
	}
}
