package nl2sql

import "strings"

// Table names as they are registered in the engine.
const (
	TableCustomer  = "Customer"
	TableInventory = "Inventory"
	TableDetail    = "Detail"
	TablePricelist = "Pricelist"
)

// Tables lists the queryable tables in preview order.
var Tables = []string{TableCustomer, TableInventory, TableDetail, TablePricelist}

// Columns is the logical schema the planner prompt is grounded on.
var Columns = map[string][]string{
	TableCustomer:  {"CID", "name", "phone", "email"},
	TableInventory: {"IID", "CID", "DATE_IN", "status", "specialdiscount", "deliverycharge"},
	TableDetail:    {"Item_ID", "IID", "price_table_item_id", "item_count", "standardSubtotal"},
	TablePricelist: {"item_id", "name", "baseprice"},
}

// PrimaryKey is one table's primary key column as it appears in result sets.
type PrimaryKey struct {
	Table  string
	Column string
}

// PrimaryKeys is ordered so provenance extraction is deterministic.
var PrimaryKeys = []PrimaryKey{
	{Table: TableCustomer, Column: "CID"},
	{Table: TableInventory, Column: "IID"},
	{Table: TableDetail, Column: "Item_ID"},
	{Table: TablePricelist, Column: "item_id"},
}

var allowedTables = map[string]struct{}{
	"customer":  {},
	"inventory": {},
	"detail":    {},
	"pricelist": {},
}

var allowedFuncs = map[string]struct{}{
	"count":      {},
	"sum":        {},
	"avg":        {},
	"min":        {},
	"max":        {},
	"date_trunc": {},
	"lower":      {},
	"upper":      {},
	"round":      {},
	"coalesce":   {},
	"cast":       {},
}

// IsAllowedTable reports whether name is an allow-listed table (case-insensitive).
func IsAllowedTable(name string) bool {
	_, ok := allowedTables[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// IsAllowedFunc reports whether name is an allow-listed function (case-insensitive).
func IsAllowedFunc(name string) bool {
	_, ok := allowedFuncs[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// CanonicalTable maps any casing of an allow-listed table to its registered name.
func CanonicalTable(name string) (string, bool) {
	for _, table := range Tables {
		if strings.EqualFold(table, strings.TrimSpace(name)) {
			return table, true
		}
	}
	return "", false
}

// ExtractProvenance collects the non-null primary key values present in rows,
// keyed by primary key column, in row order. Column matching is exact.
func ExtractProvenance(columns []string, rows []map[string]any) map[string][]any {
	present := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		present[column] = struct{}{}
	}

	provenance := map[string][]any{}
	for _, key := range PrimaryKeys {
		if _, ok := present[key.Column]; !ok {
			continue
		}
		values := make([]any, 0, len(rows))
		for _, row := range rows {
			value, ok := row[key.Column]
			if !ok || value == nil {
				continue
			}
			values = append(values, value)
		}
		if len(values) > 0 {
			provenance[key.Column] = values
		}
	}
	return provenance
}
