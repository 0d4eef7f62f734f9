package nl2sql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParsePlan(t *testing.T, doc string) QueryPlan {
	t.Helper()
	plan, err := ParsePlan([]byte(doc))
	require.NoError(t, err)
	return plan
}

func TestRenderSQLRevenueUsesCorrelatedSubquery(t *testing.T) {
	plan := mustParsePlan(t, `{
		"intent": "TOP_CUSTOMERS",
		"select": {"CID": null, "revenue": "sum"},
		"from_": "Inventory",
		"group_by": ["CID"],
		"order_by": ["revenue DESC"],
		"limit": 10
	}`)

	sql := RenderSQL(plan)
	assert.Equal(t, "SELECT CID, SUM((SELECT SUM(COALESCE(d.standardSubtotal,0)) FROM Detail d WHERE d.IID = i.IID)) AS revenue FROM Inventory i GROUP BY CID ORDER BY revenue DESC LIMIT 10", sql)
	assert.NotContains(t, sql, " JOIN ")

	result := ValidateSQL(sql)
	assert.True(t, result.OK, "%v", result.Issues)
}

func TestRenderSQLMetricsPerRoot(t *testing.T) {
	cases := map[string]string{
		"Inventory": "FROM Detail d WHERE d.IID = i.IID",
		"Detail":    "FROM Detail dm WHERE dm.Item_ID = d.Item_ID",
		"Pricelist": "FROM Detail d WHERE d.price_table_item_id = p.item_id",
		"Customer":  "FROM Detail d WHERE d.IID IN (SELECT ci.IID FROM Inventory ci WHERE ci.CID = c.CID)",
	}
	for root, want := range cases {
		plan := QueryPlan{Intent: IntentAdhoc, From: root, Select: []SelectItem{{Column: "units"}}}
		sql := RenderSQL(plan)
		assert.Contains(t, sql, "SUM(COALESCE(", root)
		assert.Contains(t, sql, "item_count", root)
		assert.Contains(t, sql, want, root)
		assert.True(t, strings.HasSuffix(sql, "LIMIT 100"), root)
		assert.True(t, ValidateSQL(sql).OK, root)
	}
}

func TestRenderSQLRejectsDisallowedRootAfterValidation(t *testing.T) {
	for _, root := range []string{"Secrets", "pg_catalog", "information_schema"} {
		plan := QueryPlan{Intent: IntentAdhoc, From: root, Select: []SelectItem{{Column: "CID"}}, Limit: 5}
		result := ValidateSQL(RenderSQL(plan))
		assert.False(t, result.OK, root)
		assert.Contains(t, result.Tables, strings.ToLower(root))
	}
}

func TestRenderSQLFiltersAndJoins(t *testing.T) {
	plan := mustParsePlan(t, `{
		"intent": "ADHOC",
		"select": {"Inventory.IID": null, "Detail.item_count": "sum"},
		"from_": "Inventory",
		"joins": [{"left": "Inventory.IID", "right": "Detail.IID"}],
		"filters": [
			{"column": "Inventory.DATE_IN", "op": "between", "value": {"start": "2025-08-01", "end": "2025-08-02"}},
			{"column": "Inventory.status", "op": "in", "value": ["open", "ready"]},
			{"column": "Inventory.CID", "op": "=", "value": 1000001}
		],
		"group_by": ["Inventory.IID"],
		"limit": 500
	}`)

	sql := RenderSQL(plan)
	assert.Equal(t, "SELECT i.IID, SUM(d.item_count) AS item_count FROM Inventory i JOIN Detail d ON i.IID = d.IID "+
		"WHERE i.DATE_IN BETWEEN DATE '2025-08-01' AND DATE '2025-08-02' AND i.status IN ('open', 'ready') AND i.CID = 1000001 "+
		"GROUP BY i.IID LIMIT 200", sql)
	assert.True(t, ValidateSQL(sql).OK)
}

func TestRenderSQLTextOperators(t *testing.T) {
	plan := QueryPlan{
		Intent: IntentAdhoc,
		From:   "Customer",
		Filters: []Filter{
			{Column: "Customer.name", Op: OpContains, Value: "O'Brien"},
			{Column: "email", Op: OpEndsWith, Value: "@example.com"},
			{Column: "phone", Op: OpStartsWith, Value: "555"},
			{Column: "CID", Op: OpIn, Value: []any{}},
		},
	}

	sql := RenderSQL(plan)
	assert.Contains(t, sql, "SELECT * FROM Customer c WHERE ")
	assert.Contains(t, sql, "LOWER(c.name) LIKE LOWER('%O''Brien%')")
	assert.Contains(t, sql, "LOWER(email) LIKE LOWER('%@example.com')")
	assert.Contains(t, sql, "LOWER(phone) LIKE LOWER('555%')")
	assert.Contains(t, sql, "CID IN (NULL)")
}

func TestRenderSQLCountStar(t *testing.T) {
	plan := QueryPlan{Intent: IntentAdhoc, From: "Detail", Select: []SelectItem{{Column: "*", Agg: AggCount}}, Limit: 1}
	assert.Equal(t, "SELECT COUNT(*) AS count FROM Detail d LIMIT 1", RenderSQL(plan))
}
