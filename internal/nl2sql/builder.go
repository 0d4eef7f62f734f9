package nl2sql

import (
	"fmt"
	"strings"
)

// orderTotalExpr sums detail lines per inventory row. Every template that
// reports revenue goes through it so that several detail rows for one order
// never multiply the order's other columns.
const orderTotalExpr = `(SELECT SUM(COALESCE(d.standardSubtotal,0)) FROM Detail d WHERE d.IID = i.IID)`

// BuildSQL renders the template for intent, re-reading parameters from msg.
// Extracted parameters are interpolated as literals; their patterns only admit
// safe character classes and ValidateSQL still runs on the result.
func BuildSQL(intent Intent, msg string) string {
	switch intent {
	case IntentTotalByCustomer:
		return fmt.Sprintf(`WITH order_totals AS (
  SELECT i.IID, i.CID,
         %s AS order_total
  FROM Inventory i
  %s
)
SELECT CID, SUM(order_total) AS total_revenue
FROM order_totals
GROUP BY CID
ORDER BY total_revenue DESC`, orderTotalExpr, customerWhere(msg))

	case IntentOrdersByCustomer:
		return fmt.Sprintf(`SELECT i.IID, i.CID, i.DATE_IN AS order_date, i.status,
       %s AS order_total
FROM Inventory i
%s
ORDER BY order_date DESC`, orderTotalExpr, customerWhere(msg))

	case IntentPriceLookup:
		return fmt.Sprintf(`SELECT p.item_id, p.name, p.baseprice
FROM Pricelist p
%s
ORDER BY p.item_id`, itemWhere(msg))

	case IntentTopCustomers:
		return fmt.Sprintf(`WITH order_totals AS (
  SELECT i.IID, i.CID,
         %s AS order_total
  FROM Inventory i
)
SELECT cid, SUM(order_total) AS revenue, COUNT(*) AS orders
FROM order_totals
GROUP BY cid
ORDER BY revenue DESC`, orderTotalExpr)

	case IntentTopItems:
		return `SELECT p.item_id, p.name,
       SUM(COALESCE(d.item_count,0)) AS units,
       SUM(COALESCE(d.standardSubtotal,0)) AS sales
FROM Detail d
LEFT JOIN Pricelist p ON p.item_id = d.price_table_item_id
GROUP BY p.item_id, p.name
ORDER BY units DESC`

	case IntentOrdersDateRange:
		return fmt.Sprintf(`SELECT i.IID, i.CID, i.DATE_IN AS order_date, i.status,
       %s AS order_total
FROM Inventory i
%s
ORDER BY order_date`, orderTotalExpr, dateWhere(msg))
	}

	return `SELECT i.IID, i.CID, i.DATE_IN AS order_date, i.status,
       d.Item_ID AS detail_id, d.price_table_item_id, d.item_count,
       d.standardSubtotal,
       p.name AS item_name, p.baseprice
FROM Inventory i
JOIN Detail d ON d.IID = i.IID
LEFT JOIN Pricelist p ON p.item_id = d.price_table_item_id
ORDER BY order_date DESC
LIMIT 50`
}

func customerWhere(msg string) string {
	cid, ok := ParseCustomerID(msg)
	if !ok {
		return ""
	}
	return "WHERE i.CID = " + cid
}

func dateWhere(msg string) string {
	span, ok := ParseDateRange(msg)
	if !ok {
		return ""
	}
	return fmt.Sprintf("WHERE CAST(i.DATE_IN AS DATE) BETWEEN DATE '%s' AND DATE '%s'", span.Start, span.End)
}

func itemWhere(msg string) string {
	key, ok := ParseItemKey(msg)
	if !ok {
		return ""
	}
	switch key.Kind {
	case ItemKeyID:
		return "WHERE p.item_id = " + key.Value
	case ItemKeyName:
		return fmt.Sprintf("WHERE lower(p.name) = lower(%s)", quoteString(key.Value))
	}
	return ""
}

func quoteString(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
