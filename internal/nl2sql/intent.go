package nl2sql

import (
	"regexp"
	"strings"
)

type intentPattern struct {
	pattern *regexp.Regexp
	intent  Intent
}

// intentPatterns is evaluated first-match-wins. The patterns overlap, so the
// order is part of the contract: "orders for cid: 7 between 2025-08-01 and
// 2025-08-02" resolves to ORDERS_BY_CUSTOMER, never ORDERS_DATE_RANGE.
var intentPatterns = []intentPattern{
	{regexp.MustCompile(`(?i)\b(total|sum|revenue|sales)\b.*\b(customer|cid)\b`), IntentTotalByCustomer},
	{regexp.MustCompile(`(?i)\b(list|show|orders?)\b.*\b(customer|cid)\b`), IntentOrdersByCustomer},
	{regexp.MustCompile(`(?i)\b(price|unit price|baseprice)\b.*\b(item|sku|name|price_table_item_id|item_id)\b`), IntentPriceLookup},
	{regexp.MustCompile(`(?i)\b(top|best)\b.*\bcustomers?\b.*\b(revenue|sales)\b`), IntentTopCustomers},
	{regexp.MustCompile(`(?i)\b(popular|top)\b.*\b(items?|skus?)\b`), IntentTopItems},
	{regexp.MustCompile(`(?i)\borders?\b.*\bbetween\b.*\d{4}-\d{2}-\d{2}.*\b\d{4}-\d{2}-\d{2}`), IntentOrdersDateRange},
}

var dataHints = []string{
	"revenue", "sales", "total", "sum", "orders", "order", "price", "pricing", "item_id",
	"cid", "customer id", "between", "from", "to", "top", "by", "report", "units", "count",
}

var (
	customerIDPattern = regexp.MustCompile(`(?i)\bcid\b\s*[:=]?\s*([A-Za-z0-9_-]+)`)
	dateRangePattern  = regexp.MustCompile(`(?i)\bbetween\b\s*(\d{4}-\d{2}-\d{2})\s*(?:and|-|to)\s*(\d{4}-\d{2}-\d{2})`)
	itemIDPattern     = regexp.MustCompile(`(?i)\b(item_id|price_table_item_id)\b\s*[:=]?\s*([0-9]+)`)
	itemNamePattern   = regexp.MustCompile(`(?i)\b(?:name|sku)\b\s*[:=]?\s*([A-Za-z0-9_\-\s]+)`)
)

// InferIntent returns the first rule intent whose pattern matches msg.
func InferIntent(msg string) (Intent, bool) {
	for _, candidate := range intentPatterns {
		if candidate.pattern.MatchString(msg) {
			return candidate.intent, true
		}
	}
	return "", false
}

// IsDataLike is a plain keyword containment test. It is deliberately broad:
// anything that smells like a data question goes to the SQL pipeline.
func IsDataLike(msg string) bool {
	lowered := strings.ToLower(msg)
	for _, hint := range dataHints {
		if strings.Contains(lowered, hint) {
			return true
		}
	}
	return false
}

// ParseCustomerID extracts the token following "cid", e.g. "cid: 1000001".
func ParseCustomerID(msg string) (string, bool) {
	match := customerIDPattern.FindStringSubmatch(msg)
	if match == nil {
		return "", false
	}
	return match[1], true
}

type DateSpan struct {
	Start string
	End   string
}

// ParseDateRange extracts "between YYYY-MM-DD and|to|- YYYY-MM-DD".
func ParseDateRange(msg string) (DateSpan, bool) {
	match := dateRangePattern.FindStringSubmatch(msg)
	if match == nil {
		return DateSpan{}, false
	}
	return DateSpan{Start: match[1], End: match[2]}, true
}

type ItemKeyKind string

const (
	ItemKeyID   ItemKeyKind = "item_id"
	ItemKeyName ItemKeyKind = "name"
)

type ItemKey struct {
	Kind  ItemKeyKind
	Value string
}

// ParseItemKey tries a numeric item id first and a name/SKU token second.
func ParseItemKey(msg string) (ItemKey, bool) {
	if match := itemIDPattern.FindStringSubmatch(msg); match != nil {
		return ItemKey{Kind: ItemKeyID, Value: match[2]}, true
	}
	if match := itemNamePattern.FindStringSubmatch(msg); match != nil {
		name := strings.TrimSpace(match[1])
		if name != "" {
			return ItemKey{Kind: ItemKeyName, Value: name}, true
		}
	}
	return ItemKey{}, false
}
