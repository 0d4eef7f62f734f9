package nl2sql

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var forbiddenKeywords = []string{
	"insert", "update", "delete", "merge", "drop", "alter",
	"create", "truncate", "attach", "detach", "pragma",
}

// clauseWords are SQL words that may legitimately precede "(" and are not
// function calls.
var clauseWords = map[string]struct{}{
	"select": {}, "from": {}, "join": {}, "where": {}, "group": {}, "order": {}, "limit": {},
	"on": {}, "as": {}, "and": {}, "or": {}, "case": {}, "when": {}, "then": {}, "else": {},
	"end": {}, "over": {}, "partition": {}, "rows": {}, "range": {}, "with": {}, "in": {},
	"exists": {}, "not": {}, "is": {}, "like": {}, "between": {}, "by": {}, "distinct": {},
	"union": {}, "all": {}, "having": {}, "filter": {}, "using": {},
}

var (
	cteNamePattern   = regexp.MustCompile(`(?i)(?:\bwith|,)\s*([A-Za-z_][A-Za-z0-9_]*)\s+as\s*\(`)
	funcCallPattern  = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	allowedTableList = sortedKeys(allowedTables)
)

// ValidationResult is built fresh for every statement and never mutated
// afterwards.
type ValidationResult struct {
	OK     bool     `json:"ok"`
	Issues []string `json:"issues"`
	Tables []string `json:"tables"`
}

// ValidateSQL is a textual allow-list check, not a parser. It is the only gate
// in front of the engine, for built, rendered and repaired SQL alike, and it
// reports every issue it finds rather than stopping at the first.
func ValidateSQL(sql string) ValidationResult {
	text := strings.TrimSpace(sql)
	lowered := strings.ToLower(text)
	issues := []string{}

	for _, keyword := range forbiddenKeywords {
		if strings.Contains(lowered, keyword) {
			issues = append(issues, "Only read-only SELECT statements are allowed.")
			break
		}
	}
	if !strings.Contains(lowered, "select") {
		issues = append(issues, "Query must contain a SELECT.")
	}
	body := strings.TrimSpace(strings.TrimSuffix(text, ";"))
	if strings.Contains(body, ";") {
		issues = append(issues, "Multiple statements are not allowed.")
	}

	ctes := cteDefinitions(text)
	refs := tableReferences(text)
	used := map[string]struct{}{}
	for _, ref := range refs.names {
		if defined, ok := ctes[ref.name]; ok && defined < ref.pos {
			continue
		}
		used[ref.name] = struct{}{}
	}
	tables := sortedKeys(used)
	if len(refs.unnamed) > 0 {
		issues = append(issues, fmt.Sprintf("Tables must be referenced by name; found %v.", refs.unnamed))
	}

	var disallowedTables []string
	for _, table := range tables {
		if _, ok := allowedTables[table]; !ok {
			disallowedTables = append(disallowedTables, table)
		}
	}
	if len(disallowedTables) > 0 {
		issues = append(issues, fmt.Sprintf("Only tables %v are allowed; found %v.", allowedTableList, disallowedTables))
	}

	funcs := map[string]struct{}{}
	for _, match := range funcCallPattern.FindAllStringSubmatch(text, -1) {
		name := strings.ToLower(match[1])
		if IsAllowedFunc(name) {
			continue
		}
		if _, ok := clauseWords[name]; ok {
			continue
		}
		if _, ok := ctes[name]; ok {
			continue
		}
		funcs[name] = struct{}{}
	}
	if len(funcs) > 0 {
		issues = append(issues, fmt.Sprintf("Disallowed functions: %v", sortedKeys(funcs)))
	}

	return ValidationResult{OK: len(issues) == 0, Issues: issues, Tables: tables}
}

// cteDefinitions maps each CTE name to the offset of its definition. A name
// only shadows a table for references that come after it.
func cteDefinitions(text string) map[string]int {
	out := map[string]int{}
	for _, match := range cteNamePattern.FindAllStringSubmatchIndex(text, -1) {
		name := strings.ToLower(text[match[2]:match[3]])
		if _, seen := out[name]; !seen {
			out[name] = match[2]
		}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
