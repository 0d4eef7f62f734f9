package migrations

import (
	"strings"
	"testing"
)

func TestAuditMigrationContainsTableAndIndexes(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000001_query_audit.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	sql := string(body)
	for _, snippet := range []string{
		"CREATE TABLE query_audit",
		"query_id      UUID PRIMARY KEY",
		"issues_json   JSONB",
		"CREATE INDEX idx_query_audit_created_at_desc",
	} {
		if !strings.Contains(sql, snippet) {
			t.Fatalf("migration missing required snippet: %s", snippet)
		}
	}
	// the user's message text is never persisted
	if strings.Contains(strings.ToLower(sql), "message") {
		t.Fatal("query_audit must not have a message column")
	}
}
