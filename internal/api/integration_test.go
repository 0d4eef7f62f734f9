//go:build integration

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	auditpostgres "github.com/csvqa/csvqa/internal/audit/postgres"
	"github.com/csvqa/csvqa/internal/chat"
	"github.com/csvqa/csvqa/internal/config"
	"github.com/csvqa/csvqa/internal/dataset"
	"github.com/csvqa/csvqa/internal/migrations"
	"github.com/csvqa/csvqa/internal/query/duckdb"
	"github.com/csvqa/csvqa/internal/reports"
	"github.com/csvqa/csvqa/internal/storage/local"
)

var integrationTables = map[string]string{
	"Customer.csv":  "CID,name,phone,email\n1000001,Ada,555-0100,ada@example.com\n",
	"Inventory.csv": "IID,CID,DATE_IN,status,specialdiscount,deliverycharge\n1,1000001,2025-08-01,done,0,5\n",
	"Detail.csv":    "Item_ID,IID,price_table_item_id,item_count,standardSubtotal\n10,1,1,2,20\n",
	"Pricelist.csv": "item_id,name,baseprice\n1,Shirt,10\n",
}

func TestChatAuditedEndToEnd(t *testing.T) {
	dsn := os.Getenv("CSVQA_TEST_AUDIT_DSN")
	if dsn == "" {
		t.Skip("CSVQA_TEST_AUDIT_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	db, err := auditpostgres.Open(ctx, auditpostgres.DBConfig{DSN: dsn, MaxOpenConns: 4, MaxIdleConns: 2})
	if err != nil {
		t.Fatalf("open audit db: %v", err)
	}
	defer func() { _ = db.Close() }()
	if _, err := migrations.NewRunner().Up(ctx, db, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	repo := auditpostgres.NewRepository(db)

	dir := t.TempDir()
	for name, body := range integrationTables {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	store, err := local.New(dir)
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := duckdb.NewEngine()
	defer func() { _ = engine.Close() }()
	manager := dataset.NewManager(store, engine, "csv", logger)
	if err := manager.Load(ctx); err != nil {
		t.Fatalf("dataset load: %v", err)
	}

	cfg, err := config.Load("csvqa-api", mapLookup(map[string]string{"CSVQA_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	service := chat.NewService(chat.Dependencies{
		Engine:    engine,
		Previewer: engine,
		Audit:     repo,
		Logger:    logger,
	}, chat.Options{})
	h := NewHandler(cfg, Dependencies{
		Logger:    logger,
		Readiness: CombineReadinessChecks(CheckDatasetLoaded(manager), repo.HealthCheck),
		Dataset:   manager,
		Schema:    engine,
		Chat:      service,
		Reports:   reports.NewService(engine),
		Audit:     repo,
	})

	if rr := serve(t, h, http.MethodGet, "/v1/ready", ""); rr.Code != http.StatusOK {
		t.Fatalf("ready status = %d body = %s", rr.Code, rr.Body.String())
	}

	body, _ := json.Marshal(map[string]any{"message": "total revenue for cid: 1000001"})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	req.Header.Set("X-Trace-ID", "integration-trace")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("chat status = %d body = %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, h, http.MethodGet, "/v1/audit/recent?limit=20", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("audit status = %d", rr.Code)
	}
	var payload struct {
		Records []struct {
			QueryID string `json:"query_id"`
			TraceID string `json:"trace_id"`
			State   string `json:"state"`
		} `json:"records"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	found := ""
	for _, record := range payload.Records {
		if record.TraceID == "integration-trace" {
			found = record.QueryID
			if record.State != string(chat.StateResponded) {
				t.Fatalf("state = %q", record.State)
			}
		}
	}
	if found == "" {
		t.Fatalf("audit record for trace not found in %s", rr.Body.String())
	}
	if rr := serve(t, h, http.MethodGet, "/v1/audit/"+found, ""); rr.Code != http.StatusOK {
		t.Fatalf("audit get status = %d", rr.Code)
	}
}
