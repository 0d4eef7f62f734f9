package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/csvqa/csvqa/internal/audit"
	"github.com/csvqa/csvqa/internal/chat"
	"github.com/csvqa/csvqa/internal/config"
	"github.com/csvqa/csvqa/internal/dataset"
	"github.com/csvqa/csvqa/internal/query"
	"github.com/csvqa/csvqa/internal/reports"
)

type fakeDataset struct {
	reloads   int
	reloadErr error
	loadedAt  time.Time
}

func (f *fakeDataset) ReloadIfChanged(context.Context) (bool, error) {
	f.reloads++
	return f.reloadErr == nil, f.reloadErr
}

func (f *fakeDataset) Files() []dataset.FileStatus {
	return []dataset.FileStatus{{Table: "Customer", Key: "Customer.csv", ETag: "abc", Size: 10}}
}

func (f *fakeDataset) LoadedAt() time.Time { return f.loadedAt }

func (f *fakeDataset) Location() string { return "file:///data" }

type fakeChat struct {
	request  chat.Request
	response chat.Response
	err      error
}

func (f *fakeChat) Answer(_ context.Context, request chat.Request) (chat.Response, error) {
	f.request = request
	return f.response, f.err
}

type fakeReports struct {
	cid    int64
	search string
	limit  int
	offset int
	err    error
}

func (f *fakeReports) Customer(_ context.Context, cid int64) (reports.CustomerReport, error) {
	f.cid = cid
	if f.err != nil {
		return reports.CustomerReport{}, f.err
	}
	return reports.CustomerReport{Summary: map[string]any{"CID": cid}, Timeseries: []map[string]any{}}, nil
}

func (f *fakeReports) Pricelist(_ context.Context, search string, limit, offset int) (reports.PricelistPage, error) {
	f.search, f.limit, f.offset = search, limit, offset
	if f.err != nil {
		return reports.PricelistPage{}, f.err
	}
	return reports.PricelistPage{Rows: []map[string]any{}, Limit: limit, Offset: offset, SQL: reports.PricelistSQL(search)}, nil
}

type fakeAudit struct {
	records []audit.Record
	limit   int
}

func (f *fakeAudit) Recent(_ context.Context, limit int) ([]audit.Record, error) {
	f.limit = limit
	return f.records, nil
}

func (f *fakeAudit) Get(_ context.Context, queryID uuid.UUID) (audit.Record, error) {
	for _, record := range f.records {
		if record.QueryID == queryID {
			return record, nil
		}
	}
	return audit.Record{}, audit.ErrNotFound
}

type fakeSchema struct{}

func (fakeSchema) Describe(context.Context) (map[string][]query.Column, error) {
	return map[string][]query.Column{"Customer": {{Name: "CID", Type: "BIGINT"}}}, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("csvqa-api", mapLookup(map[string]string{"CSVQA_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestHealthEndpointReportsDataset(t *testing.T) {
	state := &fakeDataset{loadedAt: time.Now()}
	h := NewHandler(testConfig(t), Dependencies{Dataset: state})

	rr := serve(t, h, http.MethodGet, "/v1/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	if payload["status"] != "ok" {
		t.Fatalf("payload = %#v", payload)
	}
	datasetInfo := payload["dataset"].(map[string]any)
	if datasetInfo["location"] != "file:///data" || len(datasetInfo["files"].([]any)) != 1 {
		t.Fatalf("dataset = %#v", datasetInfo)
	}
	if state.reloads != 1 {
		t.Fatalf("reloads = %d, want 1", state.reloads)
	}
}

func TestHealthEndpointDegradedOnReloadFailure(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Dataset: &fakeDataset{reloadErr: errors.New("bucket unreachable")}})

	rr := serve(t, h, http.MethodGet, "/v1/health", "")
	payload := decodeBody(t, rr)
	if rr.Code != http.StatusOK || payload["status"] != "degraded" || payload["reload_error"] != "bucket unreachable" {
		t.Fatalf("status = %d payload = %#v", rr.Code, payload)
	}
}

func TestReadyEndpointReturns503WhenDatasetNotLoaded(t *testing.T) {
	state := &fakeDataset{}
	h := NewHandler(testConfig(t), Dependencies{Readiness: CheckDatasetLoaded(state)})

	if rr := serve(t, h, http.MethodGet, "/v1/ready", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	state.loadedAt = time.Now()
	if rr := serve(t, h, http.MethodGet, "/v1/ready", ""); rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	calls := 0
	check := CombineReadinessChecks(
		func(context.Context) error {
			calls++
			return errors.New("first")
		},
		nil,
		func(context.Context) error {
			calls++
			return nil
		},
	)
	if err := check(context.Background()); err == nil || err.Error() != "first" {
		t.Fatalf("check() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	state := &fakeDataset{}
	h := NewHandler(testConfig(t), Dependencies{Dataset: state, Schema: fakeSchema{}})

	rr := serve(t, h, http.MethodGet, "/v1/schema", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"type":"BIGINT"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
	if state.reloads != 1 {
		t.Fatal("schema must refresh the dataset first")
	}
}

func TestChatEndpointPassesRequestAndRefreshes(t *testing.T) {
	state := &fakeDataset{}
	answerer := &fakeChat{response: chat.Response{Answer: "No matching rows.", Rows: []map[string]any{}, Confidence: 1, Strategy: chat.StrategyIntent}}
	h := NewHandler(testConfig(t), Dependencies{Dataset: state, Chat: answerer})

	rr := serve(t, h, http.MethodPost, "/v1/chat", `{"message":"top customers by revenue","limit":5,"offset":10}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	if answerer.request.Message != "top customers by revenue" || answerer.request.Limit != 5 || answerer.request.Offset != 10 {
		t.Fatalf("request = %#v", answerer.request)
	}
	payload := decodeBody(t, rr)
	if payload["answer"] != "No matching rows." || payload["strategy"] != "intent" {
		t.Fatalf("payload = %#v", payload)
	}
	if state.reloads != 1 {
		t.Fatal("chat must refresh the dataset first")
	}
}

func TestChatEndpointRejectsInvalidJSON(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Chat: &fakeChat{}})

	rr := serve(t, h, http.MethodPost, "/v1/chat", `{"message":`)
	if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["error_code"] != "INVALID_JSON" {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
}

func TestChatErrorMapping(t *testing.T) {
	tests := []struct {
		err       *chat.Error
		status    int
		code      string
		retryable bool
	}{
		{&chat.Error{Kind: chat.KindInputEmpty, Message: "Empty message"}, http.StatusBadRequest, "EMPTY_MESSAGE", false},
		{&chat.Error{Kind: chat.KindPlanUnavailable, Message: "Planner unavailable and no rule matched.", Issues: []string{"Try one of:"}}, http.StatusTooManyRequests, "PLAN_UNAVAILABLE", true},
		{&chat.Error{Kind: chat.KindValidationRejected, Message: "Query rejected by validator", Issues: []string{"Multiple statements are not allowed."}, SQL: "SELECT 1; SELECT 2"}, http.StatusBadRequest, "SQL_REJECTED", false},
		{&chat.Error{Kind: chat.KindExecutionFailed, Message: "Query failed", SQL: "SELECT x FROM Customer", EngineError: "Binder Error"}, http.StatusBadRequest, "QUERY_FAILED", false},
		{&chat.Error{Kind: chat.KindRepairValidationRejected, Message: "Query rejected by validator (after repair)"}, http.StatusBadRequest, "SQL_REJECTED_AFTER_REPAIR", false},
		{&chat.Error{Kind: chat.KindRepairUnavailable, Message: "Query failed and LLM repair unavailable.", EngineError: "boom"}, http.StatusTooManyRequests, "REPAIR_UNAVAILABLE", true},
		{&chat.Error{Kind: chat.KindRepairExecutionFailed, Message: "Query failed after repair", EngineError: "a", RepairEngineError: "b"}, http.StatusBadRequest, "QUERY_FAILED_AFTER_REPAIR", false},
	}
	for _, tc := range tests {
		t.Run(string(tc.err.Kind), func(t *testing.T) {
			h := NewHandler(testConfig(t), Dependencies{Chat: &fakeChat{err: tc.err}})
			rr := serve(t, h, http.MethodPost, "/v1/chat", `{"message":"x"}`)
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			payload := decodeBody(t, rr)
			if payload["error_code"] != tc.code || payload["message"] != tc.err.Message || payload["retryable"] != tc.retryable {
				t.Fatalf("payload = %#v", payload)
			}
			ctx := payload["context"].(map[string]any)
			if tc.err.SQL != "" && ctx["sql"] != tc.err.SQL {
				t.Fatalf("context.sql = %#v", ctx["sql"])
			}
			if tc.err.EngineError != "" && ctx["error"] != tc.err.EngineError {
				t.Fatalf("context.error = %#v", ctx["error"])
			}
			if tc.err.RepairEngineError != "" && ctx["repair_error"] != tc.err.RepairEngineError {
				t.Fatalf("context.repair_error = %#v", ctx["repair_error"])
			}
		})
	}
}

func TestChatEndpointDatasetNotLoaded(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Chat: &fakeChat{err: query.ErrNotLoaded}})

	rr := serve(t, h, http.MethodPost, "/v1/chat", `{"message":"top customers by revenue"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCustomerReportEndpoint(t *testing.T) {
	service := &fakeReports{}
	h := NewHandler(testConfig(t), Dependencies{Reports: service})

	rr := serve(t, h, http.MethodGet, "/v1/report/customer/1000001", "")
	if rr.Code != http.StatusOK || service.cid != 1000001 {
		t.Fatalf("status = %d cid = %d", rr.Code, service.cid)
	}
	if rr := serve(t, h, http.MethodGet, "/v1/report/customer/abc", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d for non-numeric cid", rr.Code)
	}
}

func TestPricelistEndpointClampsLimit(t *testing.T) {
	service := &fakeReports{}
	h := NewHandler(testConfig(t), Dependencies{Reports: service})

	rr := serve(t, h, http.MethodGet, "/v1/pricelist?q=shirt&limit=100000&offset=20", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	if service.search != "shirt" || service.limit != 1000 || service.offset != 20 {
		t.Fatalf("call = %#v", service)
	}
	if rr := serve(t, h, http.MethodGet, "/v1/pricelist?offset=-1", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d for negative offset", rr.Code)
	}
}

func TestPricelistEndpointEngineFailure(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Reports: &fakeReports{err: errors.New("Catalog Error")}})

	rr := serve(t, h, http.MethodGet, "/v1/pricelist", "")
	payload := decodeBody(t, rr)
	if rr.Code != http.StatusBadRequest || payload["message"] != "Failed to load pricelist" {
		t.Fatalf("status = %d payload = %#v", rr.Code, payload)
	}
}

func TestAuditEndpoints(t *testing.T) {
	record := audit.New("trace-1")
	record.Strategy = "intent"
	store := &fakeAudit{records: []audit.Record{record}}
	h := NewHandler(testConfig(t), Dependencies{Audit: store})

	rr := serve(t, h, http.MethodGet, "/v1/audit/recent?limit=5", "")
	if rr.Code != http.StatusOK || store.limit != 5 {
		t.Fatalf("status = %d limit = %d", rr.Code, store.limit)
	}
	if rr := serve(t, h, http.MethodGet, "/v1/audit/"+record.QueryID.String(), ""); rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	if rr := serve(t, h, http.MethodGet, "/v1/audit/"+uuid.NewString(), ""); rr.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rr.Code)
	}
	if rr := serve(t, h, http.MethodGet, "/v1/audit/not-a-uuid", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid id status = %d", rr.Code)
	}
}

func TestUnconfiguredDependenciesReturn501(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{})
	for _, target := range []string{"/v1/schema", "/v1/pricelist", "/v1/report/customer/1", "/v1/audit/recent"} {
		if rr := serve(t, h, http.MethodGet, target, ""); rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s status = %d", target, rr.Code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Chat: &fakeChat{}})

	req := httptest.NewRequest(http.MethodOptions, "/v1/chat", nil)
	req.Header.Set("Origin", "http://localhost:8081")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
