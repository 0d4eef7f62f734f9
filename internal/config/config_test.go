package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("csvqa-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8000" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Dataset.Dir != "./data" || cfg.Dataset.Format != "csv" || !cfg.Dataset.Watch {
		t.Fatalf("Dataset = %+v", cfg.Dataset)
	}
	if cfg.Dataset.PlannerSampleRows != 2 {
		t.Fatalf("Dataset.PlannerSampleRows = %d", cfg.Dataset.PlannerSampleRows)
	}
	if !cfg.Features.UseLLMPlan || cfg.Features.UseLLMRepair || !cfg.Features.UseFAQ {
		t.Fatalf("Features = %+v", cfg.Features)
	}
	if cfg.Query.DefaultLimit != 50 || cfg.Query.MaxLimit != 1000 {
		t.Fatalf("Query = %+v", cfg.Query)
	}
	if cfg.AI.Provider != "gemini" || cfg.AI.Model != "gemini-1.5-flash" {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "*" {
		t.Fatalf("CORS.AllowedOrigins = %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.ObjectStore.Enabled || cfg.Audit.Enabled {
		t.Fatal("object store and audit should be off by default")
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("csvqa-api", mapLookup(map[string]string{"CSVQA_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Dataset.Watch {
		t.Fatal("Dataset.Watch should default to false in prod")
	}
	if !cfg.ObjectStore.UseSSL || cfg.ObjectStore.AutoCreateBucket {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.AI.RequestsPerMinute != 60 {
		t.Fatalf("AI.RequestsPerMinute = %d", cfg.AI.RequestsPerMinute)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"CSVQA_PROFILE":                     "test",
		"CSVQA_HTTP_ADDR":                   ":9999",
		"CSVQA_HTTP_READ_TIMEOUT":           "2s",
		"CSVQA_HTTP_SHUTDOWN_TIMEOUT":       "4s",
		"CSVQA_CORS_ALLOWED_ORIGINS":        "http://localhost:8081, https://app.example.com,",
		"CSVQA_LOG_LEVEL":                   "error",
		"CSVQA_SERVICE_NAME":                "csvqa-custom",
		"CSVQA_DATASET_DIR":                 "/srv/data",
		"CSVQA_DATASET_FORMAT":              "PARQUET",
		"CSVQA_DATASET_PLANNER_SAMPLE_ROWS": "3",
		"CSVQA_OBJECTSTORE_ENABLED":         "true",
		"CSVQA_OBJECTSTORE_ENDPOINT":        "s3.example.com",
		"CSVQA_OBJECTSTORE_BUCKET":          "laundry",
		"CSVQA_OBJECTSTORE_PREFIX":          "datasets/prod",
		"CSVQA_AUDIT_ENABLED":               "true",
		"CSVQA_AUDIT_DSN":                   "postgres://example",
		"CSVQA_AUDIT_MAX_OPEN_CONNS":        "7",
		"CSVQA_USE_LLM_PLAN":                "false",
		"CSVQA_USE_LLM_REPAIR":              "1",
		"CSVQA_AI_PROVIDER":                 "OpenAI",
		"CSVQA_AI_API_KEY":                  "secret-key",
		"CSVQA_AI_MODEL":                    "gpt-4o-mini",
		"CSVQA_AI_TIMEOUT":                  "21s",
		"CSVQA_AI_REQUESTS_PER_MINUTE":      "30",
		"CSVQA_QUERY_DEFAULT_LIMIT":         "25",
		"CSVQA_QUERY_MAX_LIMIT":             "200",
	})
	cfg, err := Load("csvqa-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "csvqa-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" || cfg.HTTP.ReadTimeout != 2*time.Second || cfg.HTTP.ShutdownTimeout != 4*time.Second {
		t.Fatalf("HTTP = %+v", cfg.HTTP)
	}
	if got := strings.Join(cfg.CORS.AllowedOrigins, "|"); got != "http://localhost:8081|https://app.example.com" {
		t.Fatalf("CORS.AllowedOrigins = %q", got)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Dataset.Dir != "/srv/data" || cfg.Dataset.Format != "parquet" || cfg.Dataset.PlannerSampleRows != 3 {
		t.Fatalf("Dataset = %+v", cfg.Dataset)
	}
	if !cfg.ObjectStore.Enabled || cfg.ObjectStore.Bucket != "laundry" || cfg.ObjectStore.Prefix != "datasets/prod" {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if !cfg.Audit.Enabled || cfg.Audit.DSN != "postgres://example" || cfg.Audit.MaxOpenConns != 7 {
		t.Fatalf("Audit = %+v", cfg.Audit)
	}
	if cfg.Features.UseLLMPlan || !cfg.Features.UseLLMRepair {
		t.Fatalf("Features = %+v", cfg.Features)
	}
	if cfg.AI.Provider != "openai" || cfg.AI.APIKey != "secret-key" || cfg.AI.Model != "gpt-4o-mini" {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if cfg.AI.Timeout != 21*time.Second || cfg.AI.RequestsPerMinute != 30 {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if cfg.Query.DefaultLimit != 25 || cfg.Query.MaxLimit != 200 {
		t.Fatalf("Query = %+v", cfg.Query)
	}
}

func TestLoadHonorsLegacyVariables(t *testing.T) {
	cfg, err := Load("csvqa-api", mapLookup(map[string]string{
		"DATA_DIR":          "/legacy/data",
		"USE_LLM_REPAIR":    "true",
		"USE_FAQ":           "false",
		"GOOGLE_API_KEY":    "google-key",
		"GEMINI_MODEL":      "gemini-2.0-flash",
		"FAQ_SYSTEM_PROMPT": "Be brief.",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Dataset.Dir != "/legacy/data" {
		t.Fatalf("Dataset.Dir = %q", cfg.Dataset.Dir)
	}
	if !cfg.Features.UseLLMRepair || cfg.Features.UseFAQ {
		t.Fatalf("Features = %+v", cfg.Features)
	}
	if cfg.AI.APIKey != "google-key" || cfg.AI.Model != "gemini-2.0-flash" || cfg.AI.FAQSystemPrompt != "Be brief." {
		t.Fatalf("AI = %+v", cfg.AI)
	}
}

func TestPrefixedVariablesWinOverLegacy(t *testing.T) {
	cfg, err := Load("csvqa-api", mapLookup(map[string]string{
		"DATA_DIR":          "/legacy/data",
		"CSVQA_DATASET_DIR": "/new/data",
		"GOOGLE_API_KEY":    "google-key",
		"CSVQA_AI_API_KEY":  "csvqa-key",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Dataset.Dir != "/new/data" || cfg.AI.APIKey != "csvqa-key" {
		t.Fatalf("Dataset.Dir = %q, AI.APIKey = %q", cfg.Dataset.Dir, cfg.AI.APIKey)
	}
}

func TestGoogleKeyIgnoredForOpenAI(t *testing.T) {
	cfg, err := Load("csvqa-api", mapLookup(map[string]string{
		"CSVQA_AI_PROVIDER": "openai",
		"GOOGLE_API_KEY":    "google-key",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.APIKey != "" {
		t.Fatalf("AI.APIKey = %q, want empty", cfg.AI.APIKey)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"CSVQA_PROFILE": "oops"},
		{"CSVQA_HTTP_READ_TIMEOUT": "NaN"},
		{"CSVQA_AUDIT_MAX_OPEN_CONNS": "oops"},
		{"CSVQA_USE_FAQ": "maybe"},
		{"USE_LLM_PLAN": "maybe"},
		{"CSVQA_LOG_LEVEL": "verbose"},
		{"CSVQA_DATASET_FORMAT": "xlsx"},
		{"CSVQA_AI_PROVIDER": "claude"},
		{"CSVQA_AUDIT_ENABLED": "true", "CSVQA_AUDIT_DSN": ""},
		{"CSVQA_OBJECTSTORE_ENABLED": "true", "CSVQA_OBJECTSTORE_BUCKET": ""},
		{"CSVQA_DATASET_DIR": ""},
		{"CSVQA_QUERY_DEFAULT_LIMIT": "500", "CSVQA_QUERY_MAX_LIMIT": "100"},
	}
	for _, env := range tests {
		_, err := Load("csvqa-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
