package storage

import "testing"

func TestDatasetKey(t *testing.T) {
	key, err := DatasetKey("Customer", "CSV")
	if err != nil {
		t.Fatalf("DatasetKey() error = %v", err)
	}
	if key != "Customer.csv" {
		t.Fatalf("DatasetKey() = %q", key)
	}

	key, err = DatasetKey("Pricelist", "parquet")
	if err != nil {
		t.Fatalf("DatasetKey() error = %v", err)
	}
	if key != "Pricelist.parquet" {
		t.Fatalf("DatasetKey() = %q", key)
	}
}

func TestDatasetKeyRejectsInvalidInput(t *testing.T) {
	if _, err := DatasetKey("../oops", "csv"); err == nil {
		t.Fatal("expected invalid component error")
	}
	if _, err := DatasetKey("a..b", "csv"); err == nil {
		t.Fatal("expected invalid component error")
	}
	if _, err := DatasetKey("Customer", "xlsx"); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestContentType(t *testing.T) {
	if got := ContentType("parquet"); got != "application/vnd.apache.parquet" {
		t.Fatalf("ContentType(parquet) = %q", got)
	}
	if got := ContentType("csv"); got != "text/csv" {
		t.Fatalf("ContentType(csv) = %q", got)
	}
}

func TestParseDatasetKey(t *testing.T) {
	table, format, err := ParseDatasetKey("/Pricelist.PARQUET")
	if err != nil {
		t.Fatalf("ParseDatasetKey() error = %v", err)
	}
	if table != "Pricelist" || format != "parquet" {
		t.Fatalf("ParseDatasetKey() = %q, %q", table, format)
	}

	for _, key := range []string{"", "Customer", ".csv", "notes.txt", "a/Customer.csv", "../Customer.csv", "a..b.csv"} {
		if _, _, err := ParseDatasetKey(key); err == nil {
			t.Fatalf("ParseDatasetKey(%q) expected error", key)
		}
	}
}

func TestNormalizeETag(t *testing.T) {
	for raw, want := range map[string]string{
		`"abc123"`:   "abc123",
		`W/"abc123"`: "abc123",
		" abc123 ":   "abc123",
	} {
		if got := NormalizeETag(raw); got != want {
			t.Fatalf("NormalizeETag(%q) = %q, want %q", raw, got, want)
		}
	}
}
