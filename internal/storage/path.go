package storage

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// DatasetKey is the object key of one table's file, e.g. "Customer.csv".
func DatasetKey(tableName, format string) (string, error) {
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case FormatCSV, FormatParquet:
	default:
		return "", fmt.Errorf("unsupported dataset format %q", format)
	}
	return tableName + "." + format, nil
}

// ParseDatasetKey splits a dataset key such as "Customer.csv" into its table
// name and format. Nested paths and unsupported formats are rejected.
func ParseDatasetKey(key string) (table, format string, err error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if strings.Contains(key, "/") {
		return "", "", fmt.Errorf("invalid dataset key %q: nested paths are not allowed", key)
	}
	dot := strings.LastIndex(key, ".")
	if dot <= 0 {
		return "", "", fmt.Errorf("invalid dataset key %q: missing format suffix", key)
	}
	table, format = key[:dot], strings.ToLower(key[dot+1:])
	if _, err := DatasetKey(table, format); err != nil {
		return "", "", fmt.Errorf("invalid dataset key %q: %w", key, err)
	}
	return table, format, nil
}

// ContentType returns the MIME type used when uploading a dataset file.
func ContentType(format string) string {
	if strings.EqualFold(format, FormatParquet) {
		return "application/vnd.apache.parquet"
	}
	return "text/csv"
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) || strings.Contains(value, "..") {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
