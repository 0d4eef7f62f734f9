package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

// Config sizes the synthetic dataset. Equal configs produce identical files.
type Config struct {
	Customers        int
	MaxOrders        int
	MaxLinesPerOrder int
	Seed             int64
	StartDate        time.Time
	Days             int
	FirstCustomerID  int64
}

func DefaultConfig() Config {
	return Config{
		Customers:        50,
		MaxOrders:        6,
		MaxLinesPerOrder: 4,
		Seed:             42,
		StartDate:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Days:             240,
		FirstCustomerID:  1000001,
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyInt(lookup, "CSVQA_SEED_CUSTOMERS", &cfg.Customers); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "CSVQA_SEED_MAX_ORDERS", &cfg.MaxOrders); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "CSVQA_SEED_MAX_LINES", &cfg.MaxLinesPerOrder); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "CSVQA_SEED_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}
	if err := applyDate(lookup, "CSVQA_SEED_START_DATE", &cfg.StartDate); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "CSVQA_SEED_DAYS", &cfg.Days); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "CSVQA_SEED_FIRST_CID", &cfg.FirstCustomerID); err != nil {
		return Config{}, err
	}

	if cfg.Customers <= 0 {
		return Config{}, fmt.Errorf("CSVQA_SEED_CUSTOMERS must be > 0")
	}
	if cfg.MaxOrders <= 0 {
		return Config{}, fmt.Errorf("CSVQA_SEED_MAX_ORDERS must be > 0")
	}
	if cfg.MaxLinesPerOrder <= 0 {
		return Config{}, fmt.Errorf("CSVQA_SEED_MAX_LINES must be > 0")
	}
	if cfg.Days <= 0 {
		return Config{}, fmt.Errorf("CSVQA_SEED_DAYS must be > 0")
	}
	if cfg.FirstCustomerID <= 0 {
		return Config{}, fmt.Errorf("CSVQA_SEED_FIRST_CID must be > 0")
	}
	return cfg, nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyDate(lookup LookupFunc, key string, dst *time.Time) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
