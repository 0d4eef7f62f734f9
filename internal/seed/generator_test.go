package seed

import (
	"reflect"
	"testing"
	"time"
)

func TestGeneratorDeterministicForSeed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Customers = 10

	first := NewGenerator(cfg).Generate()
	second := NewGenerator(cfg).Generate()
	if !reflect.DeepEqual(first, second) {
		t.Fatal("datasets differ for the same seed")
	}

	cfg.Seed = 7
	if reflect.DeepEqual(first.Inventory, NewGenerator(cfg).Generate().Inventory) {
		t.Fatal("different seeds produced identical orders")
	}
}

func TestGeneratorReferentialIntegrity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Customers = 25
	ds := NewGenerator(cfg).Generate()

	if len(ds.Customers) != 25 {
		t.Fatalf("len(Customers) = %d", len(ds.Customers))
	}
	customers := map[int64]struct{}{}
	for _, c := range ds.Customers {
		customers[c.CID] = struct{}{}
	}
	orders := map[int64]struct{}{}
	end := cfg.StartDate.AddDate(0, 0, cfg.Days)
	for _, o := range ds.Inventory {
		if _, ok := customers[o.CID]; !ok {
			t.Fatalf("order %d references unknown customer %d", o.IID, o.CID)
		}
		day, err := time.Parse(time.DateOnly, o.DateIn)
		if err != nil {
			t.Fatalf("order %d DATE_IN %q: %v", o.IID, o.DateIn, err)
		}
		if day.Before(cfg.StartDate) || !day.Before(end) {
			t.Fatalf("order %d DATE_IN %s outside window", o.IID, o.DateIn)
		}
		orders[o.IID] = struct{}{}
	}
	prices := map[int64]float64{}
	for _, p := range ds.Pricelist {
		prices[p.ItemID] = p.BasePrice
	}
	seen := map[int64]struct{}{}
	for _, d := range ds.Detail {
		if _, ok := orders[d.IID]; !ok {
			t.Fatalf("detail %d references unknown order %d", d.ItemID, d.IID)
		}
		price, ok := prices[d.PriceTableItemID]
		if !ok {
			t.Fatalf("detail %d references unknown item %d", d.ItemID, d.PriceTableItemID)
		}
		if d.StandardSubtotal != round2(price*float64(d.ItemCount)) {
			t.Fatalf("detail %d subtotal = %v", d.ItemID, d.StandardSubtotal)
		}
		if _, dup := seen[d.ItemID]; dup {
			t.Fatalf("duplicate Item_ID %d", d.ItemID)
		}
		seen[d.ItemID] = struct{}{}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(map[string]string{
		"CSVQA_SEED_CUSTOMERS":  "5",
		"CSVQA_SEED_SEED":       "99",
		"CSVQA_SEED_START_DATE": "2025-08-01",
	}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.Customers != 5 || cfg.Seed != 99 || cfg.StartDate.Format(time.DateOnly) != "2025-08-01" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.MaxOrders != 6 || cfg.FirstCustomerID != 1000001 {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
}

func TestLoadConfigFromEnvRejectsInvalid(t *testing.T) {
	for _, env := range []map[string]string{
		{"CSVQA_SEED_CUSTOMERS": "0"},
		{"CSVQA_SEED_MAX_ORDERS": "x"},
		{"CSVQA_SEED_START_DATE": "01/08/2025"},
		{"CSVQA_SEED_DAYS": "-1"},
	} {
		if _, err := LoadConfigFromEnv(mapLookup(env)); err == nil {
			t.Fatalf("expected error for %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
