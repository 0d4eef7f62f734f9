package seed

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"github.com/csvqa/csvqa/internal/nl2sql"
	"github.com/csvqa/csvqa/internal/storage"
)

// Encode renders one table of ds in the given dataset format.
func Encode(ds Dataset, table, format string) ([]byte, error) {
	switch format {
	case storage.FormatCSV:
		return encodeCSV(ds, table)
	case storage.FormatParquet:
		return encodeParquetTable(ds, table)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", format)
	}
}

// Write encodes every table and stores it under its dataset key.
func Write(ctx context.Context, store storage.ObjectStore, ds Dataset, format string) ([]storage.ObjectInfo, error) {
	out := make([]storage.ObjectInfo, 0, len(nl2sql.Tables))
	for _, table := range nl2sql.Tables {
		key, err := storage.DatasetKey(table, format)
		if err != nil {
			return out, err
		}
		data, err := Encode(ds, table, format)
		if err != nil {
			return out, fmt.Errorf("encode %s: %w", table, err)
		}
		info, err := store.Put(ctx, key, bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return out, fmt.Errorf("put %s: %w", key, err)
		}
		out = append(out, info)
	}
	return out, nil
}

func encodeCSV(ds Dataset, table string) ([]byte, error) {
	header, ok := nl2sql.Columns[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	records := [][]string{header}
	switch table {
	case nl2sql.TableCustomer:
		for _, c := range ds.Customers {
			records = append(records, []string{formatInt(c.CID), c.Name, c.Phone, c.Email})
		}
	case nl2sql.TableInventory:
		for _, o := range ds.Inventory {
			records = append(records, []string{
				formatInt(o.IID), formatInt(o.CID), o.DateIn, o.Status,
				formatFloat(o.SpecialDiscount), formatFloat(o.DeliveryCharge),
			})
		}
	case nl2sql.TableDetail:
		for _, d := range ds.Detail {
			records = append(records, []string{
				formatInt(d.ItemID), formatInt(d.IID), formatInt(d.PriceTableItemID),
				formatInt(d.ItemCount), formatFloat(d.StandardSubtotal),
			})
		}
	case nl2sql.TablePricelist:
		for _, p := range ds.Pricelist {
			records = append(records, []string{formatInt(p.ItemID), p.Name, formatFloat(p.BasePrice)})
		}
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.WriteAll(records); err != nil {
		return nil, fmt.Errorf("write csv rows: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeParquetTable(ds Dataset, table string) ([]byte, error) {
	switch table {
	case nl2sql.TableCustomer:
		return encodeParquet(ds.Customers)
	case nl2sql.TableInventory:
		return encodeParquet(ds.Inventory)
	case nl2sql.TableDetail:
		return encodeParquet(ds.Detail)
	case nl2sql.TablePricelist:
		return encodeParquet(ds.Pricelist)
	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}
}

func encodeParquet[T any](rows []T) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
