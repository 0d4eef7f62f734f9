package reports

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/csvqa/csvqa/internal/query"
)

var ErrInvalidCustomerID = errors.New("customer id must be numeric")

// orderRevenueExpr is one order's revenue net of discount plus delivery,
// summed per order so detail fan-out never multiplies order columns.
const orderRevenueExpr = `(SELECT COALESCE(SUM(d.standardSubtotal),0) FROM Detail d WHERE d.IID = i.IID) - COALESCE(i.specialdiscount,0) + COALESCE(i.deliverycharge,0)`

const maxTimeseriesDays = 3660

type CustomerReport struct {
	Summary    map[string]any   `json:"summary"`
	Timeseries []map[string]any `json:"timeseries"`
	SQL        ReportSQL        `json:"sql"`
}

type ReportSQL struct {
	Summary    string `json:"summary"`
	Timeseries string `json:"timeseries"`
}

type PricelistPage struct {
	Rows     []map[string]any `json:"rows"`
	RowCount int64            `json:"row_count"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
	SQL      string           `json:"sql"`
}

type Service struct {
	engine query.Engine
}

func NewService(engine query.Engine) *Service {
	return &Service{engine: engine}
}

func CustomerSummarySQL(cid int64) string {
	return fmt.Sprintf(`SELECT i.CID,
       COUNT(DISTINCT i.IID) AS orders,
       COALESCE(SUM((SELECT SUM(d.item_count) FROM Detail d WHERE d.IID = i.IID)),0) AS units,
       SUM(%s) AS revenue
FROM Inventory i
WHERE i.CID = %d
GROUP BY i.CID`, orderRevenueExpr, cid)
}

func CustomerTimeseriesSQL(cid int64) string {
	return fmt.Sprintf(`SELECT CAST(i.DATE_IN AS DATE) AS day,
       SUM(%s) AS revenue
FROM Inventory i
WHERE i.CID = %d
GROUP BY day
ORDER BY day`, orderRevenueExpr, cid)
}

// PricelistSQL searches item names case-insensitively; an empty search lists
// everything.
func PricelistSQL(search string) string {
	var b strings.Builder
	b.WriteString("SELECT p.item_id, p.name, p.baseprice FROM Pricelist p")
	if search = strings.TrimSpace(search); search != "" {
		fmt.Fprintf(&b, " WHERE lower(p.name) LIKE lower('%%%s%%')", strings.ReplaceAll(search, "'", "''"))
	}
	b.WriteString(" ORDER BY p.item_id")
	return b.String()
}

func ParseCustomerID(raw string) (int64, error) {
	cid, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCustomerID, raw)
	}
	return cid, nil
}

// Customer returns the order summary and the daily revenue series for one
// customer. An unknown customer yields an empty summary, not an error.
func (s *Service) Customer(ctx context.Context, cid int64) (CustomerReport, error) {
	report := CustomerReport{
		Summary:    map[string]any{},
		Timeseries: []map[string]any{},
		SQL: ReportSQL{
			Summary:    CustomerSummarySQL(cid),
			Timeseries: CustomerTimeseriesSQL(cid),
		},
	}

	summary, err := s.engine.Execute(ctx, query.Request{SQL: report.SQL.Summary, Limit: 1})
	if err != nil {
		return CustomerReport{}, fmt.Errorf("customer summary: %w", err)
	}
	if len(summary.Rows) > 0 {
		report.Summary = summary.Rows[0]
	}

	series, err := s.engine.Execute(ctx, query.Request{SQL: report.SQL.Timeseries, Limit: maxTimeseriesDays})
	if err != nil {
		return CustomerReport{}, fmt.Errorf("customer timeseries: %w", err)
	}
	if series.Rows != nil {
		report.Timeseries = series.Rows
	}
	return report, nil
}

func (s *Service) Pricelist(ctx context.Context, search string, limit, offset int) (PricelistPage, error) {
	sqlText := PricelistSQL(search)
	offset = max(offset, 0)
	result, err := s.engine.Execute(ctx, query.Request{SQL: sqlText, Limit: limit, Offset: offset})
	if err != nil {
		return PricelistPage{}, fmt.Errorf("pricelist: %w", err)
	}
	rows := result.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	return PricelistPage{
		Rows:     rows,
		RowCount: result.Total,
		Limit:    limit,
		Offset:   offset,
		SQL:      sqlText,
	}, nil
}
