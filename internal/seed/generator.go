package seed

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

type Customer struct {
	CID   int64  `parquet:"CID"`
	Name  string `parquet:"name"`
	Phone string `parquet:"phone"`
	Email string `parquet:"email"`
}

type Order struct {
	IID             int64   `parquet:"IID"`
	CID             int64   `parquet:"CID"`
	DateIn          string  `parquet:"DATE_IN"`
	Status          string  `parquet:"status"`
	SpecialDiscount float64 `parquet:"specialdiscount"`
	DeliveryCharge  float64 `parquet:"deliverycharge"`
}

type DetailLine struct {
	ItemID           int64   `parquet:"Item_ID"`
	IID              int64   `parquet:"IID"`
	PriceTableItemID int64   `parquet:"price_table_item_id"`
	ItemCount        int64   `parquet:"item_count"`
	StandardSubtotal float64 `parquet:"standardSubtotal"`
}

type PriceItem struct {
	ItemID    int64   `parquet:"item_id"`
	Name      string  `parquet:"name"`
	BasePrice float64 `parquet:"baseprice"`
}

// Dataset holds one generated row set per table.
type Dataset struct {
	Customers []Customer
	Inventory []Order
	Detail    []DetailLine
	Pricelist []PriceItem
}

var catalog = []PriceItem{
	{ItemID: 1, Name: "Shirt", BasePrice: 3.5},
	{ItemID: 2, Name: "Silk Shirt", BasePrice: 7},
	{ItemID: 3, Name: "Suit", BasePrice: 15},
	{ItemID: 4, Name: "Dress", BasePrice: 12},
	{ItemID: 5, Name: "Trousers", BasePrice: 6},
	{ItemID: 6, Name: "Coat", BasePrice: 18},
	{ItemID: 7, Name: "Duvet", BasePrice: 25},
	{ItemID: 8, Name: "Curtains", BasePrice: 20},
	{ItemID: 9, Name: "Tie", BasePrice: 4},
	{ItemID: 10, Name: "Blouse", BasePrice: 5.5},
}

var firstNames = []string{"Ada", "Grace", "Alan", "Edsger", "Barbara", "Ken", "Margaret", "Dennis", "Frances", "Niklaus"}

var lastNames = []string{"Lovelace", "Hopper", "Turing", "Dijkstra", "Liskov", "Thompson", "Hamilton", "Ritchie", "Allen", "Wirth"}

type Generator struct {
	cfg Config
	rnd *rand.Rand
}

func NewGenerator(cfg Config) *Generator {
	return &Generator{cfg: cfg, rnd: rand.New(rand.NewSource(cfg.Seed))}
}

// Generate builds the full dataset. Every Detail row references an existing
// order and price item, and every order an existing customer.
func (g *Generator) Generate() Dataset {
	ds := Dataset{Pricelist: append([]PriceItem(nil), catalog...)}

	var nextIID, nextItemID int64 = 1, 1
	for i := 0; i < g.cfg.Customers; i++ {
		cid := g.cfg.FirstCustomerID + int64(i)
		first := pickOne(g.rnd, firstNames)
		last := pickOne(g.rnd, lastNames)
		ds.Customers = append(ds.Customers, Customer{
			CID:   cid,
			Name:  first + " " + last,
			Phone: fmt.Sprintf("555-%04d", g.rnd.Intn(10000)),
			Email: fmt.Sprintf("%s.%s.%d@example.com", strings.ToLower(first), strings.ToLower(last), cid),
		})

		orders := g.rnd.Intn(g.cfg.MaxOrders + 1)
		for o := 0; o < orders; o++ {
			order := Order{
				IID:             nextIID,
				CID:             cid,
				DateIn:          g.cfg.StartDate.AddDate(0, 0, g.rnd.Intn(g.cfg.Days)).Format(time.DateOnly),
				Status:          g.pickStatus(),
				SpecialDiscount: g.pickDiscount(),
				DeliveryCharge:  g.pickDelivery(),
			}
			nextIID++
			ds.Inventory = append(ds.Inventory, order)

			lines := g.rnd.Intn(g.cfg.MaxLinesPerOrder) + 1
			for l := 0; l < lines; l++ {
				item := catalog[g.rnd.Intn(len(catalog))]
				count := int64(g.rnd.Intn(3) + 1)
				ds.Detail = append(ds.Detail, DetailLine{
					ItemID:           nextItemID,
					IID:              order.IID,
					PriceTableItemID: item.ItemID,
					ItemCount:        count,
					StandardSubtotal: round2(item.BasePrice * float64(count)),
				})
				nextItemID++
			}
		}
	}
	return ds
}

func (g *Generator) pickStatus() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 70:
		return "done"
	case p < 90:
		return "ready"
	default:
		return "open"
	}
}

func (g *Generator) pickDiscount() float64 {
	if g.rnd.Intn(100) < 80 {
		return 0
	}
	return float64(g.rnd.Intn(5) + 1)
}

func (g *Generator) pickDelivery() float64 {
	if g.rnd.Intn(100) < 60 {
		return 0
	}
	return 5
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
