package schema

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quayside/bitmexgw/errs"
)

func validOrderRequest() OrderRequest {
	return OrderRequest{
		Symbol:    "XBTUSD",
		Direction: DirectionLong,
		Type:      OrderTypeLimit,
		Price:     decimal.RequireFromString("43000"),
		Quantity:  decimal.NewFromInt(10),
	}
}

func TestOrderRequestValidate(t *testing.T) {
	if err := validOrderRequest().Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	cases := map[string]func(*OrderRequest){
		"missing symbol":    func(r *OrderRequest) { r.Symbol = "" },
		"bad type":          func(r *OrderRequest) { r.Type = OrderType("ICEBERG") },
		"net direction":     func(r *OrderRequest) { r.Direction = DirectionNet },
		"zero quantity":     func(r *OrderRequest) { r.Quantity = decimal.Zero },
		"negative quantity": func(r *OrderRequest) { r.Quantity = decimal.NewFromInt(-1) },
		"limit zero price":  func(r *OrderRequest) { r.Price = decimal.Zero },
	}
	for name, mutate := range cases {
		req := validOrderRequest()
		mutate(&req)
		err := req.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		if errs.CodeOf(err) != errs.CodeInvalid {
			t.Fatalf("%s: expected invalid_request code, got %v", name, err)
		}
	}
}

func TestMarketOrderSkipsPriceCheck(t *testing.T) {
	req := validOrderRequest()
	req.Type = OrderTypeMarket
	req.Price = decimal.Zero
	if err := req.Validate(); err != nil {
		t.Fatalf("market order with zero price rejected: %v", err)
	}
}

func TestHistoryRequestValidate(t *testing.T) {
	req := HistoryRequest{
		Symbol:   "XBTUSD",
		Interval: IntervalMinute,
		Start:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	req.Interval = Interval("1w")
	if err := req.Validate(); err == nil {
		t.Fatal("unsupported interval accepted")
	}

	req.Interval = IntervalHour
	req.Start = time.Time{}
	if err := req.Validate(); err == nil {
		t.Fatal("zero start time accepted")
	}
}

func TestCancelRequestValidate(t *testing.T) {
	if err := (CancelRequest{OrderID: "260821120000001"}).Validate(); err != nil {
		t.Fatalf("valid cancel rejected: %v", err)
	}
	if err := (CancelRequest{}).Validate(); err == nil {
		t.Fatal("empty order id accepted")
	}
}
