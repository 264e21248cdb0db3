package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/custodia/gotrade/internal/domain"
)

func newTestHyperliquid(t *testing.T, handler http.HandlerFunc) *Hyperliquid {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewHyperliquid(HyperliquidConfig{BaseURL: srv.URL})
}

func limitReq(cloid string) OrderRequest {
	price := decimal.NewFromInt(50000)
	return OrderRequest{
		Symbol:        "BTC",
		Side:          domain.SideBuy,
		Size:          decimal.NewFromFloat(0.1),
		Price:         &price,
		Kind:          domain.KindLimit,
		ClientOrderID: cloid,
	}
}

func TestPlaceOrderResting(t *testing.T) {
	var gotBody map[string]any
	h := newTestHyperliquid(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/exchange" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"response": map[string]any{
				"data": map[string]any{
					"statuses": []map[string]any{{"resting": map[string]any{"oid": 7001}}},
				},
			},
		})
	})

	r, err := h.PlaceOrder(context.Background(), "0xwallet", limitReq("cloid-1"))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if r.RemoteOrderID != "7001" || r.Status != StateOpen {
		t.Errorf("receipt = %+v", r)
	}

	if gotBody["wallet"] != "0xwallet" {
		t.Errorf("wallet = %v", gotBody["wallet"])
	}
	action := gotBody["action"].(map[string]any)
	orders := action["orders"].([]any)
	order := orders[0].(map[string]any)
	if order["cloid"] != "cloid-1" {
		t.Errorf("cloid = %v", order["cloid"])
	}
	if order["coin"] != "BTC" || order["is_buy"] != true || order["sz"] != "0.1" {
		t.Errorf("wire order = %v", order)
	}
}

func TestPlaceOrderImmediateFill(t *testing.T) {
	h := newTestHyperliquid(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"response": map[string]any{
				"data": map[string]any{
					"statuses": []map[string]any{{"filled": map[string]any{"oid": 7002}}},
				},
			},
		})
	})
	r, err := h.PlaceOrder(context.Background(), "0xwallet", OrderRequest{
		Symbol: "ETH", Side: domain.SideSell,
		Size: decimal.NewFromInt(1), Kind: domain.KindMarket, ClientOrderID: "cloid-2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.RemoteOrderID != "7002" || r.Status != StateFilled {
		t.Errorf("receipt = %+v", r)
	}
}

func TestPlaceOrderUnknownAsset(t *testing.T) {
	h := newTestHyperliquid(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"response": map[string]any{
				"data": map[string]any{
					"statuses": []map[string]any{{"error": "Asset not found"}},
				},
			},
		})
	})
	_, err := h.PlaceOrder(context.Background(), "0xwallet", limitReq("cloid-3"))
	if !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("err = %v, want ErrUnknownSymbol", err)
	}
	if domain.IsTransient(err) {
		t.Error("unknown asset must be permanent")
	}
}

func TestPlaceOrderServerErrorIsTransient(t *testing.T) {
	h := newTestHyperliquid(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	_, err := h.PlaceOrder(context.Background(), "0xwallet", limitReq("cloid-4"))
	if !domain.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestCancelOrder(t *testing.T) {
	statuses := []string{"success"}
	h := newTestHyperliquid(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"response": map[string]any{
				"data": map[string]any{"statuses": statuses},
			},
		})
	})

	st, err := h.CancelOrder(context.Background(), "0xwallet", "7001")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if st != StateCancelled {
		t.Errorf("state = %s", st)
	}

	statuses = []string{"Order was already canceled"}
	_, err = h.CancelOrder(context.Background(), "0xwallet", "7001")
	if !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Fatalf("err = %v, want AlreadyTerminal", err)
	}

	statuses = []string{"Order was filled"}
	_, err = h.CancelOrder(context.Background(), "0xwallet", "7001")
	if !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Fatalf("err = %v, want AlreadyTerminal", err)
	}
}

func TestOrderStatusMapping(t *testing.T) {
	remote := "open"
	h := newTestHyperliquid(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "order",
			"order":  map[string]string{"status": remote},
		})
	})

	cases := map[string]OrderState{
		"open":           StateOpen,
		"filled":         StateFilled,
		"canceled":       StateCancelled,
		"marginCanceled": StateCancelled,
		"rejected":       StateRejected,
		"weird":          StateUnknown,
	}
	for in, want := range cases {
		remote = in
		got, err := h.OrderStatus(context.Background(), "0xwallet", "7001")
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got != want {
			t.Errorf("status %q mapped to %s, want %s", in, got, want)
		}
	}
}

func TestGetAccount(t *testing.T) {
	h := newTestHyperliquid(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"marginSummary": map[string]string{
				"accountValue":    "1250.5",
				"totalMarginUsed": "200",
			},
			"withdrawable": "1050.5",
			"assetPositions": []map[string]any{
				{"position": map[string]string{
					"coin": "BTC", "szi": "0.5", "entryPx": "48000",
					"unrealizedPnl": "12.5", "marginUsed": "200",
				}},
				{"position": map[string]string{"coin": "ETH", "szi": "0"}},
			},
		})
	})

	acct, err := h.GetAccount(context.Background(), "0xwallet")
	if err != nil {
		t.Fatal(err)
	}
	if !acct.Value.Equal(decimal.NewFromFloat(1250.5)) {
		t.Errorf("value = %s", acct.Value)
	}
	if !acct.AvailableBalance.Equal(decimal.NewFromFloat(1050.5)) {
		t.Errorf("available = %s", acct.AvailableBalance)
	}
	// Zero-size positions are dropped.
	if len(acct.Positions) != 1 || acct.Positions[0].Symbol != "BTC" {
		t.Errorf("positions = %+v", acct.Positions)
	}
}

func TestGetAllMarkets(t *testing.T) {
	h := newTestHyperliquid(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]any{
			map[string]any{"universe": []map[string]string{{"name": "BTC"}, {"name": "ETH"}}},
			[]map[string]string{
				{"markPx": "50000", "prevDayPx": "40000"},
				{"markPx": "3000", "prevDayPx": "3000"},
			},
		})
	})

	markets, err := h.GetAllMarkets(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(markets) != 2 {
		t.Fatalf("markets = %d", len(markets))
	}
	if markets[0].Symbol != "BTC" || !markets[0].Price.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("btc = %+v", markets[0])
	}
	if !markets[0].Change24h.Equal(decimal.NewFromInt(25)) {
		t.Errorf("btc change = %s, want 25", markets[0].Change24h)
	}
	if !markets[1].Change24h.IsZero() {
		t.Errorf("eth change = %s, want 0", markets[1].Change24h)
	}
}

func TestGetMarketUnknownSymbol(t *testing.T) {
	h := newTestHyperliquid(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]any{
			map[string]any{"universe": []map[string]string{{"name": "BTC"}}},
			[]map[string]string{{"markPx": "50000", "prevDayPx": "50000"}},
		})
	})
	if _, err := h.GetMarket(context.Background(), "DOGE"); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("err = %v, want ErrUnknownSymbol", err)
	}
	m, err := h.GetMarket(context.Background(), "btc")
	if err != nil {
		t.Fatalf("case-insensitive lookup: %v", err)
	}
	if m.Symbol != "BTC" {
		t.Errorf("symbol = %q", m.Symbol)
	}
}
