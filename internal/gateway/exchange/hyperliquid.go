package exchange

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/custodia/gotrade/internal/domain"
	"github.com/custodia/gotrade/pkg/ratelimit"
)

var log = logrus.WithField("component", "exchange_gateway")

type HyperliquidConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Hyperliquid talks to the exchange's info/exchange REST endpoints. Order
// placement uses the client order id (cloid) as the idempotency key. All
// requests pass through a token bucket sized under the exchange's per-IP
// request weight budget.
type Hyperliquid struct {
	cfg     HyperliquidConfig
	client  *resty.Client
	limiter *ratelimit.TokenBucket
}

func NewHyperliquid(cfg HyperliquidConfig) *Hyperliquid {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return &Hyperliquid{
		cfg:     cfg,
		client:  client,
		limiter: ratelimit.NewTokenBucket(100, 15),
	}
}

type orderAction struct {
	Type   string      `json:"type"`
	Orders []wireOrder `json:"orders"`
}

type wireOrder struct {
	Asset     string         `json:"coin"`
	IsBuy     bool           `json:"is_buy"`
	Size      string         `json:"sz"`
	LimitPx   string         `json:"limit_px,omitempty"`
	OrderType map[string]any `json:"order_type"`
	Cloid     string         `json:"cloid"`
}

type exchangeResponse struct {
	Status   string `json:"status"` // "ok" or "err"
	Response struct {
		Data struct {
			Statuses []struct {
				Resting *struct {
					Oid int64 `json:"oid"`
				} `json:"resting"`
				Filled *struct {
					Oid int64 `json:"oid"`
				} `json:"filled"`
				Error string `json:"error"`
			} `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

func (h *Hyperliquid) PlaceOrder(ctx context.Context, walletAddress string, req OrderRequest) (OrderReceipt, error) {
	var orderType map[string]any
	px := ""
	if req.Kind == domain.KindLimit {
		orderType = map[string]any{"limit": map[string]string{"tif": "Gtc"}}
		if req.Price != nil {
			px = req.Price.String()
		}
	} else {
		orderType = map[string]any{"market": map[string]string{}}
	}
	body := map[string]any{
		"action": orderAction{
			Type: "order",
			Orders: []wireOrder{{
				Asset:     req.Symbol,
				IsBuy:     req.Side == domain.SideBuy,
				Size:      req.Size.String(),
				LimitPx:   px,
				OrderType: orderType,
				Cloid:     req.ClientOrderID,
			}},
		},
		"wallet": walletAddress,
	}
	if err := h.throttle(ctx, "place_order"); err != nil {
		return OrderReceipt{}, err
	}
	var out exchangeResponse
	resp, err := h.client.R().SetContext(ctx).SetBody(body).SetResult(&out).Post("/exchange")
	if err := h.classify("place_order", resp, err); err != nil {
		return OrderReceipt{}, err
	}
	statuses := out.Response.Data.Statuses
	if out.Status != "ok" || len(statuses) == 0 {
		return OrderReceipt{}, domain.PermanentErr("place_order",
			pkgerrors.Errorf("exchange status %q", out.Status))
	}
	st := statuses[0]
	switch {
	case st.Resting != nil:
		return OrderReceipt{RemoteOrderID: oidString(st.Resting.Oid), Status: StateOpen}, nil
	case st.Filled != nil:
		return OrderReceipt{RemoteOrderID: oidString(st.Filled.Oid), Status: StateFilled}, nil
	default:
		err := pkgerrors.New(st.Error)
		if strings.Contains(strings.ToLower(st.Error), "asset") {
			err = pkgerrors.Wrap(ErrUnknownSymbol, st.Error)
		}
		return OrderReceipt{}, domain.PermanentErr("place_order", err)
	}
}

type cancelResponse struct {
	Status   string `json:"status"`
	Response struct {
		Data struct {
			Statuses []string `json:"statuses"` // "success" or error text
		} `json:"data"`
	} `json:"response"`
}

func (h *Hyperliquid) CancelOrder(ctx context.Context, walletAddress, remoteOrderID string) (OrderState, error) {
	body := map[string]any{
		"action": map[string]any{
			"type":    "cancel",
			"cancels": []map[string]any{{"oid": remoteOrderID}},
		},
		"wallet": walletAddress,
	}
	if err := h.throttle(ctx, "cancel_order"); err != nil {
		return StateUnknown, err
	}
	var out cancelResponse
	resp, err := h.client.R().SetContext(ctx).SetBody(body).SetResult(&out).Post("/exchange")
	if err := h.classify("cancel_order", resp, err); err != nil {
		return StateUnknown, err
	}
	statuses := out.Response.Data.Statuses
	if out.Status == "ok" && len(statuses) > 0 && statuses[0] == "success" {
		return StateCancelled, nil
	}
	msg := strings.ToLower(strings.Join(statuses, " "))
	// Already filled/canceled on the remote side: confirmation, not failure.
	if strings.Contains(msg, "filled") || strings.Contains(msg, "canceled") ||
		strings.Contains(msg, "never placed") {
		return StateUnknown, domain.ErrAlreadyTerminal
	}
	return StateUnknown, domain.PermanentErr("cancel_order", pkgerrors.Errorf("cancel failed: %s", msg))
}

type orderStatusResponse struct {
	Status string `json:"status"` // "order" when found
	Order  struct {
		Status string `json:"status"` // open|filled|canceled|rejected
	} `json:"order"`
}

func (h *Hyperliquid) OrderStatus(ctx context.Context, walletAddress, remoteOrderID string) (OrderState, error) {
	if err := h.throttle(ctx, "order_status"); err != nil {
		return StateUnknown, err
	}
	body := map[string]any{"type": "orderStatus", "user": walletAddress, "oid": remoteOrderID}
	var out orderStatusResponse
	resp, err := h.client.R().SetContext(ctx).SetBody(body).SetResult(&out).Post("/info")
	if err := h.classify("order_status", resp, err); err != nil {
		return StateUnknown, err
	}
	switch strings.ToLower(out.Order.Status) {
	case "open":
		return StateOpen, nil
	case "filled":
		return StateFilled, nil
	case "canceled", "cancelled", "margincanceled":
		return StateCancelled, nil
	case "rejected":
		return StateRejected, nil
	default:
		return StateUnknown, nil
	}
}

type clearinghouseState struct {
	MarginSummary struct {
		AccountValue    string `json:"accountValue"`
		TotalMarginUsed string `json:"totalMarginUsed"`
		TotalRawUsd     string `json:"totalRawUsd"`
	} `json:"marginSummary"`
	Withdrawable   string `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin          string `json:"coin"`
			Szi           string `json:"szi"`
			EntryPx       string `json:"entryPx"`
			UnrealizedPnl string `json:"unrealizedPnl"`
			MarginUsed    string `json:"marginUsed"`
		} `json:"position"`
	} `json:"assetPositions"`
}

func (h *Hyperliquid) GetAccount(ctx context.Context, walletAddress string) (Account, error) {
	if err := h.throttle(ctx, "get_account"); err != nil {
		return Account{}, err
	}
	body := map[string]any{"type": "clearinghouseState", "user": walletAddress}
	var out clearinghouseState
	resp, err := h.client.R().SetContext(ctx).SetBody(body).SetResult(&out).Post("/info")
	if err := h.classify("get_account", resp, err); err != nil {
		return Account{}, err
	}
	acct := Account{
		Value:            parseDecimal(out.MarginSummary.AccountValue),
		AvailableBalance: parseDecimal(out.Withdrawable),
		MarginUsed:       parseDecimal(out.MarginSummary.TotalMarginUsed),
	}
	for _, ap := range out.AssetPositions {
		size := parseDecimal(ap.Position.Szi)
		if size.IsZero() {
			continue
		}
		acct.Positions = append(acct.Positions, Position{
			Symbol:        ap.Position.Coin,
			Size:          size,
			EntryPrice:    parseDecimal(ap.Position.EntryPx),
			UnrealizedPnL: parseDecimal(ap.Position.UnrealizedPnl),
			MarginUsed:    parseDecimal(ap.Position.MarginUsed),
		})
	}
	return acct, nil
}

type assetCtx struct {
	MarkPx    string `json:"markPx"`
	PrevDayPx string `json:"prevDayPx"`
}

type metaUniverse struct {
	Universe []struct {
		Name string `json:"name"`
	} `json:"universe"`
}

// GetAllMarkets reads the asset universe plus per-asset contexts in one
// round trip (metaAndAssetCtxs pairs them positionally).
func (h *Hyperliquid) GetAllMarkets(ctx context.Context) ([]Market, error) {
	if err := h.throttle(ctx, "get_all_markets"); err != nil {
		return nil, err
	}
	body := map[string]any{"type": "metaAndAssetCtxs"}
	var out []any
	resp, err := h.client.R().SetContext(ctx).SetBody(body).SetResult(&out).Post("/info")
	if err := h.classify("get_all_markets", resp, err); err != nil {
		return nil, err
	}
	meta, ctxs, err := splitMetaAndCtxs(out)
	if err != nil {
		return nil, domain.PermanentErr("get_all_markets", err)
	}
	markets := make([]Market, 0, len(meta.Universe))
	for i, u := range meta.Universe {
		m := Market{Symbol: u.Name}
		if i < len(ctxs) {
			m.Price = parseDecimal(ctxs[i].MarkPx)
			prev := parseDecimal(ctxs[i].PrevDayPx)
			if !prev.IsZero() {
				m.Change24h = m.Price.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(4)
			}
		}
		markets = append(markets, m)
	}
	return markets, nil
}

func (h *Hyperliquid) GetMarket(ctx context.Context, symbol string) (Market, error) {
	markets, err := h.GetAllMarkets(ctx)
	if err != nil {
		return Market{}, err
	}
	for _, m := range markets {
		if strings.EqualFold(m.Symbol, symbol) {
			return m, nil
		}
	}
	return Market{}, domain.PermanentErr("get_market", pkgerrors.Wrap(ErrUnknownSymbol, symbol))
}

// throttle waits for rate-limit headroom. A context cancelled mid-wait is
// transient: the operation never reached the wire.
func (h *Hyperliquid) throttle(ctx context.Context, op string) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return domain.TransientErr(op, pkgerrors.Wrap(err, "rate limit wait"))
	}
	return nil
}

func (h *Hyperliquid) classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return domain.TransientErr(op, pkgerrors.Wrap(err, "exchange unreachable"))
	}
	if resp.IsSuccess() {
		return nil
	}
	code := resp.StatusCode()
	body := strings.TrimSpace(string(resp.Body()))
	if code >= 500 || code == 429 {
		return domain.TransientErr(op, pkgerrors.Errorf("status %d: %s", code, body))
	}
	return domain.PermanentErr(op, pkgerrors.Errorf("status %d: %s", code, body))
}

// splitMetaAndCtxs unpacks the two-element [meta, assetCtxs] array the info
// endpoint returns.
func splitMetaAndCtxs(raw []any) (metaUniverse, []assetCtx, error) {
	if len(raw) != 2 {
		return metaUniverse{}, nil, pkgerrors.Errorf("expected 2 elements, got %d", len(raw))
	}
	var meta metaUniverse
	var ctxs []assetCtx
	if err := remarshal(raw[0], &meta); err != nil {
		return metaUniverse{}, nil, err
	}
	if err := remarshal(raw[1], &ctxs); err != nil {
		return metaUniverse{}, nil, err
	}
	return meta, ctxs, nil
}

func remarshal(in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func oidString(oid int64) string {
	return decimal.NewFromInt(oid).String()
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
