// Package exchange adapts the remote exchange. The gateway is stateless
// with respect to local entities: it maps coordinator-supplied identifiers
// (wallet address, client order id) to remote ones and back, nothing more.
package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/custodia/gotrade/internal/domain"
)

// OrderRequest carries everything the exchange needs for one placement.
// ClientOrderID is the idempotency key: re-submitting with the same id
// returns the original receipt instead of opening a second order.
type OrderRequest struct {
	Symbol        string
	Side          domain.OrderSide
	Size          decimal.Decimal
	Price         *decimal.Decimal
	Kind          domain.OrderKind
	ClientOrderID string
}

type OrderReceipt struct {
	RemoteOrderID string
	Status        OrderState
}

// OrderState is the exchange-side view of an order.
type OrderState string

const (
	StateOpen      OrderState = "open"
	StateFilled    OrderState = "filled"
	StateCancelled OrderState = "canceled"
	StateRejected  OrderState = "rejected"
	StateUnknown   OrderState = "unknown"
)

type Position struct {
	Symbol        string          `json:"symbol"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	MarginUsed    decimal.Decimal `json:"margin_used"`
}

type Account struct {
	Value            decimal.Decimal `json:"account_value"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	MarginUsed       decimal.Decimal `json:"total_margin_used"`
	Positions        []Position      `json:"positions"`
}

type Market struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change_24h"`
}

// ErrUnknownSymbol is a permanent rejection for symbols outside the
// exchange universe.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Gateway is the consumed interface of the remote exchange. Cancels on an
// order that already reached a terminal state come back as
// domain.ErrAlreadyTerminal; the coordinator treats that as confirmation.
type Gateway interface {
	PlaceOrder(ctx context.Context, walletAddress string, req OrderRequest) (OrderReceipt, error)
	CancelOrder(ctx context.Context, walletAddress, remoteOrderID string) (OrderState, error)
	OrderStatus(ctx context.Context, walletAddress, remoteOrderID string) (OrderState, error)
	GetAccount(ctx context.Context, walletAddress string) (Account, error)
	GetMarket(ctx context.Context, symbol string) (Market, error)
	GetAllMarkets(ctx context.Context) ([]Market, error)
}
