package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is implemented by every entity the ledger persists.
// RecordStatus returns "" for entities without a lifecycle status.
type Record interface {
	RecordID() string
	RecordStatus() string
}

// WalletStatus only ever reflects confirmed outcomes: PROVISIONING until the
// remote wallet is known to exist, then ACTIVE or FAILED.
type WalletStatus string

const (
	WalletProvisioning WalletStatus = "PROVISIONING"
	WalletActive       WalletStatus = "ACTIVE"
	WalletFailed       WalletStatus = "FAILED"
)

// TransferStatus transitions are monotonic: PENDING -> SUBMITTED -> CONFIRMED,
// or PENDING -> FAILED. Never back.
type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferSubmitted TransferStatus = "SUBMITTED"
	TransferConfirmed TransferStatus = "CONFIRMED"
	TransferFailed    TransferStatus = "FAILED"
)

func (s TransferStatus) Terminal() bool {
	return s == TransferConfirmed || s == TransferFailed
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderOpen      OrderStatus = "OPEN"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
)

// Terminal statuses are final: no CAS may move an intent out of them.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderKind string

const (
	KindLimit  OrderKind = "LIMIT"
	KindMarket OrderKind = "MARKET"
)

// User identifiers are externally assigned. Immutable once created except Email.
type User struct {
	ID        string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (u User) RecordID() string     { return u.ID }
func (u User) RecordStatus() string { return "" }

// Wallet never stores key material; the address and the remote wallet id
// come back from the custodial signer and are immutable once ACTIVE.
type Wallet struct {
	ID             string       `json:"wallet_id"`
	UserID         string       `json:"user_id"`
	Chain          string       `json:"chain_type"`
	Address        string       `json:"address,omitempty"`
	RemoteWalletID string       `json:"remote_wallet_id,omitempty"`
	Status         WalletStatus `json:"status"`
	LastError      string       `json:"last_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (w Wallet) RecordID() string     { return w.ID }
func (w Wallet) RecordStatus() string { return string(w.Status) }

// TransferIntent's ID doubles as the idempotency key sent to the signer,
// so a retried signAndSend can never double-spend.
type TransferIntent struct {
	ID          string          `json:"transfer_id"`
	WalletID    string          `json:"wallet_id"`
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Status      TransferStatus  `json:"status"`
	TxRef       string          `json:"tx_ref,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (t TransferIntent) RecordID() string     { return t.ID }
func (t TransferIntent) RecordStatus() string { return string(t.Status) }

// OrderIntent's ID doubles as the idempotency key sent to the exchange.
// OPEN requires a non-empty RemoteOrderID.
type OrderIntent struct {
	ID            string           `json:"order_id"`
	WalletID      string           `json:"wallet_id"`
	Symbol        string           `json:"symbol"`
	Side          OrderSide        `json:"side"`
	Size          decimal.Decimal  `json:"size"`
	Price         *decimal.Decimal `json:"price,omitempty"` // nil for market orders
	Kind          OrderKind        `json:"order_type"`
	Status        OrderStatus      `json:"status"`
	RemoteOrderID string           `json:"remote_order_id,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (o OrderIntent) RecordID() string     { return o.ID }
func (o OrderIntent) RecordStatus() string { return string(o.Status) }
