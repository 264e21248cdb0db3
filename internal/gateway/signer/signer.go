// Package signer adapts the remote custodial signing service. Wallets and
// raw key material live entirely on the remote side; this gateway only
// translates between local identifiers and remote ones.
package signer

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// WalletHandle is what the remote service hands back for a freshly
// provisioned wallet.
type WalletHandle struct {
	RemoteWalletID string
	Address        string
}

type TransferReceipt struct {
	TxRef string
}

// TransferState is the reconciliation read for a submitted transfer.
type TransferState struct {
	Confirmed bool
	Failed    bool
	Reason    string
}

type Balance struct {
	Amount   decimal.Decimal
	Currency string
}

// Remote failure modes. Implementations wrap these in a classified
// domain.GatewayError; the sentinels stay matchable with errors.Is.
var (
	ErrSignerUnavailable = errors.New("signer unavailable")
	ErrSignerRejected    = errors.New("signer rejected request")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Gateway is the consumed interface of the custodial signer.
//
// Both mutating calls are idempotent under idempotencyKey: repeating a call
// with the same key returns the original wallet/receipt instead of creating
// a second remote wallet or double-spending.
type Gateway interface {
	CreateWallet(ctx context.Context, userID, chain, idempotencyKey string) (WalletHandle, error)
	SignAndSend(ctx context.Context, remoteWalletID, destination string, amount decimal.Decimal, idempotencyKey string) (TransferReceipt, error)
	TransferStatus(ctx context.Context, remoteWalletID, txRef string) (TransferState, error)
	GetBalance(ctx context.Context, remoteWalletID, address string) (Balance, error)
}
