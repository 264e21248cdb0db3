package signer

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/custodia/gotrade/internal/domain"
)

var log = logrus.WithField("component", "signer_gateway")

// PrivyConfig carries the app credentials. The authorization key signs
// wallet RPC requests on the remote side; we only forward it as a header.
type PrivyConfig struct {
	BaseURL          string
	AppID            string
	AppSecret        string
	AuthorizationKey string
	CAIP2            string // chain scope for transfers, e.g. "eip155:84532"
	Timeout          time.Duration
}

// Privy talks to the Privy server-wallet API over HTTP.
type Privy struct {
	cfg    PrivyConfig
	client *resty.Client
}

func NewPrivy(cfg PrivyConfig) *Privy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CAIP2 == "" {
		cfg.CAIP2 = "eip155:1"
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetBasicAuth(cfg.AppID, cfg.AppSecret).
		SetHeader("privy-app-id", cfg.AppID)
	return &Privy{cfg: cfg, client: client}
}

type privyWallet struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	ChainType string `json:"chain_type"`
}

func (p *Privy) CreateWallet(ctx context.Context, userID, chain, idempotencyKey string) (WalletHandle, error) {
	var out privyWallet
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", idempotencyKey).
		SetBody(map[string]string{"chain_type": chain}).
		SetResult(&out).
		Post("/v1/wallets")
	if err := p.classify("create_wallet", resp, err); err != nil {
		return WalletHandle{}, err
	}
	if out.ID == "" || out.Address == "" {
		return WalletHandle{}, domain.PermanentErr("create_wallet",
			pkgerrors.Errorf("signer returned incomplete wallet: %+v", out))
	}
	log.Infof("created remote wallet %s (%s) for user %s", out.ID, chain, userID)
	return WalletHandle{RemoteWalletID: out.ID, Address: out.Address}, nil
}

type rpcRequest struct {
	Method string         `json:"method"`
	CAIP2  string         `json:"caip2"`
	Params map[string]any `json:"params"`
}

type rpcResponse struct {
	Method string `json:"method"`
	Data   struct {
		Hash string `json:"hash"`
	} `json:"data"`
}

func (p *Privy) SignAndSend(ctx context.Context, remoteWalletID, destination string, amount decimal.Decimal, idempotencyKey string) (TransferReceipt, error) {
	body := rpcRequest{
		Method: "eth_sendTransaction",
		CAIP2:  p.cfg.CAIP2,
		Params: map[string]any{
			"transaction": map[string]any{
				"to":    destination,
				"value": weiHex(amount),
			},
		},
	}
	var out rpcResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("privy-authorization-signature", p.cfg.AuthorizationKey).
		SetHeader("Idempotency-Key", idempotencyKey).
		SetBody(body).
		SetResult(&out).
		Post("/v1/wallets/" + remoteWalletID + "/rpc")
	if err := p.classify("sign_and_send", resp, err); err != nil {
		return TransferReceipt{}, err
	}
	if out.Data.Hash == "" {
		return TransferReceipt{}, domain.PermanentErr("sign_and_send",
			pkgerrors.New("signer returned no transaction hash"))
	}
	return TransferReceipt{TxRef: out.Data.Hash}, nil
}

type receiptResponse struct {
	Data struct {
		Receipt *struct {
			Status string `json:"status"` // "0x1" success, "0x0" reverted
		} `json:"receipt"`
	} `json:"data"`
}

func (p *Privy) TransferStatus(ctx context.Context, remoteWalletID, txRef string) (TransferState, error) {
	body := rpcRequest{
		Method: "eth_getTransactionReceipt",
		CAIP2:  p.cfg.CAIP2,
		Params: map[string]any{"hash": txRef},
	}
	var out receiptResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/v1/wallets/" + remoteWalletID + "/rpc")
	if err := p.classify("transfer_status", resp, err); err != nil {
		return TransferState{}, err
	}
	if out.Data.Receipt == nil {
		// Not mined yet; still in flight.
		return TransferState{}, nil
	}
	if out.Data.Receipt.Status == "0x1" {
		return TransferState{Confirmed: true}, nil
	}
	return TransferState{Failed: true, Reason: "transaction reverted"}, nil
}

type balanceResponse struct {
	Data struct {
		Value string `json:"value"` // hex wei
	} `json:"data"`
}

func (p *Privy) GetBalance(ctx context.Context, remoteWalletID, address string) (Balance, error) {
	body := rpcRequest{
		Method: "eth_getBalance",
		CAIP2:  p.cfg.CAIP2,
		Params: map[string]any{"address": address, "block": "latest"},
	}
	var out balanceResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/v1/wallets/" + remoteWalletID + "/rpc")
	if err := p.classify("get_balance", resp, err); err != nil {
		return Balance{}, err
	}
	wei, ok := new(big.Int).SetString(strings.TrimPrefix(out.Data.Value, "0x"), 16)
	if !ok {
		return Balance{}, domain.PermanentErr("get_balance",
			pkgerrors.Errorf("unparseable balance %q", out.Data.Value))
	}
	amt := decimal.NewFromBigInt(wei, 0).Shift(-18)
	return Balance{Amount: amt, Currency: "ETH"}, nil
}

// classify maps transport and HTTP failures onto the transient/permanent
// taxonomy. Timeouts and 5xx/429 are transient (the coordinator retries);
// other non-2xx responses are permanent rejections.
func (p *Privy) classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return domain.TransientErr(op, pkgerrors.Wrap(ErrSignerUnavailable, err.Error()))
	}
	if resp.IsSuccess() {
		return nil
	}
	code := resp.StatusCode()
	body := strings.TrimSpace(string(resp.Body()))
	if code >= 500 || code == 429 {
		return domain.TransientErr(op, pkgerrors.Wrapf(ErrSignerUnavailable, "status %d: %s", code, body))
	}
	if strings.Contains(strings.ToLower(body), "insufficient funds") {
		return domain.PermanentErr(op, pkgerrors.Wrap(ErrInsufficientFunds, body))
	}
	return domain.PermanentErr(op, pkgerrors.Wrapf(ErrSignerRejected, "status %d: %s", code, body))
}

// weiHex converts a decimal ether amount to a hex wei quantity.
func weiHex(amount decimal.Decimal) string {
	return fmt.Sprintf("0x%x", amount.Shift(18).BigInt())
}
