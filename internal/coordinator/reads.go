package coordinator

import (
	"context"

	"github.com/custodia/gotrade/internal/domain"
	"github.com/custodia/gotrade/internal/gateway/exchange"
)

func (c *Coordinator) activeWallet(walletID string) (domain.Wallet, error) {
	w, err := c.ledger.Wallets.Get(walletID)
	if err != nil {
		return domain.Wallet{}, err
	}
	if w.Status != domain.WalletActive {
		return domain.Wallet{}, domain.Validationf("wallet %s is not ACTIVE", walletID)
	}
	return w, nil
}

func (c *Coordinator) GetAccount(ctx context.Context, walletID string) (exchange.Account, error) {
	w, err := c.activeWallet(walletID)
	if err != nil {
		return exchange.Account{}, err
	}
	var acct exchange.Account
	err = c.withRetry(ctx, "exchange.get_account", func(ctx context.Context) error {
		var err error
		acct, err = c.exchange.GetAccount(ctx, w.Address)
		return err
	})
	return acct, err
}

func (c *Coordinator) GetPositions(ctx context.Context, walletID string) ([]exchange.Position, error) {
	acct, err := c.GetAccount(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return acct.Positions, nil
}

// GetMarket is a pass-through read with a short TTL cache in front; market
// prices move fast enough that anything longer would lie to the caller.
func (c *Coordinator) GetMarket(ctx context.Context, symbol string) (exchange.Market, error) {
	if m, ok := c.markets.Get(symbol); ok {
		return m, nil
	}
	var m exchange.Market
	err := c.withRetry(ctx, "exchange.get_market", func(ctx context.Context) error {
		var err error
		m, err = c.exchange.GetMarket(ctx, symbol)
		return err
	})
	if err != nil {
		return exchange.Market{}, err
	}
	c.markets.Set(symbol, m, 0)
	return m, nil
}

func (c *Coordinator) GetAllMarkets(ctx context.Context) ([]exchange.Market, error) {
	var markets []exchange.Market
	err := c.withRetry(ctx, "exchange.get_all_markets", func(ctx context.Context) error {
		var err error
		markets, err = c.exchange.GetAllMarkets(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, m := range markets {
		c.markets.Set(m.Symbol, m, 0)
	}
	return markets, nil
}
