package coordinator

import (
	"context"
	"time"

	"github.com/custodia/gotrade/internal/domain"
	"github.com/custodia/gotrade/internal/gateway/exchange"
)

// ReconcileOrder pulls the exchange's view of one OPEN intent and applies it
// through the OPEN->terminal CAS. The remote system is authoritative for
// terminal status; a lost CAS race just means another path already applied
// the same authority.
func (c *Coordinator) ReconcileOrder(ctx context.Context, orderID string) error {
	o, err := c.ledger.Orders.Get(orderID)
	if err != nil {
		return err
	}
	if o.Status != domain.OrderOpen || o.RemoteOrderID == "" {
		return nil
	}
	w, err := c.ledger.Wallets.Get(o.WalletID)
	if err != nil {
		return err
	}
	var state exchange.OrderState
	err = c.withRetry(ctx, "exchange.order_status", func(ctx context.Context) error {
		var err error
		state, err = c.exchange.OrderStatus(ctx, w.Address, o.RemoteOrderID)
		return err
	})
	if err != nil {
		return err
	}
	return c.applyRemoteState(o.ID, state)
}

func (c *Coordinator) applyRemoteState(orderID string, state exchange.OrderState) error {
	var next domain.OrderStatus
	switch state {
	case exchange.StateFilled:
		next = domain.OrderFilled
	case exchange.StateCancelled:
		next = domain.OrderCancelled
	case exchange.StateRejected:
		next = domain.OrderRejected
	default:
		return nil // still open or unknown; nothing to settle
	}
	_, err := c.settleOpenOrder(orderID, next, "")
	return err
}

// HandleOrderUpdate is the exchange user-stream callback. It maps the remote
// order id back to a local intent and settles it immediately instead of
// waiting for the next poll tick.
func (c *Coordinator) HandleOrderUpdate(remoteOrderID string, state exchange.OrderState) {
	matches, err := c.ledger.Orders.List(func(o domain.OrderIntent) bool {
		return o.RemoteOrderID == remoteOrderID && o.Status == domain.OrderOpen
	})
	if err != nil {
		log.Warnf("order update %s: list: %v", remoteOrderID, err)
		return
	}
	for _, o := range matches {
		if err := c.applyRemoteState(o.ID, state); err != nil {
			log.Warnf("order update %s: settle %s: %v", remoteOrderID, o.ID, err)
		}
	}
}

// RunReconciler drives the background reconciliation loops until ctx is
// done: OPEN orders against the exchange, SUBMITTED transfers against the
// signer, and records a foreground attempt abandoned after its retry budget
// ran out. The kick channel forces an early sweep right after such an
// abandonment instead of waiting out a full tick.
func (c *Coordinator) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.reconcileSweep(ctx)
		case <-c.kick.C():
			c.reconcileSweep(ctx)
		}
	}
}

func (c *Coordinator) reconcileSweep(ctx context.Context) {
	open, err := c.ledger.Orders.List(func(o domain.OrderIntent) bool {
		return o.Status == domain.OrderOpen
	})
	if err != nil {
		log.Warnf("reconcile sweep: list orders: %v", err)
	}
	for _, o := range open {
		if ctx.Err() != nil {
			return
		}
		if err := c.ReconcileOrder(ctx, o.ID); err != nil {
			log.Warnf("reconcile order %s: %v", o.ID, err)
		}
	}

	submitted, err := c.ledger.Transfers.List(func(t domain.TransferIntent) bool {
		return t.Status == domain.TransferSubmitted
	})
	if err != nil {
		log.Warnf("reconcile sweep: list transfers: %v", err)
	}
	for _, t := range submitted {
		if ctx.Err() != nil {
			return
		}
		if err := c.ReconcileTransfer(ctx, t.ID); err != nil {
			log.Warnf("reconcile transfer %s: %v", t.ID, err)
		}
	}

	c.resumeAbandoned(ctx)
}

// resumeAbandoned re-drives non-settled records whose foreground attempt
// gave up on a transient gateway failure. Only records carrying a LastError
// annotation qualify: a clean PENDING or PROVISIONING record belongs to an
// attempt that is still in flight.
func (c *Coordinator) resumeAbandoned(ctx context.Context) {
	wallets, err := c.ledger.Wallets.List(func(w domain.Wallet) bool {
		return w.Status == domain.WalletProvisioning && w.LastError != ""
	})
	if err != nil {
		log.Warnf("resume sweep: list wallets: %v", err)
	}
	for _, w := range wallets {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.resumeProvisioning(ctx, w); err != nil {
			log.Warnf("resume wallet %s: %v", w.ID, err)
		}
	}

	orders, err := c.ledger.Orders.List(func(o domain.OrderIntent) bool {
		return o.Status == domain.OrderPending && o.LastError != ""
	})
	if err != nil {
		log.Warnf("resume sweep: list orders: %v", err)
	}
	for _, o := range orders {
		if ctx.Err() != nil {
			return
		}
		w, gerr := c.ledger.Wallets.Get(o.WalletID)
		if gerr != nil {
			log.Warnf("resume order %s: wallet: %v", o.ID, gerr)
			continue
		}
		if _, err := c.resumeOrder(ctx, w, o); err != nil {
			log.Warnf("resume order %s: %v", o.ID, err)
		}
	}

	transfers, err := c.ledger.Transfers.List(func(t domain.TransferIntent) bool {
		return t.Status == domain.TransferPending && t.LastError != ""
	})
	if err != nil {
		log.Warnf("resume sweep: list transfers: %v", err)
	}
	for _, t := range transfers {
		if ctx.Err() != nil {
			return
		}
		w, gerr := c.ledger.Wallets.Get(t.WalletID)
		if gerr != nil {
			log.Warnf("resume transfer %s: wallet: %v", t.ID, gerr)
			continue
		}
		if _, err := c.resumeTransfer(ctx, w, t); err != nil {
			log.Warnf("resume transfer %s: %v", t.ID, err)
		}
	}
}
