package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/custodia/gotrade/internal/domain"
	"github.com/custodia/gotrade/internal/gateway/exchange"
)

// PlaceOrderRequest is the inbound placement shape after transport-level
// validation. Price must be nil for market orders.
type PlaceOrderRequest struct {
	WalletID string
	Symbol   string
	Side     domain.OrderSide
	Size     decimal.Decimal
	Price    *decimal.Decimal
	Kind     domain.OrderKind
	OpKey    string
}

// PlaceOrder runs the order placement protocol: create the intent PENDING,
// submit with the intent id as the client order id, CAS PENDING->OPEN on
// acceptance or PENDING->REJECTED on permanent rejection.
func (c *Coordinator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (domain.OrderIntent, error) {
	w, err := c.ledger.Wallets.Get(req.WalletID)
	if err != nil {
		return domain.OrderIntent{}, err
	}
	if w.Status != domain.WalletActive {
		return domain.OrderIntent{}, domain.Validationf("wallet %s is not ACTIVE", req.WalletID)
	}
	if err := domain.ValidateOrder(req.Symbol, req.Size, req.Price, req.Kind); err != nil {
		return domain.OrderIntent{}, err
	}

	if req.OpKey != "" {
		o, err := c.ledger.Orders.Get(req.OpKey)
		switch {
		case err == nil:
			if o.WalletID != req.WalletID {
				return domain.OrderIntent{}, domain.Validationf("operation key %s already used for another order", req.OpKey)
			}
			return c.resumeOrder(ctx, w, o)
		case !errors.Is(err, domain.ErrNotFound):
			return domain.OrderIntent{}, err
		}
	}

	id := req.OpKey
	if id == "" {
		id = uuid.NewString()
	}
	now := c.now()
	o := domain.OrderIntent{
		ID:        id,
		WalletID:  req.WalletID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Size:      req.Size,
		Price:     req.Price,
		Kind:      req.Kind,
		Status:    domain.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.ledger.Orders.Create(o); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			if cur, gerr := c.ledger.Orders.Get(id); gerr == nil {
				return c.resumeOrder(ctx, w, cur)
			}
		}
		return domain.OrderIntent{}, err
	}
	return c.resumeOrder(ctx, w, o)
}

func (c *Coordinator) resumeOrder(ctx context.Context, w domain.Wallet, o domain.OrderIntent) (domain.OrderIntent, error) {
	if o.Status != domain.OrderPending {
		return o, nil
	}

	var receipt exchange.OrderReceipt
	err := c.withRetry(ctx, "exchange.place_order", func(ctx context.Context) error {
		var err error
		receipt, err = c.exchange.PlaceOrder(ctx, w.Address, exchange.OrderRequest{
			Symbol:        o.Symbol,
			Side:          o.Side,
			Size:          o.Size,
			Price:         o.Price,
			Kind:          o.Kind,
			ClientOrderID: o.ID,
		})
		return err
	})
	if err != nil {
		if domain.IsTransient(err) {
			reason := domain.GatewayReason(err)
			if cur, aerr := c.ledger.Orders.Annotate(o.ID, string(domain.OrderPending), func(v *domain.OrderIntent) {
				v.LastError = reason
				v.UpdatedAt = c.now()
			}); aerr == nil {
				o = cur
			}
			c.kick.Emit()
			return o, fmt.Errorf("%w: %s", domain.ErrOperationPending, reason)
		}
		reason := domain.GatewayReason(err)
		rejected, cerr := c.ledger.Orders.UpdateStatus(o.ID,
			string(domain.OrderPending), string(domain.OrderRejected),
			func(v *domain.OrderIntent) {
				v.Status = domain.OrderRejected
				v.LastError = reason
				v.UpdatedAt = c.now()
			})
		if errors.Is(cerr, domain.ErrStaleState) {
			return c.ledger.Orders.Get(o.ID)
		}
		if cerr != nil {
			return domain.OrderIntent{}, cerr
		}
		c.recordOrder(rejected)
		return rejected, nil
	}

	open, cerr := c.ledger.Orders.UpdateStatus(o.ID,
		string(domain.OrderPending), string(domain.OrderOpen),
		func(v *domain.OrderIntent) {
			v.Status = domain.OrderOpen
			v.RemoteOrderID = receipt.RemoteOrderID
			v.LastError = ""
			v.UpdatedAt = c.now()
		})
	if errors.Is(cerr, domain.ErrStaleState) {
		// Someone settled the intent while our remote call was in flight.
		cur, gerr := c.ledger.Orders.Get(o.ID)
		if gerr != nil {
			return domain.OrderIntent{}, gerr
		}
		if cur.Status == domain.OrderCancelled && cur.RemoteOrderID == "" {
			// A cancel won the CAS before the acceptance landed locally.
			// The remote order exists, so compensate; remote stays
			// authoritative if the cancel loses there too.
			c.compensateCancel(ctx, w, cur, receipt.RemoteOrderID)
			return c.ledger.Orders.Get(o.ID)
		}
		return cur, nil
	}
	if cerr != nil {
		return domain.OrderIntent{}, cerr
	}
	log.Infof("order %s open on %s: %s %s %s", open.ID, open.Symbol, open.Side, open.Size, open.RemoteOrderID)
	c.recordOrder(open)

	if receipt.Status == exchange.StateFilled {
		// Immediate fill (market order). Acceptance and fill are two CAS
		// steps so OPEN always carries the remote reference.
		return c.settleOpenOrder(open.ID, domain.OrderFilled, "")
	}
	return open, nil
}

// compensateCancel sends a best-effort remote cancel for an order whose
// local intent was cancelled before the acceptance CAS could land. It also
// backfills the remote reference so later reconciliation can see the order.
func (c *Coordinator) compensateCancel(ctx context.Context, w domain.Wallet, o domain.OrderIntent, remoteOrderID string) {
	if _, err := c.ledger.Orders.Annotate(o.ID, string(domain.OrderCancelled), func(v *domain.OrderIntent) {
		v.RemoteOrderID = remoteOrderID
		v.UpdatedAt = c.now()
	}); err != nil && !errors.Is(err, domain.ErrStaleState) {
		log.Warnf("order %s: backfill remote ref: %v", o.ID, err)
	}
	err := c.withRetry(ctx, "exchange.cancel_order", func(ctx context.Context) error {
		_, err := c.exchange.CancelOrder(ctx, w.Address, remoteOrderID)
		return err
	})
	if err != nil && !errors.Is(err, domain.ErrAlreadyTerminal) {
		log.Warnf("order %s: compensating cancel of %s failed: %v", o.ID, remoteOrderID, err)
	}
}

// CancelOrder runs the cancellation protocol. Terminal intents return
// domain.ErrAlreadyTerminal beside the current record: an idempotent no-op,
// not a failure.
func (c *Coordinator) CancelOrder(ctx context.Context, walletID, orderID string) (domain.OrderIntent, error) {
	o, err := c.ledger.Orders.Get(orderID)
	if err != nil {
		return domain.OrderIntent{}, err
	}
	if o.WalletID != walletID {
		return domain.OrderIntent{}, domain.ErrNotFound
	}
	return c.cancelIntent(ctx, o)
}

func (c *Coordinator) cancelIntent(ctx context.Context, o domain.OrderIntent) (domain.OrderIntent, error) {
	if o.Status.Terminal() {
		return o, domain.ErrAlreadyTerminal
	}

	if o.Status == domain.OrderPending {
		// No accepted remote order yet: cancelling is a pure local CAS. If
		// the acceptance lands concurrently, that CAS wins and we fall
		// through to the remote cancel below.
		cancelled, cerr := c.ledger.Orders.UpdateStatus(o.ID,
			string(domain.OrderPending), string(domain.OrderCancelled),
			func(v *domain.OrderIntent) {
				v.Status = domain.OrderCancelled
				v.UpdatedAt = c.now()
			})
		if cerr == nil {
			c.recordOrder(cancelled)
			return cancelled, nil
		}
		if !errors.Is(cerr, domain.ErrStaleState) {
			return domain.OrderIntent{}, cerr
		}
		cur, gerr := c.ledger.Orders.Get(o.ID)
		if gerr != nil {
			return domain.OrderIntent{}, gerr
		}
		if cur.Status.Terminal() {
			return cur, domain.ErrAlreadyTerminal
		}
		o = cur // now OPEN
	}

	w, err := c.ledger.Wallets.Get(o.WalletID)
	if err != nil {
		return domain.OrderIntent{}, err
	}
	err = c.withRetry(ctx, "exchange.cancel_order", func(ctx context.Context) error {
		_, err := c.exchange.CancelOrder(ctx, w.Address, o.RemoteOrderID)
		return err
	})
	switch {
	case err == nil:
		cancelled, cerr := c.settleOpenOrder(o.ID, domain.OrderCancelled, "")
		if cerr != nil {
			return domain.OrderIntent{}, cerr
		}
		if cancelled.Status != domain.OrderCancelled {
			// A fill reconciliation won the CAS race first; the remote
			// terminal status stands.
			return cancelled, domain.ErrAlreadyTerminal
		}
		return cancelled, nil
	case errors.Is(err, domain.ErrAlreadyTerminal):
		// The remote side already terminated the order. Pull the
		// authoritative status in, then report the no-op.
		if rerr := c.ReconcileOrder(ctx, o.ID); rerr != nil {
			log.Warnf("order %s: reconcile after terminal cancel: %v", o.ID, rerr)
		}
		cur, gerr := c.ledger.Orders.Get(o.ID)
		if gerr != nil {
			return domain.OrderIntent{}, gerr
		}
		return cur, domain.ErrAlreadyTerminal
	case domain.IsTransient(err):
		reason := domain.GatewayReason(err)
		if cur, aerr := c.ledger.Orders.Annotate(o.ID, string(domain.OrderOpen), func(v *domain.OrderIntent) {
			v.LastError = reason
			v.UpdatedAt = c.now()
		}); aerr == nil {
			o = cur
		}
		c.kick.Emit()
		return o, fmt.Errorf("%w: %s", domain.ErrOperationPending, reason)
	default:
		return o, err
	}
}

// CancelAllOrders cancels every non-terminal order of the wallet, optionally
// narrowed to one symbol. Per-order AlreadyTerminal outcomes are counted as
// confirmations, not failures.
func (c *Coordinator) CancelAllOrders(ctx context.Context, walletID, symbol string) ([]domain.OrderIntent, error) {
	if _, err := c.ledger.Wallets.Get(walletID); err != nil {
		return nil, err
	}
	open, err := c.ledger.Orders.List(func(o domain.OrderIntent) bool {
		if o.WalletID != walletID || o.Status.Terminal() {
			return false
		}
		return symbol == "" || o.Symbol == symbol
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.OrderIntent, 0, len(open))
	for _, o := range open {
		settled, cerr := c.cancelIntent(ctx, o)
		if cerr != nil && !errors.Is(cerr, domain.ErrAlreadyTerminal) {
			return out, cerr
		}
		out = append(out, settled)
	}
	return out, nil
}

func (c *Coordinator) GetOrder(orderID string) (domain.OrderIntent, error) {
	return c.ledger.Orders.Get(orderID)
}

// GetOpenOrders lists the wallet's non-terminal intents.
func (c *Coordinator) GetOpenOrders(walletID string) ([]domain.OrderIntent, error) {
	if _, err := c.ledger.Wallets.Get(walletID); err != nil {
		return nil, err
	}
	return c.ledger.Orders.List(func(o domain.OrderIntent) bool {
		return o.WalletID == walletID && !o.Status.Terminal()
	})
}

// settleOpenOrder is the shared OPEN->terminal CAS. StaleState is resolved
// by re-reading: whichever transition won is returned.
func (c *Coordinator) settleOpenOrder(orderID string, next domain.OrderStatus, reason string) (domain.OrderIntent, error) {
	settled, cerr := c.ledger.Orders.UpdateStatus(orderID,
		string(domain.OrderOpen), string(next),
		func(v *domain.OrderIntent) {
			v.Status = next
			if reason != "" {
				v.LastError = reason
			}
			v.UpdatedAt = c.now()
		})
	if errors.Is(cerr, domain.ErrStaleState) {
		return c.ledger.Orders.Get(orderID)
	}
	if cerr != nil {
		return domain.OrderIntent{}, cerr
	}
	log.Infof("order %s settled to %s", settled.ID, settled.Status)
	c.recordOrder(settled)
	return settled, nil
}
