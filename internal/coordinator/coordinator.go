// Package coordinator orchestrates multi-step operations across the ledger,
// the custodial signer and the exchange. It holds no persistent state of its
// own: every step reads ledger state, calls a gateway without holding any
// ledger lock, then attempts a CAS with the state it read as the expected
// prior value. The remote system is authoritative for terminal status; the
// local CAS is authoritative for preventing duplicate remote calls.
package coordinator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/custodia/gotrade/internal/domain"
	"github.com/custodia/gotrade/internal/gateway/exchange"
	"github.com/custodia/gotrade/internal/gateway/signer"
	"github.com/custodia/gotrade/internal/ledger"
	"github.com/custodia/gotrade/pkg/cache"
	"github.com/custodia/gotrade/pkg/sigchan"
)

var log = logrus.WithField("component", "coordinator")

// HistoryRecorder archives intent transitions for the history reads. Nil is
// allowed; recording is best-effort and never blocks a protocol.
type HistoryRecorder interface {
	RecordOrder(o domain.OrderIntent) error
	RecordTransfer(t domain.TransferIntent) error
}

// RetryPolicy bounds gateway retries: transient failures back off
// exponentially from Base up to Cap, at most MaxAttempts calls in total.
type RetryPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
	CallTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:        200 * time.Millisecond,
		Cap:         5 * time.Second,
		MaxAttempts: 5,
		CallTimeout: 10 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Base <= 0 {
		p.Base = def.Base
	}
	if p.Cap <= 0 {
		p.Cap = def.Cap
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = def.CallTimeout
	}
	return p
}

type Options struct {
	Retry          RetryPolicy
	MarketCacheTTL time.Duration
	History        HistoryRecorder
	// OnWalletActive fires after a wallet reaches ACTIVE, with the final
	// record. Used to subscribe the exchange user stream.
	OnWalletActive func(domain.Wallet)
}

type Coordinator struct {
	ledger   *ledger.Store
	signer   signer.Gateway
	exchange exchange.Gateway
	history  HistoryRecorder
	markets  *cache.InMemoryCache[string, exchange.Market]
	retry    RetryPolicy

	onWalletActive func(domain.Wallet)
	kick           *sigchan.Chan // wakes the reconciler after a retry budget runs out
	now            func() time.Time
	sleep          func(context.Context, time.Duration) // swapped out in tests
}

func New(store *ledger.Store, sg signer.Gateway, ex exchange.Gateway, opts Options) *Coordinator {
	ttl := opts.MarketCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Coordinator{
		ledger:         store,
		signer:         sg,
		exchange:       ex,
		history:        opts.History,
		markets:        cache.NewInMemoryCache[string, exchange.Market](ttl),
		retry:          opts.Retry.normalized(),
		onWalletActive: opts.OnWalletActive,
		kick:           sigchan.New(1),
		now:            time.Now,
		sleep:          sleepCtx,
	}
}

func (c *Coordinator) recordOrder(o domain.OrderIntent) {
	if c.history == nil {
		return
	}
	if err := c.history.RecordOrder(o); err != nil {
		log.Warnf("history: record order %s: %v", o.ID, err)
	}
}

func (c *Coordinator) recordTransfer(t domain.TransferIntent) {
	if c.history == nil {
		return
	}
	if err := c.history.RecordTransfer(t); err != nil {
		log.Warnf("history: record transfer %s: %v", t.ID, err)
	}
}
