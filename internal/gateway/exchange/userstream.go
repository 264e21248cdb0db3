package exchange

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// OrderUpdateHandler receives asynchronous order events from the exchange.
// The remote order id plus the remote status is all reconciliation needs.
type OrderUpdateHandler func(remoteOrderID string, state OrderState)

// UserStream is the exchange's push channel for order updates. It is an
// optimization over the reconciliation poll loop, never a replacement: a
// dropped connection only delays convergence until the next poll tick.
type UserStream struct {
	wsURL    string
	handlers []OrderUpdateHandler

	mu        sync.Mutex
	wallets   map[string]bool // subscribed wallet addresses
	conn      *websocket.Conn
	reconnect time.Duration

	// writeMu serializes connection writes: gorilla/websocket allows only
	// one concurrent writer, and Subscribe races the resubscribe loop.
	writeMu sync.Mutex
}

func NewUserStream(wsURL string) *UserStream {
	return &UserStream{
		wsURL:     wsURL,
		wallets:   make(map[string]bool),
		reconnect: 5 * time.Second,
	}
}

func (u *UserStream) OnOrderUpdate(h OrderUpdateHandler) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handlers = append(u.handlers, h)
}

// Subscribe adds a wallet address to the order-update subscription. Safe to
// call before or after Run; re-subscription after reconnect is automatic.
func (u *UserStream) Subscribe(walletAddress string) {
	addr := strings.ToLower(strings.TrimSpace(walletAddress))
	if addr == "" {
		return
	}
	u.mu.Lock()
	already := u.wallets[addr]
	u.wallets[addr] = true
	conn := u.conn
	u.mu.Unlock()
	if already || conn == nil {
		return
	}
	_ = u.sendSubscribe(conn, addr)
}

// Run drives the connection until ctx is done, reconnecting with a fixed
// delay on any failure.
func (u *UserStream) Run(ctx context.Context) {
	if u.wsURL == "" {
		return
	}
	for {
		if err := u.connectAndRead(ctx); err != nil {
			log.Warnf("user stream disconnected: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(u.reconnect):
		}
	}
}

type wsSubscription struct {
	Method       string `json:"method"`
	Subscription struct {
		Type string `json:"type"`
		User string `json:"user"`
	} `json:"subscription"`
}

func (u *UserStream) sendSubscribe(conn *websocket.Conn, addr string) error {
	var sub wsSubscription
	sub.Method = "subscribe"
	sub.Subscription.Type = "orderUpdates"
	sub.Subscription.User = addr

	u.writeMu.Lock()
	defer u.writeMu.Unlock()
	// Bound the write so a wedged peer fails the call instead of parking
	// the subscriber (Subscribe runs on the wallet-activation path).
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(sub)
}

type wsOrderUpdate struct {
	Channel string `json:"channel"`
	Data    []struct {
		Order struct {
			Oid int64 `json:"oid"`
		} `json:"order"`
		Status string `json:"status"`
	} `json:"data"`
}

func (u *UserStream) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.wsURL, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	u.mu.Lock()
	u.conn = conn
	addrs := make([]string, 0, len(u.wallets))
	for a := range u.wallets {
		addrs = append(addrs, a)
	}
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		u.conn = nil
		u.mu.Unlock()
	}()

	for _, a := range addrs {
		if err := u.sendSubscribe(conn, a); err != nil {
			return err
		}
	}
	log.Infof("user stream connected, %d wallet(s) subscribed", len(addrs))

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		u.dispatch(msg)
	}
}

func (u *UserStream) dispatch(msg []byte) {
	var upd wsOrderUpdate
	if err := json.Unmarshal(msg, &upd); err != nil || upd.Channel != "orderUpdates" {
		return
	}
	u.mu.Lock()
	handlers := append([]OrderUpdateHandler(nil), u.handlers...)
	u.mu.Unlock()
	for _, d := range upd.Data {
		state := StateUnknown
		switch strings.ToLower(d.Status) {
		case "open":
			state = StateOpen
		case "filled":
			state = StateFilled
		case "canceled", "cancelled", "margincanceled":
			state = StateCancelled
		case "rejected":
			state = StateRejected
		}
		for _, h := range handlers {
			h(oidString(d.Order.Oid), state)
		}
	}
}
