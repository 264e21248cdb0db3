package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/custodia/gotrade/internal/domain"
	"github.com/custodia/gotrade/internal/gateway/exchange"
	"github.com/custodia/gotrade/internal/gateway/signer"
	"github.com/custodia/gotrade/internal/ledger"
)

const testAddress = "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"

// mockSigner implements signer.Gateway in memory, honoring the idempotency
// key contract the real service offers.
type mockSigner struct {
	mu          sync.Mutex
	Calls       map[string]int
	ErrorOnNext map[string]error // consumed one call at a time
	FailTimes   map[string]int   // transient failures before success

	wallets   map[string]signer.WalletHandle   // keyed by idempotency key
	transfers map[string]signer.TransferReceipt // keyed by idempotency key
	states    map[string]signer.TransferState   // keyed by tx ref
}

func newMockSigner() *mockSigner {
	return &mockSigner{
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
		FailTimes:   make(map[string]int),
		wallets:     make(map[string]signer.WalletHandle),
		transfers:   make(map[string]signer.TransferReceipt),
		states:      make(map[string]signer.TransferState),
	}
}

func (m *mockSigner) step(op string) error {
	m.Calls[op]++
	if err, ok := m.ErrorOnNext[op]; ok {
		delete(m.ErrorOnNext, op)
		return err
	}
	if m.FailTimes[op] > 0 {
		m.FailTimes[op]--
		return domain.TransientErr(op, signer.ErrSignerUnavailable)
	}
	return nil
}

func (m *mockSigner) CreateWallet(_ context.Context, userID, chain, idempotencyKey string) (signer.WalletHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.step("CreateWallet"); err != nil {
		return signer.WalletHandle{}, err
	}
	if h, ok := m.wallets[idempotencyKey]; ok {
		return h, nil
	}
	h := signer.WalletHandle{
		RemoteWalletID: "rw-" + idempotencyKey,
		Address:        testAddress,
	}
	m.wallets[idempotencyKey] = h
	return h, nil
}

func (m *mockSigner) SignAndSend(_ context.Context, remoteWalletID, destination string, amount decimal.Decimal, idempotencyKey string) (signer.TransferReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.step("SignAndSend"); err != nil {
		return signer.TransferReceipt{}, err
	}
	if r, ok := m.transfers[idempotencyKey]; ok {
		return r, nil
	}
	r := signer.TransferReceipt{TxRef: fmt.Sprintf("0xtx-%s", idempotencyKey)}
	m.transfers[idempotencyKey] = r
	return r, nil
}

func (m *mockSigner) TransferStatus(_ context.Context, remoteWalletID, txRef string) (signer.TransferState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.step("TransferStatus"); err != nil {
		return signer.TransferState{}, err
	}
	return m.states[txRef], nil
}

func (m *mockSigner) GetBalance(_ context.Context, remoteWalletID, address string) (signer.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.step("GetBalance"); err != nil {
		return signer.Balance{}, err
	}
	return signer.Balance{Amount: decimal.NewFromInt(42), Currency: "ETH"}, nil
}

func (m *mockSigner) calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[op]
}

// remoteWalletCount reports how many distinct remote wallets exist; the
// provisioning protocol must never make this exceed one per local wallet.
func (m *mockSigner) remoteWalletCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.wallets)
}

// mockExchange implements exchange.Gateway in memory. Placement is
// idempotent under the client order id.
type mockExchange struct {
	mu          sync.Mutex
	Calls       map[string]int
	ErrorOnNext map[string]error
	FailTimes   map[string]int
	PlaceStatus exchange.OrderState // receipt status for new placements

	orders  map[string]exchange.OrderReceipt // keyed by client order id
	states  map[string]exchange.OrderState   // keyed by remote order id
	markets []exchange.Market
	seq     int
}

func newMockExchange() *mockExchange {
	return &mockExchange{
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
		FailTimes:   make(map[string]int),
		PlaceStatus: exchange.StateOpen,
		orders:      make(map[string]exchange.OrderReceipt),
		states:      make(map[string]exchange.OrderState),
	}
}

func (m *mockExchange) step(op string) error {
	m.Calls[op]++
	if err, ok := m.ErrorOnNext[op]; ok {
		delete(m.ErrorOnNext, op)
		return err
	}
	if m.FailTimes[op] > 0 {
		m.FailTimes[op]--
		return domain.TransientErr(op, fmt.Errorf("exchange unavailable"))
	}
	return nil
}

func (m *mockExchange) PlaceOrder(_ context.Context, walletAddress string, req exchange.OrderRequest) (exchange.OrderReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.step("PlaceOrder"); err != nil {
		return exchange.OrderReceipt{}, err
	}
	if r, ok := m.orders[req.ClientOrderID]; ok {
		return r, nil
	}
	m.seq++
	r := exchange.OrderReceipt{
		RemoteOrderID: fmt.Sprintf("%d", 1000+m.seq),
		Status:        m.PlaceStatus,
	}
	m.orders[req.ClientOrderID] = r
	m.states[r.RemoteOrderID] = r.Status
	return r, nil
}

func (m *mockExchange) CancelOrder(_ context.Context, walletAddress, remoteOrderID string) (exchange.OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.step("CancelOrder"); err != nil {
		return exchange.StateUnknown, err
	}
	switch m.states[remoteOrderID] {
	case exchange.StateFilled, exchange.StateCancelled, exchange.StateRejected:
		return m.states[remoteOrderID], domain.ErrAlreadyTerminal
	}
	m.states[remoteOrderID] = exchange.StateCancelled
	return exchange.StateCancelled, nil
}

func (m *mockExchange) OrderStatus(_ context.Context, walletAddress, remoteOrderID string) (exchange.OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.step("OrderStatus"); err != nil {
		return exchange.StateUnknown, err
	}
	if s, ok := m.states[remoteOrderID]; ok {
		return s, nil
	}
	return exchange.StateUnknown, nil
}

func (m *mockExchange) GetAccount(_ context.Context, walletAddress string) (exchange.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.step("GetAccount"); err != nil {
		return exchange.Account{}, err
	}
	return exchange.Account{Value: decimal.NewFromInt(1000)}, nil
}

func (m *mockExchange) GetMarket(_ context.Context, symbol string) (exchange.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.step("GetMarket"); err != nil {
		return exchange.Market{}, err
	}
	for _, mk := range m.markets {
		if mk.Symbol == symbol {
			return mk, nil
		}
	}
	return exchange.Market{}, domain.PermanentErr("GetMarket", exchange.ErrUnknownSymbol)
}

func (m *mockExchange) GetAllMarkets(_ context.Context) ([]exchange.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.step("GetAllMarkets"); err != nil {
		return nil, err
	}
	return m.markets, nil
}

// setRemoteState drives remote-side transitions (fills) from tests.
func (m *mockExchange) setRemoteState(remoteOrderID string, s exchange.OrderState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[remoteOrderID] = s
}

func (m *mockExchange) calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[op]
}

type testEnv struct {
	coord *Coordinator
	store *ledger.Store
	sg    *mockSigner
	ex    *mockExchange
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := ledger.Open(ledger.OpenOptions{InMemory: true})
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sg := newMockSigner()
	ex := newMockExchange()
	coord := New(store, sg, ex, Options{})
	coord.sleep = func(context.Context, time.Duration) {} // no real backoff in tests
	return &testEnv{coord: coord, store: store, sg: sg, ex: ex}
}

// activeWallet provisions a user+wallet through the real protocol.
func (e *testEnv) activeWallet(t *testing.T) domain.Wallet {
	t.Helper()
	if _, err := e.coord.CreateUser("u1", "u1@example.com"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	w, err := e.coord.ProvisionWallet(context.Background(), "u1", "ethereum", "")
	if err != nil {
		t.Fatalf("provision wallet: %v", err)
	}
	if w.Status != domain.WalletActive {
		t.Fatalf("wallet status = %s, want ACTIVE", w.Status)
	}
	return w
}
