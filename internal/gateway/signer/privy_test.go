package signer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/custodia/gotrade/internal/domain"
)

func newTestPrivy(t *testing.T, handler http.HandlerFunc) *Privy {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewPrivy(PrivyConfig{
		BaseURL:          srv.URL,
		AppID:            "app-id",
		AppSecret:        "app-secret",
		AuthorizationKey: "auth-key",
		CAIP2:            "eip155:84532",
	})
}

func TestCreateWallet(t *testing.T) {
	var gotIdem, gotAppID string
	p := newTestPrivy(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/wallets" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotIdem = r.Header.Get("Idempotency-Key")
		gotAppID = r.Header.Get("privy-app-id")
		if user, pass, _ := r.BasicAuth(); user != "app-id" || pass != "app-secret" {
			t.Errorf("basic auth = %s:%s", user, pass)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["chain_type"] != "ethereum" {
			t.Errorf("chain_type = %q", body["chain_type"])
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id":         "wal-1",
			"address":    "0xabc0000000000000000000000000000000000001",
			"chain_type": "ethereum",
		})
	})

	h, err := p.CreateWallet(context.Background(), "u1", "ethereum", "key-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if h.RemoteWalletID != "wal-1" {
		t.Errorf("remote id = %q", h.RemoteWalletID)
	}
	if gotIdem != "key-1" {
		t.Errorf("Idempotency-Key = %q, want key-1", gotIdem)
	}
	if gotAppID != "app-id" {
		t.Errorf("privy-app-id = %q", gotAppID)
	}
}

func TestCreateWalletServerErrorIsTransient(t *testing.T) {
	p := newTestPrivy(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	})
	_, err := p.CreateWallet(context.Background(), "u1", "ethereum", "key-1")
	if !domain.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	if !errors.Is(err, ErrSignerUnavailable) {
		t.Errorf("err = %v, want ErrSignerUnavailable cause", err)
	}
}

func TestCreateWalletRejectionIsPermanent(t *testing.T) {
	p := newTestPrivy(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid chain_type", http.StatusBadRequest)
	})
	_, err := p.CreateWallet(context.Background(), "u1", "ethereum", "key-1")
	if domain.IsTransient(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
	if !errors.Is(err, ErrSignerRejected) {
		t.Errorf("err = %v, want ErrSignerRejected cause", err)
	}
}

func TestSignAndSend(t *testing.T) {
	var gotAuth, gotIdem string
	var gotBody rpcRequest
	p := newTestPrivy(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/wallets/wal-1/rpc" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("privy-authorization-signature")
		gotIdem = r.Header.Get("Idempotency-Key")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"method": "eth_sendTransaction",
			"data":   map[string]string{"hash": "0xdeadbeef"},
		})
	})

	r, err := p.SignAndSend(context.Background(), "wal-1",
		"0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045", decimal.NewFromFloat(1.5), "tx-key")
	if err != nil {
		t.Fatalf("sign and send: %v", err)
	}
	if r.TxRef != "0xdeadbeef" {
		t.Errorf("tx ref = %q", r.TxRef)
	}
	if gotAuth != "auth-key" || gotIdem != "tx-key" {
		t.Errorf("headers = %q / %q", gotAuth, gotIdem)
	}
	if gotBody.Method != "eth_sendTransaction" || gotBody.CAIP2 != "eip155:84532" {
		t.Errorf("body = %+v", gotBody)
	}
	tx, _ := gotBody.Params["transaction"].(map[string]any)
	// 1.5 ETH in wei.
	if tx["value"] != "0x14d1120d7b160000" {
		t.Errorf("value = %v", tx["value"])
	}
}

func TestSignAndSendInsufficientFunds(t *testing.T) {
	p := newTestPrivy(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient funds for transfer", http.StatusBadRequest)
	})
	_, err := p.SignAndSend(context.Background(), "wal-1",
		"0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045", decimal.NewFromInt(100), "tx-key")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if domain.IsTransient(err) {
		t.Error("insufficient funds must be permanent")
	}
}

func TestTransferStatus(t *testing.T) {
	var receipt any
	p := newTestPrivy(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"receipt": receipt},
		})
	})

	// Not mined yet.
	st, err := p.TransferStatus(context.Background(), "wal-1", "0xdeadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if st.Confirmed || st.Failed {
		t.Errorf("in-flight state = %+v", st)
	}

	receipt = map[string]string{"status": "0x1"}
	st, err = p.TransferStatus(context.Background(), "wal-1", "0xdeadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Confirmed {
		t.Errorf("state = %+v, want confirmed", st)
	}

	receipt = map[string]string{"status": "0x0"}
	st, err = p.TransferStatus(context.Background(), "wal-1", "0xdeadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Failed || st.Reason == "" {
		t.Errorf("state = %+v, want failed with reason", st)
	}
}

func TestGetBalance(t *testing.T) {
	p := newTestPrivy(t, func(w http.ResponseWriter, r *http.Request) {
		// 1 ETH in hex wei.
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"value": "0xde0b6b3a7640000"},
		})
	})
	b, err := p.GetBalance(context.Background(), "wal-1", "0xabc0000000000000000000000000000000000001")
	if err != nil {
		t.Fatal(err)
	}
	if !b.Amount.Equal(decimal.NewFromInt(1)) {
		t.Errorf("amount = %s, want 1", b.Amount)
	}
	if b.Currency != "ETH" {
		t.Errorf("currency = %q", b.Currency)
	}
}

func TestWeiHex(t *testing.T) {
	cases := []struct {
		in   decimal.Decimal
		want string
	}{
		{decimal.NewFromInt(1), "0xde0b6b3a7640000"},
		{decimal.NewFromFloat(0.000000001), "0x3b9aca00"},
		{decimal.Zero, "0x0"},
	}
	for _, tc := range cases {
		if got := weiHex(tc.in); got != tc.want {
			t.Errorf("weiHex(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
