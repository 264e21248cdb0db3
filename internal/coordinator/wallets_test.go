package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/custodia/gotrade/internal/domain"
	"github.com/custodia/gotrade/internal/gateway/signer"
)

func TestProvisionWalletHappyPath(t *testing.T) {
	e := newTestEnv(t)
	w := e.activeWallet(t)

	if w.Address != testAddress {
		t.Errorf("address = %q, want %q", w.Address, testAddress)
	}
	if w.RemoteWalletID == "" {
		t.Error("remote wallet id not recorded")
	}
	if got := e.sg.calls("CreateWallet"); got != 1 {
		t.Errorf("CreateWallet calls = %d, want 1", got)
	}
}

func TestProvisionWalletSecondCallIsDuplicate(t *testing.T) {
	e := newTestEnv(t)
	w := e.activeWallet(t)

	got, err := e.coord.ProvisionWallet(context.Background(), "u1", "ethereum", "")
	if !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("err = %v, want DuplicateKey", err)
	}
	if got.ID != w.ID {
		t.Errorf("returned wallet %s, want existing %s", got.ID, w.ID)
	}
	if calls := e.sg.calls("CreateWallet"); calls != 1 {
		t.Errorf("CreateWallet calls = %d, want 1 (no new remote call)", calls)
	}
}

func TestProvisionWalletRepeatWithKeyIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.coord.CreateUser("u1", ""); err != nil {
		t.Fatal(err)
	}
	key := "op-key-1"
	w1, err := e.coord.ProvisionWallet(context.Background(), "u1", "ethereum", key)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	w2, err := e.coord.ProvisionWallet(context.Background(), "u1", "ethereum", key)
	if err != nil {
		t.Fatalf("repeat call: %v", err)
	}
	if w1.ID != w2.ID || w2.ID != key {
		t.Errorf("ids = %s, %s, want both %s", w1.ID, w2.ID, key)
	}
	// The settled repeat must not touch the signer again.
	if calls := e.sg.calls("CreateWallet"); calls != 1 {
		t.Errorf("CreateWallet calls = %d, want 1", calls)
	}
	if e.sg.remoteWalletCount() != 1 {
		t.Errorf("remote wallets = %d, want 1", e.sg.remoteWalletCount())
	}
}

func TestProvisionWalletTransientExhaustionLeavesProvisioning(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.coord.CreateUser("u1", ""); err != nil {
		t.Fatal(err)
	}
	e.sg.FailTimes["CreateWallet"] = 100 // more than the retry budget

	w, err := e.coord.ProvisionWallet(context.Background(), "u1", "ethereum", "")
	if !errors.Is(err, domain.ErrProvisioningIncomplete) {
		t.Fatalf("err = %v, want ProvisioningIncomplete", err)
	}
	if w.Status != domain.WalletProvisioning {
		t.Errorf("status = %s, want PROVISIONING", w.Status)
	}
	if w.LastError == "" {
		t.Error("last error not recorded")
	}
	if calls := e.sg.calls("CreateWallet"); calls != DefaultRetryPolicy().MaxAttempts {
		t.Errorf("CreateWallet calls = %d, want %d", calls, DefaultRetryPolicy().MaxAttempts)
	}

	// Recovery: a keyless retry resumes the stuck record and ends with
	// exactly one remote wallet.
	e.sg.FailTimes["CreateWallet"] = 0
	recovered, err := e.coord.ProvisionWallet(context.Background(), "u1", "ethereum", "")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if recovered.ID != w.ID {
		t.Errorf("resumed a different wallet: %s vs %s", recovered.ID, w.ID)
	}
	if recovered.Status != domain.WalletActive {
		t.Errorf("status = %s, want ACTIVE", recovered.Status)
	}
	if recovered.LastError != "" {
		t.Errorf("last error not cleared: %q", recovered.LastError)
	}
	if e.sg.remoteWalletCount() != 1 {
		t.Errorf("remote wallets = %d, want 1", e.sg.remoteWalletCount())
	}
}

func TestProvisionWalletPermanentRejectionFails(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.coord.CreateUser("u1", ""); err != nil {
		t.Fatal(err)
	}
	e.sg.ErrorOnNext["CreateWallet"] = domain.PermanentErr("CreateWallet", signer.ErrSignerRejected)

	w, err := e.coord.ProvisionWallet(context.Background(), "u1", "ethereum", "")
	if err != nil {
		t.Fatalf("permanent rejection should settle, got err %v", err)
	}
	if w.Status != domain.WalletFailed {
		t.Errorf("status = %s, want FAILED", w.Status)
	}
	if w.LastError == "" {
		t.Error("rejection reason not recorded")
	}
	if calls := e.sg.calls("CreateWallet"); calls != 1 {
		t.Errorf("CreateWallet calls = %d, want 1 (no retry on permanent)", calls)
	}
}

func TestProvisionWalletUnknownChain(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.coord.CreateUser("u1", ""); err != nil {
		t.Fatal(err)
	}
	_, err := e.coord.ProvisionWallet(context.Background(), "u1", "dogechain", "")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if calls := e.sg.calls("CreateWallet"); calls != 0 {
		t.Errorf("CreateWallet calls = %d, want 0", calls)
	}
}

func TestProvisionWalletUnknownUser(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.coord.ProvisionWallet(context.Background(), "ghost", "ethereum", "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestProvisionWalletConcurrentSingleRemote(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.coord.CreateUser("u1", ""); err != nil {
		t.Fatal(err)
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]domain.Wallet, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := e.coord.ProvisionWallet(context.Background(), "u1", "ethereum", "")
			if err != nil && !errors.Is(err, domain.ErrDuplicateKey) {
				t.Errorf("goroutine %d: %v", i, err)
				return
			}
			results[i] = w
		}(i)
	}
	wg.Wait()

	if e.sg.remoteWalletCount() != 1 {
		t.Fatalf("remote wallets = %d, want exactly 1", e.sg.remoteWalletCount())
	}
	var id string
	for _, w := range results {
		if w.ID == "" {
			continue
		}
		if id == "" {
			id = w.ID
		}
		if w.ID != id {
			t.Fatalf("observed two wallet ids: %s and %s", id, w.ID)
		}
	}
}

func TestProvisionWalletActiveCallback(t *testing.T) {
	e := newTestEnv(t)
	var activated []string
	e.coord.onWalletActive = func(w domain.Wallet) {
		activated = append(activated, w.Address)
	}
	e.activeWallet(t)

	if len(activated) != 1 || activated[0] != testAddress {
		t.Errorf("activation callbacks = %v, want one with %s", activated, testAddress)
	}
}

func TestGetBalanceRequiresActiveWallet(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.coord.CreateUser("u1", ""); err != nil {
		t.Fatal(err)
	}
	e.sg.FailTimes["CreateWallet"] = 100
	w, _ := e.coord.ProvisionWallet(context.Background(), "u1", "ethereum", "")

	_, err := e.coord.GetBalance(context.Background(), w.ID)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ValidationError for non-ACTIVE wallet", err)
	}
}
