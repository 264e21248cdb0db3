package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/custodia/gotrade/internal/domain"
	"github.com/custodia/gotrade/internal/gateway/signer"
)

func (c *Coordinator) CreateUser(userID, email string) (domain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, domain.Validationf("user_id is required")
	}
	u := domain.User{ID: userID, Email: strings.TrimSpace(email), CreatedAt: c.now()}
	if err := c.ledger.Users.Create(u); err != nil {
		return domain.User{}, err
	}
	log.Infof("created user %s", userID)
	return u, nil
}

func (c *Coordinator) GetUser(userID string) (domain.User, error) {
	return c.ledger.Users.Get(userID)
}

func (c *Coordinator) ListUsers() ([]domain.User, error) {
	return c.ledger.Users.List(nil)
}

func (c *Coordinator) GetWallet(walletID string) (domain.Wallet, error) {
	return c.ledger.Wallets.Get(walletID)
}

func (c *Coordinator) ListWallets(userID string) ([]domain.Wallet, error) {
	if _, err := c.ledger.Users.Get(userID); err != nil {
		return nil, err
	}
	return c.ledger.WalletsForUser(userID)
}

// ProvisionWallet runs the wallet provisioning protocol. opKey is the
// caller's operation key; when empty a fresh one is generated. The key is
// the Wallet's own identifier, and it is forwarded to the signer as the
// idempotency key, so a crash-and-retry can never create a second remote
// wallet for the same local record.
//
// Policy: one wallet per chain per user. A retried call with the key of an
// existing wallet resumes that wallet's protocol; a keyless call while a
// wallet for the chain exists fails with DuplicateKey, except that a wallet
// stuck in PROVISIONING is resumed (it is the recovery anchor).
func (c *Coordinator) ProvisionWallet(ctx context.Context, userID, chain, opKey string) (domain.Wallet, error) {
	chain, err := domain.ValidateChain(chain)
	if err != nil {
		return domain.Wallet{}, err
	}
	if _, err := c.ledger.Users.Get(userID); err != nil {
		return domain.Wallet{}, err
	}

	if opKey != "" {
		w, err := c.ledger.Wallets.Get(opKey)
		switch {
		case err == nil:
			if w.UserID != userID || w.Chain != chain {
				return domain.Wallet{}, domain.Validationf("operation key %s already used for another wallet", opKey)
			}
			return c.resumeProvisioning(ctx, w)
		case !errors.Is(err, domain.ErrNotFound):
			return domain.Wallet{}, err
		}
	}

	if existingID, err := c.ledger.WalletIDForChain(userID, chain); err == nil {
		w, err := c.ledger.Wallets.Get(existingID)
		if err != nil {
			return domain.Wallet{}, err
		}
		if w.Status == domain.WalletProvisioning {
			return c.resumeProvisioning(ctx, w)
		}
		return w, fmt.Errorf("%w: user %s already holds a %s wallet", domain.ErrDuplicateKey, userID, chain)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Wallet{}, err
	}

	id := opKey
	if id == "" {
		id = uuid.NewString()
	}
	now := c.now()
	w := domain.Wallet{
		ID:        id,
		UserID:    userID,
		Chain:     chain,
		Status:    domain.WalletProvisioning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.ledger.CreateWallet(w); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			// Lost a create race; the winner's record is the anchor now.
			if cur, gerr := c.ledger.Wallets.Get(id); gerr == nil {
				return c.resumeProvisioning(ctx, cur)
			}
			if existingID, ierr := c.ledger.WalletIDForChain(userID, chain); ierr == nil {
				if cur, gerr := c.ledger.Wallets.Get(existingID); gerr == nil && cur.Status == domain.WalletProvisioning {
					return c.resumeProvisioning(ctx, cur)
				}
			}
		}
		return domain.Wallet{}, err
	}
	return c.resumeProvisioning(ctx, w)
}

// resumeProvisioning drives a wallet record to a settled status. ACTIVE and
// FAILED are returned as-is (idempotent success); PROVISIONING means the
// remote call still has to happen or be repeated.
func (c *Coordinator) resumeProvisioning(ctx context.Context, w domain.Wallet) (domain.Wallet, error) {
	if w.Status != domain.WalletProvisioning {
		return w, nil
	}

	var handle signer.WalletHandle
	err := c.withRetry(ctx, "signer.create_wallet", func(ctx context.Context) error {
		var err error
		handle, err = c.signer.CreateWallet(ctx, w.UserID, w.Chain, w.ID)
		return err
	})
	if err != nil {
		if domain.IsTransient(err) {
			// Leave PROVISIONING: the record anchors a later retry under
			// the same key. Status must only reflect confirmed outcomes.
			reason := domain.GatewayReason(err)
			if cur, aerr := c.ledger.Wallets.Annotate(w.ID, string(domain.WalletProvisioning), func(v *domain.Wallet) {
				v.LastError = reason
				v.UpdatedAt = c.now()
			}); aerr == nil {
				w = cur
			}
			c.kick.Emit()
			return w, fmt.Errorf("%w: %s", domain.ErrProvisioningIncomplete, reason)
		}
		reason := domain.GatewayReason(err)
		failed, cerr := c.ledger.Wallets.UpdateStatus(w.ID,
			string(domain.WalletProvisioning), string(domain.WalletFailed),
			func(v *domain.Wallet) {
				v.Status = domain.WalletFailed
				v.LastError = reason
				v.UpdatedAt = c.now()
			})
		if errors.Is(cerr, domain.ErrStaleState) {
			// A concurrent retry settled the wallet first; its outcome wins.
			return c.ledger.Wallets.Get(w.ID)
		}
		if cerr != nil {
			return domain.Wallet{}, cerr
		}
		log.Warnf("wallet %s failed provisioning: %s", w.ID, reason)
		return failed, nil
	}

	active, cerr := c.ledger.Wallets.UpdateStatus(w.ID,
		string(domain.WalletProvisioning), string(domain.WalletActive),
		func(v *domain.Wallet) {
			v.Status = domain.WalletActive
			v.Address = handle.Address
			v.RemoteWalletID = handle.RemoteWalletID
			v.LastError = ""
			v.UpdatedAt = c.now()
		})
	if errors.Is(cerr, domain.ErrStaleState) {
		// Concurrent activation with the same idempotency key lands on the
		// same remote wallet; whatever is stored now is correct.
		return c.ledger.Wallets.Get(w.ID)
	}
	if cerr != nil {
		return domain.Wallet{}, cerr
	}
	log.Infof("wallet %s active: %s on %s", active.ID, active.Address, active.Chain)
	if c.onWalletActive != nil {
		c.onWalletActive(active)
	}
	return active, nil
}

// GetBalance is a pass-through read on the signer side.
func (c *Coordinator) GetBalance(ctx context.Context, walletID string) (signer.Balance, error) {
	w, err := c.ledger.Wallets.Get(walletID)
	if err != nil {
		return signer.Balance{}, err
	}
	if w.Status != domain.WalletActive {
		return signer.Balance{}, domain.Validationf("wallet %s is not ACTIVE", walletID)
	}
	var bal signer.Balance
	err = c.withRetry(ctx, "signer.get_balance", func(ctx context.Context) error {
		var err error
		bal, err = c.signer.GetBalance(ctx, w.RemoteWalletID, w.Address)
		return err
	})
	return bal, err
}
