package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/custodia/gotrade/internal/domain"
	"github.com/custodia/gotrade/internal/gateway/signer"
)

// Transfer runs the fund-transfer protocol: create the intent PENDING, call
// signAndSend with the intent id as idempotency key, CAS PENDING->SUBMITTED
// on acceptance. SUBMITTED->CONFIRMED is reconciliation's job, outside this
// synchronous path.
func (c *Coordinator) Transfer(ctx context.Context, walletID, destination string, amount decimal.Decimal, opKey string) (domain.TransferIntent, error) {
	w, err := c.ledger.Wallets.Get(walletID)
	if err != nil {
		return domain.TransferIntent{}, err
	}
	if w.Status != domain.WalletActive {
		return domain.TransferIntent{}, domain.Validationf("wallet %s is not ACTIVE", walletID)
	}
	destination, err = domain.ValidateAddress(destination)
	if err != nil {
		return domain.TransferIntent{}, err
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return domain.TransferIntent{}, err
	}

	if opKey != "" {
		t, err := c.ledger.Transfers.Get(opKey)
		switch {
		case err == nil:
			if t.WalletID != walletID {
				return domain.TransferIntent{}, domain.Validationf("operation key %s already used for another transfer", opKey)
			}
			return c.resumeTransfer(ctx, w, t)
		case !errors.Is(err, domain.ErrNotFound):
			return domain.TransferIntent{}, err
		}
	}

	id := opKey
	if id == "" {
		id = uuid.NewString()
	}
	now := c.now()
	t := domain.TransferIntent{
		ID:          id,
		WalletID:    walletID,
		Destination: destination,
		Amount:      amount,
		Status:      domain.TransferPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.ledger.Transfers.Create(t); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			if cur, gerr := c.ledger.Transfers.Get(id); gerr == nil {
				return c.resumeTransfer(ctx, w, cur)
			}
		}
		return domain.TransferIntent{}, err
	}
	return c.resumeTransfer(ctx, w, t)
}

func (c *Coordinator) resumeTransfer(ctx context.Context, w domain.Wallet, t domain.TransferIntent) (domain.TransferIntent, error) {
	// Transitions are monotonic: anything past PENDING is already the
	// settled answer for this idempotency key.
	if t.Status != domain.TransferPending {
		return t, nil
	}

	var receipt signer.TransferReceipt
	err := c.withRetry(ctx, "signer.sign_and_send", func(ctx context.Context) error {
		var err error
		receipt, err = c.signer.SignAndSend(ctx, w.RemoteWalletID, t.Destination, t.Amount, t.ID)
		return err
	})
	if err != nil {
		if domain.IsTransient(err) {
			reason := domain.GatewayReason(err)
			if cur, aerr := c.ledger.Transfers.Annotate(t.ID, string(domain.TransferPending), func(v *domain.TransferIntent) {
				v.LastError = reason
				v.UpdatedAt = c.now()
			}); aerr == nil {
				t = cur
			}
			c.kick.Emit()
			return t, fmt.Errorf("%w: %s", domain.ErrOperationPending, reason)
		}
		reason := domain.GatewayReason(err)
		failed, cerr := c.ledger.Transfers.UpdateStatus(t.ID,
			string(domain.TransferPending), string(domain.TransferFailed),
			func(v *domain.TransferIntent) {
				v.Status = domain.TransferFailed
				v.LastError = reason
				v.UpdatedAt = c.now()
			})
		if errors.Is(cerr, domain.ErrStaleState) {
			return c.ledger.Transfers.Get(t.ID)
		}
		if cerr != nil {
			return domain.TransferIntent{}, cerr
		}
		c.recordTransfer(failed)
		return failed, nil
	}

	submitted, cerr := c.ledger.Transfers.UpdateStatus(t.ID,
		string(domain.TransferPending), string(domain.TransferSubmitted),
		func(v *domain.TransferIntent) {
			v.Status = domain.TransferSubmitted
			v.TxRef = receipt.TxRef
			v.LastError = ""
			v.UpdatedAt = c.now()
		})
	if errors.Is(cerr, domain.ErrStaleState) {
		// A concurrent resume already submitted; the signer's idempotency
		// key contract means it holds the same receipt.
		return c.ledger.Transfers.Get(t.ID)
	}
	if cerr != nil {
		return domain.TransferIntent{}, cerr
	}
	log.Infof("transfer %s submitted: %s -> %s (%s)", submitted.ID, w.Address, submitted.Destination, submitted.TxRef)
	c.recordTransfer(submitted)
	return submitted, nil
}

// GetTransfer reads one intent back.
func (c *Coordinator) GetTransfer(transferID string) (domain.TransferIntent, error) {
	return c.ledger.Transfers.Get(transferID)
}

// ReconcileTransfer moves a SUBMITTED intent to CONFIRMED or FAILED based on
// the remote receipt. Not-yet-mined transfers are left alone.
func (c *Coordinator) ReconcileTransfer(ctx context.Context, transferID string) error {
	t, err := c.ledger.Transfers.Get(transferID)
	if err != nil {
		return err
	}
	if t.Status != domain.TransferSubmitted {
		return nil
	}
	w, err := c.ledger.Wallets.Get(t.WalletID)
	if err != nil {
		return err
	}
	var state signer.TransferState
	err = c.withRetry(ctx, "signer.transfer_status", func(ctx context.Context) error {
		var err error
		state, err = c.signer.TransferStatus(ctx, w.RemoteWalletID, t.TxRef)
		return err
	})
	if err != nil {
		return err
	}

	var next domain.TransferStatus
	switch {
	case state.Confirmed:
		next = domain.TransferConfirmed
	case state.Failed:
		next = domain.TransferFailed
	default:
		return nil
	}
	settled, cerr := c.ledger.Transfers.UpdateStatus(t.ID,
		string(domain.TransferSubmitted), string(next),
		func(v *domain.TransferIntent) {
			v.Status = next
			v.LastError = state.Reason
			v.UpdatedAt = c.now()
		})
	if errors.Is(cerr, domain.ErrStaleState) {
		return nil // another reconciler won
	}
	if cerr != nil {
		return cerr
	}
	log.Infof("transfer %s reconciled to %s", settled.ID, settled.Status)
	c.recordTransfer(settled)
	return nil
}
