package ledger

import (
	"encoding/json"
	"errors"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/custodia/gotrade/internal/domain"
)

func chainIndexKey(userID, chain string) []byte {
	return []byte("walletidx/" + userID + "/" + chain)
}

// CreateWallet writes the wallet record and the (user, chain) index entry in
// one transaction. One wallet per chain per user: a second create for the
// same pair fails with domain.ErrDuplicateKey, as does an id collision.
func (s *Store) CreateWallet(w domain.Wallet) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return err
	}
	recordKey := s.Wallets.key(w.ID)
	idxKey := chainIndexKey(w.UserID, w.Chain)
	return s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(recordKey); err == nil {
			return domain.ErrDuplicateKey
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if _, err := txn.Get(idxKey); err == nil {
			return domain.ErrDuplicateKey
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(recordKey, raw); err != nil {
			return err
		}
		return txn.Set(idxKey, []byte(w.ID))
	})
}

// WalletIDForChain resolves the index entry written by CreateWallet.
func (s *Store) WalletIDForChain(userID, chain string) (string, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chainIndexKey(userID, chain))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	return id, err
}

// WalletsForUser lists the user's wallets.
func (s *Store) WalletsForUser(userID string) ([]domain.Wallet, error) {
	return s.Wallets.List(func(w domain.Wallet) bool { return w.UserID == userID })
}
