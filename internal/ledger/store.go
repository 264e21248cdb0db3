// Package ledger is the durable keyed store for users, wallets and intents.
// It is the single source of truth for local state: every coordinator state
// transition goes through the per-key compare-and-swap in UpdateStatus, so
// concurrent or retried operations on the same entity cannot double-apply.
package ledger

import (
	"encoding/json"
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/custodia/gotrade/internal/domain"
)

// Store wraps a Badger instance. Writes to a single key are linearizable;
// no cross-entity transactions are offered (the coordinator's protocols are
// designed to tolerate entity-local atomicity alone).
type Store struct {
	db *badger.DB

	Users     *Collection[domain.User]
	Wallets   *Collection[domain.Wallet]
	Transfers *Collection[domain.TransferIntent]
	Orders    *Collection[domain.OrderIntent]
}

type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 bytes; optional at-rest encryption
	InMemory      bool   // tests
}

func Open(opts OpenOptions) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("ledger: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithInMemory(opts.InMemory)
	if len(opts.EncryptionKey) > 0 {
		// Badger requires an index cache for encrypted workloads.
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	s.Users = newCollection[domain.User](s, "user")
	s.Wallets = newCollection[domain.Wallet](s, "wallet")
	s.Transfers = newCollection[domain.TransferIntent](s, "transfer")
	s.Orders = newCollection[domain.OrderIntent](s, "order")
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// casAttempts bounds retries of Badger commit conflicts. A conflict means a
// concurrent writer touched the same key; re-running the transaction re-reads
// and lets the status comparison decide (usually surfacing ErrStaleState).
const casAttempts = 8

func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < casAttempts; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// Collection is one keyed entity namespace inside the store.
type Collection[T domain.Record] struct {
	store  *Store
	prefix string
}

func newCollection[T domain.Record](s *Store, prefix string) *Collection[T] {
	return &Collection[T]{store: s, prefix: prefix}
}

func (c *Collection[T]) key(id string) []byte {
	return []byte(c.prefix + "/" + id)
}

func decodeInto[T any](item *badger.Item, out *T) error {
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

// Create persists a new record. Fails with domain.ErrDuplicateKey if the
// identifier already exists.
func (c *Collection[T]) Create(v T) error {
	id := v.RecordID()
	if strings.TrimSpace(id) == "" {
		return domain.Validationf("empty record id")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	k := c.key(id)
	return c.store.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(k); err == nil {
			return domain.ErrDuplicateKey
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(k, raw)
	})
}

// Get fails with domain.ErrNotFound if the identifier is absent.
func (c *Collection[T]) Get(id string) (T, error) {
	var out T
	err := c.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		return decodeInto(item, &out)
	})
	return out, err
}

// List returns every record matching filter (nil matches all). Iteration
// order is key order; callers sort if they care.
func (c *Collection[T]) List(filter func(T) bool) ([]T, error) {
	var out []T
	err := c.store.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   64,
			Prefix:         []byte(c.prefix + "/"),
		})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var v T
			if err := decodeInto(it.Item(), &v); err != nil {
				return err
			}
			if filter == nil || filter(v) {
				out = append(out, v)
			}
		}
		return nil
	})
	return out, err
}

// UpdateStatus performs the atomic compare-and-swap backing every coordinator
// state transition. The stored record's status must equal expected at the
// time of the update, otherwise domain.ErrStaleState is returned and nothing
// is written. patch mutates the record and must assign the new status.
// The updated record is returned on success.
func (c *Collection[T]) UpdateStatus(id, expected, next string, patch func(*T)) (T, error) {
	var out T
	err := c.store.update(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		var v T
		if err := decodeInto(item, &v); err != nil {
			return err
		}
		if v.RecordStatus() != expected {
			return domain.ErrStaleState
		}
		if patch != nil {
			patch(&v)
		}
		if v.RecordStatus() != next {
			return domain.Validationf("patch did not set status %s", next)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if err := txn.Set(c.key(id), raw); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Annotate updates non-status fields (lastError and the like) without a
// status transition. The stored status must still match expected so the
// annotation cannot race a real transition.
func (c *Collection[T]) Annotate(id, expected string, patch func(*T)) (T, error) {
	return c.UpdateStatus(id, expected, expected, func(v *T) {
		if patch != nil {
			patch(v)
		}
	})
}
