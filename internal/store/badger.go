package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/congo-pay/txengine/internal/ledger"
)

var refMarker = []byte{1}

// Badger keeps stored transactions and reference markers in an embedded badger
// database. The database and its directory belong to the store and are removed on
// Close.
type Badger struct {
	db    *badger.DB
	dir   string
	batch *badger.WriteBatch
}

// NewBadger wraps an open database. dir is deleted on Close when non-empty.
func NewBadger(db *badger.DB, dir string) *Badger {
	return &Badger{db: db, dir: dir}
}

func (s *Badger) Get(_ context.Context, tx uint32) (ledger.StoredTx, bool, error) {
	if err := s.flush(); err != nil {
		return ledger.StoredTx{}, false, err
	}

	var rec ledger.StoredTx
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(txKey(prefixTx, tx))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeRecord(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ledger.StoredTx{}, false, nil
	}
	if err != nil {
		return ledger.StoredTx{}, false, err
	}
	return rec, true, nil
}

func (s *Badger) Put(_ context.Context, rec ledger.StoredTx) error {
	if err := s.flush(); err != nil {
		return err
	}
	val, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(txKey(prefixTx, rec.Tx), val)
	})
}

// MarkReferenced records that some row references tx. Markers are batched and
// become visible to reads as soon as any read or write follows.
func (s *Badger) MarkReferenced(_ context.Context, tx uint32) error {
	if s.batch == nil {
		s.batch = s.db.NewWriteBatch()
	}
	if err := s.batch.Set(txKey(prefixRef, tx), refMarker); err != nil {
		return fmt.Errorf("mark tx %d: %w", tx, err)
	}
	return nil
}

// Referenced reports whether tx was marked.
func (s *Badger) Referenced(_ context.Context, tx uint32) (bool, error) {
	if err := s.flush(); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(txKey(prefixRef, tx))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CountReferenced walks the reference markers in key order.
func (s *Badger) CountReferenced(ctx context.Context) (int, error) {
	if err := s.flush(); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixRef}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if _, ok := decodeTxKey(it.Item().Key()); ok {
				n++
			}
			if n%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return n, err
}

// Close releases the database and removes its directory.
func (s *Badger) Close() error {
	if s.batch != nil {
		s.batch.Cancel()
		s.batch = nil
	}
	err := s.db.Close()
	if s.dir != "" {
		if rmErr := os.RemoveAll(s.dir); rmErr != nil && err == nil {
			err = fmt.Errorf("remove scratch dir: %w", rmErr)
		}
	}
	return err
}

func (s *Badger) flush() error {
	if s.batch == nil {
		return nil
	}
	b := s.batch
	s.batch = nil
	if err := b.Flush(); err != nil {
		return fmt.Errorf("flush reference markers: %w", err)
	}
	return nil
}
