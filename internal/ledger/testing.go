package ledger

import (
	"context"
	"errors"
)

// FailingStore is a test helper TxStore whose operations fail with Err once the
// configured number of successful calls is used up.
type FailingStore struct {
	TxStore
	Err       error
	PutBudget int
	GetBudget int
}

// NewFailingStore wraps an in-memory store that fails after the given budgets.
func NewFailingStore(putBudget, getBudget int) *FailingStore {
	return &FailingStore{
		TxStore:   NewMemoryStore(),
		Err:       errors.New("injected store failure"),
		PutBudget: putBudget,
		GetBudget: getBudget,
	}
}

func (s *FailingStore) Get(ctx context.Context, tx uint32) (StoredTx, bool, error) {
	if s.GetBudget <= 0 {
		return StoredTx{}, false, s.Err
	}
	s.GetBudget--
	return s.TxStore.Get(ctx, tx)
}

func (s *FailingStore) Put(ctx context.Context, rec StoredTx) error {
	if s.PutBudget <= 0 {
		return s.Err
	}
	s.PutBudget--
	return s.TxStore.Put(ctx, rec)
}
