package ledger

import "context"

type memoryStore struct {
	records map[uint32]StoredTx
}

// NewMemoryStore creates a TxStore that keeps every stored transaction in a map for
// the life of the run. It never fails.
func NewMemoryStore() TxStore {
	return &memoryStore{records: make(map[uint32]StoredTx)}
}

func (s *memoryStore) Get(_ context.Context, tx uint32) (StoredTx, bool, error) {
	rec, ok := s.records[tx]
	return rec, ok, nil
}

func (s *memoryStore) Put(_ context.Context, rec StoredTx) error {
	s.records[rec.Tx] = rec
	return nil
}
