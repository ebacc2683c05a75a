// Package store provides persistent scratch stores for the disk-backed engine.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/congo-pay/txengine/internal/ledger"
)

const (
	prefixTx  byte = 't'
	prefixRef byte = 'r'
)

// txKey encodes tx big-endian behind a one byte prefix so keys sort by tx id.
func txKey(prefix byte, tx uint32) []byte {
	k := make([]byte, 5)
	k[0] = prefix
	binary.BigEndian.PutUint32(k[1:], tx)
	return k
}

func decodeTxKey(k []byte) (uint32, bool) {
	if len(k) != 5 {
		return 0, false
	}
	return binary.BigEndian.Uint32(k[1:]), true
}

func encodeRecord(rec ledger.StoredTx) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode tx %d: %w", rec.Tx, err)
	}
	return b, nil
}

func decodeRecord(b []byte) (ledger.StoredTx, error) {
	var rec ledger.StoredTx
	if err := json.Unmarshal(b, &rec); err != nil {
		return ledger.StoredTx{}, fmt.Errorf("decode stored tx: %w", err)
	}
	return rec, nil
}
