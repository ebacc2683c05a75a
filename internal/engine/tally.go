package engine

import (
	"errors"
	"log/slog"

	"github.com/congo-pay/txengine/internal/ledger"
)

// Tally counts row outcomes for a run.
type Tally struct {
	Rows     int64
	Applied  int64
	Failures [4]int64
}

// Rejected returns the number of rows that failed.
func (t Tally) Rejected() int64 {
	var n int64
	for _, c := range t.Failures {
		n += c
	}
	return n
}

// Count returns failures of one class.
func (t Tally) Count(class ledger.Class) int64 {
	if int(class) < 0 || int(class) >= len(t.Failures) {
		return 0
	}
	return t.Failures[class]
}

// observe records the outcome of row. Row failures are counted and logged; anything
// else is returned as fatal without being counted.
func (t *Tally) observe(row int64, err error, logger *slog.Logger) error {
	if err == nil {
		t.Rows++
		t.Applied++
		return nil
	}

	var rowErr *ledger.RowError
	if !errors.As(err, &rowErr) {
		return err
	}
	if rowErr.Row == 0 {
		rowErr.Row = row
	}

	t.Rows++
	t.Failures[rowErr.Class]++
	logger.Warn("row rejected",
		slog.Int64("row", rowErr.Row),
		slog.Any("tx", rowErr.Tx),
		slog.String("class", rowErr.Class.String()),
		slog.Any("error", rowErr.Err),
	)
	return nil
}
