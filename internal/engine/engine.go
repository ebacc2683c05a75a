// Package engine runs a transaction log through the ledger using either the
// in-memory or the disk-backed strategy.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/congo-pay/txengine/internal/csvio"
	"github.com/congo-pay/txengine/internal/ledger"
)

// Source is a re-openable sequential input.
type Source interface {
	Open() (io.ReadCloser, error)
}

// ScratchStore is the persistent state owned by the disk-backed engine.
type ScratchStore interface {
	ledger.TxStore
	MarkReferenced(ctx context.Context, tx uint32) error
	Referenced(ctx context.Context, tx uint32) (bool, error)
	CountReferenced(ctx context.Context) (int, error)
	Close() error
}

// Engine processes a whole source.
type Engine interface {
	Name() string
	// Run consumes src. On a fatal error the returned Result still carries the ledger
	// state reached so far.
	Run(ctx context.Context, src Source) (Result, error)
}

// Result is what a run leaves behind.
type Result struct {
	Ledger *ledger.Ledger
	Tally  Tally
	// Referenced is the number of distinct transactions targeted by dispute-class
	// rows. Only the disk-backed engine computes it.
	Referenced int
}

// ErrInput marks failures reading the source itself.
var ErrInput = errors.New("input failure")

// applyPass streams src once, applying every decoded row and tallying outcomes.
func applyPass(ctx context.Context, src Source, logger *slog.Logger, tally *Tally, apply func(context.Context, ledger.Record) error) error {
	rc, err := src.Open()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInput, err)
	}
	defer rc.Close()

	r := csvio.NewReader(rc)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err == nil {
			err = apply(ctx, rec)
		} else if !isRowError(err) {
			return fmt.Errorf("%w: %w", ErrInput, err)
		}

		if err := tally.observe(r.Row(), err, logger); err != nil {
			return err
		}
	}
}

func isRowError(err error) bool {
	var rowErr *ledger.RowError
	return errors.As(err, &rowErr)
}
