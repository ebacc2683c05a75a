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

// DiskBacked makes two passes over the input. The first pass records, in the
// scratch store, every transaction id that a dispute, resolve or chargeback refers
// to. The second pass applies rows in arrival order through the same ledger as the
// in-memory engine, persisting only the deposits and withdrawals that were
// referenced. Only account balances stay in memory.
type DiskBacked struct {
	store  ScratchStore
	logger *slog.Logger
	opts   []ledger.Option
}

// NewDiskBacked builds the two-pass engine. The engine takes ownership of store and
// closes it when Run returns.
func NewDiskBacked(store ScratchStore, logger *slog.Logger, opts ...ledger.Option) *DiskBacked {
	return &DiskBacked{store: store, logger: logger, opts: opts}
}

func (e *DiskBacked) Name() string { return "disk" }

func (e *DiskBacked) Run(ctx context.Context, src Source) (res Result, err error) {
	defer func() {
		if closeErr := e.store.Close(); closeErr != nil {
			e.logger.Warn("discard scratch store", slog.Any("error", closeErr))
		}
	}()

	l := ledger.New(referencedOnly{e.store}, e.opts...)
	res.Ledger = l

	if err := e.indexReferences(ctx, src); err != nil {
		return res, err
	}

	res.Referenced, err = e.store.CountReferenced(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: count references: %w", ledger.ErrStorageFault, err)
	}
	e.logger.Info("reference index built", slog.Int("referenced", res.Referenced))

	err = applyPass(ctx, src, e.logger, &res.Tally, l.Apply)
	e.logger.Debug("pass complete", slog.String("engine", e.Name()), slog.Int64("rows", res.Tally.Rows))
	return res, err
}

// indexReferences is the first pass. Malformed rows are skipped silently here; the
// apply pass reports them.
func (e *DiskBacked) indexReferences(ctx context.Context, src Source) error {
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
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if isRowError(err) {
				continue
			}
			return fmt.Errorf("%w: %w", ErrInput, err)
		}

		if !rec.Kind.References() {
			continue
		}
		if err := e.store.MarkReferenced(ctx, rec.Tx); err != nil {
			return fmt.Errorf("%w: mark tx %d: %w", ledger.ErrStorageFault, rec.Tx, err)
		}
	}
}

// referencedOnly drops writes of transactions no row will ever look up.
type referencedOnly struct {
	ScratchStore
}

func (s referencedOnly) Put(ctx context.Context, rec ledger.StoredTx) error {
	ok, err := s.Referenced(ctx, rec.Tx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return s.ScratchStore.Put(ctx, rec)
}
