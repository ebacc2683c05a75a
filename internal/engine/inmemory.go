package engine

import (
	"context"
	"log/slog"

	"github.com/congo-pay/txengine/internal/ledger"
)

// InMemory applies the whole input in one pass, keeping every deposit and
// withdrawal in a map for later dispute lookups.
type InMemory struct {
	logger *slog.Logger
	opts   []ledger.Option
}

// NewInMemory builds the single-pass engine.
func NewInMemory(logger *slog.Logger, opts ...ledger.Option) *InMemory {
	return &InMemory{logger: logger, opts: opts}
}

func (e *InMemory) Name() string { return "memory" }

func (e *InMemory) Run(ctx context.Context, src Source) (Result, error) {
	l := ledger.New(ledger.NewMemoryStore(), e.opts...)
	res := Result{Ledger: l}

	err := applyPass(ctx, src, e.logger, &res.Tally, l.Apply)
	e.logger.Debug("pass complete", slog.String("engine", e.Name()), slog.Int64("rows", res.Tally.Rows))
	return res, err
}
