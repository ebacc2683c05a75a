// Package runner drives a single run: strategy selection, processing, report output
// and the process exit status.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/txengine/internal/config"
	"github.com/congo-pay/txengine/internal/csvio"
	"github.com/congo-pay/txengine/internal/engine"
	"github.com/congo-pay/txengine/internal/infra"
	"github.com/congo-pay/txengine/internal/ledger"
	"github.com/congo-pay/txengine/internal/metrics"
	"github.com/congo-pay/txengine/internal/report"
	"github.com/congo-pay/txengine/internal/store"
	"github.com/congo-pay/txengine/internal/strategy"
)

// ExitCode is the process status reported for a run.
type ExitCode int

const (
	// ExitOK means every row was applied.
	ExitOK ExitCode = 0
	// ExitRejected means the run completed but some rows were rejected.
	ExitRejected ExitCode = 1
	// ExitAborted means a storage or input fault stopped the run, or it could not start.
	ExitAborted ExitCode = 2
)

const metricsNamespace = "txengine"

// Input is a re-openable source whose size is known up front.
type Input interface {
	engine.Source
	Size() (int64, error)
}

// Summary describes a finished run.
type Summary struct {
	RunID      uuid.UUID
	Strategy   strategy.Decision
	Estimate   strategy.Estimate
	Tally      engine.Tally
	Referenced int
	Accounts   int
	Err        error
}

// Runner owns the collaborators of a run.
type Runner struct {
	cfg     config.Config
	logger  *slog.Logger
	memory  strategy.MemoryProvider
	redis   *redis.Client
	sink    report.Sink
	metrics *metrics.Recorder
	newID   func() uuid.UUID
}

// Option customises a Runner.
type Option func(*Runner)

// WithMemoryProvider replaces the host memory reading.
func WithMemoryProvider(p strategy.MemoryProvider) Option {
	return func(r *Runner) { r.memory = p }
}

// WithRedisClient supplies the client used by the redis scratch store. The caller
// keeps ownership of it.
func WithRedisClient(c *redis.Client) Option {
	return func(r *Runner) { r.redis = c }
}

// WithSink publishes final balances of completed runs to s.
func WithSink(s report.Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithRunID fixes the run id.
func WithRunID(id uuid.UUID) Option {
	return func(r *Runner) { r.newID = func() uuid.UUID { return id } }
}

// New builds a Runner from configuration.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		logger:  logger,
		memory:  strategy.HostMemory{},
		metrics: metrics.NewRecorder(metricsNamespace),
		newID:   uuid.New,
	}
	if cfg.AvailableMemory > 0 {
		r.memory = strategy.StaticMemory(cfg.AvailableMemory)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Metrics exposes the run's recorder.
func (r *Runner) Metrics() *metrics.Recorder { return r.metrics }

// Run processes in and writes the balance report to out. The report is written even
// when the run aborts, carrying the balances reached before the fault.
func (r *Runner) Run(ctx context.Context, in Input, out io.Writer) (Summary, ExitCode) {
	started := time.Now()
	sum := Summary{RunID: r.newID()}
	logger := r.logger.With(slog.String("run_id", sum.RunID.String()))

	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}

	var res engine.Result
	res, sum.Err = r.process(ctx, in, logger, &sum)

	var accounts []ledger.Account
	if res.Ledger != nil {
		accounts = res.Ledger.Accounts()
	}
	sum.Tally = res.Tally
	sum.Referenced = res.Referenced
	sum.Accounts = len(accounts)

	if err := csvio.WriteAccounts(out, accounts); err != nil {
		logger.Error("write report", "error", err)
		if sum.Err == nil {
			sum.Err = fmt.Errorf("write report: %w", err)
		}
	}

	if sum.Err == nil && r.sink != nil {
		if err := r.sink.Publish(ctx, sum.RunID, accounts); err != nil {
			logger.Error("publish balances", "error", err)
			sum.Err = fmt.Errorf("publish balances: %w", err)
		}
	}

	r.record(sum, time.Since(started), logger)

	code := exitCode(sum)
	logger.Info("run finished",
		slog.String("strategy", sum.Strategy.String()),
		slog.Int64("rows", sum.Tally.Rows),
		slog.Int64("applied", sum.Tally.Applied),
		slog.Int64("rejected", sum.Tally.Rejected()),
		slog.Int("accounts", sum.Accounts),
		slog.Int("exit_code", int(code)),
	)
	return sum, code
}

func (r *Runner) process(ctx context.Context, in Input, logger *slog.Logger, sum *Summary) (engine.Result, error) {
	if err := r.estimator().Validate(); err != nil {
		logger.Error("invalid estimator settings", "error", err)
		return engine.Result{}, fmt.Errorf("estimator: %w", err)
	}

	size, err := in.Size()
	if err != nil {
		logger.Error("inspect input", "error", err)
		return engine.Result{}, fmt.Errorf("%w: %w", engine.ErrInput, err)
	}

	sum.Strategy, sum.Estimate = r.choose(ctx, uint64(size), logger)

	eng, cleanup, err := r.buildEngine(ctx, sum.Strategy, sum.RunID, logger)
	if err != nil {
		logger.Error("prepare engine", "error", err)
		return engine.Result{}, err
	}
	defer cleanup()

	res, err := eng.Run(ctx, in)
	if err != nil {
		logger.Error("run aborted", slog.String("engine", eng.Name()), "error", err)
	}
	return res, err
}

func (r *Runner) choose(ctx context.Context, inputBytes uint64, logger *slog.Logger) (strategy.Decision, strategy.Estimate) {
	est := r.estimator()

	switch r.cfg.Strategy {
	case config.StrategyMemory, config.StrategyDisk:
		decision := strategy.InMemory
		if r.cfg.Strategy == config.StrategyDisk {
			decision = strategy.DiskBacked
		}
		logger.Info("strategy forced", slog.String("strategy", decision.String()), slog.Uint64("input_bytes", inputBytes))
		return decision, est.Estimate(inputBytes, 0)
	}

	decision, estimate, err := strategy.Selector{Estimator: est, Memory: r.memory}.Choose(ctx, inputBytes)
	if err != nil {
		logger.Warn("available memory unknown, using disk strategy", "error", err)
	}
	logger.Info("strategy selected",
		slog.String("strategy", decision.String()),
		slog.Uint64("input_bytes", estimate.InputBytes),
		slog.Uint64("available_bytes", estimate.AvailableBytes),
		slog.Uint64("estimated_rows", estimate.EstimatedRows),
		slog.Uint64("required_bytes", estimate.RequiredBytes),
		slog.Uint64("threshold_bytes", estimate.ThresholdBytes),
	)
	return decision, estimate
}

func (r *Runner) estimator() strategy.Estimator {
	return strategy.Estimator{
		RowBytes:        r.cfg.RowBytes,
		RecordFootprint: r.cfg.RecordFootprint,
		SafetyFactor:    r.cfg.SafetyFactor,
		MemoryFraction:  r.cfg.MemoryFraction,
	}
}

func (r *Runner) buildEngine(ctx context.Context, decision strategy.Decision, runID uuid.UUID, logger *slog.Logger) (engine.Engine, func(), error) {
	opts := []ledger.Option{ledger.WithFreezeLocked(r.cfg.FreezeLocked)}
	noop := func() {}

	if decision == strategy.InMemory {
		return engine.NewInMemory(logger, opts...), noop, nil
	}

	switch r.cfg.Store {
	case config.StoreRedis:
		client := r.redis
		cleanup := noop
		if client == nil {
			c, err := infra.NewRedisClient(ctx, r.cfg.RedisURL)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %w", ledger.ErrStorageFault, err)
			}
			client = c
			cleanup = func() {
				if err := c.Close(); err != nil {
					logger.Warn("close redis", "error", err)
				}
			}
		}
		return engine.NewDiskBacked(store.NewRedis(client, runID.String()), logger, opts...), cleanup, nil

	default:
		db, dir, err := infra.OpenScratchBadger(r.cfg.ScratchDir, runID.String())
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ledger.ErrStorageFault, err)
		}
		logger.Debug("scratch store opened", slog.String("dir", dir))
		return engine.NewDiskBacked(store.NewBadger(db, dir), logger, opts...), noop, nil
	}
}

func (r *Runner) record(sum Summary, elapsed time.Duration, logger *slog.Logger) {
	r.metrics.RecordStrategy(sum.Strategy, sum.Estimate)
	r.metrics.AddRows(metrics.OutcomeApplied, sum.Tally.Applied)
	for _, class := range ledger.Classes {
		r.metrics.AddRows(class.String(), sum.Tally.Count(class))
	}
	r.metrics.RecordResult(sum.Accounts, sum.Referenced, sum.Err != nil, elapsed)

	if r.cfg.MetricsFile == "" {
		return
	}
	if err := r.metrics.WriteTextfile(r.cfg.MetricsFile); err != nil {
		logger.Warn("metrics not written", "error", err)
	}
}

func exitCode(sum Summary) ExitCode {
	switch {
	case sum.Err != nil:
		return ExitAborted
	case sum.Tally.Rejected() > 0:
		return ExitRejected
	default:
		return ExitOK
	}
}
