package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/txengine/internal/config"
	"github.com/congo-pay/txengine/internal/csvio"
	"github.com/congo-pay/txengine/internal/engine"
	"github.com/congo-pay/txengine/internal/ledger"
	"github.com/congo-pay/txengine/internal/logging"
	"github.com/congo-pay/txengine/internal/strategy"
)

const cleanInput = "type,client,tx,amount\n" +
	"deposit,1,1,1.0\n" +
	"deposit,2,2,2.0\n" +
	"deposit,1,3,2.0\n" +
	"withdrawal,1,4,1.5\n" +
	"dispute,2,2,\n" +
	"resolve,2,2,\n"

const cleanOutput = "client,available,held,total,locked\n" +
	"1,1.5000,0.0000,1.5000,false\n" +
	"2,2.0000,0.0000,2.0000,false\n"

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		AppName:         "txengine",
		LogLevel:        "error",
		Strategy:        config.StrategyAuto,
		Store:           config.StoreBadger,
		ScratchDir:      t.TempDir(),
		MemoryFraction:  0.5,
		SafetyFactor:    3,
		RowBytes:        24,
		RecordFootprint: 128,
		FreezeLocked:    true,
	}
}

type recordingSink struct {
	runID    uuid.UUID
	accounts []ledger.Account
	calls    int
	err      error
}

func (s *recordingSink) Publish(_ context.Context, runID uuid.UUID, accounts []ledger.Account) error {
	s.calls++
	s.runID = runID
	s.accounts = accounts
	return s.err
}

type failingMemory struct{}

func (failingMemory) AvailableMemory(context.Context) (uint64, error) {
	return 0, errors.New("no /proc")
}

func TestRunInMemory(t *testing.T) {
	r := New(testConfig(t), logging.Discard(), WithMemoryProvider(strategy.StaticMemory(1<<30)))

	var out bytes.Buffer
	sum, code := r.Run(context.Background(), csvio.BytesSource(cleanInput), &out)

	assert.Equal(t, ExitOK, code)
	assert.Equal(t, strategy.InMemory, sum.Strategy)
	assert.Equal(t, cleanOutput, out.String())
	assert.Equal(t, int64(6), sum.Tally.Applied)
	assert.Equal(t, 2, sum.Accounts)
	assert.NoError(t, sum.Err)
}

func TestRunDiskBackedBadger(t *testing.T) {
	cfg := testConfig(t)
	r := New(cfg, logging.Discard(), WithMemoryProvider(strategy.StaticMemory(1)))

	var out bytes.Buffer
	sum, code := r.Run(context.Background(), csvio.BytesSource(cleanInput), &out)

	assert.Equal(t, ExitOK, code)
	assert.Equal(t, strategy.DiskBacked, sum.Strategy)
	assert.Equal(t, cleanOutput, out.String())
	assert.Equal(t, 1, sum.Referenced)

	entries, err := os.ReadDir(cfg.ScratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directory must be discarded")
}

func TestRunDiskBackedRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := testConfig(t)
	cfg.Strategy = config.StrategyDisk
	cfg.Store = config.StoreRedis

	r := New(cfg, logging.Discard(), WithRedisClient(client))

	var out bytes.Buffer
	sum, code := r.Run(context.Background(), csvio.BytesSource(cleanInput), &out)

	assert.Equal(t, ExitOK, code)
	assert.Equal(t, strategy.DiskBacked, sum.Strategy)
	assert.Equal(t, cleanOutput, out.String())
	assert.Empty(t, mr.Keys(), "scratch keys must be deleted")
	require.NoError(t, client.Ping(context.Background()).Err(), "caller keeps the client")
}

func TestRunRejectedRows(t *testing.T) {
	input := "type,client,tx,amount\n" +
		"deposit,1,1,5\n" +
		"withdrawal,1,2,10\n" +
		"dispute,1,99,\n"

	for _, forced := range []string{config.StrategyMemory, config.StrategyDisk} {
		t.Run(forced, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Strategy = forced

			var out bytes.Buffer
			sum, code := New(cfg, logging.Discard()).Run(context.Background(), csvio.BytesSource(input), &out)

			assert.Equal(t, ExitRejected, code)
			assert.Equal(t, int64(1), sum.Tally.Count(ledger.ClassInsufficientFunds))
			assert.Equal(t, int64(1), sum.Tally.Count(ledger.ClassUnknownReference))
			assert.Equal(t, "client,available,held,total,locked\n1,5.0000,0.0000,5.0000,false\n", out.String())
		})
	}
}

func TestRunMemoryProviderFailureFallsBackToDisk(t *testing.T) {
	r := New(testConfig(t), logging.Discard(), WithMemoryProvider(failingMemory{}))

	var out bytes.Buffer
	sum, code := r.Run(context.Background(), csvio.BytesSource(cleanInput), &out)

	assert.Equal(t, ExitOK, code)
	assert.Equal(t, strategy.DiskBacked, sum.Strategy)
	assert.Equal(t, cleanOutput, out.String())
}

func TestRunConfiguredAvailableMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.AvailableMemory = 1 << 30

	sum, code := New(cfg, logging.Discard()).Run(context.Background(), csvio.BytesSource(cleanInput), &bytes.Buffer{})

	assert.Equal(t, ExitOK, code)
	assert.Equal(t, strategy.InMemory, sum.Strategy)
	assert.Equal(t, uint64(1<<30), sum.Estimate.AvailableBytes)
}

func TestRunMissingInput(t *testing.T) {
	r := New(testConfig(t), logging.Discard())

	var out bytes.Buffer
	sum, code := r.Run(context.Background(), csvio.FileSource{Path: filepath.Join(t.TempDir(), "absent.csv")}, &out)

	assert.Equal(t, ExitAborted, code)
	assert.ErrorIs(t, sum.Err, engine.ErrInput)
	assert.Equal(t, "client,available,held,total,locked\n", out.String())
}

func TestRunScratchStoreUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategy = config.StrategyDisk
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.ScratchDir = blocker

	sink := &recordingSink{}
	sum, code := New(cfg, logging.Discard(), WithSink(sink)).Run(context.Background(), csvio.BytesSource(cleanInput), &bytes.Buffer{})

	assert.Equal(t, ExitAborted, code)
	assert.ErrorIs(t, sum.Err, ledger.ErrStorageFault)
	assert.Zero(t, sink.calls, "aborted runs are not published")
}

func TestRunPublishesToSink(t *testing.T) {
	runID := uuid.New()
	sink := &recordingSink{}
	r := New(testConfig(t), logging.Discard(),
		WithMemoryProvider(strategy.StaticMemory(1<<30)),
		WithSink(sink),
		WithRunID(runID),
	)

	sum, code := r.Run(context.Background(), csvio.BytesSource(cleanInput), &bytes.Buffer{})

	assert.Equal(t, ExitOK, code)
	assert.Equal(t, runID, sum.RunID)
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, runID, sink.runID)
	require.Len(t, sink.accounts, 2)
	assert.Equal(t, uint16(1), sink.accounts[0].Client)
}

func TestRunSinkFailureAborts(t *testing.T) {
	sink := &recordingSink{err: errors.New("connection reset")}
	r := New(testConfig(t), logging.Discard(), WithMemoryProvider(strategy.StaticMemory(1<<30)), WithSink(sink))

	var out bytes.Buffer
	_, code := r.Run(context.Background(), csvio.BytesSource(cleanInput), &out)

	assert.Equal(t, ExitAborted, code)
	assert.Equal(t, cleanOutput, out.String())
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testConfig(t)
	cfg.Strategy = config.StrategyMemory

	sum, code := New(cfg, logging.Discard()).Run(ctx, csvio.BytesSource(cleanInput), &bytes.Buffer{})
	assert.Equal(t, ExitAborted, code)
	assert.ErrorIs(t, sum.Err, context.Canceled)
}

func TestRunWritesMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategy = config.StrategyMemory
	cfg.MetricsFile = filepath.Join(t.TempDir(), "txengine.prom")

	input := cleanInput + "withdrawal,2,9,100\n"
	r := New(cfg, logging.Discard())
	_, code := r.Run(context.Background(), csvio.BytesSource(input), &bytes.Buffer{})
	assert.Equal(t, ExitRejected, code)

	data, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `txengine_rows_total{outcome="applied"} 6`)
	assert.Contains(t, string(data), `txengine_rows_total{outcome="insufficient_funds"} 1`)
	assert.Contains(t, string(data), `txengine_strategy{strategy="memory"} 1`)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Metrics().Accounts()))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, exitCode(Summary{}))

	rejected := Summary{}
	rejected.Tally.Failures[ledger.ClassDecode] = 1
	assert.Equal(t, ExitRejected, exitCode(rejected))

	rejected.Err = ledger.ErrStorageFault
	assert.Equal(t, ExitAborted, exitCode(rejected))
}
