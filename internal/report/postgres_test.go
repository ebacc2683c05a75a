package report

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/txengine/internal/infra"
	"github.com/congo-pay/txengine/internal/ledger"
)

func setupSink(t *testing.T) *PostgresSink {
	t.Helper()
	url := os.Getenv("TXENGINE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TXENGINE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := infra.NewPostgresPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	sink := NewPostgresSink(pool, 4)
	require.NoError(t, sink.EnsureSchema(ctx))
	return sink
}

func TestPostgresSinkPublish(t *testing.T) {
	sink := setupSink(t)
	ctx := context.Background()
	runID := uuid.New()

	accounts := []ledger.Account{
		{Client: 1, Available: decimal.RequireFromString("1.23456"), Held: decimal.Zero, Total: decimal.RequireFromString("1.23456")},
		{Client: 2, Available: decimal.Zero, Held: decimal.NewFromInt(5), Total: decimal.NewFromInt(5), Locked: true},
	}
	require.NoError(t, sink.Publish(ctx, runID, accounts))

	got, err := sink.Balances(ctx, runID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, uint16(1), got[0].Client)
	assert.Equal(t, "1.2346", got[0].Available.StringFixed(4))
	assert.True(t, got[1].Locked)
	assert.True(t, got[1].Held.Equal(decimal.NewFromInt(5)))
}

func TestPostgresSinkRepublishOverwrites(t *testing.T) {
	sink := setupSink(t)
	ctx := context.Background()
	runID := uuid.New()

	acct := ledger.Account{Client: 9, Available: decimal.NewFromInt(1), Held: decimal.Zero, Total: decimal.NewFromInt(1)}
	require.NoError(t, sink.Publish(ctx, runID, []ledger.Account{acct}))

	acct.Available = decimal.NewFromInt(2)
	acct.Total = decimal.NewFromInt(2)
	require.NoError(t, sink.Publish(ctx, runID, []ledger.Account{acct}))

	got, err := sink.Balances(ctx, runID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Total.Equal(decimal.NewFromInt(2)))
}

func TestPostgresSinkEmptyRun(t *testing.T) {
	sink := setupSink(t)
	ctx := context.Background()
	runID := uuid.New()

	require.NoError(t, sink.Publish(ctx, runID, nil))
	got, err := sink.Balances(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, got)
}
