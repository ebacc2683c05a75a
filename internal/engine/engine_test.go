package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/txengine/internal/csvio"
	"github.com/congo-pay/txengine/internal/ledger"
	"github.com/congo-pay/txengine/internal/logging"
	"github.com/congo-pay/txengine/internal/store"
)

func newBadgerStore(t *testing.T) ScratchStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	return store.NewBadger(db, "")
}

func newRedisStore(t *testing.T) ScratchStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return store.NewRedis(client, t.Name())
}

type engineFactory struct {
	name string
	make func(t *testing.T) Engine
}

func engines() []engineFactory {
	return []engineFactory{
		{name: "memory", make: func(*testing.T) Engine { return NewInMemory(logging.Discard()) }},
		{name: "disk/badger", make: func(t *testing.T) Engine { return NewDiskBacked(newBadgerStore(t), logging.Discard()) }},
		{name: "disk/redis", make: func(t *testing.T) Engine { return NewDiskBacked(newRedisStore(t), logging.Discard()) }},
	}
}

func render(t *testing.T, res Result) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, csvio.WriteAccounts(&buf, res.Ledger.Accounts()))
	return buf.String()
}

const header = "client,available,held,total,locked\n"

func TestScenarios(t *testing.T) {
	scenarios := []struct {
		name    string
		input   string
		want    string
		classes map[ledger.Class]int64
	}{
		{
			name:  "A deposit then withdrawal",
			input: "type,client,tx,amount\ndeposit,1,1,100\nwithdrawal,1,2,40\n",
			want:  header + "1,60.0000,0.0000,60.0000,false\n",
		},
		{
			name:  "B dispute holds funds",
			input: "type,client,tx,amount\ndeposit,1,1,100\ndispute,1,1,\n",
			want:  header + "1,0.0000,100.0000,100.0000,false\n",
		},
		{
			name:  "C dispute then resolve",
			input: "type,client,tx,amount\ndeposit,1,1,100\ndispute,1,1,\nresolve,1,1,\n",
			want:  header + "1,100.0000,0.0000,100.0000,false\n",
		},
		{
			name:  "D dispute then chargeback",
			input: "type,client,tx,amount\ndeposit,1,1,100\ndispute,1,1,\nchargeback,1,1,\n",
			want:  header + "1,0.0000,0.0000,0.0000,true\n",
		},
		{
			name:    "E dispute of unknown tx",
			input:   "type,client,tx,amount\ndispute,1,999,\n",
			want:    header,
			classes: map[ledger.Class]int64{ledger.ClassUnknownReference: 1},
		},
		{
			name: "withdrawal after dispute sees held funds",
			input: "type,client,tx,amount\n" +
				"deposit,1,1,100\n" +
				"dispute,1,1,\n" +
				"withdrawal,1,2,50\n" +
				"resolve,1,1,\n" +
				"withdrawal,1,3,50\n",
			want:    header + "1,50.0000,0.0000,50.0000,false\n",
			classes: map[ledger.Class]int64{ledger.ClassInsufficientFunds: 1},
		},
		{
			name: "dispute before its deposit is unknown",
			input: "type,client,tx,amount\n" +
				"dispute,1,1,\n" +
				"deposit,1,1,10\n",
			want:    header + "1,10.0000,0.0000,10.0000,false\n",
			classes: map[ledger.Class]int64{ledger.ClassUnknownReference: 1},
		},
		{
			name: "locked account refuses deposits",
			input: "type,client,tx,amount\n" +
				"deposit,2,1,10\n" +
				"dispute,2,1,\n" +
				"chargeback,2,1,\n" +
				"deposit,2,2,5\n" +
				"deposit,1,3,1.23456\n",
			want:    header + "1,1.2346,0.0000,1.2346,false\n" + "2,0.0000,0.0000,0.0000,true\n",
			classes: map[ledger.Class]int64{ledger.ClassInvalidTransition: 1},
		},
		{
			name: "reused id cannot orphan a dispute",
			input: "type,client,tx,amount\n" +
				"deposit,1,1,100\n" +
				"dispute,1,1,\n" +
				"deposit,2,1,5\n" +
				"resolve,1,1,\n",
			want:    header + "1,100.0000,0.0000,100.0000,false\n",
			classes: map[ledger.Class]int64{ledger.ClassInvalidTransition: 1},
		},
		{
			name: "rejected first withdrawal opens no account",
			input: "type,client,tx,amount\n" +
				"withdrawal,4,1,3\n" +
				"deposit,1,2,1\n",
			want:    header + "1,1.0000,0.0000,1.0000,false\n",
			classes: map[ledger.Class]int64{ledger.ClassInsufficientFunds: 1},
		},
		{
			name: "malformed rows are skipped",
			input: "type,client,tx,amount\n" +
				"deposit,1,1,10\n" +
				"deposit,1,oops,10\n" +
				"refund,1,3,1\n" +
				"withdrawal,1,4,2.5\n",
			want:    header + "1,7.5000,0.0000,7.5000,false\n",
			classes: map[ledger.Class]int64{ledger.ClassDecode: 2},
		},
	}

	for _, sc := range scenarios {
		for _, f := range engines() {
			t.Run(sc.name+"/"+f.name, func(t *testing.T) {
				res, err := f.make(t).Run(context.Background(), csvio.BytesSource(sc.input))
				require.NoError(t, err)
				assert.Equal(t, sc.want, render(t, res))

				var rejected int64
				for _, class := range ledger.Classes {
					assert.Equal(t, sc.classes[class], res.Tally.Count(class), "class %s", class)
					rejected += sc.classes[class]
				}
				assert.Equal(t, rejected, res.Tally.Rejected())
				assert.Equal(t, res.Tally.Rows, res.Tally.Applied+res.Tally.Rejected())
			})
		}
	}
}

func TestStrategyEquivalence(t *testing.T) {
	for seed := uint64(1); seed <= 6; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			var input bytes.Buffer
			require.NoError(t, csvio.Generate(&input, csvio.GenerateOptions{
				Seed:           seed,
				Rows:           3000,
				Clients:        int(seed * 4),
				MalformedEvery: 97,
			}))

			var outputs []string
			var tallies []Tally
			for _, f := range engines() {
				res, err := f.make(t).Run(context.Background(), csvio.BytesSource(input.Bytes()))
				require.NoError(t, err, f.name)
				outputs = append(outputs, render(t, res))
				tallies = append(tallies, res.Tally)

				for _, a := range res.Ledger.Accounts() {
					require.True(t, a.Total.Equal(a.Available.Add(a.Held)), "client %d unbalanced", a.Client)
				}
			}

			for i := 1; i < len(outputs); i++ {
				assert.Equal(t, outputs[0], outputs[i])
				assert.Equal(t, tallies[0], tallies[i])
			}
			assert.Positive(t, tallies[0].Rejected())
			assert.Positive(t, tallies[0].Applied)
		})
	}
}

func TestDiskBackedCountsReferences(t *testing.T) {
	input := "type,client,tx,amount\n" +
		"deposit,1,1,10\n" +
		"deposit,1,2,10\n" +
		"dispute,1,1,\n" +
		"resolve,1,1,\n" +
		"chargeback,1,5,\n"

	res, err := NewDiskBacked(newBadgerStore(t), logging.Discard()).Run(context.Background(), csvio.BytesSource(input))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Referenced)
}

// faultyScratch fails reads and writes of stored transactions after a budget.
type faultyScratch struct {
	*ledger.FailingStore
	refs   map[uint32]bool
	closed bool
}

func newFaultyScratch(putBudget, getBudget int) *faultyScratch {
	return &faultyScratch{FailingStore: ledger.NewFailingStore(putBudget, getBudget), refs: map[uint32]bool{}}
}

func (s *faultyScratch) MarkReferenced(_ context.Context, tx uint32) error {
	s.refs[tx] = true
	return nil
}

func (s *faultyScratch) Referenced(_ context.Context, tx uint32) (bool, error) {
	return s.refs[tx], nil
}

func (s *faultyScratch) CountReferenced(context.Context) (int, error) { return len(s.refs), nil }

func (s *faultyScratch) Close() error {
	s.closed = true
	return nil
}

func TestDiskBackedStorageFaultAborts(t *testing.T) {
	input := "type,client,tx,amount\n" +
		"deposit,1,1,10\n" +
		"deposit,2,2,20\n" +
		"dispute,2,2,\n" +
		"deposit,3,3,30\n"

	scratch := newFaultyScratch(0, 10)
	res, err := NewDiskBacked(scratch, logging.Discard()).Run(context.Background(), csvio.BytesSource(input))

	require.ErrorIs(t, err, ledger.ErrStorageFault)
	assert.True(t, scratch.closed)

	require.NotNil(t, res.Ledger)
	assert.Equal(t, header+"1,10.0000,0.0000,10.0000,false\n", render(t, res))
	assert.Equal(t, int64(1), res.Tally.Applied)
	assert.Zero(t, res.Tally.Rejected())
}

type brokenSource struct{}

func (brokenSource) Open() (io.ReadCloser, error) { return nil, errors.New("permission denied") }

func TestInputFailureIsFatal(t *testing.T) {
	for _, f := range engines() {
		t.Run(f.name, func(t *testing.T) {
			_, err := f.make(t).Run(context.Background(), brokenSource{})
			require.ErrorIs(t, err, ErrInput)
		})
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, f := range engines() {
		t.Run(f.name, func(t *testing.T) {
			_, err := f.make(t).Run(ctx, csvio.BytesSource("deposit,1,1,1\n"))
			require.ErrorIs(t, err, context.Canceled)
		})
	}
}
