package csvio

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
)

// GenerateOptions shapes a synthetic input.
type GenerateOptions struct {
	Seed    uint64
	Rows    int
	Clients int
	// MalformedEvery inserts a broken row every n rows when positive.
	MalformedEvery int
}

// Generate writes a random but plausible transaction log. Disputes mostly target
// earlier deposits of the same client, with a share of unknown, foreign or future
// references, and withdrawals sometimes overdraw. The output is deterministic for a
// given seed.
func Generate(w io.Writer, opts GenerateOptions) error {
	if opts.Clients <= 0 {
		opts.Clients = 1
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	bw := bufio.NewWriter(w)

	type issued struct {
		client uint16
		tx     uint32
	}
	var deposits []issued
	nextTx := uint32(1)

	if _, err := fmt.Fprintln(bw, "type, client, tx, amount"); err != nil {
		return err
	}

	for i := 1; i <= opts.Rows; i++ {
		var line string
		client := uint16(rng.IntN(opts.Clients) + 1)

		switch roll := rng.IntN(100); {
		case opts.MalformedEvery > 0 && i%opts.MalformedEvery == 0:
			line = fmt.Sprintf("deposit, %d, not-a-tx, 1.0", client)
		case roll < 45 || len(deposits) == 0:
			line = fmt.Sprintf("deposit, %d, %d, %s", client, nextTx, amount(rng, 1000))
			deposits = append(deposits, issued{client: client, tx: nextTx})
			nextTx++
		case roll < 70:
			line = fmt.Sprintf("withdrawal, %d, %d, %s", client, nextTx, amount(rng, 600))
			nextTx++
		default:
			target := deposits[rng.IntN(len(deposits))]
			switch rng.IntN(10) {
			case 0:
				target.tx = nextTx + uint32(rng.IntN(50)) // future or unknown
			case 1:
				target.client = client // possibly someone else's tx
			}
			kinds := [...]string{"dispute", "dispute", "resolve", "chargeback"}
			line = fmt.Sprintf("%s, %d, %d,", kinds[rng.IntN(len(kinds))], target.client, target.tx)
		}

		if _, err := fmt.Fprintln(bw, line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func amount(rng *rand.Rand, limit int) string {
	whole := rng.IntN(limit)
	frac := rng.IntN(10000)
	return fmt.Sprintf("%d.%04d", whole, frac)
}
