package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/congo-pay/txengine/internal/ledger"
)

// Precision is the number of fractional digits written for every amount.
const Precision = 4

var header = []string{"client", "available", "held", "total", "locked"}

// WriteAccounts writes a header followed by one line per account, in the order given.
func WriteAccounts(w io.Writer, accounts []ledger.Account) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	row := make([]string, len(header))
	for _, a := range accounts {
		row[0] = strconv.FormatUint(uint64(a.Client), 10)
		row[1] = a.Available.StringFixed(Precision)
		row[2] = a.Held.StringFixed(Precision)
		row[3] = a.Total.StringFixed(Precision)
		row[4] = strconv.FormatBool(a.Locked)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write client %d: %w", a.Client, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
