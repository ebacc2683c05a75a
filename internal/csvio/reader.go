// Package csvio decodes transaction rows and encodes account summaries.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/txengine/internal/ledger"
)

// Reader streams records from a CSV input with an optional
// `type,client,tx,amount` header. Fields are trimmed of surrounding whitespace.
type Reader struct {
	csv     *csv.Reader
	row     int64
	started bool
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	cr.LazyQuotes = true
	return &Reader{csv: cr}
}

// Row returns the 1-based index of the last data row returned.
func (r *Reader) Row() int64 { return r.row }

// Read returns the next record. Malformed rows yield a *ledger.RowError of class
// ClassDecode and the reader stays usable; io.EOF marks the end of input; any other
// error is an input failure.
func (r *Reader) Read() (ledger.Record, error) {
	for {
		fields, err := r.csv.Read()
		if err == io.EOF {
			return ledger.Record{}, io.EOF
		}

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			r.started = true
			r.row++
			return ledger.Record{}, &ledger.RowError{
				Class: ledger.ClassDecode,
				Row:   r.row,
				Err:   fmt.Errorf("%w: %v", ledger.ErrMalformedRecord, parseErr.Err),
			}
		}
		if err != nil {
			return ledger.Record{}, fmt.Errorf("read input: %w", err)
		}

		if !r.started {
			r.started = true
			if isHeader(fields) {
				continue
			}
		}
		if isBlank(fields) {
			continue
		}

		r.row++
		rec, err := decode(fields)
		if err != nil {
			return ledger.Record{}, &ledger.RowError{
				Class: ledger.ClassDecode,
				Row:   r.row,
				Tx:    rec.Tx,
				Err:   fmt.Errorf("%w: %v", ledger.ErrMalformedRecord, err),
			}
		}
		return rec, nil
	}
}

func decode(fields []string) (ledger.Record, error) {
	var rec ledger.Record
	if len(fields) < 3 || len(fields) > 4 {
		return rec, fmt.Errorf("expected 3 or 4 fields, got %d", len(fields))
	}

	kind, ok := ledger.ParseKind(strings.ToLower(strings.TrimSpace(fields[0])))
	if !ok {
		return rec, fmt.Errorf("unknown type %q", strings.TrimSpace(fields[0]))
	}
	rec.Kind = kind

	client, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 16)
	if err != nil {
		return rec, fmt.Errorf("client: %w", err)
	}
	rec.Client = uint16(client)

	tx, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 32)
	if err != nil {
		return rec, fmt.Errorf("tx: %w", err)
	}
	rec.Tx = uint32(tx)

	var raw string
	if len(fields) == 4 {
		raw = strings.TrimSpace(fields[3])
	}

	if kind.References() {
		return rec, nil
	}

	if raw == "" {
		return rec, fmt.Errorf("%s requires an amount", kind)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return rec, fmt.Errorf("amount: %w", err)
	}
	if amount.IsNegative() {
		return rec, fmt.Errorf("amount must not be negative: %s", raw)
	}
	rec.Amount = amount
	rec.HasAmount = true
	return rec, nil
}

func isHeader(fields []string) bool {
	return len(fields) > 0 && strings.EqualFold(strings.TrimSpace(fields[0]), "type")
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
