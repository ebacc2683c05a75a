package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds occurs when a withdrawal exceeds the available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnknownTransaction indicates a dispute, resolve or chargeback referenced a
	// transaction id with no applied deposit or withdrawal behind it.
	ErrUnknownTransaction = errors.New("unknown transaction")

	// ErrClientMismatch indicates the referenced transaction belongs to another client.
	ErrClientMismatch = errors.New("transaction belongs to another client")

	// ErrAlreadyDisputed indicates a dispute on a transaction already under dispute.
	ErrAlreadyDisputed = errors.New("transaction already disputed")

	// ErrNotDisputed indicates a resolve or chargeback on a transaction that is not
	// currently disputed.
	ErrNotDisputed = errors.New("transaction not disputed")

	// ErrNotDisputable indicates a dispute on a withdrawal.
	ErrNotDisputable = errors.New("only deposits can be disputed")

	// ErrAlreadyChargedBack indicates a dispute on a deposit that was already reversed.
	ErrAlreadyChargedBack = errors.New("transaction already charged back")

	// ErrDuplicateTransaction indicates a deposit or withdrawal reusing the id of a
	// disputed or charged-back transaction.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrAccountLocked indicates a deposit or withdrawal against a frozen account.
	ErrAccountLocked = errors.New("account locked")

	// ErrMalformedRecord indicates a row that does not match the expected shape.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrStorageFault wraps transaction store I/O failures. Unlike row failures it is
	// fatal for the run.
	ErrStorageFault = errors.New("storage fault")
)

// Class groups row failures for tallying and exit status.
type Class int

const (
	ClassDecode Class = iota
	ClassUnknownReference
	ClassInvalidTransition
	ClassInsufficientFunds
)

// Classes lists every row failure class in reporting order.
var Classes = []Class{ClassDecode, ClassUnknownReference, ClassInvalidTransition, ClassInsufficientFunds}

func (c Class) String() string {
	switch c {
	case ClassDecode:
		return "decode_error"
	case ClassUnknownReference:
		return "unknown_reference"
	case ClassInvalidTransition:
		return "invalid_state_transition"
	case ClassInsufficientFunds:
		return "insufficient_funds"
	default:
		return "unknown"
	}
}

// RowError is a recoverable failure of a single input row.
type RowError struct {
	Class Class
	Row   int64
	Tx    uint32
	Err   error
}

func (e *RowError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d (tx %d): %s: %v", e.Row, e.Tx, e.Class, e.Err)
	}
	return fmt.Sprintf("tx %d: %s: %v", e.Tx, e.Class, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

func rowError(class Class, tx uint32, err error) *RowError {
	return &RowError{Class: class, Tx: tx, Err: err}
}

// storageFault marks err as a fatal store failure while keeping it inspectable.
func storageFault(op string, tx uint32, err error) error {
	return fmt.Errorf("%w: %s tx %d: %w", ErrStorageFault, op, tx, err)
}
