package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind is the type of a transaction record.
type Kind uint8

const (
	KindDeposit Kind = iota + 1
	KindWithdrawal
	KindDispute
	KindResolve
	KindChargeback
)

// ParseKind maps the lowercase CSV type column to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "deposit":
		return KindDeposit, true
	case "withdrawal":
		return KindWithdrawal, true
	case "dispute":
		return KindDispute, true
	case "resolve":
		return KindResolve, true
	case "chargeback":
		return KindChargeback, true
	}
	return 0, false
}

func (k Kind) String() string {
	switch k {
	case KindDeposit:
		return "deposit"
	case KindWithdrawal:
		return "withdrawal"
	case KindDispute:
		return "dispute"
	case KindResolve:
		return "resolve"
	case KindChargeback:
		return "chargeback"
	default:
		return "unknown"
	}
}

// References reports whether the kind points at an earlier deposit or withdrawal.
func (k Kind) References() bool {
	return k == KindDispute || k == KindResolve || k == KindChargeback
}

// Record is one decoded input row.
type Record struct {
	Kind      Kind
	Client    uint16
	Tx        uint32
	Amount    decimal.Decimal
	HasAmount bool
}

// StoredTx is the deposit or withdrawal kept for later dispute lookups.
type StoredTx struct {
	Tx          uint32          `json:"tx"`
	Client      uint16          `json:"client"`
	Kind        Kind            `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Disputed    bool            `json:"disputed"`
	ChargedBack bool            `json:"charged_back,omitempty"`
}

// Account is a client balance snapshot.
type Account struct {
	Client    uint16
	Available decimal.Decimal
	Held      decimal.Decimal
	Total     decimal.Decimal
	Locked    bool
}

// TxStore holds stored transactions. Implementations report I/O failures as plain
// errors; the ledger wraps them as storage faults.
type TxStore interface {
	Get(ctx context.Context, tx uint32) (StoredTx, bool, error)
	Put(ctx context.Context, rec StoredTx) error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithFreezeLocked controls whether deposits and withdrawals are refused once an
// account has been charged back. Defaults to true.
func WithFreezeLocked(freeze bool) Option {
	return func(l *Ledger) { l.freezeLocked = freeze }
}

// Ledger applies the account state machine over a transaction store. It is owned by a
// single engine for the length of a run and is not safe for concurrent use.
type Ledger struct {
	store        TxStore
	seen         ClientTracker
	accounts     map[uint16]*Account
	freezeLocked bool
}

// New creates an empty ledger backed by store.
func New(store TxStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:        store,
		accounts:     make(map[uint16]*Account),
		freezeLocked: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Apply dispatches a record to the matching operation.
func (l *Ledger) Apply(ctx context.Context, rec Record) error {
	switch rec.Kind {
	case KindDeposit:
		return l.ApplyDeposit(ctx, rec.Client, rec.Tx, rec.Amount)
	case KindWithdrawal:
		return l.ApplyWithdrawal(ctx, rec.Client, rec.Tx, rec.Amount)
	case KindDispute:
		return l.ApplyDispute(ctx, rec.Client, rec.Tx)
	case KindResolve:
		return l.ApplyResolve(ctx, rec.Client, rec.Tx)
	case KindChargeback:
		return l.ApplyChargeback(ctx, rec.Client, rec.Tx)
	default:
		return rowError(ClassDecode, rec.Tx, fmt.Errorf("%w: kind %d", ErrMalformedRecord, rec.Kind))
	}
}

// ApplyDeposit credits amount to the client. The account is created once the deposit
// applies.
func (l *Ledger) ApplyDeposit(ctx context.Context, client uint16, tx uint32, amount decimal.Decimal) error {
	acct := l.existing(client)
	if acct != nil && acct.Locked && l.freezeLocked {
		return rowError(ClassInvalidTransition, tx, ErrAccountLocked)
	}
	if err := l.checkReuse(ctx, tx); err != nil {
		return err
	}

	rec := StoredTx{Tx: tx, Client: client, Kind: KindDeposit, Amount: amount}
	if err := l.store.Put(ctx, rec); err != nil {
		return storageFault("put", tx, err)
	}

	if acct == nil {
		acct = l.account(client)
	}
	acct.Available = acct.Available.Add(amount)
	acct.Total = acct.Total.Add(amount)
	return nil
}

// ApplyWithdrawal debits amount when the available balance covers it. A client with no
// account has nothing available.
func (l *Ledger) ApplyWithdrawal(ctx context.Context, client uint16, tx uint32, amount decimal.Decimal) error {
	acct := l.existing(client)
	available := decimal.Zero
	if acct != nil {
		if acct.Locked && l.freezeLocked {
			return rowError(ClassInvalidTransition, tx, ErrAccountLocked)
		}
		available = acct.Available
	}
	if amount.GreaterThan(available) {
		return rowError(ClassInsufficientFunds, tx, ErrInsufficientFunds)
	}
	if err := l.checkReuse(ctx, tx); err != nil {
		return err
	}

	rec := StoredTx{Tx: tx, Client: client, Kind: KindWithdrawal, Amount: amount}
	if err := l.store.Put(ctx, rec); err != nil {
		return storageFault("put", tx, err)
	}

	if acct == nil {
		acct = l.account(client)
	}
	acct.Available = acct.Available.Sub(amount)
	acct.Total = acct.Total.Sub(amount)
	return nil
}

// checkReuse refuses to replace a stored transaction that a dispute still depends on.
// Undisputed records are overwritten.
func (l *Ledger) checkReuse(ctx context.Context, tx uint32) error {
	prev, ok, err := l.store.Get(ctx, tx)
	if err != nil {
		return storageFault("get", tx, err)
	}
	if ok && (prev.Disputed || prev.ChargedBack) {
		return rowError(ClassInvalidTransition, tx, ErrDuplicateTransaction)
	}
	return nil
}

// ApplyDispute moves a deposit's amount from available to held.
func (l *Ledger) ApplyDispute(ctx context.Context, client uint16, tx uint32) error {
	rec, acct, err := l.lookup(ctx, client, tx)
	if err != nil {
		return err
	}
	switch {
	case rec.Kind != KindDeposit:
		return rowError(ClassInvalidTransition, tx, ErrNotDisputable)
	case rec.Disputed:
		return rowError(ClassInvalidTransition, tx, ErrAlreadyDisputed)
	case rec.ChargedBack:
		return rowError(ClassInvalidTransition, tx, ErrAlreadyChargedBack)
	}

	rec.Disputed = true
	if err := l.store.Put(ctx, rec); err != nil {
		return storageFault("put", tx, err)
	}

	acct.Available = acct.Available.Sub(rec.Amount)
	acct.Held = acct.Held.Add(rec.Amount)
	return nil
}

// ApplyResolve releases a disputed amount back to available.
func (l *Ledger) ApplyResolve(ctx context.Context, client uint16, tx uint32) error {
	rec, acct, err := l.lookupDisputed(ctx, client, tx)
	if err != nil {
		return err
	}

	rec.Disputed = false
	if err := l.store.Put(ctx, rec); err != nil {
		return storageFault("put", tx, err)
	}

	acct.Held = acct.Held.Sub(rec.Amount)
	acct.Available = acct.Available.Add(rec.Amount)
	return nil
}

// ApplyChargeback reverses a disputed deposit and locks the account.
func (l *Ledger) ApplyChargeback(ctx context.Context, client uint16, tx uint32) error {
	rec, acct, err := l.lookupDisputed(ctx, client, tx)
	if err != nil {
		return err
	}

	rec.Disputed = false
	rec.ChargedBack = true
	if err := l.store.Put(ctx, rec); err != nil {
		return storageFault("put", tx, err)
	}

	acct.Held = acct.Held.Sub(rec.Amount)
	acct.Total = acct.Total.Sub(rec.Amount)
	acct.Locked = true
	return nil
}

// Account returns a snapshot of the client's account.
func (l *Ledger) Account(client uint16) (Account, bool) {
	if !l.seen.IsSeen(client) {
		return Account{}, false
	}
	return *l.accounts[client], true
}

// Accounts returns snapshots of every account in ascending client order.
func (l *Ledger) Accounts() []Account {
	out := make([]Account, 0, l.seen.Len())
	l.seen.Each(func(client uint16) {
		out = append(out, *l.accounts[client])
	})
	return out
}

// Len reports the number of accounts.
func (l *Ledger) Len() int { return l.seen.Len() }

func (l *Ledger) existing(client uint16) *Account {
	if !l.seen.IsSeen(client) {
		return nil
	}
	return l.accounts[client]
}

func (l *Ledger) account(client uint16) *Account {
	if l.seen.IsSeen(client) {
		return l.accounts[client]
	}
	acct := &Account{Client: client}
	l.accounts[client] = acct
	l.seen.MarkSeen(client)
	return acct
}

func (l *Ledger) lookup(ctx context.Context, client uint16, tx uint32) (StoredTx, *Account, error) {
	rec, ok, err := l.store.Get(ctx, tx)
	if err != nil {
		return StoredTx{}, nil, storageFault("get", tx, err)
	}
	if !ok || !l.seen.IsSeen(rec.Client) {
		return StoredTx{}, nil, rowError(ClassUnknownReference, tx, ErrUnknownTransaction)
	}
	if rec.Client != client {
		return StoredTx{}, nil, rowError(ClassUnknownReference, tx, ErrClientMismatch)
	}
	return rec, l.accounts[client], nil
}

func (l *Ledger) lookupDisputed(ctx context.Context, client uint16, tx uint32) (StoredTx, *Account, error) {
	rec, acct, err := l.lookup(ctx, client, tx)
	if err != nil {
		return StoredTx{}, nil, err
	}
	if !rec.Disputed {
		return StoredTx{}, nil, rowError(ClassInvalidTransition, tx, ErrNotDisputed)
	}
	return rec, acct, nil
}
