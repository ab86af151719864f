package clob

import "github.com/shopspring/decimal"

// Balance tracks one account's funds in one currency. The invariant
// total = frozen + available, with all three non-negative, holds after every
// successful mutation. A Balance is owned by exactly one Sequencer worker and
// is never shared.
type Balance struct {
	CurrencyID int32
	Total      decimal.Decimal
	Frozen     decimal.Decimal
	Available  decimal.Decimal
}

func NewBalance(currencyID int32) *Balance {
	return &Balance{CurrencyID: currencyID}
}

// Increase credits amount to total and available.
func (b *Balance) Increase(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidArgument
	}
	b.Total = b.Total.Add(amount)
	b.Available = b.Available.Add(amount)
	return nil
}

// Decrease debits amount from total and available.
func (b *Balance) Decrease(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidArgument
	}
	if b.Available.LessThan(amount) {
		return ErrInsufficientBalance
	}
	b.Total = b.Total.Sub(amount)
	b.Available = b.Available.Sub(amount)
	return nil
}

// Freeze reserves amount for an open order, moving it from available to
// frozen. Total is unchanged.
func (b *Balance) Freeze(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidArgument
	}
	if b.Available.LessThan(amount) {
		return ErrInsufficientBalance
	}
	b.Available = b.Available.Sub(amount)
	b.Frozen = b.Frozen.Add(amount)
	return nil
}

// Unfreeze releases a reservation back to available. Total is unchanged.
func (b *Balance) Unfreeze(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidArgument
	}
	if b.Frozen.LessThan(amount) {
		return ErrInsufficientBalance
	}
	b.Frozen = b.Frozen.Sub(amount)
	b.Available = b.Available.Add(amount)
	return nil
}

// SpendFrozen consumes a reservation during trade settlement: amount leaves
// both frozen and total.
func (b *Balance) SpendFrozen(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidArgument
	}
	if b.Frozen.LessThan(amount) {
		return ErrInsufficientBalance
	}
	b.Frozen = b.Frozen.Sub(amount)
	b.Total = b.Total.Sub(amount)
	return nil
}

// Account maps currency ids to balances. Balances are created lazily on
// first use and live for the process lifetime.
type Account struct {
	ID       int32
	balances map[int32]*Balance
}

func NewAccount(id int32) *Account {
	return &Account{
		ID:       id,
		balances: make(map[int32]*Balance),
	}
}

// Balance returns the balance for currencyID, creating an empty one if the
// account has never touched that currency.
func (a *Account) Balance(currencyID int32) *Balance {
	b, ok := a.balances[currencyID]
	if !ok {
		b = NewBalance(currencyID)
		a.balances[currencyID] = b
	}
	return b
}

// Find returns the balance for currencyID without creating it.
func (a *Account) Find(currencyID int32) (*Balance, bool) {
	b, ok := a.balances[currencyID]
	return b, ok
}

// Balances exposes the underlying map. Callers outside the owning Sequencer
// must treat the result as read-only snapshot data.
func (a *Account) Balances() map[int32]*Balance {
	return a.balances
}

// ledger is a single shard's account store, owned by one Sequencer worker.
type ledger struct {
	accounts map[int32]*Account
}

func newLedger() *ledger {
	return &ledger{accounts: make(map[int32]*Account)}
}

// account returns the account, creating it on first use.
func (l *ledger) account(id int32) *Account {
	a, ok := l.accounts[id]
	if !ok {
		a = NewAccount(id)
		l.accounts[id] = a
	}
	return a
}

// find returns the account without creating it.
func (l *ledger) find(id int32) (*Account, bool) {
	a, ok := l.accounts[id]
	return a, ok
}
