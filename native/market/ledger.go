package market

import (
	"fmt"
	"math/bits"

	"github.com/viraj-mahida/betting-contract/core/types"
)

// Bettor is the cumulative stake of one identity on one side of a market.
type Bettor struct {
	Identity types.Identity
	Amount   uint64
}

// Ledger is a fixed-capacity arena of bettor entries kept in insertion order.
// Lookups are linear; the capacity is small enough that a scan beats any
// index. The zero value is an empty ledger.
type Ledger struct {
	slots [MaxBettorsPerSide]Bettor
	n     int
}

// NewLedger builds a ledger from stored entries, rejecting duplicates, zero
// amounts and more than MaxBettorsPerSide entries.
func NewLedger(entries []Bettor) (Ledger, error) {
	var l Ledger
	if len(entries) > MaxBettorsPerSide {
		return l, fmt.Errorf("%w: %d entries", ErrLedgerFull, len(entries))
	}
	for _, entry := range entries {
		if entry.Amount == 0 {
			return Ledger{}, fmt.Errorf("%w: zero stake for %s", ErrInvalidMarketState, entry.Identity)
		}
		if _, dup := l.Find(entry.Identity); dup {
			return Ledger{}, fmt.Errorf("%w: duplicate bettor %s", ErrInvalidMarketState, entry.Identity)
		}
		l.slots[l.n] = entry
		l.n++
	}
	return l, nil
}

// Len returns the number of occupied slots.
func (l *Ledger) Len() int { return l.n }

// Full reports whether no new identity can be inserted.
func (l *Ledger) Full() bool { return l.n >= MaxBettorsPerSide }

// Find returns the slot index holding id.
func (l *Ledger) Find(id types.Identity) (int, bool) {
	for i := 0; i < l.n; i++ {
		if l.slots[i].Identity == id {
			return i, true
		}
	}
	return -1, false
}

// Amount returns the stake recorded for id.
func (l *Ledger) Amount(id types.Identity) (uint64, bool) {
	idx, ok := l.Find(id)
	if !ok {
		return 0, false
	}
	return l.slots[idx].Amount, true
}

// Upsert adds amount to id's entry, inserting a new entry when id has none.
// The ledger is left unchanged on error.
func (l *Ledger) Upsert(id types.Identity, amount uint64) error {
	if idx, ok := l.Find(id); ok {
		sum, carry := bits.Add64(l.slots[idx].Amount, amount, 0)
		if carry != 0 {
			return ErrOverflow
		}
		l.slots[idx].Amount = sum
		return nil
	}
	if l.Full() {
		return ErrLedgerFull
	}
	l.slots[l.n] = Bettor{Identity: id, Amount: amount}
	l.n++
	return nil
}

// Remove deletes id's entry, shifting later entries down to keep insertion
// order, and returns the removed amount.
func (l *Ledger) Remove(id types.Identity) (uint64, bool) {
	idx, ok := l.Find(id)
	if !ok {
		return 0, false
	}
	amount := l.slots[idx].Amount
	copy(l.slots[idx:l.n-1], l.slots[idx+1:l.n])
	l.n--
	l.slots[l.n] = Bettor{}
	return amount, true
}

// Sum returns the total of all stakes.
func (l *Ledger) Sum() (uint64, error) {
	var total uint64
	for i := 0; i < l.n; i++ {
		next, carry := bits.Add64(total, l.slots[i].Amount, 0)
		if carry != 0 {
			return 0, ErrOverflow
		}
		total = next
	}
	return total, nil
}

// Entries returns a copy of the occupied slots in insertion order.
func (l *Ledger) Entries() []Bettor {
	out := make([]Bettor, l.n)
	copy(out, l.slots[:l.n])
	return out
}
