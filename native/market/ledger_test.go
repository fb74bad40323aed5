package market

import (
	"errors"
	"math"
	"testing"
)

func TestLedgerUpsertAggregates(t *testing.T) {
	var l Ledger
	alice := newTestIdentity(0x01)
	if err := l.Upsert(alice, 40); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := l.Upsert(alice, 60); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("expected a single entry, got %d", l.Len())
	}
	if amount, ok := l.Amount(alice); !ok || amount != 100 {
		t.Fatalf("expected aggregated amount 100, got %d (found=%t)", amount, ok)
	}
}

func TestLedgerCapacity(t *testing.T) {
	var l Ledger
	for i := 0; i < MaxBettorsPerSide; i++ {
		if err := l.Upsert(newTestIdentity(byte(i+1)), 1); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	if !l.Full() {
		t.Fatalf("ledger should be full")
	}
	if err := l.Upsert(newTestIdentity(0xEE), 1); !errors.Is(err, ErrLedgerFull) {
		t.Fatalf("expected ErrLedgerFull, got %v", err)
	}
	// Existing bettors can still add to their stake.
	if err := l.Upsert(newTestIdentity(0x05), 9); err != nil {
		t.Fatalf("top-up on full ledger: %v", err)
	}
	if amount, _ := l.Amount(newTestIdentity(0x05)); amount != 10 {
		t.Fatalf("unexpected amount %d", amount)
	}
}

func TestLedgerUpsertOverflowLeavesEntry(t *testing.T) {
	var l Ledger
	who := newTestIdentity(0x01)
	if err := l.Upsert(who, math.MaxUint64); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := l.Upsert(who, 1); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	if amount, _ := l.Amount(who); amount != math.MaxUint64 {
		t.Fatalf("entry mutated on overflow: %d", amount)
	}
	var other Ledger
	_ = other.Upsert(newTestIdentity(0x02), math.MaxUint64)
	_ = other.Upsert(newTestIdentity(0x03), 1)
	if _, err := other.Sum(); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected sum overflow, got %v", err)
	}
}

func TestLedgerRemovePreservesOrder(t *testing.T) {
	var l Ledger
	ids := []byte{0x01, 0x02, 0x03, 0x04}
	for i, b := range ids {
		_ = l.Upsert(newTestIdentity(b), uint64(10*(i+1)))
	}
	amount, ok := l.Remove(newTestIdentity(0x02))
	if !ok || amount != 20 {
		t.Fatalf("unexpected remove result %d %t", amount, ok)
	}
	if _, ok := l.Remove(newTestIdentity(0x02)); ok {
		t.Fatalf("second remove should find nothing")
	}
	entries := l.Entries()
	want := []byte{0x01, 0x03, 0x04}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, b := range want {
		if entries[i].Identity != newTestIdentity(b) {
			t.Fatalf("entry %d out of order", i)
		}
	}
	sum, err := l.Sum()
	if err != nil || sum != 80 {
		t.Fatalf("unexpected sum %d: %v", sum, err)
	}
	// A freed slot can be reused.
	if err := l.Upsert(newTestIdentity(0x09), 5); err != nil {
		t.Fatalf("reuse slot: %v", err)
	}
	if l.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", l.Len())
	}
}

func TestNewLedgerValidates(t *testing.T) {
	a, b := newTestIdentity(0x01), newTestIdentity(0x02)
	if _, err := NewLedger([]Bettor{{a, 1}, {a, 2}}); !errors.Is(err, ErrInvalidMarketState) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if _, err := NewLedger([]Bettor{{a, 0}}); !errors.Is(err, ErrInvalidMarketState) {
		t.Fatalf("expected zero stake rejection, got %v", err)
	}
	tooMany := make([]Bettor, MaxBettorsPerSide+1)
	for i := range tooMany {
		tooMany[i] = Bettor{Identity: newTestIdentity(byte(i + 1)), Amount: 1}
	}
	if _, err := NewLedger(tooMany); !errors.Is(err, ErrLedgerFull) {
		t.Fatalf("expected ErrLedgerFull, got %v", err)
	}
	l, err := NewLedger([]Bettor{{a, 3}, {b, 4}})
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	entries := l.Entries()
	entries[0].Amount = 999
	if amount, _ := l.Amount(a); amount != 3 {
		t.Fatalf("Entries must return a copy")
	}
}
