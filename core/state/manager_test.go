package state

import (
	"errors"
	"testing"

	"github.com/viraj-mahida/betting-contract/core/types"
	"github.com/viraj-mahida/betting-contract/native/market"
	"github.com/viraj-mahida/betting-contract/storage"
)

func testIdentity(fill byte) types.Identity {
	var id types.Identity
	for i := range id {
		id[i] = fill
	}
	return id
}

func TestManagerBuffersUntilCommit(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	mgr := NewManager(db)
	alice := testIdentity(0x01)
	if err := mgr.PutAccount(alice, &types.Account{Balance: 42}); err != nil {
		t.Fatalf("put account: %v", err)
	}
	acc, err := mgr.GetAccount(alice)
	if err != nil || acc.Balance != 42 {
		t.Fatalf("overlay read: %+v %v", acc, err)
	}
	if fresh, _ := NewManager(db).GetAccount(alice); fresh.Balance != 0 {
		t.Fatalf("write leaked before commit")
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if mgr.Pending() != 0 {
		t.Fatalf("pending writes should be cleared")
	}
	if fresh, _ := NewManager(db).GetAccount(alice); fresh.Balance != 42 {
		t.Fatalf("commit not visible, got %d", fresh.Balance)
	}
}

func TestManagerDiscard(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	mgr := NewManager(db)
	if err := mgr.SetCustodyBalance([32]byte{0x01}, 99); err != nil {
		t.Fatalf("set custody: %v", err)
	}
	mgr.Discard()
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if bal, _ := NewManager(db).CustodyBalance([32]byte{0x01}); bal != 0 {
		t.Fatalf("discarded write persisted: %d", bal)
	}
}

func TestMarketRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	creator := testIdentity(0xC0)
	record := &market.Market{
		ID:         market.DeriveID(creator, 1),
		Creator:    creator,
		Question:   "Will it rain?",
		CreatedAt:  1_700_000_000,
		PayoutMode: market.PayoutLive,
	}
	if err := record.YesBettors.Upsert(testIdentity(0x01), 150); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := record.NoBettors.Upsert(testIdentity(0x02), 100); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	record.TotalYes, record.TotalNo = 150, 100

	mgr := NewManager(db)
	if err := mgr.MarketPut(record); err != nil {
		t.Fatalf("put market: %v", err)
	}
	// Rewriting an existing market must not duplicate the index entry.
	if err := mgr.MarketPut(record); err != nil {
		t.Fatalf("second put: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	loaded, ok, err := NewManager(db).MarketGet(record.ID)
	if err != nil || !ok {
		t.Fatalf("get market: ok=%t err=%v", ok, err)
	}
	if loaded.Creator != creator || loaded.Question != record.Question || loaded.CreatedAt != record.CreatedAt {
		t.Fatalf("unexpected market %+v", loaded)
	}
	if loaded.PayoutMode != market.PayoutLive || loaded.TotalYes != 150 || loaded.TotalNo != 100 {
		t.Fatalf("unexpected totals %+v", loaded)
	}
	if amount, ok := loaded.YesBettors.Amount(testIdentity(0x01)); !ok || amount != 150 {
		t.Fatalf("yes ledger lost")
	}
	ids, err := NewManager(db).MarketIDs()
	if err != nil || len(ids) != 1 || ids[0] != record.ID {
		t.Fatalf("unexpected index %v %v", ids, err)
	}
	if _, ok, err := NewManager(db).MarketGet([32]byte{0xFF}); ok || err != nil {
		t.Fatalf("missing market: ok=%t err=%v", ok, err)
	}
}

func TestMarketPutRejectsInconsistentTotals(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	creator := testIdentity(0xC0)
	record := &market.Market{ID: market.DeriveID(creator, 1), Creator: creator, Question: "q", TotalYes: 5}
	if err := mgr.MarketPut(record); !errors.Is(err, market.ErrInvalidMarketState) {
		t.Fatalf("expected ErrInvalidMarketState, got %v", err)
	}
	if mgr.Pending() != 0 {
		t.Fatalf("rejected market buffered a write")
	}
}

func TestKVHelpers(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	if err := mgr.KVPut([]byte("counter"), uint64(7)); err != nil {
		t.Fatalf("kv put: %v", err)
	}
	var got uint64
	if ok, err := mgr.KVGet([]byte("counter"), &got); !ok || err != nil || got != 7 {
		t.Fatalf("kv get: ok=%t err=%v got=%d", ok, err, got)
	}
	if err := mgr.KVDelete([]byte("counter")); err != nil {
		t.Fatalf("kv delete: %v", err)
	}
	if ok, _ := mgr.KVGet([]byte("counter"), &got); ok {
		t.Fatalf("deleted key still visible")
	}
	for _, v := range [][]byte{{1}, {2}, {1}} {
		if err := mgr.KVAppend([]byte("list"), v); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := mgr.KVGetList([]byte("list"), &list); err != nil || len(list) != 2 {
		t.Fatalf("unexpected list %v %v", list, err)
	}
	var empty [][]byte
	if err := mgr.KVGetList([]byte("missing"), &empty); err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("missing list should be empty, got %v %v", empty, err)
	}
	if _, err := mgr.KVGet(nil, &got); err == nil {
		t.Fatalf("empty key accepted")
	}
}

func TestEnsureStateVersion(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	if err := EnsureStateVersion(db); err != nil {
		t.Fatalf("stamp empty database: %v", err)
	}
	version, ok, err := NewManager(db).StateVersion()
	if err != nil || !ok || version != StateVersion {
		t.Fatalf("unexpected version %d ok=%v err=%v", version, ok, err)
	}
	if err := EnsureStateVersion(db); err != nil {
		t.Fatalf("reopen: %v", err)
	}

	mgr := NewManager(db)
	if err := mgr.SetStateVersion(StateVersion + 1); err != nil {
		t.Fatalf("set version: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := EnsureStateVersion(db); !errors.Is(err, ErrStateVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
	if err := EnsureStateVersion(nil); err == nil {
		t.Fatalf("expected error for nil database")
	}
}
