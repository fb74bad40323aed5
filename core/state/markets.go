package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/viraj-mahida/betting-contract/core/types"
	"github.com/viraj-mahida/betting-contract/native/market"
)

type storedBettor struct {
	Identity [32]byte
	Amount   uint64
}

type storedMarket struct {
	ID                  [32]byte
	Creator             [32]byte
	Question            string
	CreatedAt           uint64
	Resolved            bool
	Outcome             uint8
	TotalYes            uint64
	TotalNo             uint64
	YesBettors          []storedBettor
	NoBettors           []storedBettor
	PayoutMode          uint8
	SettledWinningTotal uint64
	SettledLosingTotal  uint64
}

func encodeBettors(l *market.Ledger) []storedBettor {
	entries := l.Entries()
	out := make([]storedBettor, len(entries))
	for i, entry := range entries {
		out[i] = storedBettor{Identity: entry.Identity, Amount: entry.Amount}
	}
	return out
}

func decodeBettors(stored []storedBettor) (market.Ledger, error) {
	entries := make([]market.Bettor, len(stored))
	for i, entry := range stored {
		entries[i] = market.Bettor{Identity: types.Identity(entry.Identity), Amount: entry.Amount}
	}
	return market.NewLedger(entries)
}

// MarketGet loads the market stored under id.
func (m *Manager) MarketGet(id [32]byte) (*market.Market, bool, error) {
	data, err := m.get(marketKey(id[:]))
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	var stored storedMarket
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode market %x: %w", id, err)
	}
	yes, err := decodeBettors(stored.YesBettors)
	if err != nil {
		return nil, false, err
	}
	no, err := decodeBettors(stored.NoBettors)
	if err != nil {
		return nil, false, err
	}
	record := &market.Market{
		ID:                  stored.ID,
		Creator:             types.Identity(stored.Creator),
		Question:            stored.Question,
		CreatedAt:           int64(stored.CreatedAt),
		Resolved:            stored.Resolved,
		Outcome:             market.Outcome(stored.Outcome),
		TotalYes:            stored.TotalYes,
		TotalNo:             stored.TotalNo,
		YesBettors:          yes,
		NoBettors:           no,
		PayoutMode:          market.PayoutMode(stored.PayoutMode),
		SettledWinningTotal: stored.SettledWinningTotal,
		SettledLosingTotal:  stored.SettledLosingTotal,
	}
	if err := record.Validate(); err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// MarketPut validates and stores record. New markets are appended to the
// market index.
func (m *Manager) MarketPut(record *market.Market) error {
	if record == nil {
		return fmt.Errorf("state: nil market")
	}
	if err := record.Validate(); err != nil {
		return err
	}
	createdAt := record.CreatedAt
	if createdAt < 0 {
		createdAt = 0
	}
	stored := storedMarket{
		ID:                  record.ID,
		Creator:             record.Creator,
		Question:            record.Question,
		CreatedAt:           uint64(createdAt),
		Resolved:            record.Resolved,
		Outcome:             uint8(record.Outcome),
		TotalYes:            record.TotalYes,
		TotalNo:             record.TotalNo,
		YesBettors:          encodeBettors(&record.YesBettors),
		NoBettors:           encodeBettors(&record.NoBettors),
		PayoutMode:          uint8(record.PayoutMode),
		SettledWinningTotal: record.SettledWinningTotal,
		SettledLosingTotal:  record.SettledLosingTotal,
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	key := marketKey(record.ID[:])
	existing, err := m.get(key)
	if err != nil {
		return err
	}
	m.put(key, encoded)
	if len(existing) == 0 {
		return m.KVAppend(marketIndexKey, record.ID[:])
	}
	return nil
}

// MarketIDs lists every stored market in creation order.
func (m *Manager) MarketIDs() ([][32]byte, error) {
	var raw [][]byte
	if err := m.KVGetList(marketIndexKey, &raw); err != nil {
		return nil, err
	}
	ids := make([][32]byte, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 32 {
			return nil, fmt.Errorf("state: malformed market index entry")
		}
		var id [32]byte
		copy(id[:], entry)
		ids = append(ids, id)
	}
	return ids, nil
}

// CustodyBalance returns the native value held for a market.
func (m *Manager) CustodyBalance(id [32]byte) (uint64, error) {
	data, err := m.get(custodyKey(id[:]))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	var balance uint64
	if err := rlp.DecodeBytes(data, &balance); err != nil {
		return 0, fmt.Errorf("state: decode custody %x: %w", id, err)
	}
	return balance, nil
}

// SetCustodyBalance stores the native value held for a market.
func (m *Manager) SetCustodyBalance(id [32]byte, amount uint64) error {
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	m.put(custodyKey(id[:]), encoded)
	return nil
}
