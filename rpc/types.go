package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/viraj-mahida/betting-contract/core/runtime"
	"github.com/viraj-mahida/betting-contract/core/types"
	"github.com/viraj-mahida/betting-contract/native/market"
	"github.com/viraj-mahida/betting-contract/storage/journal"
)

const jsonRPCVersion = "2.0"

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// Amounts are rendered as decimal strings so JSON clients that parse numbers
// as float64 never lose precision.

type bettorJSON struct {
	Identity string `json:"identity"`
	Amount   string `json:"amount"`
}

type marketJSON struct {
	ID         string       `json:"id"`
	Creator    string       `json:"creator"`
	Question   string       `json:"question"`
	CreatedAt  int64        `json:"createdAt"`
	Resolved   bool         `json:"resolved"`
	Outcome    string       `json:"outcome"`
	TotalYes   string       `json:"totalYes"`
	TotalNo    string       `json:"totalNo"`
	YesBettors []bettorJSON `json:"yesBettors"`
	NoBettors  []bettorJSON `json:"noBettors"`
	PayoutMode string       `json:"payoutMode"`
	Custody    *string      `json:"custody,omitempty"`
}

type marketListJSON struct {
	Markets []marketJSON `json:"markets"`
	Total   int          `json:"total"`
}

type claimJSON struct {
	Market string `json:"market"`
	Amount string `json:"amount"`
}

type balanceJSON struct {
	Identity string `json:"identity"`
	Balance  string `json:"balance"`
	Nonce    uint64 `json:"nonce"`
}

type eventJSON struct {
	Sequence   uint64            `json:"sequence,omitempty"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt int64             `json:"recordedAt,omitempty"`
}

func formatAmount(v uint64) string { return strconv.FormatUint(v, 10) }

func formatBettors(l *market.Ledger) []bettorJSON {
	entries := l.Entries()
	out := make([]bettorJSON, len(entries))
	for i, entry := range entries {
		out[i] = bettorJSON{Identity: entry.Identity.String(), Amount: formatAmount(entry.Amount)}
	}
	return out
}

func formatMarketJSON(m *market.Market) marketJSON {
	return marketJSON{
		ID:         m.IDHex(),
		Creator:    m.Creator.String(),
		Question:   m.Question,
		CreatedAt:  m.CreatedAt,
		Resolved:   m.Resolved,
		Outcome:    m.Outcome.String(),
		TotalYes:   formatAmount(m.TotalYes),
		TotalNo:    formatAmount(m.TotalNo),
		YesBettors: formatBettors(&m.YesBettors),
		NoBettors:  formatBettors(&m.NoBettors),
		PayoutMode: m.PayoutMode.String(),
	}
}

func formatSnapshotJSON(s *runtime.MarketSnapshot) marketJSON {
	out := formatMarketJSON(s.Market)
	custody := formatAmount(s.Custody)
	out.Custody = &custody
	return out
}

func formatBalanceJSON(id types.Identity, acc *types.Account) balanceJSON {
	if acc == nil {
		acc = &types.Account{}
	}
	return balanceJSON{Identity: id.String(), Balance: formatAmount(acc.Balance), Nonce: acc.Nonce}
}

func formatRecordJSON(rec journal.Record) eventJSON {
	return eventJSON{Sequence: rec.Sequence, Type: rec.Type, Attributes: rec.Attributes, RecordedAt: rec.RecordedAt}
}

func formatEventJSON(evt *types.Event) eventJSON {
	return eventJSON{Type: evt.Type, Attributes: evt.Attributes}
}
