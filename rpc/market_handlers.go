package rpc

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/viraj-mahida/betting-contract/core/types"
	"github.com/viraj-mahida/betting-contract/native/market"
	"github.com/viraj-mahida/betting-contract/storage/journal"
)

// amountParam accepts an unsigned amount either as a JSON number or as a
// decimal string.
type amountParam uint64

func (a *amountParam) UnmarshalJSON(data []byte) error {
	raw := string(bytes.TrimSpace(data))
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	if raw == "" || raw == "null" {
		return fmt.Errorf("amount required")
	}
	if strings.HasPrefix(raw, "-") {
		return fmt.Errorf("%w: got %s", market.ErrInvalidAmount, raw)
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("amount must be an unsigned 64-bit integer: %w", err)
	}
	*a = amountParam(value)
	return nil
}

type marketCreateParams struct {
	Question string `json:"question"`
	Nonce    uint64 `json:"nonce"`
}

type marketBetParams struct {
	ID     string      `json:"id"`
	Choice string      `json:"choice"`
	Amount amountParam `json:"amount"`
}

type marketResolveParams struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
}

type marketIDParams struct {
	ID string `json:"id"`
}

type marketListParams struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

type marketEventsParams struct {
	ID    string `json:"id"`
	Limit int    `json:"limit"`
}

type accountParams struct {
	Identity string `json:"identity"`
}

type accountMintParams struct {
	Identity string      `json:"identity"`
	Amount   amountParam `json:"amount"`
}

func (s *Server) writeMarket(w http.ResponseWriter, r *http.Request, req *RPCRequest, id [32]byte) {
	snapshot, err := s.runtime.Market(r.Context(), id)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatSnapshotJSON(snapshot))
}

func (s *Server) handleMarketCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller *Principal) {
	var params marketCreateParams
	if err := decodeParams(req, &params); err != nil {
		writeParamsError(w, req.ID, err)
		return
	}
	created, err := s.runtime.CreateMarket(r.Context(), caller.Identity, params.Question, params.Nonce)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	s.writeMarket(w, r, req, created.ID)
}

func (s *Server) handleMarketPlaceBet(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller *Principal) {
	var params marketBetParams
	if err := decodeParams(req, &params); err != nil {
		writeParamsError(w, req.ID, err)
		return
	}
	id, err := market.ParseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	choice, err := market.ParseOutcome(params.Choice)
	if err != nil {
		writeMarketError(w, req.ID, fmt.Errorf("%w: %s", market.ErrInvalidChoice, err.Error()))
		return
	}
	if err := s.runtime.PlaceBet(r.Context(), id, caller.Identity, choice, uint64(params.Amount)); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	s.writeMarket(w, r, req, id)
}

func (s *Server) handleMarketResolve(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller *Principal) {
	var params marketResolveParams
	if err := decodeParams(req, &params); err != nil {
		writeParamsError(w, req.ID, err)
		return
	}
	id, err := market.ParseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	outcome, err := market.ParseOutcome(params.Outcome)
	if err != nil {
		writeMarketError(w, req.ID, fmt.Errorf("%w: %s", market.ErrInvalidOutcome, err.Error()))
		return
	}
	if err := s.runtime.ResolveMarket(r.Context(), id, caller.Identity, outcome); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	s.writeMarket(w, r, req, id)
}

func (s *Server) handleMarketClaim(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller *Principal) {
	var params marketIDParams
	if err := decodeParams(req, &params); err != nil {
		writeParamsError(w, req.ID, err)
		return
	}
	id, err := market.ParseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	paid, err := s.runtime.ClaimWinnings(r.Context(), id, caller.Identity)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, claimJSON{Market: market.FormatID(id), Amount: formatAmount(paid)})
}

func (s *Server) handleMarketGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params marketIDParams
	if err := decodeParams(req, &params); err != nil {
		writeParamsError(w, req.ID, err)
		return
	}
	id, err := market.ParseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	s.writeMarket(w, r, req, id)
}

func (s *Server) handleMarketList(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params marketListParams
	if len(req.Params) > 0 {
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	if params.Offset < 0 || params.Limit < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "offset and limit must not be negative")
		return
	}
	if params.Limit == 0 || params.Limit > journal.DefaultListLimit {
		params.Limit = journal.DefaultListLimit
	}
	markets, total, err := s.runtime.Markets(r.Context(), params.Offset, params.Limit)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	out := marketListJSON{Markets: make([]marketJSON, 0, len(markets)), Total: total}
	for _, m := range markets {
		out.Markets = append(out.Markets, formatMarketJSON(m))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleMarketListEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketEventsParams
	if err := decodeParams(req, &params); err != nil {
		writeParamsError(w, req.ID, err)
		return
	}
	filter := ""
	if strings.TrimSpace(params.ID) != "" {
		id, err := market.ParseID(params.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		filter = market.FormatID(id)
	}
	if params.Limit < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "limit must not be negative")
		return
	}
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "event journal unavailable", nil)
		return
	}
	records, err := s.journal.List(filter, params.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal", err.Error())
		return
	}
	out := make([]eventJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, formatRecordJSON(rec))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleAccountGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeParamsError(w, req.ID, err)
		return
	}
	id, err := types.ParseIdentity(params.Identity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	acc, err := s.runtime.Account(r.Context(), id)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatBalanceJSON(id, acc))
}

func (s *Server) handleAccountMint(w http.ResponseWriter, r *http.Request, req *RPCRequest, _ *Principal) {
	var params accountMintParams
	if err := decodeParams(req, &params); err != nil {
		writeParamsError(w, req.ID, err)
		return
	}
	id, err := types.ParseIdentity(params.Identity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if _, err := s.runtime.Mint(r.Context(), id, uint64(params.Amount)); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	acc, err := s.runtime.Account(r.Context(), id)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatBalanceJSON(id, acc))
}
