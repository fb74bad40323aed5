package rpc

import (
	"errors"
	"net/http"

	"github.com/viraj-mahida/betting-contract/native/market"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeForbidden      = -32002
	codeRateLimited    = -32020
)

// Market error codes. Each engine error has its own code so clients can
// branch without parsing messages.
const (
	codeAlreadyResolved     = -32030
	codeNotResolved         = -32031
	codeInvalidMarketState  = -32032
	codeMarketNotFound      = -32033
	codeMarketExists        = -32034
	codeNotCreator          = -32035
	codeInvalidAmount       = -32036
	codeInvalidChoice       = -32037
	codeInvalidOutcome      = -32038
	codeInvalidQuestion     = -32039
	codeInvalidIdentity     = -32040
	codeLedgerFull          = -32041
	codeOverflow            = -32042
	codeInsufficientFunds   = -32043
	codeInsufficientCustody = -32044
	codeNotAWinner          = -32045
)

var marketErrorCodes = []struct {
	err    error
	code   int
	status int
}{
	{market.ErrAlreadyResolved, codeAlreadyResolved, http.StatusConflict},
	{market.ErrNotResolved, codeNotResolved, http.StatusConflict},
	{market.ErrInvalidMarketState, codeInvalidMarketState, http.StatusInternalServerError},
	{market.ErrMarketNotFound, codeMarketNotFound, http.StatusNotFound},
	{market.ErrMarketExists, codeMarketExists, http.StatusConflict},
	{market.ErrUnauthorized, codeNotCreator, http.StatusForbidden},
	{market.ErrInvalidAmount, codeInvalidAmount, http.StatusBadRequest},
	{market.ErrInvalidChoice, codeInvalidChoice, http.StatusBadRequest},
	{market.ErrInvalidOutcome, codeInvalidOutcome, http.StatusBadRequest},
	{market.ErrInvalidQuestion, codeInvalidQuestion, http.StatusBadRequest},
	{market.ErrInvalidIdentity, codeInvalidIdentity, http.StatusBadRequest},
	{market.ErrLedgerFull, codeLedgerFull, http.StatusConflict},
	{market.ErrOverflow, codeOverflow, http.StatusBadRequest},
	{market.ErrInsufficientFunds, codeInsufficientFunds, http.StatusPaymentRequired},
	{market.ErrInsufficientCustody, codeInsufficientCustody, http.StatusInternalServerError},
	{market.ErrNotAWinner, codeNotAWinner, http.StatusNotFound},
}

func writeMarketError(w http.ResponseWriter, id interface{}, err error) {
	for _, entry := range marketErrorCodes {
		if errors.Is(err, entry.err) {
			writeError(w, entry.status, id, entry.code, market.ErrorCode(err), err.Error())
			return
		}
	}
	writeError(w, http.StatusInternalServerError, id, codeServerError, "internal", err.Error())
}

// writeParamsError reports a params decoding failure. Amount validation
// surfaces through the market code table; everything else is invalid_params.
func writeParamsError(w http.ResponseWriter, id interface{}, err error) {
	if errors.Is(err, market.ErrInvalidAmount) {
		writeMarketError(w, id, err)
		return
	}
	writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid_params", err.Error())
}
