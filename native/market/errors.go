package market

import "errors"

// Lifecycle state errors.
var (
	ErrAlreadyResolved    = errors.New("market: already resolved")
	ErrNotResolved        = errors.New("market: not yet resolved")
	ErrInvalidMarketState = errors.New("market: invalid market state")
	ErrMarketNotFound     = errors.New("market: not found")
	ErrMarketExists       = errors.New("market: identifier already in use")
)

// Authorization errors.
var ErrUnauthorized = errors.New("market: caller is not the market creator")

// Validation errors.
var (
	ErrInvalidAmount   = errors.New("market: bet amount must be positive")
	ErrInvalidChoice   = errors.New("market: bet choice must be yes or no")
	ErrInvalidOutcome  = errors.New("market: outcome must be yes or no")
	ErrInvalidQuestion = errors.New("market: question exceeds 256 bytes")
	ErrInvalidIdentity = errors.New("market: identity must not be empty")
	ErrLedgerFull      = errors.New("market: bettor ledger is full")
)

// Arithmetic errors.
var ErrOverflow = errors.New("market: arithmetic overflow")

// Economic errors.
var (
	ErrInsufficientFunds   = errors.New("market: insufficient account balance")
	ErrInsufficientCustody = errors.New("market: custody balance cannot cover payout")
)

// Lookup errors.
var ErrNotAWinner = errors.New("market: claimant holds no winning stake")

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAlreadyResolved, "already_resolved"},
	{ErrNotResolved, "not_resolved"},
	{ErrInvalidMarketState, "invalid_market_state"},
	{ErrMarketNotFound, "market_not_found"},
	{ErrMarketExists, "market_exists"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidChoice, "invalid_choice"},
	{ErrInvalidOutcome, "invalid_outcome"},
	{ErrInvalidQuestion, "invalid_question"},
	{ErrInvalidIdentity, "invalid_identity"},
	{ErrLedgerFull, "ledger_full"},
	{ErrOverflow, "overflow"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrInsufficientCustody, "insufficient_custody"},
	{ErrNotAWinner, "not_a_winner"},
}

// ErrorCode returns a stable snake_case identifier for err, "ok" for nil and
// "internal" for errors outside the market taxonomy. The codes are used as
// metric labels and in RPC error payloads.
func ErrorCode(err error) string {
	if err == nil {
		return "ok"
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "internal"
}
