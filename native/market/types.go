package market

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/viraj-mahida/betting-contract/core/types"
)

const (
	// MaxQuestionLength bounds the question text in bytes.
	MaxQuestionLength = 256
	// MaxBettorsPerSide bounds each side's ledger.
	MaxBettorsPerSide = 20
)

// Outcome is both a bet choice and the resolved result of a market.
type Outcome uint8

const (
	OutcomeUndecided Outcome = iota
	OutcomeYes
	OutcomeNo
)

// String returns the lower-case name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeUndecided:
		return "undecided"
	case OutcomeYes:
		return "yes"
	case OutcomeNo:
		return "no"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Decided reports whether o is Yes or No.
func (o Outcome) Decided() bool { return o == OutcomeYes || o == OutcomeNo }

// Opposite returns the other decided side. Undecided maps to itself.
func (o Outcome) Opposite() Outcome {
	switch o {
	case OutcomeYes:
		return OutcomeNo
	case OutcomeNo:
		return OutcomeYes
	default:
		return o
	}
}

// ParseOutcome parses "yes", "no" or "undecided" case-insensitively.
// Undecided parses successfully; the engine rejects it where a decided value
// is required.
func ParseOutcome(raw string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y":
		return OutcomeYes, nil
	case "no", "n":
		return OutcomeNo, nil
	case "undecided", "":
		return OutcomeUndecided, nil
	default:
		return OutcomeUndecided, fmt.Errorf("unknown outcome %q", raw)
	}
}

// PayoutMode selects which totals a claim divides the losing pool by.
type PayoutMode uint8

const (
	// PayoutSnapshot freezes both totals at resolution so every winner is
	// paid against the same pool.
	PayoutSnapshot PayoutMode = iota
	// PayoutLive uses the totals current at claim time. The winning total
	// shrinks as winners are paid while the losing total does not, so later
	// claimants receive a larger share and can exhaust custody.
	PayoutLive
)

func (m PayoutMode) String() string {
	switch m {
	case PayoutSnapshot:
		return "snapshot"
	case PayoutLive:
		return "live"
	default:
		return fmt.Sprintf("payout_mode(%d)", uint8(m))
	}
}

// Valid reports whether m is a supported mode.
func (m PayoutMode) Valid() bool { return m == PayoutSnapshot || m == PayoutLive }

// ParsePayoutMode parses "snapshot" or "live". The empty string selects the
// snapshot default.
func ParsePayoutMode(raw string) (PayoutMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "snapshot":
		return PayoutSnapshot, nil
	case "live":
		return PayoutLive, nil
	default:
		return PayoutSnapshot, fmt.Errorf("unknown payout mode %q", raw)
	}
}

// Market is the full record of one binary question.
type Market struct {
	ID         [32]byte
	Creator    types.Identity
	Question   string
	CreatedAt  int64
	Resolved   bool
	Outcome    Outcome
	TotalYes   uint64
	TotalNo    uint64
	YesBettors Ledger
	NoBettors  Ledger
	PayoutMode PayoutMode
	// Totals frozen at resolution, used by PayoutSnapshot.
	SettledWinningTotal uint64
	SettledLosingTotal  uint64
}

// Clone returns a deep copy of the market. The ledgers are fixed-size arrays,
// so a value copy is already independent of the original.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// IDHex renders the market identifier as 0x-prefixed hex.
func (m *Market) IDHex() string { return FormatID(m.ID) }

// Side returns the ledger and running total for a decided side.
func (m *Market) Side(side Outcome) (*Ledger, *uint64, error) {
	switch side {
	case OutcomeYes:
		return &m.YesBettors, &m.TotalYes, nil
	case OutcomeNo:
		return &m.NoBettors, &m.TotalNo, nil
	default:
		return nil, nil, ErrInvalidChoice
	}
}

// Validate checks the structural invariants of a stored record: bounded
// question, valid enum values and totals equal to their ledger sums.
func (m *Market) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil market", ErrInvalidMarketState)
	}
	if err := validateQuestion(m.Question); err != nil {
		return err
	}
	if m.Outcome > OutcomeNo {
		return fmt.Errorf("%w: outcome %d", ErrInvalidMarketState, m.Outcome)
	}
	if m.Resolved != m.Outcome.Decided() {
		return fmt.Errorf("%w: resolved=%t outcome=%s", ErrInvalidMarketState, m.Resolved, m.Outcome)
	}
	if !m.PayoutMode.Valid() {
		return fmt.Errorf("%w: payout mode %d", ErrInvalidMarketState, m.PayoutMode)
	}
	yes, err := m.YesBettors.Sum()
	if err != nil {
		return err
	}
	no, err := m.NoBettors.Sum()
	if err != nil {
		return err
	}
	if yes != m.TotalYes || no != m.TotalNo {
		return fmt.Errorf("%w: totals %d/%d do not match ledgers %d/%d", ErrInvalidMarketState, m.TotalYes, m.TotalNo, yes, no)
	}
	return nil
}

// DeriveID computes the market identifier as keccak256(creator || nonce).
func DeriveID(creator types.Identity, nonce uint64) [32]byte {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	return ethcrypto.Keccak256Hash(creator[:], nonceBytes[:])
}

// FormatID renders a market identifier as 0x-prefixed hex.
func FormatID(id [32]byte) string { return "0x" + hex.EncodeToString(id[:]) }

// ParseID decodes a 32-byte market identifier from hex with or without the
// 0x prefix.
func ParseID(raw string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	if len(trimmed) != 64 {
		return id, fmt.Errorf("market id must be 32 bytes (got %d hex chars)", len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("decode market id: %w", err)
	}
	copy(id[:], decoded)
	return id, nil
}

// validateQuestion bounds the stored question. Any text up to the bound is
// accepted, the empty string included.
func validateQuestion(question string) error {
	if len(question) > MaxQuestionLength {
		return ErrInvalidQuestion
	}
	return nil
}
