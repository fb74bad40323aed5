package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/viraj-mahida/betting-contract/core/events"
	"github.com/viraj-mahida/betting-contract/core/types"
)

var (
	errNilState   = errors.New("market engine: state not configured")
	errNilCustody = errors.New("market engine: custody not configured")
)

type engineState interface {
	MarketGet(id [32]byte) (*Market, bool, error)
	MarketPut(*Market) error
}

// Custody moves native value between accounts and a market's custody
// balance. Each call is all-or-nothing.
type Custody interface {
	Deposit(market [32]byte, from types.Identity, amount uint64) error
	Withdraw(market [32]byte, to types.Identity, amount uint64) error
	Balance(market [32]byte) (uint64, error)
}

// Engine implements the market lifecycle on top of an external state backend
// and custody. It assumes the caller provides exclusive access to the market
// record for the duration of each call and discards every write when a call
// returns an error.
type Engine struct {
	state      engineState
	custody    Custody
	emitter    events.Emitter
	nowFn      func() int64
	payoutMode PayoutMode
}

// NewEngine creates a market engine with a no-op emitter and snapshot payouts.
func NewEngine() *Engine {
	return &Engine{
		emitter:    events.NoopEmitter{},
		nowFn:      func() int64 { return time.Now().Unix() },
		payoutMode: PayoutSnapshot,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustody configures the custody used for deposits and payouts.
func (e *Engine) SetCustody(custody Custody) { e.custody = custody }

// SetPayoutMode selects the payout rule recorded on newly created markets.
// Existing markets keep the mode they were created with.
func (e *Engine) SetPayoutMode(mode PayoutMode) { e.payoutMode = mode }

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.custody == nil {
		return errNilCustody
	}
	return nil
}

func (e *Engine) load(id [32]byte) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	m, ok, err := e.state.MarketGet(id)
	if err != nil {
		return nil, fmt.Errorf("load market: %w", err)
	}
	if !ok {
		return nil, ErrMarketNotFound
	}
	return m, nil
}

func (e *Engine) store(m *Market) error {
	if err := e.state.MarketPut(m); err != nil {
		return fmt.Errorf("store market: %w", err)
	}
	return nil
}

// Market returns a copy of the stored market.
func (e *Engine) Market(id [32]byte) (*Market, error) {
	m, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// CustodyBalance returns the native value currently held for the market.
func (e *Engine) CustodyBalance(id [32]byte) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if _, err := e.load(id); err != nil {
		return 0, err
	}
	return e.custody.Balance(id)
}

// CreateMarket opens a new market owned by creator. The identifier is derived
// from the creator and nonce, so a creator reusing a nonce is rejected.
func (e *Engine) CreateMarket(creator types.Identity, question string, nonce uint64) (*Market, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if creator.IsZero() {
		return nil, ErrInvalidIdentity
	}
	if err := validateQuestion(question); err != nil {
		return nil, err
	}
	id := DeriveID(creator, nonce)
	if _, ok, err := e.state.MarketGet(id); err != nil {
		return nil, fmt.Errorf("load market: %w", err)
	} else if ok {
		return nil, ErrMarketExists
	}
	m := &Market{
		ID:         id,
		Creator:    creator,
		Question:   question,
		CreatedAt:  e.now(),
		Outcome:    OutcomeUndecided,
		PayoutMode: e.payoutMode,
	}
	if err := e.store(m); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(m))
	return m.Clone(), nil
}

// PlaceBet stakes amount from bettor on choice. The ledger and total updates
// are validated on a copy before any value moves, so a rejected bet never
// reaches custody.
func (e *Engine) PlaceBet(id [32]byte, bettor types.Identity, choice Outcome, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	m, err := e.load(id)
	if err != nil {
		return err
	}
	if m.Resolved {
		return ErrAlreadyResolved
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	if bettor.IsZero() {
		return ErrInvalidIdentity
	}
	next := m.Clone()
	ledger, total, err := next.Side(choice)
	if err != nil {
		return ErrInvalidChoice
	}
	if err := ledger.Upsert(bettor, amount); err != nil {
		return err
	}
	if *total, err = checkedAdd(*total, amount); err != nil {
		return err
	}
	if err := e.custody.Deposit(id, bettor, amount); err != nil {
		return fmt.Errorf("custody deposit: %w", err)
	}
	if err := e.store(next); err != nil {
		return err
	}
	e.emit(NewBetPlacedEvent(next, bettor, choice, amount))
	return nil
}

// ResolveMarket records the final outcome. Only the creator may resolve, and
// only once.
func (e *Engine) ResolveMarket(id [32]byte, caller types.Identity, outcome Outcome) error {
	if err := e.ready(); err != nil {
		return err
	}
	m, err := e.load(id)
	if err != nil {
		return err
	}
	if m.Resolved {
		return ErrAlreadyResolved
	}
	if caller != m.Creator {
		return ErrUnauthorized
	}
	if !outcome.Decided() {
		return ErrInvalidOutcome
	}
	m.Resolved = true
	m.Outcome = outcome
	_, winningTotal, _ := m.Side(outcome)
	_, losingTotal, _ := m.Side(outcome.Opposite())
	m.SettledWinningTotal = *winningTotal
	m.SettledLosingTotal = *losingTotal
	if err := e.store(m); err != nil {
		return err
	}
	e.emit(NewResolvedEvent(m))
	return nil
}

// ClaimWinnings pays claimant's principal plus share of the losing pool and
// removes the claimant's entry so the stake cannot be paid twice.
func (e *Engine) ClaimWinnings(id [32]byte, claimant types.Identity) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	m, err := e.load(id)
	if err != nil {
		return 0, err
	}
	if !m.Resolved {
		return 0, ErrNotResolved
	}
	if !m.Outcome.Decided() {
		return 0, ErrInvalidMarketState
	}
	ledger, winningTotal, _ := m.Side(m.Outcome)
	_, losingTotal, _ := m.Side(m.Outcome.Opposite())

	amount, ok := ledger.Amount(claimant)
	if !ok {
		return 0, ErrNotAWinner
	}

	var payout Payout
	switch m.PayoutMode {
	case PayoutSnapshot:
		payout, err = ComputePayout(amount, m.SettledWinningTotal, m.SettledLosingTotal)
	case PayoutLive:
		payout, err = ComputePayout(amount, *winningTotal, *losingTotal)
	default:
		return 0, fmt.Errorf("%w: payout mode %d", ErrInvalidMarketState, m.PayoutMode)
	}
	if err != nil {
		return 0, err
	}

	ledger.Remove(claimant)
	if *winningTotal, err = checkedSub(*winningTotal, amount); err != nil {
		return 0, fmt.Errorf("%w: winning total below stake", ErrInvalidMarketState)
	}
	if err := e.custody.Withdraw(id, claimant, payout.Total); err != nil {
		return 0, fmt.Errorf("custody withdraw: %w", err)
	}
	if err := e.store(m); err != nil {
		return 0, err
	}
	e.emit(NewClaimedEvent(m, claimant, payout))
	return payout.Total, nil
}
