// Package runtime serialises market operations and makes each one atomic. Every
// call runs the market engine against a fresh write-buffering state view,
// commits the view as a single storage batch on success and discards it on
// failure. Events produced by the engine reach sinks only after commit.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/viraj-mahida/betting-contract/core/events"
	"github.com/viraj-mahida/betting-contract/core/state"
	"github.com/viraj-mahida/betting-contract/core/types"
	"github.com/viraj-mahida/betting-contract/native/bank"
	"github.com/viraj-mahida/betting-contract/native/market"
	"github.com/viraj-mahida/betting-contract/observability"
	telemetry "github.com/viraj-mahida/betting-contract/observability/otel"
	"github.com/viraj-mahida/betting-contract/storage"
)

const marketIndexLock = "index:markets"

// MarketSnapshot is a consistent read of a market and its custody balance.
type MarketSnapshot struct {
	Market  *market.Market
	Custody uint64
}

// Runtime executes market operations against a storage backend.
type Runtime struct {
	db         storage.Database
	locks      *lockTable
	sinks      []namedSink
	logger     *slog.Logger
	metrics    *observability.MarketMetrics
	tracer     trace.Tracer
	payoutMode market.PayoutMode
	nowFn      func() int64
}

// New returns a runtime bound to db.
func New(db storage.Database, opts ...Option) (*Runtime, error) {
	if db == nil {
		return nil, fmt.Errorf("runtime: database required")
	}
	r := &Runtime{
		db:         db,
		locks:      newLockTable(),
		logger:     slog.Default(),
		metrics:    observability.Markets(),
		tracer:     telemetry.Tracer("betting/runtime"),
		payoutMode: market.PayoutSnapshot,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if !r.payoutMode.Valid() {
		return nil, fmt.Errorf("runtime: invalid payout mode %d", r.payoutMode)
	}
	if err := state.EnsureStateVersion(db); err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	return r, nil
}

type txn struct {
	state  *state.Manager
	vault  *bank.Vault
	engine *market.Engine
	events *events.Buffer
}

func (r *Runtime) begin() *txn {
	st := state.NewManager(r.db)
	buf := events.NewBuffer()
	vault := bank.NewVault(st)
	engine := market.NewEngine()
	engine.SetState(st)
	engine.SetCustody(vault)
	engine.SetEmitter(buf)
	engine.SetPayoutMode(r.payoutMode)
	engine.SetNowFunc(r.nowFn)
	return &txn{state: st, vault: vault, engine: engine, events: buf}
}

func marketLock(id [32]byte) string { return "market:" + market.FormatID(id) }

func accountLock(id types.Identity) string { return "account:" + id.String() }

// execute runs fn while holding keys and commits its writes when fn succeeds.
// Buffered events are flushed to sinks before the locks are released so sinks
// observe per-market events in commit order.
func (r *Runtime) execute(ctx context.Context, op string, marketID *[32]byte, keys []string, fn func(*txn) error) error {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "market."+op)
	defer span.End()
	attrs := []any{slog.String("operation", op)}
	if marketID != nil {
		hexID := market.FormatID(*marketID)
		span.SetAttributes(attribute.String("market.id", hexID))
		attrs = append(attrs, slog.String("market", hexID))
	}

	unlock := r.locks.acquire(keys...)
	defer unlock()

	err := ctx.Err()
	var tx *txn
	if err == nil {
		tx = r.begin()
		err = fn(tx)
		if err == nil {
			err = tx.state.Commit()
		}
		if err != nil {
			tx.state.Discard()
			tx.events.Reset()
		}
	}

	code := market.ErrorCode(err)
	r.metrics.ObserveOperation(op, code, time.Since(start))
	span.SetAttributes(attribute.String("market.result", code))
	attrs = append(attrs, slog.String("code", code), slog.Duration("duration", time.Since(start)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		attrs = append(attrs, slog.String("error", err.Error()))
		switch {
		case errors.Is(err, market.ErrInsufficientCustody):
			r.metrics.RecordCustodyShortfall()
			r.logger.Error("custody cannot cover payout", attrs...)
		case code == "internal":
			r.logger.Error("market operation failed", attrs...)
		default:
			r.logger.Debug("market operation rejected", attrs...)
		}
		return err
	}
	r.logger.Info("market operation committed", attrs...)
	r.flush(ctx, tx.events.Drain())
	return nil
}

func (r *Runtime) flush(ctx context.Context, evts []events.Event) {
	for _, evt := range evts {
		for _, sink := range r.sinks {
			r.publish(ctx, sink, evt)
		}
	}
}

func (r *Runtime) publish(ctx context.Context, sink namedSink, evt events.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.RecordSinkFailure(sink.name)
			r.logger.Error("event sink panicked",
				slog.String("sink", sink.name),
				slog.String("event", evt.EventType()),
				slog.Any("panic", rec))
		}
	}()
	if err := sink.sink.Publish(ctx, evt); err != nil {
		r.metrics.RecordSinkFailure(sink.name)
		r.logger.Warn("event sink failed",
			slog.String("sink", sink.name),
			slog.String("event", evt.EventType()),
			slog.String("error", err.Error()))
	}
}

// CreateMarket opens a market owned by creator.
func (r *Runtime) CreateMarket(ctx context.Context, creator types.Identity, question string, nonce uint64) (*market.Market, error) {
	id := market.DeriveID(creator, nonce)
	var created *market.Market
	err := r.execute(ctx, "create", &id, []string{marketLock(id), marketIndexLock}, func(tx *txn) error {
		m, err := tx.engine.CreateMarket(creator, question, nonce)
		if err != nil {
			return err
		}
		created = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.metrics.RecordMarketCreated()
	return created, nil
}

// PlaceBet stakes amount from bettor on choice.
func (r *Runtime) PlaceBet(ctx context.Context, id [32]byte, bettor types.Identity, choice market.Outcome, amount uint64) error {
	err := r.execute(ctx, "place_bet", &id, []string{marketLock(id), accountLock(bettor)}, func(tx *txn) error {
		return tx.engine.PlaceBet(id, bettor, choice, amount)
	})
	if err != nil {
		return err
	}
	r.metrics.RecordStake(amount)
	return nil
}

// ResolveMarket records the final outcome on behalf of caller.
func (r *Runtime) ResolveMarket(ctx context.Context, id [32]byte, caller types.Identity, outcome market.Outcome) error {
	return r.execute(ctx, "resolve", &id, []string{marketLock(id)}, func(tx *txn) error {
		return tx.engine.ResolveMarket(id, caller, outcome)
	})
}

// ClaimWinnings pays claimant and returns the amount transferred.
func (r *Runtime) ClaimWinnings(ctx context.Context, id [32]byte, claimant types.Identity) (uint64, error) {
	var paid uint64
	err := r.execute(ctx, "claim", &id, []string{marketLock(id), accountLock(claimant)}, func(tx *txn) error {
		amount, err := tx.engine.ClaimWinnings(id, claimant)
		if err != nil {
			return err
		}
		paid = amount
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.metrics.RecordPayout(paid)
	return paid, nil
}

// Mint credits fresh native value to id and returns the new balance.
func (r *Runtime) Mint(ctx context.Context, id types.Identity, amount uint64) (uint64, error) {
	var balance uint64
	err := r.execute(ctx, "mint", nil, []string{accountLock(id)}, func(tx *txn) error {
		next, err := tx.vault.Mint(id, amount)
		if err != nil {
			return err
		}
		balance = next
		tx.events.Emit(events.AccountMinted{Identity: id, Amount: amount, Balance: next})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Market returns the market and its custody balance as of the last commit.
func (r *Runtime) Market(ctx context.Context, id [32]byte) (*MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := r.locks.acquire(marketLock(id))
	defer unlock()
	tx := r.begin()
	m, err := tx.engine.Market(id)
	if err != nil {
		return nil, err
	}
	custody, err := tx.engine.CustodyBalance(id)
	if err != nil {
		return nil, err
	}
	return &MarketSnapshot{Market: m, Custody: custody}, nil
}

// Markets lists markets in creation order starting at offset. A limit of zero
// returns every remaining market.
func (r *Runtime) Markets(ctx context.Context, offset, limit int) ([]*market.Market, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	ids, err := state.NewManager(r.db).MarketIDs()
	if err != nil {
		return nil, 0, err
	}
	total := len(ids)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []*market.Market{}, total, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	out := make([]*market.Market, 0, len(ids))
	for _, id := range ids {
		snapshot, err := r.Market(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, snapshot.Market)
	}
	return out, total, nil
}

// Account returns the account stored for id.
func (r *Runtime) Account(ctx context.Context, id types.Identity) (*types.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return state.NewManager(r.db).GetAccount(id)
}
