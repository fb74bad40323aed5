package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viraj-mahida/betting-contract/core/events"
	"github.com/viraj-mahida/betting-contract/core/state"
	"github.com/viraj-mahida/betting-contract/core/types"
	"github.com/viraj-mahida/betting-contract/native/market"
	"github.com/viraj-mahida/betting-contract/storage"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Publish(_ context.Context, evt events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt.EventType())
	return nil
}

func (s *recordingSink) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func identity(fill byte) types.Identity {
	var id types.Identity
	for i := range id {
		id[i] = fill
	}
	return id
}

func newTestRuntime(t *testing.T, opts ...Option) (*Runtime, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(nil),
		WithSink("recorder", sink),
		WithNowFunc(func() int64 { return 1_700_000_000 }),
	}
	rt, err := New(storage.NewMemDB(), append(base, opts...)...)
	require.NoError(t, err)
	return rt, sink
}

func seedScenario(t *testing.T, rt *Runtime) (*market.Market, types.Identity, types.Identity, types.Identity) {
	t.Helper()
	ctx := context.Background()
	creator := identity(0xC0)
	a, b, c := identity(0x0A), identity(0x0B), identity(0x0C)
	for _, who := range []types.Identity{a, b, c} {
		_, err := rt.Mint(ctx, who, 1000)
		require.NoError(t, err)
	}
	m, err := rt.CreateMarket(ctx, creator, "Will it rain tomorrow?", 1)
	require.NoError(t, err)
	require.NoError(t, rt.PlaceBet(ctx, m.ID, a, market.OutcomeYes, 150))
	require.NoError(t, rt.PlaceBet(ctx, m.ID, b, market.OutcomeYes, 150))
	require.NoError(t, rt.PlaceBet(ctx, m.ID, c, market.OutcomeNo, 100))
	require.NoError(t, rt.ResolveMarket(ctx, m.ID, creator, market.OutcomeYes))
	return m, a, b, c
}

func TestRuntimeLifecycle(t *testing.T) {
	rt, sink := newTestRuntime(t)
	ctx := context.Background()
	m, a, b, c := seedScenario(t, rt)

	paid, err := rt.ClaimWinnings(ctx, m.ID, a)
	require.NoError(t, err)
	require.Equal(t, uint64(200), paid)
	paid, err = rt.ClaimWinnings(ctx, m.ID, b)
	require.NoError(t, err)
	require.Equal(t, uint64(200), paid)

	snapshot, err := rt.Market(ctx, m.ID)
	require.NoError(t, err)
	require.Zero(t, snapshot.Custody)
	require.True(t, snapshot.Market.Resolved)
	require.Equal(t, market.OutcomeYes, snapshot.Market.Outcome)

	for who, want := range map[types.Identity]uint64{a: 1050, b: 1050, c: 900} {
		acc, err := rt.Account(ctx, who)
		require.NoError(t, err)
		require.Equal(t, want, acc.Balance)
	}
	for who, want := range map[types.Identity]uint64{a: 2, b: 2, c: 1} {
		acc, err := rt.Account(ctx, who)
		require.NoError(t, err)
		require.Equal(t, want, acc.Nonce, "nonce of %s", who)
	}
	require.Equal(t, []string{
		events.TypeAccountMinted,
		events.TypeAccountMinted,
		events.TypeAccountMinted,
		market.EventTypeMarketCreated,
		market.EventTypeBetPlaced,
		market.EventTypeBetPlaced,
		market.EventTypeBetPlaced,
		market.EventTypeMarketResolved,
		market.EventTypeWinningsClaimed,
		market.EventTypeWinningsClaimed,
	}, sink.eventTypes())
}

func TestRejectedOperationLeavesNoTrace(t *testing.T) {
	rt, sink := newTestRuntime(t)
	ctx := context.Background()
	creator, poor := identity(0xC0), identity(0x01)
	m, err := rt.CreateMarket(ctx, creator, "q?", 1)
	require.NoError(t, err)
	_, err = rt.Mint(ctx, poor, 5)
	require.NoError(t, err)

	err = rt.PlaceBet(ctx, m.ID, poor, market.OutcomeYes, 6)
	require.ErrorIs(t, err, market.ErrInsufficientFunds)

	snapshot, err := rt.Market(ctx, m.ID)
	require.NoError(t, err)
	require.Zero(t, snapshot.Market.TotalYes)
	require.Zero(t, snapshot.Market.YesBettors.Len())
	require.Zero(t, snapshot.Custody)
	acc, err := rt.Account(ctx, poor)
	require.NoError(t, err)
	require.Equal(t, uint64(5), acc.Balance)
	require.Equal(t, []string{market.EventTypeMarketCreated, events.TypeAccountMinted}, sink.eventTypes())
}

func TestLivePayoutShortfallRollsBack(t *testing.T) {
	rt, sink := newTestRuntime(t, WithPayoutMode(market.PayoutLive))
	ctx := context.Background()
	m, a, b, _ := seedScenario(t, rt)

	paid, err := rt.ClaimWinnings(ctx, m.ID, a)
	require.NoError(t, err)
	require.Equal(t, uint64(200), paid)

	_, err = rt.ClaimWinnings(ctx, m.ID, b)
	require.ErrorIs(t, err, market.ErrInsufficientCustody)

	snapshot, err := rt.Market(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(200), snapshot.Custody)
	amount, ok := snapshot.Market.YesBettors.Amount(b)
	require.True(t, ok)
	require.Equal(t, uint64(150), amount)
	acc, err := rt.Account(ctx, b)
	require.NoError(t, err)
	require.Equal(t, uint64(850), acc.Balance)
	require.Len(t, sink.eventTypes(), 9)
}

func TestSinkFailuresDoNotRollBack(t *testing.T) {
	failing := SinkFunc(func(context.Context, events.Event) error { return errors.New("disk full") })
	panicking := SinkFunc(func(context.Context, events.Event) error { panic("boom") })
	rt, sink := newTestRuntime(t, WithSink("failing", failing), WithSink("panicking", panicking))
	ctx := context.Background()

	m, err := rt.CreateMarket(ctx, identity(0xC0), "q?", 1)
	require.NoError(t, err)
	snapshot, err := rt.Market(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, "q?", snapshot.Market.Question)
	require.Equal(t, []string{market.EventTypeMarketCreated}, sink.eventTypes())
}

func TestConcurrentBetsConserveValue(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()
	m, err := rt.CreateMarket(ctx, identity(0xC0), "q?", 1)
	require.NoError(t, err)

	const bettors = market.MaxBettorsPerSide
	for i := 0; i < bettors; i++ {
		_, err := rt.Mint(ctx, identity(byte(i+1)), 100)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, bettors*4)
	for i := 0; i < bettors; i++ {
		who := identity(byte(i + 1))
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(side market.Outcome) {
				defer wg.Done()
				errs <- rt.PlaceBet(ctx, m.ID, who, side, 10)
			}(market.Outcome(1 + j))
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snapshot, err := rt.Market(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(bettors*10), snapshot.Market.TotalYes)
	require.Equal(t, uint64(bettors*10), snapshot.Market.TotalNo)
	require.Equal(t, snapshot.Market.TotalYes+snapshot.Market.TotalNo, snapshot.Custody)
	for i := 0; i < bettors; i++ {
		acc, err := rt.Account(ctx, identity(byte(i+1)))
		require.NoError(t, err)
		require.Equal(t, uint64(80), acc.Balance)
	}
	require.Zero(t, rt.locks.size())
}

func TestMarketsPagination(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()
	creator := identity(0xC0)
	var ids [][32]byte
	for nonce := uint64(1); nonce <= 3; nonce++ {
		m, err := rt.CreateMarket(ctx, creator, "q?", nonce)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	page, total, err := rt.Markets(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, page, 1)
	require.Equal(t, ids[1], page[0].ID)

	all, _, err := rt.Markets(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	none, _, err := rt.Markets(ctx, 10, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestMintCreditsAndEmits(t *testing.T) {
	rt, sink := newTestRuntime(t)
	ctx := context.Background()
	who := identity(0x42)

	balance, err := rt.Mint(ctx, who, 70)
	require.NoError(t, err)
	require.Equal(t, uint64(70), balance)
	balance, err = rt.Mint(ctx, who, 30)
	require.NoError(t, err)
	require.Equal(t, uint64(100), balance)

	_, err = rt.Mint(ctx, who, 0)
	require.ErrorIs(t, err, market.ErrInvalidAmount)
	_, err = rt.Mint(ctx, types.Identity{}, 1)
	require.ErrorIs(t, err, market.ErrInvalidIdentity)

	acc, err := rt.Account(ctx, who)
	require.NoError(t, err)
	require.Equal(t, uint64(100), acc.Balance)
	require.Equal(t, []string{events.TypeAccountMinted, events.TypeAccountMinted}, sink.eventTypes())
}

func TestCanceledContext(t *testing.T) {
	rt, sink := newTestRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := rt.CreateMarket(ctx, identity(0xC0), "q?", 1)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, sink.eventTypes())
}

func TestNewValidatesInputs(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	_, err = New(storage.NewMemDB(), WithPayoutMode(market.PayoutMode(9)))
	require.Error(t, err)

	db := storage.NewMemDB()
	mgr := state.NewManager(db)
	require.NoError(t, mgr.SetStateVersion(state.StateVersion+1))
	require.NoError(t, mgr.Commit())
	_, err = New(db)
	require.ErrorIs(t, err, state.ErrStateVersionMismatch)
}

func TestLockTableSerialisesOverlappingKeys(t *testing.T) {
	table := newLockTable()
	release := table.acquire("b", "a", "a")
	require.Equal(t, 2, table.size())

	acquired := make(chan struct{})
	go func() {
		unlock := table.acquire("a", "c")
		close(acquired)
		unlock()
	}()
	select {
	case <-acquired:
		t.Fatalf("overlapping key acquired while held")
	default:
	}
	release()
	release()
	<-acquired
}
