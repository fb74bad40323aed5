package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMarketMetricsCounters(t *testing.T) {
	m := Markets()
	require.Same(t, m, Markets())

	okBefore := testutil.ToFloat64(m.operations.WithLabelValues("place_bet", "ok"))
	failBefore := testutil.ToFloat64(m.operations.WithLabelValues("place_bet", "insufficient_funds"))
	m.ObserveOperation("place_bet", "", 5*time.Millisecond)
	m.ObserveOperation("place_bet", "insufficient_funds", time.Millisecond)
	require.Equal(t, okBefore+1, testutil.ToFloat64(m.operations.WithLabelValues("place_bet", "ok")))
	require.Equal(t, failBefore+1, testutil.ToFloat64(m.operations.WithLabelValues("place_bet", "insufficient_funds")))

	stakedBefore := testutil.ToFloat64(m.value.WithLabelValues("staked"))
	paidBefore := testutil.ToFloat64(m.value.WithLabelValues("paid"))
	m.RecordStake(250)
	m.RecordPayout(400)
	require.Equal(t, stakedBefore+250, testutil.ToFloat64(m.value.WithLabelValues("staked")))
	require.Equal(t, paidBefore+400, testutil.ToFloat64(m.value.WithLabelValues("paid")))

	createdBefore := testutil.ToFloat64(m.marketsCreated)
	shortBefore := testutil.ToFloat64(m.custodyBreaches)
	m.RecordMarketCreated()
	m.RecordCustodyShortfall()
	require.Equal(t, createdBefore+1, testutil.ToFloat64(m.marketsCreated))
	require.Equal(t, shortBefore+1, testutil.ToFloat64(m.custodyBreaches))

	sinkBefore := testutil.ToFloat64(m.sinkFailures.WithLabelValues("unknown"))
	m.RecordSinkFailure("")
	require.Equal(t, sinkBefore+1, testutil.ToFloat64(m.sinkFailures.WithLabelValues("unknown")))
}

func TestMetricsNilReceivers(t *testing.T) {
	var m *MarketMetrics
	require.NotPanics(t, func() {
		m.ObserveOperation("claim", "ok", time.Millisecond)
		m.RecordStake(1)
		m.RecordPayout(1)
		m.RecordMarketCreated()
		m.RecordCustodyShortfall()
		m.RecordSinkFailure("journal")
	})
	var mod *moduleMetrics
	require.NotPanics(t, func() {
		mod.Observe("market", "market_get", 200, time.Millisecond)
		mod.RecordThrottle("market", "rate_limit")
	})
}

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	okBefore := testutil.ToFloat64(m.requests.WithLabelValues("market", "market_get", "success"))
	errBefore := testutil.ToFloat64(m.errors.WithLabelValues("market", "market_get", "404"))
	m.Observe("market", "market_get", 200, time.Millisecond)
	m.Observe("market", "market_get", 404, time.Millisecond)
	require.Equal(t, okBefore+1, testutil.ToFloat64(m.requests.WithLabelValues("market", "market_get", "success")))
	require.Equal(t, errBefore+1, testutil.ToFloat64(m.errors.WithLabelValues("market", "market_get", "404")))

	throttleBefore := testutil.ToFloat64(m.throttles.WithLabelValues("unknown", "unspecified"))
	m.RecordThrottle("", "")
	require.Equal(t, throttleBefore+1, testutil.ToFloat64(m.throttles.WithLabelValues("unknown", "unspecified")))
}
