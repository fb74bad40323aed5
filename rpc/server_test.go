package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/viraj-mahida/betting-contract/core/events"
	"github.com/viraj-mahida/betting-contract/core/runtime"
	"github.com/viraj-mahida/betting-contract/core/types"
	"github.com/viraj-mahida/betting-contract/native/market"
	"github.com/viraj-mahida/betting-contract/storage"
	"github.com/viraj-mahida/betting-contract/storage/journal"
)

const testSecret = "test-hmac-secret"

type testEnv struct {
	server  *httptest.Server
	journal *journal.Journal
}

type testResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	status int
}

func identity(fill byte) types.Identity {
	var id types.Identity
	for i := range id {
		id[i] = fill
	}
	return id
}

func newTestEnv(t *testing.T, limit RateLimit) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, ServerConfig{
		Auth:      AuthConfig{HMACSecret: testSecret, Issuer: "markets", AdminScope: "market:admin"},
		RateLimit: limit,
	})
}

func newTestEnvWithConfig(t *testing.T, cfg ServerConfig) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	broadcaster := events.NewBroadcaster(16)
	rt, err := runtime.New(storage.NewMemDB(),
		runtime.WithLogger(logger),
		runtime.WithMetrics(nil),
		runtime.WithSink("journal", runtime.JournalSink{Journal: j}),
		runtime.WithSink("stream", runtime.EmitterSink{Emitter: broadcaster}),
	)
	require.NoError(t, err)
	srv := NewServer(rt, j, broadcaster, cfg, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, journal: j}
}

func tokenFor(t *testing.T, who types.Identity, scopes ...string) string {
	t.Helper()
	token, err := IssueToken(testSecret, TokenRequest{Subject: who, Scopes: scopes, Issuer: "markets"})
	require.NoError(t, err)
	return token
}

func (e *testEnv) call(t *testing.T, token, method string, params interface{}) testResponse {
	t.Helper()
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/rpc", bytes.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out testResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	out.status = resp.StatusCode
	return out
}

func (e *testEnv) mustCall(t *testing.T, token, method string, params, out interface{}) {
	t.Helper()
	resp := e.call(t, token, method, params)
	require.Nil(t, resp.Error, "unexpected error for %s: %+v", method, resp.Error)
	if out != nil {
		require.NoError(t, json.Unmarshal(resp.Result, out))
	}
}

func TestMarketLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	creator, alice, bob, carol := identity(0xC0), identity(0x0A), identity(0x0B), identity(0x0C)
	admin := tokenFor(t, identity(0xAD), "market:admin")

	for _, who := range []types.Identity{alice, bob, carol} {
		env.mustCall(t, admin, "account_mint", map[string]interface{}{"identity": who.String(), "amount": "1000"}, nil)
	}

	var created marketJSON
	env.mustCall(t, tokenFor(t, creator), "market_create", map[string]interface{}{"question": "Will it rain?", "nonce": 1}, &created)
	require.Equal(t, "undecided", created.Outcome)
	require.Equal(t, creator.String(), created.Creator)

	bets := []struct {
		who    types.Identity
		choice string
		amount interface{}
	}{{alice, "yes", 150}, {bob, "yes", "150"}, {carol, "no", 100}}
	for _, bet := range bets {
		env.mustCall(t, tokenFor(t, bet.who), "market_placeBet", map[string]interface{}{"id": created.ID, "choice": bet.choice, "amount": bet.amount}, nil)
	}

	var resolved marketJSON
	env.mustCall(t, tokenFor(t, creator), "market_resolve", map[string]interface{}{"id": created.ID, "outcome": "yes"}, &resolved)
	require.True(t, resolved.Resolved)
	require.Equal(t, "400", *resolved.Custody)

	var claim claimJSON
	env.mustCall(t, tokenFor(t, alice), "market_claim", map[string]interface{}{"id": created.ID}, &claim)
	require.Equal(t, "200", claim.Amount)

	var balance balanceJSON
	env.mustCall(t, "", "account_getBalance", map[string]interface{}{"identity": alice.String()}, &balance)
	require.Equal(t, "1050", balance.Balance)
	require.Equal(t, uint64(2), balance.Nonce)

	var fetched marketJSON
	env.mustCall(t, "", "market_get", map[string]interface{}{"id": created.ID}, &fetched)
	require.Equal(t, "200", *fetched.Custody)
	require.Len(t, fetched.YesBettors, 1)

	var listed marketListJSON
	env.mustCall(t, "", "market_list", nil, &listed)
	require.Equal(t, 1, listed.Total)

	var evts []eventJSON
	env.mustCall(t, "", "market_listEvents", map[string]interface{}{"id": created.ID}, &evts)
	require.Len(t, evts, 6)
	require.Equal(t, market.EventTypeMarketCreated, evts[0].Type)
	require.Equal(t, market.EventTypeWinningsClaimed, evts[5].Type)
}

func TestMarketErrorsMapToDistinctCodes(t *testing.T) {
	seen := make(map[int]bool)
	for _, entry := range marketErrorCodes {
		require.False(t, seen[entry.code], "duplicate code %d", entry.code)
		seen[entry.code] = true
	}

	env := newTestEnv(t, RateLimit{})
	creator, alice := identity(0xC0), identity(0x0A)
	var created marketJSON
	env.mustCall(t, tokenFor(t, creator), "market_create", map[string]interface{}{"question": "q?", "nonce": 7}, &created)

	resp := env.call(t, tokenFor(t, alice), "market_placeBet", map[string]interface{}{"id": created.ID, "choice": "yes", "amount": 0})
	require.Equal(t, codeInvalidAmount, resp.Error.Code)
	for _, negative := range []interface{}{"-5", -5} {
		resp = env.call(t, tokenFor(t, alice), "market_placeBet", map[string]interface{}{"id": created.ID, "choice": "yes", "amount": negative})
		require.NotNil(t, resp.Error)
		require.Equal(t, codeInvalidAmount, resp.Error.Code, "amount %v", negative)
		require.Equal(t, http.StatusBadRequest, resp.status)
	}
	resp = env.call(t, tokenFor(t, alice), "market_placeBet", map[string]interface{}{"id": created.ID, "choice": "yes", "amount": "ten"})
	require.Equal(t, codeInvalidParams, resp.Error.Code)
	resp = env.call(t, tokenFor(t, alice), "market_placeBet", map[string]interface{}{"id": created.ID, "choice": "maybe", "amount": 5})
	require.Equal(t, codeInvalidChoice, resp.Error.Code)
	resp = env.call(t, tokenFor(t, alice), "market_placeBet", map[string]interface{}{"id": created.ID, "choice": "yes", "amount": 5})
	require.Equal(t, codeInsufficientFunds, resp.Error.Code)
	resp = env.call(t, tokenFor(t, alice), "market_claim", map[string]interface{}{"id": created.ID})
	require.Equal(t, codeNotResolved, resp.Error.Code)
	resp = env.call(t, tokenFor(t, alice), "market_resolve", map[string]interface{}{"id": created.ID, "outcome": "yes"})
	require.Equal(t, codeNotCreator, resp.Error.Code)
	require.Equal(t, http.StatusForbidden, resp.status)
	resp = env.call(t, tokenFor(t, creator), "market_resolve", map[string]interface{}{"id": created.ID, "outcome": "undecided"})
	require.Equal(t, codeInvalidOutcome, resp.Error.Code)
	env.mustCall(t, tokenFor(t, creator), "market_resolve", map[string]interface{}{"id": created.ID, "outcome": "no"}, nil)
	resp = env.call(t, tokenFor(t, alice), "market_claim", map[string]interface{}{"id": created.ID})
	require.Equal(t, codeNotAWinner, resp.Error.Code)
	resp = env.call(t, tokenFor(t, creator), "market_resolve", map[string]interface{}{"id": created.ID, "outcome": "yes"})
	require.Equal(t, codeAlreadyResolved, resp.Error.Code)
	resp = env.call(t, "", "market_get", map[string]interface{}{"id": market.FormatID([32]byte{0x01})})
	require.Equal(t, codeMarketNotFound, resp.Error.Code)
	resp = env.call(t, tokenFor(t, creator), "market_create", map[string]interface{}{"question": "q?", "nonce": 7})
	require.Equal(t, codeMarketExists, resp.Error.Code)
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	params := map[string]interface{}{"question": "q?", "nonce": 1}

	resp := env.call(t, "", "market_create", params)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
	require.Equal(t, http.StatusUnauthorized, resp.status)

	forged, err := IssueToken("other-secret", TokenRequest{Subject: identity(1), Issuer: "markets"})
	require.NoError(t, err)
	resp = env.call(t, forged, "market_create", params)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	wrongIssuer, err := IssueToken(testSecret, TokenRequest{Subject: identity(1), Issuer: "elsewhere"})
	require.NoError(t, err)
	resp = env.call(t, wrongIssuer, "market_create", params)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	expired, err := IssueToken(testSecret, TokenRequest{Subject: identity(1), Issuer: "markets", TTL: time.Minute, Now: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	resp = env.call(t, expired, "market_create", params)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	resp = env.call(t, tokenFor(t, identity(1)), "account_mint", map[string]interface{}{"identity": identity(1).String(), "amount": 5})
	require.Equal(t, codeForbidden, resp.Error.Code)
}

func TestMintRequiresDefaultScopeWhenUnset(t *testing.T) {
	env := newTestEnvWithConfig(t, ServerConfig{Auth: AuthConfig{HMACSecret: testSecret, Issuer: "markets"}})
	who := identity(0x0B)
	params := map[string]interface{}{"identity": who.String(), "amount": "5"}

	resp := env.call(t, tokenFor(t, who), "account_mint", params)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeForbidden, resp.Error.Code)
	require.Equal(t, http.StatusForbidden, resp.status)

	var balance map[string]interface{}
	env.mustCall(t, tokenFor(t, who, DefaultAdminScope), "account_mint", params, &balance)
	require.Equal(t, "5", balance["balance"])
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	resp := env.call(t, "", "market_unknown", nil)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	resp = env.call(t, "", "market_get", map[string]interface{}{"id": "0x1234"})
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	resp = env.call(t, "", "market_get", map[string]interface{}{"id": market.FormatID([32]byte{1}), "extra": true})
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	httpResp, err := http.Post(env.server.URL+"/rpc", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer httpResp.Body.Close()
	var parsed testResponse
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&parsed))
	require.Equal(t, codeParseError, parsed.Error.Code)

	huge := bytes.Repeat([]byte("a"), defaultMaxRequestBytes+1)
	bigResp, err := http.Post(env.server.URL+"/rpc", "application/json", bytes.NewReader(huge))
	require.NoError(t, err)
	defer bigResp.Body.Close()
	require.Equal(t, http.StatusRequestEntityTooLarge, bigResp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, RateLimit{RequestsPerSecond: 0.001, Burst: 1})
	first := env.call(t, "", "market_list", nil)
	require.Nil(t, first.Error)
	second := env.call(t, "", "market_list", nil)
	require.NotNil(t, second.Error)
	require.Equal(t, codeRateLimited, second.Error.Code)
	require.Equal(t, http.StatusTooManyRequests, second.status)
}

func TestRateLimitForwardedFor(t *testing.T) {
	listFrom := func(env *testEnv, forwarded string) int {
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/rpc",
			strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"market_list"}`))
		require.NoError(t, err)
		req.Header.Set("X-Forwarded-For", forwarded)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	direct := newTestEnv(t, RateLimit{RequestsPerSecond: 0.001, Burst: 1})
	require.Equal(t, http.StatusOK, listFrom(direct, "203.0.113.1"))
	require.Equal(t, http.StatusTooManyRequests, listFrom(direct, "203.0.113.2"))

	proxied := newTestEnv(t, RateLimit{RequestsPerSecond: 0.001, Burst: 1, TrustForwardedFor: true})
	require.Equal(t, http.StatusOK, listFrom(proxied, "203.0.113.1, 10.0.0.1"))
	require.Equal(t, http.StatusOK, listFrom(proxied, "203.0.113.2"))
	require.Equal(t, http.StatusTooManyRequests, listFrom(proxied, "203.0.113.1"))
}

func TestHealthAndRequestID(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(requestIDHeader))

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "abc-123")
	echoed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer echoed.Body.Close()
	require.Equal(t, "abc-123", echoed.Header.Get(requestIDHeader))

	metrics, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	require.Equal(t, http.StatusOK, metrics.StatusCode)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	creator := identity(0xC0)
	id := market.DeriveID(creator, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/events?market=" + market.FormatID(id)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	env.mustCall(t, tokenFor(t, creator), "market_create", map[string]interface{}{"question": "other?", "nonce": 2}, nil)
	env.mustCall(t, tokenFor(t, creator), "market_create", map[string]interface{}{"question": "q?", "nonce": 1}, nil)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt eventJSON
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, market.EventTypeMarketCreated, evt.Type)
	require.Equal(t, market.FormatID(id), evt.Attributes["market"])
	require.Equal(t, "q?", evt.Attributes["question"])
}
