package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrd/internal/asset/memtoken"
	"github.com/alanyoungcy/lmsrd/internal/engine"
	"github.com/alanyoungcy/lmsrd/internal/server/handler"
	"github.com/alanyoungcy/lmsrd/internal/server/ws"
)

const adminKey = "test-admin-key"

func wad(n int64) string {
	v := new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	return v.String()
}

// newTestServer assembles the full HTTP stack against an in-process token,
// the same wiring memory mode uses.
func newTestServer(t *testing.T) (*httptest.Server, *memtoken.Token) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	token := memtoken.New()
	hub := ws.NewHub(nil, "memory", logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	eng := engine.New(
		engine.WithLogger(logger),
		engine.WithSink(hub),
	)

	handlers := Handlers{
		Health:    handler.NewHealthHandler(nil, logger),
		Status:    handler.NewStatusHandler(eng, "memory", time.Now(), logger),
		Markets:   handler.NewMarketHandler(eng, token, nil, nil, logger),
		Positions: handler.NewPositionHandler(eng, nil, logger),
		Faucet:    handler.NewFaucetHandler(token, logger),
	}

	srv := NewServer(Config{
		Port:     0,
		AdminKey: adminKey,
	}, handlers, hub, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, token
}

func doJSON(t *testing.T, method, url string, body any, admin bool) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+adminKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), "body: %s", data)
	}
	return resp, out
}

func createMarket(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/markets", map[string]any{
		"title":           "Will it rain tomorrow?",
		"admin":           "admin",
		"liquidity_param": wad(10),
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestAdminEndpointsRequireKey(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/markets", map[string]any{
		"title":           "x",
		"admin":           "admin",
		"liquidity_param": wad(10),
	}, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthAndStatus(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/health", nil, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/status", nil, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "memory", body["mode"])
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	ts, token := newTestServer(t)
	token.Mint("admin", mustBig(wad(1000)))
	token.Mint("alice", mustBig(wad(1000)))

	id := createMarket(t, ts)

	// Unfunded markets reject trades.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/markets/"+id+"/buy", map[string]any{
		"actor":   "alice",
		"outcome": "yes",
		"shares":  wad(1),
	}, false)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Fund with the subsidy.
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/markets/"+id+"/fund", map[string]any{
		"actor": "admin",
	}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "market_funded", body["type"])

	// Quote, then buy within the quoted cost.
	resp, body = doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/markets/%s/quotes/buy?outcome=yes&shares=%s", ts.URL, id, wad(1)), nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	total, _ := body["total"].(string)
	require.NotEmpty(t, total)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/markets/"+id+"/buy", map[string]any{
		"actor":    "alice",
		"outcome":  "yes",
		"shares":   wad(1),
		"max_cost": total,
	}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "shares_bought", body["type"])

	// A max_cost below the execution price is rejected.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/markets/"+id+"/buy", map[string]any{
		"actor":    "alice",
		"outcome":  "yes",
		"shares":   wad(1),
		"max_cost": "1",
	}, false)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Spot price is readable.
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/markets/"+id+"/price?outcome=yes", nil, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Position reflects the buy.
	resp, body = doJSON(t, http.MethodGet,
		ts.URL+"/api/markets/"+id+"/positions/alice?outcome=yes", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, wad(1), body["shares"])

	// Resolve YES; alice claims 1 token per share.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/markets/"+id+"/resolve", map[string]any{
		"actor":   "admin",
		"outcome": "yes",
	}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/markets/"+id+"/claim", map[string]any{
		"actor": "alice",
	}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "winnings_claimed", body["type"])
	if amt, ok := body["amount"].(string); assert.True(t, ok) {
		assert.Equal(t, wad(1), amt)
	}

	// Event history covers the whole lifecycle.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/markets/"+id+"/events", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events, _ := body["events"].([]any)
	assert.GreaterOrEqual(t, len(events), 5)
}

func TestFaucetMintsBalance(t *testing.T) {
	ts, token := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/faucet", map[string]any{
		"account": "carol",
		"amount":  wad(5),
	}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	bal, err := token.BalanceOf(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, wad(5), bal.String())
}

func TestFaucetRejectsBadAmounts(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, amount := range []string{"0", "-1", "not-a-number", wad(2_000_000)} {
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/faucet", map[string]any{
			"account": "carol",
			"amount":  amount,
		}, false)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "amount %q", amount)
	}
}

func TestUnknownMarketReturns404(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/markets/nope", nil, false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big.Int literal: " + s)
	}
	return v
}
