package exchange

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"giftarb/internal/cache"
	"giftarb/internal/database"
	"giftarb/internal/model"
)

type memoryTokens struct {
	mu     sync.Mutex
	tokens map[string]model.AuthToken
}

func newMemoryTokens(seed ...model.AuthToken) *memoryTokens {
	m := &memoryTokens{tokens: map[string]model.AuthToken{}}
	for _, t := range seed {
		m.tokens[t.Market] = t
	}
	return m
}

func (m *memoryTokens) GetAuthToken(_ context.Context, market string) (model.AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[market]
	if !ok {
		return model.AuthToken{}, database.ErrNotFound
	}
	return t, nil
}

func (m *memoryTokens) SaveAuthToken(_ context.Context, token model.AuthToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.Market] = token
	return nil
}

type MockAlerter struct {
	mock.Mock
}

func (m *MockAlerter) Alert(ctx context.Context, text string) bool {
	args := m.Called(ctx, text)
	return args.Bool(0)
}

type sequenceSource struct {
	values []string
	calls  int
}

func (s *sequenceSource) Token(_ context.Context) (model.AuthToken, error) {
	v := s.values[s.calls%len(s.values)]
	s.calls++
	return model.AuthToken{Value: v}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestTonnel(t *testing.T, srv *httptest.Server, tokens TokenStore, source TokenSource, alerter Alerter) *Client {
	t.Helper()
	return NewTonnelClient("tonnel", Options{
		BaseURL:       srv.URL,
		Commission:    dec("0.06"),
		FloorCacheTTL: time.Minute,
		HTTPClient:    srv.Client(),
	}, tokens, source, cache.NewMemoryCache(), alerter, testLogger())
}

func newTestPortals(t *testing.T, srv *httptest.Server, tokens TokenStore, source TokenSource, alerter Alerter) *Client {
	t.Helper()
	return NewPortalsClient("portals", Options{
		BaseURL:    srv.URL,
		Commission: dec("0.05"),
		HTTPClient: srv.Client(),
	}, tokens, source, cache.NewMemoryCache(), alerter, testLogger())
}

func TestClient_ListActive_Tonnel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gifts/search", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Auth-Token"))
		assert.Equal(t, "price_asc", r.URL.Query().Get("sort"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "1", r.URL.Query().Get("min_price"))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": []map[string]any{
				{"gift_id": 101, "name": "Plush Pepe", "model": "Original", "price": 12.5},
				{"gift_id": "g-2", "name": "Lol Pop", "model": "Candy", "price": "3.1", "current_bid": 2.9, "end_time": 1760000000},
				{"gift_id": "", "name": "no id", "price": 1},
			},
		})
	}))
	defer srv.Close()

	c := newTestTonnel(t, srv, newMemoryTokens(model.AuthToken{Market: "tonnel", Value: "secret"}), nil, nil)
	listings := c.ListActive(context.Background(), Filters{MinPrice: dec("1")})

	require.Len(t, listings, 2)
	assert.Equal(t, "101", listings[0].ItemID)
	assert.Equal(t, "tonnel", listings[0].Market)
	assert.True(t, dec("12.5").Equal(listings[0].Price))
	assert.Equal(t, "g-2", listings[1].ItemID)
	assert.True(t, dec("2.9").Equal(listings[1].EffectivePrice()))
	require.NotNil(t, listings[1].EndTime)
	assert.Equal(t, int64(1760000000), listings[1].EndTime.Unix())
}

func TestClient_ListActive_FailuresYieldEmpty(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"empty body": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
		"not json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>maintenance</html>"))
		},
		"server error": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "boom"})
		},
		"no items": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			c := newTestPortals(t, srv, newMemoryTokens(model.AuthToken{Market: "portals", Value: "secret"}), nil, nil)
			assert.Empty(t, c.ListActive(context.Background(), Filters{}))
		})
	}
}

func TestClient_SearchListings_ReportsFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "maintenance"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	c := newTestPortals(t, srv, newMemoryTokens(model.AuthToken{Market: "portals", Value: "secret"}), nil, nil)

	listings, err := c.SearchListings(context.Background(), Filters{})
	require.NoError(t, err, "an empty market is not a failure")
	assert.Empty(t, listings)

	fail.Store(true)
	listings, err = c.SearchListings(context.Background(), Filters{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maintenance")
	assert.Nil(t, listings)
	assert.Empty(t, c.ListActive(context.Background(), Filters{}))
}

func TestClient_AuthorizationHeaders(t *testing.T) {
	cases := []struct {
		name       string
		newClient  func(*testing.T, *httptest.Server, TokenStore, TokenSource, Alerter) *Client
		market     string
		token      string
		wantHeader string
		wantValue  string
	}{
		{"portals bare token", newTestPortals, "portals", "secret", "Authorization", "Bearer secret"},
		{"portals mini app token", newTestPortals, "portals", "tma query_id=AAA&user=1", "Authorization", "tma query_id=AAA&user=1"},
		{"portals bearer token", newTestPortals, "portals", "Bearer abc", "Authorization", "Bearer abc"},
		{"tonnel bare token", newTestTonnel, "tonnel", "secret", "X-Auth-Token", "secret"},
		{"tonnel mini app token", newTestTonnel, "tonnel", "tma query_id=AAA&user=1", "Authorization", "tma query_id=AAA&user=1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen := make(chan http.Header, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen <- r.Header.Clone()
				writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []any{}})
			}))
			defer srv.Close()

			c := tc.newClient(t, srv, newMemoryTokens(model.AuthToken{Market: tc.market, Value: tc.token}), nil, nil)
			_, err := c.SearchListings(context.Background(), Filters{})
			require.NoError(t, err)

			h := <-seen
			assert.Equal(t, tc.wantValue, h.Get(tc.wantHeader))
		})
	}
}

func TestClient_InitDataTokenSentVerbatim(t *testing.T) {
	seen := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	source := InitDataTokenSource{InitData: func() string { return "query_id=AAA&user=1" }}
	c := newTestPortals(t, srv, newMemoryTokens(), source, nil)

	require.NoError(t, c.RefreshToken(context.Background()))
	_, err := c.SearchListings(context.Background(), Filters{})
	require.NoError(t, err)
	assert.Equal(t, "tma query_id=AAA&user=1", <-seen)
}

func TestClient_RefreshesOnceOnUnauthorized(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{
			{"nft_id": "n1", "name": "Plush Pepe", "model": "Original", "price": 10},
		}})
	}))
	defer srv.Close()

	tokens := newMemoryTokens(model.AuthToken{Market: "portals", Value: "stale"})
	source := &sequenceSource{values: []string{"fresh"}}
	c := newTestPortals(t, srv, tokens, source, nil)

	listings := c.ListActive(context.Background(), Filters{})
	require.Len(t, listings, 1)
	assert.Equal(t, "n1", listings[0].ItemID)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, source.calls)

	stored, err := tokens.GetAuthToken(context.Background(), "portals")
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.Value)
}

func TestClient_SecondUnauthorizedAlerts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	alerter := new(MockAlerter)
	alerter.On("Alert", mock.Anything, mock.AnythingOfType("string")).Return(true).Once()

	tokens := newMemoryTokens(model.AuthToken{Market: "tonnel", Value: "stale"})
	c := newTestTonnel(t, srv, tokens, &sequenceSource{values: []string{"also-bad"}}, alerter)

	err := c.Buy(context.Background(), "g1", dec("10"))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(2), calls.Load(), "exactly one retry")
	alerter.AssertExpectations(t)
}

func TestClient_SkipsWithoutToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{}})
	}))
	defer srv.Close()

	tokens := newMemoryTokens(model.AuthToken{Market: "tonnel", Value: "old", ExpiresAt: time.Now().Add(-time.Minute)})
	c := newTestTonnel(t, srv, tokens, &sequenceSource{values: []string{"renewed"}}, nil)

	err := c.Sell(context.Background(), "g1", dec("5"))
	assert.ErrorIs(t, err, ErrNoToken)
	assert.Zero(t, calls.Load())

	stored, err := tokens.GetAuthToken(context.Background(), "tonnel")
	require.NoError(t, err)
	assert.Equal(t, "renewed", stored.Value, "refresh triggered for the next request")

	require.NoError(t, c.Sell(context.Background(), "g1", dec("5")))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_TradeRequests(t *testing.T) {
	type captured struct {
		path string
		body map[string]any
	}
	var got []captured
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got = append(got, captured{path: r.URL.Path, body: body})
		mu.Unlock()
		if r.URL.Path == "/market/cancel-sale" {
			writeJSON(w, http.StatusOK, map[string]any{"error": map[string]any{"message": "not listed"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"ok": true}})
	}))
	defer srv.Close()

	ctx := context.Background()
	c := newTestPortals(t, srv, newMemoryTokens(model.AuthToken{Market: "portals", Value: "secret"}), nil, nil)

	require.NoError(t, c.Buy(ctx, "n1", dec("10")))
	require.NoError(t, c.Sell(ctx, "n1", dec("12.5")))
	require.NoError(t, c.UpdatePrice(ctx, "n1", dec("12.4")))
	err := c.CancelSale(ctx, "n1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not listed")

	require.Len(t, got, 4)
	assert.Equal(t, "/market/buy", got[0].path)
	assert.Equal(t, "n1", got[0].body["nft_id"])
	assert.Equal(t, 10.0, got[0].body["price"])
	assert.Equal(t, "/market/sell", got[1].path)
	assert.Equal(t, "/market/update-price", got[2].path)
	assert.Equal(t, 12.4, got[2].body["new_price"])
}

func TestClient_TonnelUnsuccessfulEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": map[string]any{"message": "insufficient balance"}})
	}))
	defer srv.Close()

	c := newTestTonnel(t, srv, newMemoryTokens(model.AuthToken{Market: "tonnel", Value: "secret"}), nil, nil)
	err := c.Buy(context.Background(), "g1", dec("10"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestClient_FloorPrice(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/market/floor-prices", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"Plush Pepe": []map[string]any{
					{"model": "Original", "floor_price": 12},
					{"model": "Original", "floor_price": 11.5},
					{"model": "Gold", "floor_price": 40},
				},
			},
		})
	}))
	defer srv.Close()

	ctx := context.Background()
	c := newTestTonnel(t, srv, newMemoryTokens(model.AuthToken{Market: "tonnel", Value: "secret"}), nil, nil)

	floor, ok := c.FloorPrice(ctx, "Plush Pepe", "Original")
	require.True(t, ok)
	assert.True(t, dec("11.5").Equal(floor))

	floor, ok = c.FloorPrice(ctx, "plush pepe", "gold")
	require.True(t, ok)
	assert.True(t, dec("40").Equal(floor))

	_, ok = c.FloorPrice(ctx, "Lol Pop", "Candy")
	assert.False(t, ok)

	assert.Equal(t, int32(1), calls.Load(), "floor table served from cache")
}

func TestClient_MyListingsDialects(t *testing.T) {
	var tonnelQuery, portalsQuery string
	tonnelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tonnelQuery = r.URL.RawQuery
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []any{}})
	}))
	defer tonnelSrv.Close()
	portalsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		portalsQuery = r.URL.RawQuery
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
	}))
	defer portalsSrv.Close()

	ctx := context.Background()
	newTestTonnel(t, tonnelSrv, newMemoryTokens(model.AuthToken{Market: "tonnel", Value: "x"}), nil, nil).MyListings(ctx)
	newTestPortals(t, portalsSrv, newMemoryTokens(model.AuthToken{Market: "portals", Value: "x"}), nil, nil).MyListings(ctx)

	assert.Equal(t, "status=listed", tonnelQuery)
	assert.Equal(t, "listed=true", portalsQuery)
}

func TestClient_RequestSpacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	c := NewPortalsClient("portals", Options{
		BaseURL:    srv.URL,
		Spacing:    150 * time.Millisecond,
		HTTPClient: srv.Client(),
	}, newMemoryTokens(model.AuthToken{Market: "portals", Value: "x"}), nil, nil, nil, testLogger())

	start := time.Now()
	for i := 0; i < 3; i++ {
		c.ListActive(context.Background(), Filters{})
	}
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}
