package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"giftarb/internal/database"
	"giftarb/internal/model"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetSettings(ctx context.Context) (model.Settings, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.Settings), args.Error(1)
}

func (m *MockStore) RecentDeals(ctx context.Context, limit int) ([]model.Deal, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.Deal), args.Error(1)
}

func (m *MockStore) ListOpportunities(ctx context.Context, filter database.OpportunityFilter) ([]model.Opportunity, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]model.Opportunity), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, store Store) (*httptest.Server, *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(testLogger())
	go hub.Run(ctx)

	srv := httptest.NewServer(NewServer(ctx, testLogger(), store, hub, model.DefaultPriceRanges()).Router())
	t.Cleanup(srv.Close)
	return srv, hub
}

func getJSON(t *testing.T, url string, dst any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dst != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp.StatusCode
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, new(MockStore))
	var body map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_Opportunities(t *testing.T) {
	store := new(MockStore)
	opps := []model.Opportunity{{Source: "tonnel", Target: "portals", ItemID: "1", Name: "Plush Pepe", Profit: decimal.NewFromInt(2)}}
	store.On("ListOpportunities", mock.Anything, database.OpportunityFilter{PriceRange: "5-10", SortBy: "end_time", Limit: 3}).
		Return(opps, nil).Once()
	store.On("ListOpportunities", mock.Anything, database.OpportunityFilter{}).
		Return([]model.Opportunity(nil), nil).Once()

	srv, _ := newTestServer(t, store)

	var body struct {
		Opportunities []model.Opportunity `json:"opportunities"`
		Count         int                 `json:"count"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/opportunities?range=5-10&sort=end_time&limit=3", &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "Plush Pepe", body.Opportunities[0].Name)

	var empty map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/opportunities", &empty))
	assert.Equal(t, []any{}, empty["opportunities"])

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/opportunities?range=7-8", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/opportunities?sort=name", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/opportunities?limit=-1", nil))
	store.AssertExpectations(t)
}

func TestServer_Deals(t *testing.T) {
	store := new(MockStore)
	store.On("RecentDeals", mock.Anything, defaultDealLimit).Return([]model.Deal{{ID: 1, Name: "Lol Pop"}}, nil).Once()
	store.On("RecentDeals", mock.Anything, 5).Return([]model.Deal(nil), errors.New("db down")).Once()

	srv, _ := newTestServer(t, store)

	var body struct {
		Deals []model.Deal `json:"deals"`
		Count int          `json:"count"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/deals", &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, http.StatusInternalServerError, getJSON(t, srv.URL+"/api/deals?limit=5", nil))
	store.AssertExpectations(t)
}

func TestServer_Settings(t *testing.T) {
	store := new(MockStore)
	store.On("GetSettings", mock.Anything).Return(model.DefaultSettings(), nil).Once()
	srv, _ := newTestServer(t, store)

	var body map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/settings", &body))
	assert.Equal(t, "100", body["max_price"])
	assert.Equal(t, "0.01", body["resale_offset"])
}

func TestServer_WebSocketPushesSnapshots(t *testing.T) {
	srv, hub := newTestServer(t, new(MockStore))
	hub.Publish([]model.Opportunity{{ItemID: "first"}})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeSnapshot, msg.Type)
	require.Len(t, msg.Payload, 1)
	assert.Equal(t, "first", msg.Payload[0].ItemID)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	hub.Publish([]model.Opportunity{{ItemID: "a"}, {ItemID: "b"}})

	// The first snapshot may also arrive as a broadcast; skip until the new one.
	for msg.Count != 2 {
		require.NoError(t, conn.ReadJSON(&msg))
	}
	assert.Equal(t, "b", msg.Payload[1].ItemID)
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub := NewHub(testLogger())
	_, ok := hub.Latest()
	assert.False(t, ok)

	hub.Publish(nil)
	latest, ok := hub.Latest()
	require.True(t, ok)
	assert.Equal(t, 0, latest.Count)
	assert.NotNil(t, latest.Payload)
}
