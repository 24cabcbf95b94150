package arbitrage

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"giftarb/internal/database"
	"giftarb/internal/exchange"
	"giftarb/internal/model"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRepository) GetSettings(ctx context.Context) (model.Settings, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.Settings), args.Error(1)
}

func (m *MockRepository) UpdateSettings(ctx context.Context, settings model.Settings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

func (m *MockRepository) LogDeal(ctx context.Context, deal model.Deal) (int64, error) {
	args := m.Called(ctx, deal)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) RecentDeals(ctx context.Context, limit int) ([]model.Deal, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.Deal), args.Error(1)
}

func (m *MockRepository) ReplaceOpportunities(ctx context.Context, opportunities []model.Opportunity) error {
	args := m.Called(ctx, opportunities)
	return args.Error(0)
}

func (m *MockRepository) ListOpportunities(ctx context.Context, filter database.OpportunityFilter) ([]model.Opportunity, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]model.Opportunity), args.Error(1)
}

func (m *MockRepository) GetAuthToken(ctx context.Context, market string) (model.AuthToken, error) {
	args := m.Called(ctx, market)
	return args.Get(0).(model.AuthToken), args.Error(1)
}

func (m *MockRepository) SaveAuthToken(ctx context.Context, token model.AuthToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

type MockGateway struct {
	mock.Mock
	name       string
	commission decimal.Decimal
}

func newMockGateway(name, commission string) *MockGateway {
	return &MockGateway{name: name, commission: decimal.RequireFromString(commission)}
}

func (m *MockGateway) Name() string                { return m.name }
func (m *MockGateway) Commission() decimal.Decimal { return m.commission }

func (m *MockGateway) ListActive(ctx context.Context, filters exchange.Filters) []model.Listing {
	args := m.Called(ctx, filters)
	return args.Get(0).([]model.Listing)
}

func (m *MockGateway) SearchListings(ctx context.Context, filters exchange.Filters) ([]model.Listing, error) {
	args := m.Called(ctx, filters)
	return args.Get(0).([]model.Listing), args.Error(1)
}

func (m *MockGateway) MyListings(ctx context.Context) []model.Listing {
	args := m.Called(ctx)
	return args.Get(0).([]model.Listing)
}

func (m *MockGateway) FloorPrice(ctx context.Context, name, giftModel string) (decimal.Decimal, bool) {
	args := m.Called(ctx, name, giftModel)
	return args.Get(0).(decimal.Decimal), args.Bool(1)
}

func (m *MockGateway) Buy(ctx context.Context, itemID string, price decimal.Decimal) error {
	args := m.Called(ctx, itemID, price)
	return args.Error(0)
}

func (m *MockGateway) Sell(ctx context.Context, itemID string, price decimal.Decimal) error {
	args := m.Called(ctx, itemID, price)
	return args.Error(0)
}

func (m *MockGateway) UpdatePrice(ctx context.Context, itemID string, newPrice decimal.Decimal) error {
	args := m.Called(ctx, itemID, newPrice)
	return args.Error(0)
}

func (m *MockGateway) CancelSale(ctx context.Context, itemID string) error {
	args := m.Called(ctx, itemID)
	return args.Error(0)
}

func (m *MockGateway) RefreshToken(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, text string) bool {
	args := m.Called(ctx, text)
	return args.Bool(0)
}

func (m *MockNotifier) Alert(ctx context.Context, text string) bool {
	args := m.Called(ctx, text)
	return args.Bool(0)
}
