package database

import (
	"context"
	"errors"

	"giftarb/internal/model"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("record not found")

// Sort orders for ListOpportunities.
const (
	SortByProfit  = "profit"
	SortByEndTime = "end_time"
)

// OpportunityFilter narrows ListOpportunities. Zero values mean no filter.
type OpportunityFilter struct {
	PriceRange string
	SortBy     string
	Limit      int
}

// Repository defines the standard interface for database operations.
type Repository interface {
	Migrate(ctx context.Context) error

	GetSettings(ctx context.Context) (model.Settings, error)
	UpdateSettings(ctx context.Context, settings model.Settings) error

	LogDeal(ctx context.Context, deal model.Deal) (int64, error)
	RecentDeals(ctx context.Context, limit int) ([]model.Deal, error)

	ReplaceOpportunities(ctx context.Context, opportunities []model.Opportunity) error
	ListOpportunities(ctx context.Context, filter OpportunityFilter) ([]model.Opportunity, error)

	GetAuthToken(ctx context.Context, market string) (model.AuthToken, error)
	SaveAuthToken(ctx context.Context, token model.AuthToken) error
}
