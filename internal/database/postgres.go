package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"giftarb/internal/model"
)

// PostgresRepository implements Repository on a pgx connection pool.
type PostgresRepository struct {
	Pool   *pgxpool.Pool
	Sealer *Sealer
}

// NewPostgresRepository creates a repository. Auth tokens are sealed with sealer.
func NewPostgresRepository(pool *pgxpool.Pool, sealer *Sealer) *PostgresRepository {
	return &PostgresRepository{Pool: pool, Sealer: sealer}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS settings (
		id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		min_price NUMERIC(20, 8) NOT NULL,
		max_price NUMERIC(20, 8) NOT NULL,
		min_profit NUMERIC(20, 8) NOT NULL,
		resale_offset NUMERIC(20, 8) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS market_flags (
		market VARCHAR(50) PRIMARY KEY,
		enabled BOOLEAN NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS deals (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		item_id VARCHAR(100) NOT NULL,
		name VARCHAR(200) NOT NULL,
		model VARCHAR(200) NOT NULL,
		source_market VARCHAR(50) NOT NULL,
		target_market VARCHAR(50) NOT NULL,
		buy_price NUMERIC(20, 8) NOT NULL,
		sell_price NUMERIC(20, 8) NOT NULL,
		profit NUMERIC(20, 8) NOT NULL,
		test_mode BOOLEAN NOT NULL DEFAULT FALSE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_deals_timestamp ON deals (timestamp DESC);`,
	`CREATE TABLE IF NOT EXISTS opportunities (
		identity TEXT PRIMARY KEY,
		source_market VARCHAR(50) NOT NULL,
		target_market VARCHAR(50) NOT NULL,
		item_id VARCHAR(100) NOT NULL,
		name VARCHAR(200) NOT NULL,
		model VARCHAR(200) NOT NULL,
		buy_price NUMERIC(20, 8) NOT NULL,
		sell_price NUMERIC(20, 8) NOT NULL,
		profit NUMERIC(20, 8) NOT NULL,
		price_range VARCHAR(32) NOT NULL,
		end_time TIMESTAMPTZ,
		discovered_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS auth_tokens (
		market VARCHAR(50) PRIMARY KEY,
		sealed_value TEXT NOT NULL,
		expires_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
}

// Migrate creates the schema if it does not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// GetSettings returns the settings row, creating it with defaults on first use.
func (r *PostgresRepository) GetSettings(ctx context.Context) (model.Settings, error) {
	var minPrice, maxPrice, minProfit, offset pgtype.Numeric
	err := r.Pool.QueryRow(ctx,
		`SELECT min_price, max_price, min_profit, resale_offset FROM settings WHERE id = 1`,
	).Scan(&minPrice, &maxPrice, &minProfit, &offset)

	var settings model.Settings
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		settings = model.DefaultSettings()
		if err := r.UpdateSettings(ctx, settings); err != nil {
			return model.Settings{}, err
		}
	case err != nil:
		return model.Settings{}, fmt.Errorf("get settings: %w", err)
	default:
		settings = model.Settings{
			MinPrice:       fromNumeric(minPrice),
			MaxPrice:       fromNumeric(maxPrice),
			MinProfit:      fromNumeric(minProfit),
			ResaleOffset:   fromNumeric(offset),
			MarketsEnabled: map[string]bool{},
		}
	}

	rows, err := r.Pool.Query(ctx, `SELECT market, enabled FROM market_flags`)
	if err != nil {
		return model.Settings{}, fmt.Errorf("get market flags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var market string
		var enabled bool
		if err := rows.Scan(&market, &enabled); err != nil {
			return model.Settings{}, fmt.Errorf("scan market flag: %w", err)
		}
		settings.MarketsEnabled[market] = enabled
	}
	return settings, rows.Err()
}

// UpdateSettings validates and stores settings and their market flags atomically.
func (r *PostgresRepository) UpdateSettings(ctx context.Context, settings model.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, r.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO settings (id, min_price, max_price, min_profit, resale_offset, updated_at)
			VALUES (1, $1, $2, $3, $4, NOW())
			ON CONFLICT (id) DO UPDATE SET
				min_price = EXCLUDED.min_price,
				max_price = EXCLUDED.max_price,
				min_profit = EXCLUDED.min_profit,
				resale_offset = EXCLUDED.resale_offset,
				updated_at = NOW()`,
			toNumeric(settings.MinPrice), toNumeric(settings.MaxPrice),
			toNumeric(settings.MinProfit), toNumeric(settings.ResaleOffset))
		if err != nil {
			return fmt.Errorf("update settings: %w", err)
		}
		for market, enabled := range settings.MarketsEnabled {
			if _, err := tx.Exec(ctx, `
				INSERT INTO market_flags (market, enabled) VALUES ($1, $2)
				ON CONFLICT (market) DO UPDATE SET enabled = EXCLUDED.enabled`,
				market, enabled); err != nil {
				return fmt.Errorf("update market flag %s: %w", market, err)
			}
		}
		return nil
	})
}

// LogDeal appends a deal and returns its id.
func (r *PostgresRepository) LogDeal(ctx context.Context, deal model.Deal) (int64, error) {
	if deal.Timestamp.IsZero() {
		deal.Timestamp = time.Now()
	}
	var id int64
	err := r.Pool.QueryRow(ctx, `
		INSERT INTO deals (timestamp, item_id, name, model, source_market, target_market, buy_price, sell_price, profit, test_mode)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		deal.Timestamp, deal.ItemID, deal.Name, deal.Model, deal.SourceMarket, deal.TargetMarket,
		toNumeric(deal.BuyPrice), toNumeric(deal.SellPrice), toNumeric(deal.Profit), deal.TestMode,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("log deal: %w", err)
	}
	return id, nil
}

// RecentDeals returns up to limit deals, newest first.
func (r *PostgresRepository) RecentDeals(ctx context.Context, limit int) ([]model.Deal, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.Pool.Query(ctx, `
		SELECT id, timestamp, item_id, name, model, source_market, target_market, buy_price, sell_price, profit, test_mode
		FROM deals ORDER BY timestamp DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent deals: %w", err)
	}
	defer rows.Close()

	var deals []model.Deal
	for rows.Next() {
		var d model.Deal
		var buy, sell, profit pgtype.Numeric
		if err := rows.Scan(&d.ID, &d.Timestamp, &d.ItemID, &d.Name, &d.Model, &d.SourceMarket, &d.TargetMarket,
			&buy, &sell, &profit, &d.TestMode); err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		d.BuyPrice, d.SellPrice, d.Profit = fromNumeric(buy), fromNumeric(sell), fromNumeric(profit)
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

// ReplaceOpportunities supersedes the stored set with the latest cycle's result.
// When several opportunities share an identity the most profitable one is kept.
func (r *PostgresRepository) ReplaceOpportunities(ctx context.Context, opportunities []model.Opportunity) error {
	return pgx.BeginFunc(ctx, r.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM opportunities`); err != nil {
			return fmt.Errorf("clear opportunities: %w", err)
		}
		if len(opportunities) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, o := range opportunities {
			batch.Queue(`
				INSERT INTO opportunities (identity, source_market, target_market, item_id, name, model,
					buy_price, sell_price, profit, price_range, end_time, discovered_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
				ON CONFLICT (identity) DO UPDATE SET
					item_id = EXCLUDED.item_id,
					buy_price = EXCLUDED.buy_price,
					sell_price = EXCLUDED.sell_price,
					profit = EXCLUDED.profit,
					price_range = EXCLUDED.price_range,
					end_time = EXCLUDED.end_time,
					discovered_at = EXCLUDED.discovered_at
				WHERE EXCLUDED.profit > opportunities.profit`,
				o.Identity(), o.Source, o.Target, o.ItemID, o.Name, o.Model,
				toNumeric(o.BuyPrice), toNumeric(o.SellPrice), toNumeric(o.Profit),
				o.PriceRange, o.EndTime, o.DiscoveredAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert opportunities: %w", err)
		}
		return nil
	})
}

// ListOpportunities returns the latest stored opportunities.
func (r *PostgresRepository) ListOpportunities(ctx context.Context, filter OpportunityFilter) ([]model.Opportunity, error) {
	query := `SELECT source_market, target_market, item_id, name, model, buy_price, sell_price, profit,
		price_range, end_time, discovered_at FROM opportunities`
	var args []any
	if filter.PriceRange != "" {
		args = append(args, filter.PriceRange)
		query += ` WHERE price_range = $1`
	}
	switch filter.SortBy {
	case SortByEndTime:
		query += ` ORDER BY end_time ASC NULLS LAST, profit DESC`
	default:
		query += ` ORDER BY profit DESC`
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list opportunities: %w", err)
	}
	defer rows.Close()

	var out []model.Opportunity
	for rows.Next() {
		var o model.Opportunity
		var buy, sell, profit pgtype.Numeric
		if err := rows.Scan(&o.Source, &o.Target, &o.ItemID, &o.Name, &o.Model, &buy, &sell, &profit,
			&o.PriceRange, &o.EndTime, &o.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		o.BuyPrice, o.SellPrice, o.Profit = fromNumeric(buy), fromNumeric(sell), fromNumeric(profit)
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetAuthToken returns the decrypted token for market or ErrNotFound.
func (r *PostgresRepository) GetAuthToken(ctx context.Context, market string) (model.AuthToken, error) {
	var sealed string
	var expiresAt *time.Time
	token := model.AuthToken{Market: market}
	err := r.Pool.QueryRow(ctx,
		`SELECT sealed_value, expires_at, updated_at FROM auth_tokens WHERE market = $1`, market,
	).Scan(&sealed, &expiresAt, &token.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AuthToken{}, ErrNotFound
	}
	if err != nil {
		return model.AuthToken{}, fmt.Errorf("get auth token %s: %w", market, err)
	}

	token.Value, err = r.Sealer.Open(sealed)
	if err != nil {
		return model.AuthToken{}, fmt.Errorf("open auth token %s: %w", market, err)
	}
	if expiresAt != nil {
		token.ExpiresAt = *expiresAt
	}
	return token, nil
}

// SaveAuthToken seals and stores token, replacing any previous one for its market.
func (r *PostgresRepository) SaveAuthToken(ctx context.Context, token model.AuthToken) error {
	sealed, err := r.Sealer.Seal(token.Value)
	if err != nil {
		return err
	}
	var expiresAt *time.Time
	if !token.ExpiresAt.IsZero() {
		expiresAt = &token.ExpiresAt
	}
	_, err = r.Pool.Exec(ctx, `
		INSERT INTO auth_tokens (market, sealed_value, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (market) DO UPDATE SET
			sealed_value = EXCLUDED.sealed_value,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()`,
		token.Market, sealed, expiresAt)
	if err != nil {
		return fmt.Errorf("save auth token %s: %w", token.Market, err)
	}
	return nil
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
