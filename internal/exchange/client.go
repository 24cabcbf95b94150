package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"giftarb/internal/cache"
	"giftarb/internal/database"
	"giftarb/internal/model"
)

var (
	// ErrNoToken is returned when a request is skipped because no valid token is stored.
	ErrNoToken = errors.New("no valid auth token")
	// ErrUnauthorized is returned when the marketplace rejects a freshly refreshed token.
	ErrUnauthorized = errors.New("unauthorized after token refresh")
)

const defaultListingLimit = 50

// Gateway defines the standard interface for all marketplace clients.
type Gateway interface {
	Name() string
	Commission() decimal.Decimal
	ListActive(ctx context.Context, filters Filters) []model.Listing
	SearchListings(ctx context.Context, filters Filters) ([]model.Listing, error)
	MyListings(ctx context.Context) []model.Listing
	FloorPrice(ctx context.Context, name, model string) (decimal.Decimal, bool)
	Buy(ctx context.Context, itemID string, price decimal.Decimal) error
	Sell(ctx context.Context, itemID string, price decimal.Decimal) error
	UpdatePrice(ctx context.Context, itemID string, newPrice decimal.Decimal) error
	CancelSale(ctx context.Context, itemID string) error
	RefreshToken(ctx context.Context) error
}

// Filters narrow a listing search. Zero values are not sent.
type Filters struct {
	MinPrice decimal.Decimal
	MaxPrice decimal.Decimal
	Name     string
	Limit    int
}

func (f Filters) query() url.Values {
	q := url.Values{}
	q.Set("sort", "price_asc")
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListingLimit
	}
	q.Set("limit", strconv.Itoa(limit))
	if f.MinPrice.IsPositive() {
		q.Set("min_price", f.MinPrice.String())
	}
	if f.MaxPrice.IsPositive() {
		q.Set("max_price", f.MaxPrice.String())
	}
	if f.Name != "" {
		q.Set("name", f.Name)
	}
	return q
}

// TokenStore persists marketplace credentials.
type TokenStore interface {
	GetAuthToken(ctx context.Context, market string) (model.AuthToken, error)
	SaveAuthToken(ctx context.Context, token model.AuthToken) error
}

// Alerter receives admin alerts raised by a client.
type Alerter interface {
	Alert(ctx context.Context, text string) bool
}

// Options configure a Client.
type Options struct {
	BaseURL       string
	Commission    decimal.Decimal
	Spacing       time.Duration
	Timeout       time.Duration
	FloorCacheTTL time.Duration
	HTTPClient    *http.Client
}

// Client is a rate-limited REST client for one marketplace. The marketplace
// specific parts (auth header, envelope, id field) come from its dialect.
type Client struct {
	dialect    dialect
	baseURL    string
	commission decimal.Decimal
	httpClient *http.Client
	limiter    *rate.Limiter
	floorTTL   time.Duration

	tokens  TokenStore
	source  TokenSource
	cache   cache.Cache
	alerter Alerter
	logger  *slog.Logger

	refreshMu sync.Mutex
}

func newClient(d dialect, opts Options, tokens TokenStore, source TokenSource, c cache.Cache, alerter Alerter, logger *slog.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.Spacing > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.Spacing), 1)
	}
	if c == nil {
		c = cache.NewMemoryCache()
	}
	return &Client{
		dialect:    d,
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/") + "/",
		commission: opts.Commission,
		httpClient: httpClient,
		limiter:    limiter,
		floorTTL:   opts.FloorCacheTTL,
		tokens:     tokens,
		source:     source,
		cache:      c,
		alerter:    alerter,
		logger:     logger.With("market", d.name),
	}
}

// Name returns the marketplace name.
func (c *Client) Name() string { return c.dialect.name }

// Commission returns the marketplace fee as a fraction of the price.
func (c *Client) Commission() decimal.Decimal { return c.commission }

// ListActive returns the current listings matching filters, cheapest first.
// Any failure is logged and yields an empty result.
func (c *Client) ListActive(ctx context.Context, filters Filters) []model.Listing {
	listings, err := c.SearchListings(ctx, filters)
	if err != nil {
		c.logger.Error("ExchangeClient: failed to list gifts", "error", err)
		return nil
	}
	return listings
}

// SearchListings is ListActive with the failure returned, so a caller can
// tell an empty market from an unreachable one.
func (c *Client) SearchListings(ctx context.Context, filters Filters) ([]model.Listing, error) {
	data, err := c.do(ctx, http.MethodGet, "gifts/search", filters.query(), nil)
	if err != nil {
		return nil, fmt.Errorf("search gifts: %w", err)
	}
	return c.parseListings(data), nil
}

// MyListings returns the operator's items currently listed for sale.
func (c *Client) MyListings(ctx context.Context) []model.Listing {
	data, err := c.do(ctx, http.MethodGet, "account/gifts", c.dialect.myListingsQuery(), nil)
	if err != nil {
		c.logger.Error("ExchangeClient: failed to list own gifts", "error", err)
		return nil
	}
	return c.parseListings(data)
}

type floorEntry struct {
	Model      string          `json:"model"`
	FloorPrice decimal.Decimal `json:"floor_price"`
}

// FloorPrice returns the lowest listed price for a gift variant. The floor
// table is fetched once per cache window.
func (c *Client) FloorPrice(ctx context.Context, name, giftModel string) (decimal.Decimal, bool) {
	table, err := c.floorTable(ctx)
	if err != nil {
		c.logger.Error("ExchangeClient: failed to fetch floor prices", "error", err)
		return decimal.Zero, false
	}

	var floor decimal.Decimal
	found := false
	for tableName, entries := range table {
		if !strings.EqualFold(strings.TrimSpace(tableName), strings.TrimSpace(name)) {
			continue
		}
		for _, e := range entries {
			if !strings.EqualFold(strings.TrimSpace(e.Model), strings.TrimSpace(giftModel)) || !e.FloorPrice.IsPositive() {
				continue
			}
			if !found || e.FloorPrice.LessThan(floor) {
				floor, found = e.FloorPrice, true
			}
		}
	}
	return floor, found
}

func (c *Client) floorTable(ctx context.Context) (map[string][]floorEntry, error) {
	key := "floors:" + c.dialect.name
	var table map[string][]floorEntry
	if c.floorTTL > 0 {
		hit, err := c.cache.GetJSON(ctx, key, &table)
		if err != nil {
			c.logger.Warn("ExchangeClient: floor cache unavailable", "error", err)
		} else if hit {
			return table, nil
		}
	}

	data, err := c.do(ctx, http.MethodGet, "market/floor-prices", nil, nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("decode floor prices: %w", err)
	}

	if c.floorTTL > 0 {
		if err := c.cache.SetJSON(ctx, key, table, c.floorTTL); err != nil {
			c.logger.Warn("ExchangeClient: failed to cache floor prices", "error", err)
		}
	}
	return table, nil
}

// Buy purchases itemID at price.
func (c *Client) Buy(ctx context.Context, itemID string, price decimal.Decimal) error {
	body := map[string]any{c.dialect.idField: itemID, "price": jsonNumber(price)}
	if _, err := c.do(ctx, http.MethodPost, "market/buy", nil, body); err != nil {
		return fmt.Errorf("%s buy %s: %w", c.dialect.name, itemID, err)
	}
	c.logger.Info("ExchangeClient: bought gift", "item_id", itemID, "price", price)
	return nil
}

// Sell lists itemID for sale at price.
func (c *Client) Sell(ctx context.Context, itemID string, price decimal.Decimal) error {
	body := map[string]any{c.dialect.idField: itemID, "price": jsonNumber(price)}
	if _, err := c.do(ctx, http.MethodPost, "market/sell", nil, body); err != nil {
		return fmt.Errorf("%s sell %s: %w", c.dialect.name, itemID, err)
	}
	c.logger.Info("ExchangeClient: listed gift", "item_id", itemID, "price", price)
	return nil
}

// UpdatePrice changes the asking price of a listed item.
func (c *Client) UpdatePrice(ctx context.Context, itemID string, newPrice decimal.Decimal) error {
	body := map[string]any{c.dialect.idField: itemID, "new_price": jsonNumber(newPrice)}
	if _, err := c.do(ctx, http.MethodPost, "market/update-price", nil, body); err != nil {
		return fmt.Errorf("%s update price %s: %w", c.dialect.name, itemID, err)
	}
	c.logger.Info("ExchangeClient: price updated", "item_id", itemID, "price", newPrice)
	return nil
}

// CancelSale withdraws a listed item.
func (c *Client) CancelSale(ctx context.Context, itemID string) error {
	body := map[string]any{c.dialect.idField: itemID}
	if _, err := c.do(ctx, http.MethodPost, "market/cancel-sale", nil, body); err != nil {
		return fmt.Errorf("%s cancel sale %s: %w", c.dialect.name, itemID, err)
	}
	c.logger.Info("ExchangeClient: sale cancelled", "item_id", itemID)
	return nil
}

// RefreshToken obtains a new credential from the token source and stores it.
func (c *Client) RefreshToken(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if c.source == nil {
		return fmt.Errorf("%s: no token source configured", c.dialect.name)
	}
	token, err := c.source.Token(ctx)
	if err != nil {
		return fmt.Errorf("%s token refresh: %w", c.dialect.name, err)
	}
	token.Market = c.dialect.name
	token.UpdatedAt = time.Now()
	if err := c.tokens.SaveAuthToken(ctx, token); err != nil {
		return fmt.Errorf("%s save token: %w", c.dialect.name, err)
	}
	c.logger.Info("ExchangeClient: token refreshed", "expires_at", token.ExpiresAt)
	return nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	token, err := c.tokens.GetAuthToken(ctx, c.dialect.name)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return "", fmt.Errorf("load token: %w", err)
	}
	if err != nil || !token.Valid(time.Now()) {
		return "", ErrNoToken
	}
	return token.Value, nil
}

// do performs an authenticated request and returns the unwrapped payload.
// A 401 triggers one token refresh and exactly one retry.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	token, err := c.currentToken(ctx)
	if errors.Is(err, ErrNoToken) {
		c.logger.Warn("ExchangeClient: skipping request without token", "path", path)
		if rerr := c.RefreshToken(ctx); rerr != nil {
			c.logger.Error("ExchangeClient: token refresh failed", "error", rerr)
		}
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, err
	}

	status, payload, err := c.send(ctx, method, path, query, body, token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.logger.Warn("ExchangeClient: token rejected, refreshing", "path", path)
		if err := c.RefreshToken(ctx); err != nil {
			c.alert(ctx, fmt.Sprintf("%s token refresh failed: %v", c.dialect.name, err))
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		if token, err = c.currentToken(ctx); err != nil {
			return nil, err
		}
		status, payload, err = c.send(ctx, method, path, query, body, token)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			c.alert(ctx, fmt.Sprintf("%s rejected a freshly refreshed token", c.dialect.name))
			return nil, ErrUnauthorized
		}
	}
	return c.dialect.unwrap(status, payload)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any, token string) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limiter: %w", err)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.dialect.authorize(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, payload, nil
}

func (c *Client) alert(ctx context.Context, text string) {
	if c.alerter != nil {
		c.alerter.Alert(ctx, text)
	}
}

type listingItem struct {
	ID         json.RawMessage  `json:"id"`
	GiftID     json.RawMessage  `json:"gift_id"`
	NFTID      json.RawMessage  `json:"nft_id"`
	Name       string           `json:"name"`
	Model      string           `json:"model"`
	Price      decimal.Decimal  `json:"price"`
	CurrentBid *decimal.Decimal `json:"current_bid"`
	EndTime    *int64           `json:"end_time"`
}

func (c *Client) parseListings(data json.RawMessage) []model.Listing {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	var items []listingItem
	if err := json.Unmarshal(data, &items); err != nil {
		var wrapped struct {
			Items []listingItem `json:"items"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			c.logger.Error("ExchangeClient: failed to parse listings", "error", err)
			return nil
		}
		items = wrapped.Items
	}

	listings := make([]model.Listing, 0, len(items))
	for _, it := range items {
		id := firstID(it.ID, it.GiftID, it.NFTID)
		if id == "" || it.Name == "" {
			continue
		}
		l := model.Listing{
			Market:     c.dialect.name,
			ItemID:     id,
			Name:       it.Name,
			Model:      it.Model,
			Price:      it.Price,
			CurrentBid: it.CurrentBid,
		}
		if it.EndTime != nil && *it.EndTime > 0 {
			end := time.Unix(*it.EndTime, 0).UTC()
			l.EndTime = &end
		}
		listings = append(listings, l)
	}
	return listings
}

func jsonNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// firstID returns the first non-empty identifier, accepting strings and numbers.
func firstID(candidates ...json.RawMessage) string {
	for _, raw := range candidates {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return ""
}
