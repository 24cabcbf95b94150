// Package cache provides short-lived shared state: marketplace floor tables and
// alert suppression windows.
package cache

import (
	"context"
	"time"
)

// Cache stores JSON values under string keys with a time-to-live.
type Cache interface {
	// GetJSON decodes the value stored under key into dst. It reports false when
	// the key is absent or expired.
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	// SetJSON stores v under key for ttl.
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	// Claim sets key for ttl only if it does not exist yet and reports whether
	// this call created it.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
