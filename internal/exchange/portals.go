package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"giftarb/internal/cache"
)

// NewPortalsClient creates a client for the Portals marketplace.
func NewPortalsClient(name string, opts Options, tokens TokenStore, source TokenSource, c cache.Cache, alerter Alerter, logger *slog.Logger) *Client {
	return newClient(portalsDialect(name), opts, tokens, source, c, alerter, logger)
}

func portalsDialect(name string) dialect {
	return dialect{
		name:    name,
		idField: "nft_id",
		authorize: func(req *http.Request, token string) {
			if hasScheme(token) {
				req.Header.Set("Authorization", token)
				return
			}
			req.Header.Set("Authorization", "Bearer "+token)
		},
		unwrap: unwrapPortals,
		myListingsQuery: func() url.Values {
			return url.Values{"listed": []string{"true"}}
		},
	}
}

type portalsEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error json.RawMessage `json:"error"`
}

func unwrapPortals(status int, body []byte) (json.RawMessage, error) {
	var env portalsEnvelope
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			if status != http.StatusOK {
				return nil, fmt.Errorf("HTTP %d", status)
			}
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}

	message := errorMessage(env.Error)
	if status != http.StatusOK {
		if message == "" {
			message = fmt.Sprintf("HTTP %d", status)
		}
		return nil, errors.New(message)
	}
	if message != "" {
		return nil, errors.New(message)
	}
	return env.Data, nil
}

// errorMessage accepts both a bare string and an object with a message field.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
