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

// NewTonnelClient creates a client for the Tonnel marketplace.
func NewTonnelClient(name string, opts Options, tokens TokenStore, source TokenSource, c cache.Cache, alerter Alerter, logger *slog.Logger) *Client {
	return newClient(tonnelDialect(name), opts, tokens, source, c, alerter, logger)
}

func tonnelDialect(name string) dialect {
	return dialect{
		name:    name,
		idField: "gift_id",
		authorize: func(req *http.Request, token string) {
			if hasScheme(token) {
				req.Header.Set("Authorization", token)
				return
			}
			req.Header.Set("X-Auth-Token", token)
		},
		unwrap: unwrapTonnel,
		myListingsQuery: func() url.Values {
			return url.Values{"status": []string{"listed"}}
		},
	}
}

type tonnelEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func unwrapTonnel(status int, body []byte) (json.RawMessage, error) {
	var env tonnelEnvelope
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			if status != http.StatusOK {
				return nil, fmt.Errorf("HTTP %d", status)
			}
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}

	message := ""
	if env.Error != nil {
		message = env.Error.Message
	}
	if status != http.StatusOK {
		if message == "" {
			message = fmt.Sprintf("HTTP %d", status)
		}
		return nil, errors.New(message)
	}
	if !env.Success {
		if message == "" {
			message = "request was not successful"
		}
		return nil, errors.New(message)
	}
	return env.Data, nil
}
