package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"giftarb/internal/model"
)

// TokenSource produces a fresh marketplace credential.
type TokenSource interface {
	Token(ctx context.Context) (model.AuthToken, error)
}

// StaticTokenSource returns a configured secret. Value is called on every
// refresh so a rotated secret is picked up without a restart.
type StaticTokenSource struct {
	Value func() string
}

// Token implements TokenSource.
func (s StaticTokenSource) Token(_ context.Context) (model.AuthToken, error) {
	if s.Value == nil {
		return model.AuthToken{}, errors.New("static token source has no value")
	}
	v := strings.TrimSpace(s.Value())
	if v == "" {
		return model.AuthToken{}, errors.New("static token is empty")
	}
	return model.AuthToken{Value: v}, nil
}

// InitDataTokenSource turns Telegram mini-app init data into a marketplace
// token. With an AuthURL the init data is exchanged for a session token;
// without one the init data itself is sent as a "tma" credential.
type InitDataTokenSource struct {
	AuthURL    string
	InitData   func() string
	HTTPClient *http.Client
}

type initDataResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	Data      *struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"data"`
}

// Token implements TokenSource.
func (s InitDataTokenSource) Token(ctx context.Context) (model.AuthToken, error) {
	initData := ""
	if s.InitData != nil {
		initData = strings.TrimSpace(s.InitData())
	}
	if initData == "" {
		return model.AuthToken{}, errors.New("init data is empty")
	}
	if s.AuthURL == "" {
		return model.AuthToken{Value: "tma " + initData}, nil
	}

	raw, err := json.Marshal(map[string]string{"init_data": initData})
	if err != nil {
		return model.AuthToken{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.AuthURL, bytes.NewReader(raw))
	if err != nil {
		return model.AuthToken{}, fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return model.AuthToken{}, fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.AuthToken{}, fmt.Errorf("read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return model.AuthToken{}, fmt.Errorf("auth endpoint returned HTTP %d", resp.StatusCode)
	}

	var out initDataResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return model.AuthToken{}, fmt.Errorf("decode auth response: %w", err)
	}
	token, expires := out.Token, out.ExpiresAt
	if token == "" && out.Data != nil {
		token, expires = out.Data.Token, out.Data.ExpiresAt
	}
	if token == "" {
		return model.AuthToken{}, errors.New("auth response carried no token")
	}

	t := model.AuthToken{Value: token}
	if expires > 0 {
		t.ExpiresAt = time.Unix(expires, 0).UTC()
	}
	return t, nil
}
