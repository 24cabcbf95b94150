package exchange

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// dialect captures how one marketplace differs from the common REST shape.
type dialect struct {
	name    string
	idField string

	authorize       func(req *http.Request, token string)
	unwrap          func(status int, body []byte) (json.RawMessage, error)
	myListingsQuery func() url.Values
}

// hasScheme reports whether token already carries its auth scheme, as Mini
// App credentials ("tma <init data>") do. Such tokens are sent verbatim in
// the Authorization header.
func hasScheme(token string) bool {
	scheme, rest, ok := strings.Cut(token, " ")
	if !ok || rest == "" {
		return false
	}
	return strings.EqualFold(scheme, "tma") || strings.EqualFold(scheme, "bearer")
}
