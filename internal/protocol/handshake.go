package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ashureev/fluxion-chat/internal/domain"
)

// backendProviders maps product-facing provider ids to backend routing ids.
// Providers missing from the table pass through unchanged.
var backendProviders = map[domain.Provider]string{
	domain.ProviderChatGPT: "openai",
}

// BackendProvider returns the id the backend expects for p.
func BackendProvider(p domain.Provider) string {
	if id, ok := backendProviders[p]; ok {
		return id
	}
	return string(p)
}

// Handshake carries the connection parameters sent when dialing.
type Handshake struct {
	ClientID string
	Token    string
	Provider domain.Provider
	Model    string
}

// BuildURL returns the websocket endpoint for h relative to baseURL. An http
// or https base is rewritten to ws or wss. When neither provider nor model is
// set the token-only form is produced.
func BuildURL(baseURL string, h Handshake) (string, error) {
	if h.ClientID == "" {
		return "", errors.New("client id is required")
	}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported backend url scheme %q", u.Scheme)
	}

	base := strings.TrimRight(u.Path, "/")
	u.Path = base + "/ws/" + h.ClientID
	u.RawPath = base + "/ws/" + url.PathEscape(h.ClientID)

	q := url.Values{}
	q.Set("token", h.Token)
	if h.Provider != "" || h.Model != "" {
		q.Set("provider", BackendProvider(h.Provider))
		q.Set("model", h.Model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
