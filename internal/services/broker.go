package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/desertthunder/replay/internal/shared"
	"github.com/goccy/go-json"
)

// BrokerToken is the token broker's response body.
type BrokerToken struct {
	AccessToken string `json:"access_token" validate:"required"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in" validate:"gte=0"`
}

// BrokerClient resolves a short-lived access token for a user from the token broker.
type BrokerClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBrokerClient creates a broker client for baseURL, e.g. http://127.0.0.1:3000/token.
func NewBrokerClient(baseURL string, client *http.Client) *BrokerClient {
	return &BrokerClient{baseURL: baseURL, httpClient: defaultHTTPClient(client)}
}

// Resolve returns a bearer access token for uid.
//
// A 404 means the user never linked an account and yields [shared.ErrNotLinked].
// Other failures wrap [shared.ErrCredentialFetch]; a body without an
// access_token wraps [shared.ErrValidation].
func (b *BrokerClient) Resolve(ctx context.Context, uid string) (string, error) {
	u, err := url.Parse(b.baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid broker url: %v", shared.ErrInvalidConfig, err)
	}
	q := u.Query()
	q.Set("uid", uid)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrCredentialFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %w", shared.ErrCredentialFetch, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", shared.ErrNotLinked
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("%w: %w", shared.ErrCredentialFetch, &StatusError{Endpoint: "token-broker", StatusCode: resp.StatusCode, Body: truncate(body, 256)})
	}

	var token BrokerToken
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("%w: malformed broker response: %v", shared.ErrValidation, err)
	}
	if err := shared.ValidateStruct(token); err != nil {
		return "", err
	}

	return token.AccessToken, nil
}
