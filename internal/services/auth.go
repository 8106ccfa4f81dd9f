package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/desertthunder/replay/internal/shared"
	"golang.org/x/oauth2"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
)

// ingestScopes are the scopes a linked account must grant.
var ingestScopes = []string{"user-read-recently-played", "user-read-private"}

// SpotifyAuth performs the OAuth2 flows against the Spotify accounts service.
type SpotifyAuth struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewSpotifyAuth creates an OAuth2 helper from the configured client credentials.
//
// tokenURL overrides the accounts endpoint and is empty outside tests.
func NewSpotifyAuth(cfg shared.SpotifyConfig, tokenURL string, client *http.Client) (*SpotifyAuth, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: spotify client_id and client_secret", shared.ErrMissingCredentials)
	}

	redirectURI := cfg.RedirectURI
	if redirectURI == "" {
		redirectURI = "http://127.0.0.1:3000/callback"
	}
	if tokenURL == "" {
		tokenURL = spotifyTokenURL
	}

	return &SpotifyAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURI,
			Scopes:       ingestScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   spotifyAuthURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: defaultHTTPClient(client),
	}, nil
}

// RedirectURL returns the callback the accounts service redirects to.
func (a *SpotifyAuth) RedirectURL() string { return a.config.RedirectURL }

// AuthURL returns the authorization URL for user login.
func (a *SpotifyAuth) AuthURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token carrying a refresh token.
func (a *SpotifyAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := a.config.Exchange(a.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange auth code: %w", err)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: exchange returned no refresh token", shared.ErrNoRefreshToken)
	}
	return token, nil
}

// Refresh exchanges refreshToken for a fresh access token.
//
// The returned token's RefreshToken is the rotated value when the accounts
// service issued a new one and the original value otherwise.
func (a *SpotifyAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, shared.ErrNoRefreshToken
	}

	src := a.config.TokenSource(a.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, fmt.Errorf("%w: accounts service returned %d: %s", shared.ErrRefreshFailed, re.Response.StatusCode, re.ErrorCode)
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}
	return token, nil
}

func (a *SpotifyAuth) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}
