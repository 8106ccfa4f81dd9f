package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/replay/internal/services"
	"github.com/desertthunder/replay/internal/shared"
	"golang.org/x/oauth2"
)

// TokenRefresher exchanges a refresh token for a fresh access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// RefreshTokenStore holds one refresh token per user.
type RefreshTokenStore interface {
	RefreshToken(ctx context.Context, uid string) (string, error)
	Save(ctx context.Context, uid, refreshToken string) error
}

// TokenHandler is the credential resolver endpoint: GET /token?uid=<uid>.
//
// A nil refresher means client credentials are not configured and every request gets 503.
type TokenHandler struct {
	refresher TokenRefresher
	store     RefreshTokenStore
	logger    *log.Logger
	now       func() time.Time
}

// NewTokenHandler creates a new [TokenHandler].
func NewTokenHandler(refresher TokenRefresher, store RefreshTokenStore, logger *log.Logger) *TokenHandler {
	return &TokenHandler{refresher: refresher, store: store, logger: logger, now: time.Now}
}

// Routes returns the HTTP routes this handler serves.
func (h *TokenHandler) Routes() []string {
	return []string{"GET /token"}
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		writeError(w, http.StatusBadRequest, kindInvalidArgument, "uid is required")
		return
	}
	if h.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, kindUnavailable, "spotify client credentials are not configured")
		return
	}

	logger := shared.WithLogger(h.logger, "uid", uid)
	ctx := r.Context()

	refreshToken, err := h.store.RefreshToken(ctx, uid)
	if errors.Is(err, shared.ErrNoRefreshToken) {
		writeError(w, http.StatusNotFound, kindNotFound, "no refresh token for user")
		return
	}
	if err != nil {
		logger.Error("failed to read refresh token", "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to read credentials")
		return
	}

	token, err := h.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		logger.Warn("token refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, kindUpstream, err.Error())
		return
	}

	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		if err := h.store.Save(ctx, uid, token.RefreshToken); err != nil {
			logger.Error("failed to store rotated refresh token", "error", err)
		}
	}

	expiresIn := 0
	if !token.Expiry.IsZero() {
		expiresIn = max(0, int(token.Expiry.Sub(h.now()).Seconds()))
	}
	writeJSON(w, http.StatusOK, services.BrokerToken{
		AccessToken: token.AccessToken,
		TokenType:   token.Type(),
		ExpiresIn:   expiresIn,
	})
}

// HealthHandler answers liveness probes on /healthz.
type HealthHandler struct{}

// Routes returns the HTTP routes this handler serves.
func (HealthHandler) Routes() []string {
	return []string{"GET /healthz"}
}

func (HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
