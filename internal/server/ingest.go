package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/replay/internal/models"
	"github.com/desertthunder/replay/internal/shared"
	"github.com/golang-jwt/jwt/v5"
)

// UserIngester runs the pipeline for a single user. Implemented by tasks.IngestEngine.
type UserIngester interface {
	RunUser(ctx context.Context, uid string) (*models.UserResult, error)
}

// IngestResponse is the body of a successful manual trigger.
type IngestResponse struct {
	Processed      int   `json:"processed"`
	NewestPlayedAt int64 `json:"newestPlayedAt"`
}

// IngestHandler is the manual trigger: POST /ingest with an HS256 bearer token whose subject is the user id.
type IngestHandler struct {
	ingester UserIngester
	secret   []byte
	logger   *log.Logger
}

// NewIngestHandler creates a new [IngestHandler]. An empty secret rejects every request.
func NewIngestHandler(ingester UserIngester, secret string, logger *log.Logger) *IngestHandler {
	return &IngestHandler{ingester: ingester, secret: []byte(secret), logger: logger}
}

// Routes returns the HTTP routes this handler serves.
func (h *IngestHandler) Routes() []string {
	return []string{"POST /ingest"}
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid, err := h.authenticate(r)
	if err != nil {
		h.logger.Debug("rejected manual trigger", "error", err)
		writeError(w, http.StatusUnauthorized, kindUnauthenticated, "")
		return
	}

	result, err := h.ingester.RunUser(r.Context(), uid)
	if err != nil {
		h.logger.Error("manual ingest failed", "uid", uid, "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{Processed: result.Processed, NewestPlayedAt: result.NewestPlayedAt})
}

// authenticate returns the subject of a valid bearer token.
func (h *IngestHandler) authenticate(r *http.Request) (string, error) {
	if len(h.secret) == 0 {
		return "", fmt.Errorf("%w: no signing secret configured", shared.ErrUnauthenticated)
	}

	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", fmt.Errorf("%w: missing bearer token", shared.ErrUnauthenticated)
	}

	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return h.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", shared.ErrUnauthenticated, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: token has no subject", shared.ErrUnauthenticated)
	}
	return sub, nil
}

// IssueToken signs an HS256 trigger token for uid valid for ttl.
func IssueToken(secret, uid string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: jwt_secret is not set", shared.ErrMissingConfig)
	}
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
