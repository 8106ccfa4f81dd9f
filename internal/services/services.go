// package services implements the HTTP clients the ingestion pipeline consumes
//
// Spotify Web API, token broker
package services

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/replay/internal/shared"
)

// DefaultTimeout bounds every upstream and broker request.
const DefaultTimeout = 10 * time.Second

// StatusError is returned when an upstream responds with a non-2xx status.
//
// It unwraps to [shared.ErrAPIRequest] so callers can match either the
// sentinel or the concrete status with [errors.As].
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return shared.ErrAPIRequest }

// StatusCode extracts the HTTP status carried by err, or 0 when it has none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func defaultHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: DefaultTimeout}
}

// truncate keeps error bodies readable in logs and cursor rows.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
