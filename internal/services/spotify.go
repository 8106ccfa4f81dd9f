// Spotify Web API client for playback history and audio features
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/replay/internal/metrics"
	"github.com/desertthunder/replay/internal/shared"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	spotifyBaseURL = "https://api.spotify.com/v1"

	// featureBatchSize is the upstream maximum number of ids per audio-features call.
	featureBatchSize = 100

	endpointRecentlyPlayed = "recently-played"
	endpointAudioFeatures  = "audio-features"
	breakerName            = "spotify-api"
)

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyArtist represents a simplified Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyAlbum represents a simplified Spotify album.
type SpotifyAlbum struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Images []SpotifyImage `json:"images"`
	URI    string         `json:"uri"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      SpotifyAlbum    `json:"album"`
	DurationMS int             `json:"duration_ms"`
	URI        string          `json:"uri"`
}

// PlayContext is the playlist, album, or artist a track was played from.
type PlayContext struct {
	Type string `json:"type"`
	URI  string `json:"uri"`
}

// PlayHistoryItem is one entry of the recently-played feed.
//
// PlayedAtMS is filled by [SpotifyService.RecentlyPlayed] from PlayedAt.
type PlayHistoryItem struct {
	Track      SpotifyTrack `json:"track"`
	PlayedAt   string       `json:"played_at"`
	Context    *PlayContext `json:"context"`
	PlayedAtMS int64        `json:"-"`
}

type playCursors struct {
	After  string `json:"after"`
	Before string `json:"before"`
}

type recentlyPlayedPage struct {
	Items   []PlayHistoryItem `json:"items"`
	Next    *string           `json:"next"`
	Cursors *playCursors      `json:"cursors"`
	Limit   int               `json:"limit"`
}

// SpotifyAudioFeatures is one entry of the audio-features response.
type SpotifyAudioFeatures struct {
	ID               string  `json:"id"`
	Danceability     float64 `json:"danceability"`
	Energy           float64 `json:"energy"`
	Valence          float64 `json:"valence"`
	Tempo            float64 `json:"tempo"`
	Key              int     `json:"key"`
	Mode             int     `json:"mode"`
	Acousticness     float64 `json:"acousticness"`
	Instrumentalness float64 `json:"instrumentalness"`
	Speechiness      float64 `json:"speechiness"`
	Liveness         float64 `json:"liveness"`
	Loudness         float64 `json:"loudness"`
}

type audioFeaturesResponse struct {
	AudioFeatures []*SpotifyAudioFeatures `json:"audio_features"`
}

// SpotifyOptions configures a [SpotifyService].
type SpotifyOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	// RateLimit is the number of requests per second shared by all callers. Zero disables limiting.
	RateLimit float64
	PageSize  int
	Logger    *log.Logger
}

// SpotifyService reads playback history on behalf of many users.
//
// It holds no per-user state; every call takes the caller's access token.
// A single instance is shared by all workers so the rate limiter and circuit
// breaker apply across the whole run.
type SpotifyService struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	pageSize   int
	logger     *log.Logger
}

// NewSpotifyService creates a Spotify client from opts.
func NewSpotifyService(opts SpotifyOptions) *SpotifyService {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = spotifyBaseURL
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = shared.SpotifyPageLimit
	}

	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	s := &SpotifyService{
		baseURL:    baseURL,
		httpClient: defaultHTTPClient(opts.HTTPClient),
		limiter:    limiter,
		pageSize:   pageSize,
		logger:     logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.RecordBreakerTransition(name, from, to)
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return s
}

// isBreakerSuccess counts only server errors and transport failures against the breaker.
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode < http.StatusInternalServerError
	}
	return false
}

// doRequest performs a rate-limited, breaker-guarded GET and decodes the JSON body into result.
func (s *SpotifyService) doRequest(ctx context.Context, endpoint, path string, query url.Values, accessToken string, result any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", shared.ErrAPIRequest, endpoint, err)
	}

	body, err := s.breaker.Execute(func() ([]byte, error) {
		return s.fetch(ctx, endpoint, path, query, accessToken)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %s: %w", shared.ErrAPIRequest, endpoint, err)
		}
		return err
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("%w: failed to decode %s response: %v", shared.ErrValidation, endpoint, err)
		}
	}
	return nil
}

func (s *SpotifyService) fetch(ctx context.Context, endpoint, path string, query url.Values, accessToken string) ([]byte, error) {
	apiURL := s.baseURL + path
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}).SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest(endpoint, 0, time.Since(start))
		return nil, fmt.Errorf("%w: %s request failed: %w", shared.ErrAPIRequest, endpoint, err)
	}
	defer resp.Body.Close()
	metrics.RecordUpstreamRequest(endpoint, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s response: %w", shared.ErrAPIRequest, endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: truncate(body, 256)}
	}

	return body, nil
}

// RecentlyPlayed returns every recently-played item strictly newer than after (epoch ms).
//
// The first page asks the upstream to filter with after; later pages walk
// backwards with before set to the oldest played-at of the previous page.
// Paging stops on an empty page, a page shorter than the page size, or once
// the next before cursor would not be newer than after. A short page is
// taken as the last page even if the upstream could return more.
func (s *SpotifyService) RecentlyPlayed(ctx context.Context, accessToken string, after int64) ([]PlayHistoryItem, error) {
	limit := strconv.Itoa(s.pageSize)
	query := url.Values{"limit": {limit}}
	if after > 0 {
		query.Set("after", strconv.FormatInt(after, 10))
	}

	var items []PlayHistoryItem
	for {
		var page recentlyPlayedPage
		if err := s.doRequest(ctx, endpointRecentlyPlayed, "/me/player/recently-played", query, accessToken, &page); err != nil {
			return nil, err
		}

		if len(page.Items) == 0 {
			break
		}

		oldest := int64(math.MaxInt64)
		for _, item := range page.Items {
			ms, err := ParsePlayedAt(item.PlayedAt)
			if err != nil {
				return nil, err
			}
			item.PlayedAtMS = ms
			oldest = min(oldest, ms)
			if ms > after {
				items = append(items, item)
			}
		}

		if len(page.Items) < s.pageSize || oldest <= after {
			break
		}

		query = url.Values{"limit": {limit}, "before": {strconv.FormatInt(oldest, 10)}}
	}

	return items, nil
}

// AudioFeatures looks up audio features for ids in batches of 100.
//
// Duplicate and empty ids are dropped. Tracks the upstream has no features
// for are absent from the result.
func (s *SpotifyService) AudioFeatures(ctx context.Context, accessToken string, ids []string) (map[string]SpotifyAudioFeatures, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	features := make(map[string]SpotifyAudioFeatures, len(unique))
	for chunk := range slices.Chunk(unique, featureBatchSize) {
		var response audioFeaturesResponse
		query := url.Values{"ids": {strings.Join(chunk, ",")}}
		if err := s.doRequest(ctx, endpointAudioFeatures, "/audio-features", query, accessToken, &response); err != nil {
			return nil, err
		}

		for _, f := range response.AudioFeatures {
			if f == nil || f.ID == "" {
				continue
			}
			features[f.ID] = *f
		}
	}

	return features, nil
}

// ParsePlayedAt converts an upstream played_at timestamp into epoch milliseconds.
func ParsePlayedAt(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed played_at %q: %v", shared.ErrValidation, s, err)
	}
	return t.UnixMilli(), nil
}
