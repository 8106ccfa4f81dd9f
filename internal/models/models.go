package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AudioFeatures is the audio-feature vector the upstream reports for a track.
type AudioFeatures struct {
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

// AlbumImages holds artwork URLs bucketed by descending resolution; a nil bucket had no image.
type AlbumImages struct {
	Large  *string `json:"large"`
	Medium *string `json:"medium"`
	Small  *string `json:"small"`
}

// ListenEvent is one play of a track by a user. It is immutable once written.
type ListenEvent struct {
	DocID           string    `json:"doc_id"`
	UserID          string    `json:"user_id"`
	TrackID         string    `json:"track_id"`
	TrackName       string    `json:"track_name"`
	ArtistNames     []string  `json:"artist_names"`
	AlbumName       string    `json:"album_name"`
	DurationMS      int       `json:"duration_ms"`
	PlayedAt        time.Time `json:"played_at"`
	PlayedAtEpochMS int64     `json:"played_at_epoch_ms"`
	ExpireAt        time.Time `json:"expire_at"`
}

// ListenDocID builds the content-addressed identity of a play: "<playedAtEpochMs>_<trackId>".
func ListenDocID(playedAtMS int64, trackID string) string {
	return strconv.FormatInt(playedAtMS, 10) + "_" + trackID
}

// ParseListenDocID splits id back into its played-at milliseconds and track id.
func ParseListenDocID(id string) (int64, string, error) {
	ms, trackID, ok := strings.Cut(id, "_")
	if !ok || trackID == "" {
		return 0, "", fmt.Errorf("malformed listen id %q", id)
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed listen id %q: %w", id, err)
	}
	return n, trackID, nil
}

// TrackSnapshot is slowly-changing reference data about a track.
//
// Images and Features are Unset when this run did not compute them.
type TrackSnapshot struct {
	TrackID     string                  `json:"track_id"`
	TrackName   string                  `json:"track_name"`
	ArtistNames []string                `json:"artist_names"`
	AlbumName   string                  `json:"album_name"`
	DurationMS  int                     `json:"duration_ms"`
	Images      Optional[AlbumImages]   `json:"images"`
	Features    Optional[AudioFeatures] `json:"audio_features"`
}

// User is a person whose history is ingested.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	Linked      bool      `json:"linked"`
}

// Validate checks the fields required to store a user.
func (u *User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	return nil
}
