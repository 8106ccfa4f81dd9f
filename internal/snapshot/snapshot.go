// Package snapshot maps upstream play history into normalized listen and track records.
//
// Every function is pure: no I/O, no clock, deterministic output for a given input.
package snapshot

import (
	"cmp"
	"slices"
	"time"

	"github.com/desertthunder/replay/internal/models"
	"github.com/desertthunder/replay/internal/services"
	"github.com/desertthunder/replay/internal/shared"
)

// ToListenEvent maps one play history item for uid. The item's PlayedAtMS must be populated.
func ToListenEvent(uid string, item services.PlayHistoryItem, retention time.Duration) models.ListenEvent {
	playedAt := shared.FromEpochMillis(item.PlayedAtMS)
	return models.ListenEvent{
		DocID:           models.ListenDocID(item.PlayedAtMS, item.Track.ID),
		UserID:          uid,
		TrackID:         item.Track.ID,
		TrackName:       item.Track.Name,
		ArtistNames:     artistNames(item.Track.Artists),
		AlbumName:       item.Track.Album.Name,
		DurationMS:      item.Track.DurationMS,
		PlayedAt:        playedAt,
		PlayedAtEpochMS: item.PlayedAtMS,
		ExpireAt:        playedAt.Add(retention),
	}
}

// ToListenEvents maps items and sorts them ascending by played-at, so the newest listen is last.
//
// Ties keep their relative order and are broken by doc id.
func ToListenEvents(uid string, items []services.PlayHistoryItem, retention time.Duration) []models.ListenEvent {
	listens := make([]models.ListenEvent, 0, len(items))
	for _, item := range items {
		listens = append(listens, ToListenEvent(uid, item, retention))
	}
	slices.SortStableFunc(listens, func(a, b models.ListenEvent) int {
		if c := cmp.Compare(a.PlayedAtEpochMS, b.PlayedAtEpochMS); c != 0 {
			return c
		}
		return cmp.Compare(a.DocID, b.DocID)
	})
	return listens
}

// TrackIDs returns the distinct track ids of items in fetch order.
func TrackIDs(items []services.PlayHistoryItem) []string {
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.Track.ID]; ok || item.Track.ID == "" {
			continue
		}
		seen[item.Track.ID] = struct{}{}
		ids = append(ids, item.Track.ID)
	}
	return ids
}

// BuildTrackSnapshots returns one snapshot per distinct track id; the first occurrence in items wins.
//
// A nil features map means enrichment did not run and leaves Features Unset.
// Otherwise a track missing from the map gets None.
func BuildTrackSnapshots(items []services.PlayHistoryItem, features map[string]services.SpotifyAudioFeatures) []models.TrackSnapshot {
	snapshots := make([]models.TrackSnapshot, 0, len(items))
	seen := make(map[string]struct{}, len(items))

	for _, item := range items {
		t := item.Track
		if t.ID == "" {
			continue
		}
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}

		snap := models.TrackSnapshot{
			TrackID:     t.ID,
			TrackName:   t.Name,
			ArtistNames: artistNames(t.Artists),
			AlbumName:   t.Album.Name,
			DurationMS:  t.DurationMS,
			Images:      ReduceImages(t.Album.Images),
		}
		if features != nil {
			if f, ok := features[t.ID]; ok {
				snap.Features = models.Some(ToAudioFeatures(f))
			} else {
				snap.Features = models.None[models.AudioFeatures]()
			}
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots
}

// ReduceImages buckets album artwork by descending width.
//
// Index 0 is large, index 1 medium, and the last image small. Buckets without
// a distinct image are nil. No images at all yields None.
func ReduceImages(images []services.SpotifyImage) models.Optional[models.AlbumImages] {
	if len(images) == 0 {
		return models.None[models.AlbumImages]()
	}

	sorted := slices.Clone(images)
	slices.SortStableFunc(sorted, func(a, b services.SpotifyImage) int {
		return cmp.Compare(b.Width, a.Width)
	})

	var reduced models.AlbumImages
	reduced.Large = urlPtr(sorted[0].URL)
	if len(sorted) > 1 {
		reduced.Medium = urlPtr(sorted[1].URL)
	}
	if len(sorted) > 2 {
		reduced.Small = urlPtr(sorted[len(sorted)-1].URL)
	}
	return models.Some(reduced)
}

// ToAudioFeatures converts an upstream feature entry.
func ToAudioFeatures(f services.SpotifyAudioFeatures) models.AudioFeatures {
	return models.AudioFeatures{
		Danceability:     f.Danceability,
		Energy:           f.Energy,
		Valence:          f.Valence,
		Tempo:            f.Tempo,
		Key:              f.Key,
		Mode:             f.Mode,
		Acousticness:     f.Acousticness,
		Instrumentalness: f.Instrumentalness,
		Speechiness:      f.Speechiness,
		Liveness:         f.Liveness,
		Loudness:         f.Loudness,
	}
}

func artistNames(artists []services.SpotifyArtist) []string {
	names := make([]string, 0, len(artists))
	for _, a := range artists {
		names = append(names, a.Name)
	}
	return names
}

func urlPtr(u string) *string {
	if u == "" {
		return nil
	}
	return &u
}
