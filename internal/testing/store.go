package testing

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/desertthunder/replay/internal/models"
)

// MemoryStore is an in-memory document store double.
//
// Upserts are buffered until Flush, mirroring the buffered writer. Set the
// Err fields to inject failures.
type MemoryStore struct {
	mu sync.Mutex

	Users   []string
	Cursors map[string]*models.IngestCursor
	Listens map[string]map[string]models.ListenEvent
	Tracks  map[string]models.TrackSnapshot

	pendingTracks  []models.TrackSnapshot
	pendingListens []models.ListenEvent

	ListErr   error
	CursorErr error
	FlushErr  error

	Flushes int
	Now     func() time.Time
}

// NewMemoryStore creates a store knowing the given user ids.
func NewMemoryStore(users ...string) *MemoryStore {
	return &MemoryStore{
		Users:   users,
		Cursors: make(map[string]*models.IngestCursor),
		Listens: make(map[string]map[string]models.ListenEvent),
		Tracks:  make(map[string]models.TrackSnapshot),
		Now:     time.Now,
	}
}

func (m *MemoryStore) ListUserIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return slices.Clone(m.Users), nil
}

func (m *MemoryStore) GetCursor(ctx context.Context, uid string) (*models.IngestCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CursorErr != nil {
		return nil, m.CursorErr
	}
	c, ok := m.Cursors[uid]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) MergeCursor(ctx context.Context, uid string, update models.CursorUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CursorErr != nil {
		return m.CursorErr
	}
	m.Cursors[uid] = update.Apply(uid, m.Cursors[uid], m.Now())
	return nil
}

// SetWatermark seeds a cursor for uid.
func (m *MemoryStore) SetWatermark(uid string, ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cursors[uid] = &models.IngestCursor{UserID: uid, LastFetchedAt: &ms}
}

func (m *MemoryStore) UpsertTracks(ctx context.Context, tracks []models.TrackSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingTracks = append(m.pendingTracks, tracks...)
	return nil
}

func (m *MemoryStore) UpsertListens(ctx context.Context, listens []models.ListenEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingListens = append(m.pendingListens, listens...)
	return nil
}

// Flush commits buffered writes with the same merge rules as the SQLite writer.
func (m *MemoryStore) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Flushes++
	if m.FlushErr != nil {
		return m.FlushErr
	}

	for _, t := range m.pendingTracks {
		if prev, ok := m.Tracks[t.TrackID]; ok {
			t.Images = t.Images.Merge(prev.Images)
			t.Features = t.Features.Merge(prev.Features)
		}
		m.Tracks[t.TrackID] = t
	}
	for _, l := range m.pendingListens {
		if m.Listens[l.UserID] == nil {
			m.Listens[l.UserID] = make(map[string]models.ListenEvent)
		}
		m.Listens[l.UserID][l.DocID] = l
	}

	m.pendingTracks, m.pendingListens = nil, nil
	return nil
}

// Pending reports how many tracks and listens are buffered.
func (m *MemoryStore) Pending() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pendingTracks), len(m.pendingListens)
}

// ListenIDs returns the committed listen ids for uid in sorted order.
func (m *MemoryStore) ListenIDs(uid string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.Listens[uid]))
}

// Cursor returns a copy of the cursor for uid, or nil.
func (m *MemoryStore) Cursor(uid string) *models.IngestCursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Cursors[uid]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}
