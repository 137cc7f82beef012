package store

import (
	"errors"
	"sync"
	"time"

	"soundvault/pkg/domain"
)

// ErrConflict mirrors the unique-index violation the Postgres store raises
// for a duplicate (content_id, owner_id) pair.
var ErrConflict = errors.New("track already exists for owner")

// MemoryStore keeps registry rows in-process. Used by tests and local runs
// without Postgres.
type MemoryStore struct {
	mu     sync.RWMutex
	tracks map[string]domain.Track
	order  []string
}

// NewMemoryStore initializes an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tracks: make(map[string]domain.Track)}
}

// Create inserts a row, enforcing (contentID, ownerID) uniqueness.
func (m *MemoryStore) Create(t domain.Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tracks {
		if existing.ContentID == t.ContentID && existing.OwnerID == t.OwnerID {
			return ErrConflict
		}
	}
	m.tracks[t.ID] = t
	m.order = append(m.order, t.ID)
	return nil
}

func (m *MemoryStore) GetByID(id string) (domain.Track, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tracks[id]
	return t, ok, nil
}

func (m *MemoryStore) GetByContentIDForOwner(contentID, ownerID string) (domain.Track, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		t, ok := m.tracks[id]
		if ok && t.ContentID == contentID && t.OwnerID == ownerID {
			return t, true, nil
		}
	}
	return domain.Track{}, false, nil
}

func (m *MemoryStore) GetReadyByContentID(contentID string) (domain.Track, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		t, ok := m.tracks[id]
		if ok && t.ContentID == contentID && t.Status == domain.StatusReady {
			return t, true, nil
		}
	}
	return domain.Track{}, false, nil
}

func (m *MemoryStore) GetAnyByContentID(contentID string) (domain.Track, bool, error) {
	if t, ok, err := m.GetReadyByContentID(contentID); err != nil || ok {
		return t, ok, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		t, ok := m.tracks[id]
		if ok && t.ContentID == contentID {
			return t, true, nil
		}
	}
	return domain.Track{}, false, nil
}

func (m *MemoryStore) ListByOwner(ownerID string) ([]domain.Track, error) {
	return m.list(func(t domain.Track) bool { return t.OwnerID == ownerID }), nil
}

func (m *MemoryStore) ListReady() ([]domain.Track, error) {
	return m.list(func(t domain.Track) bool { return t.Status == domain.StatusReady }), nil
}

func (m *MemoryStore) ListReadyMissingDurable(limit int) ([]domain.Track, error) {
	res := m.list(func(t domain.Track) bool {
		return t.Status == domain.StatusReady && !t.DurableUploaded
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) list(keep func(domain.Track) bool) []domain.Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Track, 0, len(m.order))
	for _, id := range m.order {
		if t, ok := m.tracks[id]; ok && keep(t) {
			res = append(res, t)
		}
	}
	return res
}

// UpdateStatus transitions a row's status; terminal rows are left untouched.
func (m *MemoryStore) UpdateStatus(id string, status domain.TrackStatus, progress int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[id]
	if !ok {
		return nil
	}
	if t.Status.Terminal() {
		return ErrTerminalStatus
	}
	t.Status = status
	t.Progress = progress
	t.ErrorMessage = errMsg
	t.UpdatedAt = time.Now().UTC()
	m.tracks[id] = t
	return nil
}

func (m *MemoryStore) UpdateMetadata(id, title, artist, thumbnailURL string, raw map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[id]
	if !ok {
		return nil
	}
	t.Title = title
	t.Artist = artist
	t.ThumbnailURL = thumbnailURL
	if raw != nil {
		t.RawMetadata = raw
	}
	t.UpdatedAt = time.Now().UTC()
	m.tracks[id] = t
	return nil
}

func (m *MemoryStore) SetDurableUploaded(id string, uploaded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[id]
	if !ok {
		return nil
	}
	t.DurableUploaded = uploaded
	t.UpdatedAt = time.Now().UTC()
	m.tracks[id] = t
	return nil
}

func (m *MemoryStore) MarkShared(id string, shared bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[id]
	if !ok {
		return nil
	}
	t.Shared = shared
	t.UpdatedAt = time.Now().UTC()
	m.tracks[id] = t
	return nil
}

func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tracks, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}
