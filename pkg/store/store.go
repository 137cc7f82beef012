package store

import (
	"errors"

	"soundvault/pkg/domain"
)

// ErrTerminalStatus is returned when a status update would move a row out of
// ready or error. Terminal rows only leave the registry by deletion; a fresh
// submission creates a new row instead.
var ErrTerminalStatus = errors.New("track status is terminal")

// TrackStore defines the registry operations the acquisition and delivery
// pipeline depends on. The backing persistence is interchangeable; tests use
// the in-memory implementation.
type TrackStore interface {
	Create(t domain.Track) error
	GetByID(id string) (domain.Track, bool, error)
	GetByContentIDForOwner(contentID, ownerID string) (domain.Track, bool, error)
	// GetReadyByContentID returns any owner's ready row for the content id,
	// enabling the reuse optimization on repeat submissions.
	GetReadyByContentID(contentID string) (domain.Track, bool, error)
	// GetAnyByContentID returns any row for the content id regardless of
	// status, so delivery can distinguish unknown from not-yet-ready.
	GetAnyByContentID(contentID string) (domain.Track, bool, error)
	ListByOwner(ownerID string) ([]domain.Track, error)
	// ListReadyMissingDurable returns ready rows whose durable-tier upload
	// has not been recorded, oldest first, capped at limit (0 = no cap).
	ListReadyMissingDurable(limit int) ([]domain.Track, error)
	ListReady() ([]domain.Track, error)

	UpdateStatus(id string, status domain.TrackStatus, progress int, errMsg string) error
	UpdateMetadata(id, title, artist, thumbnailURL string, raw map[string]string) error
	SetDurableUploaded(id string, uploaded bool) error
	MarkShared(id string, shared bool) error
	Delete(id string) error
}
