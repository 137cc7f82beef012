package app

import (
	"errors"
	"fmt"

	"soundvault/internal/extract"
	"soundvault/pkg/domain"
)

var (
	// ErrInvalidURL mirrors the extractor's validation failure; submissions
	// carrying no recognizable content id are rejected synchronously.
	ErrInvalidURL = extract.ErrInvalidURL

	// ErrNotFound indicates no registry row exists for the request.
	ErrNotFound = errors.New("track not found")

	// ErrNotReady indicates the track is registered but acquisition has not
	// completed yet.
	ErrNotReady = errors.New("track not ready")
)

// DuplicateError is returned when the caller already owns a row for the
// submitted content id. It carries the existing record so the caller can
// proceed without resubmitting.
type DuplicateError struct {
	Track domain.Track
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("track %s already submitted for content %s", e.Track.ID, e.Track.ContentID)
}
