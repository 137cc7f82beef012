// Package extract wraps the external media extraction tool behind a narrow
// interface so the download orchestrator never touches subprocess details.
package extract

import (
	"context"
	"errors"
)

// ErrMetadataUnavailable marks a successful download whose structured
// metadata output could not be parsed. The audio bytes are valid; callers
// apply placeholder metadata and proceed.
var ErrMetadataUnavailable = errors.New("extraction metadata unavailable")

// Metadata is the structured output emitted by the extraction tool on
// success. Artist carries the tool's explicit artist field when present;
// Channel is the raw uploader/channel name.
type Metadata struct {
	Title        string
	Artist       string
	Channel      string
	ThumbnailURL string
	DurationSec  float64
	Raw          map[string]string
}

// Extractor acquires a standalone audio copy of an externally hosted asset,
// or resolves a short-lived direct media URL without downloading.
type Extractor interface {
	// Extract downloads the asset's audio to outputPath and returns parsed
	// metadata. ErrMetadataUnavailable means the file was written but the
	// metadata output could not be parsed.
	Extract(ctx context.Context, url, outputPath string) (Metadata, error)

	// ResolveDirectURL returns an ephemeral direct media URL for the given
	// content id without persisting anything.
	ResolveDirectURL(ctx context.Context, contentID string) (string, error)
}
