package domain

import "time"

type TrackStatus string

const (
	StatusDownloading TrackStatus = "downloading"
	StatusProcessing  TrackStatus = "processing"
	StatusReady       TrackStatus = "ready"
	StatusError       TrackStatus = "error"
)

// Terminal reports whether a status can never change again; rows only leave
// a terminal status by deletion.
func (s TrackStatus) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// Track is one acquired (or in-flight) audio asset owned by a user. OwnerID
// may be empty on legacy rows created before ownership existed. Multiple
// owners may each hold a ready row for the same ContentID; the
// (ContentID, OwnerID) pair is unique.
type Track struct {
	ID              string            `json:"id"`
	ContentID       string            `json:"contentId"`
	OwnerID         string            `json:"ownerId,omitempty"`
	Title           string            `json:"title"`
	Artist          string            `json:"artist"`
	ThumbnailURL    string            `json:"thumbnailUrl,omitempty"`
	StorageKey      string            `json:"-"`
	Status          TrackStatus       `json:"status"`
	Progress        int               `json:"progress"`
	Shared          bool              `json:"shared"`
	DurableUploaded bool              `json:"-"`
	ErrorMessage    string            `json:"errorMessage,omitempty"`
	RawMetadata     map[string]string `json:"-"`
	AddedAt         time.Time         `json:"addedAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// ProgressEvent is published on every track status transition.
type ProgressEvent struct {
	OwnerID   string      `json:"ownerId,omitempty"`
	TrackID   string      `json:"trackId"`
	ContentID string      `json:"contentId"`
	Progress  int         `json:"progress"`
	Status    TrackStatus `json:"status"`
}

// MigrationOutcome classifies one item of a migration run.
type MigrationOutcome string

const (
	MigrationMigrated MigrationOutcome = "migrated"
	MigrationSkipped  MigrationOutcome = "skipped"
	MigrationFailed   MigrationOutcome = "failed"
)

type MigrationResult struct {
	TrackID   string           `json:"trackId"`
	ContentID string           `json:"contentId"`
	Outcome   MigrationOutcome `json:"outcome"`
	Reason    string           `json:"reason,omitempty"`
}

type MigrationReport struct {
	Total    int               `json:"total"`
	Migrated int               `json:"migrated"`
	Skipped  int               `json:"skipped"`
	Failed   int               `json:"failed"`
	Results  []MigrationResult `json:"results"`
}

// ReacquisitionStatus summarizes ready rows against storage plus the
// in-flight re-download set.
type ReacquisitionStatus struct {
	Total            int      `json:"total"`
	InStorage        int      `json:"inStorage"`
	Missing          int      `json:"missing"`
	InProgress       int      `json:"inProgress"`
	ActiveContentIDs []string `json:"activeContentIds"`
}
