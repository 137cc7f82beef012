package store

import (
	"time"

	"gorm.io/datatypes"
)

// TrackModel is the GORM persistence model for registry rows.
type TrackModel struct {
	ID              string `gorm:"primaryKey"`
	ContentID       string `gorm:"size:16;not null;index;uniqueIndex:idx_tracks_content_owner,priority:1"`
	OwnerID         string `gorm:"uniqueIndex:idx_tracks_content_owner,priority:2"`
	Title           string
	Artist          string
	ThumbnailURL    string
	StorageKey      string `gorm:"not null"`
	Status          string `gorm:"not null;index"`
	Progress        int    `gorm:"not null"`
	Shared          bool   `gorm:"not null;default:false"`
	DurableUploaded bool   `gorm:"not null;default:false;index"`
	ErrorMessage    string
	Metadata        datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt       time.Time      `gorm:"not null"`
	UpdatedAt       time.Time      `gorm:"not null"`
}

func (TrackModel) TableName() string {
	return "tracks"
}
