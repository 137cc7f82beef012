package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"soundvault/pkg/domain"
)

const migrateLockID int64 = 48120931

// GormStore implements TrackStore using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent server instances do not race schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&TrackModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Create inserts a new registry row. Uniqueness of (content_id, owner_id) is
// enforced by the index; callers treat the conflict as a duplicate
// submission.
func (s *GormStore) Create(t domain.Track) error {
	model := trackToModel(t)
	return s.db.Create(&model).Error
}

// GetByID retrieves a track by primary key.
func (s *GormStore) GetByID(id string) (domain.Track, bool, error) {
	var model TrackModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Track{}, false, nil
		}
		return domain.Track{}, false, err
	}
	return trackFromModel(model), true, nil
}

// GetByContentIDForOwner finds the owner's row for a content id.
func (s *GormStore) GetByContentIDForOwner(contentID, ownerID string) (domain.Track, bool, error) {
	var model TrackModel
	err := s.db.First(&model, "content_id = ? AND owner_id = ?", contentID, ownerID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Track{}, false, nil
		}
		return domain.Track{}, false, err
	}
	return trackFromModel(model), true, nil
}

// GetReadyByContentID returns any ready row for the content id.
func (s *GormStore) GetReadyByContentID(contentID string) (domain.Track, bool, error) {
	var model TrackModel
	err := s.db.Order("created_at ASC").
		First(&model, "content_id = ? AND status = ?", contentID, string(domain.StatusReady)).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Track{}, false, nil
		}
		return domain.Track{}, false, err
	}
	return trackFromModel(model), true, nil
}

// GetAnyByContentID returns any row for the content id, preferring ready
// rows so delivery resolves a servable locator when one exists.
func (s *GormStore) GetAnyByContentID(contentID string) (domain.Track, bool, error) {
	if t, ok, err := s.GetReadyByContentID(contentID); err != nil || ok {
		return t, ok, err
	}
	var model TrackModel
	err := s.db.Order("created_at ASC").First(&model, "content_id = ?", contentID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Track{}, false, nil
		}
		return domain.Track{}, false, err
	}
	return trackFromModel(model), true, nil
}

// ListByOwner returns the owner's tracks ordered by creation time.
func (s *GormStore) ListByOwner(ownerID string) ([]domain.Track, error) {
	return s.listTracks("created_at ASC", "owner_id = ?", ownerID)
}

// ListReady returns all ready rows.
func (s *GormStore) ListReady() ([]domain.Track, error) {
	return s.listTracks("created_at ASC", "status = ?", string(domain.StatusReady))
}

// ListReadyMissingDurable returns ready rows not yet uploaded to the durable
// tier, oldest first.
func (s *GormStore) ListReadyMissingDurable(limit int) ([]domain.Track, error) {
	var models []TrackModel
	tx := s.db.Order("created_at ASC").
		Where("status = ? AND durable_uploaded = ?", string(domain.StatusReady), false)
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	return tracksFromModels(models), nil
}

func (s *GormStore) listTracks(order string, conds ...any) ([]domain.Track, error) {
	var models []TrackModel
	tx := s.db.Order(order)
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	return tracksFromModels(models), nil
}

// UpdateStatus transitions a row's status. Rows already in a terminal status
// are never updated; the guard lives in the WHERE clause so concurrent
// writers cannot resurrect a finished row.
func (s *GormStore) UpdateStatus(id string, status domain.TrackStatus, progress int, errMsg string) error {
	res := s.db.Model(&TrackModel{}).
		Where("id = ? AND status NOT IN ?", id, []string{string(domain.StatusReady), string(domain.StatusError)}).
		Updates(map[string]any{
			"status":        string(status),
			"progress":      progress,
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.Model(&TrackModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrTerminalStatus
		}
	}
	return nil
}

// UpdateMetadata sets display metadata and the raw extractor payload.
func (s *GormStore) UpdateMetadata(id, title, artist, thumbnailURL string, raw map[string]string) error {
	updates := map[string]any{
		"title":         title,
		"artist":        artist,
		"thumbnail_url": thumbnailURL,
		"updated_at":    time.Now().UTC(),
	}
	if raw != nil {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		updates["metadata"] = encoded
	}
	return s.db.Model(&TrackModel{}).Where("id = ?", id).Updates(updates).Error
}

// SetDurableUploaded records durable-tier reconciliation state.
func (s *GormStore) SetDurableUploaded(id string, uploaded bool) error {
	return s.db.Model(&TrackModel{}).Where("id = ?", id).
		Updates(map[string]any{"durable_uploaded": uploaded, "updated_at": time.Now().UTC()}).Error
}

// MarkShared toggles the shared flag.
func (s *GormStore) MarkShared(id string, shared bool) error {
	return s.db.Model(&TrackModel{}).Where("id = ?", id).
		Updates(map[string]any{"shared": shared, "updated_at": time.Now().UTC()}).Error
}

// Delete removes a registry row.
func (s *GormStore) Delete(id string) error {
	return s.db.Delete(&TrackModel{}, "id = ?", id).Error
}

func trackToModel(t domain.Track) TrackModel {
	var meta []byte
	if t.RawMetadata != nil {
		meta, _ = json.Marshal(t.RawMetadata)
	}
	return TrackModel{
		ID:              t.ID,
		ContentID:       t.ContentID,
		OwnerID:         t.OwnerID,
		Title:           t.Title,
		Artist:          t.Artist,
		ThumbnailURL:    t.ThumbnailURL,
		StorageKey:      t.StorageKey,
		Status:          string(t.Status),
		Progress:        t.Progress,
		Shared:          t.Shared,
		DurableUploaded: t.DurableUploaded,
		ErrorMessage:    t.ErrorMessage,
		Metadata:        meta,
		CreatedAt:       t.AddedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func trackFromModel(m TrackModel) domain.Track {
	var raw map[string]string
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &raw)
	}
	return domain.Track{
		ID:              m.ID,
		ContentID:       m.ContentID,
		OwnerID:         m.OwnerID,
		Title:           m.Title,
		Artist:          m.Artist,
		ThumbnailURL:    m.ThumbnailURL,
		StorageKey:      m.StorageKey,
		Status:          domain.TrackStatus(m.Status),
		Progress:        m.Progress,
		Shared:          m.Shared,
		DurableUploaded: m.DurableUploaded,
		ErrorMessage:    m.ErrorMessage,
		RawMetadata:     raw,
		AddedAt:         m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func tracksFromModels(models []TrackModel) []domain.Track {
	res := make([]domain.Track, 0, len(models))
	for _, m := range models {
		res = append(res, trackFromModel(m))
	}
	return res
}
