// Package app wires the download orchestrator, storage tiering and delivery
// logic together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"sync"
	"time"

	"soundvault/internal/extract"
	"soundvault/internal/streamcache"
	"soundvault/internal/tiering"
	"soundvault/internal/util"
	"soundvault/pkg/domain"
	"soundvault/pkg/notify"
	"soundvault/pkg/storage"
	"soundvault/pkg/store"
)

const extractDeadline = 15 * time.Minute

// Config wires required dependencies for the core application.
type Config struct {
	Store        store.TrackStore
	Objects      storage.ObjectStore // nil disables the durable tier
	Local        *tiering.LocalTier
	Extractor    extract.Extractor
	Notifier     notify.Notifier
	StreamURLTTL time.Duration
}

// App is the audio acquisition and delivery core.
type App struct {
	store     store.TrackStore
	objects   storage.ObjectStore
	local     *tiering.LocalTier
	resolver  *tiering.Resolver
	extractor extract.Extractor
	cache     *streamcache.Cache
	notifier  notify.Notifier
	inflight  *inFlightSet

	// downloads lets tests wait for fire-and-forget acquisitions to settle.
	downloads sync.WaitGroup
}

// New constructs the application core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("track store required")
	}
	if cfg.Local == nil {
		return nil, errors.New("local tier required")
	}
	if cfg.Extractor == nil {
		return nil, errors.New("extractor required")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	var durable tiering.Tier
	if cfg.Objects != nil {
		durable = tiering.NewDurableTier(cfg.Objects)
	}
	a := &App{
		store:     cfg.Store,
		objects:   cfg.Objects,
		local:     cfg.Local,
		resolver:  tiering.NewResolver(cfg.Local, durable),
		extractor: cfg.Extractor,
		notifier:  notifier,
		inflight:  newInFlightSet(),
	}
	a.cache = streamcache.New(a.extractor.ResolveDirectURL, cfg.StreamURLTTL)
	return a, nil
}

// Submit registers a new acquisition and returns immediately; completion is
// asynchronous. A content id the caller already owns short-circuits with
// DuplicateError; a content id any other owner holds ready reuses those
// bytes via a pure registry write, with no extraction invocation.
func (a *App) Submit(ctx context.Context, url, ownerID string) (domain.Track, error) {
	contentID, err := extract.ParseContentID(url)
	if err != nil {
		return domain.Track{}, err
	}

	if existing, ok, err := a.store.GetByContentIDForOwner(contentID, ownerID); err != nil {
		return domain.Track{}, fmt.Errorf("dedup check: %w", err)
	} else if ok {
		return domain.Track{}, &DuplicateError{Track: existing}
	}

	if ready, ok, err := a.store.GetReadyByContentID(contentID); err != nil {
		return domain.Track{}, fmt.Errorf("reuse check: %w", err)
	} else if ok {
		return a.reuseTrack(ctx, ready, ownerID)
	}

	now := time.Now().UTC()
	track := domain.Track{
		ID:         util.NewID(),
		ContentID:  contentID,
		OwnerID:    ownerID,
		Title:      url,
		StorageKey: storageKey(contentID, ownerID),
		Status:     domain.StatusDownloading,
		Progress:   0,
		AddedAt:    now,
		UpdatedAt:  now,
	}
	if err := a.store.Create(track); err != nil {
		// A concurrent submission by the same owner may have won the insert.
		if existing, ok, lookupErr := a.store.GetByContentIDForOwner(contentID, ownerID); lookupErr == nil && ok {
			return domain.Track{}, &DuplicateError{Track: existing}
		}
		return domain.Track{}, fmt.Errorf("create track: %w", err)
	}
	a.publish(ctx, track)

	a.downloads.Add(1)
	go func() {
		defer a.downloads.Done()
		a.runDownload(track, url)
	}()
	return track, nil
}

// reuseTrack fans a ready asset out to a new owner without re-extraction.
func (a *App) reuseTrack(ctx context.Context, ready domain.Track, ownerID string) (domain.Track, error) {
	now := time.Now().UTC()
	track := domain.Track{
		ID:              util.NewID(),
		ContentID:       ready.ContentID,
		OwnerID:         ownerID,
		Title:           ready.Title,
		Artist:          ready.Artist,
		ThumbnailURL:    ready.ThumbnailURL,
		StorageKey:      ready.StorageKey,
		Status:          domain.StatusReady,
		Progress:        100,
		DurableUploaded: ready.DurableUploaded,
		RawMetadata:     ready.RawMetadata,
		AddedAt:         now,
		UpdatedAt:       now,
	}
	if err := a.store.Create(track); err != nil {
		if existing, ok, lookupErr := a.store.GetByContentIDForOwner(ready.ContentID, ownerID); lookupErr == nil && ok {
			return domain.Track{}, &DuplicateError{Track: existing}
		}
		return domain.Track{}, fmt.Errorf("create reused track: %w", err)
	}
	a.publish(ctx, track)
	return track, nil
}

// runDownload supervises one extraction. It runs on a detached context:
// closing the originating connection does not terminate the subprocess,
// which updates the registry regardless.
func (a *App) runDownload(track domain.Track, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), extractDeadline)
	defer cancel()

	outputPath := a.local.Path(track.StorageKey)
	meta, err := a.extractor.Extract(ctx, url, outputPath)
	switch {
	case errors.Is(err, extract.ErrMetadataUnavailable):
		// The audio bytes are valid; only the structured output was
		// unparsable. Placeholder metadata, still becomes ready.
		slog.Warn("extraction metadata unparsable, applying placeholders", "track", track.ID, "content", track.ContentID)
		meta = extract.Metadata{Title: extract.PlaceholderTitle}
	case err != nil:
		slog.Error("extraction failed", "track", track.ID, "content", track.ContentID, "err", err)
		a.transition(ctx, track, domain.StatusError, 0, err.Error())
		return
	}

	a.transition(ctx, track, domain.StatusProcessing, 80, "")

	title := meta.Title
	if title == "" {
		title = extract.PlaceholderTitle
	}
	artist := extract.CanonicalArtist(meta.Title, meta.Channel, meta.Artist)
	if err := a.store.UpdateMetadata(track.ID, title, artist, meta.ThumbnailURL, meta.Raw); err != nil {
		slog.Warn("metadata update failed", "track", track.ID, "err", err)
	}

	a.uploadDurable(ctx, track)
	a.transition(ctx, track, domain.StatusReady, 100, "")
}

// uploadDurable pushes the local copy to the durable tier. Best-effort:
// failure leaves the asset local-only and flagged for reconciliation.
func (a *App) uploadDurable(ctx context.Context, track domain.Track) {
	if a.objects == nil {
		return
	}
	path := a.local.Path(track.StorageKey)
	f, err := os.Open(path)
	if err != nil {
		slog.Warn("durable upload skipped, local file unreadable", "track", track.ID, "err", err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		slog.Warn("durable upload skipped, stat failed", "track", track.ID, "err", err)
		return
	}
	if err := a.objects.Put(ctx, track.StorageKey, f, info.Size(), audioContentType()); err != nil {
		slog.Warn("durable upload failed, asset remains local-only", "track", track.ID, "key", track.StorageKey, "err", err)
		return
	}
	if err := a.store.SetDurableUploaded(track.ID, true); err != nil {
		slog.Warn("durable upload recorded inconsistently", "track", track.ID, "err", err)
	}
}

func (a *App) transition(ctx context.Context, track domain.Track, status domain.TrackStatus, progress int, errMsg string) {
	if err := a.store.UpdateStatus(track.ID, status, progress, errMsg); err != nil {
		if errors.Is(err, store.ErrTerminalStatus) {
			return
		}
		slog.Warn("status update failed", "track", track.ID, "status", status, "err", err)
		return
	}
	track.Status = status
	track.Progress = progress
	a.publish(ctx, track)
}

func (a *App) publish(ctx context.Context, track domain.Track) {
	event := domain.ProgressEvent{
		OwnerID:   track.OwnerID,
		TrackID:   track.ID,
		ContentID: track.ContentID,
		Progress:  track.Progress,
		Status:    track.Status,
	}
	if err := a.notifier.Publish(ctx, event); err != nil {
		slog.Warn("progress notification failed", "track", track.ID, "err", err)
	}
}

// OpenAudio resolves a ready asset to a seekable reader through the tier
// chain. ErrNotFound / ErrNotReady cover registry state; tiering.ErrMiss
// means no tier holds bytes and the caller should fall back to a redirect.
func (a *App) OpenAudio(ctx context.Context, contentID string) (domain.Track, io.ReadSeekCloser, int64, error) {
	track, ok, err := a.store.GetAnyByContentID(contentID)
	if err != nil {
		return domain.Track{}, nil, 0, fmt.Errorf("registry lookup: %w", err)
	}
	if !ok {
		return domain.Track{}, nil, 0, ErrNotFound
	}
	if track.Status != domain.StatusReady {
		return track, nil, 0, ErrNotReady
	}
	reader, size, tier, err := a.resolver.Open(ctx, track.StorageKey)
	if err != nil {
		return track, nil, 0, err
	}
	slog.Debug("serving audio", "content", contentID, "tier", tier, "size", size)
	return track, reader, size, nil
}

// StreamURL returns a direct media URL for the content id, cached with a
// TTL. Works for ids that were never submitted for acquisition.
func (a *App) StreamURL(ctx context.Context, contentID string) (string, error) {
	return a.cache.Get(ctx, contentID)
}

// ListTracks returns the owner's tracks.
func (a *App) ListTracks(ownerID string) ([]domain.Track, error) {
	return a.store.ListByOwner(ownerID)
}

// ShareTrack toggles the shared flag on a track the owner holds.
func (a *App) ShareTrack(id, ownerID string, shared bool) (domain.Track, error) {
	track, ok, err := a.store.GetByID(id)
	if err != nil {
		return domain.Track{}, err
	}
	if !ok || track.OwnerID != ownerID {
		return domain.Track{}, ErrNotFound
	}
	if err := a.store.MarkShared(id, shared); err != nil {
		return domain.Track{}, err
	}
	track.Shared = shared
	return track, nil
}

// DeleteTrack removes the owner's registry row. Physical bytes are removed
// only when no other owner's row still references the same storage key.
func (a *App) DeleteTrack(ctx context.Context, id, ownerID string) error {
	track, ok, err := a.store.GetByID(id)
	if err != nil {
		return err
	}
	if !ok || track.OwnerID != ownerID {
		return ErrNotFound
	}
	if err := a.store.Delete(id); err != nil {
		return err
	}
	if _, stillReferenced, err := a.store.GetAnyByContentID(track.ContentID); err == nil && !stillReferenced {
		if err := a.local.Remove(track.StorageKey); err != nil {
			slog.Warn("local cleanup failed", "key", track.StorageKey, "err", err)
		}
		if a.objects != nil {
			if err := a.objects.Delete(ctx, track.StorageKey); err != nil {
				slog.Warn("durable cleanup failed", "key", track.StorageKey, "err", err)
			}
		}
	}
	return nil
}

// WaitForDownloads blocks until in-flight acquisitions finish. Test helper.
func (a *App) WaitForDownloads() {
	a.downloads.Wait()
}

// storageKey namespaces the locator by content id plus a truncated owner id
// so concurrent owners never collide on filenames.
func storageKey(contentID, ownerID string) string {
	suffix := "anon"
	if ownerID != "" {
		if len(ownerID) > 8 {
			suffix = ownerID[:8]
		} else {
			suffix = ownerID
		}
	}
	return contentID + "_" + suffix + ".mp3"
}

func audioContentType() string {
	if ct := mime.TypeByExtension(".mp3"); ct != "" {
		return ct
	}
	return "audio/mpeg"
}
