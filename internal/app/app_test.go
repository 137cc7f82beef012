package app

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"soundvault/internal/extract"
	"soundvault/internal/tiering"
	"soundvault/pkg/domain"
	"soundvault/pkg/storage"
	"soundvault/pkg/store"
)

const testContentID = "dQw4w9WgXcQ"

type fakeExtractor struct {
	mu           sync.Mutex
	extractCalls int
	resolveCalls int

	meta       extract.Metadata
	extractErr error
	skipWrite  bool

	directURL  string
	resolveErr error
}

func (f *fakeExtractor) Extract(_ context.Context, _ string, outputPath string) (extract.Metadata, error) {
	f.mu.Lock()
	f.extractCalls++
	f.mu.Unlock()
	if !f.skipWrite {
		if err := os.WriteFile(outputPath, []byte("fake mp3 bytes"), 0o644); err != nil {
			return extract.Metadata{}, err
		}
	}
	if f.extractErr != nil {
		return extract.Metadata{}, f.extractErr
	}
	return f.meta, nil
}

func (f *fakeExtractor) ResolveDirectURL(_ context.Context, contentID string) (string, error) {
	f.mu.Lock()
	f.resolveCalls++
	f.mu.Unlock()
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	if f.directURL != "" {
		return f.directURL, nil
	}
	return "https://media.example/" + contentID, nil
}

func (f *fakeExtractor) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extractCalls, f.resolveCalls
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (n *recordingNotifier) Publish(_ context.Context, e domain.ProgressEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) statuses() []domain.TrackStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.TrackStatus, len(n.events))
	for i, e := range n.events {
		out[i] = e.Status
	}
	return out
}

type testEnv struct {
	app       *App
	store     *store.MemoryStore
	objects   *storage.MemoryObjectStore
	local     *tiering.LocalTier
	extractor *fakeExtractor
	notifier  *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	local, err := tiering.NewLocalTier(t.TempDir())
	if err != nil {
		t.Fatalf("local tier: %v", err)
	}
	env := &testEnv{
		store:     store.NewMemoryStore(),
		objects:   storage.NewMemoryObjectStore(),
		local:     local,
		extractor: &fakeExtractor{meta: extract.Metadata{Title: "Artist - Song", Channel: "SomeChannel"}},
		notifier:  &recordingNotifier{},
	}
	env.app, err = New(Config{
		Store:     env.store,
		Objects:   env.objects,
		Local:     local,
		Extractor: env.extractor,
		Notifier:  env.notifier,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return env
}

func TestSubmitAcquiresAndBecomesReady(t *testing.T) {
	env := newTestEnv(t)
	track, err := env.app.Submit(context.Background(), "https://www.youtube.com/watch?v="+testContentID, "owner-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if track.Status != domain.StatusDownloading {
		t.Fatalf("initial status = %s, want downloading", track.Status)
	}
	env.app.WaitForDownloads()

	got, ok, _ := env.store.GetByID(track.ID)
	if !ok {
		t.Fatalf("row vanished")
	}
	if got.Status != domain.StatusReady || got.Progress != 100 {
		t.Fatalf("final status = %s/%d, want ready/100", got.Status, got.Progress)
	}
	if got.Title != "Artist - Song" || got.Artist != "Artist" {
		t.Fatalf("metadata = %q by %q", got.Title, got.Artist)
	}
	if !got.DurableUploaded {
		t.Fatalf("durable upload not recorded")
	}
	if exists, _ := env.objects.Exists(context.Background(), got.StorageKey); !exists {
		t.Fatalf("durable tier missing %s", got.StorageKey)
	}
	if !env.local.Exists(context.Background(), got.StorageKey) {
		t.Fatalf("local tier missing %s", got.StorageKey)
	}

	want := []domain.TrackStatus{domain.StatusDownloading, domain.StatusProcessing, domain.StatusReady}
	gotStatuses := env.notifier.statuses()
	if len(gotStatuses) != len(want) {
		t.Fatalf("events = %v, want %v", gotStatuses, want)
	}
	for i := range want {
		if gotStatuses[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, gotStatuses[i], want[i])
		}
	}
}

func TestSubmitRejectsInvalidURL(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.app.Submit(context.Background(), "https://example.com/nothing", "owner-1"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}

func TestSubmitDuplicateReturnsExistingTrack(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.app.Submit(context.Background(), testContentID, "owner-1")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	env.app.WaitForDownloads()

	_, err = env.app.Submit(context.Background(), testContentID, "owner-1")
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateError, got %v", err)
	}
	if dup.Track.ID != first.ID {
		t.Fatalf("duplicate carries %s, want the original %s", dup.Track.ID, first.ID)
	}
	if calls, _ := env.extractor.calls(); calls != 1 {
		t.Fatalf("extractor called %d times, want 1", calls)
	}
}

func TestSubmitReusesReadyAssetWithoutExtraction(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.app.Submit(context.Background(), testContentID, "owner-1")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	env.app.WaitForDownloads()

	reused, err := env.app.Submit(context.Background(), testContentID, "owner-2")
	if err != nil {
		t.Fatalf("reuse submit: %v", err)
	}
	if reused.Status != domain.StatusReady || reused.Progress != 100 {
		t.Fatalf("reused status = %s/%d, want ready/100 immediately", reused.Status, reused.Progress)
	}
	firstRow, _, _ := env.store.GetByID(first.ID)
	if reused.StorageKey != firstRow.StorageKey {
		t.Fatalf("reused key %s, want shared %s", reused.StorageKey, firstRow.StorageKey)
	}
	if reused.Title != firstRow.Title || reused.Artist != firstRow.Artist {
		t.Fatalf("reused metadata not copied: %q by %q", reused.Title, reused.Artist)
	}
	env.app.WaitForDownloads()
	if calls, _ := env.extractor.calls(); calls != 1 {
		t.Fatalf("extractor called %d times, want exactly 1 across both submissions", calls)
	}
}

func TestExtractionFailureIsTerminalError(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.extractErr = errors.New("network unreachable")
	env.extractor.skipWrite = true

	track, err := env.app.Submit(context.Background(), testContentID, "owner-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.app.WaitForDownloads()

	got, _, _ := env.store.GetByID(track.ID)
	if got.Status != domain.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatalf("error message not recorded")
	}
	// Terminal rows never move again.
	if err := env.store.UpdateStatus(track.ID, domain.StatusReady, 100, ""); !errors.Is(err, store.ErrTerminalStatus) {
		t.Fatalf("terminal guard missing, got %v", err)
	}
}

func TestMetadataUnavailableStillServable(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.extractErr = extract.ErrMetadataUnavailable

	track, err := env.app.Submit(context.Background(), testContentID, "owner-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.app.WaitForDownloads()

	got, _, _ := env.store.GetByID(track.ID)
	if got.Status != domain.StatusReady {
		t.Fatalf("status = %s, want ready despite unparsable metadata", got.Status)
	}
	if got.Title != extract.PlaceholderTitle {
		t.Fatalf("title = %q, want placeholder", got.Title)
	}
	if got.Artist != extract.PlaceholderArtist {
		t.Fatalf("artist = %q, want placeholder", got.Artist)
	}
}

func TestDurableUploadFailureLeavesTrackServable(t *testing.T) {
	env := newTestEnv(t)
	env.objects.FailPuts = true

	track, err := env.app.Submit(context.Background(), testContentID, "owner-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.app.WaitForDownloads()

	got, _, _ := env.store.GetByID(track.ID)
	if got.Status != domain.StatusReady {
		t.Fatalf("status = %s, want ready despite durable outage", got.Status)
	}
	if got.DurableUploaded {
		t.Fatalf("failed upload must not be recorded as durable")
	}
	missing, _ := env.store.ListReadyMissingDurable(0)
	if len(missing) != 1 || missing[0].ID != track.ID {
		t.Fatalf("track not flagged for reconciliation: %+v", missing)
	}
}

func TestOpenAudioStates(t *testing.T) {
	env := newTestEnv(t)

	if _, _, _, err := env.app.OpenAudio(context.Background(), testContentID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id expected ErrNotFound, got %v", err)
	}

	track, err := env.app.Submit(context.Background(), testContentID, "owner-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.app.WaitForDownloads()

	got, reader, size, err := env.app.OpenAudio(context.Background(), testContentID)
	if err != nil {
		t.Fatalf("open ready audio: %v", err)
	}
	defer reader.Close()
	if got.ID != track.ID {
		t.Fatalf("opened %s, want %s", got.ID, track.ID)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if int64(len(data)) != size || string(data) != "fake mp3 bytes" {
		t.Fatalf("read %d bytes %q, want size %d", len(data), data, size)
	}
}

func TestOpenAudioNotReady(t *testing.T) {
	env := newTestEnv(t)
	row := domain.Track{
		ID:         "t-pending",
		ContentID:  testContentID,
		OwnerID:    "owner-1",
		StorageKey: storageKey(testContentID, "owner-1"),
		Status:     domain.StatusDownloading,
	}
	if err := env.store.Create(row); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, _, err := env.app.OpenAudio(context.Background(), testContentID); !errors.Is(err, ErrNotReady) {
		t.Fatalf("pending row expected ErrNotReady, got %v", err)
	}
}

func TestOpenAudioFallsThroughTiers(t *testing.T) {
	env := newTestEnv(t)
	track, err := env.app.Submit(context.Background(), testContentID, "owner-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.app.WaitForDownloads()
	row, _, _ := env.store.GetByID(track.ID)

	// Evict the local copy; the durable tier still holds the bytes.
	if err := env.local.Remove(row.StorageKey); err != nil {
		t.Fatalf("remove local: %v", err)
	}
	_, reader, _, err := env.app.OpenAudio(context.Background(), testContentID)
	if err != nil {
		t.Fatalf("durable fallback: %v", err)
	}
	reader.Close()

	// Remove the durable copy too; every tier now misses.
	if err := env.objects.Delete(context.Background(), row.StorageKey); err != nil {
		t.Fatalf("delete durable: %v", err)
	}
	if _, _, _, err := env.app.OpenAudio(context.Background(), testContentID); !errors.Is(err, tiering.ErrMiss) {
		t.Fatalf("full miss expected tiering.ErrMiss, got %v", err)
	}
}

func TestStreamURLCaching(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.app.StreamURL(context.Background(), testContentID)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := env.app.StreamURL(context.Background(), testContentID)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first != second {
		t.Fatalf("urls differ: %q vs %q", first, second)
	}
	if _, resolves := env.extractor.calls(); resolves != 1 {
		t.Fatalf("resolver invoked %d times, want 1", resolves)
	}
}

func TestShareTrackRequiresOwnership(t *testing.T) {
	env := newTestEnv(t)
	track, err := env.app.Submit(context.Background(), testContentID, "owner-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.app.WaitForDownloads()

	if _, err := env.app.ShareTrack(track.ID, "owner-2", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign owner expected ErrNotFound, got %v", err)
	}
	shared, err := env.app.ShareTrack(track.ID, "owner-1", true)
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if !shared.Shared {
		t.Fatalf("shared flag not set")
	}
}

func TestDeleteTrackKeepsBytesWhileReferenced(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.app.Submit(context.Background(), testContentID, "owner-1")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	env.app.WaitForDownloads()
	if _, err := env.app.Submit(context.Background(), testContentID, "owner-2"); err != nil {
		t.Fatalf("reuse submit: %v", err)
	}
	row, _, _ := env.store.GetByID(first.ID)

	if err := env.app.DeleteTrack(context.Background(), first.ID, "owner-1"); err != nil {
		t.Fatalf("delete first: %v", err)
	}
	if !env.local.Exists(context.Background(), row.StorageKey) {
		t.Fatalf("bytes removed while another owner still references them")
	}

	second, _, _ := env.store.GetByContentIDForOwner(testContentID, "owner-2")
	if err := env.app.DeleteTrack(context.Background(), second.ID, "owner-2"); err != nil {
		t.Fatalf("delete second: %v", err)
	}
	if env.local.Exists(context.Background(), row.StorageKey) {
		t.Fatalf("bytes left behind after the last reference was deleted")
	}
	if exists, _ := env.objects.Exists(context.Background(), row.StorageKey); exists {
		t.Fatalf("durable bytes left behind after the last reference was deleted")
	}
}

func TestDeleteTrackRequiresOwnership(t *testing.T) {
	env := newTestEnv(t)
	track, err := env.app.Submit(context.Background(), testContentID, "owner-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.app.WaitForDownloads()
	if err := env.app.DeleteTrack(context.Background(), track.ID, "owner-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign delete expected ErrNotFound, got %v", err)
	}
}

func TestStorageKeyNamespacing(t *testing.T) {
	if got := storageKey(testContentID, "1234567890ab"); got != testContentID+"_12345678.mp3" {
		t.Fatalf("key = %q", got)
	}
	if got := storageKey(testContentID, "ab"); got != testContentID+"_ab.mp3" {
		t.Fatalf("short owner key = %q", got)
	}
	if got := storageKey(testContentID, ""); got != testContentID+"_anon.mp3" {
		t.Fatalf("anonymous key = %q", got)
	}
}

func TestSubmitAnonymousOwnerAllowed(t *testing.T) {
	env := newTestEnv(t)
	track, err := env.app.Submit(context.Background(), testContentID, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.app.WaitForDownloads()
	got, _, _ := env.store.GetByID(track.ID)
	if got.Status != domain.StatusReady {
		t.Fatalf("status = %s, want ready", got.Status)
	}
	if got.StorageKey != testContentID+"_anon.mp3" {
		t.Fatalf("key = %q", got.StorageKey)
	}
}

// Exercise a slow extraction to confirm Submit returns before completion.
func TestSubmitReturnsBeforeExtractionFinishes(t *testing.T) {
	env := newTestEnv(t)
	release := make(chan struct{})
	env.app.extractor = extractorFunc(func(ctx context.Context, url, outputPath string) (extract.Metadata, error) {
		<-release
		return extract.Metadata{Title: "T"}, os.WriteFile(outputPath, []byte("x"), 0o644)
	})

	start := time.Now()
	track, err := env.app.Submit(context.Background(), testContentID, "owner-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("submit blocked on extraction")
	}
	if track.Status != domain.StatusDownloading {
		t.Fatalf("status = %s, want downloading", track.Status)
	}
	close(release)
	env.app.WaitForDownloads()
}

type extractorFunc func(ctx context.Context, url, outputPath string) (extract.Metadata, error)

func (f extractorFunc) Extract(ctx context.Context, url, outputPath string) (extract.Metadata, error) {
	return f(ctx, url, outputPath)
}

func (f extractorFunc) ResolveDirectURL(_ context.Context, contentID string) (string, error) {
	return "https://media.example/" + contentID, nil
}
