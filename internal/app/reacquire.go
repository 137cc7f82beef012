package app

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"soundvault/internal/extract"
	"soundvault/pkg/domain"
)

// inFlightSet tracks content ids currently being re-downloaded so a second
// trigger cannot start a duplicate subprocess. Process-local on purpose:
// migration is an operator-triggered maintenance action, not something run
// concurrently across instances.
type inFlightSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newInFlightSet() *inFlightSet {
	return &inFlightSet{ids: make(map[string]struct{})}
}

// begin inserts the id if absent; false means a re-download is already
// running.
func (s *inFlightSet) begin(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// end removes the id regardless of the re-download's outcome.
func (s *inFlightSet) end(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *inFlightSet) active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// StartReacquisition re-runs extraction for an asset missing from every
// tier. Returns false when a re-download for the content id is already in
// flight.
func (a *App) StartReacquisition(contentID string) bool {
	if !a.inflight.begin(contentID) {
		return false
	}
	a.downloads.Add(1)
	go func() {
		defer a.downloads.Done()
		defer a.inflight.end(contentID)
		a.reacquire(contentID)
	}()
	return true
}

func (a *App) reacquire(contentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), extractDeadline)
	defer cancel()

	track, ok, err := a.store.GetReadyByContentID(contentID)
	if err != nil || !ok {
		slog.Warn("reacquisition skipped, no ready row", "content", contentID, "err", err)
		return
	}
	outputPath := a.local.Path(track.StorageKey)
	if _, err := a.extractor.Extract(ctx, extract.WatchURL(contentID), outputPath); err != nil {
		if errors.Is(err, extract.ErrMetadataUnavailable) {
			// Bytes landed; metadata was already set when the row first
			// became ready.
			a.uploadDurable(ctx, track)
			slog.Info("reacquisition complete", "content", contentID)
			return
		}
		slog.Error("reacquisition failed", "content", contentID, "err", err)
		return
	}
	a.uploadDurable(ctx, track)
	slog.Info("reacquisition complete", "content", contentID)
}

// ReacquisitionStatus reports ready rows against actual tier contents plus
// the in-flight re-download set.
func (a *App) ReacquisitionStatus(ctx context.Context) (domain.ReacquisitionStatus, error) {
	rows, err := a.store.ListReady()
	if err != nil {
		return domain.ReacquisitionStatus{}, err
	}
	status := domain.ReacquisitionStatus{
		Total:            len(rows),
		ActiveContentIDs: a.inflight.active(),
	}
	status.InProgress = len(status.ActiveContentIDs)
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		inStorage, checked := seen[row.StorageKey]
		if !checked {
			inStorage = a.resolver.Exists(ctx, row.StorageKey)
			seen[row.StorageKey] = inStorage
		}
		if inStorage {
			status.InStorage++
		} else {
			status.Missing++
		}
	}
	return status, nil
}
