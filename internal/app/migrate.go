package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
	"soundvault/pkg/domain"
)

const migrateConcurrency = 4

// Migrate batch-scans ready rows missing from the durable tier and
// re-uploads those still present locally. Rows missing from every tier are
// flagged for full re-acquisition instead: there is nothing left to copy.
// Idempotent: a second run with no intervening changes migrates nothing.
func (a *App) Migrate(ctx context.Context, limit int) (domain.MigrationReport, error) {
	if a.objects == nil {
		return domain.MigrationReport{}, errors.New("durable tier not configured")
	}
	rows, err := a.store.ListReadyMissingDurable(limit)
	if err != nil {
		return domain.MigrationReport{}, fmt.Errorf("list candidates: %w", err)
	}

	report := domain.MigrationReport{Total: len(rows)}
	var mu sync.Mutex
	record := func(res domain.MigrationResult) {
		mu.Lock()
		defer mu.Unlock()
		switch res.Outcome {
		case domain.MigrationMigrated:
			report.Migrated++
		case domain.MigrationSkipped:
			report.Skipped++
		case domain.MigrationFailed:
			report.Failed++
		}
		report.Results = append(report.Results, res)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(migrateConcurrency)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			record(a.migrateOne(ctx, row))
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

func (a *App) migrateOne(ctx context.Context, track domain.Track) domain.MigrationResult {
	result := domain.MigrationResult{TrackID: track.ID, ContentID: track.ContentID}

	// The reconciliation flag can lag reality; trust the tier itself.
	if exists, err := a.objects.Exists(ctx, track.StorageKey); err == nil && exists {
		if err := a.store.SetDurableUploaded(track.ID, true); err != nil {
			result.Outcome = domain.MigrationFailed
			result.Reason = fmt.Sprintf("record reconciliation: %v", err)
			return result
		}
		result.Outcome = domain.MigrationSkipped
		result.Reason = "already in durable tier"
		return result
	}

	path := a.local.Path(track.StorageKey)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			result.Outcome = domain.MigrationFailed
			result.Reason = "missing from all tiers, flagged for re-acquisition"
			a.StartReacquisition(track.ContentID)
			return result
		}
		result.Outcome = domain.MigrationFailed
		result.Reason = fmt.Sprintf("open local copy: %v", err)
		return result
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		result.Outcome = domain.MigrationFailed
		result.Reason = fmt.Sprintf("stat local copy: %v", err)
		return result
	}
	if err := a.objects.Put(ctx, track.StorageKey, f, info.Size(), audioContentType()); err != nil {
		result.Outcome = domain.MigrationFailed
		result.Reason = fmt.Sprintf("upload: %v", err)
		return result
	}
	if err := a.store.SetDurableUploaded(track.ID, true); err != nil {
		result.Outcome = domain.MigrationFailed
		result.Reason = fmt.Sprintf("record upload: %v", err)
		return result
	}
	result.Outcome = domain.MigrationMigrated
	return result
}
