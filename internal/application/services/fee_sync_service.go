package services

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/medisync/emr-backend/internal/domain/entities"
	"github.com/medisync/emr-backend/internal/domain/repositories"
	apperrors "github.com/medisync/emr-backend/pkg/errors"
)

const (
	defaultSyncWorkers = 4
	casRetryAttempts   = 3
)

// SyncSummary aggregates the outcome of a catalog sync run.
type SyncSummary struct {
	Total     int `json:"total"`
	Synced    int `json:"synced"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// FeeSyncService reconciles the persisted fee catalog against the
// resolver. Writes are last-resolution-wins behind an optimistic
// version check, so concurrent syncs of the same code only race on
// staleness, never on correctness.
type FeeSyncService struct {
	resolver    *FeeResolverService
	catalogRepo repositories.CatalogRepository
	workers     int
}

// NewFeeSyncService creates a new fee sync service
func NewFeeSyncService(resolver *FeeResolverService, catalogRepo repositories.CatalogRepository, workers int) *FeeSyncService {
	if workers <= 0 {
		workers = defaultSyncWorkers
	}
	return &FeeSyncService{
		resolver:    resolver,
		catalogRepo: catalogRepo,
		workers:     workers,
	}
}

type syncOutcome int

const (
	outcomeUnchanged syncOutcome = iota
	outcomeSynced
)

// RegisterCode creates a catalog entry for a newly billable code and
// prices it immediately. A full catalog pass is kicked off in the
// background afterwards so related stale entries catch up too.
func (s *FeeSyncService) RegisterCode(ctx context.Context, code, displayName string) (*entities.CatalogEntry, error) {
	entry := &entities.CatalogEntry{
		Code:        code,
		DisplayName: displayName,
		Version:     1,
	}
	if err := s.catalogRepo.Create(ctx, entry); err != nil {
		return nil, err
	}

	if _, err := s.syncEntry(ctx, entry); err != nil {
		log.Warn().Str("code", code).Err(err).Msg("first pricing of new catalog entry failed")
	}

	go func() {
		if _, err := s.SyncAll(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("post-registration catalog sync failed")
		}
	}()

	return s.catalogRepo.GetByCode(ctx, code)
}

// SyncOne re-resolves a single fee code and writes back drift. A failed
// resolution keeps the stored amount; only storage errors are returned.
func (s *FeeSyncService) SyncOne(ctx context.Context, code string) error {
	entry, err := s.catalogRepo.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	_, err = s.syncEntry(ctx, entry)
	return err
}

// syncEntry compares the resolved amount with the stored one and
// overwrites on drift.
func (s *FeeSyncService) syncEntry(ctx context.Context, entry *entities.CatalogEntry) (syncOutcome, error) {
	resolution := s.resolver.Resolve(ctx, entry.Code)

	if resolution.Amount <= 0 || resolution.Source == SourceUnresolved {
		// Resolution came up empty; keep whatever we have.
		log.Warn().
			Str("code", entry.Code).
			Int64("stored", entry.StoredAmount()).
			Msg("fee resolution unavailable, keeping stored amount")
		return outcomeUnchanged, nil
	}

	if resolution.Source == SourceCatalog {
		// The resolver already fell back to our own stored value.
		return outcomeUnchanged, nil
	}

	if entry.StoredAmount() == resolution.Amount {
		return outcomeUnchanged, nil
	}

	if err := s.writeAmount(ctx, entry, resolution.Amount); err != nil {
		return outcomeUnchanged, err
	}

	log.Info().
		Str("code", entry.Code).
		Int64("previous", entry.StoredAmount()).
		Int64("amount", resolution.Amount).
		Str("source", string(resolution.Source)).
		Msg("catalog entry synchronized")
	return outcomeSynced, nil
}

// writeAmount commits the new amount, reloading and retrying on version
// conflicts. Last resolution wins.
func (s *FeeSyncService) writeAmount(ctx context.Context, entry *entities.CatalogEntry, amount int64) error {
	version := entry.Version
	for attempt := 1; attempt <= casRetryAttempts; attempt++ {
		err := s.catalogRepo.UpdateAmount(ctx, entry.Code, amount, version)
		if err == nil {
			return nil
		}
		if !apperrors.IsType(err, apperrors.ErrorTypeConflict) {
			return err
		}

		reloaded, reloadErr := s.catalogRepo.GetByCode(ctx, entry.Code)
		if reloadErr != nil {
			return reloadErr
		}
		if reloaded.StoredAmount() == amount {
			return nil
		}
		version = reloaded.Version
	}
	return apperrors.NewConflictError("catalog entry kept changing concurrently: " + entry.Code)
}

// SyncAll re-resolves every catalog entry through a bounded worker
// pool. Per-entry failures are isolated and counted, never fatal to
// the batch.
func (s *FeeSyncService) SyncAll(ctx context.Context) (*SyncSummary, error) {
	entries, err := s.catalogRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	summary := &SyncSummary{Total: len(entries)}
	if len(entries) == 0 {
		return summary, nil
	}

	jobs := make(chan *entities.CatalogEntry)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				outcome, err := s.syncEntry(ctx, entry)

				mu.Lock()
				switch {
				case err != nil:
					summary.Failed++
				case outcome == outcomeSynced:
					summary.Synced++
				default:
					summary.Unchanged++
				}
				mu.Unlock()

				if err != nil {
					log.Error().Str("code", entry.Code).Err(err).Msg("catalog entry sync failed")
				}
			}
		}()
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return summary, ctx.Err()
		case jobs <- entry:
		}
	}
	close(jobs)
	wg.Wait()

	log.Info().
		Int("total", summary.Total).
		Int("synced", summary.Synced).
		Int("unchanged", summary.Unchanged).
		Int("failed", summary.Failed).
		Msg("catalog sync complete")
	return summary, nil
}
