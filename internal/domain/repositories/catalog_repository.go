package repositories

import (
	"context"

	"github.com/medisync/emr-backend/internal/domain/entities"
)

// CatalogRepository defines operations for fee catalog storage
type CatalogRepository interface {
	Create(ctx context.Context, entry *entities.CatalogEntry) error
	GetByCode(ctx context.Context, code string) (*entities.CatalogEntry, error)
	List(ctx context.Context) ([]*entities.CatalogEntry, error)

	// UpdateAmount overwrites the stored amount if and only if the entry
	// still carries expectedVersion (optimistic concurrency). A stale
	// version yields a conflict error.
	UpdateAmount(ctx context.Context, code string, amount int64, expectedVersion int64) error
}
