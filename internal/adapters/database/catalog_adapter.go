package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/medisync/emr-backend/internal/domain/entities"
	"github.com/medisync/emr-backend/internal/domain/repositories"
	"github.com/medisync/emr-backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/medisync/emr-backend/pkg/errors"
)

const catalogTable = "catalog_entries"

// CatalogAdapter implements CatalogRepository
type CatalogAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

var _ repositories.CatalogRepository = (*CatalogAdapter)(nil)

// NewCatalogAdapter creates a new catalog adapter
func NewCatalogAdapter(client *postgres.Client) *CatalogAdapter {
	return &CatalogAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Create creates a new catalog entry
func (a *CatalogAdapter) Create(ctx context.Context, entry *entities.CatalogEntry) error {
	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.Version == 0 {
		entry.Version = 1
	}

	record := goqu.Record{
		"code":           entry.Code,
		"display_name":   entry.DisplayName,
		"amount":         entry.Amount,
		"version":        entry.Version,
		"last_synced_at": entry.LastSyncedAt,
		"created_at":     entry.CreatedAt,
		"updated_at":     entry.UpdatedAt,
	}

	query, args, err := a.db.Insert(catalogTable).Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewDuplicateError("catalog entry already exists for code " + entry.Code)
		}
		return apperrors.NewInternalError("failed to create catalog entry", err)
	}

	return nil
}

// GetByCode retrieves a catalog entry by fee code
func (a *CatalogAdapter) GetByCode(ctx context.Context, code string) (*entities.CatalogEntry, error) {
	query, args, err := a.db.Select("code", "display_name", "amount", "version", "last_synced_at", "created_at", "updated_at").
		From(catalogTable).
		Where(goqu.Ex{"code": code}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	entry, err := scanCatalogEntry(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("catalog entry not found: " + code)
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get catalog entry", err)
	}
	return entry, nil
}

// List retrieves all catalog entries ordered by code
func (a *CatalogAdapter) List(ctx context.Context) ([]*entities.CatalogEntry, error) {
	query, args, err := a.db.Select("code", "display_name", "amount", "version", "last_synced_at", "created_at", "updated_at").
		From(catalogTable).
		Order(goqu.I("code").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list catalog entries", err)
	}
	defer rows.Close()

	var entries []*entities.CatalogEntry
	for rows.Next() {
		entry, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan catalog entry", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate catalog entries", err)
	}

	return entries, nil
}

// UpdateAmount overwrites the stored amount behind an optimistic version
// check. A stale expectedVersion yields a conflict error.
func (a *CatalogAdapter) UpdateAmount(ctx context.Context, code string, amount int64, expectedVersion int64) error {
	now := time.Now()

	query, args, err := a.db.Update(catalogTable).
		Set(goqu.Record{
			"amount":         amount,
			"version":        goqu.L("version + 1"),
			"last_synced_at": now,
			"updated_at":     now,
		}).
		Where(goqu.Ex{"code": code, "version": expectedVersion}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update catalog amount", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to read update result", err)
	}
	if affected == 0 {
		return apperrors.NewConflictError("catalog entry changed concurrently: " + code)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCatalogEntry(row rowScanner) (*entities.CatalogEntry, error) {
	var entry entities.CatalogEntry
	var amount sql.NullInt64
	var lastSyncedAt sql.NullTime

	err := row.Scan(
		&entry.Code,
		&entry.DisplayName,
		&amount,
		&entry.Version,
		&lastSyncedAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if amount.Valid {
		entry.Amount = &amount.Int64
	}
	if lastSyncedAt.Valid {
		entry.LastSyncedAt = &lastSyncedAt.Time
	}
	return &entry, nil
}
