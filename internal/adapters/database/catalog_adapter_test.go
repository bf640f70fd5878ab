package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/medisync/emr-backend/internal/domain/entities"
	"github.com/medisync/emr-backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/medisync/emr-backend/pkg/errors"
)

func setupCatalogAdapter(t *testing.T) (*CatalogAdapter, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return NewCatalogAdapter(postgres.NewClientFromDB(mockDB)), mock
}

func catalogColumns() []string {
	return []string{"code", "display_name", "amount", "version", "last_synced_at", "created_at", "updated_at"}
}

func TestCatalogCreate(t *testing.T) {
	adapter, mock := setupCatalogAdapter(t)

	mock.ExpectExec(`INSERT INTO "catalog_entries"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	amount := int64(45000)
	err := adapter.Create(context.Background(), &entities.CatalogEntry{
		Code:        "C1",
		DisplayName: "MRI Scan (Brain)",
		Amount:      &amount,
	})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogCreate_DuplicateCode(t *testing.T) {
	adapter, mock := setupCatalogAdapter(t)

	mock.ExpectExec(`INSERT INTO "catalog_entries"`).
		WillReturnError(&pq.Error{Code: "23505"})

	err := adapter.Create(context.Background(), &entities.CatalogEntry{
		Code:        "C1",
		DisplayName: "MRI Scan (Brain)",
	})

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDuplicate))
}

func TestCatalogGetByCode(t *testing.T) {
	adapter, mock := setupCatalogAdapter(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM "catalog_entries"`).
		WillReturnRows(sqlmock.NewRows(catalogColumns()).
			AddRow("C1", "MRI Scan (Brain)", int64(45000), int64(3), now, now, now))

	entry, err := adapter.GetByCode(context.Background(), "C1")

	assert.NoError(t, err)
	assert.Equal(t, "C1", entry.Code)
	assert.Equal(t, int64(45000), entry.StoredAmount())
	assert.Equal(t, int64(3), entry.Version)
	assert.NotNil(t, entry.LastSyncedAt)
}

func TestCatalogGetByCode_NotFound(t *testing.T) {
	adapter, mock := setupCatalogAdapter(t)

	mock.ExpectQuery(`SELECT .+ FROM "catalog_entries"`).
		WillReturnRows(sqlmock.NewRows(catalogColumns()))

	_, err := adapter.GetByCode(context.Background(), "C404")

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestCatalogGetByCode_NullAmount(t *testing.T) {
	adapter, mock := setupCatalogAdapter(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM "catalog_entries"`).
		WillReturnRows(sqlmock.NewRows(catalogColumns()).
			AddRow("C1", "Sleep Study", nil, int64(1), nil, now, now))

	entry, err := adapter.GetByCode(context.Background(), "C1")

	assert.NoError(t, err)
	assert.False(t, entry.HasAmount())
	assert.Nil(t, entry.LastSyncedAt)
}

func TestCatalogList(t *testing.T) {
	adapter, mock := setupCatalogAdapter(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM "catalog_entries"`).
		WillReturnRows(sqlmock.NewRows(catalogColumns()).
			AddRow("C1", "MRI Scan (Brain)", int64(45000), int64(1), now, now, now).
			AddRow("C2", "Ultrasound", int64(12000), int64(2), now, now, now))

	entries, err := adapter.List(context.Background())

	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, "C1", entries[0].Code)
	assert.Equal(t, "C2", entries[1].Code)
}

func TestCatalogUpdateAmount(t *testing.T) {
	adapter, mock := setupCatalogAdapter(t)

	mock.ExpectExec(`UPDATE "catalog_entries"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := adapter.UpdateAmount(context.Background(), "C1", 47000, 3)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogUpdateAmount_StaleVersionConflicts(t *testing.T) {
	adapter, mock := setupCatalogAdapter(t)

	mock.ExpectExec(`UPDATE "catalog_entries"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := adapter.UpdateAmount(context.Background(), "C1", 47000, 2)

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
}
