package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/medisync/emr-backend/internal/domain/entities"
	"github.com/medisync/emr-backend/internal/infrastructure/clients/feeschedule"
	apperrors "github.com/medisync/emr-backend/pkg/errors"
)

func detailResponse(code string, amount int64) *feeschedule.DetailResponse {
	return &feeschedule.DetailResponse{
		Items: []feeschedule.DetailItem{
			{Code: code, InstitutionName: "Seoul Clinic", Amount: amountPtr(amount)},
		},
	}
}

func detailRequestFor(code string) any {
	return mock.MatchedBy(func(req feeschedule.DetailRequest) bool {
		return req.Code == code
	})
}

func TestRegisterCode_PricesImmediately(t *testing.T) {
	client := new(MockFeeClient)
	repo := new(MockCatalogRepo)
	resolver := NewFeeResolverService(client, repo, newFakeCache(), "Seoul Clinic", 0)
	syncService := NewFeeSyncService(resolver, repo, 1)

	priced := &entities.CatalogEntry{Code: "C9", DisplayName: "Sleep Study", Amount: amountPtr(300000), Version: 2}

	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	client.On("LookupDetail", mock.Anything, mock.Anything).Return(detailResponse("C9", 300000), nil)
	repo.On("UpdateAmount", mock.Anything, "C9", int64(300000), int64(1)).Return(nil)
	repo.On("GetByCode", mock.Anything, "C9").Return(priced, nil)
	// Background full pass after registration.
	repo.On("List", mock.Anything).Return([]*entities.CatalogEntry{}, nil)

	entry, err := syncService.RegisterCode(testCtx(), "C9", "Sleep Study")

	assert.NoError(t, err)
	assert.Equal(t, int64(300000), entry.StoredAmount())
	repo.AssertCalled(t, "UpdateAmount", mock.Anything, "C9", int64(300000), int64(1))
}

func TestRegisterCode_DuplicateCode(t *testing.T) {
	client := new(MockFeeClient)
	repo := new(MockCatalogRepo)
	resolver := NewFeeResolverService(client, repo, newFakeCache(), "Seoul Clinic", 0)
	syncService := NewFeeSyncService(resolver, repo, 1)

	repo.On("Create", mock.Anything, mock.Anything).
		Return(apperrors.NewDuplicateError("catalog entry already exists for code C1"))

	_, err := syncService.RegisterCode(testCtx(), "C1", "MRI Scan (Brain)")

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDuplicate))
}

func TestSyncOne_WritesDrift(t *testing.T) {
	client := new(MockFeeClient)
	repo := new(MockCatalogRepo)
	resolver := NewFeeResolverService(client, repo, newFakeCache(), "Seoul Clinic", 0)
	syncService := NewFeeSyncService(resolver, repo, 1)

	entry := &entities.CatalogEntry{Code: "C1", Amount: amountPtr(40000), Version: 3}
	repo.On("GetByCode", mock.Anything, "C1").Return(entry, nil)
	client.On("LookupDetail", mock.Anything, mock.Anything).Return(detailResponse("C1", 45000), nil)
	repo.On("UpdateAmount", mock.Anything, "C1", int64(45000), int64(3)).Return(nil)

	err := syncService.SyncOne(testCtx(), "C1")

	assert.NoError(t, err)
	repo.AssertCalled(t, "UpdateAmount", mock.Anything, "C1", int64(45000), int64(3))
}

func TestSyncOne_UnchangedSkipsWrite(t *testing.T) {
	client := new(MockFeeClient)
	repo := new(MockCatalogRepo)
	resolver := NewFeeResolverService(client, repo, newFakeCache(), "Seoul Clinic", 0)
	syncService := NewFeeSyncService(resolver, repo, 1)

	entry := &entities.CatalogEntry{Code: "C1", Amount: amountPtr(45000), Version: 3}
	repo.On("GetByCode", mock.Anything, "C1").Return(entry, nil)
	client.On("LookupDetail", mock.Anything, mock.Anything).Return(detailResponse("C1", 45000), nil)

	err := syncService.SyncOne(testCtx(), "C1")

	assert.NoError(t, err)
	repo.AssertNotCalled(t, "UpdateAmount", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncOne_LiveLookupsDownSkipsWrite(t *testing.T) {
	client := new(MockFeeClient)
	repo := new(MockCatalogRepo)
	resolver := NewFeeResolverService(client, repo, newFakeCache(), "Seoul Clinic", 0)
	syncService := NewFeeSyncService(resolver, repo, 1)

	entry := &entities.CatalogEntry{Code: "C1", Amount: amountPtr(40000), Version: 3}
	repo.On("GetByCode", mock.Anything, "C1").Return(entry, nil)
	client.On("LookupDetail", mock.Anything, mock.Anything).
		Return(nil, &feeschedule.APIError{Code: feeschedule.ResultCodeServiceError, Message: "upstream down"})
	client.On("LookupSummary", mock.Anything, mock.Anything).
		Return(nil, &feeschedule.APIError{Code: feeschedule.ResultCodeServiceError, Message: "upstream down"})

	// The resolver falls back to the catalog itself here, which is not
	// new information; nothing gets written.
	err := syncService.SyncOne(testCtx(), "C1")

	assert.NoError(t, err)
	repo.AssertNotCalled(t, "UpdateAmount", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWriteAmount_RetriesOnConflict(t *testing.T) {
	client := new(MockFeeClient)
	repo := new(MockCatalogRepo)
	resolver := NewFeeResolverService(client, repo, newFakeCache(), "Seoul Clinic", 0)
	syncService := NewFeeSyncService(resolver, repo, 1)

	entry := &entities.CatalogEntry{Code: "C1", Amount: amountPtr(40000), Version: 3}
	reloaded := &entities.CatalogEntry{Code: "C1", Amount: amountPtr(41000), Version: 4}

	repo.On("UpdateAmount", mock.Anything, "C1", int64(45000), int64(3)).
		Return(apperrors.NewConflictError("stale version")).Once()
	repo.On("GetByCode", mock.Anything, "C1").Return(reloaded, nil).Once()
	repo.On("UpdateAmount", mock.Anything, "C1", int64(45000), int64(4)).Return(nil).Once()

	err := syncService.writeAmount(context.Background(), entry, 45000)

	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestWriteAmount_ConcurrentWriterAlreadyLanded(t *testing.T) {
	client := new(MockFeeClient)
	repo := new(MockCatalogRepo)
	resolver := NewFeeResolverService(client, repo, newFakeCache(), "Seoul Clinic", 0)
	syncService := NewFeeSyncService(resolver, repo, 1)

	entry := &entities.CatalogEntry{Code: "C1", Amount: amountPtr(40000), Version: 3}
	reloaded := &entities.CatalogEntry{Code: "C1", Amount: amountPtr(45000), Version: 4}

	repo.On("UpdateAmount", mock.Anything, "C1", int64(45000), int64(3)).
		Return(apperrors.NewConflictError("stale version")).Once()
	repo.On("GetByCode", mock.Anything, "C1").Return(reloaded, nil).Once()

	err := syncService.writeAmount(context.Background(), entry, 45000)

	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestSyncAll_IsolatesFailures(t *testing.T) {
	client := new(MockFeeClient)
	repo := new(MockCatalogRepo)
	resolver := NewFeeResolverService(client, repo, newFakeCache(), "Seoul Clinic", 0)
	syncService := NewFeeSyncService(resolver, repo, 2)

	entries := []*entities.CatalogEntry{
		{Code: "C1", Amount: amountPtr(40000), Version: 1},
		{Code: "C2", Amount: amountPtr(45000), Version: 1},
		{Code: "C3", Amount: amountPtr(10000), Version: 1},
	}
	repo.On("List", mock.Anything).Return(entries, nil)

	// C1 drifts and syncs cleanly.
	client.On("LookupDetail", mock.Anything, detailRequestFor("C1")).Return(detailResponse("C1", 42000), nil)
	repo.On("UpdateAmount", mock.Anything, "C1", int64(42000), int64(1)).Return(nil)

	// C2 matches the stored amount.
	client.On("LookupDetail", mock.Anything, detailRequestFor("C2")).Return(detailResponse("C2", 45000), nil)

	// C3 drifts but storage rejects every write.
	client.On("LookupDetail", mock.Anything, detailRequestFor("C3")).Return(detailResponse("C3", 11000), nil)
	repo.On("UpdateAmount", mock.Anything, "C3", int64(11000), int64(1)).
		Return(apperrors.NewInternalError("write failed", nil))

	summary, err := syncService.SyncAll(testCtx())

	assert.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 1, summary.Unchanged)
	assert.Equal(t, 1, summary.Failed)
}

func TestSyncAll_EmptyCatalog(t *testing.T) {
	client := new(MockFeeClient)
	repo := new(MockCatalogRepo)
	resolver := NewFeeResolverService(client, repo, newFakeCache(), "Seoul Clinic", 0)
	syncService := NewFeeSyncService(resolver, repo, 2)

	repo.On("List", mock.Anything).Return([]*entities.CatalogEntry{}, nil)

	summary, err := syncService.SyncAll(testCtx())

	assert.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
}
