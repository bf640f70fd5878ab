package repositories

import (
	"context"

	"github.com/medisync/emr-backend/internal/domain/entities"
)

// PaymentRepository defines operations for payment record storage
type PaymentRepository interface {
	// Create persists a new record. A second record for the same
	// encounter yields a duplicate error.
	Create(ctx context.Context, record *entities.PaymentRecord) error

	GetByID(ctx context.Context, id string) (*entities.PaymentRecord, error)
	GetByEncounter(ctx context.Context, encounterRef string) (*entities.PaymentRecord, error)
	ListByPatient(ctx context.Context, patientRef string, limit, offset int) ([]*entities.PaymentRecord, error)

	// Update commits a mutated record if and only if it still carries
	// expectedVersion in storage (optimistic concurrency). A stale
	// version yields a conflict error; on success the record's Version
	// is bumped to the stored value.
	Update(ctx context.Context, record *entities.PaymentRecord, expectedVersion int64) error
}
