package providers

import (
	"context"

	"github.com/medisync/emr-backend/internal/domain/entities"
)

// QualificationLookup resolves a patient's insurance/assistance tier.
// Implementations live outside this module; an absent qualification is
// reported as TierNone, not an error.
type QualificationLookup interface {
	GetTier(ctx context.Context, patientRef string) (entities.QualificationTier, error)
}

// ContractLookup resolves the active contract discount for a patient,
// if any. A nil discount with a nil error means no active contract.
type ContractLookup interface {
	GetActiveDiscount(ctx context.Context, patientRef string) (*entities.ContractDiscount, error)
}

// EncounterLookup exposes the clinical state of an encounter. Payment
// registration requires the encounter to be clinically completed.
type EncounterLookup interface {
	IsCompleted(ctx context.Context, encounterRef string) (bool, error)
}
