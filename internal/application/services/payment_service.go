package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/medisync/emr-backend/internal/domain/entities"
	"github.com/medisync/emr-backend/internal/domain/providers"
	"github.com/medisync/emr-backend/internal/domain/repositories"
	apperrors "github.com/medisync/emr-backend/pkg/errors"
)

const (
	cachePrefixPayment   = "payment:"
	cachePrefixEncounter = "payment:encounter:"
	cachePrefixPatient   = "payment:patient:"

	paymentCacheTTLSeconds = 60 * 60
	updateRetryAttempts    = 3
	firstPageLimit         = 20
	unpaidScanLimit        = 200
)

// PaymentService owns the payment record lifecycle: registration,
// partial payments, completion, cancellation and refunds. All mutations
// commit behind an optimistic version check, invalidate the read caches
// and publish a domain event for the notification collaborator.
type PaymentService struct {
	payments   repositories.PaymentRepository
	encounters providers.EncounterLookup
	cache      providers.CacheProvider
	events     providers.EventBus
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	payments repositories.PaymentRepository,
	encounters providers.EncounterLookup,
	cache providers.CacheProvider,
	events providers.EventBus,
) *PaymentService {
	return &PaymentService{
		payments:   payments,
		encounters: encounters,
		cache:      cache,
		events:     events,
	}
}

// Register creates the payment record for a completed encounter. At
// most one record may exist per encounter; a second registration fails
// with a duplicate error.
func (s *PaymentService) Register(ctx context.Context, encounterRef, patientRef string, settlement entities.SettlementResult, method entities.PaymentMethod) (*entities.PaymentRecord, error) {
	completed, err := s.encounters.IsCompleted(ctx, encounterRef)
	if err != nil {
		return nil, err
	}
	if !completed {
		return nil, apperrors.NewBusinessRuleError("encounter is not clinically completed: " + encounterRef)
	}

	record := entities.NewPaymentRecord(uuid.NewString(), encounterRef, patientRef, settlement, method)

	// The unique constraint on encounter_ref backs this up under races.
	if err := s.payments.Create(ctx, record); err != nil {
		return nil, err
	}

	s.invalidateCaches(ctx, record)
	s.publish(ctx, entities.PaymentEventCreated, record, record.SelfPay)

	return record, nil
}

// GetByID retrieves a payment record through the read cache
func (s *PaymentService) GetByID(ctx context.Context, id string) (*entities.PaymentRecord, error) {
	cacheKey := cachePrefixPayment + id

	if record, ok := s.readCachedRecord(ctx, cacheKey); ok {
		return record, nil
	}

	record, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.writeCachedRecord(ctx, cacheKey, record)
	return record, nil
}

// GetByEncounter retrieves the payment record for an encounter through
// the read cache
func (s *PaymentService) GetByEncounter(ctx context.Context, encounterRef string) (*entities.PaymentRecord, error) {
	cacheKey := cachePrefixEncounter + encounterRef

	if record, ok := s.readCachedRecord(ctx, cacheKey); ok {
		return record, nil
	}

	record, err := s.payments.GetByEncounter(ctx, encounterRef)
	if err != nil {
		return nil, err
	}

	s.writeCachedRecord(ctx, cacheKey, record)
	return record, nil
}

// ListByPatient retrieves a patient's payment records, newest first.
// Only the first default-sized page is cached.
func (s *PaymentService) ListByPatient(ctx context.Context, patientRef string, limit, offset int) ([]*entities.PaymentRecord, error) {
	cacheFirstPage := offset == 0 && limit > 0 && limit <= firstPageLimit
	cacheKey := cachePrefixPatient + patientRef + ":page:0"

	if cacheFirstPage {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var records []*entities.PaymentRecord
			if err := json.Unmarshal(data, &records); err == nil {
				return records, nil
			}
		}
	}

	records, err := s.payments.ListByPatient(ctx, patientRef, limit, offset)
	if err != nil {
		return nil, err
	}

	if cacheFirstPage {
		if data, err := json.Marshal(records); err == nil {
			if err := s.cache.Set(ctx, cacheKey, data, paymentCacheTTLSeconds); err != nil {
				log.Warn().Str("patient", patientRef).Err(err).Msg("failed to cache patient payments")
			}
		}
	}

	return records, nil
}

// ListOutstandingByPatient returns the patient's records that still
// carry an unpaid balance (UNPAID or PARTIAL).
func (s *PaymentService) ListOutstandingByPatient(ctx context.Context, patientRef string) ([]*entities.PaymentRecord, error) {
	records, err := s.payments.ListByPatient(ctx, patientRef, unpaidScanLimit, 0)
	if err != nil {
		return nil, err
	}

	outstanding := make([]*entities.PaymentRecord, 0, len(records))
	for _, record := range records {
		if record.IsOutstanding() {
			outstanding = append(outstanding, record)
		}
	}
	return outstanding, nil
}

// RecordPartialPayment applies a payment against the outstanding
// balance. Completion of the balance transitions the record to PAID and
// emits the completed event.
func (s *PaymentService) RecordPartialPayment(ctx context.Context, id string, amount int64) (*entities.PaymentRecord, error) {
	record, err := s.mutate(ctx, id, func(record *entities.PaymentRecord) error {
		return record.ApplyPartialPayment(amount)
	})
	if err != nil {
		return nil, err
	}

	if record.Status == entities.PaymentStatusPaid {
		s.publish(ctx, entities.PaymentEventCompleted, record, record.PaidAmount)
	}
	return record, nil
}

// CompletePayment force-settles the record in full and stores the
// approval metadata.
func (s *PaymentService) CompletePayment(ctx context.Context, id string, method entities.PaymentMethod, approvalRef, cardCompany string) (*entities.PaymentRecord, error) {
	record, err := s.mutate(ctx, id, func(record *entities.PaymentRecord) error {
		return record.Complete(method, approvalRef, cardCompany)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, entities.PaymentEventCompleted, record, record.PaidAmount)
	return record, nil
}

// CancelPayment voids the record with a mandatory reason.
func (s *PaymentService) CancelPayment(ctx context.Context, id, reason string) (*entities.PaymentRecord, error) {
	record, err := s.mutate(ctx, id, func(record *entities.PaymentRecord) error {
		return record.Cancel(reason)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, entities.PaymentEventCancelled, record, 0)
	return record, nil
}

// RefundPayment returns part or all of the paid amount to the patient.
func (s *PaymentService) RefundPayment(ctx context.Context, id string, amount int64, method entities.PaymentMethod) (*entities.PaymentRecord, error) {
	record, err := s.mutate(ctx, id, func(record *entities.PaymentRecord) error {
		return record.Refund(amount, method)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, entities.PaymentEventRefunded, record, amount)
	return record, nil
}

// mutate loads the record, applies fn and commits behind the version
// check, retrying on concurrent-update conflicts. Two racing partial
// payments therefore serialize instead of losing an update.
func (s *PaymentService) mutate(ctx context.Context, id string, fn func(*entities.PaymentRecord) error) (*entities.PaymentRecord, error) {
	for attempt := 1; attempt <= updateRetryAttempts; attempt++ {
		record, err := s.payments.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := fn(record); err != nil {
			return nil, err
		}

		err = s.payments.Update(ctx, record, record.Version)
		if err == nil {
			s.invalidateCaches(ctx, record)
			return record, nil
		}
		if !apperrors.IsType(err, apperrors.ErrorTypeConflict) {
			return nil, err
		}

		log.Warn().Str("payment", id).Int("attempt", attempt).Msg("concurrent payment update, retrying")
	}
	return nil, apperrors.NewConflictError("payment kept changing concurrently: " + id)
}

func (s *PaymentService) readCachedRecord(ctx context.Context, key string) (*entities.PaymentRecord, bool) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var record entities.PaymentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, false
	}
	return &record, true
}

func (s *PaymentService) writeCachedRecord(ctx context.Context, key string, record *entities.PaymentRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, paymentCacheTTLSeconds); err != nil {
		log.Warn().Str("key", key).Err(err).Msg("failed to cache payment record")
	}
}

// invalidateCaches drops every cached projection of the record.
// Best-effort: a failed invalidation only shortens cache correctness,
// not ledger correctness.
func (s *PaymentService) invalidateCaches(ctx context.Context, record *entities.PaymentRecord) {
	if err := s.cache.Delete(ctx, cachePrefixPayment+record.ID); err != nil {
		log.Warn().Str("payment", record.ID).Err(err).Msg("failed to invalidate payment cache")
	}
	if err := s.cache.Delete(ctx, cachePrefixEncounter+record.EncounterRef); err != nil {
		log.Warn().Str("encounter", record.EncounterRef).Err(err).Msg("failed to invalidate encounter cache")
	}
	if err := s.cache.DeletePattern(ctx, cachePrefixPatient+record.PatientRef+":*"); err != nil {
		log.Warn().Str("patient", record.PatientRef).Err(err).Msg("failed to invalidate patient listing cache")
	}
}

func (s *PaymentService) publish(ctx context.Context, eventType entities.PaymentEventType, record *entities.PaymentRecord, amount int64) {
	event := &entities.PaymentEvent{
		ID:           uuid.NewString(),
		EventType:    eventType,
		PaymentID:    record.ID,
		EncounterRef: record.EncounterRef,
		PatientRef:   record.PatientRef,
		Amount:       amount,
		Timestamp:    time.Now(),
	}

	if err := s.events.Publish(ctx, providers.EventChannelPaymentUpdates, event); err != nil {
		log.Warn().Str("payment", record.ID).Str("event", string(eventType)).Err(err).Msg("failed to publish payment event")
	}
	if err := s.events.Publish(ctx, providers.GetPatientChannel(record.PatientRef), event); err != nil {
		log.Warn().Str("payment", record.ID).Str("event", string(eventType)).Err(err).Msg("failed to publish patient payment event")
	}
}
