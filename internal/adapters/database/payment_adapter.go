package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/lib/pq"

	"github.com/medisync/emr-backend/internal/domain/entities"
	"github.com/medisync/emr-backend/internal/domain/repositories"
	"github.com/medisync/emr-backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/medisync/emr-backend/pkg/errors"
)

const paymentTable = "payments"

var paymentColumns = []any{
	"id", "encounter_ref", "patient_ref", "status",
	"total_amount", "self_pay", "insurance_amount", "discount_amount",
	"paid_amount", "remaining_amount", "method",
	"cancel_reason", "refund_amount", "refund_method", "refunded_at",
	"approval_ref", "card_company", "approved_at",
	"version", "created_at", "updated_at",
}

// PaymentAdapter implements PaymentRepository
type PaymentAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

var _ repositories.PaymentRepository = (*PaymentAdapter)(nil)

// NewPaymentAdapter creates a new payment adapter
func NewPaymentAdapter(client *postgres.Client) *PaymentAdapter {
	return &PaymentAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Create persists a new payment record. The unique constraint on
// encounter_ref guarantees at most one record per encounter even under
// concurrent registration.
func (a *PaymentAdapter) Create(ctx context.Context, record *entities.PaymentRecord) error {
	row := goqu.Record{
		"id":               record.ID,
		"encounter_ref":    record.EncounterRef,
		"patient_ref":      record.PatientRef,
		"status":           record.Status,
		"total_amount":     record.TotalAmount,
		"self_pay":         record.SelfPay,
		"insurance_amount": record.InsuranceAmount,
		"discount_amount":  record.DiscountAmount,
		"paid_amount":      record.PaidAmount,
		"remaining_amount": record.RemainingAmount,
		"method":           record.Method,
		"cancel_reason":    sql.NullString{String: record.CancelReason, Valid: record.CancelReason != ""},
		"refund_amount":    record.RefundAmount,
		"refund_method":    sql.NullString{String: string(record.RefundMethod), Valid: record.RefundMethod != ""},
		"refunded_at":      record.RefundedAt,
		"approval_ref":     sql.NullString{String: record.ApprovalRef, Valid: record.ApprovalRef != ""},
		"card_company":     sql.NullString{String: record.CardCompany, Valid: record.CardCompany != ""},
		"approved_at":      record.ApprovedAt,
		"version":          record.Version,
		"created_at":       record.CreatedAt,
		"updated_at":       record.UpdatedAt,
	}

	query, args, err := a.db.Insert(paymentTable).Rows(row).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewDuplicateError("payment already registered for encounter " + record.EncounterRef)
		}
		return apperrors.NewInternalError("failed to create payment record", err)
	}

	return nil
}

// GetByID retrieves a payment record by id
func (a *PaymentAdapter) GetByID(ctx context.Context, id string) (*entities.PaymentRecord, error) {
	query, args, err := a.db.Select(paymentColumns...).
		From(paymentTable).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	record, err := scanPaymentRecord(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("payment not found: " + id)
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get payment record", err)
	}
	return record, nil
}

// GetByEncounter retrieves the payment record for an encounter
func (a *PaymentAdapter) GetByEncounter(ctx context.Context, encounterRef string) (*entities.PaymentRecord, error) {
	query, args, err := a.db.Select(paymentColumns...).
		From(paymentTable).
		Where(goqu.Ex{"encounter_ref": encounterRef}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	record, err := scanPaymentRecord(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("no payment for encounter: " + encounterRef)
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get payment record", err)
	}
	return record, nil
}

// ListByPatient retrieves payment records for a patient, newest first
func (a *PaymentAdapter) ListByPatient(ctx context.Context, patientRef string, limit, offset int) ([]*entities.PaymentRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query, args, err := a.db.Select(paymentColumns...).
		From(paymentTable).
		Where(goqu.Ex{"patient_ref": patientRef}).
		Order(goqu.I("created_at").Desc()).
		Limit(uint(limit)).
		Offset(uint(offset)).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list payment records", err)
	}
	defer rows.Close()

	var records []*entities.PaymentRecord
	for rows.Next() {
		record, err := scanPaymentRecord(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan payment record", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate payment records", err)
	}

	return records, nil
}

// Update commits a mutated record behind an optimistic version check.
// A stale expectedVersion yields a conflict error; on success the
// in-memory record's Version is bumped to match storage.
func (a *PaymentAdapter) Update(ctx context.Context, record *entities.PaymentRecord, expectedVersion int64) error {
	query, args, err := a.db.Update(paymentTable).
		Set(goqu.Record{
			"status":           record.Status,
			"paid_amount":      record.PaidAmount,
			"remaining_amount": record.RemainingAmount,
			"method":           record.Method,
			"cancel_reason":    sql.NullString{String: record.CancelReason, Valid: record.CancelReason != ""},
			"refund_amount":    record.RefundAmount,
			"refund_method":    sql.NullString{String: string(record.RefundMethod), Valid: record.RefundMethod != ""},
			"refunded_at":      record.RefundedAt,
			"approval_ref":     sql.NullString{String: record.ApprovalRef, Valid: record.ApprovalRef != ""},
			"card_company":     sql.NullString{String: record.CardCompany, Valid: record.CardCompany != ""},
			"approved_at":      record.ApprovedAt,
			"version":          goqu.L("version + 1"),
			"updated_at":       time.Now(),
		}).
		Where(goqu.Ex{"id": record.ID, "version": expectedVersion}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update payment record", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to read update result", err)
	}
	if affected == 0 {
		return apperrors.NewConflictError("payment record changed concurrently: " + record.ID)
	}

	record.Version = expectedVersion + 1
	return nil
}

func scanPaymentRecord(row rowScanner) (*entities.PaymentRecord, error) {
	var record entities.PaymentRecord
	var cancelReason, refundMethod, approvalRef, cardCompany sql.NullString
	var refundAmount sql.NullInt64
	var refundedAt, approvedAt sql.NullTime

	err := row.Scan(
		&record.ID,
		&record.EncounterRef,
		&record.PatientRef,
		&record.Status,
		&record.TotalAmount,
		&record.SelfPay,
		&record.InsuranceAmount,
		&record.DiscountAmount,
		&record.PaidAmount,
		&record.RemainingAmount,
		&record.Method,
		&cancelReason,
		&refundAmount,
		&refundMethod,
		&refundedAt,
		&approvalRef,
		&cardCompany,
		&approvedAt,
		&record.Version,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.CancelReason = cancelReason.String
	record.RefundMethod = entities.PaymentMethod(refundMethod.String)
	record.ApprovalRef = approvalRef.String
	record.CardCompany = cardCompany.String
	if refundAmount.Valid {
		record.RefundAmount = &refundAmount.Int64
	}
	if refundedAt.Valid {
		record.RefundedAt = &refundedAt.Time
	}
	if approvedAt.Valid {
		record.ApprovedAt = &approvedAt.Time
	}
	return &record, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique
// constraint violation (SQLSTATE 23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
