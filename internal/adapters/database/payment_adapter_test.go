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

func setupPaymentAdapter(t *testing.T) (*PaymentAdapter, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return NewPaymentAdapter(postgres.NewClientFromDB(mockDB)), mock
}

func paymentColumnNames() []string {
	return []string{
		"id", "encounter_ref", "patient_ref", "status",
		"total_amount", "self_pay", "insurance_amount", "discount_amount",
		"paid_amount", "remaining_amount", "method",
		"cancel_reason", "refund_amount", "refund_method", "refunded_at",
		"approval_ref", "card_company", "approved_at",
		"version", "created_at", "updated_at",
	}
}

func addPaymentRow(rows *sqlmock.Rows, id, status string, version int64, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, "enc-1", "pat-1", status,
		int64(100000), int64(20000), int64(80000), int64(0),
		int64(0), int64(20000), "CARD",
		nil, nil, nil, nil,
		nil, nil, nil,
		version, now, now,
	)
}

func testPaymentRecord() *entities.PaymentRecord {
	return entities.NewPaymentRecord("pay-1", "enc-1", "pat-1", entities.SettlementResult{
		TotalAmount:     100000,
		SelfPay:         20000,
		InsuranceAmount: 80000,
	}, entities.PaymentMethodCard)
}

func TestPaymentCreate(t *testing.T) {
	adapter, mock := setupPaymentAdapter(t)

	mock.ExpectExec(`INSERT INTO "payments"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := adapter.Create(context.Background(), testPaymentRecord())

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentCreate_DuplicateEncounter(t *testing.T) {
	adapter, mock := setupPaymentAdapter(t)

	mock.ExpectExec(`INSERT INTO "payments"`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "payments_encounter_unique"})

	err := adapter.Create(context.Background(), testPaymentRecord())

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDuplicate))
}

func TestPaymentGetByID(t *testing.T) {
	adapter, mock := setupPaymentAdapter(t)
	now := time.Now()

	rows := sqlmock.NewRows(paymentColumnNames())
	addPaymentRow(rows, "pay-1", "UNPAID", 1, now)
	mock.ExpectQuery(`SELECT .+ FROM "payments"`).WillReturnRows(rows)

	record, err := adapter.GetByID(context.Background(), "pay-1")

	assert.NoError(t, err)
	assert.Equal(t, "pay-1", record.ID)
	assert.Equal(t, entities.PaymentStatusUnpaid, record.Status)
	assert.Equal(t, int64(20000), record.RemainingAmount)
	assert.Nil(t, record.RefundAmount)
	assert.Nil(t, record.ApprovedAt)
}

func TestPaymentGetByID_NotFound(t *testing.T) {
	adapter, mock := setupPaymentAdapter(t)

	mock.ExpectQuery(`SELECT .+ FROM "payments"`).
		WillReturnRows(sqlmock.NewRows(paymentColumnNames()))

	_, err := adapter.GetByID(context.Background(), "pay-404")

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestPaymentGetByEncounter_NotFound(t *testing.T) {
	adapter, mock := setupPaymentAdapter(t)

	mock.ExpectQuery(`SELECT .+ FROM "payments"`).
		WillReturnRows(sqlmock.NewRows(paymentColumnNames()))

	_, err := adapter.GetByEncounter(context.Background(), "enc-404")

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestPaymentListByPatient(t *testing.T) {
	adapter, mock := setupPaymentAdapter(t)
	now := time.Now()

	rows := sqlmock.NewRows(paymentColumnNames())
	addPaymentRow(rows, "pay-2", "PAID", 2, now)
	addPaymentRow(rows, "pay-1", "UNPAID", 1, now.Add(-time.Hour))
	mock.ExpectQuery(`SELECT .+ FROM "payments"`).WillReturnRows(rows)

	records, err := adapter.ListByPatient(context.Background(), "pat-1", 20, 0)

	assert.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, "pay-2", records[0].ID)
}

func TestPaymentUpdate(t *testing.T) {
	adapter, mock := setupPaymentAdapter(t)

	mock.ExpectExec(`UPDATE "payments"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	record := testPaymentRecord()
	assert.NoError(t, record.ApplyPartialPayment(5000))

	err := adapter.Update(context.Background(), record, 1)

	assert.NoError(t, err)
	assert.Equal(t, int64(2), record.Version)
}

func TestPaymentUpdate_StaleVersionConflicts(t *testing.T) {
	adapter, mock := setupPaymentAdapter(t)

	mock.ExpectExec(`UPDATE "payments"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	record := testPaymentRecord()
	err := adapter.Update(context.Background(), record, 1)

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
	assert.Equal(t, int64(1), record.Version)
}
