package entities

import (
	"time"

	apperrors "github.com/medisync/emr-backend/pkg/errors"
)

// PaymentStatus is the lifecycle state of a payment record.
type PaymentStatus string

const (
	PaymentStatusUnpaid    PaymentStatus = "UNPAID"
	PaymentStatusPartial   PaymentStatus = "PARTIAL"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// PaymentMethod is how the patient pays.
type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "CASH"
	PaymentMethodCard     PaymentMethod = "CARD"
	PaymentMethodTransfer PaymentMethod = "TRANSFER"
)

// PaymentRecord is the financial record for one clinical encounter.
// At most one record exists per encounter. It is never deleted;
// cancellation and refund are terminal states, not removal.
//
// Invariant: RemainingAmount == SelfPay - PaidAmount, never negative.
type PaymentRecord struct {
	ID              string        `json:"id" db:"id"`
	EncounterRef    string        `json:"encounter_ref" db:"encounter_ref"`
	PatientRef      string        `json:"patient_ref" db:"patient_ref"`
	Status          PaymentStatus `json:"status" db:"status"`
	TotalAmount     int64         `json:"total_amount" db:"total_amount"`
	SelfPay         int64         `json:"self_pay" db:"self_pay"`
	InsuranceAmount int64         `json:"insurance_amount" db:"insurance_amount"`
	DiscountAmount  int64         `json:"discount_amount" db:"discount_amount"`
	PaidAmount      int64         `json:"paid_amount" db:"paid_amount"`
	RemainingAmount int64         `json:"remaining_amount" db:"remaining_amount"`
	Method          PaymentMethod `json:"method" db:"method"`
	CancelReason    string        `json:"cancel_reason,omitempty" db:"cancel_reason"`
	RefundAmount    *int64        `json:"refund_amount,omitempty" db:"refund_amount"`
	RefundMethod    PaymentMethod `json:"refund_method,omitempty" db:"refund_method"`
	RefundedAt      *time.Time    `json:"refunded_at,omitempty" db:"refunded_at"`
	ApprovalRef     string        `json:"approval_ref,omitempty" db:"approval_ref"`
	CardCompany     string        `json:"card_company,omitempty" db:"card_company"`
	ApprovedAt      *time.Time    `json:"approved_at,omitempty" db:"approved_at"`
	Version         int64         `json:"version" db:"version"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// NewPaymentRecord creates an UNPAID record from a settlement split.
func NewPaymentRecord(id, encounterRef, patientRef string, settlement SettlementResult, method PaymentMethod) *PaymentRecord {
	now := time.Now()
	return &PaymentRecord{
		ID:              id,
		EncounterRef:    encounterRef,
		PatientRef:      patientRef,
		Status:          PaymentStatusUnpaid,
		TotalAmount:     settlement.TotalAmount,
		SelfPay:         settlement.SelfPay,
		InsuranceAmount: settlement.InsuranceAmount,
		DiscountAmount:  settlement.DiscountAmount,
		PaidAmount:      0,
		RemainingAmount: settlement.SelfPay,
		Method:          method,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsTerminal reports whether the record reached a terminal state.
func (p *PaymentRecord) IsTerminal() bool {
	return p.Status == PaymentStatusCancelled || p.Status == PaymentStatusRefunded
}

// IsOutstanding reports whether the record still carries a patient balance.
func (p *PaymentRecord) IsOutstanding() bool {
	return p.Status == PaymentStatusUnpaid || p.Status == PaymentStatusPartial
}

// ApplyPartialPayment records a payment against the outstanding balance.
// Transitions to PAID when the balance reaches zero, PARTIAL otherwise.
func (p *PaymentRecord) ApplyPartialPayment(amount int64) error {
	if amount <= 0 {
		return apperrors.NewValidationError("payment amount must be positive")
	}
	if amount > p.TotalAmount {
		return apperrors.NewValidationError("payment amount exceeds total amount")
	}
	if p.Status == PaymentStatusPaid {
		return apperrors.NewBusinessRuleError("payment is already paid in full")
	}
	if p.IsTerminal() {
		return apperrors.NewBusinessRuleError("payment is " + string(p.Status))
	}
	if amount > p.RemainingAmount {
		return apperrors.NewValidationError("payment amount exceeds remaining balance")
	}

	p.PaidAmount += amount
	p.RemainingAmount = p.SelfPay - p.PaidAmount
	if p.RemainingAmount == 0 {
		p.Status = PaymentStatusPaid
	} else {
		p.Status = PaymentStatusPartial
	}
	p.UpdatedAt = time.Now()
	return nil
}

// Complete force-settles the record in full, regardless of any prior
// partial amount. Used for single-shot full payments at the desk.
func (p *PaymentRecord) Complete(method PaymentMethod, approvalRef, cardCompany string) error {
	if p.Status == PaymentStatusPaid {
		return apperrors.NewBusinessRuleError("payment is already paid in full")
	}
	if p.IsTerminal() {
		return apperrors.NewBusinessRuleError("cannot complete a " + string(p.Status) + " payment")
	}

	now := time.Now()
	p.Status = PaymentStatusPaid
	p.Method = method
	p.ApprovalRef = approvalRef
	p.CardCompany = cardCompany
	p.ApprovedAt = &now
	p.PaidAmount = p.SelfPay
	p.RemainingAmount = 0
	p.UpdatedAt = now
	return nil
}

// Cancel voids the record. Re-cancelling an already cancelled record is
// allowed and overwrites the reason; a refunded record cannot be cancelled.
func (p *PaymentRecord) Cancel(reason string) error {
	if reason == "" {
		return apperrors.NewValidationError("cancel reason is required")
	}
	if p.Status == PaymentStatusRefunded {
		return apperrors.NewBusinessRuleError("cannot cancel a refunded payment")
	}

	p.Status = PaymentStatusCancelled
	p.CancelReason = reason
	p.UpdatedAt = time.Now()
	return nil
}

// Refund returns part or all of the paid amount to the patient.
// Only PAID or PARTIAL records can be refunded.
func (p *PaymentRecord) Refund(amount int64, method PaymentMethod) error {
	if p.Status != PaymentStatusPaid && p.Status != PaymentStatusPartial {
		return apperrors.NewBusinessRuleError("only paid or partially paid payments can be refunded")
	}
	if amount <= 0 {
		return apperrors.NewValidationError("refund amount must be positive")
	}
	if amount > p.PaidAmount {
		return apperrors.NewValidationError("refund amount exceeds paid amount")
	}

	now := time.Now()
	p.Status = PaymentStatusRefunded
	p.RefundAmount = &amount
	p.RefundMethod = method
	p.RefundedAt = &now
	p.PaidAmount -= amount
	p.RemainingAmount = p.SelfPay - p.PaidAmount
	p.UpdatedAt = now
	return nil
}
