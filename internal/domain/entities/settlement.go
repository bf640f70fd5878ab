package entities

import "time"

// QualificationTier classifies a patient's insurance or assistance
// eligibility. The tier drives the self-pay rate of a settlement.
type QualificationTier string

const (
	TierBasicLivelihood      QualificationTier = "basic-livelihood"
	TierMedicalAssistanceOne QualificationTier = "medical-assistance-type1"
	TierMedicalAssistanceTwo QualificationTier = "medical-assistance-type2"
	TierInsuranceGeneral     QualificationTier = "insurance-general"
	TierInsuranceClinic      QualificationTier = "insurance-clinic"
	TierInsurancePharmacy    QualificationTier = "insurance-pharmacy"
	TierNone                 QualificationTier = "none"
)

// SelfPayRate returns the fraction of the total fee the patient pays
// out of pocket. Evaluated in strict priority order; unknown tiers pay
// the full amount.
func (t QualificationTier) SelfPayRate() float64 {
	switch t {
	case TierBasicLivelihood:
		return 0.0
	case TierMedicalAssistanceOne:
		return 0.0
	case TierMedicalAssistanceTwo:
		return 0.05
	case TierInsuranceGeneral:
		return 0.2
	case TierInsuranceClinic:
		return 0.3
	case TierInsurancePharmacy:
		return 0.5
	default:
		return 1.0
	}
}

// ContractDiscount is an institutional contract granting a percentage
// discount on the self-pay portion of a patient's settlement.
type ContractDiscount struct {
	PatientRef          string     `json:"patient_ref" db:"patient_ref"`
	DiscountRatePercent int64      `json:"discount_rate_percent" db:"discount_rate_percent"`
	ValidFrom           time.Time  `json:"valid_from" db:"valid_from"`
	ValidUntil          *time.Time `json:"valid_until,omitempty" db:"valid_until"`
}

// IsActiveAt reports whether the contract discount applies at the given time.
func (d *ContractDiscount) IsActiveAt(at time.Time) bool {
	if d.DiscountRatePercent <= 0 {
		return false
	}
	if at.Before(d.ValidFrom) {
		return false
	}
	if d.ValidUntil != nil && at.After(*d.ValidUntil) {
		return false
	}
	return true
}

// SettlementResult is the computed split of a total charge into self-pay
// and insurance-covered portions. It is a pure value, never persisted on
// its own. SelfPay is the post-discount patient obligation; the discount
// never touches the insurance-covered amount.
type SettlementResult struct {
	TotalAmount     int64 `json:"total_amount"`
	SelfPay         int64 `json:"self_pay"`
	InsuranceAmount int64 `json:"insurance_amount"`
	DiscountAmount  int64 `json:"discount_amount"`
}
