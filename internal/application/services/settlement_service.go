package services

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medisync/emr-backend/internal/domain/entities"
	"github.com/medisync/emr-backend/internal/domain/providers"
)

// SettlementCalculator splits a raw total fee into self-pay and
// insurance-covered portions and applies any active contract discount
// to the self-pay side.
type SettlementCalculator struct {
	qualifications providers.QualificationLookup
	contracts      providers.ContractLookup
}

// NewSettlementCalculator creates a new settlement calculator
func NewSettlementCalculator(qualifications providers.QualificationLookup, contracts providers.ContractLookup) *SettlementCalculator {
	return &SettlementCalculator{
		qualifications: qualifications,
		contracts:      contracts,
	}
}

// Calculate is the pure settlement computation. The discount applies
// only to the self-pay portion, never to the insurance-covered amount,
// and can at most zero out the self-pay.
func (c *SettlementCalculator) Calculate(totalFee int64, tier entities.QualificationTier, discount *entities.ContractDiscount) entities.SettlementResult {
	rate := tier.SelfPayRate()

	selfPayRaw := int64(math.Round(float64(totalFee) * rate))
	insurance := totalFee - selfPayRaw

	var discountAmount int64
	if discount != nil && discount.IsActiveAt(time.Now()) {
		discountAmount = int64(math.Round(float64(selfPayRaw) * float64(discount.DiscountRatePercent) / 100.0))
		if discountAmount > selfPayRaw {
			discountAmount = selfPayRaw
		}
	}

	finalSelfPay := selfPayRaw - discountAmount
	if finalSelfPay < 0 {
		finalSelfPay = 0
	}

	return entities.SettlementResult{
		TotalAmount:     totalFee,
		SelfPay:         finalSelfPay,
		InsuranceAmount: insurance,
		DiscountAmount:  discountAmount,
	}
}

// CalculateForPatient resolves the patient's qualification tier and
// active contract through the collaborators, then computes the
// settlement. A missing or failing qualification degrades to the
// full-self-pay tier; a failing contract lookup means no discount.
func (c *SettlementCalculator) CalculateForPatient(ctx context.Context, patientRef string, totalFee int64) entities.SettlementResult {
	tier := entities.TierNone
	if c.qualifications != nil {
		resolved, err := c.qualifications.GetTier(ctx, patientRef)
		if err != nil {
			log.Warn().Str("patient", patientRef).Err(err).Msg("qualification lookup failed, assuming no coverage")
		} else if resolved != "" {
			tier = resolved
		}
	}

	var discount *entities.ContractDiscount
	if c.contracts != nil {
		active, err := c.contracts.GetActiveDiscount(ctx, patientRef)
		if err != nil {
			log.Warn().Str("patient", patientRef).Err(err).Msg("contract lookup failed, skipping discount")
		} else {
			discount = active
		}
	}

	return c.Calculate(totalFee, tier, discount)
}
