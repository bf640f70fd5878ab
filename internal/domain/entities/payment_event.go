package entities

import "time"

// PaymentEventType identifies what happened to a payment record.
type PaymentEventType string

const (
	PaymentEventCreated   PaymentEventType = "payment.created"
	PaymentEventCompleted PaymentEventType = "payment.completed"
	PaymentEventCancelled PaymentEventType = "payment.cancelled"
	PaymentEventRefunded  PaymentEventType = "payment.refunded"
)

// PaymentEvent is published on every payment mutation and consumed by
// the notification collaborator.
type PaymentEvent struct {
	ID           string           `json:"id"`
	EventType    PaymentEventType `json:"event_type"`
	PaymentID    string           `json:"payment_id"`
	EncounterRef string           `json:"encounter_ref"`
	PatientRef   string           `json:"patient_ref"`
	Amount       int64            `json:"amount"`
	Timestamp    time.Time        `json:"timestamp"`
}
