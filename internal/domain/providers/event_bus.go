package providers

import (
	"context"

	"github.com/medisync/emr-backend/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to
// payment domain events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.PaymentEvent) error

	// Subscribe subscribes to events on a channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.PaymentEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

// EventChannel constants for different event scopes
const (
	// EventChannelPaymentUpdates is the channel for all payment updates
	EventChannelPaymentUpdates = "payments:updates"

	// EventChannelPatientPrefix is the prefix for patient-specific channels
	EventChannelPatientPrefix = "payments:patient:"
)

// GetPatientChannel returns the channel name for a specific patient
func GetPatientChannel(patientRef string) string {
	return EventChannelPatientPrefix + patientRef
}
