package audit

import (
	"context"
	"time"

	id "pawbase/pkg/domain"
)

// EventCategory classifies custody events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCustody covers events with legal significance for ownership
	// disputes. These require tamper-evident storage and long retention.
	// Examples: ownership transfers, handover completions, deceased records.
	CategoryCustody EventCategory = "custody"

	// CategoryOperations covers events useful for debugging and operational
	// visibility. These can be sampled or aggregated with shorter retention.
	// Examples: identity edits, state corrections, handover scheduling.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key custody actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	PetCode   id.PetCode
	Action    string
	// Actor is the user who performed the action, when known.
	Actor id.UserID
	// PreviousOwner/NewOwner are populated for transfer events.
	PreviousOwner id.UserID
	NewOwner      id.UserID
	TransferType  string
	Reason        string
	// RequestID is the correlation ID from HTTP request context.
	RequestID string
}

type AuditEvent string

const (
	// Registry events
	EventPetRegistered    AuditEvent = "pet_registered"
	EventIdentityUpdated  AuditEvent = "pet_identity_updated"
	EventStateUpdated     AuditEvent = "pet_state_updated"
	EventTransferRecorded AuditEvent = "ownership_transfer_recorded"
	EventTransferVoided   AuditEvent = "ownership_transfer_voided"
	EventDeceasedRecorded AuditEvent = "pet_marked_deceased"

	// Handover events
	EventHandoverScheduled      AuditEvent = "handover_scheduled"
	EventHandoverOTPRegenerated AuditEvent = "handover_otp_regenerated"
	EventHandoverCompleted      AuditEvent = "handover_completed"

	// Temporary care events
	EventCareCheckIn  AuditEvent = "temporary_care_check_in"
	EventCareCheckOut AuditEvent = "temporary_care_check_out"
)

// eventCategories maps each audit event to its category.
// Custody: legal significance for ownership disputes, long retention.
// Operations: debugging and visibility, can be sampled.
var eventCategories = map[AuditEvent]EventCategory{
	EventPetRegistered:     CategoryCustody,
	EventTransferRecorded:  CategoryCustody,
	EventTransferVoided:    CategoryCustody,
	EventDeceasedRecorded:  CategoryCustody,
	EventHandoverCompleted: CategoryCustody,

	EventIdentityUpdated:        CategoryOperations,
	EventStateUpdated:           CategoryOperations,
	EventHandoverScheduled:      CategoryOperations,
	EventHandoverOTPRegenerated: CategoryOperations,
	EventCareCheckIn:            CategoryOperations,
	EventCareCheckOut:           CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Appender is the write half of event persistence. Sinks that cannot be
// queried (message brokers) implement only this.
type Appender interface {
	Append(ctx context.Context, event Event) error
}

// Store persists custody events and supports per-pet retrieval.
type Store interface {
	Appender
	ListByPet(ctx context.Context, petCode id.PetCode) ([]Event, error)
}
