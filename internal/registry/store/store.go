// Package store defines the persistence contract for the registry record and
// its transfer ledger.
//
// Error Contract:
// All store methods follow this error pattern:
// - Return sentinel.ErrNotFound (wrapped) when the addressed pet is not registered
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pawbase/internal/registry/models"
	id "pawbase/pkg/domain"
	"pawbase/pkg/platform/sentinel"
)

// StateError reports a transfer refused because the pet's current status does
// not admit the transfer type. It unwraps to sentinel.ErrInvalidState so
// callers matching the sentinel keep working.
type StateError struct {
	Status models.Status
	Type   models.TransferType
}

func (e *StateError) Error() string {
	return fmt.Sprintf("transfer %s not allowed while pet is %s", e.Type, e.Status)
}

func (e *StateError) Unwrap() error { return sentinel.ErrInvalidState }

// TransferApplication is the unit a store must apply atomically: one ledger
// append plus the resulting state update. The two writes must never be
// observable independently; a partial apply is a data-integrity fault.
type TransferApplication struct {
	Entry   models.TransferEntry
	Outcome models.Outcome
}

// Store persists registry records and their append-only ledgers. The
// state-update + ledger-append pair is serialized per pet code by every
// implementation (store-wide mutex in memory, row lock in Postgres).
type Store interface {
	// Find returns the record for a pet code.
	Find(ctx context.Context, code id.PetCode) (*models.RegistryRecord, error)

	// Upsert finds-or-creates the record and merges the supplied identity
	// fields. The created flag reports whether this was first registration.
	Upsert(ctx context.Context, up models.IdentityUpsert, now time.Time) (rec *models.RegistryRecord, created bool, err error)

	// UpdateState merges the supplied custody-state fields.
	UpdateState(ctx context.Context, up models.StateUpdate, now time.Time) (*models.RegistryRecord, error)

	// ApplyTransfer appends the ledger entry and applies the derived state as
	// one unit. When the entry carries an idempotency key already applied to
	// this pet, the original entry is returned with replayed set and nothing
	// is written. The outcome's status preconditions are evaluated against
	// the pet's current status under the same lock as the write; a violation
	// returns a wrapped *StateError.
	ApplyTransfer(ctx context.Context, app TransferApplication, now time.Time) (rec *models.RegistryRecord, entry *models.TransferEntry, replayed bool, err error)

	// History returns all ledger entries for a pet, newest first.
	History(ctx context.Context, code id.PetCode) ([]models.TransferEntry, error)

	// VoidTransfer marks a ledger entry as voided. The row is retained; only
	// the flag changes.
	VoidTransfer(ctx context.Context, code id.PetCode, entryID uuid.UUID, actor id.UserID, now time.Time) error
}
