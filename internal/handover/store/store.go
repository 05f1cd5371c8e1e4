// Package store defines persistence for handover records.
//
// Error Contract:
// All store methods follow this error pattern:
// - Return sentinel.ErrNotFound (wrapped) when no record exists for the key
// - Return sentinel.ErrAlreadyUsed / ErrExpired / ErrInvalidState from Consume
// - Return sentinel.ErrConflict (wrapped) from Save on a version mismatch
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures
package store

import (
	"context"
	"time"

	"pawbase/internal/handover/models"
	id "pawbase/pkg/domain"
)

// Store persists handover records keyed by (application, kind). Consume is a
// compare-and-set: of two concurrent calls with the same live code, exactly
// one wins.
type Store interface {
	// Find returns the record for an application and kind.
	Find(ctx context.Context, appID id.ApplicationID, kind models.Kind) (*models.HandoverRecord, error)

	// Save creates or replaces the record. Schedule and regeneration go
	// through here; completed records are refused with ErrInvalidState. The
	// record's Version must match the stored one (zero for creation) or the
	// save is refused with ErrConflict; on success the incremented version
	// is written back to rec.
	Save(ctx context.Context, rec *models.HandoverRecord, now time.Time) error

	// Consume validates the code against the record and marks it used as one
	// atomic step. The updated record is returned on success.
	Consume(ctx context.Context, appID id.ApplicationID, kind models.Kind, code string, actor id.UserID, now time.Time) (*models.HandoverRecord, error)
}
