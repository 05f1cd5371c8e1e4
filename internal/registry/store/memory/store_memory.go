package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pawbase/internal/registry/models"
	"pawbase/internal/registry/store"
	id "pawbase/pkg/domain"
	"pawbase/pkg/platform/sentinel"
)

// Store keeps registry records and ledgers in memory for tests and dev. The
// store-wide mutex serializes the ledger-append + state-update pair, which
// also satisfies the per-pet-code serialization requirement.
type Store struct {
	mu      sync.RWMutex
	records map[id.PetCode]*models.RegistryRecord
	ledgers map[id.PetCode][]models.TransferEntry
}

var _ store.Store = (*Store)(nil)

// New constructs an empty in-memory registry store.
func New() *Store {
	return &Store{
		records: make(map[id.PetCode]*models.RegistryRecord),
		ledgers: make(map[id.PetCode][]models.TransferEntry),
	}
}

func (s *Store) Find(_ context.Context, code id.PetCode) (*models.RegistryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[code]
	if !ok {
		return nil, fmt.Errorf("registry record %s: %w", code, sentinel.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *Store) Upsert(_ context.Context, up models.IdentityUpsert, now time.Time) (*models.RegistryRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[up.PetCode]; ok {
		rec.ApplyIdentity(up, now)
		return rec.Clone(), false, nil
	}

	rec := models.NewFromUpsert(up, now)
	s.records[up.PetCode] = rec
	return rec.Clone(), true, nil
}

func (s *Store) UpdateState(_ context.Context, up models.StateUpdate, now time.Time) (*models.RegistryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[up.PetCode]
	if !ok {
		return nil, fmt.Errorf("registry record %s: %w", up.PetCode, sentinel.ErrNotFound)
	}
	rec.ApplyState(up, now)
	return rec.Clone(), nil
}

func (s *Store) ApplyTransfer(_ context.Context, app store.TransferApplication, now time.Time) (*models.RegistryRecord, *models.TransferEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := app.Entry.PetCode
	rec, ok := s.records[code]
	if !ok {
		return nil, nil, false, fmt.Errorf("registry record %s: %w", code, sentinel.ErrNotFound)
	}

	if app.Entry.IdempotencyKey != "" {
		for i := range s.ledgers[code] {
			prior := &s.ledgers[code][i]
			if prior.IdempotencyKey == app.Entry.IdempotencyKey {
				cp := *prior
				return rec.Clone(), &cp, true, nil
			}
		}
	}

	// Deceased is terminal; the ledger never continues past it.
	if rec.CurrentStatus == models.StatusDeceased {
		return nil, nil, false, fmt.Errorf("registry record %s is deceased: %w", code, sentinel.ErrInvalidState)
	}
	if !app.Outcome.AllowedFrom(rec.CurrentStatus) {
		return nil, nil, false, fmt.Errorf("registry record %s: %w", code, &store.StateError{Status: rec.CurrentStatus, Type: app.Entry.Type})
	}

	entry := app.Entry
	entry.ID = uuid.New()
	entry.TransferDate = now
	if entry.PreviousOwner.IsNil() {
		entry.PreviousOwner = rec.CurrentOwner
	}
	s.ledgers[code] = append(s.ledgers[code], entry)

	rec.CurrentOwner = entry.NewOwner
	rec.CurrentLocation = app.Outcome.Location
	rec.CurrentStatus = app.Outcome.Status
	rec.LastTransferAt = now
	rec.LastSeenAt = now
	rec.UpdatedAt = now
	rec.UpdatedBy = entry.PerformedBy
	if app.Outcome.Status == models.StatusDeceased {
		rec.DeceasedAt = now
		rec.DeceasedReason = entry.Reason
	}

	cp := entry
	return rec.Clone(), &cp, false, nil
}

func (s *Store) History(_ context.Context, code id.PetCode) ([]models.TransferEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.records[code]; !ok {
		return nil, fmt.Errorf("registry record %s: %w", code, sentinel.ErrNotFound)
	}

	ledger := s.ledgers[code]
	out := make([]models.TransferEntry, len(ledger))
	for i, entry := range ledger {
		out[len(ledger)-1-i] = entry
	}
	return out, nil
}

func (s *Store) VoidTransfer(_ context.Context, code id.PetCode, entryID uuid.UUID, actor id.UserID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[code]; !ok {
		return fmt.Errorf("registry record %s: %w", code, sentinel.ErrNotFound)
	}
	for i := range s.ledgers[code] {
		entry := &s.ledgers[code][i]
		if entry.ID == entryID {
			entry.Voided = true
			rec := s.records[code]
			rec.UpdatedBy = actor
			rec.UpdatedAt = now
			return nil
		}
	}
	return fmt.Errorf("ledger entry %s: %w", entryID, sentinel.ErrNotFound)
}
