package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pawbase/internal/handover/models"
	handoverstore "pawbase/internal/handover/store"
	id "pawbase/pkg/domain"
	"pawbase/pkg/platform/sentinel"
)

type key struct {
	appID id.ApplicationID
	kind  models.Kind
}

// Store keeps handover records in memory for tests and development. The
// store-wide mutex makes Consume a true compare-and-set.
type Store struct {
	mu      sync.RWMutex
	records map[key]*models.HandoverRecord
}

var _ handoverstore.Store = (*Store)(nil)

func New() *Store {
	return &Store{records: make(map[key]*models.HandoverRecord)}
}

func (s *Store) Find(_ context.Context, appID id.ApplicationID, kind models.Kind) (*models.HandoverRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key{appID, kind}]
	if !ok {
		return nil, fmt.Errorf("handover record %s/%s: %w", appID, kind, sentinel.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *Store) Save(_ context.Context, rec *models.HandoverRecord, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{rec.ApplicationID, rec.Kind}
	if existing, ok := s.records[k]; ok {
		if existing.Status == models.StatusCompleted {
			return fmt.Errorf("handover record %s/%s completed: %w", rec.ApplicationID, rec.Kind, sentinel.ErrInvalidState)
		}
		if existing.Version != rec.Version {
			return fmt.Errorf("handover record %s/%s version %d: %w", rec.ApplicationID, rec.Kind, rec.Version, sentinel.ErrConflict)
		}
	} else if rec.Version != 0 {
		return fmt.Errorf("handover record %s/%s version %d: %w", rec.ApplicationID, rec.Kind, rec.Version, sentinel.ErrConflict)
	}

	cp := rec.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.Version = rec.Version + 1
	s.records[k] = cp
	rec.Version = cp.Version
	rec.CreatedAt = cp.CreatedAt
	rec.UpdatedAt = cp.UpdatedAt
	return nil
}

func (s *Store) Consume(_ context.Context, appID id.ApplicationID, kind models.Kind, code string, actor id.UserID, now time.Time) (*models.HandoverRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key{appID, kind}]
	if !ok {
		return nil, fmt.Errorf("handover record %s/%s: %w", appID, kind, sentinel.ErrNotFound)
	}

	entry, err := rec.ValidateForConsume(code, now)
	if err != nil {
		return nil, translateConsumeError(err)
	}

	rec.Consume(entry, actor, now)
	rec.Version++
	return rec.Clone(), nil
}

// translateConsumeError converts domain validation errors to sentinel errors
// per the store boundary contract. A plain mismatch passes through; it is a
// caller-input fact, not a resource state.
func translateConsumeError(err error) error {
	switch {
	case errors.Is(err, models.ErrExpired):
		return fmt.Errorf("otp: %w", sentinel.ErrExpired)
	case errors.Is(err, models.ErrAlreadyUsed):
		return fmt.Errorf("otp: %w", sentinel.ErrAlreadyUsed)
	case errors.Is(err, models.ErrCompleted):
		return fmt.Errorf("handover: %w", sentinel.ErrInvalidState)
	default:
		return err
	}
}
