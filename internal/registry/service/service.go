// Package service implements the registry operations: identity upsert, state
// correction, ledger append, and history retrieval. The service owns
// validation and error translation; atomicity of the ledger/state pair lives
// in the store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"pawbase/internal/registry/metrics"
	"pawbase/internal/registry/models"
	"pawbase/internal/registry/store"
	id "pawbase/pkg/domain"
	dErrors "pawbase/pkg/domain-errors"
	audit "pawbase/pkg/platform/audit"
	"pawbase/pkg/platform/sentinel"
	"pawbase/pkg/requestcontext"
)

type Store = store.Store

// AuditPublisher receives custody events. Satisfied by publisher.Publisher.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store          Store
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	logger         *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("registry store is required")
	}

	svc := &Service{
		store:  store,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// UpsertIdentity finds-or-creates the record for a pet code and merges the
// supplied descriptive fields. Omitted fields are never overwritten and the
// first-registration provenance is immutable after creation.
func (s *Service) UpsertIdentity(ctx context.Context, up models.IdentityUpsert) (*models.RegistryRecord, bool, error) {
	if err := validatePetCode(up.PetCode); err != nil {
		return nil, false, err
	}
	if up.Source != "" && !up.Source.IsValid() {
		return nil, false, dErrors.New(dErrors.CodeValidation, "unknown source")
	}
	if up.FirstAddedSource != "" && !up.FirstAddedSource.IsValid() {
		return nil, false, dErrors.New(dErrors.CodeValidation, "unknown first-added source")
	}

	rec, created, err := s.store.Upsert(ctx, up, requestcontext.Now(ctx))
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to upsert pet identity")
	}

	action := audit.EventIdentityUpdated
	if created {
		action = audit.EventPetRegistered
		if s.metrics != nil {
			s.metrics.RegistrationsTotal.Inc()
		}
	}
	s.emit(ctx, audit.Event{
		PetCode: rec.PetCode,
		Action:  string(action),
		Actor:   up.Actor,
	})

	s.logger.InfoContext(ctx, "pet identity upserted",
		"pet_code", rec.PetCode,
		"created", created,
		"source", rec.Source,
	)
	return rec, created, nil
}

// UpdateState applies a partial custody-state correction outside the ledger.
// Regular custody changes go through RecordTransfer; this exists for the
// mirror-write path and administrative fixes.
func (s *Service) UpdateState(ctx context.Context, up models.StateUpdate) (*models.RegistryRecord, error) {
	if err := validatePetCode(up.PetCode); err != nil {
		return nil, err
	}
	if up.Location != nil && !up.Location.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown location")
	}
	if up.Status != nil && !up.Status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown status")
	}

	rec, err := s.store.UpdateState(ctx, up, requestcontext.Now(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "pet is not registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update pet state")
	}

	s.emit(ctx, audit.Event{
		PetCode: rec.PetCode,
		Action:  string(audit.EventStateUpdated),
		Actor:   up.Actor,
	})
	return rec, nil
}

// Find returns the registry record for a pet code.
func (s *Service) Find(ctx context.Context, code id.PetCode) (*models.RegistryRecord, error) {
	if err := validatePetCode(code); err != nil {
		return nil, err
	}

	rec, err := s.store.Find(ctx, code)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "pet is not registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pet record")
	}
	return rec, nil
}

// RecordTransfer appends one ledger entry and applies the state its transfer
// type resolves to, as a single unit. Replaying an idempotency key already
// applied to the pet returns the original entry without writing.
func (s *Service) RecordTransfer(ctx context.Context, in models.TransferInput) (*models.RegistryRecord, *models.TransferEntry, error) {
	if err := validatePetCode(in.PetCode); err != nil {
		return nil, nil, err
	}
	outcome, ok := models.OutcomeFor(in.Type)
	if !ok {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "unknown transfer type")
	}
	if outcome.OwnerRequired && (in.NewOwner == nil || in.NewOwner.IsNil()) {
		return nil, nil, dErrors.Newf(dErrors.CodeValidation, "transfer type %s requires a new owner", in.Type)
	}
	if !outcome.OwnerRequired && in.NewOwner != nil && !in.NewOwner.IsNil() {
		return nil, nil, dErrors.Newf(dErrors.CodeValidation, "transfer type %s leaves the pet unowned; new owner must be omitted", in.Type)
	}
	if in.Source != "" && !in.Source.IsValid() {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "unknown source")
	}
	if in.Fee < 0 {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "fee must not be negative")
	}

	now := requestcontext.Now(ctx)
	entry := models.TransferEntry{
		PetCode:        in.PetCode,
		Type:           in.Type,
		TransferDate:   now,
		Fee:            in.Fee,
		Reason:         in.Reason,
		Source:         in.Source,
		Notes:          in.Notes,
		PerformedBy:    in.PerformedBy,
		IdempotencyKey: in.IdempotencyKey,
	}
	if in.PreviousOwner != nil {
		entry.PreviousOwner = *in.PreviousOwner
	}
	if in.NewOwner != nil {
		entry.NewOwner = *in.NewOwner
	}

	rec, applied, replayed, err := s.store.ApplyTransfer(ctx, store.TransferApplication{
		Entry:   entry,
		Outcome: outcome,
	}, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.New(dErrors.CodeNotFound, "pet is not registered")
		}
		var stateErr *store.StateError
		if errors.As(err, &stateErr) {
			return nil, nil, dErrors.Newf(dErrors.CodeConflict, "transfer %s not allowed while pet is %s", stateErr.Type, stateErr.Status)
		}
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, nil, dErrors.New(dErrors.CodeConflict, "pet is recorded as deceased")
		}
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, nil, dErrors.New(dErrors.CodeConflict, "concurrent transfer for this pet, retry")
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record ownership transfer")
	}

	if replayed {
		s.logger.InfoContext(ctx, "transfer replayed by idempotency key",
			"pet_code", in.PetCode,
			"idempotency_key", in.IdempotencyKey,
		)
		return rec, applied, nil
	}

	if s.metrics != nil {
		s.metrics.ObserveTransfer(string(in.Type))
	}

	action := audit.EventTransferRecorded
	if in.Type == models.TransferDeceased {
		action = audit.EventDeceasedRecorded
	}
	s.emit(ctx, audit.Event{
		PetCode:       rec.PetCode,
		Action:        string(action),
		Actor:         in.PerformedBy,
		PreviousOwner: applied.PreviousOwner,
		NewOwner:      applied.NewOwner,
		TransferType:  string(in.Type),
		Reason:        in.Reason,
	})

	s.logger.InfoContext(ctx, "ownership transfer recorded",
		"pet_code", rec.PetCode,
		"transfer_type", in.Type,
		"new_owner", applied.NewOwner,
		"location", rec.CurrentLocation,
		"status", rec.CurrentStatus,
	)
	return rec, applied, nil
}

// History returns the pet's full custody trail, newest entry first, together
// with the first-registration provenance.
func (s *Service) History(ctx context.Context, code id.PetCode) (*models.OwnershipHistory, error) {
	if err := validatePetCode(code); err != nil {
		return nil, err
	}

	rec, err := s.store.Find(ctx, code)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "pet is not registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pet record")
	}

	entries, err := s.store.History(ctx, code)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load transfer history")
	}

	return &models.OwnershipHistory{
		PetCode:          rec.PetCode,
		FirstAddedSource: rec.FirstAddedSource,
		FirstAddedBy:     rec.FirstAddedBy,
		FirstAddedAt:     rec.FirstAddedAt,
		CurrentOwner:     rec.CurrentOwner,
		CurrentLocation:  rec.CurrentLocation,
		CurrentStatus:    rec.CurrentStatus,
		Entries:          entries,
	}, nil
}

// VoidTransfer strikes a ledger entry without removing it. The registry state
// is not rewound; corrections are recorded as new transfers.
func (s *Service) VoidTransfer(ctx context.Context, code id.PetCode, entryID uuid.UUID, actor id.UserID) error {
	if err := validatePetCode(code); err != nil {
		return err
	}
	if entryID == uuid.Nil {
		return dErrors.New(dErrors.CodeBadRequest, "entry id is required")
	}

	if err := s.store.VoidTransfer(ctx, code, entryID, actor, requestcontext.Now(ctx)); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "transfer entry not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to void transfer entry")
	}

	s.emit(ctx, audit.Event{
		PetCode: code,
		Action:  string(audit.EventTransferVoided),
		Actor:   actor,
	})
	return nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit custody event",
			"action", event.Action,
			"pet_code", event.PetCode,
			"error", err,
		)
	}
}

func validatePetCode(code id.PetCode) error {
	if code == "" {
		return dErrors.New(dErrors.CodeBadRequest, "pet_code is required")
	}
	if _, err := id.ParsePetCode(string(code)); err != nil {
		return err
	}
	return nil
}
