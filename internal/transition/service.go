// Package transition covers the custody changes that are not ownership sales:
// hospital stays, temporary care, and death. Every operation here is a thin
// orchestration over the transfer ledger, so the full trail stays in one
// place.
package transition

import (
	"context"
	"fmt"
	"log/slog"

	"pawbase/internal/registry/models"
	id "pawbase/pkg/domain"
	dErrors "pawbase/pkg/domain-errors"
)

// Registry is the slice of the registry service this package needs.
type Registry interface {
	Find(ctx context.Context, code id.PetCode) (*models.RegistryRecord, error)
	RecordTransfer(ctx context.Context, in models.TransferInput) (*models.RegistryRecord, *models.TransferEntry, error)
	History(ctx context.Context, code id.PetCode) (*models.OwnershipHistory, error)
}

type Service struct {
	registry Registry
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(registry Registry, opts ...Option) (*Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	svc := &Service{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// AdmitToHospital records a hospital admission. The pet becomes unowned for
// the duration of the stay; the admitting owner is preserved in the ledger
// entry so discharge can restore them.
func (s *Service) AdmitToHospital(ctx context.Context, code id.PetCode, reason string, actor id.UserID) (*models.RegistryRecord, error) {
	rec, err := s.registry.Find(ctx, code)
	if err != nil {
		return nil, err
	}
	if rec.CurrentStatus == models.StatusInHospital {
		return nil, dErrors.New(dErrors.CodeConflict, "pet is already in hospital")
	}
	if rec.CurrentStatus == models.StatusDeceased {
		return nil, dErrors.New(dErrors.CodeConflict, "pet is recorded as deceased")
	}

	rec, _, err = s.registry.RecordTransfer(ctx, models.TransferInput{
		PetCode:     code,
		Type:        models.TransferHospitalAdmission,
		Reason:      reason,
		PerformedBy: actor,
	})
	return rec, err
}

// DischargeFromHospital releases the pet back to an owner. With a nil owner
// the admission entry's previous owner is restored.
func (s *Service) DischargeFromHospital(ctx context.Context, code id.PetCode, owner *id.UserID, actor id.UserID) (*models.RegistryRecord, error) {
	rec, err := s.registry.Find(ctx, code)
	if err != nil {
		return nil, err
	}
	if rec.CurrentStatus != models.StatusInHospital {
		return nil, dErrors.New(dErrors.CodeConflict, "pet is not in hospital")
	}

	if owner == nil || owner.IsNil() {
		restored, err := s.ownerBefore(ctx, code, models.TransferHospitalAdmission)
		if err != nil {
			return nil, err
		}
		owner = &restored
	}

	rec, _, err = s.registry.RecordTransfer(ctx, models.TransferInput{
		PetCode:     code,
		NewOwner:    owner,
		Type:        models.TransferHospitalDischarge,
		PerformedBy: actor,
	})
	return rec, err
}

// PlaceInTemporaryCare hands the pet to a caretaker. Custody moves to the
// caretaker; the original owner stays recoverable from the ledger.
func (s *Service) PlaceInTemporaryCare(ctx context.Context, code id.PetCode, caretaker id.UserID, notes string, actor id.UserID) (*models.RegistryRecord, error) {
	if caretaker.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "caretaker is required")
	}

	rec, err := s.registry.Find(ctx, code)
	if err != nil {
		return nil, err
	}
	if rec.CurrentStatus == models.StatusInTemporaryCare {
		return nil, dErrors.New(dErrors.CodeConflict, "pet is already in temporary care")
	}
	if rec.CurrentStatus == models.StatusDeceased {
		return nil, dErrors.New(dErrors.CodeConflict, "pet is recorded as deceased")
	}

	rec, _, err = s.registry.RecordTransfer(ctx, models.TransferInput{
		PetCode:     code,
		NewOwner:    &caretaker,
		Type:        models.TransferTemporaryCareStart,
		Notes:       notes,
		PerformedBy: actor,
	})
	return rec, err
}

// EndTemporaryCare returns the pet from its caretaker. With a nil owner the
// care-start entry's previous owner is restored.
func (s *Service) EndTemporaryCare(ctx context.Context, code id.PetCode, owner *id.UserID, actor id.UserID) (*models.RegistryRecord, error) {
	rec, err := s.registry.Find(ctx, code)
	if err != nil {
		return nil, err
	}
	if rec.CurrentStatus != models.StatusInTemporaryCare {
		return nil, dErrors.New(dErrors.CodeConflict, "pet is not in temporary care")
	}

	if owner == nil || owner.IsNil() {
		restored, err := s.ownerBefore(ctx, code, models.TransferTemporaryCareStart)
		if err != nil {
			return nil, err
		}
		owner = &restored
	}

	rec, _, err = s.registry.RecordTransfer(ctx, models.TransferInput{
		PetCode:     code,
		NewOwner:    owner,
		Type:        models.TransferTemporaryCareEnd,
		PerformedBy: actor,
	})
	return rec, err
}

// MarkAsDeceased closes the pet's custody trail. This is terminal: no further
// transfers are accepted once the registry shows deceased.
func (s *Service) MarkAsDeceased(ctx context.Context, code id.PetCode, reason string, actor id.UserID) (*models.RegistryRecord, error) {
	rec, err := s.registry.Find(ctx, code)
	if err != nil {
		return nil, err
	}
	if rec.CurrentStatus == models.StatusDeceased {
		return nil, dErrors.New(dErrors.CodeConflict, "pet is already recorded as deceased")
	}

	rec, _, err = s.registry.RecordTransfer(ctx, models.TransferInput{
		PetCode:     code,
		Type:        models.TransferDeceased,
		Reason:      reason,
		PerformedBy: actor,
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "pet recorded as deceased",
		"pet_code", code,
		"reason", reason,
	)
	return rec, nil
}

// ownerBefore finds who held the pet before the most recent non-voided entry
// of the given type.
func (s *Service) ownerBefore(ctx context.Context, code id.PetCode, t models.TransferType) (id.UserID, error) {
	history, err := s.registry.History(ctx, code)
	if err != nil {
		return id.UserID{}, err
	}
	for _, entry := range history.Entries {
		if entry.Type == t && !entry.Voided {
			if entry.PreviousOwner.IsNil() {
				break
			}
			return entry.PreviousOwner, nil
		}
	}
	return id.UserID{}, dErrors.New(dErrors.CodeValidation, "no owner on record to restore; supply one")
}
