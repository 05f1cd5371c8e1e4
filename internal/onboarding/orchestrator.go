// Package onboarding composes identity upsert, transfer recording, and a
// subsystem-local mirror write into one registration operation, used when a
// pet enters a subsystem for the first time (first registration, purchase,
// adoption completion).
package onboarding

import (
	"context"
	"fmt"
	"log/slog"

	"pawbase/internal/registry/models"
	id "pawbase/pkg/domain"
)

// Registry is the slice of the registry service the orchestrator drives.
type Registry interface {
	UpsertIdentity(ctx context.Context, up models.IdentityUpsert) (*models.RegistryRecord, bool, error)
	RecordTransfer(ctx context.Context, in models.TransferInput) (*models.RegistryRecord, *models.TransferEntry, error)
}

// Mirror writes a subsystem-local copy of the pet for that subsystem's own
// query needs. The registry only keeps the returned id as a weak reference.
type Mirror interface {
	CreateMirror(ctx context.Context, rec *models.RegistryRecord, owner id.UserID) (string, error)
}

type Orchestrator struct {
	registry Registry
	mirrors  map[models.Source]Mirror
	logger   *slog.Logger
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMirror registers the local store that mirrors registrations from a
// subsystem.
func WithMirror(source models.Source, mirror Mirror) Option {
	return func(o *Orchestrator) {
		o.mirrors[source] = mirror
	}
}

func New(registry Registry, opts ...Option) (*Orchestrator, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	o := &Orchestrator{
		registry: registry,
		mirrors:  make(map[models.Source]Mirror),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// RegisterInput carries the full onboarding payload.
type RegisterInput struct {
	Identity models.IdentityUpsert

	// Owner, when set, implies an ownership transfer of Type.
	Owner *id.UserID
	Type  models.TransferType
	Fee   int64
	Notes string

	PerformedBy    id.UserID
	IdempotencyKey string
}

// Result reports what the registration did. Warnings carries degraded-success
// facts: the registry is consistent, but a best-effort side effect (the local
// mirror) is missing.
type Result struct {
	Record   *models.RegistryRecord
	Entry    *models.TransferEntry
	Created  bool
	MirrorID string
	Warnings []string
}

// RegisterPet performs identity upsert, then the implied ownership transfer,
// then the subsystem-local mirror write. The registry steps fail together;
// a mirror failure is surfaced as a warning, never as an operation error.
func (o *Orchestrator) RegisterPet(ctx context.Context, in RegisterInput) (*Result, error) {
	if in.Owner != nil && in.Type == "" {
		in.Type = models.TransferInitial
	}

	rec, created, err := o.registry.UpsertIdentity(ctx, in.Identity)
	if err != nil {
		return nil, err
	}

	result := &Result{Record: rec, Created: created}

	if in.Owner != nil {
		rec, entry, err := o.registry.RecordTransfer(ctx, models.TransferInput{
			PetCode:        in.Identity.PetCode,
			NewOwner:       in.Owner,
			Type:           in.Type,
			Fee:            in.Fee,
			Source:         in.Identity.Source,
			Notes:          in.Notes,
			PerformedBy:    in.PerformedBy,
			IdempotencyKey: in.IdempotencyKey,
		})
		if err != nil {
			return nil, err
		}
		result.Record = rec
		result.Entry = entry
	}

	o.mirrorWrite(ctx, in, result)

	o.logger.InfoContext(ctx, "pet registered",
		"pet_code", result.Record.PetCode,
		"source", result.Record.Source,
		"created", created,
		"transferred", result.Entry != nil,
		"warnings", len(result.Warnings),
	)
	return result, nil
}

// mirrorWrite creates the subsystem-local record and links its id back into
// the registry. Both steps are best-effort.
func (o *Orchestrator) mirrorWrite(ctx context.Context, in RegisterInput, result *Result) {
	mirror, ok := o.mirrors[in.Identity.Source]
	if !ok {
		return
	}

	var owner id.UserID
	if in.Owner != nil {
		owner = *in.Owner
	}

	mirrorID, err := mirror.CreateMirror(ctx, result.Record, owner)
	if err != nil {
		o.logger.ErrorContext(ctx, "subsystem mirror write failed",
			"pet_code", result.Record.PetCode,
			"source", in.Identity.Source,
			"error", err,
		)
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("registry updated but %s mirror record not created: %v", in.Identity.Source, err))
		return
	}
	result.MirrorID = mirrorID

	link := models.IdentityUpsert{PetCode: in.Identity.PetCode, Actor: in.PerformedBy}
	switch in.Identity.Source {
	case models.SourcePetshop:
		link.PetShopItemID = &mirrorID
	case models.SourceAdoption:
		link.AdoptionPetID = &mirrorID
	default:
		link.CorePetID = &mirrorID
	}

	rec, _, err := o.registry.UpsertIdentity(ctx, link)
	if err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("mirror record %s created but not linked in the registry: %v", mirrorID, err))
		return
	}
	result.Record = rec
}
