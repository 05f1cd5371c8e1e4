// Package models defines the canonical registry record, the transfer ledger
// entry, and the custody enums shared by every subsystem. The registry is the
// single source of truth for who holds a pet; subsystem-local records are
// weak references only.
package models

import (
	"time"

	"github.com/google/uuid"

	id "pawbase/pkg/domain"
)

// Source names the subsystem that currently owns the descriptive write.
type Source string

const (
	SourceCore     Source = "core"
	SourcePetshop  Source = "petshop"
	SourceAdoption Source = "adoption"
)

// Label returns the human-readable form shown in listings.
func (s Source) Label() string {
	switch s {
	case SourceCore:
		return "User Added"
	case SourcePetshop:
		return "Pet Shop"
	case SourceAdoption:
		return "Adoption Center"
	default:
		return string(s)
	}
}

func (s Source) IsValid() bool {
	switch s {
	case SourceCore, SourcePetshop, SourceAdoption:
		return true
	}
	return false
}

// Location is the physical whereabouts of the animal.
type Location string

const (
	LocationAtOwner          Location = "at_owner"
	LocationAtPetshop        Location = "at_petshop"
	LocationAtAdoptionCenter Location = "at_adoption_center"
	LocationInHospital       Location = "in_hospital"
	LocationInTemporaryCare  Location = "in_temporary_care"
	LocationDeceased         Location = "deceased"
)

func (l Location) IsValid() bool {
	switch l {
	case LocationAtOwner, LocationAtPetshop, LocationAtAdoptionCenter,
		LocationInHospital, LocationInTemporaryCare, LocationDeceased:
		return true
	}
	return false
}

// Status is the custody status; it mirrors location with ownership detail.
type Status string

const (
	StatusAvailable       Status = "available"
	StatusOwned           Status = "owned"
	StatusSold            Status = "sold"
	StatusAdopted         Status = "adopted"
	StatusInHospital      Status = "in_hospital"
	StatusInTemporaryCare Status = "in_temporary_care"
	StatusDeceased        Status = "deceased"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusAvailable, StatusOwned, StatusSold, StatusAdopted,
		StatusInHospital, StatusInTemporaryCare, StatusDeceased:
		return true
	}
	return false
}

// TransferType classifies a ledger entry.
type TransferType string

const (
	TransferInitial            TransferType = "initial"
	TransferPurchase           TransferType = "purchase"
	TransferAdoption           TransferType = "adoption"
	TransferTransfer           TransferType = "transfer"
	TransferReturn             TransferType = "return"
	TransferDeceased           TransferType = "deceased"
	TransferHospitalAdmission  TransferType = "hospital_admission"
	TransferHospitalDischarge  TransferType = "hospital_discharge"
	TransferTemporaryCareStart TransferType = "temporary_care_start"
	TransferTemporaryCareEnd   TransferType = "temporary_care_end"
)

// Outcome is the registry state a transfer type resolves to.
type Outcome struct {
	Location Location
	Status   Status
	// OwnerRequired marks transfer types that must carry a new owner.
	// Hospital admission and death are the only custody changes that leave
	// the pet unowned.
	OwnerRequired bool

	// RequireStatus and ForbidStatus are status preconditions on the pet's
	// current state, checked inside the store's locked apply so two racing
	// transfers cannot both pass. The zero value means unconstrained.
	RequireStatus Status
	ForbidStatus  Status
}

// AllowedFrom reports whether a pet currently in the given status may take
// this transfer.
func (o Outcome) AllowedFrom(current Status) bool {
	if o.RequireStatus != "" && current != o.RequireStatus {
		return false
	}
	if o.ForbidStatus != "" && current == o.ForbidStatus {
		return false
	}
	return true
}

// outcomes is the fixed transferType lookup table. Current state is always
// derivable from the most recent ledger entry through this table.
var outcomes = map[TransferType]Outcome{
	TransferInitial:            {Location: LocationAtOwner, Status: StatusOwned, OwnerRequired: true},
	TransferPurchase:           {Location: LocationAtOwner, Status: StatusSold, OwnerRequired: true},
	TransferAdoption:           {Location: LocationAtOwner, Status: StatusAdopted, OwnerRequired: true},
	TransferTransfer:           {Location: LocationAtOwner, Status: StatusOwned, OwnerRequired: true},
	TransferReturn:             {Location: LocationAtAdoptionCenter, Status: StatusAvailable, OwnerRequired: false},
	TransferDeceased:           {Location: LocationDeceased, Status: StatusDeceased, OwnerRequired: false},
	TransferHospitalAdmission:  {Location: LocationInHospital, Status: StatusInHospital, OwnerRequired: false, ForbidStatus: StatusInHospital},
	TransferHospitalDischarge:  {Location: LocationAtOwner, Status: StatusOwned, OwnerRequired: true, RequireStatus: StatusInHospital},
	TransferTemporaryCareStart: {Location: LocationInTemporaryCare, Status: StatusInTemporaryCare, OwnerRequired: true, ForbidStatus: StatusInTemporaryCare},
	TransferTemporaryCareEnd:   {Location: LocationAtOwner, Status: StatusOwned, OwnerRequired: true, RequireStatus: StatusInTemporaryCare},
}

// OutcomeFor resolves the state a transfer type leads to. The second return
// is false for unknown types.
func OutcomeFor(t TransferType) (Outcome, bool) {
	o, ok := outcomes[t]
	return o, ok
}

// RegistryRecord is the canonical per-pet record, exactly one per PetCode.
type RegistryRecord struct {
	PetCode id.PetCode

	// Descriptive identity, last-writer-wins, not audited.
	Name      string
	Species   string
	Breed     string
	Gender    string
	Age       int
	AgeUnit   string
	Color     string
	ImageRefs []string

	// Write ownership, informational only.
	Source      Source
	SourceLabel string

	// First-registration provenance, set once, never rewritten.
	FirstAddedSource Source
	FirstAddedBy     id.UserID
	FirstAddedAt     time.Time

	// Custody state. CurrentOwner is the nil UUID while the pet is in
	// hospital, deceased, or in unowned transit.
	CurrentOwner    id.UserID
	CurrentLocation Location
	CurrentStatus   Status
	LastTransferAt  time.Time
	LastSeenAt      time.Time

	// Weak references into subsystem-local stores. The registry tracks the
	// ids for lookup but never manages their lifecycle.
	CorePetID     string
	PetShopItemID string
	AdoptionPetID string

	DeceasedAt     time.Time
	DeceasedReason string

	CreatedBy id.UserID
	UpdatedBy id.UserID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so callers can never mutate store-held state.
func (r *RegistryRecord) Clone() *RegistryRecord {
	cp := *r
	cp.ImageRefs = append([]string(nil), r.ImageRefs...)
	return &cp
}

// TransferEntry is one append-only ledger row. Entries are never updated or
// hard-deleted; Voided marks an entry as administratively struck while the
// row itself is retained for audit.
type TransferEntry struct {
	ID             uuid.UUID
	PetCode        id.PetCode
	PreviousOwner  id.UserID // nil UUID when the pet was unowned
	NewOwner       id.UserID // nil UUID for hospital admission and deceased
	Type           TransferType
	TransferDate   time.Time
	Fee            int64 // minor currency units
	Reason         string
	Source         Source
	Notes          string
	PerformedBy    id.UserID
	IdempotencyKey string
	Voided         bool
}

// IdentityUpsert carries the fields for find-or-create registration. Pointer
// fields distinguish "not supplied" from "set to zero"; an omitted field is
// never merged over an existing value.
type IdentityUpsert struct {
	PetCode   id.PetCode
	Name      *string
	Species   *string
	Breed     *string
	Gender    *string
	Age       *int
	AgeUnit   *string
	Color     *string
	ImageRefs []string // nil means unchanged

	Source Source

	// First-registration provenance; only honored on creation.
	FirstAddedSource Source
	FirstAddedBy     id.UserID

	CorePetID     *string
	PetShopItemID *string
	AdoptionPetID *string

	Actor id.UserID
}

// StateUpdate is a partial update of the custody-state fields. A nil pointer
// leaves the field untouched; a pointer to the zero UserID clears the owner.
type StateUpdate struct {
	PetCode        id.PetCode
	Owner          *id.UserID
	Location       *Location
	Status         *Status
	LastTransferAt *time.Time
	Actor          id.UserID
}

// TransferInput describes one custody change to record.
type TransferInput struct {
	PetCode       id.PetCode
	PreviousOwner *id.UserID // nil: take the record's current owner
	NewOwner      *id.UserID // nil only for owner-clearing transfer types
	Type          TransferType
	Fee           int64
	Reason        string
	Source        Source
	Notes         string
	PerformedBy   id.UserID

	// IdempotencyKey makes retries safe: replaying a key already applied to
	// this pet returns the original result instead of double-appending.
	IdempotencyKey string
}

// OwnershipHistory is the ledger view returned to callers: first-added
// provenance plus all entries, newest first.
type OwnershipHistory struct {
	PetCode          id.PetCode
	FirstAddedSource Source
	FirstAddedBy     id.UserID
	FirstAddedAt     time.Time
	CurrentOwner     id.UserID
	CurrentLocation  Location
	CurrentStatus    Status
	Entries          []TransferEntry
}

// ApplyIdentity merges supplied descriptive fields onto the record. Omitted
// fields keep their existing value; firstAdded* provenance is untouched.
func (r *RegistryRecord) ApplyIdentity(up IdentityUpsert, now time.Time) {
	if up.Name != nil {
		r.Name = *up.Name
	}
	if up.Species != nil {
		r.Species = *up.Species
	}
	if up.Breed != nil {
		r.Breed = *up.Breed
	}
	if up.Gender != nil {
		r.Gender = *up.Gender
	}
	if up.Age != nil {
		r.Age = *up.Age
	}
	if up.AgeUnit != nil {
		r.AgeUnit = *up.AgeUnit
	}
	if up.Color != nil {
		r.Color = *up.Color
	}
	if up.ImageRefs != nil {
		r.ImageRefs = append([]string(nil), up.ImageRefs...)
	}
	if up.Source != "" {
		r.Source = up.Source
		r.SourceLabel = up.Source.Label()
	}
	if up.CorePetID != nil {
		r.CorePetID = *up.CorePetID
	}
	if up.PetShopItemID != nil {
		r.PetShopItemID = *up.PetShopItemID
	}
	if up.AdoptionPetID != nil {
		r.AdoptionPetID = *up.AdoptionPetID
	}
	if !up.Actor.IsNil() {
		r.UpdatedBy = up.Actor
	}
	r.LastSeenAt = now
	r.UpdatedAt = now
}

// ApplyState merges supplied custody-state fields onto the record.
func (r *RegistryRecord) ApplyState(up StateUpdate, now time.Time) {
	if up.Owner != nil {
		r.CurrentOwner = *up.Owner
	}
	if up.Location != nil {
		r.CurrentLocation = *up.Location
	}
	if up.Status != nil {
		r.CurrentStatus = *up.Status
	}
	if up.LastTransferAt != nil {
		r.LastTransferAt = *up.LastTransferAt
	}
	if !up.Actor.IsNil() {
		r.UpdatedBy = up.Actor
	}
	r.LastSeenAt = now
	r.UpdatedAt = now
}

// NewFromUpsert builds a fresh record for first registration.
func NewFromUpsert(up IdentityUpsert, now time.Time) *RegistryRecord {
	rec := &RegistryRecord{
		PetCode:          up.PetCode,
		FirstAddedSource: up.FirstAddedSource,
		FirstAddedBy:     up.FirstAddedBy,
		FirstAddedAt:     now,
		CreatedBy:        up.Actor,
		CreatedAt:        now,
	}
	if rec.FirstAddedSource == "" {
		rec.FirstAddedSource = up.Source
	}
	if rec.FirstAddedBy.IsNil() {
		rec.FirstAddedBy = up.Actor
	}
	rec.ApplyIdentity(up, now)
	return rec
}
