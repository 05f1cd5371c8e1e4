package handler

import (
	"time"

	"github.com/google/uuid"

	"pawbase/internal/registry/models"
)

type recordResponse struct {
	PetCode   string   `json:"pet_code"`
	Name      string   `json:"name,omitempty"`
	Species   string   `json:"species,omitempty"`
	Breed     string   `json:"breed,omitempty"`
	Gender    string   `json:"gender,omitempty"`
	Age       int      `json:"age,omitempty"`
	AgeUnit   string   `json:"age_unit,omitempty"`
	Color     string   `json:"color,omitempty"`
	ImageRefs []string `json:"image_refs,omitempty"`

	Source      string `json:"source,omitempty"`
	SourceLabel string `json:"source_label,omitempty"`

	FirstAddedSource string     `json:"first_added_source,omitempty"`
	FirstAddedBy     *uuid.UUID `json:"first_added_by,omitempty"`
	FirstAddedAt     *time.Time `json:"first_added_at,omitempty"`

	CurrentOwner    *uuid.UUID `json:"current_owner,omitempty"`
	CurrentLocation string     `json:"current_location,omitempty"`
	CurrentStatus   string     `json:"current_status,omitempty"`
	LastTransferAt  *time.Time `json:"last_transfer_at,omitempty"`

	CorePetID     string `json:"core_pet_id,omitempty"`
	PetShopItemID string `json:"pet_shop_item_id,omitempty"`
	AdoptionPetID string `json:"adoption_pet_id,omitempty"`

	DeceasedAt     *time.Time `json:"deceased_at,omitempty"`
	DeceasedReason string     `json:"deceased_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type entryResponse struct {
	ID            uuid.UUID  `json:"id"`
	PetCode       string     `json:"pet_code"`
	PreviousOwner *uuid.UUID `json:"previous_owner,omitempty"`
	NewOwner      *uuid.UUID `json:"new_owner,omitempty"`
	Type          string     `json:"type"`
	TransferDate  time.Time  `json:"transfer_date"`
	Fee           int64      `json:"fee,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Source        string     `json:"source,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	PerformedBy   *uuid.UUID `json:"performed_by,omitempty"`
	Voided        bool       `json:"voided,omitempty"`
}

type transferResponse struct {
	Record recordResponse `json:"record"`
	Entry  entryResponse  `json:"entry"`
}

type historyResponse struct {
	PetCode          string          `json:"pet_code"`
	FirstAddedSource string          `json:"first_added_source,omitempty"`
	FirstAddedBy     *uuid.UUID      `json:"first_added_by,omitempty"`
	FirstAddedAt     *time.Time      `json:"first_added_at,omitempty"`
	CurrentOwner     *uuid.UUID      `json:"current_owner,omitempty"`
	CurrentLocation  string          `json:"current_location,omitempty"`
	CurrentStatus    string          `json:"current_status,omitempty"`
	Entries          []entryResponse `json:"entries"`
}

func optionalUUID(u uuid.UUID) *uuid.UUID {
	if u == uuid.Nil {
		return nil
	}
	return &u
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func recordResponseFrom(rec *models.RegistryRecord) recordResponse {
	return recordResponse{
		PetCode:          string(rec.PetCode),
		Name:             rec.Name,
		Species:          rec.Species,
		Breed:            rec.Breed,
		Gender:           rec.Gender,
		Age:              rec.Age,
		AgeUnit:          rec.AgeUnit,
		Color:            rec.Color,
		ImageRefs:        rec.ImageRefs,
		Source:           string(rec.Source),
		SourceLabel:      rec.SourceLabel,
		FirstAddedSource: string(rec.FirstAddedSource),
		FirstAddedBy:     optionalUUID(uuid.UUID(rec.FirstAddedBy)),
		FirstAddedAt:     optionalTime(rec.FirstAddedAt),
		CurrentOwner:     optionalUUID(uuid.UUID(rec.CurrentOwner)),
		CurrentLocation:  string(rec.CurrentLocation),
		CurrentStatus:    string(rec.CurrentStatus),
		LastTransferAt:   optionalTime(rec.LastTransferAt),
		CorePetID:        rec.CorePetID,
		PetShopItemID:    rec.PetShopItemID,
		AdoptionPetID:    rec.AdoptionPetID,
		DeceasedAt:       optionalTime(rec.DeceasedAt),
		DeceasedReason:   rec.DeceasedReason,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
}

func entryResponseFrom(e *models.TransferEntry) entryResponse {
	return entryResponse{
		ID:            e.ID,
		PetCode:       string(e.PetCode),
		PreviousOwner: optionalUUID(uuid.UUID(e.PreviousOwner)),
		NewOwner:      optionalUUID(uuid.UUID(e.NewOwner)),
		Type:          string(e.Type),
		TransferDate:  e.TransferDate,
		Fee:           e.Fee,
		Reason:        e.Reason,
		Source:        string(e.Source),
		Notes:         e.Notes,
		PerformedBy:   optionalUUID(uuid.UUID(e.PerformedBy)),
		Voided:        e.Voided,
	}
}

func historyResponseFrom(h *models.OwnershipHistory) historyResponse {
	entries := make([]entryResponse, 0, len(h.Entries))
	for i := range h.Entries {
		entries = append(entries, entryResponseFrom(&h.Entries[i]))
	}
	return historyResponse{
		PetCode:          string(h.PetCode),
		FirstAddedSource: string(h.FirstAddedSource),
		FirstAddedBy:     optionalUUID(uuid.UUID(h.FirstAddedBy)),
		FirstAddedAt:     optionalTime(h.FirstAddedAt),
		CurrentOwner:     optionalUUID(uuid.UUID(h.CurrentOwner)),
		CurrentLocation:  string(h.CurrentLocation),
		CurrentStatus:    string(h.CurrentStatus),
		Entries:          entries,
	}
}
