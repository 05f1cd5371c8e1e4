// Package handler exposes the registration orchestrator over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pawbase/internal/onboarding"
	"pawbase/internal/platform/middleware"
	"pawbase/internal/registry/models"
	"pawbase/internal/transport/http/shared"
	id "pawbase/pkg/domain"
	dErrors "pawbase/pkg/domain-errors"
)

// Orchestrator defines the registration operation the handler drives.
type Orchestrator interface {
	RegisterPet(ctx context.Context, in onboarding.RegisterInput) (*onboarding.Result, error)
}

type Handler struct {
	logger *slog.Logger
	orch   Orchestrator
}

func New(orch Orchestrator, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, orch: orch}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/pets", h.handleRegisterPet)
}

type registerPetRequest struct {
	PetCode   string     `json:"pet_code"`
	Name      *string    `json:"name"`
	Species   *string    `json:"species"`
	Breed     *string    `json:"breed"`
	Gender    *string    `json:"gender"`
	Age       *int       `json:"age"`
	AgeUnit   *string    `json:"age_unit"`
	Color     *string    `json:"color"`
	ImageRefs []string   `json:"image_refs"`
	Source    string     `json:"source"`
	Owner     *uuid.UUID `json:"owner"`
	Type      string     `json:"transfer_type"`
	Fee       int64      `json:"fee"`
	Notes     string     `json:"notes"`

	IdempotencyKey string `json:"idempotency_key"`
}

type registerPetResponse struct {
	PetCode  string     `json:"pet_code"`
	Created  bool       `json:"created"`
	Owner    *uuid.UUID `json:"owner,omitempty"`
	Status   string     `json:"status,omitempty"`
	Location string     `json:"location,omitempty"`
	EntryID  *uuid.UUID `json:"entry_id,omitempty"`
	MirrorID string     `json:"mirror_id,omitempty"`
	Warnings []string   `json:"warnings,omitempty"`
}

func (h *Handler) handleRegisterPet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerPetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	actor := middleware.ActorID(ctx)
	in := onboarding.RegisterInput{
		Identity: models.IdentityUpsert{
			PetCode:   id.PetCode(req.PetCode),
			Name:      req.Name,
			Species:   req.Species,
			Breed:     req.Breed,
			Gender:    req.Gender,
			Age:       req.Age,
			AgeUnit:   req.AgeUnit,
			Color:     req.Color,
			ImageRefs: req.ImageRefs,
			Source:    models.Source(req.Source),
			Actor:     actor,
		},
		Type:           models.TransferType(req.Type),
		Fee:            req.Fee,
		Notes:          req.Notes,
		PerformedBy:    actor,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.Owner != nil {
		owner := id.UserID(*req.Owner)
		in.Owner = &owner
	}

	result, err := h.orch.RegisterPet(ctx, in)
	if err != nil {
		h.logger.WarnContext(ctx, "register pet failed",
			"error", err.Error(),
			"request_id", middleware.GetRequestID(ctx),
		)
		shared.WriteError(w, err)
		return
	}

	resp := registerPetResponse{
		PetCode:  string(result.Record.PetCode),
		Created:  result.Created,
		Status:   string(result.Record.CurrentStatus),
		Location: string(result.Record.CurrentLocation),
		MirrorID: result.MirrorID,
		Warnings: result.Warnings,
	}
	if !result.Record.CurrentOwner.IsNil() {
		owner := uuid.UUID(result.Record.CurrentOwner)
		resp.Owner = &owner
	}
	if result.Entry != nil {
		entryID := result.Entry.ID
		resp.EntryID = &entryID
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	shared.WriteJSON(w, status, resp)
}
