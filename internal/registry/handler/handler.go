// Package handler exposes the registry service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pawbase/internal/platform/middleware"
	"pawbase/internal/registry/models"
	"pawbase/internal/transport/http/shared"
	id "pawbase/pkg/domain"
	dErrors "pawbase/pkg/domain-errors"
)

// Service defines the registry operations the handler drives.
type Service interface {
	UpsertIdentity(ctx context.Context, up models.IdentityUpsert) (*models.RegistryRecord, bool, error)
	UpdateState(ctx context.Context, up models.StateUpdate) (*models.RegistryRecord, error)
	Find(ctx context.Context, code id.PetCode) (*models.RegistryRecord, error)
	RecordTransfer(ctx context.Context, in models.TransferInput) (*models.RegistryRecord, *models.TransferEntry, error)
	History(ctx context.Context, code id.PetCode) (*models.OwnershipHistory, error)
	VoidTransfer(ctx context.Context, code id.PetCode, entryID uuid.UUID, actor id.UserID) error
}

type Handler struct {
	logger   *slog.Logger
	registry Service
}

func New(registry Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, registry: registry}
}

// Register adds the registry routes. The router is expected to already carry
// the shared middleware chain, including authentication.
func (h *Handler) Register(r chi.Router) {
	r.Put("/pets/{petCode}", h.handleUpsertIdentity)
	r.Get("/pets/{petCode}", h.handleFind)
	r.Patch("/pets/{petCode}/state", h.handleUpdateState)
	r.Post("/pets/{petCode}/transfers", h.handleRecordTransfer)
	r.Get("/pets/{petCode}/history", h.handleHistory)
	r.Post("/pets/{petCode}/transfers/{entryID}/void", h.handleVoidTransfer)
}

type upsertIdentityRequest struct {
	Name             *string  `json:"name"`
	Species          *string  `json:"species"`
	Breed            *string  `json:"breed"`
	Gender           *string  `json:"gender"`
	Age              *int     `json:"age"`
	AgeUnit          *string  `json:"age_unit"`
	Color            *string  `json:"color"`
	ImageRefs        []string `json:"image_refs"`
	Source           string   `json:"source"`
	FirstAddedSource string   `json:"first_added_source"`
	CorePetID        *string  `json:"core_pet_id"`
	PetShopItemID    *string  `json:"pet_shop_item_id"`
	AdoptionPetID    *string  `json:"adoption_pet_id"`
}

type updateStateRequest struct {
	Owner          *uuid.UUID `json:"owner"`
	Location       *string    `json:"location"`
	Status         *string    `json:"status"`
	LastTransferAt *time.Time `json:"last_transfer_at"`
}

type recordTransferRequest struct {
	PreviousOwner  *uuid.UUID `json:"previous_owner"`
	NewOwner       *uuid.UUID `json:"new_owner"`
	Type           string     `json:"type"`
	Fee            int64      `json:"fee"`
	Reason         string     `json:"reason"`
	Source         string     `json:"source"`
	Notes          string     `json:"notes"`
	IdempotencyKey string     `json:"idempotency_key"`
}

func (h *Handler) handleUpsertIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req upsertIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	rec, created, err := h.registry.UpsertIdentity(ctx, models.IdentityUpsert{
		PetCode:          id.PetCode(chi.URLParam(r, "petCode")),
		Name:             req.Name,
		Species:          req.Species,
		Breed:            req.Breed,
		Gender:           req.Gender,
		Age:              req.Age,
		AgeUnit:          req.AgeUnit,
		Color:            req.Color,
		ImageRefs:        req.ImageRefs,
		Source:           models.Source(req.Source),
		FirstAddedSource: models.Source(req.FirstAddedSource),
		Actor:            middleware.ActorID(ctx),
	})
	if err != nil {
		h.logWarn(ctx, "upsert identity failed", err)
		shared.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	shared.WriteJSON(w, status, recordResponseFrom(rec))
}

func (h *Handler) handleFind(w http.ResponseWriter, r *http.Request) {
	rec, err := h.registry.Find(r.Context(), id.PetCode(chi.URLParam(r, "petCode")))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, recordResponseFrom(rec))
}

func (h *Handler) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req updateStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	up := models.StateUpdate{
		PetCode:        id.PetCode(chi.URLParam(r, "petCode")),
		LastTransferAt: req.LastTransferAt,
		Actor:          middleware.ActorID(ctx),
	}
	if req.Owner != nil {
		owner := id.UserID(*req.Owner)
		up.Owner = &owner
	}
	if req.Location != nil {
		loc := models.Location(*req.Location)
		up.Location = &loc
	}
	if req.Status != nil {
		st := models.Status(*req.Status)
		up.Status = &st
	}

	rec, err := h.registry.UpdateState(ctx, up)
	if err != nil {
		h.logWarn(ctx, "update state failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, recordResponseFrom(rec))
}

func (h *Handler) handleRecordTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req recordTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	in := models.TransferInput{
		PetCode:        id.PetCode(chi.URLParam(r, "petCode")),
		Type:           models.TransferType(req.Type),
		Fee:            req.Fee,
		Reason:         req.Reason,
		Source:         models.Source(req.Source),
		Notes:          req.Notes,
		PerformedBy:    middleware.ActorID(ctx),
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.PreviousOwner != nil {
		prev := id.UserID(*req.PreviousOwner)
		in.PreviousOwner = &prev
	}
	if req.NewOwner != nil {
		next := id.UserID(*req.NewOwner)
		in.NewOwner = &next
	}

	rec, entry, err := h.registry.RecordTransfer(ctx, in)
	if err != nil {
		h.logWarn(ctx, "record transfer failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, transferResponse{
		Record: recordResponseFrom(rec),
		Entry:  entryResponseFrom(entry),
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.registry.History(r.Context(), id.PetCode(chi.URLParam(r, "petCode")))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, historyResponseFrom(hist))
}

func (h *Handler) handleVoidTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entryID, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid entry id"))
		return
	}

	code := id.PetCode(chi.URLParam(r, "petCode"))
	if err := h.registry.VoidTransfer(ctx, code, entryID, middleware.ActorID(ctx)); err != nil {
		h.logWarn(ctx, "void transfer failed", err)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logWarn(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"error", err.Error(),
		"request_id", middleware.GetRequestID(ctx),
	)
}
