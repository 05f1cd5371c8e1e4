// Package handler exposes the custody transition operations over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pawbase/internal/platform/middleware"
	"pawbase/internal/registry/models"
	"pawbase/internal/transport/http/shared"
	id "pawbase/pkg/domain"
	dErrors "pawbase/pkg/domain-errors"
)

// Service defines the transition operations the handler drives.
type Service interface {
	AdmitToHospital(ctx context.Context, code id.PetCode, reason string, actor id.UserID) (*models.RegistryRecord, error)
	DischargeFromHospital(ctx context.Context, code id.PetCode, owner *id.UserID, actor id.UserID) (*models.RegistryRecord, error)
	PlaceInTemporaryCare(ctx context.Context, code id.PetCode, caretaker id.UserID, notes string, actor id.UserID) (*models.RegistryRecord, error)
	EndTemporaryCare(ctx context.Context, code id.PetCode, owner *id.UserID, actor id.UserID) (*models.RegistryRecord, error)
	MarkAsDeceased(ctx context.Context, code id.PetCode, reason string, actor id.UserID) (*models.RegistryRecord, error)
}

type Handler struct {
	logger     *slog.Logger
	transition Service
}

func New(transition Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, transition: transition}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/pets/{petCode}/hospital/admit", h.handleAdmit)
	r.Post("/pets/{petCode}/hospital/discharge", h.handleDischarge)
	r.Post("/pets/{petCode}/care/start", h.handleCareStart)
	r.Post("/pets/{petCode}/care/end", h.handleCareEnd)
	r.Post("/pets/{petCode}/deceased", h.handleDeceased)
}

// transitionRequest covers all five operations; each handler reads the
// fields relevant to it.
type transitionRequest struct {
	Owner     *uuid.UUID `json:"owner"`
	Caretaker *uuid.UUID `json:"caretaker"`
	Reason    string     `json:"reason"`
	Notes     string     `json:"notes"`
}

// decode tolerates an empty body; several transitions need no payload.
func decode(r *http.Request) (transitionRequest, error) {
	var req transitionRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil && err != io.EOF {
		return req, dErrors.New(dErrors.CodeBadRequest, "invalid request body")
	}
	return req, nil
}

func userPtr(u *uuid.UUID) *id.UserID {
	if u == nil {
		return nil
	}
	converted := id.UserID(*u)
	return &converted
}

func (h *Handler) handleAdmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decode(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	code := id.PetCode(chi.URLParam(r, "petCode"))
	rec, err := h.transition.AdmitToHospital(ctx, code, req.Reason, middleware.ActorID(ctx))
	h.respond(ctx, w, "hospital admission", rec, err)
}

func (h *Handler) handleDischarge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decode(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	code := id.PetCode(chi.URLParam(r, "petCode"))
	rec, err := h.transition.DischargeFromHospital(ctx, code, userPtr(req.Owner), middleware.ActorID(ctx))
	h.respond(ctx, w, "hospital discharge", rec, err)
}

func (h *Handler) handleCareStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decode(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var caretaker id.UserID
	if req.Caretaker != nil {
		caretaker = id.UserID(*req.Caretaker)
	}
	code := id.PetCode(chi.URLParam(r, "petCode"))
	rec, err := h.transition.PlaceInTemporaryCare(ctx, code, caretaker, req.Notes, middleware.ActorID(ctx))
	h.respond(ctx, w, "temporary care start", rec, err)
}

func (h *Handler) handleCareEnd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decode(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	code := id.PetCode(chi.URLParam(r, "petCode"))
	rec, err := h.transition.EndTemporaryCare(ctx, code, userPtr(req.Owner), middleware.ActorID(ctx))
	h.respond(ctx, w, "temporary care end", rec, err)
}

func (h *Handler) handleDeceased(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decode(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	code := id.PetCode(chi.URLParam(r, "petCode"))
	rec, err := h.transition.MarkAsDeceased(ctx, code, req.Reason, middleware.ActorID(ctx))
	h.respond(ctx, w, "deceased", rec, err)
}

func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, op string, rec *models.RegistryRecord, err error) {
	if err != nil {
		h.logger.WarnContext(ctx, "transition failed",
			"operation", op,
			"error", err.Error(),
			"request_id", middleware.GetRequestID(ctx),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, stateResponseFrom(rec))
}

type stateResponse struct {
	PetCode         string     `json:"pet_code"`
	CurrentOwner    *uuid.UUID `json:"current_owner,omitempty"`
	CurrentLocation string     `json:"current_location"`
	CurrentStatus   string     `json:"current_status"`
	DeceasedReason  string     `json:"deceased_reason,omitempty"`
}

func stateResponseFrom(rec *models.RegistryRecord) stateResponse {
	resp := stateResponse{
		PetCode:         string(rec.PetCode),
		CurrentLocation: string(rec.CurrentLocation),
		CurrentStatus:   string(rec.CurrentStatus),
		DeceasedReason:  rec.DeceasedReason,
	}
	if !rec.CurrentOwner.IsNil() {
		owner := uuid.UUID(rec.CurrentOwner)
		resp.CurrentOwner = &owner
	}
	return resp
}
