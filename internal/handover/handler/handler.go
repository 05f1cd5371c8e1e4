// Package handler exposes the handover coordinator over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pawbase/internal/handover"
	"pawbase/internal/handover/models"
	"pawbase/internal/platform/middleware"
	"pawbase/internal/transport/http/shared"
	id "pawbase/pkg/domain"
	dErrors "pawbase/pkg/domain-errors"
)

// Coordinator defines the handover operations the handler drives.
type Coordinator interface {
	Schedule(ctx context.Context, in handover.ScheduleInput) (*handover.ScheduleResult, error)
	RegenerateOTP(ctx context.Context, appID id.ApplicationID, kind models.Kind) (*handover.ScheduleResult, error)
	Verify(ctx context.Context, in handover.VerifyInput) (*handover.VerifyResult, error)
}

type Handler struct {
	logger      *slog.Logger
	coordinator Coordinator
}

func New(coordinator Coordinator, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, coordinator: coordinator}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/handovers", h.handleSchedule)
	r.Post("/handovers/{applicationID}/{kind}/regenerate", h.handleRegenerate)
	r.Post("/handovers/{applicationID}/{kind}/verify", h.handleVerify)
}

type scheduleRequest struct {
	ApplicationID    uuid.UUID `json:"application_id"`
	Kind             string    `json:"kind"`
	PetCode          string    `json:"pet_code"`
	Recipient        uuid.UUID `json:"recipient"`
	ScheduledAt      time.Time `json:"scheduled_at"`
	Location         string    `json:"location"`
	ProofDocs        []string  `json:"proof_docs"`
	WorkflowComplete bool      `json:"workflow_complete"`
}

type verifyRequest struct {
	Code          string     `json:"code"`
	PreviousOwner *uuid.UUID `json:"previous_owner"`
}

func (h *Handler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	result, err := h.coordinator.Schedule(ctx, handover.ScheduleInput{
		ApplicationID:    id.ApplicationID(req.ApplicationID),
		Kind:             models.Kind(req.Kind),
		PetCode:          id.PetCode(req.PetCode),
		Recipient:        id.UserID(req.Recipient),
		ScheduledAt:      req.ScheduledAt,
		Location:         req.Location,
		ProofDocs:        req.ProofDocs,
		WorkflowComplete: req.WorkflowComplete,
	})
	if err != nil {
		h.logWarn(ctx, "schedule handover failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, scheduleResponseFrom(result))
}

func (h *Handler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	appID, kind, err := pathParams(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	result, err := h.coordinator.RegenerateOTP(ctx, appID, kind)
	if err != nil {
		h.logWarn(ctx, "regenerate otp failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, scheduleResponseFrom(result))
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	appID, kind, err := pathParams(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	in := handover.VerifyInput{
		ApplicationID: appID,
		Kind:          kind,
		Code:          req.Code,
		Actor:         middleware.ActorID(ctx),
	}
	if req.PreviousOwner != nil {
		prev := id.UserID(*req.PreviousOwner)
		in.PreviousOwner = &prev
	}

	result, err := h.coordinator.Verify(ctx, in)
	if err != nil {
		h.logWarn(ctx, "verify handover failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, verifyResponseFrom(result))
}

func pathParams(r *http.Request) (id.ApplicationID, models.Kind, error) {
	appID, err := uuid.Parse(chi.URLParam(r, "applicationID"))
	if err != nil {
		return id.ApplicationID{}, "", dErrors.New(dErrors.CodeBadRequest, "invalid application id")
	}
	kind := models.Kind(chi.URLParam(r, "kind"))
	if !kind.IsValid() {
		return id.ApplicationID{}, "", dErrors.New(dErrors.CodeValidation, "unknown handover kind")
	}
	return id.ApplicationID(appID), kind, nil
}

func (h *Handler) logWarn(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"error", err.Error(),
		"request_id", middleware.GetRequestID(ctx),
	)
}

// scheduleResponse omits the OTP. The code travels to the recipient through
// the notification channel only.
type scheduleResponse struct {
	ApplicationID uuid.UUID  `json:"application_id"`
	Kind          string     `json:"kind"`
	PetCode       string     `json:"pet_code"`
	Recipient     uuid.UUID  `json:"recipient"`
	Status        string     `json:"status"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	Location      string     `json:"location,omitempty"`
	OTPExpiresAt  time.Time  `json:"otp_expires_at"`
	Warnings      []string   `json:"warnings,omitempty"`
}

type verifyResponse struct {
	ApplicationID uuid.UUID  `json:"application_id"`
	Kind          string     `json:"kind"`
	PetCode       string     `json:"pet_code"`
	Status        string     `json:"status"`
	CheckInTime   *time.Time `json:"actual_check_in_time,omitempty"`
	CheckOutTime  *time.Time `json:"actual_check_out_time,omitempty"`
	TransferID    uuid.UUID  `json:"transfer_id"`
	TransferType  string     `json:"transfer_type"`
	NewOwner      *uuid.UUID `json:"new_owner,omitempty"`
}

func scheduleResponseFrom(result *handover.ScheduleResult) scheduleResponse {
	rec := result.Record
	resp := scheduleResponse{
		ApplicationID: uuid.UUID(rec.ApplicationID),
		Kind:          string(rec.Kind),
		PetCode:       string(rec.PetCode),
		Recipient:     uuid.UUID(rec.Recipient),
		Status:        string(rec.Status),
		Location:      rec.Location,
		OTPExpiresAt:  rec.OTPExpiresAt,
		Warnings:      result.Warnings,
	}
	if !rec.ScheduledAt.IsZero() {
		at := rec.ScheduledAt
		resp.ScheduledAt = &at
	}
	return resp
}

func verifyResponseFrom(result *handover.VerifyResult) verifyResponse {
	resp := verifyResponse{
		ApplicationID: uuid.UUID(result.Handover.ApplicationID),
		Kind:          string(result.Handover.Kind),
		PetCode:       string(result.Handover.PetCode),
		Status:        string(result.Handover.Status),
		TransferID:    result.Entry.ID,
		TransferType:  string(result.Entry.Type),
	}
	if t := result.Handover.ActualCheckInTime; !t.IsZero() {
		at := t
		resp.CheckInTime = &at
	}
	if t := result.Handover.ActualCheckOutTime; !t.IsZero() {
		at := t
		resp.CheckOutTime = &at
	}
	if owner := result.Registry.CurrentOwner; !owner.IsNil() {
		u := uuid.UUID(owner)
		resp.NewOwner = &u
	}
	return resp
}
