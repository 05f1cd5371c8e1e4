// Package handover implements the OTP-gated state machine that stands
// between a scheduled custody exchange and the registry transfer recording
// it. One coordinator serves every flow that needs in-person verification
// (adoption pickup, temporary-care check-in and check-out), parameterized by
// expiry window.
package handover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pawbase/internal/handover/metrics"
	"pawbase/internal/handover/models"
	"pawbase/internal/handover/otp"
	"pawbase/internal/handover/store"
	registry "pawbase/internal/registry/models"
	id "pawbase/pkg/domain"
	dErrors "pawbase/pkg/domain-errors"
	audit "pawbase/pkg/platform/audit"
	"pawbase/pkg/platform/sentinel"
	"pawbase/pkg/requestcontext"
)

// scheduleHorizon bounds how far ahead an exchange may be scheduled.
const scheduleHorizon = 30 * 24 * time.Hour

// finalizeAttempts bounds retries of the registry transfer after a verified
// handover. The transfer carries an idempotency key, so retrying is safe.
const finalizeAttempts = 3

// Registry finalizes verified handovers into the transfer ledger.
type Registry interface {
	RecordTransfer(ctx context.Context, in registry.TransferInput) (*registry.RegistryRecord, *registry.TransferEntry, error)
}

// Notifier delivers the OTP to the custody recipient.
type Notifier interface {
	NotifyUser(ctx context.Context, user id.UserID, subject, body string) error
}

// AuditPublisher receives custody events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Coordinator struct {
	store          store.Store
	registry       Registry
	notifier       Notifier
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	logger         *slog.Logger

	adoptionWindow time.Duration
	careWindow     time.Duration
}

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(c *Coordinator) {
		c.auditPublisher = publisher
	}
}

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithAdoptionWindow overrides the OTP validity window for adoption pickups.
func WithAdoptionWindow(d time.Duration) Option {
	return func(c *Coordinator) {
		c.adoptionWindow = d
	}
}

// WithCareWindow overrides the OTP validity window for temporary-care
// check-in and check-out.
func WithCareWindow(d time.Duration) Option {
	return func(c *Coordinator) {
		c.careWindow = d
	}
}

func New(store store.Store, registry Registry, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("handover store is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	c := &Coordinator{
		store:          store,
		registry:       registry,
		logger:         slog.Default(),
		adoptionWindow: 72 * time.Hour,
		careWindow:     24 * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Coordinator) window(kind models.Kind) time.Duration {
	if kind == models.KindAdoption {
		return c.adoptionWindow
	}
	return c.careWindow
}

// ScheduleInput describes the exchange to schedule or reschedule.
type ScheduleInput struct {
	ApplicationID id.ApplicationID
	Kind          models.Kind
	PetCode       id.PetCode
	Recipient     id.UserID
	ScheduledAt   time.Time
	Location      string
	ProofDocs     []string

	// WorkflowComplete asserts that the upstream payment/approval workflow
	// finished. Scheduling is refused without it.
	WorkflowComplete bool
}

// ScheduleResult is a degraded-success carrier: the handover is scheduled
// even when the notification could not be delivered, and Warnings says so.
type ScheduleResult struct {
	Record   *models.HandoverRecord
	Warnings []string
}

// Schedule issues a one-time code for the exchange and dispatches it to the
// recipient. Calling it again before completion regenerates: the previous
// code is superseded and a fresh one issued.
func (c *Coordinator) Schedule(ctx context.Context, in ScheduleInput) (*ScheduleResult, error) {
	if in.ApplicationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "application id is required")
	}
	if !in.Kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown handover kind")
	}
	if _, err := id.ParsePetCode(string(in.PetCode)); err != nil {
		return nil, err
	}
	if in.Recipient.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "recipient is required")
	}
	if !in.WorkflowComplete {
		return nil, dErrors.New(dErrors.CodeConflict, "payment or approval is not complete")
	}

	now := requestcontext.Now(ctx)
	if !in.ScheduledAt.After(now) {
		return nil, dErrors.New(dErrors.CodeValidation, "scheduled time must be in the future")
	}
	if in.ScheduledAt.After(now.Add(scheduleHorizon)) {
		return nil, dErrors.New(dErrors.CodeValidation, "scheduled time must be within 30 days")
	}

	rec, err := c.store.Find(ctx, in.ApplicationID, in.Kind)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		rec = &models.HandoverRecord{
			ApplicationID: in.ApplicationID,
			Kind:          in.Kind,
			PetCode:       in.PetCode,
			Recipient:     in.Recipient,
			Status:        models.StatusNone,
		}
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load handover record")
	case rec.Status == models.StatusCompleted:
		return nil, dErrors.New(dErrors.CodeConflict, "handover already completed")
	}

	rec.ScheduledAt = in.ScheduledAt
	rec.Location = in.Location
	if in.ProofDocs != nil {
		rec.ProofDocs = append([]string(nil), in.ProofDocs...)
	}

	code, err := otp.Generate()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate otp")
	}
	rec.IssueOTP(code, now, c.window(in.Kind))

	if err := c.store.Save(ctx, rec, now); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.New(dErrors.CodeConflict, "handover already completed")
		}
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "handover was updated concurrently, retry")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save handover record")
	}

	if c.metrics != nil {
		c.metrics.IssuedTotal.Inc()
	}
	c.emit(ctx, audit.Event{
		PetCode:  rec.PetCode,
		Action:   string(audit.EventHandoverScheduled),
		NewOwner: rec.Recipient,
	})

	result := &ScheduleResult{Record: rec}
	if warning := c.dispatch(ctx, rec, code); warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}

	c.logger.InfoContext(ctx, "handover scheduled",
		"application_id", rec.ApplicationID,
		"kind", rec.Kind,
		"pet_code", rec.PetCode,
		"scheduled_at", rec.ScheduledAt,
		"notified", len(result.Warnings) == 0,
	)
	return result, nil
}

// RegenerateOTP supersedes the live code on an already-scheduled handover
// and issues a fresh one, keeping the schedule itself unchanged.
func (c *Coordinator) RegenerateOTP(ctx context.Context, appID id.ApplicationID, kind models.Kind) (*ScheduleResult, error) {
	if appID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "application id is required")
	}

	rec, err := c.store.Find(ctx, appID, kind)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no handover scheduled for this application")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load handover record")
	}
	if rec.Status != models.StatusScheduled {
		return nil, dErrors.New(dErrors.CodeConflict, "handover is not in a scheduled state")
	}

	now := requestcontext.Now(ctx)
	code, err := otp.Generate()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate otp")
	}
	rec.IssueOTP(code, now, c.window(kind))

	if err := c.store.Save(ctx, rec, now); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.New(dErrors.CodeConflict, "handover already completed")
		}
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "handover was updated concurrently, retry")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save handover record")
	}

	if c.metrics != nil {
		c.metrics.IssuedTotal.Inc()
	}
	c.emit(ctx, audit.Event{
		PetCode:  rec.PetCode,
		Action:   string(audit.EventHandoverOTPRegenerated),
		NewOwner: rec.Recipient,
	})

	result := &ScheduleResult{Record: rec}
	if warning := c.dispatch(ctx, rec, code); warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}
	return result, nil
}

// VerifyInput identifies the handover and carries the presented code.
type VerifyInput struct {
	ApplicationID id.ApplicationID
	Kind          models.Kind
	Code          string
	Actor         id.UserID

	// PreviousOwner overrides the ledger's previous-owner default when the
	// exchange returns the pet to someone other than the current holder.
	PreviousOwner *id.UserID
}

// VerifyResult reports the completed handover and the registry record after
// the custody change.
type VerifyResult struct {
	Handover *models.HandoverRecord
	Registry *registry.RegistryRecord
	Entry    *registry.TransferEntry
}

// Verify consumes the presented code and, on success, records the custody
// transfer in the registry. Consumption is a compare-and-set: of two
// concurrent calls with the same code, exactly one completes the handover.
func (c *Coordinator) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	if in.ApplicationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "application id is required")
	}
	if !otp.ValidFormat(in.Code) {
		c.reject(metrics.ReasonFormat)
		return nil, dErrors.New(dErrors.CodeValidation, "otp must be exactly six digits")
	}

	now := requestcontext.Now(ctx)
	rec, err := c.store.Consume(ctx, in.ApplicationID, in.Kind, in.Code, in.Actor, now)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "no handover scheduled for this application")
		case errors.Is(err, models.ErrMismatch):
			c.reject(metrics.ReasonMismatch)
			return nil, dErrors.New(dErrors.CodeInvalidInput, "otp does not match")
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			c.reject(metrics.ReasonUsed)
			return nil, dErrors.New(dErrors.CodeConflict, "otp already used")
		case errors.Is(err, sentinel.ErrExpired):
			c.reject(metrics.ReasonExpired)
			return nil, dErrors.New(dErrors.CodeExpired, "otp expired; regenerate to receive a new code")
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, dErrors.New(dErrors.CodeConflict, "handover already completed")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify otp")
	}

	result, err := c.finalize(ctx, rec, in)
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.VerifiedTotal.Inc()
	}
	c.emit(ctx, audit.Event{
		PetCode:      rec.PetCode,
		Action:       string(c.completionEvent(rec.Kind)),
		Actor:        in.Actor,
		NewOwner:     rec.Recipient,
		TransferType: string(rec.Kind.TransferType()),
	})

	c.logger.InfoContext(ctx, "handover completed",
		"application_id", rec.ApplicationID,
		"kind", rec.Kind,
		"pet_code", rec.PetCode,
		"recipient", rec.Recipient,
	)
	return result, nil
}

// finalize records the custody transfer behind a verified handover. The OTP
// is already spent at this point, so a failed transfer is retried with an
// idempotency key rather than surfaced as a plain error.
func (c *Coordinator) finalize(ctx context.Context, rec *models.HandoverRecord, in VerifyInput) (*VerifyResult, error) {
	input := registry.TransferInput{
		PetCode:        rec.PetCode,
		PreviousOwner:  in.PreviousOwner,
		NewOwner:       &rec.Recipient,
		Type:           rec.Kind.TransferType(),
		Source:         sourceFor(rec.Kind),
		PerformedBy:    in.Actor,
		IdempotencyKey: fmt.Sprintf("handover:%s:%s", rec.ApplicationID, rec.Kind),
	}

	var lastErr error
	for attempt := 0; attempt < finalizeAttempts; attempt++ {
		if attempt > 0 && c.metrics != nil {
			c.metrics.FinalizeRetries.Inc()
		}
		reg, entry, err := c.registry.RecordTransfer(ctx, input)
		if err == nil {
			return &VerifyResult{Handover: rec, Registry: reg, Entry: entry}, nil
		}
		if dErrors.HasCode(err, dErrors.CodeValidation) ||
			dErrors.HasCode(err, dErrors.CodeNotFound) ||
			dErrors.HasCode(err, dErrors.CodeBadRequest) {
			return nil, err
		}
		lastErr = err
	}

	c.logger.ErrorContext(ctx, "verified handover could not be recorded in the registry",
		"application_id", rec.ApplicationID,
		"pet_code", rec.PetCode,
		"error", lastErr,
	)
	return nil, dErrors.Wrap(lastErr, dErrors.CodeInvariantViolation,
		"handover verified but custody transfer not recorded")
}

func sourceFor(kind models.Kind) registry.Source {
	if kind == models.KindAdoption {
		return registry.SourceAdoption
	}
	return registry.SourceCore
}

func (c *Coordinator) completionEvent(kind models.Kind) audit.AuditEvent {
	switch kind {
	case models.KindCareCheckIn:
		return audit.EventCareCheckIn
	case models.KindCareCheckOut:
		return audit.EventCareCheckOut
	default:
		return audit.EventHandoverCompleted
	}
}

// dispatch emails the code to the recipient. Delivery failure is a warning
// on the result, never an operation error.
func (c *Coordinator) dispatch(ctx context.Context, rec *models.HandoverRecord, code string) string {
	if c.notifier == nil {
		return ""
	}

	subject := fmt.Sprintf("Handover code for pet %s", rec.PetCode)
	body := fmt.Sprintf(
		"Your handover for pet %s is scheduled at %s (%s).\n\nYour one-time code is %s. It expires at %s.",
		rec.PetCode,
		rec.ScheduledAt.Format(time.RFC1123),
		rec.Location,
		code,
		rec.OTPExpiresAt.Format(time.RFC1123),
	)
	if err := c.notifier.NotifyUser(ctx, rec.Recipient, subject, body); err != nil {
		c.logger.WarnContext(ctx, "otp notification failed",
			"application_id", rec.ApplicationID,
			"recipient", rec.Recipient,
			"error", err,
		)
		return fmt.Sprintf("notification not delivered: %v", err)
	}
	return ""
}

func (c *Coordinator) reject(reason string) {
	if c.metrics != nil {
		c.metrics.RejectedTotal.WithLabelValues(reason).Inc()
	}
}

func (c *Coordinator) emit(ctx context.Context, event audit.Event) {
	if c.auditPublisher == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	if err := c.auditPublisher.Emit(ctx, event); err != nil {
		c.logger.WarnContext(ctx, "failed to emit custody event",
			"action", event.Action,
			"pet_code", event.PetCode,
			"error", err,
		)
	}
}
