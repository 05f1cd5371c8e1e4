// Package models defines the handover record: the OTP-gated state machine
// that sits between a scheduled custody exchange and the registry transfer
// that records it.
package models

import (
	"errors"
	"time"

	registry "pawbase/internal/registry/models"
	id "pawbase/pkg/domain"
)

// Validation errors returned by domain methods. Stores translate these to
// sentinel errors at their boundary.
var (
	ErrMismatch    = errors.New("otp does not match")
	ErrAlreadyUsed = errors.New("otp already used")
	ErrExpired     = errors.New("otp expired")
	ErrCompleted   = errors.New("handover already completed")
)

// Status is the handover lifecycle. Completed is terminal.
type Status string

const (
	StatusNone      Status = "none"
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
)

// Kind names the custody exchange being verified. It selects the transfer
// type recorded on completion and which check timestamp is stamped.
type Kind string

const (
	KindAdoption     Kind = "adoption"
	KindCareCheckIn  Kind = "temporary_care_check_in"
	KindCareCheckOut Kind = "temporary_care_check_out"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindAdoption, KindCareCheckIn, KindCareCheckOut:
		return true
	}
	return false
}

// TransferType maps the handover kind to the ledger entry it finalizes into.
func (k Kind) TransferType() registry.TransferType {
	switch k {
	case KindAdoption:
		return registry.TransferAdoption
	case KindCareCheckIn:
		return registry.TransferTemporaryCareStart
	case KindCareCheckOut:
		return registry.TransferTemporaryCareEnd
	default:
		return ""
	}
}

// OTPEntry is one issued code. Entries are append-only; Used means the
// recipient redeemed it, Superseded means regeneration invalidated it before
// redemption. The two are kept distinct for audit accuracy.
type OTPEntry struct {
	Code         string
	GeneratedAt  time.Time
	ExpiresAt    time.Time
	Used         bool
	UsedAt       time.Time
	Superseded   bool
	SupersededAt time.Time
}

// historyCap bounds otp history growth per handover.
const historyCap = 10

// HandoverRecord tracks one scheduled exchange, keyed by application and
// kind (a temporary-care application has a check-in and a check-out
// handover, each with its own record).
type HandoverRecord struct {
	ApplicationID id.ApplicationID
	Kind          Kind
	PetCode       id.PetCode

	// Recipient takes custody on completion and receives the OTP.
	Recipient id.UserID

	Status      Status
	ScheduledAt time.Time
	Location    string
	ProofDocs   []string

	// Active code, cleared once used. History retains every issued code.
	OTP            string
	OTPGeneratedAt time.Time
	OTPExpiresAt   time.Time
	OTPUsed        bool
	OTPHistory     []OTPEntry

	ActualCheckInTime  time.Time
	ActualCheckOutTime time.Time
	CheckedInBy        id.UserID
	CheckedOutBy       id.UserID

	// Version is the optimistic-concurrency token: Save succeeds only when
	// it matches the stored record, so two read-modify-write schedules
	// cannot silently overwrite each other's OTP history.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *HandoverRecord) Clone() *HandoverRecord {
	cp := *r
	cp.ProofDocs = append([]string(nil), r.ProofDocs...)
	cp.OTPHistory = append([]OTPEntry(nil), r.OTPHistory...)
	return &cp
}

// IssueOTP makes code the single live OTP. Any prior live code is marked
// superseded in history, never removed; history is capped at the most
// recent entries.
func (r *HandoverRecord) IssueOTP(code string, now time.Time, window time.Duration) {
	if r.OTP != "" && !r.OTPUsed {
		for i := range r.OTPHistory {
			entry := &r.OTPHistory[i]
			if entry.Code == r.OTP && !entry.Used && !entry.Superseded {
				entry.Superseded = true
				entry.SupersededAt = now
			}
		}
	}

	r.OTP = code
	r.OTPGeneratedAt = now
	r.OTPExpiresAt = now.Add(window)
	r.OTPUsed = false
	r.OTPHistory = append(r.OTPHistory, OTPEntry{
		Code:        code,
		GeneratedAt: now,
		ExpiresAt:   now.Add(window),
	})
	if len(r.OTPHistory) > historyCap {
		r.OTPHistory = r.OTPHistory[len(r.OTPHistory)-historyCap:]
	}

	r.Status = StatusScheduled
	r.UpdatedAt = now
}

// ValidateForConsume checks code against the live OTP and unspent history
// entries. It returns the matching history entry without mutating anything.
func (r *HandoverRecord) ValidateForConsume(code string, now time.Time) (*OTPEntry, error) {
	if r.Status == StatusCompleted {
		return nil, ErrCompleted
	}

	var match *OTPEntry
	for i := range r.OTPHistory {
		if r.OTPHistory[i].Code == code {
			match = &r.OTPHistory[i]
		}
	}
	if match == nil {
		return nil, ErrMismatch
	}
	if match.Used || match.Superseded {
		return nil, ErrAlreadyUsed
	}
	if now.After(match.ExpiresAt) {
		return nil, ErrExpired
	}
	return match, nil
}

// Consume marks the matched entry used, clears the live code, stamps the
// check time for this kind, and completes the handover. Callers must hold
// whatever lock serializes writes to this record.
func (r *HandoverRecord) Consume(entry *OTPEntry, actor id.UserID, now time.Time) {
	entry.Used = true
	entry.UsedAt = now

	r.OTP = ""
	r.OTPUsed = true
	r.Status = StatusCompleted
	r.UpdatedAt = now

	switch r.Kind {
	case KindCareCheckOut:
		r.ActualCheckOutTime = now
		r.CheckedOutBy = actor
	default:
		r.ActualCheckInTime = now
		r.CheckedInBy = actor
	}
}
