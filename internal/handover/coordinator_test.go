package handover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"pawbase/internal/handover/models"
	handovermem "pawbase/internal/handover/store/memory"
	"pawbase/internal/notify"
	registrymodels "pawbase/internal/registry/models"
	registrysvc "pawbase/internal/registry/service"
	registrymem "pawbase/internal/registry/store/memory"
	id "pawbase/pkg/domain"
	dErrors "pawbase/pkg/domain-errors"
	"pawbase/pkg/requestcontext"
)

type CoordinatorSuite struct {
	suite.Suite
	registry    *registrysvc.Service
	store       *handovermem.Store
	sender      *notify.RecordingSender
	coordinator *Coordinator

	owner   id.UserID
	adopter id.UserID
	appID   id.ApplicationID
	t0      time.Time
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	var err error
	s.registry, err = registrysvc.New(registrymem.New())
	s.Require().NoError(err)

	s.owner = id.UserID(uuid.New())
	s.adopter = id.UserID(uuid.New())
	s.appID = id.ApplicationID(uuid.New())
	s.t0 = time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	s.store = handovermem.New()
	s.sender = &notify.RecordingSender{}

	notifier, err := notify.New(s.sender, notify.StaticContacts{
		s.adopter: "jamie.doe@example.com",
		s.owner:   "sam@example.com",
	})
	s.Require().NoError(err)

	s.coordinator, err = New(s.store, s.registry, WithNotifier(notifier))
	s.Require().NoError(err)

	ctx := context.Background()
	_, _, err = s.registry.UpsertIdentity(ctx, registrymodels.IdentityUpsert{
		PetCode: id.PetCode("ABC12345"),
		Name:    strPtr("Rex"),
		Source:  registrymodels.SourceAdoption,
		Actor:   s.owner,
	})
	s.Require().NoError(err)
	_, _, err = s.registry.RecordTransfer(ctx, registrymodels.TransferInput{
		PetCode:     id.PetCode("ABC12345"),
		NewOwner:    &s.owner,
		Type:        registrymodels.TransferInitial,
		PerformedBy: s.owner,
	})
	s.Require().NoError(err)
}

func strPtr(v string) *string { return &v }

func (s *CoordinatorSuite) ctxAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *CoordinatorSuite) schedule(at time.Time) *models.HandoverRecord {
	result, err := s.coordinator.Schedule(s.ctxAt(at), ScheduleInput{
		ApplicationID:    s.appID,
		Kind:             models.KindAdoption,
		PetCode:          id.PetCode("ABC12345"),
		Recipient:        s.adopter,
		ScheduledAt:      at.Add(48 * time.Hour),
		Location:         "Rainbow Shelter, Desk 2",
		WorkflowComplete: true,
	})
	s.Require().NoError(err)
	s.Require().Empty(result.Warnings)
	return result.Record
}

// wrongCode returns a six-digit code guaranteed not to equal code.
func wrongCode(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}

func (s *CoordinatorSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil, s.registry)
		s.Error(err)
	})
	s.Run("nil registry returns error", func() {
		_, err := New(s.store, nil)
		s.Error(err)
	})
}

func (s *CoordinatorSuite) TestSchedulePreconditions() {
	base := ScheduleInput{
		ApplicationID:    s.appID,
		Kind:             models.KindAdoption,
		PetCode:          id.PetCode("ABC12345"),
		Recipient:        s.adopter,
		ScheduledAt:      s.t0.Add(24 * time.Hour),
		WorkflowComplete: true,
	}

	s.Run("incomplete workflow is refused", func() {
		in := base
		in.WorkflowComplete = false
		_, err := s.coordinator.Schedule(s.ctxAt(s.t0), in)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("past schedule time is refused", func() {
		in := base
		in.ScheduledAt = s.t0.Add(-time.Hour)
		_, err := s.coordinator.Schedule(s.ctxAt(s.t0), in)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("schedule beyond thirty days is refused", func() {
		in := base
		in.ScheduledAt = s.t0.Add(31 * 24 * time.Hour)
		_, err := s.coordinator.Schedule(s.ctxAt(s.t0), in)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing recipient is refused", func() {
		in := base
		in.Recipient = id.UserID{}
		_, err := s.coordinator.Schedule(s.ctxAt(s.t0), in)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *CoordinatorSuite) TestScheduleIssuesAndDispatches() {
	rec := s.schedule(s.t0)

	s.Equal(models.StatusScheduled, rec.Status)
	s.Len(rec.OTP, 6)
	s.False(rec.OTPUsed)
	s.Require().Len(rec.OTPHistory, 1)
	s.Equal(rec.OTP, rec.OTPHistory[0].Code)

	s.Require().Len(s.sender.Messages, 1)
	msg := s.sender.Messages[0]
	s.Equal("jamie.doe@example.com", msg.To)
	s.Contains(msg.Subject, "ABC12345")
	s.Contains(msg.Body, rec.OTP)
	s.Contains(msg.Body, "Dear Jamie Doe,")
	s.Contains(msg.Body, "Rainbow Shelter")
}

func (s *CoordinatorSuite) TestScheduleNotifyFailureIsDegradedSuccess() {
	s.sender.FailWith = errors.New("smtp gateway down")

	result, err := s.coordinator.Schedule(s.ctxAt(s.t0), ScheduleInput{
		ApplicationID:    s.appID,
		Kind:             models.KindAdoption,
		PetCode:          id.PetCode("ABC12345"),
		Recipient:        s.adopter,
		ScheduledAt:      s.t0.Add(24 * time.Hour),
		WorkflowComplete: true,
	})
	s.Require().NoError(err, "scheduling must survive a notification failure")
	s.Require().Len(result.Warnings, 1)
	s.Contains(result.Warnings[0], "notification not delivered")
	s.Equal(models.StatusScheduled, result.Record.Status)
}

// interleavedStore runs a competing write right before the first Save, so the
// caller's read-modify-write becomes stale.
type interleavedStore struct {
	*handovermem.Store
	interleave func()
	once       sync.Once
}

func (s *interleavedStore) Save(ctx context.Context, rec *models.HandoverRecord, now time.Time) error {
	s.once.Do(s.interleave)
	return s.Store.Save(ctx, rec, now)
}

func (s *CoordinatorSuite) TestScheduleConcurrentWriteConflicts() {
	inner := handovermem.New()
	store := &interleavedStore{Store: inner}
	store.interleave = func() {
		rival := &models.HandoverRecord{
			ApplicationID: s.appID,
			Kind:          models.KindAdoption,
			PetCode:       id.PetCode("ABC12345"),
			Recipient:     s.adopter,
		}
		rival.IssueOTP("424242", s.t0, time.Hour)
		s.Require().NoError(inner.Save(context.Background(), rival, s.t0))
	}

	coordinator, err := New(store, s.registry)
	s.Require().NoError(err)

	_, err = coordinator.Schedule(s.ctxAt(s.t0), ScheduleInput{
		ApplicationID:    s.appID,
		Kind:             models.KindAdoption,
		PetCode:          id.PetCode("ABC12345"),
		Recipient:        s.adopter,
		ScheduledAt:      s.t0.Add(24 * time.Hour),
		WorkflowComplete: true,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	rec, err := inner.Find(context.Background(), s.appID, models.KindAdoption)
	s.Require().NoError(err)
	s.Equal("424242", rec.OTP, "the concurrent writer's code survives")
	s.Len(rec.OTPHistory, 1, "the losing write does not drop history")
}

func (s *CoordinatorSuite) TestVerify() {
	rec := s.schedule(s.t0)
	code := rec.OTP

	s.Run("malformed code is rejected without state change", func() {
		_, err := s.coordinator.Verify(s.ctxAt(s.t0), VerifyInput{
			ApplicationID: s.appID,
			Kind:          models.KindAdoption,
			Code:          "12ab56",
			Actor:         s.adopter,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("wrong code is a mismatch and leaves status scheduled", func() {
		_, err := s.coordinator.Verify(s.ctxAt(s.t0), VerifyInput{
			ApplicationID: s.appID,
			Kind:          models.KindAdoption,
			Code:          wrongCode(code),
			Actor:         s.adopter,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

		stored, err := s.store.Find(context.Background(), s.appID, models.KindAdoption)
		s.Require().NoError(err)
		s.Equal(models.StatusScheduled, stored.Status)
	})

	s.Run("correct code completes the handover and records the transfer", func() {
		result, err := s.coordinator.Verify(s.ctxAt(s.t0.Add(time.Hour)), VerifyInput{
			ApplicationID: s.appID,
			Kind:          models.KindAdoption,
			Code:          code,
			Actor:         s.adopter,
		})
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, result.Handover.Status)
		s.Empty(result.Handover.OTP, "active code is cleared once used")
		s.Equal(s.adopter, result.Handover.CheckedInBy)
		s.False(result.Handover.ActualCheckInTime.IsZero())

		s.Equal(s.adopter, result.Registry.CurrentOwner)
		s.Equal(registrymodels.StatusAdopted, result.Registry.CurrentStatus)
		s.Equal(registrymodels.TransferAdoption, result.Entry.Type)
		s.Equal(s.owner, result.Entry.PreviousOwner)
	})

	s.Run("replaying the code reports it as used", func() {
		_, err := s.coordinator.Verify(s.ctxAt(s.t0.Add(time.Hour)), VerifyInput{
			ApplicationID: s.appID,
			Kind:          models.KindAdoption,
			Code:          code,
			Actor:         s.adopter,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown application is not found", func() {
		_, err := s.coordinator.Verify(s.ctxAt(s.t0), VerifyInput{
			ApplicationID: id.ApplicationID(uuid.New()),
			Kind:          models.KindAdoption,
			Code:          "123456",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *CoordinatorSuite) TestVerifyExpired() {
	rec := s.schedule(s.t0)

	late := s.t0.Add(73 * time.Hour)
	_, err := s.coordinator.Verify(s.ctxAt(late), VerifyInput{
		ApplicationID: s.appID,
		Kind:          models.KindAdoption,
		Code:          rec.OTP,
		Actor:         s.adopter,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeExpired))

	stored, err := s.store.Find(context.Background(), s.appID, models.KindAdoption)
	s.Require().NoError(err)
	s.Equal(models.StatusScheduled, stored.Status, "expiry must not consume the handover")
}

func (s *CoordinatorSuite) TestRegenerationSupersedesPriorCode() {
	first := s.schedule(s.t0).OTP

	result, err := s.coordinator.RegenerateOTP(s.ctxAt(s.t0.Add(time.Hour)), s.appID, models.KindAdoption)
	s.Require().NoError(err)
	second := result.Record.OTP
	s.NotEqual(first, second)

	s.Require().Len(result.Record.OTPHistory, 2)
	s.True(result.Record.OTPHistory[0].Superseded, "prior code is superseded, not used")
	s.False(result.Record.OTPHistory[0].Used)

	s.Run("superseded code no longer verifies", func() {
		_, err := s.coordinator.Verify(s.ctxAt(s.t0.Add(2*time.Hour)), VerifyInput{
			ApplicationID: s.appID,
			Kind:          models.KindAdoption,
			Code:          first,
			Actor:         s.adopter,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("fresh code verifies", func() {
		result, err := s.coordinator.Verify(s.ctxAt(s.t0.Add(2*time.Hour)), VerifyInput{
			ApplicationID: s.appID,
			Kind:          models.KindAdoption,
			Code:          second,
			Actor:         s.adopter,
		})
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, result.Handover.Status)
	})

	s.Run("regenerating a completed handover conflicts", func() {
		_, err := s.coordinator.RegenerateOTP(s.ctxAt(s.t0.Add(3*time.Hour)), s.appID, models.KindAdoption)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *CoordinatorSuite) TestConcurrentVerifySingleSuccess() {
	rec := s.schedule(s.t0)
	code := rec.OTP

	const attempts = 16
	var wg sync.WaitGroup
	successes := make(chan struct{}, attempts)
	conflicts := make(chan struct{}, attempts)

	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.coordinator.Verify(s.ctxAt(s.t0.Add(time.Hour)), VerifyInput{
				ApplicationID: s.appID,
				Kind:          models.KindAdoption,
				Code:          code,
				Actor:         s.adopter,
			})
			switch {
			case err == nil:
				successes <- struct{}{}
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)
	close(conflicts)

	s.Equal(1, len(successes), "exactly one concurrent verify must win")
	s.Equal(attempts-1, len(conflicts))

	history, err := s.registry.History(context.Background(), id.PetCode("ABC12345"))
	s.Require().NoError(err)
	s.Len(history.Entries, 2, "initial plus exactly one adoption entry")
}

func (s *CoordinatorSuite) TestTemporaryCareCheckInAndOut() {
	ctx := s.ctxAt(s.t0)
	caretaker := id.UserID(uuid.New())
	careApp := id.ApplicationID(uuid.New())

	contacts := notify.StaticContacts{caretaker: "care.taker@example.com", s.owner: "sam@example.com"}
	notifier, err := notify.New(s.sender, contacts)
	s.Require().NoError(err)
	coordinator, err := New(s.store, s.registry, WithNotifier(notifier))
	s.Require().NoError(err)

	checkIn, err := coordinator.Schedule(ctx, ScheduleInput{
		ApplicationID:    careApp,
		Kind:             models.KindCareCheckIn,
		PetCode:          id.PetCode("ABC12345"),
		Recipient:        caretaker,
		ScheduledAt:      s.t0.Add(6 * time.Hour),
		WorkflowComplete: true,
	})
	s.Require().NoError(err)

	result, err := coordinator.Verify(s.ctxAt(s.t0.Add(6*time.Hour)), VerifyInput{
		ApplicationID: careApp,
		Kind:          models.KindCareCheckIn,
		Code:          checkIn.Record.OTP,
		Actor:         caretaker,
	})
	s.Require().NoError(err)
	s.Equal(caretaker, result.Registry.CurrentOwner)
	s.Equal(registrymodels.StatusInTemporaryCare, result.Registry.CurrentStatus)
	s.Equal(caretaker, result.Handover.CheckedInBy)

	checkOut, err := coordinator.Schedule(s.ctxAt(s.t0.Add(7*time.Hour)), ScheduleInput{
		ApplicationID:    careApp,
		Kind:             models.KindCareCheckOut,
		PetCode:          id.PetCode("ABC12345"),
		Recipient:        s.owner,
		ScheduledAt:      s.t0.Add(24 * time.Hour),
		WorkflowComplete: true,
	})
	s.Require().NoError(err)

	result, err = coordinator.Verify(s.ctxAt(s.t0.Add(24*time.Hour)), VerifyInput{
		ApplicationID: careApp,
		Kind:          models.KindCareCheckOut,
		Code:          checkOut.Record.OTP,
		Actor:         caretaker,
	})
	s.Require().NoError(err)
	s.Equal(s.owner, result.Registry.CurrentOwner)
	s.Equal(registrymodels.StatusOwned, result.Registry.CurrentStatus)
	s.Equal(caretaker, result.Handover.CheckedOutBy)
	s.False(result.Handover.ActualCheckOutTime.IsZero())
}

func (s *CoordinatorSuite) TestHistoryCap() {
	s.schedule(s.t0)
	for i := 1; i <= 14; i++ {
		_, err := s.coordinator.RegenerateOTP(s.ctxAt(s.t0.Add(time.Duration(i)*time.Minute)), s.appID, models.KindAdoption)
		s.Require().NoError(err)
	}

	stored, err := s.store.Find(context.Background(), s.appID, models.KindAdoption)
	s.Require().NoError(err)
	s.Len(stored.OTPHistory, 10, "history keeps only the most recent codes")
	s.Equal(stored.OTP, stored.OTPHistory[len(stored.OTPHistory)-1].Code)
}
