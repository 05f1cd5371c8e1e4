package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"pawbase/internal/handover/models"
	id "pawbase/pkg/domain"
	"pawbase/pkg/platform/sentinel"
)

type HandoverStoreSuite struct {
	suite.Suite
	store *Store
	appID id.ApplicationID
	actor id.UserID
	t0    time.Time
}

func TestHandoverStoreSuite(t *testing.T) {
	suite.Run(t, new(HandoverStoreSuite))
}

func (s *HandoverStoreSuite) SetupTest() {
	s.store = New()
	s.appID = id.ApplicationID(uuid.New())
	s.actor = id.UserID(uuid.New())
	s.t0 = time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
}

func (s *HandoverStoreSuite) scheduled(code string) *models.HandoverRecord {
	rec := &models.HandoverRecord{
		ApplicationID: s.appID,
		Kind:          models.KindAdoption,
		PetCode:       id.PetCode("ABC12345"),
		Recipient:     s.actor,
	}
	rec.IssueOTP(code, s.t0, time.Hour)
	s.Require().NoError(s.store.Save(context.Background(), rec, s.t0))
	return rec
}

func (s *HandoverStoreSuite) TestFindNotFound() {
	_, err := s.store.Find(context.Background(), s.appID, models.KindAdoption)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *HandoverStoreSuite) TestFindReturnsCopy() {
	s.scheduled("123456")

	rec, err := s.store.Find(context.Background(), s.appID, models.KindAdoption)
	s.Require().NoError(err)
	rec.OTPHistory[0].Used = true
	rec.OTP = "tampered"

	fresh, err := s.store.Find(context.Background(), s.appID, models.KindAdoption)
	s.Require().NoError(err)
	s.Equal("123456", fresh.OTP)
	s.False(fresh.OTPHistory[0].Used)
}

func (s *HandoverStoreSuite) TestConsume() {
	ctx := context.Background()

	s.Run("unknown record is not found", func() {
		_, err := s.store.Consume(ctx, s.appID, models.KindAdoption, "123456", s.actor, s.t0)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("wrong code is a mismatch", func() {
		s.scheduled("123456")
		_, err := s.store.Consume(ctx, s.appID, models.KindAdoption, "000000", s.actor, s.t0)
		s.ErrorIs(err, models.ErrMismatch)
	})

	s.Run("expired code", func() {
		_, err := s.store.Consume(ctx, s.appID, models.KindAdoption, "123456", s.actor, s.t0.Add(2*time.Hour))
		s.ErrorIs(err, sentinel.ErrExpired)
	})

	s.Run("valid code consumes once", func() {
		rec, err := s.store.Consume(ctx, s.appID, models.KindAdoption, "123456", s.actor, s.t0.Add(time.Minute))
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, rec.Status)
		s.Empty(rec.OTP)
		s.True(rec.OTPHistory[0].Used)

		_, err = s.store.Consume(ctx, s.appID, models.KindAdoption, "123456", s.actor, s.t0.Add(time.Minute))
		s.ErrorIs(err, sentinel.ErrInvalidState, "completed handover refuses further consumption")
	})
}

func (s *HandoverStoreSuite) TestSaveRefusesCompleted() {
	ctx := context.Background()
	rec := s.scheduled("123456")

	_, err := s.store.Consume(ctx, s.appID, models.KindAdoption, "123456", s.actor, s.t0.Add(time.Minute))
	s.Require().NoError(err)

	rec.IssueOTP("654321", s.t0.Add(2*time.Minute), time.Hour)
	err = s.store.Save(ctx, rec, s.t0.Add(2*time.Minute))
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *HandoverStoreSuite) TestSaveVersionCheck() {
	ctx := context.Background()

	s.Run("create bumps the version", func() {
		rec := s.scheduled("123456")
		s.Equal(int64(1), rec.Version)
	})

	s.Run("stale creation loses", func() {
		dup := &models.HandoverRecord{
			ApplicationID: s.appID,
			Kind:          models.KindAdoption,
			PetCode:       id.PetCode("ABC12345"),
			Recipient:     s.actor,
		}
		dup.IssueOTP("999999", s.t0, time.Hour)
		err := s.store.Save(ctx, dup, s.t0)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("stale read-modify-write loses and history survives", func() {
		first, err := s.store.Find(ctx, s.appID, models.KindAdoption)
		s.Require().NoError(err)
		second, err := s.store.Find(ctx, s.appID, models.KindAdoption)
		s.Require().NoError(err)

		first.IssueOTP("111111", s.t0.Add(time.Minute), time.Hour)
		s.Require().NoError(s.store.Save(ctx, first, s.t0.Add(time.Minute)))
		s.Equal(int64(2), first.Version)

		second.IssueOTP("222222", s.t0.Add(time.Minute), time.Hour)
		err = s.store.Save(ctx, second, s.t0.Add(time.Minute))
		s.ErrorIs(err, sentinel.ErrConflict)

		fresh, err := s.store.Find(ctx, s.appID, models.KindAdoption)
		s.Require().NoError(err)
		s.Equal("111111", fresh.OTP)
		s.Len(fresh.OTPHistory, 2, "the superseded code stays in history")
	})
}

func (s *HandoverStoreSuite) TestConcurrentConsumeSingleWinner() {
	ctx := context.Background()
	s.scheduled("123456")

	const attempts = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)

	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.store.Consume(ctx, s.appID, models.KindAdoption, "123456", s.actor, s.t0.Add(time.Minute)); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	s.Equal(1, len(wins), "compare-and-set allows exactly one winner")
}
