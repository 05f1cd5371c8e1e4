package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"pawbase/internal/registry/models"
	"pawbase/internal/registry/store"
	id "pawbase/pkg/domain"
	"pawbase/pkg/platform/sentinel"
)

type RegistryStoreSuite struct {
	suite.Suite
	store *Store
	now   time.Time
}

func TestRegistryStoreSuite(t *testing.T) {
	suite.Run(t, new(RegistryStoreSuite))
}

func (s *RegistryStoreSuite) SetupTest() {
	s.store = New()
	s.now = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
}

func strp(v string) *string { return &v }

func (s *RegistryStoreSuite) register(code id.PetCode) *models.RegistryRecord {
	rec, created, err := s.store.Upsert(context.Background(), models.IdentityUpsert{
		PetCode:          code,
		Name:             strp("Biscuit"),
		Species:          strp("dog"),
		Source:           models.SourcePetshop,
		FirstAddedSource: models.SourcePetshop,
		FirstAddedBy:     id.UserID(uuid.New()),
		Actor:            id.UserID(uuid.New()),
	}, s.now)
	s.Require().NoError(err)
	s.Require().True(created)
	return rec
}

func (s *RegistryStoreSuite) TestUpsert() {
	s.Run("creates record with first-added provenance", func() {
		rec := s.register("ABC11111")
		s.Equal(models.SourcePetshop, rec.FirstAddedSource)
		s.Equal(s.now, rec.FirstAddedAt)
		s.Equal("Pet Shop", rec.SourceLabel)
	})

	s.Run("merge never clears omitted fields", func() {
		s.register("ABC22222")
		later := s.now.Add(time.Hour)
		rec, created, err := s.store.Upsert(context.Background(), models.IdentityUpsert{
			PetCode: "ABC22222",
			Color:   strp("brindle"),
			Source:  models.SourceCore,
		}, later)
		s.Require().NoError(err)
		s.False(created)
		s.Equal("Biscuit", rec.Name, "omitted name must survive the merge")
		s.Equal("brindle", rec.Color)
		s.Equal(models.SourceCore, rec.Source)
	})

	s.Run("never rewrites firstAdded provenance", func() {
		first := s.register("ABC33333")
		rec, _, err := s.store.Upsert(context.Background(), models.IdentityUpsert{
			PetCode:          "ABC33333",
			FirstAddedSource: models.SourceAdoption,
			FirstAddedBy:     id.UserID(uuid.New()),
		}, s.now.Add(time.Hour))
		s.Require().NoError(err)
		s.Equal(first.FirstAddedSource, rec.FirstAddedSource)
		s.Equal(first.FirstAddedBy, rec.FirstAddedBy)
		s.Equal(first.FirstAddedAt, rec.FirstAddedAt)
	})
}

func (s *RegistryStoreSuite) TestUpdateState() {
	s.Run("returns ErrNotFound for unregistered pet", func() {
		_, err := s.store.UpdateState(context.Background(), models.StateUpdate{PetCode: "ZZZ99999"}, s.now)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("partial update leaves untouched fields alone", func() {
		s.register("ABC44444")
		owner := id.UserID(uuid.New())
		loc := models.LocationAtOwner
		rec, err := s.store.UpdateState(context.Background(), models.StateUpdate{
			PetCode:  "ABC44444",
			Owner:    &owner,
			Location: &loc,
		}, s.now.Add(time.Minute))
		s.Require().NoError(err)
		s.Equal(owner, rec.CurrentOwner)
		s.Equal(models.LocationAtOwner, rec.CurrentLocation)
		s.Equal("Biscuit", rec.Name)
	})
}

func (s *RegistryStoreSuite) transferApp(code id.PetCode, t models.TransferType, newOwner id.UserID, key string) store.TransferApplication {
	outcome, ok := models.OutcomeFor(t)
	s.Require().True(ok)
	return store.TransferApplication{
		Entry: models.TransferEntry{
			PetCode:        code,
			NewOwner:       newOwner,
			Type:           t,
			PerformedBy:    id.UserID(uuid.New()),
			IdempotencyKey: key,
		},
		Outcome: outcome,
	}
}

func (s *RegistryStoreSuite) TestApplyTransfer() {
	s.Run("append and state update happen together", func() {
		s.register("ABC55555")
		buyer := id.UserID(uuid.New())
		rec, entry, replayed, err := s.store.ApplyTransfer(context.Background(),
			s.transferApp("ABC55555", models.TransferPurchase, buyer, ""), s.now)
		s.Require().NoError(err)
		s.False(replayed)
		s.Equal(buyer, rec.CurrentOwner)
		s.Equal(models.LocationAtOwner, rec.CurrentLocation)
		s.Equal(models.StatusSold, rec.CurrentStatus)
		s.Equal(s.now, rec.LastTransferAt)
		s.NotEqual(uuid.Nil, entry.ID)

		history, err := s.store.History(context.Background(), "ABC55555")
		s.Require().NoError(err)
		s.Require().Len(history, 1)
		s.Equal(entry.ID, history[0].ID)
	})

	s.Run("previous owner defaults to current owner", func() {
		s.register("ABC66666")
		first := id.UserID(uuid.New())
		_, _, _, err := s.store.ApplyTransfer(context.Background(),
			s.transferApp("ABC66666", models.TransferPurchase, first, ""), s.now)
		s.Require().NoError(err)

		second := id.UserID(uuid.New())
		_, entry, _, err := s.store.ApplyTransfer(context.Background(),
			s.transferApp("ABC66666", models.TransferTransfer, second, ""), s.now.Add(time.Hour))
		s.Require().NoError(err)
		s.Equal(first, entry.PreviousOwner)
	})

	s.Run("idempotency key replay returns original entry without appending", func() {
		s.register("ABC77777")
		buyer := id.UserID(uuid.New())
		_, first, _, err := s.store.ApplyTransfer(context.Background(),
			s.transferApp("ABC77777", models.TransferPurchase, buyer, "retry-1"), s.now)
		s.Require().NoError(err)

		_, second, replayed, err := s.store.ApplyTransfer(context.Background(),
			s.transferApp("ABC77777", models.TransferPurchase, buyer, "retry-1"), s.now.Add(time.Minute))
		s.Require().NoError(err)
		s.True(replayed)
		s.Equal(first.ID, second.ID)

		history, err := s.store.History(context.Background(), "ABC77777")
		s.Require().NoError(err)
		s.Len(history, 1)
	})

	s.Run("unregistered pet returns ErrNotFound", func() {
		_, _, _, err := s.store.ApplyTransfer(context.Background(),
			s.transferApp("ZZZ00001", models.TransferPurchase, id.UserID(uuid.New()), ""), s.now)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestApplyTransferStatusGuards verifies the outcome's status preconditions
// are evaluated under the same lock as the write, so two racing custody
// changes cannot both land.
func (s *RegistryStoreSuite) TestApplyTransferStatusGuards() {
	s.Run("admission while already in hospital appends nothing", func() {
		s.register("ABD11111")
		_, _, _, err := s.store.ApplyTransfer(context.Background(),
			s.transferApp("ABD11111", models.TransferHospitalAdmission, id.UserID{}, ""), s.now)
		s.Require().NoError(err)

		_, _, _, err = s.store.ApplyTransfer(context.Background(),
			s.transferApp("ABD11111", models.TransferHospitalAdmission, id.UserID{}, ""), s.now.Add(time.Hour))
		var stateErr *store.StateError
		s.Require().ErrorAs(err, &stateErr)
		s.ErrorIs(err, sentinel.ErrInvalidState)
		s.Equal(models.StatusInHospital, stateErr.Status)
		s.Equal(models.TransferHospitalAdmission, stateErr.Type)

		history, err := s.store.History(context.Background(), "ABD11111")
		s.Require().NoError(err)
		s.Len(history, 1)
	})

	s.Run("discharge requires a prior admission", func() {
		s.register("ABD22222")
		_, _, _, err := s.store.ApplyTransfer(context.Background(),
			s.transferApp("ABD22222", models.TransferHospitalDischarge, id.UserID(uuid.New()), ""), s.now)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("temporary care cannot start twice", func() {
		s.register("ABD33333")
		caretaker := id.UserID(uuid.New())
		_, _, _, err := s.store.ApplyTransfer(context.Background(),
			s.transferApp("ABD33333", models.TransferTemporaryCareStart, caretaker, ""), s.now)
		s.Require().NoError(err)

		_, _, _, err = s.store.ApplyTransfer(context.Background(),
			s.transferApp("ABD33333", models.TransferTemporaryCareStart, caretaker, ""), s.now.Add(time.Hour))
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("care end requires the pet to be in care", func() {
		s.register("ABD44444")
		_, _, _, err := s.store.ApplyTransfer(context.Background(),
			s.transferApp("ABD44444", models.TransferTemporaryCareEnd, id.UserID(uuid.New()), ""), s.now)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})
}

func (s *RegistryStoreSuite) TestHistoryOrderingAndImmutability() {
	s.register("ABC88888")
	owner := id.UserID(uuid.New())
	_, _, _, err := s.store.ApplyTransfer(context.Background(),
		s.transferApp("ABC88888", models.TransferPurchase, owner, ""), s.now)
	s.Require().NoError(err)
	_, _, _, err = s.store.ApplyTransfer(context.Background(),
		s.transferApp("ABC88888", models.TransferHospitalAdmission, id.UserID{}, ""), s.now.Add(time.Hour))
	s.Require().NoError(err)

	history, err := s.store.History(context.Background(), "ABC88888")
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(models.TransferHospitalAdmission, history[0].Type, "newest first")
	s.Equal(models.TransferPurchase, history[1].Type)

	// Mutating the returned slice must not leak into the store.
	history[1].Notes = "tampered"
	again, err := s.store.History(context.Background(), "ABC88888")
	s.Require().NoError(err)
	s.Equal("", again[1].Notes)
}

func (s *RegistryStoreSuite) TestVoidTransfer() {
	s.register("ABC99999")
	owner := id.UserID(uuid.New())
	_, entry, _, err := s.store.ApplyTransfer(context.Background(),
		s.transferApp("ABC99999", models.TransferPurchase, owner, ""), s.now)
	s.Require().NoError(err)

	actor := id.UserID(uuid.New())
	s.Require().NoError(s.store.VoidTransfer(context.Background(), "ABC99999", entry.ID, actor, s.now.Add(time.Hour)))

	history, err := s.store.History(context.Background(), "ABC99999")
	s.Require().NoError(err)
	s.Require().Len(history, 1, "voiding retains the row")
	s.True(history[0].Voided)

	err = s.store.VoidTransfer(context.Background(), "ABC99999", uuid.New(), actor, s.now)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// TestConcurrentTransfers verifies the append + state pair stays consistent
// under concurrent writers against the same pet code.
func (s *RegistryStoreSuite) TestConcurrentTransfers() {
	s.register("ABD00001")
	const goroutines = 32

	var wg sync.WaitGroup
	var applied atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, replayed, err := s.store.ApplyTransfer(context.Background(),
				s.transferApp("ABD00001", models.TransferTransfer, id.UserID(uuid.New()), ""), s.now)
			if err == nil && !replayed {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(goroutines), applied.Load())
	history, err := s.store.History(context.Background(), "ABD00001")
	s.Require().NoError(err)
	s.Len(history, goroutines)

	rec, err := s.store.Find(context.Background(), "ABD00001")
	s.Require().NoError(err)
	s.Equal(models.StatusOwned, rec.CurrentStatus, "state matches most recent entry outcome")
}
