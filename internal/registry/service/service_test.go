package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"pawbase/internal/registry/metrics"
	"pawbase/internal/registry/models"
	registrymem "pawbase/internal/registry/store/memory"
	id "pawbase/pkg/domain"
	dErrors "pawbase/pkg/domain-errors"
	audit "pawbase/pkg/platform/audit"
	"pawbase/pkg/platform/audit/publisher"
	auditmem "pawbase/pkg/platform/audit/store/memory"
	"pawbase/pkg/requestcontext"
)

// =============================================================================
// Registry Service Test Suite
// =============================================================================
// Justification for unit tests: validation, owner-requirement rules, and the
// idempotent replay path contain branching that is awkward to reach through
// handler-level tests.

type RegistryServiceSuite struct {
	suite.Suite
	store      *registrymem.Store
	auditStore *auditmem.InMemoryStore
	metrics    *metrics.Metrics
	service    *Service
}

func TestRegistryServiceSuite(t *testing.T) {
	suite.Run(t, new(RegistryServiceSuite))
}

func (s *RegistryServiceSuite) SetupTest() {
	s.store = registrymem.New()
	s.auditStore = auditmem.NewInMemoryStore()
	s.metrics = metrics.NewWith(prometheus.NewRegistry())

	var err error
	s.service, err = New(s.store,
		WithMetrics(s.metrics),
		WithAuditPublisher(publisher.NewPublisher(s.auditStore)),
	)
	s.Require().NoError(err)
}

func (s *RegistryServiceSuite) register(ctx context.Context, code string, owner id.UserID) *models.RegistryRecord {
	rec, created, err := s.service.UpsertIdentity(ctx, models.IdentityUpsert{
		PetCode: id.PetCode(code),
		Name:    strPtr("Rex"),
		Species: strPtr("dog"),
		Source:  models.SourceCore,
		Actor:   owner,
	})
	s.Require().NoError(err)
	s.Require().True(created)

	_, _, err = s.service.RecordTransfer(ctx, models.TransferInput{
		PetCode:     id.PetCode(code),
		NewOwner:    &owner,
		Type:        models.TransferInitial,
		Source:      models.SourceCore,
		PerformedBy: owner,
	})
	s.Require().NoError(err)
	return rec
}

func strPtr(v string) *string        { return &v }
func userPtr(v id.UserID) *id.UserID { return &v }

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *RegistryServiceSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil)
		s.Error(err)
		s.Contains(err.Error(), "registry store is required")
	})

	s.Run("valid store returns configured service", func() {
		svc, err := New(s.store)
		s.NoError(err)
		s.NotNil(svc)
	})
}

// =============================================================================
// UpsertIdentity Tests
// =============================================================================

func (s *RegistryServiceSuite) TestUpsertIdentity() {
	ctx := context.Background()
	actor := id.UserID(uuid.New())

	s.Run("malformed pet code is rejected", func() {
		_, _, err := s.service.UpsertIdentity(ctx, models.IdentityUpsert{
			PetCode: id.PetCode("abc123"),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("empty pet code is rejected", func() {
		_, _, err := s.service.UpsertIdentity(ctx, models.IdentityUpsert{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("unknown source is rejected", func() {
		_, _, err := s.service.UpsertIdentity(ctx, models.IdentityUpsert{
			PetCode: id.PetCode("ABC12345"),
			Source:  models.Source("warehouse"),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("first upsert creates the record with provenance", func() {
		rec, created, err := s.service.UpsertIdentity(ctx, models.IdentityUpsert{
			PetCode: id.PetCode("ABC12345"),
			Name:    strPtr("Rex"),
			Source:  models.SourcePetshop,
			Actor:   actor,
		})
		s.Require().NoError(err)
		s.True(created)
		s.Equal("Rex", rec.Name)
		s.Equal(models.SourcePetshop, rec.FirstAddedSource)
		s.Equal(actor, rec.FirstAddedBy)
		s.Equal("Pet Shop", rec.SourceLabel)
		s.Equal(float64(1), promtest.ToFloat64(s.metrics.RegistrationsTotal))
	})

	s.Run("second upsert merges without touching provenance", func() {
		rec, created, err := s.service.UpsertIdentity(ctx, models.IdentityUpsert{
			PetCode: id.PetCode("ABC12345"),
			Breed:   strPtr("beagle"),
			Source:  models.SourceAdoption,
		})
		s.Require().NoError(err)
		s.False(created)
		s.Equal("Rex", rec.Name, "omitted field must keep its value")
		s.Equal("beagle", rec.Breed)
		s.Equal(models.SourcePetshop, rec.FirstAddedSource, "provenance is set once")
		s.Equal(float64(1), promtest.ToFloat64(s.metrics.RegistrationsTotal), "merge is not a registration")
	})

	s.Run("registration and update are audited distinctly", func() {
		events, err := s.auditStore.ListByPet(ctx, id.PetCode("ABC12345"))
		s.Require().NoError(err)
		s.Require().Len(events, 2)
		s.Equal(string(audit.EventPetRegistered), events[0].Action)
		s.Equal(string(audit.EventIdentityUpdated), events[1].Action)
	})
}

// =============================================================================
// UpdateState Tests
// =============================================================================

func (s *RegistryServiceSuite) TestUpdateState() {
	ctx := context.Background()
	owner := id.UserID(uuid.New())

	s.Run("unregistered pet returns not found", func() {
		_, err := s.service.UpdateState(ctx, models.StateUpdate{
			PetCode: id.PetCode("ZZZ99999"),
			Status:  statusPtr(models.StatusOwned),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unknown location is rejected", func() {
		_, err := s.service.UpdateState(ctx, models.StateUpdate{
			PetCode:  id.PetCode("ABC12345"),
			Location: locationPtr(models.Location("warehouse")),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("partial update leaves other fields alone", func() {
		s.register(ctx, "ABC12345", owner)

		rec, err := s.service.UpdateState(ctx, models.StateUpdate{
			PetCode: id.PetCode("ABC12345"),
			Status:  statusPtr(models.StatusInHospital),
		})
		s.Require().NoError(err)
		s.Equal(models.StatusInHospital, rec.CurrentStatus)
		s.Equal(owner, rec.CurrentOwner, "owner not in the update, must survive")
	})

	s.Run("pointer to zero owner clears ownership", func() {
		rec, err := s.service.UpdateState(ctx, models.StateUpdate{
			PetCode: id.PetCode("ABC12345"),
			Owner:   userPtr(id.UserID{}),
		})
		s.Require().NoError(err)
		s.True(rec.CurrentOwner.IsNil())
	})
}

func statusPtr(v models.Status) *models.Status       { return &v }
func locationPtr(v models.Location) *models.Location { return &v }

// =============================================================================
// RecordTransfer Tests
// =============================================================================

func (s *RegistryServiceSuite) TestRecordTransfer() {
	ctx := context.Background()
	owner := id.UserID(uuid.New())
	buyer := id.UserID(uuid.New())

	s.Run("unknown transfer type is rejected", func() {
		_, _, err := s.service.RecordTransfer(ctx, models.TransferInput{
			PetCode:  id.PetCode("ABC12345"),
			NewOwner: &buyer,
			Type:     models.TransferType("teleport"),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("owner-required type without owner is rejected", func() {
		_, _, err := s.service.RecordTransfer(ctx, models.TransferInput{
			PetCode: id.PetCode("ABC12345"),
			Type:    models.TransferPurchase,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("owner-clearing type with owner is rejected", func() {
		_, _, err := s.service.RecordTransfer(ctx, models.TransferInput{
			PetCode:  id.PetCode("ABC12345"),
			NewOwner: &buyer,
			Type:     models.TransferDeceased,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unregistered pet returns not found", func() {
		_, _, err := s.service.RecordTransfer(ctx, models.TransferInput{
			PetCode:  id.PetCode("ZZZ99999"),
			NewOwner: &buyer,
			Type:     models.TransferPurchase,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("purchase moves ownership and stamps the ledger date", func() {
		s.register(ctx, "ABC12345", owner)

		at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		tctx := requestcontext.WithTime(ctx, at)

		rec, entry, err := s.service.RecordTransfer(tctx, models.TransferInput{
			PetCode:     id.PetCode("ABC12345"),
			NewOwner:    &buyer,
			Type:        models.TransferPurchase,
			Fee:         15000,
			Source:      models.SourcePetshop,
			PerformedBy: owner,
		})
		s.Require().NoError(err)
		s.Equal(buyer, rec.CurrentOwner)
		s.Equal(models.StatusSold, rec.CurrentStatus)
		s.Equal(models.LocationAtOwner, rec.CurrentLocation)
		s.Equal(at, rec.LastTransferAt)
		s.Equal(owner, entry.PreviousOwner)
		s.Equal(at, entry.TransferDate)
		s.Equal(int64(15000), entry.Fee)
	})

	s.Run("deceased clears the owner", func() {
		rec, entry, err := s.service.RecordTransfer(ctx, models.TransferInput{
			PetCode:     id.PetCode("ABC12345"),
			Type:        models.TransferDeceased,
			Reason:      "old age",
			PerformedBy: buyer,
		})
		s.Require().NoError(err)
		s.True(rec.CurrentOwner.IsNil())
		s.Equal(models.LocationDeceased, rec.CurrentLocation)
		s.Equal(models.StatusDeceased, rec.CurrentStatus)
		s.Equal(buyer, entry.PreviousOwner, "previous owner defaults to the record's owner")

		events, err := s.auditStore.ListByPet(ctx, id.PetCode("ABC12345"))
		s.Require().NoError(err)
		last := events[len(events)-1]
		s.Equal(string(audit.EventDeceasedRecorded), last.Action)
	})

	s.Run("replayed idempotency key returns the original entry", func() {
		s.register(ctx, "DDD10000", owner)

		in := models.TransferInput{
			PetCode:        id.PetCode("DDD10000"),
			NewOwner:       &buyer,
			Type:           models.TransferTransfer,
			PerformedBy:    owner,
			IdempotencyKey: "retry-123",
		}
		_, first, err := s.service.RecordTransfer(ctx, in)
		s.Require().NoError(err)

		before := promtest.ToFloat64(s.metrics.TransfersTotal.WithLabelValues(string(models.TransferTransfer)))

		_, second, err := s.service.RecordTransfer(ctx, in)
		s.Require().NoError(err)
		s.Equal(first.ID, second.ID)

		after := promtest.ToFloat64(s.metrics.TransfersTotal.WithLabelValues(string(models.TransferTransfer)))
		s.Equal(before, after, "replay must not count as a new transfer")

		history, err := s.service.History(ctx, id.PetCode("DDD10000"))
		s.Require().NoError(err)
		s.Len(history.Entries, 2, "initial plus one transfer, no duplicate")
	})
}

// =============================================================================
// History Tests
// =============================================================================

func (s *RegistryServiceSuite) TestHistory() {
	ctx := context.Background()
	owner := id.UserID(uuid.New())
	buyer := id.UserID(uuid.New())

	s.Run("unregistered pet returns not found", func() {
		_, err := s.service.History(ctx, id.PetCode("ZZZ99999"))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("entries come back newest first with provenance", func() {
		s.register(ctx, "ABC12345", owner)

		_, _, err := s.service.RecordTransfer(ctx, models.TransferInput{
			PetCode:     id.PetCode("ABC12345"),
			NewOwner:    &buyer,
			Type:        models.TransferPurchase,
			PerformedBy: owner,
		})
		s.Require().NoError(err)

		history, err := s.service.History(ctx, id.PetCode("ABC12345"))
		s.Require().NoError(err)
		s.Equal(models.SourceCore, history.FirstAddedSource)
		s.Equal(owner, history.FirstAddedBy)
		s.Equal(buyer, history.CurrentOwner)
		s.Require().Len(history.Entries, 2)
		s.Equal(models.TransferPurchase, history.Entries[0].Type)
		s.Equal(models.TransferInitial, history.Entries[1].Type)
	})
}

// =============================================================================
// VoidTransfer Tests
// =============================================================================

func (s *RegistryServiceSuite) TestVoidTransfer() {
	ctx := context.Background()
	owner := id.UserID(uuid.New())

	s.Run("missing entry returns not found", func() {
		s.register(ctx, "ABC12345", owner)
		err := s.service.VoidTransfer(ctx, id.PetCode("ABC12345"), uuid.New(), owner)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("voided entry stays in the ledger flagged", func() {
		history, err := s.service.History(ctx, id.PetCode("ABC12345"))
		s.Require().NoError(err)
		s.Require().Len(history.Entries, 1)

		err = s.service.VoidTransfer(ctx, id.PetCode("ABC12345"), history.Entries[0].ID, owner)
		s.Require().NoError(err)

		history, err = s.service.History(ctx, id.PetCode("ABC12345"))
		s.Require().NoError(err)
		s.Require().Len(history.Entries, 1, "void never removes the row")
		s.True(history.Entries[0].Voided)
	})
}
