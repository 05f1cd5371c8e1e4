//go:build integration

package postgres_test

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
	"pawbase/internal/registry/store/postgres"
	id "pawbase/pkg/domain"
	"pawbase/pkg/platform/sentinel"
	"pawbase/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(s.postgres.Apply(context.Background(), postgres.Schema))
	s.store = postgres.New(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "pet_transfer_ledger", "pet_registry")
	s.Require().NoError(err)
}

func strp(v string) *string { return &v }

func (s *PostgresStoreSuite) register(code id.PetCode) *models.RegistryRecord {
	rec, created, err := s.store.Upsert(context.Background(), models.IdentityUpsert{
		PetCode:          code,
		Name:             strp("Biscuit"),
		Species:          strp("dog"),
		Source:           models.SourcePetshop,
		FirstAddedSource: models.SourcePetshop,
		FirstAddedBy:     id.UserID(uuid.New()),
		Actor:            id.UserID(uuid.New()),
	}, time.Now().UTC())
	s.Require().NoError(err)
	s.Require().True(created)
	return rec
}

func (s *PostgresStoreSuite) TestUpsertRoundTrip() {
	s.register("ABC12345")

	rec, err := s.store.Find(context.Background(), "ABC12345")
	s.Require().NoError(err)
	s.Equal("Biscuit", rec.Name)
	s.Equal(models.SourcePetshop, rec.FirstAddedSource)
	s.True(rec.CurrentOwner.IsNil())

	rec2, created, err := s.store.Upsert(context.Background(), models.IdentityUpsert{
		PetCode: "ABC12345",
		Color:   strp("brindle"),
	}, time.Now().UTC())
	s.Require().NoError(err)
	s.False(created)
	s.Equal("Biscuit", rec2.Name)
	s.Equal("brindle", rec2.Color)
}

func (s *PostgresStoreSuite) TestFindUnknownReturnsNotFound() {
	_, err := s.store.Find(context.Background(), "ZZZ00000")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestApplyTransferAtomicity() {
	s.register("ABC12345")
	buyer := id.UserID(uuid.New())
	outcome, _ := models.OutcomeFor(models.TransferPurchase)

	rec, entry, replayed, err := s.store.ApplyTransfer(context.Background(), store.TransferApplication{
		Entry: models.TransferEntry{
			PetCode:     "ABC12345",
			NewOwner:    buyer,
			Type:        models.TransferPurchase,
			PerformedBy: buyer,
		},
		Outcome: outcome,
	}, time.Now().UTC())
	s.Require().NoError(err)
	s.False(replayed)
	s.Equal(buyer, rec.CurrentOwner)
	s.Equal(models.StatusSold, rec.CurrentStatus)

	history, err := s.store.History(context.Background(), "ABC12345")
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(entry.ID, history[0].ID)
}

// TestConcurrentIdempotentTransfer verifies that concurrent retries sharing
// one idempotency key produce exactly one ledger row.
func (s *PostgresStoreSuite) TestConcurrentIdempotentTransfer() {
	s.register("ABC12345")
	buyer := id.UserID(uuid.New())
	outcome, _ := models.OutcomeFor(models.TransferPurchase)
	const goroutines = 16

	var wg sync.WaitGroup
	var fresh atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, replayed, err := s.store.ApplyTransfer(context.Background(), store.TransferApplication{
				Entry: models.TransferEntry{
					PetCode:        "ABC12345",
					NewOwner:       buyer,
					Type:           models.TransferPurchase,
					PerformedBy:    buyer,
					IdempotencyKey: "checkout-77",
				},
				Outcome: outcome,
			}, time.Now().UTC())
			if err == nil && !replayed {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), fresh.Load(), "exactly one transfer should append")
	history, err := s.store.History(context.Background(), "ABC12345")
	s.Require().NoError(err)
	s.Len(history, 1)
}

func (s *PostgresStoreSuite) TestVoidRetainsRow() {
	s.register("ABC12345")
	buyer := id.UserID(uuid.New())
	outcome, _ := models.OutcomeFor(models.TransferPurchase)
	_, entry, _, err := s.store.ApplyTransfer(context.Background(), store.TransferApplication{
		Entry:   models.TransferEntry{PetCode: "ABC12345", NewOwner: buyer, Type: models.TransferPurchase, PerformedBy: buyer},
		Outcome: outcome,
	}, time.Now().UTC())
	s.Require().NoError(err)

	s.Require().NoError(s.store.VoidTransfer(context.Background(), "ABC12345", entry.ID, buyer, time.Now().UTC()))

	history, err := s.store.History(context.Background(), "ABC12345")
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.True(history[0].Voided)
}
