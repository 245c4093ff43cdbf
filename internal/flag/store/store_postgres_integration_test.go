//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"flaggate/internal/flag"
	"flaggate/internal/flag/store"
	"flaggate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgresStore(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_logs", "flags"))
}

func (s *PostgresStoreSuite) TestCreateGetRoundTrip() {
	ctx := context.Background()
	f := &flag.Flag{Key: "checkout_v2", Name: "Checkout v2", Enabled: true, RolloutPercentage: 50}
	s.Require().NoError(s.store.Create(ctx, f))
	s.NotZero(f.ID)
	s.False(f.CreatedAt.IsZero())

	got, err := s.store.GetByKey(ctx, "checkout_v2")
	s.Require().NoError(err)
	s.Equal(f.ID, got.ID)
	s.Equal(50.0, got.RolloutPercentage)
}

func (s *PostgresStoreSuite) TestDuplicateKeyMapsToConflict() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, &flag.Flag{Key: "dup", Name: "one"}))
	err := s.store.Create(ctx, &flag.Flag{Key: "dup", Name: "two"})
	s.ErrorIs(err, store.ErrConflict)

	got, err := s.store.GetByKey(ctx, "dup")
	s.Require().NoError(err)
	s.Equal("one", got.Name, "existing record must be unmodified")
}

func (s *PostgresStoreSuite) TestPartialUpdate() {
	ctx := context.Background()
	f := &flag.Flag{Key: "rollout", Name: "Rollout", Enabled: true, RolloutPercentage: 100}
	s.Require().NoError(s.store.Create(ctx, f))

	rollout := 25.0
	updated, err := s.store.Update(ctx, "rollout", flag.Update{RolloutPercentage: &rollout}, time.Now())
	s.Require().NoError(err)
	s.Equal(25.0, updated.RolloutPercentage)
	s.Equal("Rollout", updated.Name)
	s.True(updated.Enabled)
	s.False(updated.UpdatedAt.Before(f.UpdatedAt))

	_, err = s.store.Update(ctx, "ghost", flag.Update{RolloutPercentage: &rollout}, time.Now())
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDeleteCascadesAudit() {
	ctx := context.Background()
	f := &flag.Flag{Key: "doomed", Name: "Doomed"}
	s.Require().NoError(s.store.Create(ctx, f))
	s.Require().NoError(s.store.Append(ctx, &flag.AuditEntry{FlagID: f.ID, Action: flag.ActionCreated}))

	s.Require().NoError(s.store.Delete(ctx, "doomed"))

	_, err := s.store.GetByKey(ctx, "doomed")
	s.ErrorIs(err, store.ErrNotFound)

	entries, err := s.store.ListByFlag(ctx, f.ID, 10)
	s.Require().NoError(err)
	s.Empty(entries, "ON DELETE CASCADE should erase history")

	s.ErrorIs(s.store.Delete(ctx, "doomed"), store.ErrNotFound)

	// Key is free for reuse after delete.
	s.NoError(s.store.Create(ctx, &flag.Flag{Key: "doomed", Name: "Reborn"}))
}

func (s *PostgresStoreSuite) TestAuditNewestFirst() {
	ctx := context.Background()
	f := &flag.Flag{Key: "audited", Name: "Audited"}
	s.Require().NoError(s.store.Create(ctx, f))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, action := range []flag.Action{flag.ActionCreated, flag.ActionUpdated, flag.ActionDeleted} {
		s.Require().NoError(s.store.Append(ctx, &flag.AuditEntry{
			FlagID:    f.ID,
			Action:    action,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := s.store.ListByFlag(ctx, f.ID, 2)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(flag.ActionDeleted, entries[0].Action)
	s.Equal(flag.ActionUpdated, entries[1].Action)
}

func (s *PostgresStoreSuite) TestConcurrentCreateSameKey() {
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	var conflicts, successes atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.Create(ctx, &flag.Flag{Key: "contended", Name: "Contended"})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, store.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load(), "exactly one create must win")
	s.Equal(int32(goroutines-1), conflicts.Load())
}
