package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/campuspark/coordinator/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *MemoryStore {
	s := NewMemoryStore()
	s.AddZone(model.Zone{ID: "zone-a", Name: "North Lot"})
	s.AddZone(model.Zone{ID: "zone-b", Name: "South Lot"})
	s.AddSlot(model.Slot{ID: "slot-1", Number: "A-01", ZoneID: "zone-a"})
	s.AddSlot(model.Slot{ID: "slot-2", Number: "A-02", ZoneID: "zone-a"})
	s.AddSlot(model.Slot{ID: "slot-3", Number: "B-01", ZoneID: "zone-b"})
	return s
}

func TestReserve(t *testing.T) {
	ctx := context.Background()

	t.Run("claims an available slot", func(t *testing.T) {
		s := newTestStore()
		slot, sess, err := s.Reserve(ctx, "alice", "slot-1")
		require.NoError(t, err)

		assert.Equal(t, model.StatusOccupied, slot.Status)
		assert.Equal(t, "alice", slot.OccupyingUser)
		assert.Equal(t, int64(2), slot.Version)

		assert.Equal(t, model.SessionActive, sess.Status)
		assert.Equal(t, "alice", sess.UserID)
		assert.Equal(t, "slot-1", sess.SlotID)
		assert.Nil(t, sess.EndedAt)
	})

	t.Run("unknown slot", func(t *testing.T) {
		s := newTestStore()
		_, _, err := s.Reserve(ctx, "alice", "slot-99")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("occupied slot loses the race", func(t *testing.T) {
		s := newTestStore()
		_, _, err := s.Reserve(ctx, "alice", "slot-1")
		require.NoError(t, err)

		_, _, err = s.Reserve(ctx, "bob", "slot-1")
		assert.ErrorIs(t, err, ErrSlotUnavailable)
	})

	t.Run("one active session per user", func(t *testing.T) {
		s := newTestStore()
		_, _, err := s.Reserve(ctx, "alice", "slot-1")
		require.NoError(t, err)

		_, _, err = s.Reserve(ctx, "alice", "slot-2")
		assert.ErrorIs(t, err, ErrDuplicateActiveSession)
	})

	t.Run("quota exhausted at the role limit", func(t *testing.T) {
		s := newTestStore()
		// Standard role: 3 reservations per week. Reserve and release three
		// times, then the fourth attempt must fail with QuotaExceeded even
		// though the slot itself is free.
		for i := 0; i < 3; i++ {
			_, _, err := s.Reserve(ctx, "alice", "slot-1")
			require.NoError(t, err)
			_, _, err = s.Release(ctx, "alice", "slot-1", false)
			require.NoError(t, err)
		}

		_, _, err := s.Reserve(ctx, "alice", "slot-1")
		assert.ErrorIs(t, err, ErrQuotaExceeded)

		// The slot stays untouched by the rejected attempt.
		slot, err := s.Slot(ctx, "slot-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusAvailable, slot.Status)
		assert.Empty(t, slot.OccupyingUser)
	})

	t.Run("elevated role gets the higher limit", func(t *testing.T) {
		s := newTestStore()
		s.SetRole("fac", model.RoleElevated)
		for i := 0; i < 5; i++ {
			_, _, err := s.Reserve(ctx, "fac", "slot-1")
			require.NoError(t, err)
			_, _, err = s.Release(ctx, "fac", "slot-1", false)
			require.NoError(t, err)
		}
		_, _, err := s.Reserve(ctx, "fac", "slot-1")
		assert.ErrorIs(t, err, ErrQuotaExceeded)
	})

	t.Run("quota counter rolls over at the week boundary", func(t *testing.T) {
		s := newTestStore()
		now := time.Date(2026, 9, 4, 10, 0, 0, 0, time.UTC) // Friday
		s.now = func() time.Time { return now }

		for i := 0; i < 3; i++ {
			_, _, err := s.Reserve(ctx, "alice", "slot-1")
			require.NoError(t, err)
			_, _, err = s.Release(ctx, "alice", "slot-1", false)
			require.NoError(t, err)
		}
		_, _, err := s.Reserve(ctx, "alice", "slot-1")
		require.ErrorIs(t, err, ErrQuotaExceeded)

		// Next Monday the counter starts fresh.
		now = time.Date(2026, 9, 7, 0, 1, 0, 0, time.UTC)
		_, _, err = s.Reserve(ctx, "alice", "slot-1")
		assert.NoError(t, err)
	})
}

// TestConcurrentReserve is the contested-slot scenario: many users claim the
// same free slot at once and exactly one wins.
func TestConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	const contenders = 32
	var wg sync.WaitGroup
	results := make(chan error, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _, err := s.Reserve(ctx, fmt.Sprintf("user-%d", n), "slot-1")
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotUnavailable):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one contender must win")
	assert.Equal(t, contenders-1, losses)

	// Mutual exclusion: the slot records exactly one occupant.
	slot, err := s.Slot(ctx, "slot-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOccupied, slot.Status)
	assert.NotEmpty(t, slot.OccupyingUser)
}

func TestRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("owner releases and the slot round-trips", func(t *testing.T) {
		s := newTestStore()
		before, err := s.Slot(ctx, "slot-1")
		require.NoError(t, err)

		_, _, err = s.Reserve(ctx, "alice", "slot-1")
		require.NoError(t, err)

		_, sess, err := s.Release(ctx, "alice", "slot-1", false)
		require.NoError(t, err)
		assert.Equal(t, model.SessionCompleted, sess.Status)
		assert.Equal(t, "alice", sess.EndedBy)
		require.NotNil(t, sess.EndedAt)

		// Back to the pre-reservation record except version and timestamp.
		after, err := s.Slot(ctx, "slot-1")
		require.NoError(t, err)
		assert.Equal(t, before.Status, after.Status)
		assert.Equal(t, before.OccupyingUser, after.OccupyingUser)
		assert.Equal(t, before.Number, after.Number)
		assert.Equal(t, before.ZoneID, after.ZoneID)
		assert.Equal(t, before.Version+2, after.Version)
	})

	t.Run("non-owner cannot release", func(t *testing.T) {
		s := newTestStore()
		_, _, err := s.Reserve(ctx, "alice", "slot-1")
		require.NoError(t, err)

		_, _, err = s.Release(ctx, "bob", "slot-1", false)
		assert.ErrorIs(t, err, ErrNotOwner)

		slot, err := s.Slot(ctx, "slot-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", slot.OccupyingUser)
	})

	t.Run("force release bypasses ownership", func(t *testing.T) {
		s := newTestStore()
		_, _, err := s.Reserve(ctx, "alice", "slot-1")
		require.NoError(t, err)

		slot, sess, err := s.Release(ctx, "admin", "slot-1", true)
		require.NoError(t, err)
		assert.Equal(t, model.StatusAvailable, slot.Status)
		assert.Equal(t, "alice", sess.UserID)
		assert.Equal(t, "admin", sess.EndedBy)
	})

	t.Run("second release is a no-op failure", func(t *testing.T) {
		s := newTestStore()
		_, _, err := s.Reserve(ctx, "alice", "slot-1")
		require.NoError(t, err)
		_, _, err = s.Release(ctx, "alice", "slot-1", false)
		require.NoError(t, err)

		versionBefore, err := s.Slot(ctx, "slot-1")
		require.NoError(t, err)

		_, _, err = s.Release(ctx, "alice", "slot-1", false)
		assert.ErrorIs(t, err, ErrNotFound)

		versionAfter, err := s.Slot(ctx, "slot-1")
		require.NoError(t, err)
		assert.Equal(t, versionBefore.Version, versionAfter.Version, "no state change on second release")
	})
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	t.Run("all zones", func(t *testing.T) {
		slots, err := s.Snapshot(ctx, "")
		require.NoError(t, err)
		assert.Len(t, slots, 3)
	})

	t.Run("zone scoped", func(t *testing.T) {
		slots, err := s.Snapshot(ctx, "zone-a")
		require.NoError(t, err)
		require.Len(t, slots, 2)
		for _, slot := range slots {
			assert.Equal(t, "zone-a", slot.ZoneID)
		}
	})
}

func TestQuotaStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	status, err := s.Quota(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Used)
	assert.Equal(t, 3, status.Limit)

	_, _, err = s.Reserve(ctx, "alice", "slot-1")
	require.NoError(t, err)

	status, err = s.Quota(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Used)
}

func TestFlagOverstays(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, sess, err := s.Reserve(ctx, "alice", "slot-1")
	require.NoError(t, err)

	t.Run("fresh session is not flagged", func(t *testing.T) {
		flagged, err := s.FlagOverstays(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.Empty(t, flagged)
	})

	t.Run("overdue session is flagged exactly once", func(t *testing.T) {
		later := sess.StartedAt.Add(model.RoleStandard.MaxSessionDuration() + time.Minute)

		flagged, err := s.FlagOverstays(ctx, later)
		require.NoError(t, err)
		require.Len(t, flagged, 1)
		assert.Equal(t, sess.ID, flagged[0].ID)
		assert.True(t, flagged[0].Flagged)

		// Second sweep finds nothing new.
		flagged, err = s.FlagOverstays(ctx, later)
		require.NoError(t, err)
		assert.Empty(t, flagged)
	})
}
