package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/campuspark/coordinator/internal/feed"
	"github.com/campuspark/coordinator/internal/model"
	"github.com/campuspark/coordinator/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore, <-chan model.ChangeEvent) {
	t.Helper()
	st := store.NewMemoryStore()
	st.AddZone(model.Zone{ID: "zone-a", Name: "North Lot"})
	st.AddSlot(model.Slot{ID: "slot-1", Number: "A-01", ZoneID: "zone-a"})

	fd := feed.NewMemoryFeed()
	events, cancel := fd.Subscribe(context.Background())
	t.Cleanup(cancel)

	return NewService(st, fd), st, events
}

func nextEvent(t *testing.T, events <-chan model.ChangeEvent) model.ChangeEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for change event")
		return model.ChangeEvent{}
	}
}

func TestServiceReserve(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes session_started with full records", func(t *testing.T) {
		svc, _, events := newTestService(t)

		sess, err := svc.Reserve(ctx, "alice", "slot-1")
		require.NoError(t, err)

		ev := nextEvent(t, events)
		assert.Equal(t, model.EventSessionStarted, ev.Type)
		assert.Equal(t, "alice", ev.Actor)
		assert.Equal(t, "zone-a", ev.ZoneID)
		assert.Equal(t, sess.ID, ev.Session.ID)
		assert.Equal(t, model.StatusOccupied, ev.Slot.Status)
		assert.Equal(t, "alice", ev.Slot.OccupyingUser)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.EmittedAt.IsZero())
	})

	t.Run("failed reserve publishes nothing", func(t *testing.T) {
		svc, _, events := newTestService(t)

		_, err := svc.Reserve(ctx, "alice", "slot-1")
		require.NoError(t, err)
		nextEvent(t, events)

		_, err = svc.Reserve(ctx, "bob", "slot-1")
		require.ErrorIs(t, err, store.ErrSlotUnavailable)

		select {
		case ev := <-events:
			t.Fatalf("unexpected event %s after failed reserve", ev.ID)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("validates input", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		// Validation failures carry the sentinel so handlers can tell them
		// apart from transient store errors.
		_, err := svc.Reserve(ctx, "  ", "slot-1")
		assert.ErrorIs(t, err, ErrValidation)
		_, err = svc.Reserve(ctx, "alice", "")
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestServiceRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("self release", func(t *testing.T) {
		svc, _, events := newTestService(t)
		_, err := svc.Reserve(ctx, "alice", "slot-1")
		require.NoError(t, err)
		nextEvent(t, events)

		sess, err := svc.Release(ctx, "alice", "slot-1")
		require.NoError(t, err)
		assert.Equal(t, model.SessionCompleted, sess.Status)

		ev := nextEvent(t, events)
		assert.Equal(t, model.EventSessionEnded, ev.Type)
		assert.Equal(t, "alice", ev.Actor)
		assert.Equal(t, "alice", ev.Session.EndedBy)
		assert.Equal(t, model.StatusAvailable, ev.Slot.Status)
	})

	t.Run("force release carries the admin actor but the same shape", func(t *testing.T) {
		svc, _, events := newTestService(t)
		_, err := svc.Reserve(ctx, "alice", "slot-1")
		require.NoError(t, err)
		started := nextEvent(t, events)

		sess, err := svc.ForceRelease(ctx, "admin-1", "slot-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", sess.UserID)
		assert.Equal(t, "admin-1", sess.EndedBy)

		ended := nextEvent(t, events)
		assert.Equal(t, model.EventSessionEnded, ended.Type)
		assert.Equal(t, "admin-1", ended.Actor)
		// Same event shape as a self release: full slot and session records.
		assert.Equal(t, started.Session.ID, ended.Session.ID)
		assert.Equal(t, model.StatusAvailable, ended.Slot.Status)
	})

	t.Run("non-owner release fails without an event", func(t *testing.T) {
		svc, _, events := newTestService(t)
		_, err := svc.Reserve(ctx, "alice", "slot-1")
		require.NoError(t, err)
		nextEvent(t, events)

		_, err = svc.Release(ctx, "bob", "slot-1")
		require.ErrorIs(t, err, store.ErrNotOwner)

		select {
		case ev := <-events:
			t.Fatalf("unexpected event %s", ev.ID)
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestServiceReads(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	slots, err := svc.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Len(t, slots, 1)

	zones, err := svc.Zones(ctx)
	require.NoError(t, err)
	assert.Len(t, zones, 1)

	quota, err := svc.Quota(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, quota.Used)
	assert.Equal(t, 3, quota.Limit)

	_, err = svc.Quota(ctx, " ")
	assert.ErrorIs(t, err, ErrValidation)
}
