// Package supervisor reacts to committed mutations on the change feed. It
// never mutates slot or session state itself; it only applies side effects:
// targeted notifications and the overstay sweep.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/campuspark/coordinator/internal/feed"
	"github.com/campuspark/coordinator/internal/model"
	"github.com/campuspark/coordinator/internal/store"
)

// Notifier is the external notification sink. The coordinator emits
// records; rendering and delivery happen elsewhere.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// Supervisor consumes the change feed and runs the background overstay
// sweep. One instance runs per process.
type Supervisor struct {
	feed       feed.Feed
	notifier   Notifier
	store      store.Store
	sweepEvery time.Duration
}

// New constructs a Supervisor. sweepEvery controls how often active
// sessions are checked against their role's maximum duration.
func New(fd feed.Feed, notifier Notifier, st store.Store, sweepEvery time.Duration) *Supervisor {
	return &Supervisor{feed: fd, notifier: notifier, store: st, sweepEvery: sweepEvery}
}

// Run blocks until ctx is cancelled, processing feed events and running the
// periodic sweep.
func (s *Supervisor) Run(ctx context.Context) {
	events, cancel := s.feed.Subscribe(ctx)
	defer cancel()

	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	log.Println("supervisor: listening for session events")
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handle(ctx, ev)
		case <-ticker.C:
			s.sweep(ctx, time.Now().UTC())
		case <-ctx.Done():
			return
		}
	}
}

// handle applies side effects for one committed mutation. Quota accounting
// already happened inside the reservation commit, so nothing is adjusted
// here.
func (s *Supervisor) handle(ctx context.Context, ev model.ChangeEvent) {
	switch ev.Type {
	case model.EventSessionStarted:
		s.notify(ctx, model.Notification{
			UserID:   ev.Session.UserID,
			Title:    "Reservation confirmed",
			Message:  fmt.Sprintf("Slot %s is yours. Session started at %s.", ev.Slot.Number, ev.Session.StartedAt.Format(time.Kitchen)),
			Severity: "info",
		})
	case model.EventSessionEnded:
		if ev.Session.EndedBy != ev.Session.UserID {
			// Force-release must read differently from a self-release.
			s.notify(ctx, model.Notification{
				UserID:   ev.Session.UserID,
				Title:    "Session ended by administrator",
				Message:  fmt.Sprintf("Your session on slot %s was released by an administrator.", ev.Slot.Number),
				Severity: "warning",
			})
			return
		}
		s.notify(ctx, model.Notification{
			UserID:   ev.Session.UserID,
			Title:    "Session ended",
			Message:  fmt.Sprintf("You released slot %s.", ev.Slot.Number),
			Severity: "info",
		})
	default:
		log.Printf("supervisor: ignoring event type %q", ev.Type)
	}
}

// sweep flags sessions that have run past their role's maximum duration.
// Flagged sessions are not force-ended; they wait for administrative
// attention.
func (s *Supervisor) sweep(ctx context.Context, now time.Time) {
	flagged, err := s.store.FlagOverstays(ctx, now)
	if err != nil {
		log.Printf("supervisor: overstay sweep: %v", err)
		return
	}
	for _, sess := range flagged {
		log.Printf("supervisor: flagged overstayed session %s (slot %s, user %s, started %s)",
			sess.ID, sess.SlotID, sess.UserID, sess.StartedAt.Format(time.RFC3339))
		s.notify(ctx, model.Notification{
			UserID:   sess.UserID,
			Title:    "Parking session overdue",
			Message:  "Your parking session has exceeded the allowed duration and has been flagged for review.",
			Severity: "warning",
		})
	}
}

func (s *Supervisor) notify(ctx context.Context, n model.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		log.Printf("supervisor: notify user %s: %v", n.UserID, err)
	}
}
