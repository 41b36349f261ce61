// Package reservation implements the coordinator's business logic: request
// validation, delegation of atomic transitions to the state store, and
// publication of committed mutations to the change feed.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/campuspark/coordinator/internal/feed"
	"github.com/campuspark/coordinator/internal/model"
	"github.com/campuspark/coordinator/internal/store"
	"github.com/google/uuid"
)

// ErrValidation marks a malformed request. Handlers surface these to the
// caller as bad requests; anything else that is not a store sentinel is a
// transient failure the caller may retry.
var ErrValidation = errors.New("invalid request")

// Service is the sole writer of slot status transitions and session
// lifecycle. Every other component is a reader or a downstream reactor on
// the change feed.
type Service struct {
	store store.Store
	feed  feed.Feed
}

// NewService constructs a Service with its dependencies.
func NewService(st store.Store, fd feed.Feed) *Service {
	return &Service{store: st, feed: fd}
}

// Reserve claims slotID for userID. The store checks all preconditions and
// applies all effects atomically; the first committed claim on a contested
// slot wins and later attempts fail fast with ErrSlotUnavailable.
func (s *Service) Reserve(ctx context.Context, userID, slotID string) (*model.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if slotID == "" {
		return nil, fmt.Errorf("%w: slot id is required", ErrValidation)
	}

	slot, sess, err := s.store.Reserve(ctx, userID, slotID)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, model.EventSessionStarted, userID, slot, sess)
	return sess, nil
}

// Release frees slotID. Only the occupying user may release it.
func (s *Service) Release(ctx context.Context, userID, slotID string) (*model.Session, error) {
	return s.release(ctx, userID, slotID, false)
}

// ForceRelease frees slotID regardless of who occupies it. It goes through
// the same atomic transition and emits the same event shape as a normal
// release; downstream consumers only see a different actor.
func (s *Service) ForceRelease(ctx context.Context, adminID, slotID string) (*model.Session, error) {
	return s.release(ctx, adminID, slotID, true)
}

func (s *Service) release(ctx context.Context, actorID, slotID string, force bool) (*model.Session, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor id is required", ErrValidation)
	}
	if slotID == "" {
		return nil, fmt.Errorf("%w: slot id is required", ErrValidation)
	}

	slot, sess, err := s.store.Release(ctx, actorID, slotID, force)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, model.EventSessionEnded, actorID, slot, sess)
	return sess, nil
}

// publish emits one change feed event for a committed mutation. A publish
// failure does not undo the commit; consumers recover through snapshot
// resync, so the error is logged and the call succeeds.
func (s *Service) publish(ctx context.Context, typ model.EventType, actor string, slot *model.Slot, sess *model.Session) {
	ev := model.ChangeEvent{
		ID:        uuid.New().String(),
		Type:      typ,
		Actor:     actor,
		ZoneID:    slot.ZoneID,
		Slot:      *slot,
		Session:   *sess,
		EmittedAt: time.Now().UTC(),
	}
	if err := s.feed.Publish(ctx, ev); err != nil {
		log.Printf("reservation: publish %s for slot %s: %v", typ, slot.ID, err)
	}
}

// Snapshot returns the current slot set, optionally scoped to a zone.
func (s *Service) Snapshot(ctx context.Context, zoneID string) ([]model.Slot, error) {
	return s.store.Snapshot(ctx, zoneID)
}

// Zones returns all zones.
func (s *Service) Zones(ctx context.Context) ([]model.Zone, error) {
	return s.store.Zones(ctx)
}

// Quota reports a user's reservation budget for the current week.
func (s *Service) Quota(ctx context.Context, userID string) (*model.QuotaStatus, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	return s.store.Quota(ctx, userID)
}
