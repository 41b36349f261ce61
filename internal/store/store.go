// Package store defines the state store boundary for the parking
// coordinator: the atomic operations any backend must provide, the error
// taxonomy shared by all implementations, and an in-memory implementation
// used by tests and development mode.
//
// All mutations are conditional. A reservation only commits if the slot is
// still available, the user holds no active session, and the weekly quota
// has headroom — checked and applied as one atomic unit, so concurrent
// claims on the same slot are serialised by the store rather than by
// application-level locks.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/campuspark/coordinator/internal/model"
)

// ErrNotFound is returned when a referenced slot, session, or zone does not exist.
var ErrNotFound = errors.New("not found")

// ErrSlotUnavailable is returned when the slot was claimed by someone else
// first. Callers lost the race and should retry against a different slot.
var ErrSlotUnavailable = errors.New("slot is not available")

// ErrQuotaExceeded is returned when the user's weekly reservation count has
// reached the role limit.
var ErrQuotaExceeded = errors.New("weekly reservation quota exceeded")

// ErrDuplicateActiveSession is returned when the user already occupies a slot.
var ErrDuplicateActiveSession = errors.New("user already has an active session")

// ErrNotOwner is returned when a release is attempted by a user that does
// not occupy the slot and has no administrative override.
var ErrNotOwner = errors.New("slot is occupied by another user")

// Store is the persistence boundary of the coordinator. Implementations
// must make Reserve and Release atomic: either every effect of the call is
// visible afterwards or none is.
type Store interface {
	// Reserve claims slotID for userID. Preconditions, checked atomically:
	// the slot is available, the user has no active session, and the user's
	// weekly reservation count is below the role limit. On success the slot
	// transitions to occupied with a bumped version, an active session is
	// created, and the weekly counter increments. Returns the post-commit
	// slot and session records.
	Reserve(ctx context.Context, userID, slotID string) (*model.Slot, *model.Session, error)

	// Release reverts slotID to available and completes its active session.
	// actorID must be the occupying user unless force is set. Returns the
	// post-commit slot and session records. Releasing an already-available
	// slot returns ErrNotFound.
	Release(ctx context.Context, actorID, slotID string, force bool) (*model.Slot, *model.Session, error)

	// Slot returns a single slot by id.
	Slot(ctx context.Context, id string) (*model.Slot, error)

	// Snapshot returns the current slot set, optionally scoped to a zone.
	// An empty zoneID returns every slot.
	Snapshot(ctx context.Context, zoneID string) ([]model.Slot, error)

	// Zones returns all zones.
	Zones(ctx context.Context) ([]model.Zone, error)

	// Quota reports the user's reservation budget for the current week.
	Quota(ctx context.Context, userID string) (*model.QuotaStatus, error)

	// FlagOverstays marks every active, unflagged session that has run
	// longer than its user's role allows, and returns the sessions flagged
	// by this call. Sessions are flagged once; the slot is not force-ended.
	FlagOverstays(ctx context.Context, now time.Time) ([]model.Session, error)
}
