package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/campuspark/coordinator/internal/model"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Store implementation. A single mutex
// serialises mutations, which gives the same first-committed-write-wins
// semantics as the conditional writes of the SQL backend. Used by tests
// and by development mode when no database is configured.
type MemoryStore struct {
	mu       sync.Mutex
	slots    map[string]*model.Slot
	sessions map[string]*model.Session
	zones    map[string]model.Zone
	roles    map[string]model.Role
	// quota counters keyed by user id + week start
	quotas map[quotaKey]int

	now func() time.Time
}

type quotaKey struct {
	userID    string
	weekStart time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots:    make(map[string]*model.Slot),
		sessions: make(map[string]*model.Session),
		zones:    make(map[string]model.Zone),
		roles:    make(map[string]model.Role),
		quotas:   make(map[quotaKey]int),
		now:      time.Now,
	}
}

// AddZone registers a zone.
func (s *MemoryStore) AddZone(z model.Zone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones[z.ID] = z
}

// AddSlot registers a slot. A zero version is initialised to 1.
func (s *MemoryStore) AddSlot(slot model.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot.Status == "" {
		slot.Status = model.StatusAvailable
	}
	if slot.Version == 0 {
		slot.Version = 1
	}
	if slot.UpdatedAt.IsZero() {
		slot.UpdatedAt = s.now().UTC()
	}
	s.slots[slot.ID] = &slot
}

// SetRole assigns a role to a user. Users without an explicit role are
// treated as standard.
func (s *MemoryStore) SetRole(userID string, role model.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = role
}

func (s *MemoryStore) roleOf(userID string) model.Role {
	if r, ok := s.roles[userID]; ok {
		return r
	}
	return model.RoleStandard
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(ctx context.Context, userID, slotID string) (*model.Slot, *model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[slotID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if slot.Status.Claimed() {
		return nil, nil, ErrSlotUnavailable
	}
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Status == model.SessionActive {
			return nil, nil, ErrDuplicateActiveSession
		}
	}

	now := s.now().UTC()
	key := quotaKey{userID: userID, weekStart: model.WeekStart(now)}
	if s.quotas[key] >= s.roleOf(userID).WeeklyLimit() {
		return nil, nil, ErrQuotaExceeded
	}

	slot.Status = model.StatusOccupied
	slot.OccupyingUser = userID
	slot.Version++
	slot.UpdatedAt = now
	s.quotas[key]++

	sess := &model.Session{
		ID:        uuid.New().String(),
		SlotID:    slotID,
		UserID:    userID,
		StartedAt: now,
		Status:    model.SessionActive,
	}
	s.sessions[sess.ID] = sess

	slotCopy := *slot
	sessCopy := *sess
	return &slotCopy, &sessCopy, nil
}

// Release implements Store.
func (s *MemoryStore) Release(ctx context.Context, actorID, slotID string, force bool) (*model.Slot, *model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[slotID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if !slot.Status.Claimed() {
		// Already released; second release is a no-op failure, never a
		// state change.
		return nil, nil, ErrNotFound
	}
	if !force && slot.OccupyingUser != actorID {
		return nil, nil, ErrNotOwner
	}

	var sess *model.Session
	for _, candidate := range s.sessions {
		if candidate.SlotID == slotID && candidate.Status == model.SessionActive {
			sess = candidate
			break
		}
	}
	if sess == nil {
		return nil, nil, ErrNotFound
	}

	now := s.now().UTC()
	sess.Status = model.SessionCompleted
	sess.EndedAt = &now
	sess.EndedBy = actorID

	slot.Status = model.StatusAvailable
	slot.OccupyingUser = ""
	slot.Version++
	slot.UpdatedAt = now

	slotCopy := *slot
	sessCopy := *sess
	return &slotCopy, &sessCopy, nil
}

// Slot implements Store.
func (s *MemoryStore) Slot(ctx context.Context, id string) (*model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return nil, ErrNotFound
	}
	slotCopy := *slot
	return &slotCopy, nil
}

// Snapshot implements Store. Slots are ordered by number for stable output.
func (s *MemoryStore) Snapshot(ctx context.Context, zoneID string) ([]model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var slots []model.Slot
	for _, slot := range s.slots {
		if zoneID != "" && slot.ZoneID != zoneID {
			continue
		}
		slots = append(slots, *slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Number < slots[j].Number })
	return slots, nil
}

// Zones implements Store.
func (s *MemoryStore) Zones(ctx context.Context) ([]model.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zones []model.Zone
	for _, z := range s.zones {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].Name < zones[j].Name })
	return zones, nil
}

// Quota implements Store.
func (s *MemoryStore) Quota(ctx context.Context, userID string) (*model.QuotaStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	weekStart := model.WeekStart(s.now().UTC())
	return &model.QuotaStatus{
		UserID:    userID,
		WeekStart: weekStart,
		Used:      s.quotas[quotaKey{userID: userID, weekStart: weekStart}],
		Limit:     s.roleOf(userID).WeeklyLimit(),
	}, nil
}

// FlagOverstays implements Store.
func (s *MemoryStore) FlagOverstays(ctx context.Context, now time.Time) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flagged []model.Session
	for _, sess := range s.sessions {
		if sess.Status != model.SessionActive || sess.Flagged {
			continue
		}
		if now.Sub(sess.StartedAt) > s.roleOf(sess.UserID).MaxSessionDuration() {
			sess.Flagged = true
			flagged = append(flagged, *sess)
		}
	}
	return flagged, nil
}
