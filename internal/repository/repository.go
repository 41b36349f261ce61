// Package repository implements the coordinator's state store on PostgreSQL.
// It uses pgx directly (no ORM) for transparency and performance.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campuspark/coordinator/internal/model"
	"github.com/campuspark/coordinator/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements store.Store on a pgx connection pool.
//
// Concurrency control: every Reserve/Release runs in a transaction that
// first acquires a row-level lock on the slot with SELECT ... FOR UPDATE.
// Competing claims on the same slot are serialised by that lock — the first
// transaction to commit wins, and every later transaction re-reads the slot
// after the lock is granted and fails fast on the changed status. No
// application-level lock is held across the round trip.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ store.Store = (*PostgresStore)(nil)

const slotColumns = `id, number, zone_id, latitude, longitude, status, COALESCE(occupying_user, ''), version, updated_at`

func scanSlot(row pgx.Row) (*model.Slot, error) {
	var s model.Slot
	err := row.Scan(&s.ID, &s.Number, &s.ZoneID, &s.Latitude, &s.Longitude,
		&s.Status, &s.OccupyingUser, &s.Version, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Reserve implements store.Store. All preconditions are checked and all
// effects applied inside one transaction.
func (r *PostgresStore) Reserve(ctx context.Context, userID, slotID string) (_ *model.Slot, _ *model.Session, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Lock the slot row. Any concurrent Reserve or Release on this slot
	// blocks here until we commit or roll back.
	slot, err := scanSlot(tx.QueryRow(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE id = $1 FOR UPDATE`, slotID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, fmt.Errorf("lock slot row: %w", err)
	}
	if slot.Status.Claimed() {
		return nil, nil, store.ErrSlotUnavailable
	}

	now := time.Now().UTC()
	weekStart := model.WeekStart(now)

	// Ensure and lock the user's quota row for this week. This serialises
	// concurrent reservations by the same user across different slots.
	_, err = tx.Exec(ctx,
		`INSERT INTO quotas (user_id, week_start, used)
		 VALUES ($1, $2, 0)
		 ON CONFLICT (user_id, week_start) DO NOTHING`,
		userID, weekStart)
	if err != nil {
		return nil, nil, fmt.Errorf("ensure quota row: %w", err)
	}
	var used int
	err = tx.QueryRow(ctx,
		`SELECT used FROM quotas WHERE user_id = $1 AND week_start = $2 FOR UPDATE`,
		userID, weekStart).Scan(&used)
	if err != nil {
		return nil, nil, fmt.Errorf("lock quota row: %w", err)
	}

	role, err := userRole(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}
	if used >= role.WeeklyLimit() {
		return nil, nil, store.ErrQuotaExceeded
	}

	var activeCount int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE user_id = $1 AND status = 'active'`,
		userID).Scan(&activeCount)
	if err != nil {
		return nil, nil, fmt.Errorf("check active session: %w", err)
	}
	if activeCount > 0 {
		return nil, nil, store.ErrDuplicateActiveSession
	}

	_, err = tx.Exec(ctx,
		`UPDATE slots
		 SET status = 'occupied', occupying_user = $2, version = version + 1, updated_at = $3
		 WHERE id = $1`,
		slotID, userID, now)
	if err != nil {
		return nil, nil, fmt.Errorf("claim slot: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE quotas SET used = used + 1 WHERE user_id = $1 AND week_start = $2`,
		userID, weekStart)
	if err != nil {
		return nil, nil, fmt.Errorf("increment quota: %w", err)
	}

	sess := &model.Session{
		ID:        uuid.New().String(),
		SlotID:    slotID,
		UserID:    userID,
		StartedAt: now,
		Status:    model.SessionActive,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO sessions (id, slot_id, user_id, started_at, status, flagged)
		 VALUES ($1, $2, $3, $4, $5, FALSE)`,
		sess.ID, sess.SlotID, sess.UserID, sess.StartedAt, sess.Status)
	if err != nil {
		return nil, nil, fmt.Errorf("insert session: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit transaction: %w", err)
	}

	slot.Status = model.StatusOccupied
	slot.OccupyingUser = userID
	slot.Version++
	slot.UpdatedAt = now
	return slot, sess, nil
}

// Release implements store.Store.
func (r *PostgresStore) Release(ctx context.Context, actorID, slotID string, force bool) (_ *model.Slot, _ *model.Session, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	slot, err := scanSlot(tx.QueryRow(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE id = $1 FOR UPDATE`, slotID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, fmt.Errorf("lock slot row: %w", err)
	}
	if !slot.Status.Claimed() {
		// Already released. The second release of a slot is a no-op
		// failure, never a state change.
		return nil, nil, store.ErrNotFound
	}
	if !force && slot.OccupyingUser != actorID {
		return nil, nil, store.ErrNotOwner
	}

	sess := &model.Session{}
	err = tx.QueryRow(ctx,
		`SELECT id, slot_id, user_id, started_at, status, flagged
		 FROM sessions
		 WHERE slot_id = $1 AND status = 'active'`,
		slotID).Scan(&sess.ID, &sess.SlotID, &sess.UserID, &sess.StartedAt, &sess.Status, &sess.Flagged)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, fmt.Errorf("find active session: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE sessions SET status = 'completed', ended_at = $2, ended_by = $3 WHERE id = $1`,
		sess.ID, now, actorID)
	if err != nil {
		return nil, nil, fmt.Errorf("complete session: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE slots
		 SET status = 'available', occupying_user = NULL, version = version + 1, updated_at = $2
		 WHERE id = $1`,
		slotID, now)
	if err != nil {
		return nil, nil, fmt.Errorf("free slot: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit transaction: %w", err)
	}

	sess.Status = model.SessionCompleted
	sess.EndedAt = &now
	sess.EndedBy = actorID

	slot.Status = model.StatusAvailable
	slot.OccupyingUser = ""
	slot.Version++
	slot.UpdatedAt = now
	return slot, sess, nil
}

// Slot implements store.Store.
func (r *PostgresStore) Slot(ctx context.Context, id string) (*model.Slot, error) {
	slot, err := scanSlot(r.db.QueryRow(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

// Snapshot implements store.Store.
func (r *PostgresStore) Snapshot(ctx context.Context, zoneID string) ([]model.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots ORDER BY number ASC`
	args := []any{}
	if zoneID != "" {
		query = `SELECT ` + slotColumns + ` FROM slots WHERE zone_id = $1 ORDER BY number ASC`
		args = append(args, zoneID)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("snapshot slots: %w", err)
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, *slot)
	}
	return slots, rows.Err()
}

// Zones implements store.Store.
func (r *PostgresStore) Zones(ctx context.Context) ([]model.Zone, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, latitude, longitude FROM zones ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	defer rows.Close()

	var zones []model.Zone
	for rows.Next() {
		var z model.Zone
		if err := rows.Scan(&z.ID, &z.Name, &z.Latitude, &z.Longitude); err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// Quota implements store.Store.
func (r *PostgresStore) Quota(ctx context.Context, userID string) (*model.QuotaStatus, error) {
	now := time.Now().UTC()
	weekStart := model.WeekStart(now)

	var used int
	err := r.db.QueryRow(ctx,
		`SELECT used FROM quotas WHERE user_id = $1 AND week_start = $2`,
		userID, weekStart).Scan(&used)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get quota: %w", err)
	}

	role, err := userRole(ctx, r.db, userID)
	if err != nil {
		return nil, err
	}
	return &model.QuotaStatus{
		UserID:    userID,
		WeekStart: weekStart,
		Used:      used,
		Limit:     role.WeeklyLimit(),
	}, nil
}

// FlagOverstays implements store.Store. Candidates are selected with their
// role and filtered against the role's maximum duration in one transaction,
// so each session is flagged at most once across concurrent sweeps.
func (r *PostgresStore) FlagOverstays(ctx context.Context, now time.Time) (_ []model.Session, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx,
		`SELECT s.id, s.slot_id, s.user_id, s.started_at,
		        COALESCE(u.role, 'standard')
		 FROM sessions s
		 LEFT JOIN users u ON u.id = s.user_id
		 WHERE s.status = 'active' AND s.flagged = FALSE
		 FOR UPDATE OF s`)
	if err != nil {
		return nil, fmt.Errorf("select overstay candidates: %w", err)
	}

	var overdue []model.Session
	for rows.Next() {
		var sess model.Session
		var role model.Role
		if err := rows.Scan(&sess.ID, &sess.SlotID, &sess.UserID, &sess.StartedAt, &role); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if now.Sub(sess.StartedAt) > role.MaxSessionDuration() {
			sess.Status = model.SessionActive
			sess.Flagged = true
			overdue = append(overdue, sess)
		}
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	for _, sess := range overdue {
		if _, err = tx.Exec(ctx,
			`UPDATE sessions SET flagged = TRUE WHERE id = $1`, sess.ID); err != nil {
			return nil, fmt.Errorf("flag session: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return overdue, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func userRole(ctx context.Context, q queryRower, userID string) (model.Role, error) {
	var role model.Role
	err := q.QueryRow(ctx,
		`SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RoleStandard, nil
		}
		return "", fmt.Errorf("get user role: %w", err)
	}
	return role, nil
}
