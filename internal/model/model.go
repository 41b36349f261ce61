// Package model defines the core domain types for the parking coordinator.
package model

import "time"

// SlotStatus enumerates the lifecycle states of a parking slot.
// "reserved" is a display label for a claimed slot whose driver has not
// arrived yet; the coordinator treats it the same as "occupied".
type SlotStatus string

const (
	StatusAvailable SlotStatus = "available"
	StatusOccupied  SlotStatus = "occupied"
	StatusReserved  SlotStatus = "reserved"
)

// Claimed reports whether the status counts as taken from the
// coordinator's point of view.
func (s SlotStatus) Claimed() bool {
	return s == StatusOccupied || s == StatusReserved
}

// Slot represents a single physical parking space.
type Slot struct {
	ID            string     `json:"id"`
	Number        string     `json:"number"`
	ZoneID        string     `json:"zone_id"`
	Latitude      float64    `json:"latitude"`
	Longitude     float64    `json:"longitude"`
	Status        SlotStatus `json:"status"`
	OccupyingUser string     `json:"occupying_user,omitempty"`
	Version       int64      `json:"version"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// SessionStatus enumerates the lifecycle states of a parking session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session records one user's occupancy of one slot from claim to release.
type Session struct {
	ID        string        `json:"id"`
	SlotID    string        `json:"slot_id"`
	UserID    string        `json:"user_id"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Status    SessionStatus `json:"status"`
	// EndedBy is the actor that closed the session. It equals UserID for a
	// self-release and differs for an administrative force-release.
	EndedBy string `json:"ended_by,omitempty"`
	Flagged bool   `json:"flagged"`
}

// Zone groups slots under a map viewport anchor. Read-mostly; the
// coordinator never mutates zones.
type Zone struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Role determines a user's weekly reservation limit and how long a single
// session may run before the supervisor flags it.
type Role string

const (
	RoleStandard Role = "standard"
	RoleElevated Role = "elevated"
)

// WeeklyLimit returns the number of reservations a role may make per week.
func (r Role) WeeklyLimit() int {
	if r == RoleElevated {
		return 5
	}
	return 3
}

// MaxSessionDuration returns how long a session may stay active before the
// supervisor flags it for administrative attention.
func (r Role) MaxSessionDuration() time.Duration {
	if r == RoleElevated {
		return 24 * time.Hour
	}
	return 12 * time.Hour
}

// WeekStart truncates t to the quota week boundary (Monday 00:00 UTC).
// Quota counters are keyed by this value, so a fresh week implicitly starts
// every counter at zero.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday belongs to the week that started six days earlier
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -(weekday - 1))
}

// QuotaStatus summarises a user's reservation budget for the current week.
type QuotaStatus struct {
	UserID    string    `json:"user_id"`
	WeekStart time.Time `json:"week_start"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
}

// Notification is the record handed to the external notification sink.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
}

// EventType enumerates the change feed event kinds.
type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventSessionEnded   EventType = "session_ended"
)

// ChangeEvent is one committed mutation on the change feed. It carries the
// full post-mutation Slot and Session records so consumers can apply it
// idempotently regardless of arrival order or duplication.
type ChangeEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Actor     string    `json:"actor"`
	ZoneID    string    `json:"zone_id"`
	Slot      Slot      `json:"slot"`
	Session   Session   `json:"session"`
	EmittedAt time.Time `json:"emitted_at"`
}

// ReserveRequest is the payload for claiming a slot.
type ReserveRequest struct {
	UserID string `json:"user_id"`
}

// ReleaseRequest is the payload for releasing a slot.
type ReleaseRequest struct {
	UserID string `json:"user_id"`
}

// ForceReleaseRequest is the payload for an administrative release.
type ForceReleaseRequest struct {
	AdminID string `json:"admin_id"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
