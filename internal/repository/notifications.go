package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/campuspark/coordinator/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationLog persists notifications emitted by the session supervisor.
// Delivery to users (push, email) is an external concern; this table is the
// sink the rest of the system reads from.
type NotificationLog struct {
	db *pgxpool.Pool
}

// NewNotificationLog constructs a NotificationLog.
func NewNotificationLog(db *pgxpool.Pool) *NotificationLog {
	return &NotificationLog{db: db}
}

// Notify records a notification for a user.
func (l *NotificationLog) Notify(ctx context.Context, n model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.Exec(ctx,
		`INSERT INTO notifications (id, user_id, title, message, severity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.UserID, n.Title, n.Message, n.Severity, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ByUser returns a user's notifications, newest first.
func (l *NotificationLog) ByUser(ctx context.Context, userID string) ([]model.Notification, error) {
	rows, err := l.db.Query(ctx,
		`SELECT id, user_id, title, message, severity, created_at
		 FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notes []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Severity, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
