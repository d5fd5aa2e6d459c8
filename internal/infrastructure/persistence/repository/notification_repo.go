package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/internal/application/port"
	"github.com/taskflowhq/taskflow/internal/domain/event"
	"github.com/taskflowhq/taskflow/pkg/database"
)

// NotificationRepository implements port.NotificationRepository on sqlite
type NotificationRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *database.DB, logger *zap.Logger) port.NotificationRepository {
	return &NotificationRepository{db: db, logger: logger}
}

// Create inserts a notification record. The unique (event_id, recipient_id)
// index makes re-insertion of the same pair a no-op, which is what keeps
// dispatch idempotent per event instance.
func (r *NotificationRepository) Create(ctx context.Context, n *port.Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO notifications (
			id, event_id, task_id, recipient_id, type,
			message, status, created_at, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.ID, n.EventID, n.TaskID, n.RecipientID, n.Type.String(),
		n.Message, n.Status, n.CreatedAt, nullTime(n.SentAt),
	)
	if err != nil {
		r.logger.Error("Failed to create notification",
			zap.String("event_id", n.EventID),
			zap.String("recipient_id", n.RecipientID),
			zap.Error(err))
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListByRecipient retrieves a recipient's notifications, newest first
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*port.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, task_id, recipient_id, type,
			message, status, created_at, sent_at
		FROM notifications WHERE recipient_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, recipientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*port.Notification
	for rows.Next() {
		var n port.Notification
		var eventType string
		var sentAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.EventID, &n.TaskID, &n.RecipientID,
			&eventType, &n.Message, &n.Status, &n.CreatedAt, &sentAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = event.Type(eventType)
		n.SentAt = timePtr(sentAt)
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

// MarkSent stamps a notification as delivered
func (r *NotificationRepository) MarkSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE notifications SET status = ?, sent_at = ? WHERE id = ?",
		port.NotificationStatusSent, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}
