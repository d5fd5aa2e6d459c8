package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/internal/application/port"
	"github.com/taskflowhq/taskflow/internal/domain/event"
	"github.com/taskflowhq/taskflow/pkg/database"
)

// HistoryRepository implements port.HistoryRepository on sqlite
type HistoryRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *database.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

// Append records a domain event in the append-only history log
func (r *HistoryRepository) Append(ctx context.Context, evt *event.Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO history (
			event_id, task_id, event_type, actor_id,
			old_value, new_value, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		evt.ID, evt.TaskID, evt.Type.String(), evt.ActorID,
		evt.OldValue, evt.NewValue, evt.Description, evt.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to append history",
			zap.String("event_id", evt.ID),
			zap.String("task_id", evt.TaskID),
			zap.Error(err))
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ListByTask retrieves the most recent events for a task
func (r *HistoryRepository) ListByTask(ctx context.Context, taskID string, limit int) ([]*event.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_id, task_id, event_type, actor_id,
			old_value, new_value, description, created_at
		FROM history WHERE task_id = ?
		ORDER BY id DESC LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		var evt event.Event
		var eventType string
		if err := rows.Scan(&evt.ID, &evt.TaskID, &eventType, &evt.ActorID,
			&evt.OldValue, &evt.NewValue, &evt.Description, &evt.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		evt.Type = event.Type(eventType)
		events = append(events, &evt)
	}
	return events, rows.Err()
}
