// Package repository contains the sqlite implementations of the
// application's persistence ports.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/internal/application/port"
	"github.com/taskflowhq/taskflow/internal/domain/task"
	"github.com/taskflowhq/taskflow/pkg/database"
)

// TaskRepository implements port.TaskRepository on sqlite. The task row,
// its assignments, and its token audit list are written as one aggregate
// inside a single transaction, guarded by the version column.
type TaskRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *database.DB, logger *zap.Logger) port.TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

// Create inserts a new task aggregate
func (r *TaskRepository) Create(ctx context.Context, t *task.Task) error {
	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (
				id, title, description, creator_id, status, stage,
				is_group_task, approval_status, completed_at, approved_at,
				approved_by, elapsed_seconds, last_reminder_sent, version,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			t.ID, t.Title, t.Description, t.CreatorID,
			t.Status.String(), t.Stage.String(),
			t.IsGroupTask, nullString(t.ApprovalStatus.String(), t.ApprovalStatus == ""),
			nullTime(t.CompletedAt), nullTime(t.ApprovedAt), t.ApprovedBy,
			int64(t.Elapsed.Seconds()), nullTime(t.LastReminderSent),
			t.Version, t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		if err := r.writeChildren(ctx, tx, t); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to create task", zap.String("task_id", t.ID), zap.Error(err))
		return err
	}
	return nil
}

// GetByID loads a full task aggregate
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*task.Task, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, description, creator_id, status, stage,
			is_group_task, approval_status, completed_at, approved_at,
			approved_by, elapsed_seconds, last_reminder_sent, version,
			created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)

	t, err := r.scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, port.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get task", zap.String("task_id", id), zap.Error(err))
		return nil, fmt.Errorf("get task: %w", err)
	}

	if err := r.loadChildren(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Save writes the aggregate under an optimistic version check. The row is
// written only when the stored version still equals expectedVersion; losing
// the race returns port.ErrVersionConflict so the caller can re-read and
// retry. Token rows are upserted, never deleted: the audit trail is
// permanent.
func (r *TaskRepository) Save(ctx context.Context, t *task.Task, expectedVersion int64) error {
	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET
				title = ?, description = ?, status = ?, stage = ?,
				is_group_task = ?, approval_status = ?, completed_at = ?,
				approved_at = ?, approved_by = ?, elapsed_seconds = ?,
				last_reminder_sent = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`,
			t.Title, t.Description, t.Status.String(), t.Stage.String(),
			t.IsGroupTask, nullString(t.ApprovalStatus.String(), t.ApprovalStatus == ""),
			nullTime(t.CompletedAt), nullTime(t.ApprovedAt), t.ApprovedBy,
			int64(t.Elapsed.Seconds()), nullTime(t.LastReminderSent),
			time.Now(), t.ID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				"SELECT EXISTS(SELECT 1 FROM tasks WHERE id = ?)", t.ID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("check task existence: %w", err)
			}
			if !exists {
				return fmt.Errorf("task %s: %w", t.ID, port.ErrNotFound)
			}
			return fmt.Errorf("task %s at version %d: %w", t.ID, expectedVersion, port.ErrVersionConflict)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM assignments WHERE task_id = ?", t.ID); err != nil {
			return fmt.Errorf("clear assignments: %w", err)
		}
		return r.writeChildren(ctx, tx, t)
	})
	if err != nil {
		return err
	}

	t.Version = expectedVersion + 1
	return nil
}

// List retrieves a paginated list of task aggregates, newest first
func (r *TaskRepository) List(ctx context.Context, limit, offset int) ([]*task.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, description, creator_id, status, stage,
			is_group_task, approval_status, completed_at, approved_at,
			approved_by, elapsed_seconds, last_reminder_sent, version,
			created_at, updated_at
		FROM tasks ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	return r.collect(ctx, rows)
}

// FindStaleApprovals returns tasks done but undecided since doneBefore
// whose last reminder, if any, predates remindedBefore
func (r *TaskRepository) FindStaleApprovals(ctx context.Context, doneBefore, remindedBefore time.Time) ([]*task.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, description, creator_id, status, stage,
			is_group_task, approval_status, completed_at, approved_at,
			approved_by, elapsed_seconds, last_reminder_sent, version,
			created_at, updated_at
		FROM tasks
		WHERE stage = ?
			AND status NOT IN (?, ?)
			AND completed_at IS NOT NULL AND completed_at <= ?
			AND (last_reminder_sent IS NULL OR last_reminder_sent <= ?)
		ORDER BY completed_at
	`,
		task.StageDone.String(),
		task.StatusApproved.String(), task.StatusRejected.String(),
		doneBefore, remindedBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("find stale approvals: %w", err)
	}
	defer rows.Close()

	return r.collect(ctx, rows)
}

// writeChildren inserts assignments and upserts token audit rows
func (r *TaskRepository) writeChildren(ctx context.Context, tx *sql.Tx, t *task.Task) error {
	for i := range t.Assignments {
		a := &t.Assignments[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO assignments (
				task_id, assignee_id, position, stage, status, approval,
				completed_at, approval_at, approved_by, rejection_reason
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			t.ID, a.AssigneeID, i, a.Stage.String(), a.Status.String(),
			a.Approval.String(), nullTime(a.CompletedAt), nullTime(a.ApprovalAt),
			a.ApprovedBy, a.RejectionReason,
		)
		if err != nil {
			return fmt.Errorf("insert assignment %s: %w", a.AssigneeID, err)
		}
	}

	for i := range t.Tokens {
		tok := &t.Tokens[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_tokens (
				digest, task_id, actor_id, action, assignee_scope,
				issued_at, used, used_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(digest) DO UPDATE SET used = excluded.used, used_at = excluded.used_at
		`,
			tok.Digest, t.ID, tok.ActorID, tok.Action, tok.AssigneeScope,
			tok.IssuedAt, tok.Used, nullTime(tok.UsedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert token %s: %w", tok.Digest, err)
		}
	}
	return nil
}

// loadChildren populates the assignments and token audit list
func (r *TaskRepository) loadChildren(ctx context.Context, t *task.Task) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT assignee_id, stage, status, approval, completed_at,
			approval_at, approved_by, rejection_reason
		FROM assignments WHERE task_id = ? ORDER BY position
	`, t.ID)
	if err != nil {
		return fmt.Errorf("load assignments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a task.Assignment
		var stage, status, approval string
		var completedAt, approvalAt sql.NullTime
		if err := rows.Scan(&a.AssigneeID, &stage, &status, &approval,
			&completedAt, &approvalAt, &a.ApprovedBy, &a.RejectionReason); err != nil {
			return fmt.Errorf("scan assignment: %w", err)
		}
		a.Stage = task.Stage(stage)
		a.Status = task.IndividualStatus(status)
		a.Approval = task.Approval(approval)
		a.CompletedAt = timePtr(completedAt)
		a.ApprovalAt = timePtr(approvalAt)
		t.Assignments = append(t.Assignments, a)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate assignments: %w", err)
	}

	tokRows, err := r.db.QueryContext(ctx, `
		SELECT digest, actor_id, action, assignee_scope, issued_at, used, used_at
		FROM task_tokens WHERE task_id = ? ORDER BY issued_at
	`, t.ID)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	defer tokRows.Close()

	for tokRows.Next() {
		var tok task.TokenRecord
		var usedAt sql.NullTime
		if err := tokRows.Scan(&tok.Digest, &tok.ActorID, &tok.Action,
			&tok.AssigneeScope, &tok.IssuedAt, &tok.Used, &usedAt); err != nil {
			return fmt.Errorf("scan token: %w", err)
		}
		tok.UsedAt = timePtr(usedAt)
		t.Tokens = append(t.Tokens, tok)
	}
	return tokRows.Err()
}

// scanTask scans a single task row
func (r *TaskRepository) scanTask(row *sql.Row) (*task.Task, error) {
	var t task.Task
	var status, stage string
	var approvalStatus sql.NullString
	var completedAt, approvedAt, lastReminder sql.NullTime
	var elapsedSeconds int64

	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.CreatorID,
		&status, &stage, &t.IsGroupTask, &approvalStatus,
		&completedAt, &approvedAt, &t.ApprovedBy, &elapsedSeconds,
		&lastReminder, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = task.Status(status)
	t.Stage = task.Stage(stage)
	if approvalStatus.Valid {
		t.ApprovalStatus = task.Approval(approvalStatus.String)
	}
	t.CompletedAt = timePtr(completedAt)
	t.ApprovedAt = timePtr(approvedAt)
	t.LastReminderSent = timePtr(lastReminder)
	t.Elapsed = time.Duration(elapsedSeconds) * time.Second
	return &t, nil
}

// collect scans task rows and loads each aggregate's children
func (r *TaskRepository) collect(ctx context.Context, rows *sql.Rows) ([]*task.Task, error) {
	var tasks []*task.Task
	for rows.Next() {
		var t task.Task
		var status, stage string
		var approvalStatus sql.NullString
		var completedAt, approvedAt, lastReminder sql.NullTime
		var elapsedSeconds int64

		err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.CreatorID,
			&status, &stage, &t.IsGroupTask, &approvalStatus,
			&completedAt, &approvedAt, &t.ApprovedBy, &elapsedSeconds,
			&lastReminder, &t.Version, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}

		t.Status = task.Status(status)
		t.Stage = task.Stage(stage)
		if approvalStatus.Valid {
			t.ApprovalStatus = task.Approval(approvalStatus.String)
		}
		t.CompletedAt = timePtr(completedAt)
		t.ApprovedAt = timePtr(approvedAt)
		t.LastReminderSent = timePtr(lastReminder)
		t.Elapsed = time.Duration(elapsedSeconds) * time.Second
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	for _, t := range tasks {
		if err := r.loadChildren(ctx, t); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// nullString returns a NULL when empty is true
func nullString(s string, empty bool) sql.NullString {
	if empty {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a time pointer to a nullable column value
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// timePtr converts a nullable column value to a time pointer
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
