package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskflowhq/taskflow/internal/application/dispatcher"
	"github.com/taskflowhq/taskflow/internal/application/port"
	"github.com/taskflowhq/taskflow/internal/domain/event"
	"github.com/taskflowhq/taskflow/internal/domain/identity"
	"github.com/taskflowhq/taskflow/internal/domain/task"
)

// memTaskRepo is an in-memory TaskRepository enforcing the same optimistic
// version check as the sqlite implementation
type memTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*task.Task

	// saveHook runs before each Save; tests use it to inject conflicts
	saveHook func(t *task.Task, expectedVersion int64) error
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{tasks: make(map[string]*task.Task)}
}

func cloneTask(t *task.Task) *task.Task {
	c := *t
	c.Assignments = append([]task.Assignment(nil), t.Assignments...)
	c.Tokens = append([]task.TokenRecord(nil), t.Tokens...)
	return &c
}

func (r *memTaskRepo) Create(ctx context.Context, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = cloneTask(t)
	return nil
}

func (r *memTaskRepo) GetByID(ctx context.Context, id string) (*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, port.ErrNotFound)
	}
	return cloneTask(t), nil
}

func (r *memTaskRepo) Save(ctx context.Context, t *task.Task, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saveHook != nil {
		if err := r.saveHook(t, expectedVersion); err != nil {
			return err
		}
	}

	stored, ok := r.tasks[t.ID]
	if !ok {
		return fmt.Errorf("task %s: %w", t.ID, port.ErrNotFound)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("task %s: %w", t.ID, port.ErrVersionConflict)
	}

	saved := cloneTask(t)
	saved.Version = expectedVersion + 1
	r.tasks[t.ID] = saved
	t.Version = saved.Version
	return nil
}

func (r *memTaskRepo) List(ctx context.Context, limit, offset int) ([]*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*task.Task
	for _, t := range r.tasks {
		out = append(out, cloneTask(t))
	}
	return out, nil
}

func (r *memTaskRepo) FindStaleApprovals(ctx context.Context, doneBefore, remindedBefore time.Time) ([]*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*task.Task
	for _, t := range r.tasks {
		if t.Stage != task.StageDone {
			continue
		}
		if t.Status == task.StatusApproved || t.Status == task.StatusRejected {
			continue
		}
		if t.CompletedAt == nil || t.CompletedAt.After(doneBefore) {
			continue
		}
		if t.LastReminderSent != nil && t.LastReminderSent.After(remindedBefore) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	return out, nil
}

// memHistoryRepo records appended events in order
type memHistoryRepo struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *memHistoryRepo) Append(ctx context.Context, evt *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *memHistoryRepo) ListByTask(ctx context.Context, taskID string, limit int) ([]*event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*event.Event
	for _, evt := range r.events {
		if evt.TaskID == taskID {
			out = append(out, evt)
		}
	}
	return out, nil
}

// mockIdentity resolves actors from a fixed directory
type mockIdentity struct {
	actors map[string]*identity.Actor
}

func newMockIdentity(actors ...*identity.Actor) *mockIdentity {
	m := &mockIdentity{actors: make(map[string]*identity.Actor)}
	for _, a := range actors {
		m.actors[a.ID] = a
	}
	return m
}

func (m *mockIdentity) GetActor(ctx context.Context, id string) (*identity.Actor, error) {
	a, ok := m.actors[id]
	if !ok {
		return nil, fmt.Errorf("actor %s: %w", id, port.ErrNotFound)
	}
	return a, nil
}

// capturingDispatcher records dispatched events instead of routing them
type capturingDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (d *capturingDispatcher) Subscribe(eventType event.Type, name string, handler dispatcher.Handler) {
}

func (d *capturingDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.record(evt)
	return nil
}

func (d *capturingDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	d.record(evt)
}

func (d *capturingDispatcher) Close() error { return nil }

func (d *capturingDispatcher) record(evt *event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
}

func (d *capturingDispatcher) byType(t event.Type) []*event.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*event.Event
	for _, evt := range d.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

// nopLogger satisfies the service Logger without output
type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

// fixture wires the services against the in-memory doubles
type fixture struct {
	taskRepo    *memTaskRepo
	historyRepo *memHistoryRepo
	identity    *mockIdentity
	dispatcher  *capturingDispatcher

	tasks     TaskService
	approvals ApprovalService
}

func newFixture(actors ...*identity.Actor) *fixture {
	f := &fixture{
		taskRepo:    newMemTaskRepo(),
		historyRepo: &memHistoryRepo{},
		identity:    newMockIdentity(actors...),
		dispatcher:  &capturingDispatcher{},
	}
	f.tasks = NewTaskService(f.taskRepo, f.historyRepo, f.identity, f.dispatcher, nopLogger{})
	f.approvals = NewApprovalService(f.taskRepo, f.historyRepo, f.identity, f.dispatcher, nopLogger{})
	return f
}

func member(id string) *identity.Actor {
	return &identity.Actor{ID: id, Name: id, Email: id + "@example.com", Role: identity.RoleMember}
}

func departmentHead(id string) *identity.Actor {
	return &identity.Actor{ID: id, Name: id, Email: id + "@example.com", Role: identity.RoleDepartmentHead}
}
