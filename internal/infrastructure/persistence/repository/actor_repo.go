package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/internal/application/port"
	"github.com/taskflowhq/taskflow/internal/domain/identity"
	"github.com/taskflowhq/taskflow/pkg/database"
)

// ActorRepository implements port.IdentityProvider on sqlite. User
// administration proper lives outside the engine; this is just the lookup
// seam plus an upsert so deployments can seed their directory.
type ActorRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewActorRepository creates a new actor repository
func NewActorRepository(db *database.DB, logger *zap.Logger) *ActorRepository {
	return &ActorRepository{db: db, logger: logger}
}

// GetActor resolves an actor by ID
func (r *ActorRepository) GetActor(ctx context.Context, id string) (*identity.Actor, error) {
	var a identity.Actor
	var role string
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, email, role FROM actors WHERE id = ?", id,
	).Scan(&a.ID, &a.Name, &a.Email, &role)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("actor %s: %w", id, port.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get actor", zap.String("actor_id", id), zap.Error(err))
		return nil, fmt.Errorf("get actor: %w", err)
	}
	a.Role = identity.Role(role)
	return &a, nil
}

// Upsert creates or updates an actor record
func (r *ActorRepository) Upsert(ctx context.Context, a *identity.Actor) error {
	if !a.Role.IsValid() {
		return fmt.Errorf("invalid role %q", a.Role)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO actors (id, name, email, role) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name,
			email = excluded.email, role = excluded.role
	`, a.ID, a.Name, a.Email, a.Role.String())
	if err != nil {
		return fmt.Errorf("upsert actor: %w", err)
	}
	return nil
}
