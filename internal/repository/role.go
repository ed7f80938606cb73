package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

// ErrRoleNotFound is returned when a role lookup finds no matching row.
var ErrRoleNotFound = errors.New("repository: role not found")

// RoleRepo reads role definitions; roles/permissions are admin-managed data
// this repo never mutates.
type RoleRepo struct {
	pool *pgxpool.Pool
}

// NewRoleRepo creates a RoleRepo.
func NewRoleRepo(pool *pgxpool.Pool) *RoleRepo {
	return &RoleRepo{pool: pool}
}

// GetByID fetches a role's name/description.
func (r *RoleRepo) GetByID(ctx context.Context, id string) (*model.Role, error) {
	var role model.Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, is_system_role FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.IsSystemRole)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get role: %w", err)
	}
	return &role, nil
}

// GetByName fetches a role by its unique name, used to resolve the default
// role assigned at registration.
func (r *RoleRepo) GetByName(ctx context.Context, name string) (*model.Role, error) {
	var role model.Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, is_system_role FROM roles WHERE name = $1`, name).
		Scan(&role.ID, &role.Name, &role.Description, &role.IsSystemRole)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get role by name: %w", err)
	}
	return &role, nil
}
