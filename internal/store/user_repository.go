/**
 * @description
 * PostgreSQL lookup of operator profiles. The wheel_users table is owned by the user
 * directory; this service reads it and only writes the bootstrap admin row.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: queries against wheel_users.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const usersSchemaSQL = `
CREATE TABLE IF NOT EXISTS wheel_users (
	id           UUID PRIMARY KEY,
	principal_id TEXT NOT NULL UNIQUE,
	username     TEXT NOT NULL,
	role         TEXT NOT NULL DEFAULT 'unassigned',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type PostgresUserRepository struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepository(db *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, usersSchemaSQL); err != nil {
		return fmt.Errorf("create wheel_users: %w", err)
	}
	return nil
}

// FindUserByPrincipal returns domain.ErrNotFound when no profile has that principal.
func (r *PostgresUserRepository) FindUserByPrincipal(ctx context.Context, principal string) (*domain.UserProfile, error) {
	var user domain.UserProfile
	var role string
	err := r.db.QueryRow(ctx,
		`SELECT id, principal_id, username, role FROM wheel_users WHERE principal_id = $1`,
		strings.TrimSpace(principal),
	).Scan(&user.ID, &user.Principal, &user.Username, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("User profile not found for principal %s", principal)
		}
		return nil, err
	}
	user.Role = domain.UserRole(role)
	return &user, nil
}

// EnsureAdmin creates or promotes the profile of principal to admin.
func (r *PostgresUserRepository) EnsureAdmin(ctx context.Context, principal string) (*domain.UserProfile, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" || domain.IsAnonymousPrincipal(principal) {
		return nil, domain.InvalidArgument("Bootstrap admin principal cannot be anonymous")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	var user domain.UserProfile
	var role string
	err = r.db.QueryRow(ctx, `
		INSERT INTO wheel_users (id, principal_id, username, role)
		VALUES ($1, $2, 'admin', $3)
		ON CONFLICT (principal_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING id, principal_id, username, role`,
		id, principal, string(domain.RoleAdmin),
	).Scan(&user.ID, &user.Principal, &user.Username, &role)
	if err != nil {
		return nil, fmt.Errorf("upsert bootstrap admin: %w", err)
	}
	user.Role = domain.UserRole(role)
	return &user, nil
}
