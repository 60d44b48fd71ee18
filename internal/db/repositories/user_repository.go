package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/huddlehq/huddle/internal/db/models"
)

// UserRepository handles database operations for users
type UserRepository struct{}

// NewUserRepository creates a new user repository
func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.User, error) {
	query := `
		SELECT id, email, name, directory_user_id, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user models.User
	err := sqlx.GetContext(ctx, q, &user, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// FindByEmails returns the users whose email matches any of the given normalized emails
func (r *UserRepository) FindByEmails(ctx context.Context, q sqlx.ExtContext, emails []string) ([]*models.User, error) {
	users := make([]*models.User, 0)
	if len(emails) == 0 {
		return users, nil
	}

	query := `
		SELECT id, email, name, directory_user_id, created_at, updated_at
		FROM users
		WHERE LOWER(email) = ANY($1)
	`

	if err := sqlx.SelectContext(ctx, q, &users, query, pq.Array(emails)); err != nil {
		return nil, fmt.Errorf("failed to find users by email: %w", err)
	}

	return users, nil
}
