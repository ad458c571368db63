package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Skycomm/email-ai-manager/internal/model"
)

type UserRepository struct {
	db DB
}

func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser inserts a new operator.
func (r *UserRepository) CreateUser(ctx context.Context, u *model.User) error {
	u.CreatedAt = utc(u.CreatedAt)
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(`
        INSERT INTO users (username, password_hash, role, created_at)
        VALUES (?, ?, ?, ?)
        RETURNING id
    `), u.Username, u.PasswordHash, u.Role, u.CreatedAt).Scan(&u.ID)
	if err != nil {
		return duplicate(fmt.Errorf("insert user: %w", err))
	}
	return nil
}

// FindByUsername returns the operator or ErrNotFound.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := sqlx.GetContext(ctx, r.db, &u, r.db.Rebind(`
        SELECT id, username, password_hash, role, created_at
        FROM users
        WHERE username = ?
    `), username)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}
