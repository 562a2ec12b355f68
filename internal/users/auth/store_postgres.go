// Copyright (c) 2026 Chronicle. All rights reserved.
// Author: m.koidl.dev@gmail.com

package auth

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkoidl/chronicle/internal/platform/database/schema"
	"github.com/mkoidl/chronicle/internal/platform/dberr"
	"github.com/mkoidl/chronicle/internal/platform/sec"
)

// # PostgreSQL Repositories

// userRepository implements the [UserRepository] interface using pgx.
type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository constructs a PostgreSQL backed user store.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

// userColumns is the canonical select list for account rows.
func userColumns() string {
	return fmt.Sprintf("%s, %s, %s, %s, %s, %s, %s, %s",
		schema.UsersAccount.ID,
		schema.UsersAccount.Username,
		schema.UsersAccount.Email,
		schema.UsersAccount.PasswordHash,
		schema.UsersAccount.DisplayName,
		schema.UsersAccount.Role,
		schema.UsersAccount.CreatedAt,
		schema.UsersAccount.UpdatedAt,
	)
}

// FindByID returns the account with the given ID.
func (repository *userRepository) FindByID(context context.Context, id string) (*User, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`,
		userColumns(), schema.UsersAccount.Table, schema.UsersAccount.ID)
	return repository.scanUser(context, query, id)
}

// FindByEmail returns the account with the given email, case-insensitive.
func (repository *userRepository) FindByEmail(context context.Context, email string) (*User, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE LOWER(%s) = LOWER($1)`,
		userColumns(), schema.UsersAccount.Table, schema.UsersAccount.Email)
	return repository.scanUser(context, query, email)
}

// FindByUsername returns the account with the given username, case-insensitive.
func (repository *userRepository) FindByUsername(context context.Context, username string) (*User, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE LOWER(%s) = LOWER($1)`,
		userColumns(), schema.UsersAccount.Table, schema.UsersAccount.Username)
	return repository.scanUser(context, query, username)
}

// Create persists a brand-new user account.
func (repository *userRepository) Create(context context.Context, user *User) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		schema.UsersAccount.Table,
		schema.UsersAccount.ID,
		schema.UsersAccount.Username,
		schema.UsersAccount.Email,
		schema.UsersAccount.PasswordHash,
		schema.UsersAccount.DisplayName,
		schema.UsersAccount.Role,
		schema.UsersAccount.CreatedAt,
		schema.UsersAccount.UpdatedAt,
	)

	_, err := repository.pool.Exec(context, query,
		user.ID, user.Username, user.Email, user.PasswordHash,
		user.DisplayName, string(user.Role), user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return dberr.Wrap(err, "create user")
	}
	return nil
}

// Update persists changes to mutable profile fields.
func (repository *userRepository) Update(context context.Context, user *User) error {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = $2, %s = $3, %s = $4, %s = $5
		WHERE %s = $1
	`,
		schema.UsersAccount.Table,
		schema.UsersAccount.Email,
		schema.UsersAccount.DisplayName,
		schema.UsersAccount.Role,
		schema.UsersAccount.UpdatedAt,
		schema.UsersAccount.ID,
	)

	result, err := repository.pool.Exec(context, query,
		user.ID, user.Email, user.DisplayName, string(user.Role), user.UpdatedAt)
	if err != nil {
		return dberr.Wrap(err, "update user")
	}
	if result.RowsAffected() == 0 {
		return dberr.ErrNotFound
	}
	return nil
}

// UpdatePassword replaces only the user's password hash.
func (repository *userRepository) UpdatePassword(context context.Context, userID, newHash string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = $2 WHERE %s = $1
	`,
		schema.UsersAccount.Table,
		schema.UsersAccount.PasswordHash,
		schema.UsersAccount.ID,
	)

	result, err := repository.pool.Exec(context, query, userID, newHash)
	if err != nil {
		return dberr.Wrap(err, "update password")
	}
	if result.RowsAffected() == 0 {
		return dberr.ErrNotFound
	}
	return nil
}

// scanUser runs a single-row account query.
func (repository *userRepository) scanUser(context context.Context, query string, arg any) (*User, error) {
	var user User
	var role string

	err := repository.pool.QueryRow(context, query, arg).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.DisplayName, &role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, dberr.Wrap(err, "find user")
	}

	user.Role = sec.UserRole(role)
	return &user, nil
}

// # Session Repository

// sessionRepository implements the [SessionRepository] interface using pgx.
type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository constructs a PostgreSQL backed session store.
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

// Create persists a new tracking session.
func (repository *sessionRepository) Create(context context.Context, session *Session) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		schema.UsersSession.Table,
		schema.UsersSession.ID,
		schema.UsersSession.UserID,
		schema.UsersSession.TokenHash,
		schema.UsersSession.UserAgent,
		schema.UsersSession.IPAddress,
		schema.UsersSession.ExpiresAt,
		schema.UsersSession.IsRevoked,
		schema.UsersSession.CreatedAt,
	)

	_, err := repository.pool.Exec(context, query,
		session.ID, session.UserID, session.TokenHash, session.UserAgent,
		session.IPAddress, session.ExpiresAt, session.IsRevoked, session.CreatedAt)
	if err != nil {
		return dberr.Wrap(err, "create session")
	}
	return nil
}

// FindByTokenHash returns the live session matching the token hash. Revoked
// or expired sessions never match.
func (repository *sessionRepository) FindByTokenHash(context context.Context, tokenHash string) (*Session, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1 AND %s = FALSE AND %s > NOW()
	`,
		schema.UsersSession.ID,
		schema.UsersSession.UserID,
		schema.UsersSession.TokenHash,
		schema.UsersSession.UserAgent,
		schema.UsersSession.IPAddress,
		schema.UsersSession.ExpiresAt,
		schema.UsersSession.IsRevoked,
		schema.UsersSession.CreatedAt,
		schema.UsersSession.Table,
		schema.UsersSession.TokenHash,
		schema.UsersSession.IsRevoked,
		schema.UsersSession.ExpiresAt,
	)

	var session Session
	err := repository.pool.QueryRow(context, query, tokenHash).Scan(
		&session.ID, &session.UserID, &session.TokenHash, &session.UserAgent,
		&session.IPAddress, &session.ExpiresAt, &session.IsRevoked, &session.CreatedAt)
	if err != nil {
		return nil, dberr.Wrap(err, "find session")
	}
	return &session, nil
}

// Revoke marks one session as permanently invalidated.
func (repository *sessionRepository) Revoke(context context.Context, sessionID string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = TRUE WHERE %s = $1
	`,
		schema.UsersSession.Table,
		schema.UsersSession.IsRevoked,
		schema.UsersSession.ID,
	)

	if _, err := repository.pool.Exec(context, query, sessionID); err != nil {
		return dberr.Wrap(err, "revoke session")
	}
	return nil
}

// RevokeAll revokes every active session of one user and returns their token
// hashes so cached copies can be evicted.
func (repository *sessionRepository) RevokeAll(context context.Context, userID string) ([]string, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = TRUE WHERE %s = $1 AND %s = FALSE
		RETURNING %s
	`,
		schema.UsersSession.Table,
		schema.UsersSession.IsRevoked,
		schema.UsersSession.UserID,
		schema.UsersSession.IsRevoked,
		schema.UsersSession.TokenHash,
	)

	rows, err := repository.pool.Query(context, query, userID)
	if err != nil {
		return nil, dberr.Wrap(err, "revoke sessions")
	}
	defer rows.Close()

	var tokenHashes []string
	for rows.Next() {
		var tokenHash string
		if err := rows.Scan(&tokenHash); err != nil {
			return nil, dberr.Wrap(err, "revoke sessions")
		}
		tokenHashes = append(tokenHashes, tokenHash)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.Wrap(err, "revoke sessions")
	}
	return tokenHashes, nil
}

// DeleteExpired physically removes sessions past their expiry.
func (repository *sessionRepository) DeleteExpired(context context.Context) error {
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE %s <= NOW()
	`,
		schema.UsersSession.Table,
		schema.UsersSession.ExpiresAt,
	)

	if _, err := repository.pool.Exec(context, query); err != nil {
		return dberr.Wrap(err, "delete expired sessions")
	}
	return nil
}
