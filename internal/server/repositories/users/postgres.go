package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

const emailConstraint = "users_email_key"

const selectUser = `SELECT id, email, hashed_password, is_active, is_verified, failed_login_attempts,
        locked_until, last_login, first_name, last_name, created_at, updated_at
   FROM users`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	u := &models.User{}
	var lockedUntil, lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsVerified, &u.FailedLoginAttempts,
		&lockedUntil, &lastLogin, &u.FirstName, &u.LastName, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lockedUntil.Valid {
		u.LockedUntil = &lockedUntil.Time
	}
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return u, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (email, hashed_password, is_active, is_verified, first_name, last_name)
         VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		user.Email, user.PasswordHash, user.IsActive, user.IsVerified, user.FirstName, user.LastName).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, emailConstraint) {
			return nil, common.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("db error: %w", dbx.Classify(err))
	}

	return user, nil
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	return u, nil
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, selectUser+` WHERE email = $1`, email)
}

func (r *PostgresRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return r.findOne(ctx, selectUser+` WHERE id = $1`, id)
}

func (r *PostgresRepository) List(ctx context.Context, offset, limit int) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, selectUser+` ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	defer rows.Close()

	var result []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	return result, nil
}

// execOne runs a single-row update and maps "no row" to ErrorNotFound.
func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateCredentials(ctx context.Context, id int64, passwordHash string, now time.Time) error {
	query :=
		`UPDATE users
		    SET hashed_password = $2, failed_login_attempts = 0, locked_until = NULL,
		        password_reset_token_hash = NULL, password_reset_expires = NULL, updated_at = $3
		  WHERE id = $1`
	return r.execOne(ctx, query, id, passwordHash, now)
}

func (r *PostgresRepository) UpdateLockoutState(ctx context.Context, id int64, expected, next models.LockoutState, now time.Time) (bool, error) {
	query :=
		`UPDATE users
		    SET failed_login_attempts = $4, locked_until = $5, updated_at = $6
		  WHERE id = $1 AND failed_login_attempts = $2 AND locked_until IS NOT DISTINCT FROM $3`
	res, err := r.db.ExecContext(ctx, query, id,
		expected.FailedAttempts, nullTime(expected.LockedUntil),
		next.FailedAttempts, nullTime(next.LockedUntil), now)
	if err != nil {
		return false, fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) RecordLogin(ctx context.Context, id int64, now time.Time) error {
	query :=
		`UPDATE users
		    SET last_login = $2, updated_at = $2
		  WHERE id = $1`
	return r.execOne(ctx, query, id, now)
}

func (r *PostgresRepository) MarkVerified(ctx context.Context, id int64, now time.Time) error {
	query :=
		`UPDATE users
		    SET is_verified = TRUE, updated_at = $2
		  WHERE id = $1`
	return r.execOne(ctx, query, id, now)
}

func (r *PostgresRepository) SetActive(ctx context.Context, id int64, active bool, now time.Time) error {
	query :=
		`UPDATE users
		    SET is_active = $2, updated_at = $3
		  WHERE id = $1`
	return r.execOne(ctx, query, id, active, now)
}

func (r *PostgresRepository) SetPasswordReset(ctx context.Context, id int64, tokenHash string, expiresAt, now time.Time) error {
	query :=
		`UPDATE users
		    SET password_reset_token_hash = $2, password_reset_expires = $3, updated_at = $4
		  WHERE id = $1`
	return r.execOne(ctx, query, id, tokenHash, expiresAt, now)
}

func (r *PostgresRepository) ConsumePasswordReset(ctx context.Context, email, tokenHash, passwordHash string, now time.Time) (int64, error) {
	query :=
		`UPDATE users
		    SET hashed_password = $3, password_reset_token_hash = NULL, password_reset_expires = NULL,
		        failed_login_attempts = 0, locked_until = NULL, updated_at = $4
		  WHERE email = $1 AND password_reset_token_hash = $2 AND password_reset_expires > $4
		 RETURNING id`

	var id int64
	if err := r.db.QueryRowContext(ctx, query, email, tokenHash, passwordHash, now).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	return id, nil
}
