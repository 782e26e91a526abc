package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/authgate/internal/domain"
)

const uniqueViolation = "23505"

// DBTX is the subset of pgxpool.Pool the repositories use.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRepository defines persistence access for local users. Lookups return
// pgx.ErrNoRows when nothing matches.
type UserRepository interface {
	Create(ctx context.Context, user *domain.LocalUser) error
	Update(ctx context.Context, user *domain.LocalUser) error
	GetByID(ctx context.Context, id string) (*domain.LocalUser, error)
	GetBySubject(ctx context.Context, subject string) (*domain.LocalUser, error)
	GetByEmail(ctx context.Context, email string) (*domain.LocalUser, error)
}

type userRepository struct {
	db DBTX
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, provider_subject, email, first_name, last_name, is_active, is_deleted, created_at, updated_at`

func (r *userRepository) Create(ctx context.Context, user *domain.LocalUser) error {
	const query = `
        INSERT INTO local_users (id, provider_subject, email, first_name, last_name, is_active, is_deleted)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING created_at, updated_at`

	return r.db.QueryRow(ctx, query,
		user.ID,
		user.ProviderSubject,
		user.Email,
		user.FirstName,
		user.LastName,
		user.IsActive,
		user.IsDeleted,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
}

func (r *userRepository) Update(ctx context.Context, user *domain.LocalUser) error {
	const query = `
        UPDATE local_users SET provider_subject=$1, email=$2, first_name=$3, last_name=$4,
            is_active=$5, is_deleted=$6, updated_at=NOW()
        WHERE id=$7`

	cmd, err := r.db.Exec(ctx, query,
		user.ProviderSubject,
		user.Email,
		user.FirstName,
		user.LastName,
		user.IsActive,
		user.IsDeleted,
		user.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.LocalUser, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM local_users WHERE id=$1`, id)
}

func (r *userRepository) GetBySubject(ctx context.Context, subject string) (*domain.LocalUser, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM local_users WHERE provider_subject=$1`, subject)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.LocalUser, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM local_users WHERE email=$1`, domain.NormalizeEmail(email))
}

func (r *userRepository) getOne(ctx context.Context, query string, arg any) (*domain.LocalUser, error) {
	var user domain.LocalUser
	if err := r.db.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.ProviderSubject,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.IsActive,
		&user.IsDeleted,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
