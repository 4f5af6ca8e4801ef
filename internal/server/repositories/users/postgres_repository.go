package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/rentkeeper/internal/common"
	"github.com/dmitrijs2005/rentkeeper/internal/dbx"
	"github.com/dmitrijs2005/rentkeeper/internal/server/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))

	query :=
		`INSERT INTO accounts (id, email, password_digest, first_name, last_name, roles)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		account.ID, account.Email, account.PasswordDigest,
		account.FirstName, account.LastName, models.JoinRoles(account.Roles),
	).Scan(&account.CreatedAt, &account.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query :=
		`SELECT id, email, password_digest, first_name, last_name, roles, created_at, updated_at
		 FROM accounts
		 WHERE email = $1
		 `
	return r.getOne(ctx, query, strings.ToLower(strings.TrimSpace(email)))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query :=
		`SELECT id, email, password_digest, first_name, last_name, roles, created_at, updated_at
		 FROM accounts
		 WHERE id = $1
		 `
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.Account, error) {
	account := &models.Account{}
	var roles string

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID, &account.Email, &account.PasswordDigest,
		&account.FirstName, &account.LastName, &roles,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	account.Roles = models.SplitRoles(roles)
	return account, nil
}
