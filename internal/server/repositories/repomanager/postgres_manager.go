// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/rentkeeper/internal/dbx"
	"github.com/dmitrijs2005/rentkeeper/internal/server/migrations"
	"github.com/dmitrijs2005/rentkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/rentkeeper/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
)

// PostgresRepositoryManager vends PostgreSQL-backed repositories. Refresh
// credentials move to Redis when a client is configured with WithRedis.
type PostgresRepositoryManager struct {
	redis       redis.UniversalClient
	redisPrefix string
}

type Option func(*PostgresRepositoryManager)

// WithRedis stores refresh credentials in Redis under prefix instead of the
// refresh_tokens table.
func WithRedis(rdb redis.UniversalClient, prefix string) Option {
	return func(m *PostgresRepositoryManager) {
		m.redis = rdb
		m.redisPrefix = prefix
	}
}

// Users returns a users.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

// RefreshTokens returns a refreshtokens.Repository. The Redis variant ignores db.
func (m *PostgresRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	if m.redis != nil {
		return refreshtokens.NewRedisRepository(m.redis, m.redisPrefix, refreshtokens.DefaultRedisRetention)
	}
	return refreshtokens.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager(opts ...Option) RepositoryManager {
	m := &PostgresRepositoryManager{}
	for _, o := range opts {
		o(m)
	}
	return m
}
