// Package server wires the configuration, storage, credential services and
// HTTP gateway together and runs them until the process is signalled.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/rentkeeper/internal/cryptox"
	"github.com/dmitrijs2005/rentkeeper/internal/logging"
	"github.com/dmitrijs2005/rentkeeper/internal/server/auth"
	"github.com/dmitrijs2005/rentkeeper/internal/server/config"
	"github.com/dmitrijs2005/rentkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/rentkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/rentkeeper/internal/server/services"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rentkeeper"

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	redis  *redis.Client
	server *httpapi.Server
}

// NewApp validates c and builds every component. Nothing listens until Run.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewJSONLogger(os.Stdout, slog.LevelInfo)

	cipher, err := cryptox.NewTokenCipherFromBase64(c.CipherKey, c.CipherIV)
	if err != nil {
		return nil, err
	}

	hasher, err := cryptox.NewPasswordHasher(c.PasswordHasher)
	if err != nil {
		return nil, err
	}

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Secret:   []byte(c.SecretKey),
		Issuer:   c.Issuer,
		Audience: c.Audience,
		Validity: c.AccessTokenValidityDuration,
	})
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}

	var opts []repomanager.Option
	if c.RefreshStore == config.RefreshStoreRedis {
		app.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := app.redis.Ping(ctx).Err(); err != nil {
			app.close()
			return nil, fmt.Errorf("redis ping error: %w", err)
		}
		opts = append(opts, repomanager.WithRedis(app.redis, redisKeyPrefix))
	}

	rm := repomanager.NewPostgresRepositoryManager(opts...)
	if err := rm.RunMigrations(ctx, db); err != nil {
		app.close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	refresh := services.NewRefreshStore(db, rm, cipher, c.RefreshTokenValidityDuration, logger).
		WithReuseGrace(c.RefreshReuseGrace)
	sessions := services.NewSessionService(db, rm, hasher, issuer, refresh, logger)

	app.server = httpapi.NewServer(c.EndpointAddrHTTP, logger, sessions, issuer)

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until ctx is cancelled or a termination signal arrives, then
// releases the database and Redis connections.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.initSignalHandler(cancelFunc)

	app.logger.Info(ctx, "Starting app...",
		"address", app.config.EndpointAddrHTTP,
		"refresh_store", app.config.RefreshStore,
		"password_hasher", app.config.PasswordHasher,
	)

	err := app.server.Run(ctx)
	if err != nil {
		app.logger.Error(ctx, "http server stopped", "error", err)
	}

	app.close()
	app.logger.Info(context.Background(), "App stopped")

	return err
}

func (app *App) close() {
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}
