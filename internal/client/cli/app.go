package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/dmitrijs2005/rentkeeper/internal/client/client"
	"github.com/dmitrijs2005/rentkeeper/internal/client/config"
	"github.com/dmitrijs2005/rentkeeper/internal/client/session"
	"github.com/dmitrijs2005/rentkeeper/internal/client/storage"
	"github.com/dmitrijs2005/rentkeeper/internal/logging"
)

// API is the part of client.HTTPClient the commands use.
type API interface {
	Register(ctx context.Context, in client.RegisterRequest) (*client.Account, error)
	Login(ctx context.Context, email, password string) (*client.Account, error)
	Me(ctx context.Context) (*client.Account, error)
	Logout(ctx context.Context) error
	HasSession(ctx context.Context) bool
	Close()
}

type App struct {
	api    API
	reader *bufio.Reader
	out    io.Writer
	email  string
	close  func() error
}

// NewApp validates c, opens the local store and builds the API client.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cipher, err := c.StorageCipher()
	if err != nil {
		return nil, err
	}

	store, err := storage.OpenSQLiteStore(ctx, c.StorageDSN, cipher)
	if err != nil {
		return nil, err
	}

	logger := logging.NewJSONLogger(os.Stderr, slog.LevelWarn)

	app := &App{reader: bufio.NewReader(os.Stdin), out: os.Stdout, close: store.Close}

	state := session.NewState(ctx)
	state.OnLogout(func(reason error) {
		if !errors.Is(reason, session.ErrLoggedOut) {
			fmt.Fprintln(app.out, "Session ended, please log in again.")
		}
		app.email = ""
	})

	app.api = client.NewHTTPClient(c.ServerEndpointAddr, store, state,
		client.WithHTTPClient(&http.Client{Timeout: c.RequestTimeout}),
		client.WithRenewalTimeout(c.RenewalTimeout),
		client.WithLogger(logger),
	)

	return app, nil
}

// Run starts the REPL and releases resources when it returns.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		a.api.Close()
		if a.close != nil {
			_ = a.close()
		}
	}()

	fmt.Fprintln(a.out, "Welcome to RentKeeper CLI (type 'help' for commands)")
	runREPL(ctx, a, a.status, a.reader)
	return nil
}

func (a *App) isLoggedIn(ctx context.Context) bool {
	return a.api.HasSession(ctx)
}

func (a *App) status() string {
	if a.email != "" {
		return "(" + a.email + ")"
	}
	return ""
}
