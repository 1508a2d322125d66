// Package cli implements the interactive session client: a small REPL over
// the server API with a locally persisted credential cache, so a restarted
// client resumes its session without logging in again.
package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"

	"github.com/mbalashov/sessiond/internal/client/api"
	"github.com/mbalashov/sessiond/internal/client/config"
	"github.com/mbalashov/sessiond/internal/client/session"
	"github.com/mbalashov/sessiond/internal/client/transport"
	"github.com/mbalashov/sessiond/internal/common"
)

type App struct {
	config *config.Config
	store  session.Store
	db     *sql.DB

	// authAPI speaks to the open endpoints with a plain transport; userAPI
	// goes through AuthTransport so bearer-protected calls refresh
	// transparently.
	authAPI *api.Client
	userAPI *api.Client

	reader *bufio.Reader
}

func NewApp(c *config.Config) (*App, error) {
	ctx := context.Background()

	store, db, err := session.InitDatabase(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	authAPI := api.New(c.ServerBaseURL, &http.Client{Timeout: c.RequestTimeout})
	userAPI := api.New(c.ServerBaseURL, &http.Client{
		Timeout:   c.RequestTimeout,
		Transport: transport.New(store, authAPI, nil),
	})

	return &App{
		config:  c,
		store:   store,
		db:      db,
		authAPI: authAPI,
		userAPI: userAPI,
		reader:  bufio.NewReader(os.Stdin),
	}, nil
}

func (a *App) Run(ctx context.Context) {
	defer func() { _ = a.db.Close() }()
	runREPL(ctx, a, a.status, bufio.NewScanner(os.Stdin))
}

// isLoggedIn reports whether a session is cached locally; the server may
// still reject it, in which case commands surface the failure.
func (a *App) isLoggedIn() bool {
	_, _, err := a.store.Tokens(context.Background())
	return !errors.Is(err, common.ErrorNotFound)
}

func (a *App) status() string {
	profile, err := a.store.User(context.Background())
	if err != nil || profile.Email == "" {
		return "not logged in"
	}
	return profile.Email
}
