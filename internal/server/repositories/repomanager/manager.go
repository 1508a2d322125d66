// Package repomanager declares the factory through which services obtain
// repositories bound to a particular DB handle (plain connection or
// transaction).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/mbalashov/sessiond/internal/dbx"
	"github.com/mbalashov/sessiond/internal/server/repositories/refreshtokens"
	"github.com/mbalashov/sessiond/internal/server/repositories/users"
)

// RepositoryManager vends repository implementations bound to the given
// DBTX and exposes a schema migration hook.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
}
