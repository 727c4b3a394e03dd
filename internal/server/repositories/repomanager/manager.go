// Package repomanager defines the factory that vends repository
// implementations bound to a shared DBTX, so services can compose
// repositories inside one transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/toolchainlabs/tokensvc/internal/dbx"
	"github.com/toolchainlabs/tokensvc/internal/server/repositories/exchangecodes"
	"github.com/toolchainlabs/tokensvc/internal/server/repositories/refreshtokens"
	"github.com/toolchainlabs/tokensvc/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to the provided DBTX and owns
// schema migrations.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	ExchangeCodes(db dbx.DBTX) exchangecodes.Repository
}
