package exchangecodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/toolchainlabs/tokensvc/internal/common"
	"github.com/toolchainlabs/tokensvc/internal/dbx"
	"github.com/toolchainlabs/tokensvc/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new exchange code row.
func (r *PostgresRepository) Create(ctx context.Context, c *models.ExchangeCode) error {
	query := `
		INSERT INTO exchange_codes (id, code_hash, user_id, repo_id, available, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.ExecContext(ctx, query,
		c.ID, c.CodeHash, c.UserID, c.RepoID, c.Available, c.ExpiresAt); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

// Consume claims the code in a single guarded UPDATE.
func (r *PostgresRepository) Consume(ctx context.Context, codeHash string, now time.Time) (*models.ExchangeCode, error) {
	query := `
		UPDATE exchange_codes
		SET available = false
		WHERE code_hash = $1 AND available AND expires_at > $2
		RETURNING id, code_hash, user_id, repo_id, available, expires_at, created_at
	`
	c := &models.ExchangeCode{}
	err := r.db.QueryRowContext(ctx, query, codeHash, now).Scan(
		&c.ID, &c.CodeHash, &c.UserID, &c.RepoID, &c.Available, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// DeleteExpired removes codes past their expiry.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM exchange_codes
		WHERE expires_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
