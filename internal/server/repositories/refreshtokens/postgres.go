// Package refreshtokens provides a PostgreSQL-backed repository for the
// refresh tokens at the center of the authentication flow.
package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/toolchainlabs/tokensvc/internal/common"
	"github.com/toolchainlabs/tokensvc/internal/dbx"
	"github.com/toolchainlabs/tokensvc/internal/server/models"
	"github.com/toolchainlabs/tokensvc/internal/token"
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

const tokenColumns = `id, user_id, customer_id, repo_id, audience, kind, secret_hash, state, provider, issued_at, expires_at, last_seen, revoked_at`

// Create inserts a new refresh token row.
func (r *PostgresRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, customer_id, repo_id, audience, kind, secret_hash, state, provider, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if _, err := r.db.ExecContext(ctx, query,
		t.ID, t.UserID, t.CustomerID, t.RepoID, int64(t.Audience), string(t.Kind),
		t.SecretHash, string(t.State), t.Provider, t.IssuedAt, t.ExpiresAt); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

// FindBySecretHash returns the token row matching the secret hash.
func (r *PostgresRepository) FindBySecretHash(ctx context.Context, secretHash string) (*models.RefreshToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM refresh_tokens
		WHERE secret_hash = $1
	`
	return scanToken(r.db.QueryRowContext(ctx, query, secretHash))
}

// FindByID returns the token row with the given id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.RefreshToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM refresh_tokens
		WHERE id = $1
	`
	return scanToken(r.db.QueryRowContext(ctx, query, id))
}

// ListActiveByUser returns the user's active tokens, newest first.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM refresh_tokens
		WHERE user_id = $1 AND state = 'active'
		ORDER BY issued_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var tokens []*models.RefreshToken
	for rows.Next() {
		t, err := scanTokenRows(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tokens, nil
}

// CountActiveByUser counts the user's active tokens.
func (r *PostgresRepository) CountActiveByUser(ctx context.Context, userID string) (int64, error) {
	query := `
		SELECT count(*)
		FROM refresh_tokens
		WHERE user_id = $1 AND state = 'active'
	`
	var n int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// AcquireUserLock takes a transaction-scoped advisory lock keyed on the user
// id. Held until the surrounding transaction ends.
func (r *PostgresRepository) AcquireUserLock(ctx context.Context, userID string) error {
	query := `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// TouchLastSeen records a use of the token.
func (r *PostgresRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE refresh_tokens
		SET last_seen = $2
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// MarkExpired flips an active token to expired. The WHERE guard makes the
// transition monotonic under concurrent writers.
func (r *PostgresRepository) MarkExpired(ctx context.Context, id string) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET state = 'expired'
		WHERE id = $1 AND state = 'active'
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return rowsAffected(res)
}

// MarkRevoked flips a token to revoked. Expired tokens can still be revoked
// for bookkeeping; revoked ones cannot change again.
func (r *PostgresRepository) MarkRevoked(ctx context.Context, id string, at time.Time) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET state = 'revoked', revoked_at = $2
		WHERE id = $1 AND state IN ('active', 'expired')
	`
	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return rowsAffected(res)
}

// ExpireOverdue flips every overdue active token to expired.
func (r *PostgresRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET state = 'expired'
		WHERE state = 'active' AND expires_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return rowsAffected(res)
}

// DeleteSweepable removes terminal tokens whose expiry lies before cutoff.
func (r *PostgresRepository) DeleteSweepable(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE state IN ('expired', 'revoked') AND expires_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return rowsAffected(res)
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row *sql.Row) (*models.RefreshToken, error) {
	t, err := scanTokenFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}
	return t, nil
}

func scanTokenRows(rows *sql.Rows) (*models.RefreshToken, error) {
	return scanTokenFrom(rows)
}

func scanTokenFrom(s rowScanner) (*models.RefreshToken, error) {
	t := &models.RefreshToken{}
	var (
		audience  int64
		kind      string
		state     string
		lastSeen  sql.NullTime
		revokedAt sql.NullTime
	)
	err := s.Scan(&t.ID, &t.UserID, &t.CustomerID, &t.RepoID, &audience, &kind,
		&t.SecretHash, &state, &t.Provider, &t.IssuedAt, &t.ExpiresAt, &lastSeen, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	t.Audience = token.Audience(audience)
	t.Kind = token.Kind(kind)
	t.State = token.State(state)
	if lastSeen.Valid {
		t.LastSeen = &lastSeen.Time
	}
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	return t, nil
}
