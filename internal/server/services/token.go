// Package services contains server-side business logic. This file implements
// TokenService: exchange-code redemption, CI token issuance, refresh, revoke,
// and impersonation.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/toolchainlabs/tokensvc/internal/audit"
	"github.com/toolchainlabs/tokensvc/internal/common"
	"github.com/toolchainlabs/tokensvc/internal/dbx"
	"github.com/toolchainlabs/tokensvc/internal/denylist"
	"github.com/toolchainlabs/tokensvc/internal/policy"
	"github.com/toolchainlabs/tokensvc/internal/providers"
	"github.com/toolchainlabs/tokensvc/internal/server/auth"
	"github.com/toolchainlabs/tokensvc/internal/server/config"
	"github.com/toolchainlabs/tokensvc/internal/server/models"
	"github.com/toolchainlabs/tokensvc/internal/server/repositories/repomanager"
	"github.com/toolchainlabs/tokensvc/internal/token"
)

// denylistSkew pads denylist TTLs past access-token expiry so clock drift
// between instances cannot resurrect a revoked token.
const denylistSkew = time.Minute

// exchangeAudience is what redeemed exchange codes grant. Exchange codes come
// out of an interactive UI session; the resulting CLI token gets the build
// surfaces, never ui or impersonate.
const exchangeAudience = token.AudienceBuildAPI | token.AudienceCacheRead |
	token.AudienceCacheWrite | token.AudienceRemoteExec

// IssuedToken is the response to any operation that mints a refresh token.
// Secret is the plaintext the client must keep; it is not recoverable later.
type IssuedToken struct {
	TokenID   string
	Secret    string
	Audience  token.Audience
	ExpiresAt time.Time
}

// AccessGrant is the response to a refresh or impersonation call.
type AccessGrant struct {
	AccessToken string
	ExpiresAt   time.Time
	Audience    token.Audience
}

// TokenService implements the refresh-token lifecycle.
type TokenService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cfg         *config.Config
	engine      *policy.Engine
	registry    providers.Registry
	denylist    denylist.Denylist
	auditor     audit.Auditor

	jwtSecret []byte

	// now is replaced in tests.
	now func() time.Time
}

// NewTokenService wires the service. engine and registry may be nil when no
// policy file is configured; ResolveCI then always fails.
func NewTokenService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config,
	engine *policy.Engine, registry providers.Registry, dl denylist.Denylist, auditor audit.Auditor) *TokenService {
	return &TokenService{
		db:          db,
		repomanager: m,
		cfg:         cfg,
		engine:      engine,
		registry:    registry,
		denylist:    dl,
		auditor:     auditor,
		jwtSecret:   []byte(cfg.SecretKey),
		now:         time.Now,
	}
}

// CreateExchangeCode mints a single-use code binding the caller to a repo.
// The caller must hold a UI session; the API layer enforces that. Returns the
// plaintext code.
func (s *TokenService) CreateExchangeCode(ctx context.Context, caller *auth.Claims, repoID string) (string, time.Time, error) {
	code, err := common.MakeRandHexString(common.SecretByteLen)
	if err != nil {
		return "", time.Time{}, common.ErrorInternal
	}

	now := s.now()
	expires := now.Add(s.cfg.ExchangeCodeValidity)
	repo := s.repomanager.ExchangeCodes(s.db)
	if err := repo.Create(ctx, &models.ExchangeCode{
		ID:        uuid.NewString(),
		CodeHash:  common.HashSecret(code),
		UserID:    caller.UserID,
		RepoID:    repoID,
		Available: true,
		ExpiresAt: expires,
		CreatedAt: now,
	}); err != nil {
		return "", time.Time{}, fmt.Errorf("error creating exchange code: %w", err)
	}

	event := audit.NewEvent(audit.ActionCodeCreate, caller.UserID)
	event.CustomerID = caller.CustomerID
	event.Fingerprint = audit.Fingerprint(code)
	event.Details = map[string]string{"repo_id": repoID}
	_ = s.auditor.Record(ctx, event)

	return code, expires, nil
}

// RedeemExchangeCode consumes a code and mints a refresh token for the bound
// user and repo. Consumption, the quota check, and the insert share one
// transaction so a code can never pay out twice and the quota cannot be
// raced past.
func (s *TokenService) RedeemExchangeCode(ctx context.Context, code string) (*IssuedToken, error) {
	codeHash := common.HashSecret(code)

	var issued *IssuedToken
	var user *models.User
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ec, err := s.repomanager.ExchangeCodes(tx).Consume(ctx, codeHash, s.now())
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrCodeUnavailable
			}
			return fmt.Errorf("error consuming exchange code: %w", err)
		}

		user, err = s.repomanager.Users(tx).GetByID(ctx, ec.UserID)
		if err != nil {
			return common.ErrorInternal
		}

		issued, err = s.mintRefreshToken(ctx, tx, mintParams{
			user:     user,
			repoID:   ec.RepoID,
			audience: exchangeAudience,
			kind:     token.KindAPI,
			provider: "exchange",
			validity: s.cfg.RefreshTokenValidity,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	event := audit.NewEvent(audit.ActionExchange, user.ID)
	event.CustomerID = user.CustomerID
	event.TokenID = issued.TokenID
	event.Fingerprint = audit.Fingerprint(code)
	_ = s.auditor.Record(ctx, event)

	return issued, nil
}

// ResolveCI verifies a CI proof with the named provider, runs the policy
// engine over the resulting identity, and mints a refresh token for the
// granted service account.
func (s *TokenService) ResolveCI(ctx context.Context, providerName, proof string) (*IssuedToken, error) {
	if s.engine == nil || s.registry == nil {
		return nil, fmt.Errorf("%w: no issuance policy configured", common.ErrorForbidden)
	}

	provider, err := s.registry.Get(providerName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
	}

	identity, err := provider.Resolve(ctx, proof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
	}

	grant, err := s.engine.Evaluate(identity)
	if err != nil {
		return nil, err
	}

	user, err := s.repomanager.Users(s.db).GetByLogin(ctx, grant.User)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: grant user %q does not exist", common.ErrorForbidden, grant.User)
		}
		return nil, common.ErrorInternal
	}

	validity := s.cfg.RefreshTokenValidity
	if grant.MaxTTL > 0 && grant.MaxTTL < validity {
		validity = grant.MaxTTL
	}

	var issued *IssuedToken
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		issued, err = s.mintRefreshToken(ctx, tx, mintParams{
			user:     user,
			repoID:   identity.Repository,
			audience: grant.Audience,
			kind:     token.KindAPI,
			provider: providerName,
			validity: validity,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	event := audit.NewEvent(audit.ActionIssue, user.ID)
	event.CustomerID = user.CustomerID
	event.TokenID = issued.TokenID
	event.Details = map[string]string{
		"provider": providerName,
		"subject":  identity.Subject,
		"rule":     grant.Rule,
	}
	_ = s.auditor.Record(ctx, event)

	return issued, nil
}

// Refresh exchanges a refresh-token secret for a fresh access token. The
// refresh token itself is not rotated; last_seen is bumped. An overdue
// active token is flipped to expired before failing.
func (s *TokenService) Refresh(ctx context.Context, secret string) (*AccessGrant, error) {
	repo := s.repomanager.RefreshTokens(s.db)

	rt, err := repo.FindBySecretHash(ctx, common.HashSecret(secret))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	switch rt.State {
	case token.StateRevoked:
		return nil, common.ErrTokenRevoked
	case token.StateExpired:
		return nil, common.ErrRefreshTokenExpired
	}

	now := s.now()
	if rt.ExpiredAt(now) {
		if !rt.State.CanTransition(token.StateExpired) {
			return nil, common.ErrInvalidTransition
		}
		// persist the flip so list/sweep see the real state
		if _, err := repo.MarkExpired(ctx, rt.ID); err != nil {
			return nil, common.ErrorInternal
		}
		return nil, common.ErrRefreshTokenExpired
	}

	if err := repo.TouchLastSeen(ctx, rt.ID, now); err != nil {
		return nil, common.ErrorInternal
	}

	grant, err := s.mintAccessToken(rt.UserID, rt.CustomerID, rt.ID, rt.Audience, "")
	if err != nil {
		return nil, err
	}

	event := audit.NewEvent(audit.ActionRefresh, rt.UserID)
	event.CustomerID = rt.CustomerID
	event.TokenID = rt.ID
	_ = s.auditor.Record(ctx, event)

	return grant, nil
}

// Revoke revokes the refresh token and pushes its id onto the denylist so
// access tokens already minted from it stop verifying. The caller must be
// the owner or an org admin of the same customer. Revoking an already
// revoked token succeeds without side effects.
func (s *TokenService) Revoke(ctx context.Context, caller *auth.Claims, tokenID string) error {
	repo := s.repomanager.RefreshTokens(s.db)

	rt, err := repo.FindByID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return common.ErrorInternal
	}

	if err := s.authorizeTokenAccess(ctx, caller, rt); err != nil {
		return err
	}

	if !rt.State.CanTransition(token.StateRevoked) {
		// revoked absorbs; repeat revocations succeed without side effects
		return nil
	}

	if _, err := repo.MarkRevoked(ctx, tokenID, s.now()); err != nil {
		return common.ErrorInternal
	}

	if err := s.denylist.Add(ctx, tokenID, s.cfg.AccessTokenValidity+denylistSkew); err != nil {
		return fmt.Errorf("error propagating revocation: %w", err)
	}

	event := audit.NewEvent(audit.ActionRevoke, caller.UserID)
	event.CustomerID = rt.CustomerID
	event.TokenID = tokenID
	_ = s.auditor.Record(ctx, event)

	return nil
}

// ListActive lists the target user's active tokens. Callers may list their
// own; org admins may list anyone in their customer.
func (s *TokenService) ListActive(ctx context.Context, caller *auth.Claims, targetUserID string) ([]*models.RefreshToken, error) {
	if targetUserID == "" {
		targetUserID = caller.UserID
	}

	if targetUserID != caller.UserID {
		target, err := s.repomanager.Users(s.db).GetByID(ctx, targetUserID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil, common.ErrorNotFound
			}
			return nil, common.ErrorInternal
		}
		if err := s.requireAdminOf(ctx, caller, target.CustomerID); err != nil {
			return nil, err
		}
	}

	tokens, err := s.repomanager.RefreshTokens(s.db).ListActiveByUser(ctx, targetUserID)
	if err != nil {
		return nil, common.ErrorInternal
	}
	return tokens, nil
}

// Impersonate mints an access token whose subject is the target user while
// recording the admin as the acting user. Requires the impersonate audience
// flag, org admin rights, and a same-customer target. The minted token never
// carries the impersonate flag itself.
func (s *TokenService) Impersonate(ctx context.Context, caller *auth.Claims, targetUserID string) (*AccessGrant, error) {
	if !caller.AudienceMask.Has(token.AudienceImpersonate) {
		return nil, common.ErrorForbidden
	}
	if caller.ActingUserID != "" {
		// no impersonation chains
		return nil, common.ErrorForbidden
	}

	target, err := s.repomanager.Users(s.db).GetByID(ctx, targetUserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, common.ErrorInternal
	}

	if err := s.requireAdminOf(ctx, caller, target.CustomerID); err != nil {
		return nil, err
	}

	aud := caller.AudienceMask.Without(token.AudienceImpersonate | token.AudienceUISession)
	grant, err := s.mintAccessToken(target.ID, target.CustomerID, caller.RefreshTokenID, aud, caller.UserID)
	if err != nil {
		return nil, err
	}

	event := audit.NewEvent(audit.ActionImpersonate, caller.UserID)
	event.CustomerID = target.CustomerID
	event.TokenID = caller.RefreshTokenID
	event.Details = map[string]string{"target": target.ID}
	_ = s.auditor.Record(ctx, event)

	return grant, nil
}

// IsDenied reports whether an access token's originating refresh token has
// been revoked since minting. Used by the verification middleware.
func (s *TokenService) IsDenied(ctx context.Context, refreshTokenID string) (bool, error) {
	return s.denylist.Contains(ctx, refreshTokenID)
}

// RequireAdmin checks that the caller is an org admin of their own customer.
// The API layer uses it to gate the audit and maintenance endpoints.
func (s *TokenService) RequireAdmin(ctx context.Context, caller *auth.Claims) error {
	return s.requireAdminOf(ctx, caller, caller.CustomerID)
}

// --- helpers below ---

type mintParams struct {
	user     *models.User
	repoID   string
	audience token.Audience
	kind     token.Kind
	provider string
	validity time.Duration
}

// mintRefreshToken generates a secret, enforces the per-user quota, and
// inserts the row. Runs inside the caller's transaction; the advisory lock
// serializes concurrent mints for one user so the quota count and the insert
// cannot interleave.
func (s *TokenService) mintRefreshToken(ctx context.Context, tx dbx.DBTX, p mintParams) (*IssuedToken, error) {
	user := p.user
	if user.CustomerID == "" {
		full, err := s.repomanager.Users(tx).GetByID(ctx, user.ID)
		if err != nil {
			return nil, common.ErrorInternal
		}
		user = full
	}

	repo := s.repomanager.RefreshTokens(tx)
	if err := repo.AcquireUserLock(ctx, user.ID); err != nil {
		return nil, common.ErrorInternal
	}
	n, err := repo.CountActiveByUser(ctx, user.ID)
	if err != nil {
		return nil, common.ErrorInternal
	}
	if n >= int64(s.cfg.MaxActiveTokensPerUser) {
		return nil, common.ErrQuotaExceeded
	}

	secret, err := common.MakeRandHexString(common.SecretByteLen)
	if err != nil {
		return nil, common.ErrorInternal
	}

	now := s.now()
	rt := &models.RefreshToken{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		CustomerID: user.CustomerID,
		RepoID:     p.repoID,
		Audience:   p.audience,
		Kind:       p.kind,
		SecretHash: common.HashSecret(secret),
		State:      token.StateActive,
		Provider:   p.provider,
		IssuedAt:   now,
		ExpiresAt:  now.Add(p.validity),
	}
	if err := repo.Create(ctx, rt); err != nil {
		return nil, fmt.Errorf("error creating refresh token: %w", err)
	}

	return &IssuedToken{
		TokenID:   rt.ID,
		Secret:    secret,
		Audience:  rt.Audience,
		ExpiresAt: rt.ExpiresAt,
	}, nil
}

func (s *TokenService) mintAccessToken(userID, customerID, refreshTokenID string, aud token.Audience, actingUserID string) (*AccessGrant, error) {
	claims := auth.Claims{
		UserID:         userID,
		CustomerID:     customerID,
		AudienceMask:   aud,
		RefreshTokenID: refreshTokenID,
		ActingUserID:   actingUserID,
	}
	signed, err := auth.GenerateAccessToken(claims, s.jwtSecret, s.cfg.AccessTokenValidity)
	if err != nil {
		return nil, common.ErrorInternal
	}
	return &AccessGrant{
		AccessToken: signed,
		ExpiresAt:   s.now().Add(s.cfg.AccessTokenValidity),
		Audience:    aud,
	}, nil
}

// authorizeTokenAccess permits the token's owner and org admins of the
// token's customer.
func (s *TokenService) authorizeTokenAccess(ctx context.Context, caller *auth.Claims, rt *models.RefreshToken) error {
	if caller.UserID == rt.UserID {
		return nil
	}
	return s.requireAdminOf(ctx, caller, rt.CustomerID)
}

// requireAdminOf checks that the caller is an org admin of the given
// customer. The admin bit is read from storage, not from the token, so
// demotion takes effect immediately.
func (s *TokenService) requireAdminOf(ctx context.Context, caller *auth.Claims, customerID string) error {
	if caller.CustomerID != customerID {
		return common.ErrorForbidden
	}
	callerUser, err := s.repomanager.Users(s.db).GetByID(ctx, caller.UserID)
	if err != nil {
		return common.ErrorInternal
	}
	if !callerUser.Admin {
		return common.ErrorForbidden
	}
	return nil
}
