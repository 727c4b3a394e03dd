// Package api exposes the token lifecycle over HTTP/JSON.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/toolchainlabs/tokensvc/internal/audit"
	"github.com/toolchainlabs/tokensvc/internal/logging"
	"github.com/toolchainlabs/tokensvc/internal/server/auth"
	"github.com/toolchainlabs/tokensvc/internal/server/models"
	"github.com/toolchainlabs/tokensvc/internal/server/services"
	"github.com/toolchainlabs/tokensvc/internal/token"
)

// TokenAPI is the slice of TokenService the handlers need. Narrowed to an
// interface so handler tests run against a fake.
type TokenAPI interface {
	CreateExchangeCode(ctx context.Context, caller *auth.Claims, repoID string) (string, time.Time, error)
	RedeemExchangeCode(ctx context.Context, code string) (*services.IssuedToken, error)
	ResolveCI(ctx context.Context, providerName, proof string) (*services.IssuedToken, error)
	Refresh(ctx context.Context, secret string) (*services.AccessGrant, error)
	Revoke(ctx context.Context, caller *auth.Claims, tokenID string) error
	ListActive(ctx context.Context, caller *auth.Claims, targetUserID string) ([]*models.RefreshToken, error)
	Impersonate(ctx context.Context, caller *auth.Claims, targetUserID string) (*services.AccessGrant, error)
	IsDenied(ctx context.Context, refreshTokenID string) (bool, error)
	RequireAdmin(ctx context.Context, caller *auth.Claims) error
}

// AuditReader serves the audit query endpoint. Satisfied by the memory and
// file auditors.
type AuditReader interface {
	Recent(n int) []audit.Event
	Find(tokenID string) []audit.Event
}

// Sweeper triggers one maintenance pass on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (*services.SweepResult, error)
}

// Server routes HTTP requests to the token service.
type Server struct {
	service   TokenAPI
	sweeper   Sweeper
	audits    AuditReader
	logger    logging.Logger
	jwtSecret []byte
}

// NewServer builds the server. audits may be nil; the audit endpoint then
// returns an empty list.
func NewServer(service TokenAPI, sweeper Sweeper, audits AuditReader, logger logging.Logger, jwtSecret []byte) *Server {
	return &Server{
		service:   service,
		sweeper:   sweeper,
		audits:    audits,
		logger:    logger,
		jwtSecret: jwtSecret,
	}
}

// Handler assembles the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+RouteHealthz, s.handleHealthz)

	// unauthenticated: these endpoints trade other credentials for tokens
	mux.HandleFunc("POST "+RouteExchange, s.handleExchange)
	mux.HandleFunc("POST "+RouteCI, s.handleCI)
	mux.HandleFunc("POST "+RouteRefresh, s.handleRefresh)

	mux.HandleFunc("POST "+RouteRevoke, s.requireAuth(s.handleRevoke))
	mux.HandleFunc("GET "+RouteTokens, s.requireAuth(s.handleListTokens))
	mux.HandleFunc("POST "+RouteImpersonate,
		s.requireAuth(s.requireAudience(token.AudienceImpersonate, s.handleImpersonate)))
	mux.HandleFunc("POST "+RouteCodes,
		s.requireAuth(s.requireAudience(token.AudienceUISession, s.handleCreateCode)))
	mux.HandleFunc("GET "+RouteAuditEvents, s.requireAuth(s.requireAdmin(s.handleAuditEvents)))
	mux.HandleFunc("POST "+RouteSweep, s.requireAuth(s.requireAdmin(s.handleSweep)))

	return s.withLogging(mux)
}
