package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/toolchainlabs/tokensvc/internal/audit"
	"github.com/toolchainlabs/tokensvc/internal/server/models"
)

type exchangeRequest struct {
	Code string `json:"code"`
}

type ciRequest struct {
	Provider string `json:"provider"`
	Proof    string `json:"proof"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type revokeRequest struct {
	TokenID string `json:"token_id"`
}

type impersonateRequest struct {
	TargetUserID string `json:"target_user_id"`
}

type createCodeRequest struct {
	RepoID string `json:"repo_id"`
}

type issuedTokenResponse struct {
	TokenID      string    `json:"token_id"`
	RefreshToken string    `json:"refresh_token"`
	Audience     []string  `json:"audience"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type accessGrantResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Audience    []string  `json:"audience"`
}

type tokenSummary struct {
	TokenID   string     `json:"token_id"`
	RepoID    string     `json:"repo_id,omitempty"`
	Audience  []string   `json:"audience"`
	Kind      string     `json:"kind"`
	Provider  string     `json:"provider"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

type createCodeResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sweepResponse struct {
	Expired      int64 `json:"expired"`
	Deleted      int64 `json:"deleted"`
	CodesDeleted int64 `json:"codes_deleted"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := decodeJSON(r, &req); err != nil || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing code"})
		return
	}

	issued, err := s.service.RedeemExchangeCode(r.Context(), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issuedResponse(issued.TokenID, issued.Secret, issued.Audience.Names(), issued.ExpiresAt))
}

func (s *Server) handleCI(w http.ResponseWriter, r *http.Request) {
	var req ciRequest
	if err := decodeJSON(r, &req); err != nil || req.Provider == "" || req.Proof == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing provider or proof"})
		return
	}

	issued, err := s.service.ResolveCI(r.Context(), req.Provider, req.Proof)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issuedResponse(issued.TokenID, issued.Secret, issued.Audience.Names(), issued.ExpiresAt))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing refresh_token"})
		return
	}

	grant, err := s.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accessGrantResponse{
		AccessToken: grant.AccessToken,
		ExpiresAt:   grant.ExpiresAt,
		Audience:    grant.Audience.Names(),
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil || req.TokenID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing token_id"})
		return
	}

	if err := s.service.Revoke(r.Context(), claims, req.TokenID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	target := r.URL.Query().Get("user_id")
	tokens, err := s.service.ListActive(r.Context(), claims, target)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]tokenSummary, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, summarize(t))
	}
	writeJSON(w, http.StatusOK, map[string][]tokenSummary{"tokens": out})
}

func (s *Server) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	var req impersonateRequest
	if err := decodeJSON(r, &req); err != nil || req.TargetUserID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing target_user_id"})
		return
	}

	grant, err := s.service.Impersonate(r.Context(), claims, req.TargetUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accessGrantResponse{
		AccessToken: grant.AccessToken,
		ExpiresAt:   grant.ExpiresAt,
		Audience:    grant.Audience.Names(),
	})
}

func (s *Server) handleCreateCode(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	var req createCodeRequest
	if err := decodeJSON(r, &req); err != nil || req.RepoID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing repo_id"})
		return
	}

	code, expires, err := s.service.CreateExchangeCode(r.Context(), claims, req.RepoID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createCodeResponse{Code: code, ExpiresAt: expires})
}

// handleAuditEvents serves recent events, or a single token's trail when
// token_id is given. Org admins only; events are scoped to the caller's
// customer, except customer-less system events like sweeps.
func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	if s.audits == nil {
		writeJSON(w, http.StatusOK, map[string][]audit.Event{"events": {}})
		return
	}

	var events []audit.Event
	if tokenID := r.URL.Query().Get("token_id"); tokenID != "" {
		events = s.audits.Find(tokenID)
	} else {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 1000 {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
				return
			}
			limit = n
		}
		events = s.audits.Recent(limit)
	}

	scoped := make([]audit.Event, 0, len(events))
	for _, e := range events {
		if e.CustomerID == "" || e.CustomerID == claims.CustomerID {
			scoped = append(scoped, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string][]audit.Event{"events": scoped})
}

// handleSweep runs one maintenance pass on demand, ahead of the next ticker
// fire. The periodic sweeper stays authoritative.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "sweep not available"})
		return
	}

	res, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{
		Expired:      res.Expired,
		Deleted:      res.Deleted,
		CodesDeleted: res.CodesDeleted,
	})
}

func issuedResponse(id, secret string, audience []string, expires time.Time) issuedTokenResponse {
	return issuedTokenResponse{
		TokenID:      id,
		RefreshToken: secret,
		Audience:     audience,
		ExpiresAt:    expires,
	}
}

func summarize(t *models.RefreshToken) tokenSummary {
	return tokenSummary{
		TokenID:   t.ID,
		RepoID:    t.RepoID,
		Audience:  t.Audience.Names(),
		Kind:      string(t.Kind),
		Provider:  t.Provider,
		IssuedAt:  t.IssuedAt,
		ExpiresAt: t.ExpiresAt,
		LastSeen:  t.LastSeen,
	}
}
