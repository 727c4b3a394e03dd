package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/toolchainlabs/tokensvc/internal/audit"
	"github.com/toolchainlabs/tokensvc/internal/common"
	"github.com/toolchainlabs/tokensvc/internal/dbx"
	"github.com/toolchainlabs/tokensvc/internal/denylist"
	"github.com/toolchainlabs/tokensvc/internal/policy"
	"github.com/toolchainlabs/tokensvc/internal/providers"
	"github.com/toolchainlabs/tokensvc/internal/server/auth"
	"github.com/toolchainlabs/tokensvc/internal/server/config"
	"github.com/toolchainlabs/tokensvc/internal/server/models"
	ecrepo "github.com/toolchainlabs/tokensvc/internal/server/repositories/exchangecodes"
	rtrepo "github.com/toolchainlabs/tokensvc/internal/server/repositories/refreshtokens"
	usersrepo "github.com/toolchainlabs/tokensvc/internal/server/repositories/users"
	"github.com/toolchainlabs/tokensvc/internal/token"
)

// --- helpers ---

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:              "k",
		AccessTokenValidity:    time.Hour,
		RefreshTokenValidity:   2 * time.Hour,
		ExchangeCodeValidity:   10 * time.Minute,
		MaxActiveTokensPerUser: 3,
		RetentionWindow:        24 * time.Hour,
	}
}

type fakeUsersRepo struct {
	byID    map[string]*models.User
	byLogin map[string]*models.User
	err     error
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	return u, nil
}

func (f *fakeUsersRepo) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.byLogin[login]; ok {
		return u, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, common.ErrorNotFound
}

type fakeTokensRepo struct {
	bySecret map[string]*models.RefreshToken
	byID     map[string]*models.RefreshToken

	activeCount int64
	countErr    error
	createErr   error
	created     []*models.RefreshToken

	touched   []string
	expired   []string
	revoked   []string
	touchErr  error
	expireN   int64
	deleteN   int64
	listOut   []*models.RefreshToken
	repoErr   error
	expireErr error

	lockErr error
	// ops records lock and count calls in order
	ops []string
}

func (f *fakeTokensRepo) Create(ctx context.Context, t *models.RefreshToken) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, t)
	return nil
}

func (f *fakeTokensRepo) FindBySecretHash(ctx context.Context, h string) (*models.RefreshToken, error) {
	if f.repoErr != nil {
		return nil, f.repoErr
	}
	if t, ok := f.bySecret[h]; ok {
		return t, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeTokensRepo) FindByID(ctx context.Context, id string) (*models.RefreshToken, error) {
	if f.repoErr != nil {
		return nil, f.repoErr
	}
	if t, ok := f.byID[id]; ok {
		return t, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeTokensRepo) ListActiveByUser(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	if f.repoErr != nil {
		return nil, f.repoErr
	}
	return f.listOut, nil
}

func (f *fakeTokensRepo) CountActiveByUser(ctx context.Context, userID string) (int64, error) {
	f.ops = append(f.ops, "count:"+userID)
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.activeCount, nil
}

func (f *fakeTokensRepo) AcquireUserLock(ctx context.Context, userID string) error {
	f.ops = append(f.ops, "lock:"+userID)
	return f.lockErr
}

func (f *fakeTokensRepo) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	if f.touchErr != nil {
		return f.touchErr
	}
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeTokensRepo) MarkExpired(ctx context.Context, id string) (int64, error) {
	f.expired = append(f.expired, id)
	return 1, nil
}

func (f *fakeTokensRepo) MarkRevoked(ctx context.Context, id string, at time.Time) (int64, error) {
	f.revoked = append(f.revoked, id)
	return 1, nil
}

func (f *fakeTokensRepo) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	if f.expireErr != nil {
		return 0, f.expireErr
	}
	return f.expireN, nil
}

func (f *fakeTokensRepo) DeleteSweepable(ctx context.Context, cutoff time.Time) (int64, error) {
	return f.deleteN, nil
}

type fakeCodesRepo struct {
	consumeOut *models.ExchangeCode
	consumeErr error
	createErr  error
	created    []*models.ExchangeCode
	deleteN    int64
}

func (f *fakeCodesRepo) Create(ctx context.Context, c *models.ExchangeCode) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, c)
	return nil
}

func (f *fakeCodesRepo) Consume(ctx context.Context, codeHash string, now time.Time) (*models.ExchangeCode, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	return f.consumeOut, nil
}

func (f *fakeCodesRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return f.deleteN, nil
}

type fakeRepoManager struct {
	u *fakeUsersRepo
	r *fakeTokensRepo
	e *fakeCodesRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error        { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository              { return m.u }
func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) rtrepo.Repository         { return m.r }
func (m *fakeRepoManager) ExchangeCodes(db dbx.DBTX) ecrepo.Repository         { return m.e }

func newTokenService(t *testing.T, db *sql.DB, rm *fakeRepoManager) (*TokenService, *audit.MemoryAuditor) {
	t.Helper()
	auditor := audit.NewMemoryAuditor()
	s := NewTokenService(db, rm, testConfig(), nil, nil, denylist.NewMemoryDenylist(), auditor)
	return s, auditor
}

func claims(userID, customerID string, aud token.Audience) *auth.Claims {
	return &auth.Claims{
		UserID:         userID,
		CustomerID:     customerID,
		AudienceMask:   aud,
		RefreshTokenID: "rt-caller",
	}
}

// --- CreateExchangeCode / RedeemExchangeCode ---

func TestCreateExchangeCode_Success(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{e: &fakeCodesRepo{}}
	s, auditor := newTokenService(t, db, rm)

	code, expires, err := s.CreateExchangeCode(context.Background(), claims("u1", "cust-1", token.AudienceUISession), "acme/widgets")
	if err != nil {
		t.Fatalf("CreateExchangeCode error: %v", err)
	}
	if code == "" || expires.IsZero() {
		t.Fatalf("empty result: %q %v", code, expires)
	}

	if len(rm.e.created) != 1 {
		t.Fatalf("expected one created code, got %d", len(rm.e.created))
	}
	stored := rm.e.created[0]
	if stored.CodeHash != common.HashSecret(code) {
		t.Fatal("stored hash does not match the plaintext code")
	}
	if !stored.Available {
		t.Fatal("new code must be available")
	}

	events := auditor.Recent(1)
	if len(events) != 1 || events[0].Action != audit.ActionCodeCreate {
		t.Fatalf("expected code.create audit event, got %+v", events)
	}
	if events[0].CustomerID != "cust-1" {
		t.Fatalf("event not scoped to the caller's customer: %+v", events[0])
	}
}

func TestRedeemExchangeCode_Success(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := &fakeRepoManager{
		u: &fakeUsersRepo{byID: map[string]*models.User{
			"u1": {ID: "u1", CustomerID: "cust-1"},
		}},
		r: &fakeTokensRepo{},
		e: &fakeCodesRepo{consumeOut: &models.ExchangeCode{
			ID: "c1", UserID: "u1", RepoID: "acme/widgets",
		}},
	}
	s, _ := newTokenService(t, db, rm)

	issued, err := s.RedeemExchangeCode(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("RedeemExchangeCode error: %v", err)
	}
	if issued.Secret == "" || issued.TokenID == "" {
		t.Fatalf("empty issued token: %+v", issued)
	}
	if issued.Audience.Has(token.AudienceUISession) || issued.Audience.Has(token.AudienceImpersonate) {
		t.Fatal("exchange tokens must not carry ui or impersonate")
	}

	if len(rm.r.created) != 1 {
		t.Fatalf("expected one refresh token, got %d", len(rm.r.created))
	}
	rt := rm.r.created[0]
	if rt.UserID != "u1" || rt.CustomerID != "cust-1" || rt.RepoID != "acme/widgets" {
		t.Fatalf("unexpected token row: %+v", rt)
	}
	if rt.Kind != token.KindAPI || rt.State != token.StateActive || rt.Provider != "exchange" {
		t.Fatalf("unexpected token row: %+v", rt)
	}
	if rt.SecretHash != common.HashSecret(issued.Secret) {
		t.Fatal("stored hash does not match the returned secret")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestRedeemExchangeCode_Unavailable(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	rm := &fakeRepoManager{e: &fakeCodesRepo{consumeErr: common.ErrorNotFound}}
	s, _ := newTokenService(t, db, rm)

	_, err := s.RedeemExchangeCode(context.Background(), "spent-or-bogus")
	if !errors.Is(err, common.ErrCodeUnavailable) {
		t.Fatalf("want ErrCodeUnavailable, got %v", err)
	}
}

func TestRedeemExchangeCode_QuotaExceeded(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	rm := &fakeRepoManager{
		u: &fakeUsersRepo{byID: map[string]*models.User{
			"u1": {ID: "u1", CustomerID: "cust-1"},
		}},
		r: &fakeTokensRepo{activeCount: 3}, // at the cap
		e: &fakeCodesRepo{consumeOut: &models.ExchangeCode{ID: "c1", UserID: "u1"}},
	}
	s, _ := newTokenService(t, db, rm)

	_, err := s.RedeemExchangeCode(context.Background(), "the-code")
	if !errors.Is(err, common.ErrQuotaExceeded) {
		t.Fatalf("want ErrQuotaExceeded, got %v", err)
	}
	if len(rm.r.created) != 0 {
		t.Fatal("no token may be created over quota")
	}
}

func TestMint_SerializesPerUserBeforeQuotaCount(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := &fakeRepoManager{
		u: &fakeUsersRepo{byID: map[string]*models.User{
			"u1": {ID: "u1", CustomerID: "cust-1"},
		}},
		r: &fakeTokensRepo{},
		e: &fakeCodesRepo{consumeOut: &models.ExchangeCode{ID: "c1", UserID: "u1"}},
	}
	s, _ := newTokenService(t, db, rm)

	if _, err := s.RedeemExchangeCode(context.Background(), "the-code"); err != nil {
		t.Fatalf("RedeemExchangeCode error: %v", err)
	}

	// the per-user lock must be taken before the quota count so two
	// concurrent mints cannot both observe the pre-insert count
	want := []string{"lock:u1", "count:u1"}
	if len(rm.r.ops) != len(want) || rm.r.ops[0] != want[0] || rm.r.ops[1] != want[1] {
		t.Fatalf("unexpected call order: %v", rm.r.ops)
	}
}

func TestMint_LockFailureAborts(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	rm := &fakeRepoManager{
		u: &fakeUsersRepo{byID: map[string]*models.User{
			"u1": {ID: "u1", CustomerID: "cust-1"},
		}},
		r: &fakeTokensRepo{lockErr: errBoom{}},
		e: &fakeCodesRepo{consumeOut: &models.ExchangeCode{ID: "c1", UserID: "u1"}},
	}
	s, _ := newTokenService(t, db, rm)

	_, err := s.RedeemExchangeCode(context.Background(), "the-code")
	if !errors.Is(err, common.ErrorInternal) {
		t.Fatalf("want ErrorInternal, got %v", err)
	}
	if len(rm.r.created) != 0 {
		t.Fatal("no token may be created without the user lock")
	}
}

// --- ResolveCI ---

func resolveService(t *testing.T, db *sql.DB, rm *fakeRepoManager) *TokenService {
	t.Helper()
	engine, err := policy.Load([]byte(`
providers:
  - name: ci
    type: stub
rules:
  - name: widgets-main
    provider: ci
    match:
      repository: acme/widgets
    grant:
      user: ci-bot
      audience: [build-api, cache-read]
      max_ttl: 1h
`))
	if err != nil {
		t.Fatalf("policy.Load error: %v", err)
	}
	registry, err := providers.BuildRegistry(context.Background(), engine.Providers())
	if err != nil {
		t.Fatalf("BuildRegistry error: %v", err)
	}
	return NewTokenService(db, rm, testConfig(), engine, registry,
		denylist.NewMemoryDenylist(), audit.NewMemoryAuditor())
}

func TestResolveCI_Success(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := &fakeRepoManager{
		u: &fakeUsersRepo{byLogin: map[string]*models.User{
			"ci-bot": {ID: "svc-1", Login: "ci-bot", CustomerID: "cust-1"},
		}},
		r: &fakeTokensRepo{},
	}
	s := resolveService(t, db, rm)

	issued, err := s.ResolveCI(context.Background(), "ci", "sub:acme/widgets")
	if err != nil {
		t.Fatalf("ResolveCI error: %v", err)
	}
	if !issued.Audience.Has(token.AudienceBuildAPI) || issued.Audience.Has(token.AudienceCacheWrite) {
		t.Fatalf("unexpected audience: %v", issued.Audience)
	}

	rt := rm.r.created[0]
	if rt.UserID != "svc-1" || rt.Provider != "ci" || rt.RepoID != "acme/widgets" {
		t.Fatalf("unexpected token row: %+v", rt)
	}
	// grant max_ttl (1h) is tighter than the server default (2h)
	if got := rt.ExpiresAt.Sub(rt.IssuedAt); got != time.Hour {
		t.Fatalf("expected 1h validity, got %v", got)
	}
}

func TestResolveCI_NoRuleMatches(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{u: &fakeUsersRepo{}, r: &fakeTokensRepo{}}
	s := resolveService(t, db, rm)

	_, err := s.ResolveCI(context.Background(), "ci", "sub:acme/other")
	if !errors.Is(err, common.ErrorForbidden) {
		t.Fatalf("want ErrorForbidden, got %v", err)
	}
}

func TestResolveCI_UnknownProvider(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{u: &fakeUsersRepo{}, r: &fakeTokensRepo{}}
	s := resolveService(t, db, rm)

	_, err := s.ResolveCI(context.Background(), "nope", "proof")
	if !errors.Is(err, common.ErrorUnauthorized) {
		t.Fatalf("want ErrorUnauthorized, got %v", err)
	}
}

func TestResolveCI_GrantUserMissing(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{u: &fakeUsersRepo{}, r: &fakeTokensRepo{}}
	s := resolveService(t, db, rm)

	_, err := s.ResolveCI(context.Background(), "ci", "sub:acme/widgets")
	if !errors.Is(err, common.ErrorForbidden) {
		t.Fatalf("want ErrorForbidden, got %v", err)
	}
}

func TestResolveCI_NoPolicyConfigured(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{}
	s, _ := newTokenService(t, db, rm)

	_, err := s.ResolveCI(context.Background(), "ci", "proof")
	if !errors.Is(err, common.ErrorForbidden) {
		t.Fatalf("want ErrorForbidden, got %v", err)
	}
}

// --- Refresh ---

func activeToken(secret string) *models.RefreshToken {
	return &models.RefreshToken{
		ID:         "rt-1",
		UserID:     "u1",
		CustomerID: "cust-1",
		Audience:   token.AudienceBuildAPI | token.AudienceCacheRead,
		Kind:       token.KindAPI,
		SecretHash: common.HashSecret(secret),
		State:      token.StateActive,
		IssuedAt:   time.Now().Add(-time.Hour),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
}

func TestRefresh_Success(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rt := activeToken("sec")
	rm := &fakeRepoManager{r: &fakeTokensRepo{
		bySecret: map[string]*models.RefreshToken{rt.SecretHash: rt},
	}}
	s, _ := newTokenService(t, db, rm)

	grant, err := s.Refresh(context.Background(), "sec")
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if grant.AccessToken == "" {
		t.Fatal("empty access token")
	}

	parsed, err := auth.ParseAccessToken(grant.AccessToken, []byte("k"))
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if parsed.UserID != "u1" || parsed.RefreshTokenID != "rt-1" || parsed.ActingUserID != "" {
		t.Fatalf("unexpected claims: %+v", parsed)
	}
	if parsed.AudienceMask != rt.Audience {
		t.Fatalf("audience mask mismatch: %v", parsed.AudienceMask)
	}

	if len(rm.r.touched) != 1 || rm.r.touched[0] != "rt-1" {
		t.Fatalf("last_seen not bumped: %v", rm.r.touched)
	}
}

func TestRefresh_UnknownSecret(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{r: &fakeTokensRepo{}}
	s, _ := newTokenService(t, db, rm)

	_, err := s.Refresh(context.Background(), "nope")
	if !errors.Is(err, common.ErrorUnauthorized) {
		t.Fatalf("want ErrorUnauthorized, got %v", err)
	}
}

func TestRefresh_RevokedFailsWithoutTouch(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rt := activeToken("sec")
	rt.State = token.StateRevoked
	rm := &fakeRepoManager{r: &fakeTokensRepo{
		bySecret: map[string]*models.RefreshToken{rt.SecretHash: rt},
	}}
	s, _ := newTokenService(t, db, rm)

	_, err := s.Refresh(context.Background(), "sec")
	if !errors.Is(err, common.ErrTokenRevoked) {
		t.Fatalf("want ErrTokenRevoked, got %v", err)
	}
	if len(rm.r.touched) != 0 {
		t.Fatal("revoked refresh must not bump last_seen")
	}
}

func TestRefresh_OverdueActiveFlipsToExpired(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rt := activeToken("sec")
	rt.ExpiresAt = time.Now().Add(-time.Minute)
	rm := &fakeRepoManager{r: &fakeTokensRepo{
		bySecret: map[string]*models.RefreshToken{rt.SecretHash: rt},
	}}
	s, _ := newTokenService(t, db, rm)

	_, err := s.Refresh(context.Background(), "sec")
	if !errors.Is(err, common.ErrRefreshTokenExpired) {
		t.Fatalf("want ErrRefreshTokenExpired, got %v", err)
	}
	if len(rm.r.expired) != 1 || rm.r.expired[0] != "rt-1" {
		t.Fatalf("expected persisted expired flip, got %v", rm.r.expired)
	}
	if len(rm.r.touched) != 0 {
		t.Fatal("expired refresh must not bump last_seen")
	}
}

// --- Revoke ---

func TestRevoke_OwnerSuccess(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rt := activeToken("sec")
	rm := &fakeRepoManager{r: &fakeTokensRepo{
		byID: map[string]*models.RefreshToken{rt.ID: rt},
	}}
	s, auditor := newTokenService(t, db, rm)

	if err := s.Revoke(context.Background(), claims("u1", "cust-1", 0), "rt-1"); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}
	if len(rm.r.revoked) != 1 {
		t.Fatalf("expected one revocation, got %v", rm.r.revoked)
	}

	denied, err := s.IsDenied(context.Background(), "rt-1")
	if err != nil || !denied {
		t.Fatalf("expected denylisted token, got (%v, %v)", denied, err)
	}

	events := auditor.Find("rt-1")
	if len(events) != 1 || events[0].Action != audit.ActionRevoke {
		t.Fatalf("expected revoke audit event, got %+v", events)
	}
}

func TestRevoke_AdminOfSameCustomer(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rt := activeToken("sec")
	rm := &fakeRepoManager{
		u: &fakeUsersRepo{byID: map[string]*models.User{
			"admin-1": {ID: "admin-1", CustomerID: "cust-1", Admin: true},
		}},
		r: &fakeTokensRepo{byID: map[string]*models.RefreshToken{rt.ID: rt}},
	}
	s, _ := newTokenService(t, db, rm)

	if err := s.Revoke(context.Background(), claims("admin-1", "cust-1", 0), "rt-1"); err != nil {
		t.Fatalf("admin revoke error: %v", err)
	}
}

func TestRevoke_NonAdminOtherUserForbidden(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rt := activeToken("sec")
	rm := &fakeRepoManager{
		u: &fakeUsersRepo{byID: map[string]*models.User{
			"u2": {ID: "u2", CustomerID: "cust-1", Admin: false},
		}},
		r: &fakeTokensRepo{byID: map[string]*models.RefreshToken{rt.ID: rt}},
	}
	s, _ := newTokenService(t, db, rm)

	err := s.Revoke(context.Background(), claims("u2", "cust-1", 0), "rt-1")
	if !errors.Is(err, common.ErrorForbidden) {
		t.Fatalf("want ErrorForbidden, got %v", err)
	}
}

func TestRevoke_CrossCustomerForbidden(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rt := activeToken("sec")
	rm := &fakeRepoManager{
		u: &fakeUsersRepo{byID: map[string]*models.User{
			"admin-2": {ID: "admin-2", CustomerID: "cust-2", Admin: true},
		}},
		r: &fakeTokensRepo{byID: map[string]*models.RefreshToken{rt.ID: rt}},
	}
	s, _ := newTokenService(t, db, rm)

	err := s.Revoke(context.Background(), claims("admin-2", "cust-2", 0), "rt-1")
	if !errors.Is(err, common.ErrorForbidden) {
		t.Fatalf("want ErrorForbidden, got %v", err)
	}
}

func TestRevoke_AlreadyRevokedIsIdempotent(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rt := activeToken("sec")
	rt.State = token.StateRevoked
	rm := &fakeRepoManager{r: &fakeTokensRepo{
		byID: map[string]*models.RefreshToken{rt.ID: rt},
	}}
	s, _ := newTokenService(t, db, rm)

	if err := s.Revoke(context.Background(), claims("u1", "cust-1", 0), "rt-1"); err != nil {
		t.Fatalf("idempotent revoke error: %v", err)
	}
	if len(rm.r.revoked) != 0 {
		t.Fatal("no state change expected for an already revoked token")
	}
}

func TestRevoke_ExpiredStillRevocable(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rt := activeToken("sec")
	rt.State = token.StateExpired
	rm := &fakeRepoManager{r: &fakeTokensRepo{
		byID: map[string]*models.RefreshToken{rt.ID: rt},
	}}
	s, _ := newTokenService(t, db, rm)

	if err := s.Revoke(context.Background(), claims("u1", "cust-1", 0), "rt-1"); err != nil {
		t.Fatalf("revoking expired token: %v", err)
	}
	if len(rm.r.revoked) != 1 {
		t.Fatal("expired token should still be marked revoked")
	}
}

// --- ListActive ---

func TestListActive_SelfDefault(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{r: &fakeTokensRepo{
		listOut: []*models.RefreshToken{{ID: "rt-1"}, {ID: "rt-2"}},
	}}
	s, _ := newTokenService(t, db, rm)

	tokens, err := s.ListActive(context.Background(), claims("u1", "cust-1", 0), "")
	if err != nil {
		t.Fatalf("ListActive error: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
}

func TestListActive_OtherUserNeedsAdmin(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{
		u: &fakeUsersRepo{byID: map[string]*models.User{
			"u1": {ID: "u1", CustomerID: "cust-1", Admin: false},
			"u2": {ID: "u2", CustomerID: "cust-1"},
		}},
		r: &fakeTokensRepo{},
	}
	s, _ := newTokenService(t, db, rm)

	_, err := s.ListActive(context.Background(), claims("u1", "cust-1", 0), "u2")
	if !errors.Is(err, common.ErrorForbidden) {
		t.Fatalf("want ErrorForbidden, got %v", err)
	}
}

// --- RequireAdmin ---

func TestRequireAdmin(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{
		u: &fakeUsersRepo{byID: map[string]*models.User{
			"admin-1": {ID: "admin-1", CustomerID: "cust-1", Admin: true},
			"u1":      {ID: "u1", CustomerID: "cust-1", Admin: false},
		}},
	}
	s, _ := newTokenService(t, db, rm)

	if err := s.RequireAdmin(context.Background(), claims("admin-1", "cust-1", 0)); err != nil {
		t.Fatalf("admin rejected: %v", err)
	}

	err := s.RequireAdmin(context.Background(), claims("u1", "cust-1", 0))
	if !errors.Is(err, common.ErrorForbidden) {
		t.Fatalf("want ErrorForbidden for non-admin, got %v", err)
	}
}

// --- Impersonate ---

func TestImpersonate_Success(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{
		u: &fakeUsersRepo{byID: map[string]*models.User{
			"admin-1": {ID: "admin-1", CustomerID: "cust-1", Admin: true},
			"u2":      {ID: "u2", CustomerID: "cust-1"},
		}},
		r: &fakeTokensRepo{},
	}
	s, _ := newTokenService(t, db, rm)

	caller := claims("admin-1", "cust-1",
		token.AudienceBuildAPI|token.AudienceImpersonate|token.AudienceUISession)

	grant, err := s.Impersonate(context.Background(), caller, "u2")
	if err != nil {
		t.Fatalf("Impersonate error: %v", err)
	}

	parsed, err := auth.ParseAccessToken(grant.AccessToken, []byte("k"))
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if parsed.UserID != "u2" || parsed.ActingUserID != "admin-1" {
		t.Fatalf("unexpected claims: %+v", parsed)
	}
	if parsed.AudienceMask.Has(token.AudienceImpersonate) || parsed.AudienceMask.Has(token.AudienceUISession) {
		t.Fatal("impersonated token must not carry impersonate or ui flags")
	}
}

func TestImpersonate_MissingFlagForbidden(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{u: &fakeUsersRepo{}, r: &fakeTokensRepo{}}
	s, _ := newTokenService(t, db, rm)

	_, err := s.Impersonate(context.Background(), claims("admin-1", "cust-1", token.AudienceBuildAPI), "u2")
	if !errors.Is(err, common.ErrorForbidden) {
		t.Fatalf("want ErrorForbidden, got %v", err)
	}
}

func TestImpersonate_NoChains(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{u: &fakeUsersRepo{}, r: &fakeTokensRepo{}}
	s, _ := newTokenService(t, db, rm)

	caller := claims("admin-1", "cust-1", token.AudienceImpersonate)
	caller.ActingUserID = "someone-else"

	_, err := s.Impersonate(context.Background(), caller, "u2")
	if !errors.Is(err, common.ErrorForbidden) {
		t.Fatalf("want ErrorForbidden, got %v", err)
	}
}

func TestImpersonate_CrossCustomerForbidden(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{
		u: &fakeUsersRepo{byID: map[string]*models.User{
			"admin-1": {ID: "admin-1", CustomerID: "cust-1", Admin: true},
			"u9":      {ID: "u9", CustomerID: "cust-2"},
		}},
		r: &fakeTokensRepo{},
	}
	s, _ := newTokenService(t, db, rm)

	_, err := s.Impersonate(context.Background(), claims("admin-1", "cust-1", token.AudienceImpersonate), "u9")
	if !errors.Is(err, common.ErrorForbidden) {
		t.Fatalf("want ErrorForbidden, got %v", err)
	}
}
