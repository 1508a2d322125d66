package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mbalashov/sessiond/internal/common"
	"github.com/mbalashov/sessiond/internal/dbx"
	"github.com/mbalashov/sessiond/internal/server/auth"
	"github.com/mbalashov/sessiond/internal/server/config"
	"github.com/mbalashov/sessiond/internal/server/models"
	refreshtokensrepo "github.com/mbalashov/sessiond/internal/server/repositories/refreshtokens"
	usersrepo "github.com/mbalashov/sessiond/internal/server/repositories/users"
)

// --- in-memory fakes ---

type memUsersRepo struct {
	mu   sync.Mutex
	byID map[string]*models.User
}

func newMemUsersRepo() *memUsersRepo {
	return &memUsersRepo{byID: map[string]*models.User{}}
}

func (f *memUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Email == strings.ToLower(u.Email) {
			return nil, common.ErrEmailTaken
		}
	}
	cp := *u
	cp.Email = strings.ToLower(u.Email)
	cp.CreatedAt = time.Now()
	f.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *memUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == strings.ToLower(strings.TrimSpace(email)) {
			out := *u
			return &out, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *memUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := *u
	return &out, nil
}

func (f *memUsersRepo) UpdateLastLogin(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		now := time.Now()
		u.LastLogin = &now
	}
	return nil
}

func (f *memUsersRepo) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		u.PasswordHash = hash
	}
	return nil
}

func (f *memUsersRepo) delete(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
}

type memRefreshRepo struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func newMemRefreshRepo() *memRefreshRepo {
	return &memRefreshRepo{tokens: map[string]*models.RefreshToken{}}
}

func (f *memRefreshRepo) Create(ctx context.Context, userID string, token string, validity time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = &models.RefreshToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: time.Now().Add(validity),
		CreatedAt: time.Now(),
	}
	return nil
}

func (f *memRefreshRepo) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt, ok := f.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := *rt
	return &out, nil
}

func (f *memRefreshRepo) Consume(ctx context.Context, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[token]; !ok {
		return false, nil
	}
	delete(f.tokens, token)
	return true, nil
}

func (f *memRefreshRepo) Delete(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
	return nil
}

func (f *memRefreshRepo) DeleteAllForUser(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for token, rt := range f.tokens {
		if rt.UserID == userID {
			delete(f.tokens, token)
		}
	}
	return nil
}

func (f *memRefreshRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

func (f *memRefreshRepo) setExpiry(token string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rt, ok := f.tokens[token]; ok {
		rt.ExpiresAt = at
	}
}

type fakeRepoManager struct {
	u *memUsersRepo
	r *memRefreshRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error           { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository                 { return m.u }
func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository { return m.r }

// --- helpers ---

func newSessionService(t *testing.T) (*SessionService, sqlmock.Sqlmock, *sql.DB, *fakeRepoManager) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	rm := &fakeRepoManager{u: newMemUsersRepo(), r: newMemRefreshRepo()}
	cfg := &config.Config{
		SecretKey:                    "k",
		AccessTokenValidityDuration:  time.Hour,
		RefreshTokenValidityDuration: 2 * time.Hour,
	}
	return NewSessionService(db, rm, cfg), mock, db, rm
}

func seedUser(t *testing.T, rm *fakeRepoManager, email, password string) *models.User {
	t.Helper()
	hash, err := auth.HashPassword([]byte(password))
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}
	u, err := rm.u.Create(context.Background(), &models.User{
		ID:           "user-" + email,
		Email:        email,
		Name:         "Test User",
		PasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("seed user error: %v", err)
	}
	return u
}

// --- Register ---

func TestRegister_Success(t *testing.T) {
	s, _, _, rm := newSessionService(t)

	user, pair, err := s.Register(context.Background(), "New@Example.Com", "New User", []byte("password-123"))
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if user.Email != "new@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected non-empty token pair, got %+v", pair)
	}

	// Access token must verify and carry the new user's identity.
	claims, err := auth.ParseToken(pair.AccessToken, []byte("k"))
	if err != nil {
		t.Fatalf("ParseToken error: %v", err)
	}
	if claims.UserID != user.ID || claims.Email != "new@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	// Exactly one refresh record exists and it is the returned one.
	if rm.r.count() != 1 {
		t.Fatalf("expected 1 refresh record, got %d", rm.r.count())
	}
	if _, err := rm.r.Find(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("returned refresh token not persisted: %v", err)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	s, _, _, rm := newSessionService(t)
	seedUser(t, rm, "taken@example.com", "whatever-1")

	_, _, err := s.Register(context.Background(), "TAKEN@example.com", "Dup", []byte("whatever-2"))
	if !errors.Is(err, common.ErrEmailTaken) {
		t.Fatalf("want common.ErrEmailTaken, got %v", err)
	}
}

// --- Login ---

func TestLogin_Success(t *testing.T) {
	s, _, _, rm := newSessionService(t)
	seeded := seedUser(t, rm, "alice@example.com", "correct-password")

	user, pair, err := s.Login(context.Background(), "alice@example.com", []byte("correct-password"))
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if user.ID != seeded.ID {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.LastLogin == nil {
		t.Fatalf("expected LastLogin to be stamped")
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected non-empty token pair")
	}
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	s, _, _, rm := newSessionService(t)
	seedUser(t, rm, "real@example.com", "right-password")

	_, _, errNoUser := s.Login(context.Background(), "nouser@example.com", []byte("anything"))
	_, _, errBadPass := s.Login(context.Background(), "real@example.com", []byte("wrong-password"))

	if !errors.Is(errNoUser, common.ErrInvalidCredentials) {
		t.Fatalf("unknown email: want common.ErrInvalidCredentials, got %v", errNoUser)
	}
	if !errors.Is(errBadPass, common.ErrInvalidCredentials) {
		t.Fatalf("wrong password: want common.ErrInvalidCredentials, got %v", errBadPass)
	}
	if errNoUser.Error() != errBadPass.Error() {
		t.Fatalf("error messages differ: %q vs %q", errNoUser, errBadPass)
	}
}

func TestLogin_AlwaysIssuesNewRefreshToken(t *testing.T) {
	s, _, _, rm := newSessionService(t)
	seedUser(t, rm, "bob@example.com", "pw-bob-123")

	_, pair1, err := s.Login(context.Background(), "bob@example.com", []byte("pw-bob-123"))
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	_, pair2, err := s.Login(context.Background(), "bob@example.com", []byte("pw-bob-123"))
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	if pair1.RefreshToken == pair2.RefreshToken {
		t.Fatalf("logins must not share refresh tokens")
	}
	// Two concurrent sessions per user are allowed.
	if rm.r.count() != 2 {
		t.Fatalf("expected 2 refresh records, got %d", rm.r.count())
	}
}

// --- Refresh ---

func TestRefresh_RotatesToExactlyOneSuccessor(t *testing.T) {
	s, mock, _, rm := newSessionService(t)
	seedUser(t, rm, "carol@example.com", "pw-carol-1")

	_, pair, err := s.Login(context.Background(), "carol@example.com", []byte("pw-carol-1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectCommit()

	newPair, err := s.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if newPair.RefreshToken == pair.RefreshToken {
		t.Fatalf("rotation returned the same refresh token")
	}
	if rm.r.count() != 1 {
		t.Fatalf("expected exactly one live refresh record after rotation, got %d", rm.r.count())
	}
	if _, err := rm.r.Find(context.Background(), newPair.RefreshToken); err != nil {
		t.Fatalf("successor token not persisted: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefresh_ConsumedTokenIsNeverAcceptedAgain(t *testing.T) {
	s, mock, _, rm := newSessionService(t)
	seedUser(t, rm, "dave@example.com", "pw-dave-12")

	_, pair, err := s.Login(context.Background(), "dave@example.com", []byte("pw-dave-12"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectCommit()

	if _, err := s.Refresh(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	// Replay of the consumed token is a hard failure.
	_, err = s.Refresh(context.Background(), pair.RefreshToken)
	if !errors.Is(err, common.ErrInvalidRefreshToken) {
		t.Fatalf("want common.ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRefresh_UnknownToken(t *testing.T) {
	s, _, _, _ := newSessionService(t)

	_, err := s.Refresh(context.Background(), "never-issued")
	if !errors.Is(err, common.ErrInvalidRefreshToken) {
		t.Fatalf("want common.ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRefresh_ExpiredTokenIsDeleted(t *testing.T) {
	s, _, _, rm := newSessionService(t)
	seedUser(t, rm, "erin@example.com", "pw-erin-12")

	_, pair, err := s.Login(context.Background(), "erin@example.com", []byte("pw-erin-12"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	rm.r.setExpiry(pair.RefreshToken, time.Now().Add(-time.Minute))

	_, err = s.Refresh(context.Background(), pair.RefreshToken)
	if !errors.Is(err, common.ErrRefreshTokenExpired) {
		t.Fatalf("want common.ErrRefreshTokenExpired, got %v", err)
	}

	// The record was removed, so the next attempt fails as unknown, not
	// as expired.
	_, err = s.Refresh(context.Background(), pair.RefreshToken)
	if !errors.Is(err, common.ErrInvalidRefreshToken) {
		t.Fatalf("want common.ErrInvalidRefreshToken after deletion, got %v", err)
	}
}

func TestRefresh_OwnerVanished(t *testing.T) {
	s, _, _, rm := newSessionService(t)
	user := seedUser(t, rm, "frank@example.com", "pw-frank-1")

	_, pair, err := s.Login(context.Background(), "frank@example.com", []byte("pw-frank-1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	rm.u.delete(user.ID)

	_, err = s.Refresh(context.Background(), pair.RefreshToken)
	if !errors.Is(err, common.ErrUserNotFound) {
		t.Fatalf("want common.ErrUserNotFound, got %v", err)
	}
	if rm.r.count() != 0 {
		t.Fatalf("orphaned refresh record must be deleted")
	}
}

func TestRefresh_ConcurrencySingleWinner(t *testing.T) {
	s, mock, db, rm := newSessionService(t)
	seedUser(t, rm, "grace@example.com", "pw-grace-1")

	_, pair, err := s.Login(context.Background(), "grace@example.com", []byte("pw-grace-1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	const n = 8
	db.SetMaxOpenConns(1)
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}

	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := s.Refresh(context.Background(), pair.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success, fail := 0, 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if errors.Is(err, common.ErrInvalidRefreshToken) {
			fail++
			continue
		}
		t.Fatalf("unexpected refresh error: %v", err)
	}

	if success != 1 {
		t.Fatalf("expected exactly one refresh success, got %d", success)
	}
	if fail != n-1 {
		t.Fatalf("expected %d refresh failures, got %d", n-1, fail)
	}
	if rm.r.count() != 1 {
		t.Fatalf("expected exactly one live refresh record, got %d", rm.r.count())
	}
}

// --- Logout ---

func TestLogout_Idempotent(t *testing.T) {
	s, _, _, rm := newSessionService(t)
	seedUser(t, rm, "henry@example.com", "pw-henry-1")

	_, pair, err := s.Login(context.Background(), "henry@example.com", []byte("pw-henry-1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := s.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("first logout: %v", err)
	}
	if err := s.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("second logout must not error: %v", err)
	}
	if err := s.Logout(context.Background(), ""); err != nil {
		t.Fatalf("empty-token logout must not error: %v", err)
	}

	// The revoked token is unusable.
	_, err = s.Refresh(context.Background(), pair.RefreshToken)
	if !errors.Is(err, common.ErrInvalidRefreshToken) {
		t.Fatalf("want common.ErrInvalidRefreshToken, got %v", err)
	}
}

// --- ChangePassword ---

func TestChangePassword_RevokesAllSessions(t *testing.T) {
	s, mock, _, rm := newSessionService(t)
	user := seedUser(t, rm, "iris@example.com", "old-password")

	_, pair1, err := s.Login(context.Background(), "iris@example.com", []byte("old-password"))
	if err != nil {
		t.Fatalf("login 1: %v", err)
	}
	_, pair2, err := s.Login(context.Background(), "iris@example.com", []byte("old-password"))
	if err != nil {
		t.Fatalf("login 2: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectCommit()

	if err := s.ChangePassword(context.Background(), user.ID, []byte("old-password"), []byte("new-password")); err != nil {
		t.Fatalf("ChangePassword error: %v", err)
	}

	for _, tok := range []string{pair1.RefreshToken, pair2.RefreshToken} {
		_, err := s.Refresh(context.Background(), tok)
		if !errors.Is(err, common.ErrInvalidRefreshToken) {
			t.Fatalf("want common.ErrInvalidRefreshToken for revoked token, got %v", err)
		}
	}

	// Old password no longer works; the new one does.
	if _, _, err := s.Login(context.Background(), "iris@example.com", []byte("old-password")); !errors.Is(err, common.ErrInvalidCredentials) {
		t.Fatalf("old password must be rejected, got %v", err)
	}
	if _, _, err := s.Login(context.Background(), "iris@example.com", []byte("new-password")); err != nil {
		t.Fatalf("new password must work: %v", err)
	}
}

func TestChangePassword_WrongCurrentPassword(t *testing.T) {
	s, _, _, rm := newSessionService(t)
	user := seedUser(t, rm, "judy@example.com", "real-password")

	err := s.ChangePassword(context.Background(), user.ID, []byte("not-the-password"), []byte("whatever-new"))
	if !errors.Is(err, common.ErrInvalidCredentials) {
		t.Fatalf("want common.ErrInvalidCredentials, got %v", err)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	s, _, _, _ := newSessionService(t)

	_, err := s.GetUser(context.Background(), "ghost")
	if !errors.Is(err, common.ErrUserNotFound) {
		t.Fatalf("want common.ErrUserNotFound, got %v", err)
	}
}
