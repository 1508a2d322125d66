// Package services contains server-side business logic. This file implements
// SessionService, which handles registration, login, logout, password change,
// and refresh-token rotation.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mbalashov/sessiond/internal/common"
	"github.com/mbalashov/sessiond/internal/dbx"
	"github.com/mbalashov/sessiond/internal/server/auth"
	"github.com/mbalashov/sessiond/internal/server/config"
	"github.com/mbalashov/sessiond/internal/server/models"
	"github.com/mbalashov/sessiond/internal/server/repositories/repomanager"
	usersrepo "github.com/mbalashov/sessiond/internal/server/repositories/users"
)

// refreshTokenBytes is the entropy of an opaque refresh token; the persisted
// value is twice as many hex characters.
const refreshTokenBytes = 32

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// SessionService provides the authentication session lifecycle:
//   - Register: create a user and mint the first token pair
//   - Login: verify credentials and mint tokens
//   - Refresh: rotate a single-use refresh token and mint a new pair
//   - Logout: revoke one refresh token (idempotent)
//   - ChangePassword: replace the hash and revoke every session of the user
type SessionService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration

	// dummyHash is compared against on the unknown-email login path so the
	// work done is the same whether or not the account exists.
	dummyHash string
}

// NewSessionService constructs a SessionService using repositories and server config.
func NewSessionService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *SessionService {
	dummyHash, err := auth.HashPassword([]byte("sessiond-dummy-password"))
	if err != nil {
		// bcrypt only fails on invalid cost; the default cost never does.
		panic(err)
	}
	return &SessionService{
		db:                           db,
		repomanager:                  m,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		dummyHash:                    dummyHash,
	}
}

// Register creates a new user with the given email, display name, and
// password, then issues the first token pair. A duplicate email yields
// common.ErrEmailTaken.
func (s *SessionService) Register(ctx context.Context, email, name string, password []byte) (*models.User, *TokenPair, error) {
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return nil, nil, common.ErrorInternal
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        usersrepo.NormalizeEmail(email),
		Name:         name,
		PasswordHash: passwordHash,
	}

	repo := s.repomanager.Users(s.db)
	u, err := repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrEmailTaken) {
			return nil, nil, common.ErrEmailTaken
		}
		return nil, nil, fmt.Errorf("error creating user: %w", err)
	}

	pair, err := s.generateTokenPair(ctx, u, s.db)
	if err != nil {
		return nil, nil, err
	}
	return u, pair, nil
}

// Login verifies the credentials and, on success, stamps last_login and
// returns the user with a fresh token pair. Unknown email and wrong password
// are indistinguishable: both yield common.ErrInvalidCredentials.
func (s *SessionService) Login(ctx context.Context, email string, password []byte) (*models.User, *TokenPair, error) {
	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// Burn the same hashing work as the found path.
			auth.CheckPasswordHash(s.dummyHash, password)
			return nil, nil, common.ErrInvalidCredentials
		}
		return nil, nil, common.ErrorInternal
	}

	if !auth.CheckPasswordHash(user.PasswordHash, password) {
		return nil, nil, common.ErrInvalidCredentials
	}

	if err := repo.UpdateLastLogin(ctx, user.ID); err != nil {
		return nil, nil, common.ErrorInternal
	}
	now := time.Now()
	user.LastLogin = &now

	pair, err := s.generateTokenPair(ctx, user, s.db)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh validates a refresh token, rotates it, and returns a fresh
// TokenPair. The old token is consumed before the new one is created, so a
// crash mid-rotation loses the session instead of leaving two live tokens.
//
// Failure ladder, in order:
//   - unknown or already-consumed token  -> common.ErrInvalidRefreshToken
//   - known but expired                  -> delete + common.ErrRefreshTokenExpired
//   - owning user vanished               -> delete + common.ErrUserNotFound
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	repo := s.repomanager.RefreshTokens(s.db)

	token, err := repo.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}

	if token.ExpiresAt.Before(time.Now()) {
		if err := repo.Delete(ctx, refreshToken); err != nil {
			return nil, fmt.Errorf("error deleting expired refresh token: %w", err)
		}
		return nil, common.ErrRefreshTokenExpired
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			if err := repo.Delete(ctx, refreshToken); err != nil {
				return nil, fmt.Errorf("error deleting orphaned refresh token: %w", err)
			}
			return nil, common.ErrUserNotFound
		}
		return nil, common.ErrorInternal
	}

	var pair *TokenPair
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repoTx := s.repomanager.RefreshTokens(tx)

		// Consumption is the linearization point: of any number of
		// concurrent rotations of the same value, exactly one deletes the
		// row and proceeds.
		consumed, err := repoTx.Consume(ctx, refreshToken)
		if err != nil {
			return fmt.Errorf("error consuming refresh token: %w", err)
		}
		if !consumed {
			return common.ErrInvalidRefreshToken
		}

		var genErr error
		pair, genErr = s.generateTokenPair(ctx, user, tx)
		return genErr
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout revokes the given refresh token. A missing or already-revoked token
// is not an error, and an empty token is a no-op: logout is idempotent.
// The still-live access token is untouched; it expires naturally.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.repomanager.RefreshTokens(s.db).Delete(ctx, refreshToken); err != nil {
		return fmt.Errorf("error deleting refresh token: %w", err)
	}
	return nil
}

// ChangePassword verifies the current password, replaces the hash, and
// revokes every refresh token of the user in the same transaction. Every
// other device is forced to re-authenticate; live access tokens expire
// naturally.
func (s *SessionService) ChangePassword(ctx context.Context, userID string, currentPassword, newPassword []byte) error {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrUserNotFound
		}
		return common.ErrorInternal
	}

	if !auth.CheckPasswordHash(user.PasswordHash, currentPassword) {
		return common.ErrInvalidCredentials
	}

	newHash, err := auth.HashPassword(newPassword)
	if err != nil {
		return common.ErrorInternal
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).UpdatePasswordHash(ctx, userID, newHash); err != nil {
			return fmt.Errorf("error updating password hash: %w", err)
		}
		if err := s.repomanager.RefreshTokens(tx).DeleteAllForUser(ctx, userID); err != nil {
			return fmt.Errorf("error revoking refresh tokens: %w", err)
		}
		return nil
	})
}

// GetUser returns the user record for a verified access-token subject.
func (s *SessionService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrUserNotFound
		}
		return nil, common.ErrorInternal
	}
	return user, nil
}

// --- helpers below ---

func (s *SessionService) generateAccessToken(user *models.User) (string, error) {
	return auth.GenerateToken(user.ID, user.Email, s.jwtSecret, s.accessTokenValidityDuration)
}

func (s *SessionService) generateRefreshToken() (string, error) {
	return common.MakeRandHexString(refreshTokenBytes)
}

func (s *SessionService) generateTokenPair(ctx context.Context, user *models.User, tx dbx.DBTX) (*TokenPair, error) {
	access, err := s.generateAccessToken(user)
	if err != nil {
		// Signing fails only on misconfiguration; nothing downstream can
		// recover from it.
		return nil, fmt.Errorf("access token signing failed: %w", err)
	}
	refresh, err := s.generateRefreshToken()
	if err != nil {
		return nil, common.ErrorInternal
	}
	refreshRepo := s.repomanager.RefreshTokens(tx)
	if err := refreshRepo.Create(ctx, user.ID, refresh, s.refreshTokenValidityDuration); err != nil {
		return nil, common.ErrorInternal
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
