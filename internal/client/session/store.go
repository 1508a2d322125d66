// Package session persists the client's credentials: the current token pair
// and a profile snapshot of the logged-in user.
package session

import "context"

// Profile is the locally cached view of the logged-in user.
type Profile struct {
	UserID string
	Email  string
	Name   string
}

// Store holds at most one session. Implementations must replace the access
// and refresh tokens as a single atomic pair so no reader ever observes a
// new access token next to the old refresh token.
//
// Tokens and User return common.ErrorNotFound when no session is stored.
type Store interface {
	// Tokens returns the current access/refresh pair.
	Tokens(ctx context.Context) (access, refresh string, err error)

	// SetTokens replaces the token pair, keeping the profile snapshot.
	SetTokens(ctx context.Context, access, refresh string) error

	// SetSession replaces the whole session: tokens plus profile.
	SetSession(ctx context.Context, access, refresh string, profile *Profile) error

	// User returns the cached profile snapshot.
	User(ctx context.Context) (*Profile, error)

	// Clear removes the stored session. Clearing an empty store is a no-op.
	Clear(ctx context.Context) error
}
