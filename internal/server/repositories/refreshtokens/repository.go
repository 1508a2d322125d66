// Package refreshtokens declares the server-side repository contract for
// managing refresh tokens in persistent storage.
//
// Contract: operations on a given token value are linearizable. Create and
// the delete variants are each a single atomic statement keyed by the token
// value; the single-use property of refresh tokens depends on that.
package refreshtokens

import (
	"context"
	"time"

	"github.com/mbalashov/sessiond/internal/server/models"
)

// Repository defines operations for issuing, retrieving, and revoking
// refresh tokens.
type Repository interface {
	// Create stores a new refresh token for userID with an expiry of
	// now+validity.
	Create(ctx context.Context, userID string, token string, validity time.Duration) error

	// Find looks up a refresh token by its opaque token string and returns
	// its metadata. Implementations return common.ErrorNotFound when the
	// token is absent.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)

	// Consume atomically removes a refresh token and reports whether this
	// call was the one that removed it. Exactly one concurrent caller
	// observes true; everyone else observes false. This is the
	// compare-and-delete step of rotation.
	Consume(ctx context.Context, token string) (bool, error)

	// Delete removes a refresh token by its token string. Deleting a
	// non-existent token is not an error (idempotent logout).
	Delete(ctx context.Context, token string) error

	// DeleteAllForUser removes every refresh token belonging to userID
	// (bulk revocation on password change).
	DeleteAllForUser(ctx context.Context, userID string) error
}
