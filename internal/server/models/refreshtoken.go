package models

import "time"

// RefreshToken is a single-use opaque credential. The token value itself is
// the primary key; once deleted (rotation, logout, expiry cleanup, password
// change) the value is never accepted again.
type RefreshToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
