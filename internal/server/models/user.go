package models

import "time"

// User is the persistent identity record. PasswordHash is opaque and must
// never leave the server boundary.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	LastLogin    *time.Time
	CreatedAt    time.Time
}
