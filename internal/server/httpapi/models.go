package httpapi

import (
	"time"

	"github.com/mbalashov/sessiond/internal/server/models"
)

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// userPayload is the outward user shape; the password hash never leaves the
// service layer.
type userPayload struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type sessionPayload struct {
	User         userPayload `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

type tokenPayload struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type userResponse struct {
	User userPayload `json:"user"`
}

func toUserPayload(u *models.User) userPayload {
	return userPayload{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		LastLogin: u.LastLogin,
		CreatedAt: u.CreatedAt,
	}
}
