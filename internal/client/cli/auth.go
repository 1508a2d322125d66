package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/mbalashov/sessiond/internal/client/api"
	"github.com/mbalashov/sessiond/internal/client/session"
	"github.com/mbalashov/sessiond/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for an email, display name, and password, creates the
// account, and caches the issued session locally. The password byte slice is
// wiped before returning.
func (a *App) Register(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}
	name, err := getSimpleText(a.reader, "Enter name", os.Stdout)
	if err != nil {
		return err
	}
	password, err := getPassword(os.Stdout, "Enter password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	sess, err := a.authAPI.Register(ctx, email, name, password)
	if err != nil {
		if errors.Is(err, common.ErrEmailTaken) {
			log.Printf("Email is already registered")
			return err
		}
		log.Printf("Registration unsuccessfull: %s", err.Error())
		return err
	}

	if err := a.cacheSession(ctx, sess); err != nil {
		return err
	}
	fmt.Println("Success!")
	return nil
}

// Login prompts for credentials, authenticates, and caches the session. The
// password byte slice is wiped before returning.
func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}
	password, err := getPassword(os.Stdout, "Enter password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	sess, err := a.authAPI.Login(ctx, email, password)
	if err != nil {
		log.Printf("Login unsuccessfull: %s", err.Error())
		return err
	}

	if err := a.cacheSession(ctx, sess); err != nil {
		return err
	}
	log.Printf("Login successfull")
	return nil
}

// Whoami asks the server for the current profile. The call goes through the
// auth transport, so an expired access token is refreshed on the way.
func (a *App) Whoami(ctx context.Context) error {
	user, err := a.userAPI.Me(ctx)
	if err != nil {
		if errors.Is(err, common.ErrSessionExpired) {
			log.Printf("Session expired, please log in again")
			return err
		}
		log.Printf("Request unsuccessfull: %s", err.Error())
		return err
	}

	fmt.Printf("User: %s <%s>\n", user.Name, user.Email)
	if user.LastLogin != nil {
		fmt.Printf("Last login: %s\n", user.LastLogin.Local())
	}
	return nil
}

// ChangePassword prompts for the current and new password and submits the
// change. The server revokes every session of the user, including this one,
// so on success the local cache is cleared and the user must log in again.
func (a *App) ChangePassword(ctx context.Context) error {
	current, err := getPassword(os.Stdout, "Enter current password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(current)

	newPassword, err := getPassword(os.Stdout, "Enter new password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(newPassword)

	if err := a.userAPI.ChangePassword(ctx, current, newPassword); err != nil {
		log.Printf("Password change unsuccessfull: %s", err.Error())
		return err
	}

	if err := a.store.Clear(ctx); err != nil {
		return err
	}
	fmt.Println("Password changed. All devices were logged out; please log in again.")
	return nil
}

// Logout revokes the cached refresh token on the server and clears the local
// cache. A failed server call still clears the cache: the token will die on
// its own when it expires.
func (a *App) Logout(ctx context.Context) error {
	_, refreshToken, err := a.store.Tokens(ctx)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}

	if refreshToken != "" {
		if err := a.authAPI.Logout(ctx, refreshToken); err != nil {
			log.Printf("Server logout unsuccessfull: %s", err.Error())
		}
	}
	return a.store.Clear(ctx)
}

func (a *App) cacheSession(ctx context.Context, sess *api.Session) error {
	return a.store.SetSession(ctx, sess.AccessToken, sess.RefreshToken, &session.Profile{
		UserID: sess.User.ID,
		Email:  sess.User.Email,
		Name:   sess.User.Name,
	})
}
