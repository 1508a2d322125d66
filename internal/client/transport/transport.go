// Package transport wraps an http.RoundTripper with transparent session
// maintenance: it attaches the cached bearer token, and on a 401 it rotates
// the refresh token once and replays the request.
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/mbalashov/sessiond/internal/client/api"
	"github.com/mbalashov/sessiond/internal/client/session"
	"github.com/mbalashov/sessiond/internal/common"
)

// Refresher exchanges a refresh token for a new pair. *api.Client satisfies
// it; the client used here must NOT itself be wrapped in AuthTransport.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*api.TokenPair, error)
}

// AuthTransport is an http.RoundTripper that keeps the session alive:
//
//  1. attach "Authorization: Bearer <access>" from the store;
//  2. on 401, run one refresh (concurrent 401s share a single in-flight
//     refresh via singleflight), persist the new pair, and retry the request
//     exactly once;
//  3. if the refresh is rejected, or the retry still gets 401, clear the
//     store and fail with common.ErrSessionExpired.
//
// Requests whose body cannot be replayed (GetBody == nil) are never retried;
// the caller sees the original 401.
type AuthTransport struct {
	base      http.RoundTripper
	store     session.Store
	refresher Refresher

	group singleflight.Group
}

func New(store session.Store, refresher Refresher, base http.RoundTripper) *AuthTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &AuthTransport{base: base, store: store, refresher: refresher}
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	access, _, err := t.store.Tokens(req.Context())
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	resp, err := t.send(req, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || access == "" {
		return resp, nil
	}
	if req.Body != nil && req.GetBody == nil {
		// The body is consumed and cannot be replayed.
		return resp, nil
	}
	drainAndClose(resp.Body)

	newAccess, err := t.refresh(req.Context(), access)
	if err != nil {
		return nil, err
	}

	retry, err := t.send(req, newAccess)
	if err != nil {
		return nil, err
	}
	if retry.StatusCode == http.StatusUnauthorized {
		// A fresh token was rejected; the session is gone on the server.
		drainAndClose(retry.Body)
		_ = t.store.Clear(req.Context())
		return nil, common.ErrSessionExpired
	}
	return retry, nil
}

// send dispatches a copy of req with the given bearer token, leaving the
// original request replayable.
func (t *AuthTransport) send(req *http.Request, access string) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	if access != "" {
		clone.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+access)
	}
	return t.base.RoundTrip(clone)
}

// refresh rotates the pair, coalescing concurrent callers that saw the same
// stale access token into a single server round trip.
func (t *AuthTransport) refresh(ctx context.Context, staleAccess string) (string, error) {
	v, err, _ := t.group.Do(staleAccess, func() (any, error) {
		// The refresh outcome is shared between callers, so it must not die
		// with whichever request context happened to start it.
		rctx := context.WithoutCancel(ctx)

		curAccess, curRefresh, err := t.store.Tokens(rctx)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return "", common.ErrSessionExpired
			}
			return "", err
		}
		if curAccess != staleAccess {
			// Someone else already rotated; reuse their result.
			return curAccess, nil
		}

		pair, err := t.refresher.Refresh(rctx, curRefresh)
		if err != nil {
			if errors.Is(err, common.ErrorUnauthorized) {
				_ = t.store.Clear(rctx)
				return "", common.ErrSessionExpired
			}
			return "", err
		}
		if err := t.store.SetTokens(rctx, pair.AccessToken, pair.RefreshToken); err != nil {
			return "", err
		}
		return pair.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
