package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"safeworks.org/ptw/internal/apperr"
	"safeworks.org/ptw/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth requires a bearer token. A missing token is 401, one that fails
// verification is 403.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeFailure(w, r, http.StatusUnauthorized, err.Error(), "")
			return
		}
		if a.deps.Tokens == nil {
			writeFailure(w, r, http.StatusInternalServerError, "authentication is not configured", "")
			return
		}

		claims, err := a.deps.Tokens.ParseAndValidate(token)
		if err != nil {
			writeFailure(w, r, http.StatusForbidden, "invalid or expired token", "")
			return
		}
		id, err := claims.Identity()
		if err != nil {
			writeFailure(w, r, http.StatusForbidden, "invalid or expired token", "")
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), id)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// caller returns the authenticated identity set by withAuth.
func caller(ctx context.Context) (auth.Identity, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return auth.Identity{}, apperr.E(apperr.KindUnauthenticated, "httpapi.auth", auth.ErrUnauthenticated, "authentication required")
	}
	return id, nil
}

// authorize checks act for the caller. ownerID is the creator of the target
// permit, or zero when the action is not owner scoped.
func (a *API) authorize(ctx context.Context, act auth.Action, ownerID int64) (auth.Identity, error) {
	id, err := caller(ctx)
	if err != nil {
		return id, err
	}
	if a.deps.Authz == nil {
		return id, nil
	}
	scope := auth.ScopeOther
	if ownerID > 0 {
		scope = auth.ScopeFor(id, ownerID)
	}
	if err := a.deps.Authz.Authorize(ctx, id, act, scope); err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			return id, apperr.E(apperr.KindForbidden, "httpapi.authorize", err, "not allowed to %s", act)
		}
		return id, apperr.E(apperr.KindInternal, "httpapi.authorize", err, "authorization failed")
	}
	return id, nil
}

// authorizePermit checks act against the permit's owner. A missing permit
// is left to the service call so it reports NotFound in its own validation
// order.
func (a *API) authorizePermit(ctx context.Context, act auth.Action, permitID int64) (auth.Identity, error) {
	id, err := caller(ctx)
	if err != nil {
		return id, err
	}
	owner := id.ID
	ref, err := a.deps.Evidence.Owner(ctx, permitID)
	switch {
	case apperr.KindOf(err) == apperr.KindNotFound:
	case err != nil:
		return id, err
	default:
		owner = ref.CreatedBy
	}
	return a.authorize(ctx, act, owner)
}
