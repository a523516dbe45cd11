package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/veganmessenger/server/internal/router"
)

// userKey is the context key the auth middleware stores the authenticated
// user id under.
const userKey = "userID"

// RequestLogger logs every API request as it enters the dispatch chain.
func (a *API) RequestLogger() router.Handler {
	return router.HandlerFunc(func(ctx *router.Ctx) *router.Response {
		a.logger.Info("api request",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.String("remote", ctx.Request.RemoteAddr))
		return nil
	})
}

// RequireAuth authenticates the request via Bearer JWT or session id and
// stores the user id in the request context. Unauthenticated requests are
// short-circuited with 401.
func (a *API) RequireAuth() router.Handler {
	return router.HandlerFunc(func(ctx *router.Ctx) *router.Response {
		userID, ok := a.authenticatedUser(ctx.Request)
		if !ok {
			return fail(http.StatusUnauthorized, "Not authenticated")
		}
		ctx.Set(userKey, userID)
		return nil
	})
}

// authenticatedUser resolves the caller's identity from either an
// Authorization: Bearer token or an X-Session-ID header.
func (a *API) authenticatedUser(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, found := strings.CutPrefix(h, "Bearer ")
		if !found {
			return "", false
		}
		userID, err := a.tokens.Validate(token)
		if err != nil {
			return "", false
		}
		return userID, true
	}

	if sid := r.Header.Get("X-Session-ID"); sid != "" {
		if session, ok := a.sessions.Get(sid); ok {
			return session.UserID, true
		}
	}

	return "", false
}

// currentUser returns the user id placed by RequireAuth.
func currentUser(ctx *router.Ctx) string {
	userID, _ := ctx.Value(userKey).(string)
	return userID
}
