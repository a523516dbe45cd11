package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veganmessenger/server/internal/auth"
	"github.com/veganmessenger/server/internal/model"
	"github.com/veganmessenger/server/internal/router"
	"github.com/veganmessenger/server/internal/store"
)

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	FullName string `json:"fullName" validate:"required,max=128"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"required,min=7,max=20"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"omitempty,email"`
	Phone    string `json:"phone" validate:"omitempty,min=7,max=20"`
	Password string `json:"password" validate:"required"`
}

// Register creates an account, logs the new user in, and returns both the
// access token and an opaque session id.
func (a *API) Register(ctx *router.Ctx) *router.Response {
	var req registerRequest
	if resp := a.decode(ctx, &req); resp != nil {
		return resp
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.logger.Error("failed to hash password", zap.Error(err))
		return fail(http.StatusInternalServerError, "Server error")
	}

	user := model.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		FullName:     req.FullName,
		Email:        req.Email,
		Phone:        req.Phone,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := a.store.CreateUser(user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fail(http.StatusBadRequest, "Email or phone already registered")
		}
		a.logger.Error("failed to create user", zap.Error(err))
		return fail(http.StatusInternalServerError, "Server error")
	}

	a.logger.Info("user registered",
		zap.String("userId", user.ID),
		zap.String("username", user.Username))

	return a.loginResponse(http.StatusCreated, user)
}

// Login authenticates by email or phone plus password.
func (a *API) Login(ctx *router.Ctx) *router.Response {
	var req loginRequest
	if resp := a.decode(ctx, &req); resp != nil {
		return resp
	}
	if req.Email == "" && req.Phone == "" {
		return fail(http.StatusBadRequest, "Email or phone required")
	}

	var (
		user model.User
		err  error
	)
	if req.Email != "" {
		user, err = a.store.UserByEmail(req.Email)
	} else {
		user, err = a.store.UserByPhone(req.Phone)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(http.StatusUnauthorized, "Invalid credentials")
		}
		a.logger.Error("failed to look up user", zap.Error(err))
		return fail(http.StatusInternalServerError, "Server error")
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		return fail(http.StatusUnauthorized, "Invalid credentials")
	}

	a.logger.Info("user logged in", zap.String("userId", user.ID))
	return a.loginResponse(http.StatusOK, user)
}

// Logout destroys the caller's session. A token-only caller has no
// session to destroy; the call still succeeds.
func (a *API) Logout(ctx *router.Ctx) *router.Response {
	if sid := ctx.Request.Header.Get("X-Session-ID"); sid != "" {
		a.sessions.Destroy(sid)
	}
	return ok(http.StatusOK, map[string]any{"message": "Logged out"})
}

func (a *API) loginResponse(status int, user model.User) *router.Response {
	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		a.logger.Error("failed to issue token", zap.Error(err))
		return fail(http.StatusInternalServerError, "Server error")
	}

	session := a.sessions.Create(user.ID)

	return ok(status, map[string]any{
		"user":      user.Public(),
		"token":     token,
		"sessionId": session.ID,
	})
}
