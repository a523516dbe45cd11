// Package httpapi implements the JSON HTTP surface of the Vegan Messenger
// server: registration, login, user search, contact management, and
// conversation history. Every response uses the {success, ...} envelope.
package httpapi

import (
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/veganmessenger/server/internal/auth"
	"github.com/veganmessenger/server/internal/presence"
	"github.com/veganmessenger/server/internal/router"
	"github.com/veganmessenger/server/internal/store"
)

// API bundles the dependencies of the HTTP handlers.
type API struct {
	store    store.Store
	registry *presence.Registry
	sessions auth.SessionStore
	tokens   *auth.TokenIssuer
	logger   *zap.Logger
	validate *validator.Validate
}

// New creates the handler set. A nil logger is replaced with a no-op
// logger.
func New(st store.Store, registry *presence.Registry, sessions auth.SessionStore, tokens *auth.TokenIssuer, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		store:    st,
		registry: registry,
		sessions: sessions,
		tokens:   tokens,
		logger:   logger,
		validate: validator.New(),
	}
}

// Routes registers every endpoint on the router. Route names allow view
// and client code to build URLs with Reverse.
func (a *API) Routes(r *router.Router) {
	r.Get("/health", router.HandlerFunc(a.Health), "health")

	r.Group("/api", []router.Handler{a.RequestLogger()}, func(r *router.Router) {
		r.Post("/auth/register", router.HandlerFunc(a.Register), "auth.register")
		r.Post("/auth/login", router.HandlerFunc(a.Login), "auth.login")

		r.Group("", []router.Handler{a.RequireAuth()}, func(r *router.Router) {
			r.Post("/auth/logout", router.HandlerFunc(a.Logout), "auth.logout")
			r.Get("/users/search", router.HandlerFunc(a.SearchUser), "users.search")
			r.Get("/contacts/{userId}", router.HandlerFunc(a.ListContacts), "contacts.list")
			r.Post("/contacts/add", router.HandlerFunc(a.AddContact), "contacts.add")
			r.Get("/messages/{userId}/{contactId}", router.HandlerFunc(a.Conversation), "messages.conversation")
		})
	})
}
