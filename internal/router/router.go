// Package router implements the HTTP routing core of the Vegan Messenger
// server: path template compilation with named parameters, ordered
// first-match dispatch, middleware chaining, route grouping, and reverse
// URL generation for named routes.
package router

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// ErrUnknownRoute reports a Reverse call for a name no route was
// registered under.
var ErrUnknownRoute = errors.New("router: unknown named route")

// Handler processes a request context and produces a response. A nil
// response from a middleware means "continue the chain"; a nil response
// from a route handler is written as 204 No Content.
type Handler interface {
	Serve(*Ctx) *Response
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(*Ctx) *Response

// Serve calls f(ctx).
func (f HandlerFunc) Serve(ctx *Ctx) *Response { return f(ctx) }

type route struct {
	method     string
	pattern    string
	re         *regexp.Regexp
	paramNames []string
	handler    Handler
	middleware []Handler
	name       string
}

// Router registers routes and dispatches HTTP requests to them.
// Registration order is significant: the first registered route whose
// compiled pattern matches the request path wins.
type Router struct {
	routes      []*route
	named       map[string]*route
	prefix      string
	groupMW     []Handler
	notFound    Handler
	serverError Handler
	logger      *zap.Logger
}

// New creates an empty Router with built-in minimal 404/500 handlers.
// A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		named:       make(map[string]*route),
		notFound:    HandlerFunc(defaultNotFound),
		serverError: HandlerFunc(defaultServerError),
		logger:      logger,
	}
}

// Handle registers a route for the given HTTP method and path template
// under the current group prefix. Templates use literal segments plus
// {name} or :name parameter segments, each capturing one or more non-slash
// characters. An optional route name enables Reverse.
//
// Malformed templates are rejected here, at registration time, with a
// panic: routes are registered once at startup and a bad template is a
// programming error, the same contract as http.ServeMux.
func (r *Router) Handle(method, pattern string, h Handler, name ...string) *Router {
	full := r.prefix + pattern

	re, paramNames, err := compilePattern(full)
	if err != nil {
		panic(fmt.Sprintf("router: invalid pattern %q: %v", full, err))
	}

	rt := &route{
		method:     strings.ToUpper(method),
		pattern:    full,
		re:         re,
		paramNames: paramNames,
		handler:    h,
		middleware: append([]Handler(nil), r.groupMW...),
	}

	if len(name) > 0 && name[0] != "" {
		rt.name = name[0]
		r.named[rt.name] = rt
	}

	r.routes = append(r.routes, rt)
	return r
}

// Get registers a GET route.
func (r *Router) Get(pattern string, h Handler, name ...string) *Router {
	return r.Handle("GET", pattern, h, name...)
}

// Post registers a POST route.
func (r *Router) Post(pattern string, h Handler, name ...string) *Router {
	return r.Handle("POST", pattern, h, name...)
}

// Put registers a PUT route.
func (r *Router) Put(pattern string, h Handler, name ...string) *Router {
	return r.Handle("PUT", pattern, h, name...)
}

// Delete registers a DELETE route.
func (r *Router) Delete(pattern string, h Handler, name ...string) *Router {
	return r.Handle("DELETE", pattern, h, name...)
}

// Patch registers a PATCH route.
func (r *Router) Patch(pattern string, h Handler, name ...string) *Router {
	return r.Handle("PATCH", pattern, h, name...)
}

// Map registers the same handler under several HTTP methods.
func (r *Router) Map(methods []string, pattern string, h Handler, name ...string) *Router {
	for _, m := range methods {
		r.Handle(m, pattern, h, name...)
	}
	return r
}

// Group runs fn against the router with prefix appended to the current
// group prefix and middleware appended to the current group middleware.
// Every route registered inside fn carries the concatenated prefix and the
// group middleware ahead of its own. The previous prefix and middleware
// are restored when fn returns.
func (r *Router) Group(prefix string, middleware []Handler, fn func(*Router)) *Router {
	prevPrefix := r.prefix
	prevMW := r.groupMW

	r.prefix += prefix
	r.groupMW = append(append([]Handler(nil), prevMW...), middleware...)

	fn(r)

	r.prefix = prevPrefix
	r.groupMW = prevMW
	return r
}

// NotFound replaces the 404 handler.
func (r *Router) NotFound(h Handler) *Router {
	r.notFound = h
	return r
}

// ServerError replaces the 500 handler invoked when a middleware or route
// handler panics.
func (r *Router) ServerError(h Handler) *Router {
	r.serverError = h
	return r
}

// Reverse substitutes params into the template of the named route and
// returns the resulting URL path. Placeholders without a matching param
// are stripped from the output rather than reported as an error; this
// leniency is deliberate and relied upon by view code.
func (r *Router) Reverse(name string, params map[string]string) (string, error) {
	rt, ok := r.named[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRoute, name)
	}

	path := rt.pattern
	for key, value := range params {
		path = strings.ReplaceAll(path, "{"+key+"}", value)
		path = strings.ReplaceAll(path, ":"+key, value)
	}

	path = bracePlaceholder.ReplaceAllString(path, "")
	path = colonPlaceholder.ReplaceAllString(path, "")
	return path, nil
}

var (
	bracePlaceholder = regexp.MustCompile(`\{[^}]+\}`)
	colonPlaceholder = regexp.MustCompile(`:[^/]+`)
	paramName        = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// compilePattern turns a path template into an anchored regular expression
// and the ordered list of parameter names it captures. Matching is
// case-sensitive and slash-sensitive; a parameter captures [^/]+.
func compilePattern(pattern string) (*regexp.Regexp, []string, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, nil, fmt.Errorf("pattern must start with /")
	}

	var (
		b      strings.Builder
		params []string
	)
	b.WriteString("^")

	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if i > 0 {
			b.WriteString("/")
		}

		switch {
		case seg == "":
			// Leading slash or trailing slash; nothing to emit.
		case strings.HasPrefix(seg, "{") || strings.HasSuffix(seg, "}"):
			if !strings.HasPrefix(seg, "{") || !strings.HasSuffix(seg, "}") {
				return nil, nil, fmt.Errorf("unbalanced braces in segment %q", seg)
			}
			name := seg[1 : len(seg)-1]
			if err := appendParam(&params, name); err != nil {
				return nil, nil, err
			}
			fmt.Fprintf(&b, "(?P<%s>[^/]+)", name)
		case strings.HasPrefix(seg, ":"):
			name := seg[1:]
			if err := appendParam(&params, name); err != nil {
				return nil, nil, err
			}
			fmt.Fprintf(&b, "(?P<%s>[^/]+)", name)
		default:
			if strings.ContainsAny(seg, "{}") {
				return nil, nil, fmt.Errorf("stray brace in segment %q", seg)
			}
			b.WriteString(regexp.QuoteMeta(seg))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, nil, err
	}
	return re, params, nil
}

func appendParam(params *[]string, name string) error {
	if !paramName.MatchString(name) {
		return fmt.Errorf("invalid parameter name %q", name)
	}
	for _, existing := range *params {
		if existing == name {
			return fmt.Errorf("duplicate parameter name %q", name)
		}
	}
	*params = append(*params, name)
	return nil
}

// match returns the first registered route matching the method and path,
// with the captured parameter values, or nil when nothing matches.
func (r *Router) match(method, path string) (*route, Params) {
	for _, rt := range r.routes {
		if rt.method != method {
			continue
		}
		m := rt.re.FindStringSubmatch(path)
		if m == nil {
			continue
		}

		params := make(Params, len(rt.paramNames))
		for i, name := range rt.re.SubexpNames() {
			if i == 0 || name == "" {
				continue
			}
			params[name] = m[i]
		}
		return rt, params
	}
	return nil, nil
}
