package router

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// securityHeaders are set once per dispatch, independent of the matched
// route, before any handler runs.
var securityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "SAMEORIGIN",
	"X-XSS-Protection":       "1; mode=block",
	"Referrer-Policy":        "strict-origin-when-cross-origin",
}

// ServeHTTP dispatches a request: it resolves the effective method
// (honoring the POST method override), finds the first matching route,
// runs its middleware chain, and invokes the handler. A middleware that
// returns a non-nil response short-circuits the chain. Panics from
// middleware or handlers are recovered into the 500 handler; an unmatched
// path goes to the 404 handler.
//
// CORS preflight requests are expected to be terminated by the CORS layer
// wrapped around the router, so an OPTIONS request reaching this point is
// treated as any other method.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	for key, value := range securityHeaders {
		w.Header().Set(key, value)
	}

	method := effectiveMethod(req)
	path := req.URL.Path

	ctx := &Ctx{Request: req, Params: Params{}}

	rt, params := r.match(method, path)
	if rt == nil {
		r.write(w, r.notFound.Serve(ctx))
		return
	}
	ctx.Params = params

	resp := r.run(rt, ctx)
	r.write(w, resp)
}

// run executes the route's middleware chain and handler, converting any
// panic into the configured 500 response.
func (r *Router) run(rt *route, ctx *Ctx) (resp *Response) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in handler",
				zap.String("method", rt.method),
				zap.String("pattern", rt.pattern),
				zap.Any("panic", rec),
			)
			resp = r.serverError.Serve(ctx)
		}
	}()

	for _, mw := range rt.middleware {
		if result := mw.Serve(ctx); result != nil {
			return result
		}
	}

	return rt.handler.Serve(ctx)
}

// effectiveMethod resolves the method used for matching. HTML forms can
// only issue GET and POST, so a POST may declare PUT/DELETE/PATCH
// semantics through a _method body field or the X-HTTP-Method-Override
// header; the body field takes precedence.
func effectiveMethod(req *http.Request) string {
	method := req.Method
	if method != http.MethodPost {
		return method
	}

	contentType := req.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(contentType, "multipart/form-data") {
		if override := req.PostFormValue("_method"); override != "" {
			return strings.ToUpper(override)
		}
	}

	if override := req.Header.Get("X-HTTP-Method-Override"); override != "" {
		return strings.ToUpper(override)
	}

	return method
}

func (r *Router) write(w http.ResponseWriter, resp *Response) {
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if len(resp.Body) > 0 {
		if _, err := w.Write(resp.Body); err != nil {
			r.logger.Warn("failed to write response body", zap.Error(err))
		}
	}
}

func defaultNotFound(*Ctx) *Response {
	return JSON(http.StatusNotFound, map[string]any{
		"success": false,
		"message": "Not found",
	})
}

func defaultServerError(*Ctx) *Response {
	return JSON(http.StatusInternalServerError, map[string]any{
		"success": false,
		"message": "Server error",
	})
}
