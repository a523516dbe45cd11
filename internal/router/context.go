package router

import (
	"encoding/json"
	"net/http"
)

// Params maps a path parameter name to the string captured for it.
type Params map[string]string

// Ctx carries a single request through the middleware chain and into the
// route handler.
type Ctx struct {
	Request *http.Request
	Params  Params

	values map[string]any
}

// Set stores a request-scoped value, typically placed by a middleware for
// the handler (for example the authenticated user id).
func (c *Ctx) Set(key string, value any) {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = value
}

// Value returns a request-scoped value previously stored with Set, or nil.
func (c *Ctx) Value(key string) any {
	return c.values[key]
}

// Response is the result of a middleware or route handler. The dispatch
// pipeline writes it to the underlying http.ResponseWriter exactly once.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// JSON builds a response with an application/json body. Marshal failures
// surface as a 500 with a generic envelope; the payloads used by handlers
// are plain structs and maps, so this path is not expected in practice.
func JSON(status int, v any) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"success":false,"message":"Server error"}`)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &Response{Status: status, Header: header, Body: body}
}

// Text builds a plain-text response.
func Text(status int, body string) *Response {
	header := make(http.Header)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return &Response{Status: status, Header: header, Body: []byte(body)}
}
