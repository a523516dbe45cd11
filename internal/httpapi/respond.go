package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/veganmessenger/server/internal/router"
)

const maxBodySize = 1 << 20

// ok builds a success envelope with the given extra fields.
func ok(status int, data map[string]any) *router.Response {
	payload := map[string]any{"success": true}
	for k, v := range data {
		payload[k] = v
	}
	return router.JSON(status, payload)
}

// fail builds a failure envelope with a human-readable message.
func fail(status int, message string) *router.Response {
	return router.JSON(status, map[string]any{
		"success": false,
		"message": message,
	})
}

// decode parses and validates a JSON request body into dst. A non-nil
// response is the error to return to the client.
func (a *API) decode(ctx *router.Ctx, dst any) *router.Response {
	defer ctx.Request.Body.Close()

	dec := json.NewDecoder(io.LimitReader(ctx.Request.Body, maxBodySize))
	if err := dec.Decode(dst); err != nil {
		return fail(http.StatusBadRequest, "Malformed JSON body")
	}

	if err := a.validate.Struct(dst); err != nil {
		return fail(http.StatusBadRequest, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request"
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, lowerFirst(fe.Field()))
	}
	return "Invalid or missing fields: " + strings.Join(fields, ", ")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
