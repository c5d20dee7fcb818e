// Package httpx holds request decoding helpers shared by the domain handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicsuite/clinic/internal/platform/apperr"
)

// Bind decodes the JSON request body into dst. Unknown fields, trailing data
// and type mismatches are validation errors.
func Bind(c echo.Context, dst interface{}) error {
	body := c.Request().Body
	if body == nil {
		return apperr.Validation("request body is required")
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return apperr.Validation("request body must contain a single JSON object")
	}
	return nil
}

// BindOptional is Bind for endpoints whose body may be empty.
func BindOptional(c echo.Context, dst interface{}) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	err := Bind(c, dst)
	if err != nil && errors.Is(err, errEmptyBody) {
		return nil
	}
	return err
}

var errEmptyBody = apperr.Validation("request body is required")

func decodeError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	var tm *time.ParseError
	switch {
	case errors.Is(err, io.EOF):
		return errEmptyBody
	case errors.As(err, &syn):
		return apperr.Validation("malformed JSON at offset %d", syn.Offset)
	case errors.As(err, &typ):
		return apperr.Validation("field %s must be %s", typ.Field, typ.Type)
	case errors.As(err, &tm):
		return apperr.Validation("invalid timestamp %q, expected RFC 3339", tm.Value)
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		return apperr.Validation("unknown field %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.Validation("invalid request body: %v", err)
}

// ParamUUID parses a path parameter as a UUID.
func ParamUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

// QueryUUID parses an optional query parameter as a UUID.
func QueryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Validation("invalid %s", name)
	}
	return &id, nil
}

// QueryTime parses an optional RFC 3339 timestamp or YYYY-MM-DD date.
func QueryTime(c echo.Context, name string) (time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, apperr.Validation("invalid %s: %q is not a timestamp or date", name, raw)
}
