package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicsuite/clinic/internal/platform/apperr"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated", "", false},
		{"preserved", "req-abc-123", true},
		{"too long", strings.Repeat("x", 200), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var seen string
			err := RequestID()(func(c echo.Context) error {
				seen, _ = c.Get("request_id").(string)
				return c.NoContent(http.StatusOK)
			})(c)
			if err != nil {
				t.Fatal(err)
			}
			if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
				t.Fatalf("expected id %q echoed back, got %q", seen, rec.Header().Get(RequestIDHeader))
			}
			if (seen == tt.incoming) != tt.keep {
				t.Errorf("keep=%v but request_id=%q", tt.keep, seen)
			}
		})
	}
}

type logLine struct {
	Level  string `json:"level"`
	Status int    `json:"status"`
	Route  string `json:"route"`
}

func runLogged(t *testing.T, handler echo.HandlerFunc) logLine {
	t.Helper()
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/services", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/services")

	_ = Logger(zerolog.New(&buf))(handler)(c)

	var line logLine
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return line
}

func TestLogger_StatusAndLevel(t *testing.T) {
	tests := []struct {
		name   string
		h      echo.HandlerFunc
		status int
		level  string
	}{
		{"ok", func(c echo.Context) error { return c.NoContent(http.StatusCreated) }, 201, "info"},
		{"validation", func(echo.Context) error { return apperr.Validation("start_time is required") }, 400, "warn"},
		{"invalid state", func(echo.Context) error { return apperr.InvalidState("service is Cancelled") }, 409, "warn"},
		{"echo error", func(echo.Context) error { return echo.ErrUnauthorized }, 401, "warn"},
		{"unclassified", func(echo.Context) error { return errors.New("connection reset") }, 500, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := runLogged(t, tt.h)
			if line.Status != tt.status || line.Level != tt.level {
				t.Errorf("got status %d level %s, want %d %s", line.Status, line.Level, tt.status, tt.level)
			}
			if line.Route != "/services" {
				t.Errorf("expected route to be logged, got %q", line.Route)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := Recovery(zerolog.New(&buf))(func(echo.Context) error { panic("nil map write") })(c)
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if apperr.Message(err) != "internal server error" {
		t.Errorf("panic text leaked to client: %q", apperr.Message(err))
	}
	if !strings.Contains(buf.String(), "nil map write") || !strings.Contains(buf.String(), "stack") {
		t.Errorf("expected panic and stack in log, got %s", buf.String())
	}

	ok := Recovery(zerolog.Nop())(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
	if ok != nil {
		t.Errorf("expected pass-through, got %v", ok)
	}
}
