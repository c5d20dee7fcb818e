package scheduling

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicsuite/clinic/internal/domain/directory"
	"github.com/clinicsuite/clinic/internal/platform/apperr"
	"github.com/clinicsuite/clinic/internal/platform/auth"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	return NewHandler(f.svc, f.dir), f, echo.New()
}

func jsonRequest(method, target, body string, roles ...string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(auth.WithUser(req.Context(), uuid.NewString(), roles...))
}

func TestHandler_Create(t *testing.T) {
	h, f, e := newTestHandler()
	doctor := f.dir.addDoctor(true)
	patient := f.repo.addPatient("Marko", "Marić")

	body := `{"service_type":"Consultation","doctor_id":"` + doctor.String() + `","patient_id":"` + patient.String() +
		`","start_time":"2026-03-03T10:00:00Z","end_time":"2026-03-03T11:00:00Z"}`
	rec := httptest.NewRecorder()
	if err := h.Create(e.NewContext(jsonRequest(http.MethodPost, "/services", body, auth.RoleReceptionist), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Service
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != StatusScheduled || len(got.Participants) != 1 {
		t.Errorf("unexpected service %+v", got)
	}
}

func TestHandler_Create_UnknownField(t *testing.T) {
	h, _, e := newTestHandler()
	body := `{"service_type":"Consultation","room":"B12"}`
	err := h.Create(e.NewContext(jsonRequest(http.MethodPost, "/services", body, auth.RoleReceptionist), httptest.NewRecorder()))
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error for unknown field, got %v", err)
	}
}

func TestHandler_Cancel_SecondCallConflicts(t *testing.T) {
	h, f, e := newTestHandler()
	s := f.consultation(t)

	call := func() (*httptest.ResponseRecorder, error) {
		rec := httptest.NewRecorder()
		c := e.NewContext(jsonRequest(http.MethodPatch, "/", `{"cancel_reason":"patient ill"}`, auth.RoleDoctor), rec)
		c.SetParamNames("id")
		c.SetParamValues(s.ID.String())
		return rec, h.Cancel(c)
	}

	rec, err := call()
	if err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	_, err = call()
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind.HTTPStatus() != http.StatusConflict {
		t.Errorf("expected 409 error, got %v", err)
	}
}

func TestHandler_Complete_EmptyBody(t *testing.T) {
	h, f, e := newTestHandler()
	s := f.consultation(t)

	req := httptest.NewRequest(http.MethodPatch, "/", nil)
	req = req.WithContext(auth.WithUser(req.Context(), uuid.NewString(), auth.RoleDoctor))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(s.ID.String())
	if err := h.Complete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Service
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusCompleted {
		t.Errorf("expected Completed, got %s", got.Status)
	}
}

func TestHandler_Get_PatientOwnership(t *testing.T) {
	h, f, e := newTestHandler()
	s := f.consultation(t)

	get := func() error {
		c := e.NewContext(jsonRequest(http.MethodGet, "/", "", auth.RolePatient), httptest.NewRecorder())
		c.SetParamNames("id")
		c.SetParamValues(s.ID.String())
		return h.Get(c)
	}

	f.dir.currentPatient = &directory.Patient{ID: uuid.New()}
	if err := get(); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("expected not found for a foreign service, got %v", err)
	}

	f.dir.currentPatient = &directory.Patient{ID: s.Participants[0].PatientID}
	if err := get(); err != nil {
		t.Errorf("participant should see the service: %v", err)
	}
}

func TestHandler_CurrentDoctorServices(t *testing.T) {
	h, f, e := newTestHandler()
	mine := f.consultation(t)
	f.consultation(t)
	f.dir.currentDoctor = &directory.Doctor{ID: mine.DoctorID}

	rec := httptest.NewRecorder()
	if err := h.CurrentDoctorServices(e.NewContext(jsonRequest(http.MethodGet, "/doctor/current/services", "", auth.RoleDoctor), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []Service `json:"data"`
		Total int       `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 || body.Data[0].ID != mine.ID {
		t.Errorf("expected only the current doctor's service, got %+v", body)
	}
}

func TestHandler_RecordAttendance_InvalidStatus(t *testing.T) {
	h, f, e := newTestHandler()
	s := f.consultation(t)

	c := e.NewContext(jsonRequest(http.MethodPatch, "/", `{"attendance_status":"Late"}`, auth.RoleReceptionist), httptest.NewRecorder())
	c.SetParamNames("id", "participantId")
	c.SetParamValues(s.ID.String(), s.Participants[0].ID.String())
	if err := h.RecordAttendance(c); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_Calendar_BadQuery(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(jsonRequest(http.MethodGet, "/services/calendar?from=yesterday", "", auth.RoleDoctor), httptest.NewRecorder())
	if err := h.Calendar(c); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestRoutes_PatientCannotCreate(t *testing.T) {
	h, _, e := newTestHandler()
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithUser(c.Request().Context(), uuid.NewString(), auth.RolePatient)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(api)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/services", strings.NewReader(`{}`)))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}
