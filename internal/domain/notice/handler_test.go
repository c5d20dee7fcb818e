package notice

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/clinicsuite/clinic/internal/platform/apperr"
)

func TestHandler_Create_ForeignParticipant(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	body := `{"service_id":"` + f.serviceID.String() + `","participant_id":"` + f.serviceID.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/notices", strings.NewReader(body)).WithContext(f.doctorCtx)
	err := h.Create(e.NewContext(req, httptest.NewRecorder()))
	if apperr.KindOf(err).HTTPStatus() != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GenerateNumber(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	req := httptest.NewRequest(http.MethodGet, "/notices/generate-number", nil).WithContext(f.doctorCtx)
	rec := httptest.NewRecorder()
	if err := h.GenerateNumber(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["unique_notice_number"] != "MN-2026-000001" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHandler_Get_IncludesValid(t *testing.T) {
	f := newFixture()
	n, err := f.svc.Create(f.doctorCtx, CreateInput{ServiceID: f.serviceID, ParticipantID: f.participant.ID})
	if err != nil {
		t.Fatal(err)
	}
	h, e := NewHandler(f.svc), echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(f.doctorCtx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(n.ID.String())
	if err := h.Get(c); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), `"valid":true`) {
		t.Errorf("expected valid flag in %s", rec.Body.String())
	}
}
