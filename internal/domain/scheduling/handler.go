package scheduling

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/clinicsuite/clinic/internal/platform/apperr"
	"github.com/clinicsuite/clinic/internal/platform/auth"
	"github.com/clinicsuite/clinic/internal/platform/httpx"
	"github.com/clinicsuite/clinic/pkg/pagination"
)

type Handler struct {
	svc *Scheduler
	dir Directory
}

func NewHandler(svc *Scheduler, dir Directory) *Handler {
	return &Handler{svc: svc, dir: dir}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist))
	staff.POST("/services", h.Create)
	staff.GET("/services", h.List)
	staff.GET("/services/calendar", h.Calendar)
	staff.PATCH("/services/:id/cancel", h.Cancel)
	staff.PATCH("/services/:id/complete", h.Complete)
	staff.PATCH("/services/:id/participants/:participantId", h.RecordAttendance)

	all := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist, auth.RolePatient))
	all.GET("/services/:id", h.Get)
	all.GET("/service-types", h.ListServiceTypes)

	api.GET("/doctor/current/services", h.CurrentDoctorServices, auth.RequireRole(auth.RoleDoctor))
	api.GET("/patient/current/services", h.CurrentPatientServices, auth.RequireRole(auth.RolePatient))
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	svc, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, svc)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	svc, err := h.svc.Get(ctx, id)
	if err != nil {
		return err
	}
	if !auth.IsStaff(ctx) {
		p, err := h.dir.CurrentPatient(ctx)
		if err != nil {
			return err
		}
		// Hide services the patient is not part of.
		if !svc.HasPatient(p.ID) {
			return apperr.NotFound("service not found")
		}
	}
	return c.JSON(http.StatusOK, svc)
}

func parseFilter(c echo.Context) (ListFilter, error) {
	var f ListFilter
	var err error
	if f.DoctorID, err = httpx.QueryUUID(c, "doctor_id"); err != nil {
		return f, err
	}
	if f.PatientID, err = httpx.QueryUUID(c, "patient_id"); err != nil {
		return f, err
	}
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		f.Status = &st
	}
	from, err := httpx.QueryTime(c, "from")
	if err != nil {
		return f, err
	}
	if !from.IsZero() {
		f.From = &from
	}
	to, err := httpx.QueryTime(c, "to")
	if err != nil {
		return f, err
	}
	if !to.IsZero() {
		f.To = &to
	}
	return f, nil
}

func (h *Handler) List(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	return h.list(c, f)
}

func (h *Handler) list(c echo.Context, f ListFilter) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) CurrentDoctorServices(c echo.Context) error {
	d, err := h.dir.CurrentDoctor(c.Request().Context())
	if err != nil {
		return err
	}
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	f.DoctorID = &d.ID
	return h.list(c, f)
}

func (h *Handler) CurrentPatientServices(c echo.Context) error {
	p, err := h.dir.CurrentPatient(c.Request().Context())
	if err != nil {
		return err
	}
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	f.PatientID = &p.ID
	f.DoctorID = nil
	return h.list(c, f)
}

func (h *Handler) Calendar(c echo.Context) error {
	var q CalendarQuery
	var err error
	if q.From, err = httpx.QueryTime(c, "from"); err != nil {
		return err
	}
	if q.To, err = httpx.QueryTime(c, "to"); err != nil {
		return err
	}
	if q.DoctorID, err = httpx.QueryUUID(c, "doctor_id"); err != nil {
		return err
	}
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		q.Status = &st
	}
	q.PatientName = c.QueryParam("patient_name")

	events, err := h.svc.Calendar(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": events})
}

type cancelRequest struct {
	CancelReason string `json:"cancel_reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var body cancelRequest
	if err := httpx.Bind(c, &body); err != nil {
		return err
	}
	svc, err := h.svc.Cancel(c.Request().Context(), id, body.CancelReason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, svc)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var body struct{}
	if err := httpx.BindOptional(c, &body); err != nil {
		return err
	}
	svc, err := h.svc.Complete(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, svc)
}

type attendanceRequest struct {
	AttendanceStatus AttendanceStatus `json:"attendance_status"`
}

func (h *Handler) RecordAttendance(c echo.Context) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	participantID, err := httpx.ParamUUID(c, "participantId")
	if err != nil {
		return err
	}
	var body attendanceRequest
	if err := httpx.Bind(c, &body); err != nil {
		return err
	}
	p, err := h.svc.RecordAttendance(c.Request().Context(), id, participantID, body.AttendanceStatus)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListServiceTypes(c echo.Context) error {
	activeOnly := true
	if v := c.QueryParam("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.Validation("invalid active")
		}
		activeOnly = b
	}
	items, err := h.svc.ListServiceTypes(c.Request().Context(), activeOnly)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}
