package servicerequest

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicsuite/clinic/internal/domain/scheduling"
	"github.com/clinicsuite/clinic/internal/platform/auth"
	"github.com/clinicsuite/clinic/internal/platform/httpx"
	"github.com/clinicsuite/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	all := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist, auth.RolePatient))
	all.POST("/service-requests", h.Create)
	all.GET("/service-requests/:id", h.Get)

	api.GET("/service-requests/mine", h.ListMine, auth.RequireRole(auth.RolePatient))

	staff := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist))
	staff.GET("/service-requests", h.List)
	staff.PATCH("/service-requests/:id/approve", h.Approve)
	staff.PATCH("/service-requests/:id/reject", h.Reject)
	staff.POST("/service-requests/:id/schedule", h.Schedule)
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	req, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	req, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f ListFilter
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		f.Status = &st
	}
	var err error
	if f.PatientID, err = httpx.QueryUUID(c, "patient_id"); err != nil {
		return err
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListMine(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMine(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var body struct{}
	if err := httpx.BindOptional(c, &body); err != nil {
		return err
	}
	req, err := h.svc.Approve(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, req)
}

type rejectRequest struct {
	RejectionReason string `json:"rejection_reason"`
}

func (h *Handler) Reject(c echo.Context) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var body rejectRequest
	if err := httpx.Bind(c, &body); err != nil {
		return err
	}
	req, err := h.svc.Reject(c.Request().Context(), id, body.RejectionReason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, req)
}

type scheduleResponse struct {
	Request *Request            `json:"request"`
	Service *scheduling.Service `json:"service"`
}

func (h *Handler) Schedule(c echo.Context) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var in ScheduleInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	req, svc, err := h.svc.Schedule(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, scheduleResponse{Request: req, Service: svc})
}
