package directory

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

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
	// Patients pick a preferred doctor when requesting a service.
	all := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist, auth.RolePatient))
	all.GET("/doctors", h.ListDoctors)
	all.GET("/doctors/:id", h.GetDoctor)
	all.GET("/patients/:id", h.GetPatient)

	staff := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist))
	staff.GET("/patients", h.SearchPatients)

	api.GET("/doctor/current", h.CurrentDoctor, auth.RequireRole(auth.RoleDoctor))
	api.GET("/patient/current", h.CurrentPatient, auth.RequireRole(auth.RolePatient))
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly := true
	if v := c.QueryParam("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active")
		}
		activeOnly = b
	}
	items, total, err := h.svc.ListDoctors(c.Request().Context(), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) SearchPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchPatients(c.Request().Context(), c.QueryParam("name"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.AuthorizePatient(ctx, id); err != nil {
		return err
	}
	p, err := h.svc.GetPatient(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CurrentDoctor(c echo.Context) error {
	d, err := h.svc.CurrentDoctor(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) CurrentPatient(c echo.Context) error {
	p, err := h.svc.CurrentPatient(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}
