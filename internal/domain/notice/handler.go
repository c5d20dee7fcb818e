package notice

import (
	"net/http"

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
	doctors := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctors.POST("/notices", h.Create)
	doctors.GET("/notices/generate-number", h.GenerateNumber)

	all := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist, auth.RolePatient))
	all.GET("/notices", h.List)
	all.GET("/notices/:id", h.Get)
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	n, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	n, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f ListFilter
	var err error
	if f.ServiceID, err = httpx.QueryUUID(c, "service_id"); err != nil {
		return err
	}
	if f.ParticipantID, err = httpx.QueryUUID(c, "participant_id"); err != nil {
		return err
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GenerateNumber(c echo.Context) error {
	num, err := h.svc.GenerateNumber(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"unique_notice_number": num})
}
