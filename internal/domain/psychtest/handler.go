package psychtest

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicsuite/clinic/internal/platform/apperr"
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
	doctors.POST("/test-templates", h.CreateTemplate)
	doctors.POST("/test-templates/:id/versions", h.AddVersion)
	doctors.POST("/tests", h.Assign)

	staff := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist))
	staff.GET("/test-templates", h.ListTemplates)
	staff.GET("/test-templates/:id", h.GetTemplate)
	staff.GET("/tests/patient/:patientId", h.ListForPatient)
	staff.GET("/initial-form/results/:patientId", h.PatientResults)

	patients := api.Group("", auth.RequireRole(auth.RolePatient))
	patients.GET("/tests/patient/my-tests", h.ListMine)
	patients.PUT("/tests/:id/submit", h.Submit)
	patients.POST("/initial-form/submit", h.SubmitAssessment)
	patients.GET("/initial-form/results", h.MyResults)

	all := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist, auth.RolePatient))
	all.GET("/tests/:id", h.Get)
	all.GET("/initial-form/form", h.Form)
}

func (h *Handler) CreateTemplate(c echo.Context) error {
	var in CreateTemplateInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	t, err := h.svc.CreateTemplate(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}

type versionRequest struct {
	Questions []Question `json:"questionsJson"`
}

func (h *Handler) AddVersion(c echo.Context) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var body versionRequest
	if err := httpx.Bind(c, &body); err != nil {
		return err
	}
	v, err := h.svc.AddVersion(c.Request().Context(), id, body.Questions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) ListTemplates(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTemplates(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetTemplate(c echo.Context) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	t, err := h.svc.GetTemplate(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Assign(c echo.Context) error {
	var in AssignInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	inst, err := h.svc.Assign(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, inst)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	inst, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inst)
}

type submitRequest struct {
	PatientResponse Responses `json:"patientResponse"`
}

func (h *Handler) Submit(c echo.Context) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var body submitRequest
	if err := httpx.Bind(c, &body); err != nil {
		return err
	}
	inst, err := h.svc.Submit(c.Request().Context(), id, body.PatientResponse)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inst)
}

func statusParam(c echo.Context) (*InstanceStatus, error) {
	v := c.QueryParam("status")
	if v == "" {
		return nil, nil
	}
	st := InstanceStatus(v)
	if st != InstancePending && st != InstanceCompleted {
		return nil, apperr.Validation("status must be %s or %s", InstancePending, InstanceCompleted)
	}
	return &st, nil
}

func (h *Handler) ListMine(c echo.Context) error {
	st, err := statusParam(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListMine(c.Request().Context(), st)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) ListForPatient(c echo.Context) error {
	patientID, err := httpx.ParamUUID(c, "patientId")
	if err != nil {
		return err
	}
	st, err := statusParam(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListForPatient(c.Request().Context(), patientID, st)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) Form(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.InitialForm())
}

type assessmentRequest struct {
	Responses map[string]string `json:"responses"`
}

func (h *Handler) SubmitAssessment(c echo.Context) error {
	var body assessmentRequest
	if err := httpx.Bind(c, &body); err != nil {
		return err
	}
	a, err := h.svc.SubmitAssessment(c.Request().Context(), body.Responses)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) MyResults(c echo.Context) error {
	items, err := h.svc.Results(c.Request().Context(), nil)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) PatientResults(c echo.Context) error {
	patientID, err := httpx.ParamUUID(c, "patientId")
	if err != nil {
		return err
	}
	items, err := h.svc.Results(c.Request().Context(), &patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}
