package patient

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hrmonitor/hrmonitor/internal/platform/apperr"
	"github.com/hrmonitor/hrmonitor/internal/platform/auth"
	"github.com/hrmonitor/hrmonitor/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the patient directory endpoints. Role checks beyond
// authentication live in the service, which resolves the caller's scope.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.POST("/patients", h.CreatePatient, auth.RequireRole(auth.RoleAdmin))
	api.GET("/patients/:id", h.GetPatient)
	api.PATCH("/patients/:id", h.UpdatePatient)
}

type createPatientRequest struct {
	UserID           string `json:"user_id"`
	DateOfBirth      Date   `json:"date_of_birth"`
	Gender           string `json:"gender"`
	Address          string `json:"address"`
	EmergencyContact string `json:"emergency_contact"`
	MedicalHistory   string `json:"medical_history"`
}

func (h *Handler) ListPatients(c echo.Context) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	filter := ListFilter{Gender: c.QueryParam("gender")}
	items, total, err := h.svc.ListPatients(c.Request().Context(), caller, filter, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetPatient(c echo.Context) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), caller, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	var req createPatientRequest
	if err := c.Bind(&req); err != nil {
		return apperr.BindError(err)
	}
	p := &Patient{
		UserID:           req.UserID,
		DateOfBirth:      req.DateOfBirth,
		Gender:           req.Gender,
		Address:          req.Address,
		EmergencyContact: req.EmergencyContact,
		MedicalHistory:   req.MedicalHistory,
	}
	if err := h.svc.CreatePatient(c.Request().Context(), caller, p); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var upd PatientUpdate
	if err := c.Bind(&upd); err != nil {
		return apperr.BindError(err)
	}
	p, err := h.svc.UpdatePatient(c.Request().Context(), caller, id, upd)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}
