package device

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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/devices", h.ListDevices)
	api.POST("/devices", h.RegisterDevice, auth.RequireRole(auth.RoleStaff))
	api.GET("/devices/:device_id", h.GetDevice)
	api.PATCH("/devices/:device_id", h.UpdateDevice)
}

type registerDeviceRequest struct {
	DeviceID  string    `json:"device_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Status    string    `json:"status"`
}

func (h *Handler) ListDevices(c echo.Context) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	filter := ListFilter{Status: c.QueryParam("status")}
	if pid := c.QueryParam("patient"); pid != "" {
		id, err := uuid.Parse(pid)
		if err != nil {
			return apperr.ToHTTP(apperr.Validation("patient", "must be a UUID"))
		}
		filter.PatientID = &id
	}
	items, total, err := h.svc.ListDevices(c.Request().Context(), caller, filter, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetDevice(c echo.Context) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDevice(c.Request().Context(), caller, c.Param("device_id"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) RegisterDevice(c echo.Context) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	var req registerDeviceRequest
	if err := c.Bind(&req); err != nil {
		return apperr.BindError(err)
	}
	d := &Device{DeviceID: req.DeviceID, PatientID: req.PatientID, Status: req.Status}
	if err := h.svc.RegisterDevice(c.Request().Context(), caller, d); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) UpdateDevice(c echo.Context) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	var upd DeviceUpdate
	if err := c.Bind(&upd); err != nil {
		return apperr.BindError(err)
	}
	d, err := h.svc.UpdateDevice(c.Request().Context(), caller, c.Param("device_id"), upd)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}
