package heartrate

import (
	"net/http"
	"time"

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

// RegisterRoutes mounts the reading endpoints. idempotency wraps only the
// submission route.
func (h *Handler) RegisterRoutes(api *echo.Group, idempotency echo.MiddlewareFunc) {
	if idempotency != nil {
		api.POST("/heart-rate", h.SubmitReading, idempotency)
	} else {
		api.POST("/heart-rate", h.SubmitReading)
	}
	api.GET("/heart-rate", h.ListReadings)
	api.GET("/patients/:id/heart-rate-stats", h.GetStats)
}

type submitReadingRequest struct {
	DeviceID   string     `json:"device_id"`
	HeartRate  *int       `json:"heart_rate"`
	RecordedAt *time.Time `json:"recorded_at"`
}

func (h *Handler) SubmitReading(c echo.Context) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	var req submitReadingRequest
	if err := c.Bind(&req); err != nil {
		return apperr.BindError(err)
	}
	if req.HeartRate == nil {
		return apperr.ToHTTP(apperr.Validation("heart_rate", "is required"))
	}
	if req.RecordedAt == nil {
		return apperr.ToHTTP(apperr.Validation("recorded_at", "is required"))
	}

	r, err := h.svc.SubmitReading(c.Request().Context(), caller, NewReading{
		DeviceID:   req.DeviceID,
		HeartRate:  *req.HeartRate,
		RecordedAt: *req.RecordedAt,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) ListReadings(c echo.Context) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	filter := ListFilter{DeviceID: c.QueryParam("device"), Ordering: c.QueryParam("ordering")}

	seq, total, err := h.svc.ListReadings(c.Request().Context(), caller, filter, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	items, err := Collect(seq)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetStats(c echo.Context) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	st, err := h.svc.ComputeStats(c.Request().Context(), caller, id, h.svc.nowFunc())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, st)
}
