package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hrmonitor/hrmonitor/internal/platform/auth"
)

// AuditEntry records one access to patient data: who, what, when, outcome.
type AuditEntry struct {
	UserID     string
	Role       string
	Resource   string
	PatientID  string
	Action     string // read, create, update
	Method     string
	Path       string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// Audit emits a "phi_access" event for every /api/v1 request after the
// handler has run, so the entry carries the final status.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			entry := newAuditEntry(c, err)
			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("role", entry.Role).
				Str("resource", entry.Resource).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

func newAuditEntry(c echo.Context, err error) AuditEntry {
	req := c.Request()
	entry := AuditEntry{
		Resource:   resourceFromPath(req.URL.Path),
		Action:     actionFromMethod(req.Method),
		Method:     req.Method,
		Path:       req.URL.Path,
		IPAddress:  c.RealIP(),
		StatusCode: c.Response().Status,
		Timestamp:  time.Now().UTC(),
	}
	if he, ok := err.(*echo.HTTPError); ok {
		entry.StatusCode = he.Code
	}
	if p, ok := auth.PrincipalFromContext(req.Context()); ok {
		entry.UserID = p.UserID
		entry.Role = string(p.Role)
	}
	if rid, ok := c.Get("request_id").(string); ok {
		entry.RequestID = rid
	}
	entry.PatientID = patientFromPath(req.URL.Path)
	return entry
}

func actionFromMethod(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// resourceFromPath: /api/v1/heart-rate -> heart-rate, /api/v1/patients/x -> patients.
func resourceFromPath(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	first, _, _ := strings.Cut(rest, "/")
	if first == "" {
		return "unknown"
	}
	return first
}

func patientFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/v1/patients/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}
