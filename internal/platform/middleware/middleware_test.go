package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hrmonitor/hrmonitor/internal/platform/auth"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid := c.Get("request_id").(string)
		if rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	}

	mw := RequestID()
	h := mw(handler)
	err := h(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid := c.Get("request_id").(string)
		if rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	}

	mw := RequestID()
	h := mw(handler)
	h(c)

	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	logger := zerolog.New(os.Stderr).With().Logger()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	mw := Logger(logger)
	h := mw(handler)
	err := h(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecovery_LogsCallerAndPatient(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	pid := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+pid.String()+"/heart-rate-stats", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: "u-7", Role: auth.RolePatient}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/patients/:id/heart-rate-stats")
	c.Set("request_id", "req-panic")

	err := Recovery(logger)(func(c echo.Context) error {
		panic("nil map write")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
	if httpErr.Message != "internal server error" {
		t.Errorf("panic value leaked to caller: %v", httpErr.Message)
	}
	if !errors.Is(httpErr.Internal, errPanic) {
		t.Errorf("internal cause = %v, want panic marker", httpErr.Internal)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	want := map[string]string{
		"message":    "handler panic",
		"error":      "nil map write",
		"request_id": "req-panic",
		"user_id":    "u-7",
		"role":       "patient",
		"patient_id": pid.String(),
		"route":      "/api/v1/patients/:id/heart-rate-stats",
		"resource":   "patients",
		"method":     http.MethodGet,
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}
	if s, _ := entry["stack"].(string); s == "" {
		t.Error("expected a stack trace")
	}
}

func TestRecovery_ErrorPanicKeepsCause(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/heart-rate", nil), httptest.NewRecorder())
	boom := errors.New("device cache corrupted")

	err := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		panic(boom)
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if !errors.Is(httpErr.Internal, boom) {
		t.Errorf("internal cause = %v, want %v", httpErr.Internal, boom)
	}
	if bytes.Contains(buf.Bytes(), []byte(`"user_id"`)) {
		t.Errorf("anonymous request logged a user: %s", buf.String())
	}
}

func TestRecovery_ReraisesAbort(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/heart-rate", nil), httptest.NewRecorder())

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", r)
		}
	}()
	Recovery(zerolog.Nop())(func(c echo.Context) error {
		panic(http.ErrAbortHandler)
	})(c)
	t.Error("expected the abort to propagate")
}

func TestRecovery_PassesThrough(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ok", nil), rec)

	err := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || buf.Len() != 0 {
		t.Errorf("status = %d, log = %q", rec.Code, buf.String())
	}
}

func TestAudit_LogsEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	pid := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+pid.String()+"/heart-rate-stats", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: "u-1", Role: auth.RoleStaff}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-123")

	h := Audit(logger)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode audit line: %v (%q)", err, buf.String())
	}
	if entry["message"] != "phi_access" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["patient_id"] != pid.String() {
		t.Errorf("patient_id = %v, want %s", entry["patient_id"], pid)
	}
	if entry["resource"] != "patients" || entry["action"] != "read" {
		t.Errorf("resource/action = %v/%v", entry["resource"], entry["action"])
	}
	if entry["user_id"] != "u-1" || entry["role"] != "staff" {
		t.Errorf("user/role = %v/%v", entry["user_id"], entry["role"])
	}
}

func TestAudit_RecordsErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/heart-rate", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	h := Audit(zerolog.New(&buf))(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "denied")
	})
	if err := h(c); err == nil {
		t.Fatal("expected handler error to pass through")
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode audit line: %v", err)
	}
	if entry["status"] != float64(http.StatusForbidden) {
		t.Errorf("status = %v, want 403", entry["status"])
	}
	if entry["action"] != "create" || entry["resource"] != "heart-rate" {
		t.Errorf("action/resource = %v/%v", entry["action"], entry["resource"])
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())

	h := Audit(zerolog.New(&buf))(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no audit output, got %q", buf.String())
	}
}

func TestResourceFromPath(t *testing.T) {
	tests := map[string]string{
		"/api/v1/heart-rate":     "heart-rate",
		"/api/v1/patients/abc":   "patients",
		"/api/v1/devices/DEV001": "devices",
		"/api/v1/":               "unknown",
	}
	for path, want := range tests {
		if got := resourceFromPath(path); got != want {
			t.Errorf("resourceFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestPatientFromPath_IgnoresNonUUID(t *testing.T) {
	if got := patientFromPath("/api/v1/patients/not-a-uuid"); got != "" {
		t.Errorf("expected empty patient id, got %q", got)
	}
	if got := patientFromPath("/api/v1/devices/DEV001"); got != "" {
		t.Errorf("expected empty patient id, got %q", got)
	}
}
