package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// IssueToken signs an HS256 token for a principal with cfg.SigningKey,
// stamping cfg.Issuer and cfg.Audience when set. It exists for local setups
// and tests; production tokens come from the Identity Provider.
func IssueToken(cfg JWTConfig, p Principal, ttl time.Duration) (string, error) {
	if len(cfg.SigningKey) == 0 {
		return "", fmt.Errorf("signing key is required")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	if p.Role != RoleNone {
		claims.Roles = []string{string(p.Role)}
	}
	if p.PatientID != nil {
		claims.PatientID = p.PatientID.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.SigningKey)
}

// CallerFromContext returns the request's principal, or a 401 error when the
// auth middleware did not run.
func CallerFromContext(c echo.Context) (Principal, error) {
	p, ok := PrincipalFromContext(c.Request().Context())
	if !ok {
		return Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	return p, nil
}
