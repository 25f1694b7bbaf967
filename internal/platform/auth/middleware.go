package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Claims is the token payload issued by the Identity Provider.
type Claims struct {
	jwt.RegisteredClaims
	Roles     []string `json:"roles"`
	PatientID string   `json:"patient_id,omitempty"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey selects HS256 verification; used in development and tests.
	SigningKey []byte
}

func (cfg JWTConfig) keyfunc() (jwt.Keyfunc, []string, error) {
	if len(cfg.SigningKey) > 0 {
		key := cfg.SigningKey
		return func(*jwt.Token) (interface{}, error) { return key, nil }, []string{"HS256"}, nil
	}
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		if cfg.Issuer == "" {
			return nil, nil, fmt.Errorf("jwt: one of SigningKey, JWKSURL or Issuer is required")
		}
		discovered, err := DiscoverJWKSURL(cfg.Issuer)
		if err != nil {
			return nil, nil, err
		}
		jwksURL = discovered
	}
	return NewJWKSCache(jwksURL, defaultJWKSCacheTTL).Keyfunc, []string{"RS256"}, nil
}

// JWTMiddleware authenticates bearer tokens and stores the resulting
// Principal on the request context. Requests without a valid token never
// reach a handler.
func JWTMiddleware(cfg JWTConfig) (echo.MiddlewareFunc, error) {
	keyfunc, methods, err := cfg.keyfunc()
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(strings.TrimSpace(tokenStr), claims, keyfunc)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			p, err := principalFromClaims(claims)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
			c.Set("user_id", p.UserID)
			return next(c)
		}
	}, nil
}

func principalFromClaims(claims *Claims) (Principal, error) {
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("token has no subject")
	}
	p := Principal{UserID: claims.Subject, Role: roleFromClaims(claims.Roles)}
	if claims.PatientID != "" {
		pid, err := uuid.Parse(claims.PatientID)
		if err != nil {
			return Principal{}, fmt.Errorf("invalid patient_id claim")
		}
		p.PatientID = &pid
	}
	return p, nil
}

// DevAuthMiddleware lets unauthenticated requests through as an admin
// principal. Only wired when ENV=development and no AUTH_* is configured.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := WithPrincipal(c.Request().Context(), Principal{UserID: "dev-user", Role: RoleAdmin})
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("user_id", "dev-user")
			return next(c)
		}
	}
}
