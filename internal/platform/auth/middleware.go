package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type identityKey struct{}

type identity struct {
	userID string
	roles  []string
	npi    string
}

// Claims are the bearer-token claims the voice backend relies on. NPI is the
// clinician's National Provider Identifier, used for eligibility requests.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
	NPI   string   `json:"npi,omitempty"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	// JWKSURL defaults to the issuer's /.well-known/jwks.json.
	JWKSURL string
	// SigningKey switches verification to HS256. Tests and local runs only.
	SigningKey []byte
}

const (
	keySetTTL  = 15 * time.Minute
	clockSkew  = 30 * time.Second
	bearerType = "bearer"
)

var (
	errNoCredentials = errors.New("missing bearer token")
	errNoSubject     = errors.New("token has no subject")
)

// JWTMiddleware authenticates every non-public request. Tokens must carry an
// expiry and a subject; roles and NPI are copied onto the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	parser, keyFunc := newVerifier(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if AuthSkipper(c) {
				return next(c)
			}
			raw, err := bearerToken(c.Request())
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			claims := &Claims{}
			if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, errNoSubject.Error())
			}
			ctx := WithIdentity(c.Request().Context(), claims.Subject, claims.Roles, claims.NPI)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func newVerifier(cfg JWTConfig) (*jwt.Parser, jwt.Keyfunc) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired(), jwt.WithLeeway(clockSkew)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	if len(cfg.SigningKey) > 0 {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		return jwt.NewParser(opts...), func(*jwt.Token) (any, error) { return cfg.SigningKey, nil }
	}

	url := cfg.JWKSURL
	if url == "" {
		url = strings.TrimSuffix(cfg.Issuer, "/") + "/.well-known/jwks.json"
	}
	keys := newKeySet(url, keySetTTL)
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	return jwt.NewParser(opts...), func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKey
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return keys.key(ctx, kid)
	}
}

func bearerToken(r *http.Request) (string, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, bearerType) || token == "" {
		return "", errNoCredentials
	}
	return token, nil
}

// DevAuthMiddleware lets unauthenticated requests through as an admin
// "dev-user". Development only.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" {
				ctx := WithIdentity(c.Request().Context(), "dev-user", []string{"admin"}, "1234567893")
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}

// WithIdentity stores the caller's identity on ctx.
func WithIdentity(ctx context.Context, userID string, roles []string, npi string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity{userID: userID, roles: roles, npi: npi})
}

func identityFrom(ctx context.Context) identity {
	id, _ := ctx.Value(identityKey{}).(identity)
	return id
}

func UserIDFromContext(ctx context.Context) string { return identityFrom(ctx).userID }

func RolesFromContext(ctx context.Context) []string { return identityFrom(ctx).roles }

// NPIFromContext returns the caller's NPI, or "" when the token carried none.
func NPIFromContext(ctx context.Context) string { return identityFrom(ctx).npi }
