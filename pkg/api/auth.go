package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echo "github.com/labstack/echo/v5"

	"github.com/merlinn-co/merlinn/pkg/models"
)

const (
	// HeaderServiceKey authenticates the index builder's callbacks.
	HeaderServiceKey = "X-Merlinn-Service-Key"

	principalKey = "principal"
	tokenIssuer  = "merlinn"
)

// Claims are the principal claims carried by dashboard bearer tokens.
type Claims struct {
	UserID         string `json:"uid"`
	OrganizationID string `json:"oid"`
	Role           string `json:"role"`
	Email          string `json:"email"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256 principal tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService. An empty secret rejects every
// token.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for p.
func (s *TokenService) Issue(p models.Principal) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := Claims{
		UserID:         p.UserID,
		OrganizationID: p.OrganizationID,
		Role:           string(p.Role),
		Email:          p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate parses a token and returns its principal.
func (s *TokenService) Validate(token string) (models.Principal, error) {
	if len(s.secret) == 0 {
		return models.Principal{}, errors.New("jwt secret is not configured")
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return models.Principal{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return models.Principal{}, errors.New("invalid token")
	}
	if claims.UserID == "" || claims.OrganizationID == "" {
		return models.Principal{}, errors.New("token has no user or organization")
	}
	return models.Principal{
		UserID:         claims.UserID,
		OrganizationID: claims.OrganizationID,
		Role:           models.Role(claims.Role),
		Email:          claims.Email,
	}, nil
}

// requirePrincipal authenticates "Authorization: Bearer <jwt>".
func requirePrincipal(tokens *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			raw, ok := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				return c.JSON(http.StatusUnauthorized, &ErrorResponse{Code: CodeUnauthorized, Message: "missing bearer token"})
			}
			p, err := tokens.Validate(raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, &ErrorResponse{Code: CodeUnauthorized, Message: "invalid token"})
			}
			c.Set(principalKey, p)
			return next(c)
		}
	}
}

// principalFrom returns the principal set by requirePrincipal.
func principalFrom(c *echo.Context) models.Principal {
	p, _ := c.Get(principalKey).(models.Principal)
	return p
}

// requireSharedKey compares header against key in constant time. An empty
// key rejects everything.
func requireSharedKey(header string, key func() string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !keyMatches(c.Request().Header.Get(header), key()) {
				return c.JSON(http.StatusForbidden, &ErrorResponse{Code: CodeUnauthorized, Message: "unauthorized"})
			}
			return next(c)
		}
	}
}

func keyMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
