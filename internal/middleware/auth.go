package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"cashdesk/internal/apierror"
	"cashdesk/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

const (
	ClaimsKey = "claims"

	RoleOperator   = "operator"
	RoleSupervisor = "supervisor"
)

var errEmptySecret = errors.New("jwt: empty signing secret")

// JWTClaims are the custom claims embedded in every access token. Operator
// and store come only from here, never from request bodies.
type JWTClaims struct {
	OperatorID string `json:"operator_id"`
	StoreID    string `json:"store_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth validates the Bearer token on every protected route.
// An empty secret rejects every request.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			log.Error().Msg("auth: JWT secret not configured, rejecting request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierror.WithCode(apierror.CodeUnauthorized, "Autenticacion no disponible"))
			return
		}
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierror.WithCode(apierror.CodeUnauthorized, "Autenticacion requerida"))
			return
		}

		tokenStr := strings.TrimPrefix(header, "Bearer ")
		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})

		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierror.WithCode(apierror.CodeUnauthorized, "Token invalido o expirado"))
			return
		}
		if claims.OperatorID == "" || claims.StoreID == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, apierror.WithCode(apierror.CodeForbidden, "Token sin operador o tienda"))
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// RequireRole rejects requests whose JWT role is not in the allowed list.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		claims, ok := c.MustGet(ClaimsKey).(*JWTClaims)
		if !ok || !allowed[claims.Role] {
			c.AbortWithStatusJSON(http.StatusForbidden, apierror.WithCode(apierror.CodeForbidden, "Permisos insuficientes"))
			return
		}
		c.Next()
	}
}

// GetClaims is a helper to retrieve typed claims from the Gin context.
func GetClaims(c *gin.Context) *JWTClaims {
	claims, _ := c.MustGet(ClaimsKey).(*JWTClaims)
	return claims
}

// GetIdentity turns the verified claims into the identity passed to services.
func GetIdentity(c *gin.Context) model.Identity {
	claims := GetClaims(c)
	if claims == nil {
		return model.Identity{}
	}
	return model.Identity{OperatorID: claims.OperatorID, StoreID: claims.StoreID, Role: claims.Role}
}

// IssueToken signs an HS256 token for an operator. Used by cashdeskctl and
// tests; credential checks happen upstream.
func IssueToken(secret string, id model.Identity, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errEmptySecret
	}
	now := time.Now()
	claims := JWTClaims{
		OperatorID: id.OperatorID,
		StoreID:    id.StoreID,
		Role:       id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.OperatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
