package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"authorization-service/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Context keys set by Auth
const (
	ContextUserID    = "user_id"
	ContextUserRoles = "user_roles"
)

// Claims represents the JWT claims
type Claims struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// AuthConfig configures Auth
type AuthConfig struct {
	JWTSecret string
	// TrustHeaders accepts X-User-ID and X-User-Roles set by the gateway
	// when no bearer token is present
	TrustHeaders bool
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
	c.Abort()
}

// Auth authenticates the caller and stores its id and roles in the context
func Auth(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			if cfg.TrustHeaders {
				fromHeaders(c)
				return
			}
			abortUnauthorized(c, "MISSING_TOKEN", "Authorization header is required")
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			abortUnauthorized(c, "INVALID_TOKEN_FORMAT", "Authorization header must be in format: Bearer <token>")
			return
		}
		if cfg.JWTSecret == "" {
			abortUnauthorized(c, "INVALID_TOKEN", "Token authentication is not configured")
			return
		}

		token, err := jwt.ParseWithClaims(tokenParts[1], &Claims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			abortUnauthorized(c, "INVALID_TOKEN", "Invalid or expired token")
			return
		}

		claims, ok := token.Claims.(*Claims)
		if !ok || !token.Valid {
			abortUnauthorized(c, "INVALID_CLAIMS", "Invalid token claims")
			return
		}
		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			abortUnauthorized(c, "INVALID_CLAIMS", "Token user_id must be a UUID")
			return
		}

		c.Set(ContextUserID, userID)
		c.Set(ContextUserRoles, models.ParseRoles(claims.Roles))
		c.Next()
	}
}

func fromHeaders(c *gin.Context) {
	userID, err := uuid.Parse(c.GetHeader("X-User-ID"))
	if err != nil {
		abortUnauthorized(c, "MISSING_USER", "X-User-ID header must be a UUID")
		return
	}
	var raw []string
	if header := c.GetHeader("X-User-Roles"); header != "" {
		raw = strings.Split(header, ",")
	}

	c.Set(ContextUserID, userID)
	c.Set(ContextUserRoles, models.ParseRoles(raw))
	c.Next()
}

// CurrentUser returns the authenticated user's id and roles
func CurrentUser(c *gin.Context) (uuid.UUID, []models.Role, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, nil, false
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return uuid.Nil, nil, false
	}
	var roles []models.Role
	if r, ok := c.Get(ContextUserRoles); ok {
		roles, _ = r.([]models.Role)
	}
	return id, roles, true
}

// RequireCapability aborts with 403 unless one of the caller's roles grants cap
func RequireCapability(capability models.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, roles, ok := CurrentUser(c)
		if !ok || !models.HasCapability(roles, capability) {
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INSUFFICIENT_PERMISSIONS",
					"message": "Your role does not allow this operation",
				},
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
