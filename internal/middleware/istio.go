package middleware

import (
	"encoding/json"
	"strings"

	"authorization-service/internal/models"
	gosharedmw "github.com/Tesseract-Nexus/go-shared/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IstioSkipPaths are served without mesh identity
var IstioSkipPaths = []string{"/health", "/ready", "/metrics", "/swagger"}

// IstioAuth validates the x-jwt-claim-* headers injected by Istio and then
// maps the actor into the same context keys Auth sets
func IstioAuth() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		gosharedmw.IstioAuth(gosharedmw.IstioAuthConfig{
			RequireAuth:        true,
			AllowLegacyHeaders: false,
			SkipPaths:          IstioSkipPaths,
		}),
		IstioIdentity(),
	}
}

// IstioIdentity stores the mesh actor as the authenticated user. Roles come
// from the roles claim set by IstioAuth, falling back to x-jwt-claim-roles.
func IstioIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := gosharedmw.GetActorInfo(c)
		userID, err := uuid.Parse(actor.ActorID)
		if err != nil {
			abortUnauthorized(c, "INVALID_CLAIMS", "Actor id must be a UUID")
			return
		}

		c.Set(ContextUserID, userID)
		c.Set(ContextUserRoles, models.ParseRoles(meshRoles(c)))
		c.Next()
	}
}

func meshRoles(c *gin.Context) []string {
	if roles := c.GetStringSlice("roles"); len(roles) > 0 {
		return roles
	}
	header := c.GetHeader("x-jwt-claim-roles")
	if header == "" {
		return nil
	}
	// JSON array or comma-separated
	if strings.HasPrefix(header, "[") {
		var roles []string
		if err := json.Unmarshal([]byte(header), &roles); err == nil {
			return roles
		}
		return nil
	}
	roles := strings.Split(header, ",")
	for i := range roles {
		roles[i] = strings.TrimSpace(roles[i])
	}
	return roles
}
