package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"authorization-service/internal/middleware"
	"authorization-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// respondError maps a service error to its HTTP status. Internal errors are
// logged and never echoed to the client.
func respondError(c *gin.Context, logger *logrus.Entry, err error) {
	switch services.ErrorKind(err) {
	case services.KindValidation:
		body := gin.H{"error": err.Error()}
		var ve *services.ValidationError
		if errors.As(err, &ve) {
			body["field"] = ve.Field
		}
		c.JSON(http.StatusBadRequest, body)
	case services.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case services.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case services.KindForbidden:
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An internal error occurred"})
	}
}

// currentActor reads the authenticated user set by middleware.Auth
func currentActor(c *gin.Context) (services.Actor, bool) {
	id, roles, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return services.Actor{}, false
	}
	return services.Actor{ID: id, Roles: roles}, true
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
