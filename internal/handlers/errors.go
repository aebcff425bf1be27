package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nurture-app/nurture-backend/internal/errordata"
	"github.com/nurture-app/nurture-backend/internal/requestdata"
	"github.com/nurture-app/nurture-backend/internal/services"
)

// respondError maps service errors to a status and writes the message the
// service recorded, or fallback when it recorded none.
func respondError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": errordata.Message(c.Request.Context(), fallback)})
}

// currentUser aborts with 401 when the request is unauthenticated.
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID := requestdata.UserID(c.Request.Context())
	if userID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return uuid.Nil, false
	}
	return userID, true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
