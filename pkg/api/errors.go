package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kubeminder/kubeminder/pkg/store"
)

// renderError maps service errors to HTTP responses. Unknown errors are
// logged and hidden behind a generic message.
func renderError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	slog.Error("Request failed",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func collaboratorDisabled(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "collaborator is not enabled on this instance"})
}

func storeDisabled(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "plan store is not enabled on this instance"})
}
