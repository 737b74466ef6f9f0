// errors.go maps service errors onto HTTP responses for the admin handlers.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/orgstore/orgstore/internal/middleware"
	"github.com/orgstore/orgstore/internal/services"
)

// statusFor returns the HTTP status for a service error and the sentinel it matched.
func statusFor(err error) (int, error) {
	switch {
	case errors.Is(err, services.ErrConflict):
		return http.StatusBadRequest, services.ErrConflict
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, services.ErrNotFound
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized, services.ErrUnauthorized
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, services.ErrForbidden
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusUnprocessableEntity, services.ErrInvalidInput
	default:
		return http.StatusInternalServerError, nil
	}
}

// respondError writes the error body for err. Unclassified errors are logged
// and answered with fallback so store details never reach the client.
func respondError(c *gin.Context, err error, fallback string) {
	status, sentinel := statusFor(err)
	if sentinel == nil {
		slog.Error(fallback,
			"error", err,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"request_id", middleware.GetRequestID(c),
		)
		c.JSON(status, gin.H{"error": fallback})
		return
	}
	c.JSON(status, gin.H{"error": detail(err, sentinel)})
}

// detail strips the sentinel prefix from a wrapped service error.
func detail(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok && rest != "" {
		return rest
	}
	return msg
}

// respondInvalid answers a request that failed binding.
func respondInvalid(c *gin.Context, err error) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"error": "Invalid request: " + err.Error(),
	})
}
