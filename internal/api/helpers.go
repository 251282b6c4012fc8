package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"testpool/internal/engine"
	"testpool/internal/schema"
)

// writeError maps the engine/registry taxonomy onto transport status codes:
// validation 400, not-found 404, duplicate 409. Conflict bodies carry the
// offending field and value.
func writeError(c *gin.Context, err error) {
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		body := gin.H{"error": verr.Message}
		if len(verr.Issues) > 0 {
			body["issues"] = verr.Issues
		}
		c.JSON(http.StatusBadRequest, body)
		return
	}
	var nferr *engine.NotFoundError
	if errors.As(err, &nferr) {
		c.JSON(http.StatusNotFound, gin.H{"error": nferr.Message})
		return
	}
	var dup *engine.DuplicateEntityError
	if errors.As(err, &dup) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "DUPLICATE_ENTITY",
			"field": dup.Field,
			"value": dup.Value,
		})
		return
	}
	switch {
	case errors.Is(err, schema.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, schema.ErrExists), errors.Is(err, schema.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
