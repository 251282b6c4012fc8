package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"testpool/internal/engine"
	"testpool/internal/metric"
)

// NewRouter wires all routes. Static segments ("schemas", "fetch", "reset")
// are registered alongside the :entity/:id wildcards; gin resolves static
// children first.
func NewRouter(e *engine.Engine, m *metric.Metrics) *gin.Engine {
	r := gin.Default()

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/schemas", CreateSchemaHandler(e))
		apiGroup.GET("/schemas", ListSchemasHandler(e))
		apiGroup.GET("/schemas/:name", GetSchemaHandler(e))
		apiGroup.PUT("/schemas/:name", UpdateSchemaHandler(e))
		apiGroup.DELETE("/schemas/:name", DeleteSchemaHandler(e))

		apiGroup.POST("/:entity/fetch", FetchNextHandler(e))
		apiGroup.POST("/:entity/reset", ResetAllHandler(e))
		apiGroup.POST("/:entity/:id/reset", ResetHandler(e))

		apiGroup.POST("/:entity", CreateEntityHandler(e))
		apiGroup.GET("/:entity", ListEntitiesHandler(e))
		apiGroup.GET("/:entity/:id", GetEntityHandler(e))
		apiGroup.PUT("/:entity/:id", UpdateEntityHandler(e))
		apiGroup.DELETE("/:entity/:id", DeleteEntityHandler(e))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}
	return r
}

// RunServer blocks serving on addr.
func RunServer(addr string, e *engine.Engine, m *metric.Metrics) error {
	return NewRouter(e, m).Run(addr)
}
