package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"testpool/internal/engine"
	"testpool/internal/schema"
)

// ===== schema handlers =====

// POST /api/schemas
func CreateSchemaHandler(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var sch schema.EntitySchema
		if err := c.ShouldBindJSON(&sch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		created, err := e.Schemas().Create(&sch)
		if err != nil {
			writeError(c, err)
			return
		}
		if err := e.EnsureStoreIndexes(c.Request.Context(), created); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	}
}

// GET /api/schemas
func ListSchemasHandler(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, e.Schemas().List())
	}
}

// GET /api/schemas/:name
func GetSchemaHandler(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		sch, err := e.Schemas().Get(c.Param("name"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sch)
	}
}

// PUT /api/schemas/:name
func UpdateSchemaHandler(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var sch schema.EntitySchema
		if err := c.ShouldBindJSON(&sch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		updated, err := e.Schemas().Update(c.Param("name"), &sch)
		if err != nil {
			writeError(c, err)
			return
		}
		if err := e.EnsureStoreIndexes(c.Request.Context(), updated); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

// DELETE /api/schemas/:name
func DeleteSchemaHandler(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := e.Schemas().Delete(c.Param("name")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ===== entity handlers =====

type entityReq struct {
	Fields      map[string]any `json:"fields"`
	Environment string         `json:"environment"`
}

// POST /api/:entity
func CreateEntityHandler(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req entityReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		rec, err := e.Create(c.Request.Context(), c.Param("entity"), req.Fields, req.Environment)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, rec)
	}
}

// GET /api/:entity?field=&value=&environment=
func ListEntitiesHandler(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := e.List(c.Request.Context(), c.Param("entity"),
			c.Query("field"), c.Query("value"), c.Query("environment"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, recs)
	}
}

// GET /api/:entity/:id. Consume-on-read for excludeOnFetch types.
func GetEntityHandler(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := e.GetByID(c.Request.Context(), c.Param("entity"), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// PUT /api/:entity/:id
func UpdateEntityHandler(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req entityReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		rec, err := e.Update(c.Request.Context(), c.Param("entity"), c.Param("id"), req.Fields)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// DELETE /api/:entity/:id
func DeleteEntityHandler(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := e.Delete(c.Request.Context(), c.Param("entity"), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// POST /api/:entity/fetch?environment=
func FetchNextHandler(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := e.FetchNext(c.Request.Context(), c.Param("entity"), c.Query("environment"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// POST /api/:entity/:id/reset
func ResetHandler(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := e.Reset(c.Request.Context(), c.Param("entity"), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// POST /api/:entity/reset?environment=
func ResetAllHandler(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := e.ResetAll(c.Request.Context(), c.Param("entity"), c.Query("environment"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"resetCount": count})
	}
}
