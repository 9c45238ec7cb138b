package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// OpenAPIPath is where the raw OpenAPI document is served
const OpenAPIPath = "/openapi.json"

// DocsHandler serves a checked-in OpenAPI document and a Swagger UI that
// loads it
type DocsHandler struct {
	spec []byte
}

func NewDocsHandler(spec []byte) *DocsHandler {
	return &DocsHandler{spec: spec}
}

// Register mounts the document and the UI outside API versioning
func (h *DocsHandler) Register(engine *gin.Engine) {
	engine.GET(OpenAPIPath, h.Spec)
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler,
		ginSwagger.URL(OpenAPIPath),
		ginSwagger.DocExpansion("list"),
	))
}

func (h *DocsHandler) Spec(c *gin.Context) {
	c.Data(http.StatusOK, "application/json; charset=utf-8", h.spec)
}
