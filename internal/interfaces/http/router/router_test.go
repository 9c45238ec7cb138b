package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func reply(body string) gin.HandlerFunc {
	return func(c *gin.Context) { c.String(http.StatusOK, body) }
}

func serve(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())
	assert.Equal(t, "v1", r.apiVersion)
	assert.Empty(t, r.registrars)

	r = NewRouter(gin.New(), WithAPIVersion("v2"))
	assert.Equal(t, "v2", r.apiVersion)
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	orders := NewDomainGroup("orders", "/orders").
		POST("", reply("create")).
		GET("/:id", reply("get"))
	admin := NewDomainGroup("admin", "/admin")
	admin.Group("outbox", "/outbox").GET("/stats", reply("stats"))

	NewRouter(engine).Register(orders, admin).Setup()

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodPost, "/api/v1/orders", "create"},
		{http.MethodGet, "/api/v1/orders/42", "get"},
		{http.MethodGet, "/api/v1/admin/outbox/stats", "stats"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := serve(engine, tt.method, tt.path)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, w.Body.String())
		})
	}

	assert.Equal(t, http.StatusNotFound, serve(engine, http.MethodGet, "/orders/42").Code)
}

func TestDomainGroup(t *testing.T) {
	t.Run("name and prefix", func(t *testing.T) {
		g := NewDomainGroup("orders", "/orders")
		assert.Equal(t, "orders", g.Name())
		assert.Equal(t, "/orders", g.Prefix())
	})

	t.Run("middleware reaches subgroups", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("admin", "/admin").Use(func(c *gin.Context) {
			c.Header("X-Admin", "yes")
			c.Next()
		})
		g.Group("orders", "/orders").GET("", reply("list"))
		g.RegisterRoutes(engine.Group("/api/v1"))

		w := serve(engine, http.MethodGet, "/api/v1/admin/orders")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "yes", w.Header().Get("X-Admin"))
	})

	t.Run("method mismatch", func(t *testing.T) {
		engine := gin.New()
		NewDomainGroup("orders", "/orders").POST("", reply("create")).RegisterRoutes(engine.Group("/api/v1"))

		assert.Equal(t, http.StatusNotFound, serve(engine, http.MethodGet, "/api/v1/orders").Code)
	})
}
