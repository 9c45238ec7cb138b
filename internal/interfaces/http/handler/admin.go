package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	orderapp "github.com/orderflow/backend/internal/application/order"
	"github.com/orderflow/backend/internal/interfaces/http/dto"
	"github.com/orderflow/backend/internal/interfaces/http/middleware"
	"github.com/orderflow/backend/internal/interfaces/http/router"
)

// AdminHandler serves the operator order endpoints
type AdminHandler struct {
	BaseHandler
	admin *orderapp.AdminService
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(admin *orderapp.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// Routes returns the /admin route group
func (h *AdminHandler) Routes() *router.DomainGroup {
	g := router.NewDomainGroup("admin", "/admin")
	g.GET("/health", h.Health)
	g.Group("orders", "/orders").
		GET("", h.List).
		GET("/:id", h.GetDetail).
		GET("/:id/events", h.ListEvents).
		POST("/:id/cancel", h.Cancel)
	return g
}

// List godoc
// @Summary      List orders
// @Tags         admin
// @Produce      json
// @Param        status query string false "Order status"
// @Param        fromDate query string false "RFC 3339 lower bound on createdAt"
// @Param        toDate query string false "RFC 3339 upper bound on createdAt"
// @Param        page query int false "Page number" default(1)
// @Param        pageSize query int false "Items per page" default(50) maximum(200)
// @Param        orderBy query string false "Sort column" Enums(created_at, updated_at, total, status, customer_id)
// @Param        orderDir query string false "Sort direction" Enums(asc, desc)
// @Success      200 {object} APIResponse[orderapp.ListOrdersResponse]
// @Router       /admin/orders [get]
func (h *AdminHandler) List(c *gin.Context) {
	var q orderapp.ListOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BadRequest(c, "Invalid query parameters")
		return
	}

	resp, err := h.admin.List(c.Request.Context(), q)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, resp)
}

// GetDetail godoc
// @Summary      Get full order detail
// @Tags         admin
// @Produce      json
// @Param        id path string true "Order ID" format(uuid)
// @Success      200 {object} APIResponse[orderapp.AdminOrderDetailResponse]
// @Failure      404 {object} ErrorResponse
// @Router       /admin/orders/{id} [get]
func (h *AdminHandler) GetDetail(c *gin.Context) {
	id, ok := h.parseID(c, "order")
	if !ok {
		return
	}

	resp, err := h.admin.GetDetail(c.Request.Context(), id)
	if err != nil {
		h.handleOrderError(c, err)
		return
	}

	h.Success(c, resp)
}

// ListEvents godoc
// @Summary      List order events, newest first
// @Tags         admin
// @Produce      json
// @Param        id path string true "Order ID" format(uuid)
// @Success      200 {object} APIResponse[[]orderapp.OrderEventResponse]
// @Failure      404 {object} ErrorResponse
// @Router       /admin/orders/{id}/events [get]
func (h *AdminHandler) ListEvents(c *gin.Context) {
	id, ok := h.parseID(c, "order")
	if !ok {
		return
	}

	events, err := h.admin.ListEvents(c.Request.Context(), id)
	if err != nil {
		h.handleOrderError(c, err)
		return
	}

	h.Success(c, events)
}

// Cancel godoc
// @Summary      Cancel an order
// @Description  Cancels an order that is not yet Confirmed and releases its held inventory.
// @Tags         admin
// @Accept       json
// @Produce      json
// @Param        id path string true "Order ID" format(uuid)
// @Param        request body orderapp.CancelOrderRequest false "Cancellation reason"
// @Success      200 {object} APIResponse[orderapp.CancelOrderResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Router       /admin/orders/{id}/cancel [post]
func (h *AdminHandler) Cancel(c *gin.Context) {
	id, ok := h.parseID(c, "order")
	if !ok {
		return
	}

	// the body is optional
	var req orderapp.CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.HandleValidationError(c, err)
		return
	}

	resp, err := h.admin.Cancel(c.Request.Context(), id, req.Reason)
	if err != nil {
		h.handleOrderError(c, err)
		return
	}

	h.Success(c, resp)
}

// Health godoc
// @Summary      Service health and statistics
// @Tags         admin
// @Produce      json
// @Success      200 {object} APIResponse[orderapp.HealthResponse]
// @Failure      503 {object} APIResponse[orderapp.HealthResponse]
// @Router       /admin/health [get]
func (h *AdminHandler) Health(c *gin.Context) {
	health := h.admin.Health(c.Request.Context())
	if !health.IsHealthy() {
		c.JSON(http.StatusServiceUnavailable, dto.Response{Success: false, Data: health})
		return
	}
	h.Success(c, health)
}
