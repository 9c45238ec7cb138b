package handler

import (
	"github.com/gin-gonic/gin"

	orderapp "github.com/orderflow/backend/internal/application/order"
	"github.com/orderflow/backend/internal/interfaces/http/middleware"
	"github.com/orderflow/backend/internal/interfaces/http/router"
)

// OrderHandler serves order intake and the public order detail
type OrderHandler struct {
	BaseHandler
	intake *orderapp.IntakeService
	query  *orderapp.QueryService
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(intake *orderapp.IntakeService, query *orderapp.QueryService) *OrderHandler {
	return &OrderHandler{intake: intake, query: query}
}

// Routes returns the /orders route group
func (h *OrderHandler) Routes() *router.DomainGroup {
	return router.NewDomainGroup("orders", "/orders").
		POST("", h.Create).
		GET("/:id", h.GetByID)
}

// Create godoc
// @Summary      Create an order
// @Description  Accepts an order for asynchronous fulfillment. Replaying an Idempotency-Key returns the original order.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key header string true "Client supplied idempotency key"
// @Success      202 {object} APIResponse[orderapp.OrderResponse]
// @Failure      400 {object} ErrorResponse
// @Router       /orders [post]
func (h *OrderHandler) Create(c *gin.Context) {
	var req orderapp.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	resp, replayed, err := h.intake.Create(c.Request.Context(), c.GetHeader(middleware.HeaderIdempotencyKey), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if replayed {
		c.Header(middleware.HeaderReplayed, "true")
	}
	h.Accepted(c, resp)
}

// GetByID godoc
// @Summary      Get an order
// @Tags         orders
// @Produce      json
// @Param        id path string true "Order ID" format(uuid)
// @Success      200 {object} APIResponse[orderapp.OrderDetailResponse]
// @Failure      404 {object} ErrorResponse
// @Router       /orders/{id} [get]
func (h *OrderHandler) GetByID(c *gin.Context) {
	id, ok := h.parseID(c, "order")
	if !ok {
		return
	}

	resp, err := h.query.GetByID(c.Request.Context(), id)
	if err != nil {
		h.handleOrderError(c, err)
		return
	}

	h.Success(c, resp)
}
