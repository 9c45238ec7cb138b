package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/orderflow/backend/internal/application/event"
	"github.com/orderflow/backend/internal/interfaces/http/router"
)

// OutboxHandler handles outbox dead-letter management
type OutboxHandler struct {
	BaseHandler
	outboxService *event.OutboxService
}

// NewOutboxHandler creates a new outbox handler
func NewOutboxHandler(outboxService *event.OutboxService) *OutboxHandler {
	return &OutboxHandler{
		outboxService: outboxService,
	}
}

// Routes returns the /admin/outbox route group
func (h *OutboxHandler) Routes() *router.DomainGroup {
	return router.NewDomainGroup("outbox", "/admin/outbox").
		GET("/dead-letters", h.GetDeadLetters).
		POST("/dead-letters/retry-all", h.RetryAll).
		POST("/dead-letters/:id/retry", h.Retry).
		GET("/stats", h.GetStats).
		GET("/:id", h.GetMessage)
}

// RetryAllResponse reports how many dead letters were requeued
type RetryAllResponse struct {
	Count int64 `json:"count"`
}

// GetDeadLetters godoc
// @Summary      List dead letters
// @Tags         outbox
// @Produce      json
// @Param        page query int false "Page number" default(1)
// @Param        pageSize query int false "Items per page" default(20) maximum(100)
// @Success      200 {object} APIResponse[[]event.OutboxMessageDTO]
// @Failure      400 {object} ErrorResponse
// @Router       /admin/outbox/dead-letters [get]
func (h *OutboxHandler) GetDeadLetters(c *gin.Context) {
	var filter event.OutboxFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, "Invalid query parameters")
		return
	}

	result, err := h.outboxService.GetDeadLetters(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, result.Messages, result.Total, result.Page, result.PageSize)
}

// GetMessage godoc
// @Summary      Get an outbox message by ID
// @Tags         outbox
// @Produce      json
// @Param        id path string true "Outbox message ID" format(uuid)
// @Success      200 {object} APIResponse[event.OutboxMessageDTO]
// @Failure      404 {object} ErrorResponse
// @Router       /admin/outbox/{id} [get]
func (h *OutboxHandler) GetMessage(c *gin.Context) {
	id, ok := h.parseID(c, "message")
	if !ok {
		return
	}

	msg, err := h.outboxService.GetMessage(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, msg)
}

// Retry godoc
// @Summary      Requeue a dead letter
// @Description  Moves a dead letter back to pending. Attempts are kept and the attempt ceiling is raised.
// @Tags         outbox
// @Produce      json
// @Param        id path string true "Outbox message ID" format(uuid)
// @Success      200 {object} APIResponse[event.OutboxMessageDTO]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /admin/outbox/dead-letters/{id}/retry [post]
func (h *OutboxHandler) Retry(c *gin.Context) {
	id, ok := h.parseID(c, "message")
	if !ok {
		return
	}

	msg, err := h.outboxService.Requeue(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, msg)
}

// RetryAll godoc
// @Summary      Requeue every dead letter
// @Tags         outbox
// @Produce      json
// @Success      200 {object} APIResponse[RetryAllResponse]
// @Router       /admin/outbox/dead-letters/retry-all [post]
func (h *OutboxHandler) RetryAll(c *gin.Context) {
	count, err := h.outboxService.RequeueAll(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, RetryAllResponse{Count: count})
}

// GetStats godoc
// @Summary      Outbox counts by status
// @Tags         outbox
// @Produce      json
// @Success      200 {object} APIResponse[event.OutboxStatsDTO]
// @Router       /admin/outbox/stats [get]
func (h *OutboxHandler) GetStats(c *gin.Context) {
	stats, err := h.outboxService.GetStats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, stats)
}
