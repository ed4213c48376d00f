package message

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"courier/internal/logger"
	"courier/pkg/errors"
)

type BaseHandler struct {
	Logger logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

type Handler struct {
	BaseHandler
	Service Service
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{Logger: log},
		Service:     service,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		messages := v1.Group("/messages")
		{
			messages.POST("/outbound", h.EnqueueOutbound)
			messages.GET("/:id", h.GetStatus)
		}
	}
}

// EnqueueOutbound godoc
// @Summary      Enqueue an outbound message
// @Description  Create an outbound message with either a plain body or a template spec; it is picked up by the dispatch worker
// @Tags         messages
// @Accept       json
// @Produce      json
// @Param        message  body      EnqueueRequest  true  "Outbound message"
// @Success      202      {object}  Message
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      503      {object}  errors.ErrorResponse
// @Router       /messages/outbound [post]
func (h *Handler) EnqueueOutbound(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	msg, err := h.Service.Enqueue(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, msg)
}

// GetStatus godoc
// @Summary      Get message status
// @Description  Get a message's delivery status and its ordered attempt history
// @Tags         messages
// @Accept       json
// @Produce      json
// @Param        id   path      string  true  "Message ID"
// @Success      200  {object}  StatusView
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /messages/{id} [get]
func (h *Handler) GetStatus(c *gin.Context) {
	id := c.Param("id")
	view, err := h.Service.GetStatus(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}
