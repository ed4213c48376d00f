package ingest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"courier/internal/logger"
	"courier/internal/message"
	"courier/pkg/errors"
)

type Handler struct {
	message.BaseHandler
	Service Service
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: message.BaseHandler{Logger: log},
		Service:     service,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/messages/inbound", h.IngestInbound)
	}
}

// IngestInbound godoc
// @Summary      Ingest a canonical inbound message
// @Description  Persist a normalized inbound message exactly once per (source, source_message_id); replays return the existing id with idempotent=true
// @Tags         messages
// @Accept       json
// @Produce      json
// @Param        message  body      message.CanonicalMessage  true  "Canonical inbound message"
// @Success      200      {object}  Result
// @Success      201      {object}  Result
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      503      {object}  errors.ErrorResponse
// @Router       /messages/inbound [post]
func (h *Handler) IngestInbound(c *gin.Context) {
	var cm message.CanonicalMessage
	if err := c.ShouldBindJSON(&cm); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	result, err := h.Service.Ingest(c.Request.Context(), cm)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if result.Idempotent {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(http.StatusCreated, result)
}
