package breaker

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"courier/internal/logger"
	"courier/internal/message"
)

type Handler struct {
	message.BaseHandler
	Service *Service
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: message.BaseHandler{Logger: log},
		Service:     service,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.GET("/breaker", h.GetBreaker)
	}
}

// GetBreaker godoc
// @Summary      Get circuit breaker status
// @Description  Get the persisted circuit breaker row guarding the chat gateway
// @Tags         breaker
// @Accept       json
// @Produce      json
// @Success      200  {object}  BreakerState
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /breaker [get]
func (h *Handler) GetBreaker(c *gin.Context) {
	snapshot, err := h.Service.Snapshot(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
