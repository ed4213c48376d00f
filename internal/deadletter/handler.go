package deadletter

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"courier/internal/constants"
	"courier/internal/logger"
	"courier/internal/message"
)

type Handler struct {
	message.BaseHandler
	Archive ArchiveRepository
}

func NewHandler(archive ArchiveRepository, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: message.BaseHandler{Logger: log},
		Archive:     archive,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.GET("/deadletters", h.ListDeadLetters)
	}
}

// ListDeadLetters godoc
// @Summary      List dead-lettered messages
// @Description  List archived snapshots of messages that exhausted all retries, most recent first
// @Tags         deadletters
// @Accept       json
// @Produce      json
// @Param        limit  query     int  false  "Maximum number of records to return (1-1000)" default(100)
// @Success      200    {array}   Record
// @Failure      500    {object}  errors.ErrorResponse
// @Router       /deadletters [get]
func (h *Handler) ListDeadLetters(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))

	records, err := h.Archive.List(c.Request.Context(), limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if records == nil {
		records = []Record{}
	}

	c.JSON(http.StatusOK, records)
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultListLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxListLimit {
		return constants.DefaultListLimit
	}
	return parsed
}
