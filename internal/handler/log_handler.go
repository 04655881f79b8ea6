package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kbragio/kbrag/internal/middleware"
	"github.com/kbragio/kbrag/internal/repository"
)

// LogHandler exposes the audit trail RunLogRepository accumulates, the
// "GET /logs" inspection endpoint.
type LogHandler struct {
	runs *repository.RunLogRepository
}

func NewLogHandler(runs *repository.RunLogRepository) *LogHandler {
	return &LogHandler{runs: runs}
}

func (h *LogHandler) List(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	logs, err := h.runs.ListForUser(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": logs})
}
