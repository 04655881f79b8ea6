package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health implements the out-of-core GET /health readiness contract (§6).
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
