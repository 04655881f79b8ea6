package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbragio/kbrag/internal/dto"
	"github.com/kbragio/kbrag/internal/middleware"
	"github.com/kbragio/kbrag/internal/service"
)

type KBHandler struct {
	svc *service.KBService
}

func NewKBHandler(svc *service.KBService) *KBHandler {
	return &KBHandler{svc: svc}
}

func (h *KBHandler) Create(c *gin.Context) {
	var req dto.CreateKBReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.svc.Create(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *KBHandler) List(c *gin.Context) {
	resp, err := h.svc.ListForUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}
