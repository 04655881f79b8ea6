package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbragio/kbrag/internal/dto"
	"github.com/kbragio/kbrag/internal/middleware"
	"github.com/kbragio/kbrag/internal/service"
)

// DocumentHandler exposes component F's entry point: "POST /documents"
// enqueues a freshly uploaded file for ingestion, "DELETE /documents/:doc_id"
// tears it down again (spec §6).
type DocumentHandler struct {
	svc *service.DocumentService
}

func NewDocumentHandler(svc *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

// Upload implements the multipart upload path, mirroring the teacher's
// file-handler shape: bind the form fields, pull the file header, hand
// both to the service layer.
func (h *DocumentHandler) Upload(c *gin.Context) {
	var req dto.UploadDocumentReq
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	userID := middleware.UserID(c)
	subjectIDs := c.PostFormArray("subject_ids")

	resp, err := h.svc.Upload(c.Request.Context(), req.KbID, userID, req, file, fileHeader, subjectIDs,
		c.GetHeader("X-Request-Id"), c.PostForm("callback_url"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Reprocess implements "POST /documents/:doc_id/reprocess", the explicit
// restart-to-pending edge (spec §4.6).
func (h *DocumentHandler) Reprocess(c *gin.Context) {
	docID := c.Param("doc_id")
	if err := h.svc.Reprocess(c.Request.Context(), docID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"doc_id": docID, "status": "pending"})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	docID := c.Param("doc_id")
	if err := h.svc.Delete(c.Request.Context(), docID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"doc_id": docID, "deleted": true})
}
