package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kbragio/kbrag/internal/dto"
	"github.com/kbragio/kbrag/internal/middleware"
	"github.com/kbragio/kbrag/internal/rag"
)

func traceID(c *gin.Context) string {
	v, _ := c.Get(middleware.TraceContextKey)
	id, _ := v.(string)
	return id
}

// ChatHandler exposes component H, the RAG Orchestrator, as the
// "POST /chat/ask" endpoint (§6).
type ChatHandler struct {
	orch *rag.Orchestrator
}

func NewChatHandler(orch *rag.Orchestrator) *ChatHandler {
	return &ChatHandler{orch: orch}
}

// Ask runs one chat turn. The authenticated user's id doubles as the
// permission subject_id the retriever scopes search to (spec §4.7).
func (h *ChatHandler) Ask(c *gin.Context) {
	var req dto.AskReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	result, err := h.orch.Answer(c.Request.Context(), rag.AnswerRequest{
		SessionID: sessionID,
		UserID:    userID,
		KbID:      req.KbID,
		SubjectID: strconv.FormatUint(uint64(userID), 10),
		Query:     req.Query,
		RequestID: c.GetHeader("X-Request-Id"),
		TraceID:   traceID(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, rag.ErrEmptyQuery), errors.Is(err, rag.ErrQueryTooLong):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, rag.ErrGenerationFailed):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, dto.AskResp{
		SessionID: sessionID,
		Answer:    result.Answer,
		Sources:   result.Sources,
	})
}
