package dto

import (
	"time"

	"github.com/kbragio/kbrag/internal/model"
)

type UploadDocumentReq struct {
	KbID        uint   `form:"kb_id" binding:"required"`
	DisplayName string `form:"display_name"`
}

type DocumentResp struct {
	DocID         string              `json:"doc_id"`
	DisplayName   string              `json:"display_name"`
	Extension     string              `json:"extension"`
	ProcessStatus model.ProcessStatus `json:"process_status"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	PageCount     int                 `json:"page_count"`
	ChunkCount    int                 `json:"chunk_count"`
	CreatedAt     time.Time           `json:"created_at"`
}

func NewDocumentResp(d *model.Document) DocumentResp {
	return DocumentResp{
		DocID:         d.DocID,
		DisplayName:   d.DisplayName,
		Extension:     d.Extension,
		ProcessStatus: d.ProcessStatus,
		ErrorMessage:  d.ErrorMessage,
		PageCount:     d.PageCount,
		ChunkCount:    d.ChunkCount,
		CreatedAt:     d.CreatedAt,
	}
}
