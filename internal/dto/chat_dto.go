package dto

import "github.com/kbragio/kbrag/internal/model"

type AskReq struct {
	KbID      uint   `json:"kb_id" binding:"required"`
	SessionID string `json:"session_id"`
	Query     string `json:"query" binding:"required"`
}

type AskResp struct {
	SessionID string         `json:"session_id"`
	Answer    string         `json:"answer"`
	Sources   []model.Source `json:"sources,omitempty"`
}
