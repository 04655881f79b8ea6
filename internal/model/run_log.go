package model

import (
	"time"

	"gorm.io/datatypes"
)

// RunLog is an audit/metrics record of one RAG Orchestrator.answer call,
// adapted from the teacher's AppRunLog.
type RunLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	OrgID     uint   `gorm:"index" json:"org_id"`
	UserID    uint   `gorm:"index;not null" json:"user_id"`
	SessionID string `gorm:"index" json:"session_id"`
	TraceID   string `gorm:"index" json:"trace_id"`

	Query  string `gorm:"type:text" json:"query"`
	Answer string `gorm:"type:text" json:"answer"`

	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	DurationMs       int64 `json:"duration_ms"`

	Status   string         `gorm:"size:20" json:"status"` // success, refused, error
	MetaInfo datatypes.JSON `json:"meta_info"`
}
