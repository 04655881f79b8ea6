package model

import (
	"time"

	"gorm.io/datatypes"
)

// MessageType enumerates chat_messages.message_type.
type MessageType string

const (
	MessageHuman MessageType = "human"
	MessageAI    MessageType = "ai"
)

// ChatSession groups an ordered run of chat_messages under one session_id.
type ChatSession struct {
	BaseModel

	SessionID string `gorm:"uniqueIndex;size:64;not null" json:"session_id"`
	UserID    uint   `gorm:"index" json:"user_id"`
	KbID      uint   `gorm:"index" json:"kb_id"`
}

// ChatMessage is one turn of chat_messages, ordered by CreatedAt then ID.
//
// Metadata carries the tagged, versioned payload described in
// spec.md §9 ("model message metadata as a tagged record with a versioned
// schema"); see MessageMetadata.
type ChatMessage struct {
	ID          uint           `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
	SessionID   string         `gorm:"index;size:64;not null" json:"session_id"`
	MessageType MessageType    `gorm:"size:10" json:"message_type"`
	Content     string         `gorm:"type:text" json:"content"`
	Metadata    datatypes.JSON `json:"metadata"`

	// ExcludedFromHistory marks a low-confidence/error AI turn that should
	// not be fed back into future query-rewrite or generation context
	// (spec §4.8 quality gate).
	ExcludedFromHistory bool `json:"excluded_from_history"`
}

// MessageMetadata is the versioned schema stored in ChatMessage.Metadata.
type MessageMetadata struct {
	SchemaVersion    int      `json:"schema_version"`
	Sources          []Source `json:"sources,omitempty"`
	RewrittenQuery   string   `json:"rewritten_query,omitempty"`
	PromptTokens     int      `json:"prompt_tokens,omitempty"`
	CompletionTokens int      `json:"completion_tokens,omitempty"`
	ElapsedMs        int64    `json:"elapsed_ms,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// Source identifies one retrieved segment attributed in an answer.
type Source struct {
	DocID      string `json:"doc_id"`
	DocName    string `json:"doc_name"`
	SegID      string `json:"seg_id"`
	SegPageIdx int    `json:"seg_page_idx"`
}

const MessageMetadataSchemaVersion = 1
