package model

import "time"

// ProcessStatus is a node of the ingestion pipeline state machine (spec §4.6).
type ProcessStatus string

const (
	StatusPending       ProcessStatus = "pending"
	StatusConverting    ProcessStatus = "converting"
	StatusParsing       ProcessStatus = "parsing"
	StatusParsed        ProcessStatus = "parsed"
	StatusMerging       ProcessStatus = "merging"
	StatusMerged        ProcessStatus = "merged"
	StatusChunking      ProcessStatus = "chunking"
	StatusChunked       ProcessStatus = "chunked"
	StatusVectorizing   ProcessStatus = "vectorizing"
	StatusSplited       ProcessStatus = "splited"
	StatusConvertFailed ProcessStatus = "convert_failed"
	StatusParseFailed   ProcessStatus = "parse_failed"
	StatusMergeFailed   ProcessStatus = "merge_failed"
	StatusChunkFailed   ProcessStatus = "chunk_failed"
	StatusSplitFailed   ProcessStatus = "split_failed"
)

// IsTerminal reports whether no further automatic transition leaves this status.
func (s ProcessStatus) IsTerminal() bool {
	switch s {
	case StatusSplited, StatusConvertFailed, StatusParseFailed, StatusMergeFailed, StatusChunkFailed, StatusSplitFailed:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the status is one of the *_failed terminal states.
func (s ProcessStatus) IsFailure() bool {
	switch s {
	case StatusConvertFailed, StatusParseFailed, StatusMergeFailed, StatusChunkFailed, StatusSplitFailed:
		return true
	default:
		return false
	}
}

// Document is the doc_info record: the source of truth for one uploaded
// document's identity, derived artifact paths, and pipeline status.
type Document struct {
	BaseModel

	// DocID is the opaque, globally unique identity used by every other
	// component (segments, vector/lexical records, callbacks). It is
	// distinct from the numeric BaseModel.ID to let callers mint it
	// (e.g. from an upload request id) ahead of the row existing.
	DocID string `gorm:"uniqueIndex;size:64;not null" json:"doc_id"`

	DisplayName string `json:"display_name"`
	Extension   string `gorm:"size:20" json:"extension"`
	SourcePath  string `gorm:"not null" json:"source_path"` // original path/URL or minio object key
	OutputDir   string `json:"output_dir"`

	// Derived artifact paths, populated as pipeline stages complete.
	PDFPath    string `json:"pdf_path"`
	JSONPath   string `json:"json_path"`
	SpansPath  string `json:"spans_path"`
	LayoutPath string `json:"layout_path"`
	ImagesDir  string `json:"images_dir"`
	MergedPath string `json:"merged_path"`

	KnowledgeBaseID uint `gorm:"index;not null" json:"knowledge_base_id"`
	OwnerID         uint `gorm:"index;not null" json:"owner_id"`

	ProcessStatus ProcessStatus `gorm:"size:20;default:'pending';index" json:"process_status"`
	ErrorMessage  string        `json:"error_message"`

	PageCount  int `json:"page_count"`
	ChunkCount int `json:"chunk_count"`

	// RequestID correlates this document with the upload request that
	// created it, for status-callback tracing (spec §4.5).
	RequestID   string `gorm:"index" json:"request_id"`
	CallbackURL string `json:"callback_url"`

	LastProcessedAt time.Time `json:"last_processed_at"`
}
