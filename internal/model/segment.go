package model

// SegType enumerates segment_info.seg_type.
type SegType string

const (
	SegText         SegType = "text"
	SegTable        SegType = "table"
	SegImage        SegType = "image"
	SegPageSummary  SegType = "page_summary"
)

// Indexable reports whether a segment of this type gets a vector + lexical
// record (spec §3: "one-to-one with a segment that is indexable").
func (t SegType) Indexable() bool {
	switch t {
	case SegText, SegTable, SegPageSummary:
		return true
	default:
		return false
	}
}

// Segment is the segment_info record: one retrieval unit derived from a document.
type Segment struct {
	BaseModel

	SegID string `gorm:"uniqueIndex;size:128;not null" json:"seg_id"`
	DocID string `gorm:"index;not null" json:"doc_id"`

	SegContent   string  `gorm:"type:text" json:"seg_content"`
	SegImagePath string  `json:"seg_image_path"`
	SegCaption   string  `json:"seg_caption"`
	SegFootnote  string  `json:"seg_footnote"`
	SegLen       int     `json:"seg_len"`
	SegType      SegType `gorm:"size:20;index" json:"seg_type"`
	SegPageIdx   int     `gorm:"index" json:"seg_page_idx"`
}
