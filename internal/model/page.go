package model

// Page is the doc_page_info record produced during the merge stage and
// destroyed with its parent document.
type Page struct {
	BaseModel

	DocID     string `gorm:"uniqueIndex:idx_doc_page;index" json:"doc_id"`
	PageIdx   int    `gorm:"uniqueIndex:idx_doc_page" json:"page_idx"`
	ImagePath string `json:"image_path"`
}
