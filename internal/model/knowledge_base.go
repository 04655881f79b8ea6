package model

// KnowledgeBase is the organizational scope ("subject", per spec §3) that
// documents are uploaded into and permission links are granted against.
// A KnowledgeBase with a non-nil OrgID is shared by every member of that
// organization; one with a nil OrgID is private to its creator.
type KnowledgeBase struct {
	BaseModel
	Name        string `gorm:"size:100;not null" json:"name"`
	Description string `json:"description"`

	OrgID     *uint `gorm:"index" json:"org_id"`
	CreatorID uint  `gorm:"index;not null" json:"creator_id"`

	Documents []Document `gorm:"foreignKey:KnowledgeBaseID" json:"documents"`
}

// SubjectID is the string form of the KnowledgeBase identity used as
// permission_doc_link.subject_id and as the Hybrid Retriever's subject
// parameter (§4.7).
func (kb *KnowledgeBase) SubjectID() string {
	return subjectIDFromUint(kb.ID)
}
