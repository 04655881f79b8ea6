package model

// PermissionType distinguishes the kind of grant recorded in
// permission_doc_link; the service only emits "view" today but the column
// is open-ended so future grant kinds don't require a migration.
type PermissionType string

const PermissionView PermissionType = "view"

// PermissionLink is the permission_doc_link record. An empty SubjectID
// means "unrestricted": every subject is authorized for DocID.
type PermissionLink struct {
	BaseModel

	PermissionType PermissionType `gorm:"size:20;uniqueIndex:idx_perm;not null" json:"permission_type"`
	SubjectID      string         `gorm:"size:64;uniqueIndex:idx_perm;index" json:"subject_id"`
	DocID          string         `gorm:"size:64;uniqueIndex:idx_perm;index;not null" json:"doc_id"`
}

// Unrestricted reports whether this link grants access to every subject.
func (p *PermissionLink) Unrestricted() bool {
	return p.SubjectID == ""
}
