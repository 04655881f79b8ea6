package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kbragio/kbrag/internal/model"
)

// PermissionRepository is the permission_doc_link slice of the Metadata
// Store Adapter (spec §4.1, §4.7's permission-gated retrieval).
type PermissionRepository struct {
	db *gorm.DB
}

func NewPermissionRepository(db *gorm.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// Grant records that subjectID (or every subject, if subjectID is empty)
// may view docID. Re-granting an existing (type, subject, doc) triple is a
// no-op rather than ErrDuplicate: permission grants are idempotent by design.
func (r *PermissionRepository) Grant(ctx context.Context, permType model.PermissionType, subjectID, docID string) error {
	link := model.PermissionLink{PermissionType: permType, SubjectID: subjectID, DocID: docID}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&link).Error
}

func (r *PermissionRepository) Revoke(ctx context.Context, permType model.PermissionType, subjectID, docID string) error {
	return r.db.WithContext(ctx).
		Where("permission_type = ? AND subject_id = ? AND doc_id = ?", permType, subjectID, docID).
		Delete(&model.PermissionLink{}).Error
}

func (r *PermissionRepository) ListForDocument(ctx context.Context, docID string) ([]model.PermissionLink, error) {
	var links []model.PermissionLink
	err := r.db.WithContext(ctx).Where("doc_id = ?", docID).Find(&links).Error
	return links, err
}

// AuthorizedDocIDs implements the §4.7 authorization filter: every doc_id
// with an unrestricted (empty subject_id) link, unioned with every doc_id
// explicitly granted to subjectID.
func (r *PermissionRepository) AuthorizedDocIDs(ctx context.Context, subjectID string) ([]string, error) {
	var docIDs []string
	err := r.db.WithContext(ctx).
		Model(&model.PermissionLink{}).
		Distinct("doc_id").
		Where("subject_id = ? OR subject_id = ''", subjectID).
		Pluck("doc_id", &docIDs).Error
	return docIDs, err
}

// IsAuthorized reports whether subjectID may view docID without loading the
// whole authorized set, for single-document checks (e.g. direct file download).
func (r *PermissionRepository) IsAuthorized(ctx context.Context, subjectID, docID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.PermissionLink{}).
		Where("doc_id = ? AND (subject_id = ? OR subject_id = '')", docID, subjectID).
		Count(&count).Error
	return count > 0, err
}
