package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/kbragio/kbrag/internal/model"
)

// PageRepository stores page-level render metadata (spec §3's doc_page_info).
type PageRepository struct {
	db *gorm.DB
}

func NewPageRepository(db *gorm.DB) *PageRepository {
	return &PageRepository{db: db}
}

// UpsertPages replaces a document's page rows, keyed on (doc_id, page_idx),
// used by the merge stage once page images and counts are known.
func (r *PageRepository) UpsertPages(ctx context.Context, docID string, pages []model.Page) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Unscoped: a soft-deleted row would keep (doc_id, page_idx) in the
		// unique index and block re-inserting the same pages.
		if err := tx.Unscoped().Where("doc_id = ?", docID).Delete(&model.Page{}).Error; err != nil {
			return err
		}
		for i := range pages {
			if err := tx.Create(&pages[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PageRepository) ListByDocument(ctx context.Context, docID string) ([]model.Page, error) {
	var pages []model.Page
	err := r.db.WithContext(ctx).Where("doc_id = ?", docID).Order("page_idx").Find(&pages).Error
	return pages, err
}
