package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/kbragio/kbrag/internal/model"
)

// SegmentRepository is the segment-facing slice of the Metadata Store
// Adapter (spec §4.1, §4.9).
type SegmentRepository struct {
	db *gorm.DB
}

func NewSegmentRepository(db *gorm.DB) *SegmentRepository {
	return &SegmentRepository{db: db}
}

// InsertSegmentsBulk implements insert_segments_bulk: the whole batch lands
// or none of it does, and a duplicate seg_id anywhere in the batch (or
// against an existing row) fails the entire call with ErrDuplicate, per
// spec §4.9's "idempotent on seg_id" requirement.
func (r *SegmentRepository) InsertSegmentsBulk(ctx context.Context, segments []model.Segment) error {
	if len(segments) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(segments))
	for _, s := range segments {
		if seen[s.SegID] {
			return ErrDuplicate
		}
		seen[s.SegID] = true
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range segments {
			err := tx.Create(&segments[i]).Error
			if err != nil {
				if isUniqueViolation(err) {
					return ErrDuplicate
				}
				return err
			}
		}
		return nil
	})
}

// ReplaceForDocument atomically swaps out every segment belonging to docID,
// used when a document is re-chunked after a restart (spec §4.6 restart edge).
func (r *SegmentRepository) ReplaceForDocument(ctx context.Context, docID string, segments []model.Segment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Unscoped: a soft-deleted row would keep its seg_id in the unique
		// index and block re-inserting the same deterministic seg_ids.
		if err := tx.Unscoped().Where("doc_id = ?", docID).Delete(&model.Segment{}).Error; err != nil {
			return err
		}
		for i := range segments {
			if err := tx.Create(&segments[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SegmentRepository) ListByDocument(ctx context.Context, docID string) ([]model.Segment, error) {
	var segs []model.Segment
	err := r.db.WithContext(ctx).Where("doc_id = ?", docID).Order("seg_page_idx, id").Find(&segs).Error
	return segs, err
}

// GetBySegIDs hydrates candidate segments returned by the vector/lexical
// stores back into full metadata rows (spec §4.7's retrieval hydration step).
func (r *SegmentRepository) GetBySegIDs(ctx context.Context, segIDs []string) ([]model.Segment, error) {
	if len(segIDs) == 0 {
		return nil, nil
	}
	var segs []model.Segment
	err := r.db.WithContext(ctx).Where("seg_id IN ?", segIDs).Find(&segs).Error
	return segs, err
}

func (r *SegmentRepository) CountByDocument(ctx context.Context, docID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Segment{}).Where("doc_id = ?", docID).Count(&count).Error
	return count, err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	for _, hint := range []string{"duplicate key", "UNIQUE constraint", "violates unique"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
