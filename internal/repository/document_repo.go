package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/kbragio/kbrag/internal/model"
)

// DocumentRepository is the document-facing slice of the Metadata Store
// Adapter (spec §4.1).
type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// CreateDocument implements create_document: it fails with ErrDuplicate if
// an identical doc_id already exists and has completed (splited), fails
// with ErrConflict if it exists and is still in flight (non-terminal,
// non-failure), and otherwise creates or overwrites it (spec §9 open
// question #1: re-upload while in flight is rejected).
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Document
		err := tx.Where("doc_id = ?", doc.DocID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(doc).Error
		case err != nil:
			return err
		}

		if !existing.ProcessStatus.IsTerminal() {
			return ErrConflict
		}
		if existing.ProcessStatus.IsFailure() {
			// Reprocessing an old failure: overwrite derived paths/state in place.
			doc.BaseModel.ID = existing.BaseModel.ID
			doc.ProcessStatus = model.StatusPending
			doc.ErrorMessage = ""
			return tx.Model(&existing).Select("*").Updates(doc).Error
		}
		// existing.ProcessStatus == splited: same doc_id re-upload over a
		// completed document.
		return ErrDuplicate
	})
}

// UpdateStatus implements update_status atomically: it rejects transitions
// that are not edges of the §4.6 state machine without modifying the row.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, docID string, newStatus model.ProcessStatus, errMsg string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc model.Document
		if err := tx.Where("doc_id = ?", docID).First(&doc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if !model.CanTransition(doc.ProcessStatus, newStatus) {
			return ErrIllegalTransition
		}

		return tx.Model(&doc).Updates(map[string]any{
			"process_status":    newStatus,
			"error_message":     errMsg,
			"last_processed_at": time.Now(),
		}).Error
	})
}

// Restart resets a document to pending regardless of its current state,
// clearing error_message (the one explicit backward transition the state
// machine allows, spec §4.6).
func (r *DocumentRepository) Restart(ctx context.Context, docID string) error {
	return r.db.WithContext(ctx).Model(&model.Document{}).
		Where("doc_id = ?", docID).
		Updates(map[string]any{
			"process_status": model.StatusPending,
			"error_message":  "",
		}).Error
}

// UpdateArtifactPaths merges non-empty derived-path fields into the document row.
func (r *DocumentRepository) UpdateArtifactPaths(ctx context.Context, docID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.Document{}).Where("doc_id = ?", docID).Updates(fields).Error
}

func (r *DocumentRepository) GetByDocID(ctx context.Context, docID string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("doc_id = ?", docID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepository) ListByKnowledgeBase(ctx context.Context, kbID uint) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).Where("knowledge_base_id = ?", kbID).Order("created_at desc").Find(&docs).Error
	return docs, err
}

// DeleteCascade soft-deletes (via gorm.DeletedAt) a document and every row
// that references it (segments, pages, permission links) in one
// transaction; ListRecentlyDeleted still sees the document row. Vector/lexical
// records are the caller's responsibility (spec's "derived stores ... fan-out,
// never a graph walk" — deletion from B/C happens in the pipeline/service
// layer before or after this call, not via a DB-level cascade trigger).
func (r *DocumentRepository) DeleteCascade(ctx context.Context, docID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("doc_id = ?", docID).Delete(&model.Segment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("doc_id = ?", docID).Delete(&model.Page{}).Error; err != nil {
			return err
		}
		if err := tx.Where("doc_id = ?", docID).Delete(&model.PermissionLink{}).Error; err != nil {
			return err
		}
		return tx.Where("doc_id = ?", docID).Delete(&model.Document{}).Error
	})
}

// StaleNonTerminal lists documents stuck in a non-terminal state for longer
// than grace, for pipeline recovery on restart (spec §4.6 "Recovery policy").
func (r *DocumentRepository) StaleNonTerminal(ctx context.Context, grace time.Duration) ([]model.Document, error) {
	var docs []model.Document
	cutoff := time.Now().Add(-grace)
	failureStatuses := []model.ProcessStatus{
		model.StatusConvertFailed, model.StatusParseFailed, model.StatusMergeFailed,
		model.StatusChunkFailed, model.StatusSplitFailed, model.StatusSplited,
	}
	err := r.db.WithContext(ctx).
		Where("updated_at < ?", cutoff).
		Where("process_status NOT IN ?", failureStatuses).
		Find(&docs).Error
	return docs, err
}

// ListRecentlyDeleted returns documents soft-deleted since cutoff, so a
// background sweeper can re-issue DeleteByDoc against the vector and
// lexical stores for any doc_id whose derived-store cleanup didn't
// complete synchronously on the request path (spec §9 open question #3).
func (r *DocumentRepository) ListRecentlyDeleted(ctx context.Context, since time.Time) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).
		Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at > ?", since).
		Find(&docs).Error
	return docs, err
}
