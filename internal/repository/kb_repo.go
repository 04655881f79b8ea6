package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kbragio/kbrag/internal/model"
)

// KnowledgeBaseRepository is the knowledge base slice of the Metadata
// Store Adapter (spec §4.1).
type KnowledgeBaseRepository struct {
	db *gorm.DB
}

func NewKnowledgeBaseRepository(db *gorm.DB) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{db: db}
}

func (r *KnowledgeBaseRepository) Create(ctx context.Context, kb *model.KnowledgeBase) error {
	return r.db.WithContext(ctx).Create(kb).Error
}

func (r *KnowledgeBaseRepository) GetByID(ctx context.Context, id uint) (*model.KnowledgeBase, error) {
	var kb model.KnowledgeBase
	if err := r.db.WithContext(ctx).First(&kb, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &kb, nil
}

// ListForUser returns every private knowledge base userID created plus
// every knowledge base belonging to an organization userID is a member of.
func (r *KnowledgeBaseRepository) ListForUser(ctx context.Context, userID uint) ([]model.KnowledgeBase, error) {
	var kbs []model.KnowledgeBase
	err := r.db.WithContext(ctx).
		Where("creator_id = ?", userID).
		Or("org_id IN (SELECT organization_id FROM organization_members WHERE user_id = ?)", userID).
		Find(&kbs).Error
	return kbs, err
}
