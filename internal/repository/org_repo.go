package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kbragio/kbrag/internal/model"
)

// OrganizationRepository is the organization slice of the Metadata Store
// Adapter (spec §4.1).
type OrganizationRepository struct {
	db *gorm.DB
}

func NewOrganizationRepository(db *gorm.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// Create persists org and adds its owner as a member with the "owner" role.
func (r *OrganizationRepository) Create(ctx context.Context, org *model.Organization) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(org).Error; err != nil {
			return err
		}
		member := model.OrganizationMember{
			OrganizationID: org.ID,
			UserID:         org.OwnerID,
			Role:           "owner",
		}
		return tx.Create(&member).Error
	})
}

func (r *OrganizationRepository) GetByID(ctx context.Context, id uint) (*model.Organization, error) {
	var org model.Organization
	if err := r.db.WithContext(ctx).First(&org, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}

// ListForUser returns every organization userID belongs to, as owner or member.
func (r *OrganizationRepository) ListForUser(ctx context.Context, userID uint) ([]model.Organization, error) {
	var orgs []model.Organization
	err := r.db.WithContext(ctx).
		Joins("JOIN organization_members ON organization_members.organization_id = organizations.id").
		Where("organization_members.user_id = ?", userID).
		Find(&orgs).Error
	return orgs, err
}

// IsMember reports whether userID belongs to organization orgID.
func (r *OrganizationRepository) IsMember(ctx context.Context, orgID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.OrganizationMember{}).
		Where("organization_id = ? AND user_id = ?", orgID, userID).
		Count(&count).Error
	return count > 0, err
}
