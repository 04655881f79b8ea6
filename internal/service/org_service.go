package service

import (
	"context"

	"github.com/kbragio/kbrag/internal/dto"
	"github.com/kbragio/kbrag/internal/model"
	"github.com/kbragio/kbrag/internal/repository"
)

// OrgService covers organization creation and membership lookup.
type OrgService struct {
	orgs *repository.OrganizationRepository
}

func NewOrgService(orgs *repository.OrganizationRepository) *OrgService {
	return &OrgService{orgs: orgs}
}

func (s *OrgService) Create(ctx context.Context, ownerID uint, req dto.CreateOrgReq) (*dto.OrgResp, error) {
	key := req.Key
	if key == "" {
		key = randomKey(8)
	}

	org := &model.Organization{
		Name:        req.Name,
		Description: req.Description,
		Key:         key,
		OwnerID:     ownerID,
	}
	if err := s.orgs.Create(ctx, org); err != nil {
		return nil, err
	}

	return &dto.OrgResp{
		ID:          org.ID,
		Name:        org.Name,
		Description: org.Description,
		Key:         org.Key,
		OwnerID:     org.OwnerID,
		CreatedAt:   org.CreatedAt,
	}, nil
}

func (s *OrgService) ListForUser(ctx context.Context, userID uint) ([]dto.OrgResp, error) {
	orgs, err := s.orgs.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := make([]dto.OrgResp, 0, len(orgs))
	for _, org := range orgs {
		resp = append(resp, dto.OrgResp{
			ID:          org.ID,
			Name:        org.Name,
			Description: org.Description,
			Key:         org.Key,
			OwnerID:     org.OwnerID,
			CreatedAt:   org.CreatedAt,
		})
	}
	return resp, nil
}
