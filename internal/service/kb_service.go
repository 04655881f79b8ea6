package service

import (
	"context"
	"errors"

	"github.com/kbragio/kbrag/internal/dto"
	"github.com/kbragio/kbrag/internal/model"
	"github.com/kbragio/kbrag/internal/repository"
)

var ErrNotOrgMember = errors.New("caller is not a member of the target organization")

// KBService covers knowledge base creation and listing, enforcing that a
// shared (org-scoped) knowledge base can only be created by a member of
// that organization.
type KBService struct {
	kbs  *repository.KnowledgeBaseRepository
	orgs *repository.OrganizationRepository
}

func NewKBService(kbs *repository.KnowledgeBaseRepository, orgs *repository.OrganizationRepository) *KBService {
	return &KBService{kbs: kbs, orgs: orgs}
}

func (s *KBService) Create(ctx context.Context, creatorID uint, req dto.CreateKBReq) (*dto.KBResp, error) {
	kb := &model.KnowledgeBase{
		Name:        req.Name,
		Description: req.Description,
		CreatorID:   creatorID,
	}
	if req.OrgID != 0 {
		isMember, err := s.orgs.IsMember(ctx, req.OrgID, creatorID)
		if err != nil {
			return nil, err
		}
		if !isMember {
			return nil, ErrNotOrgMember
		}
		kb.OrgID = &req.OrgID
	}

	if err := s.kbs.Create(ctx, kb); err != nil {
		return nil, err
	}
	return toKBResp(kb), nil
}

func (s *KBService) ListForUser(ctx context.Context, userID uint) ([]dto.KBResp, error) {
	kbs, err := s.kbs.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := make([]dto.KBResp, 0, len(kbs))
	for i := range kbs {
		resp = append(resp, *toKBResp(&kbs[i]))
	}
	return resp, nil
}

func toKBResp(kb *model.KnowledgeBase) *dto.KBResp {
	return &dto.KBResp{
		ID:          kb.ID,
		Name:        kb.Name,
		Description: kb.Description,
		CreatorID:   kb.CreatorID,
		OrgID:       kb.OrgID,
		CreatedAt:   kb.CreatedAt,
	}
}
