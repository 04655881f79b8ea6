package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/kbragio/kbrag/internal/model"
)

// RunLogRepository persists one audit record per RAG Orchestrator turn,
// the query/answer/token/duration trail an operator inspects after the
// fact (spec §9's observability carve-out: the orchestrator itself stays
// silent about metrics, but the ambient stack still records them).
type RunLogRepository struct {
	db *gorm.DB
}

func NewRunLogRepository(db *gorm.DB) *RunLogRepository {
	return &RunLogRepository{db: db}
}

func (r *RunLogRepository) Create(ctx context.Context, log *model.RunLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// ListForUser returns a user's most recent turns, newest first, for the
// "GET /logs" inspection endpoint.
func (r *RunLogRepository) ListForUser(ctx context.Context, userID uint, limit int) ([]model.RunLog, error) {
	var logs []model.RunLog
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
