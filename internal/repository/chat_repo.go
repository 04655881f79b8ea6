package repository

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/kbragio/kbrag/internal/model"
)

// ChatRepository is the session/message slice of the Metadata Store Adapter
// (spec §4.1, §4.8's conversation history budget).
type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// GetOrCreateSession fetches sessionID's row, creating it under userID/kbID
// if it doesn't exist yet.
func (r *ChatRepository) GetOrCreateSession(ctx context.Context, sessionID string, userID, kbID uint) (*model.ChatSession, error) {
	var sess model.ChatSession
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&sess).Error
	if err == nil {
		return &sess, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	sess = model.ChatSession{SessionID: sessionID, UserID: userID, KbID: kbID}
	if err := r.db.WithContext(ctx).Create(&sess).Error; err != nil {
		return nil, err
	}
	return &sess, nil
}

// AppendMessage implements append_message, persisting content plus its
// tagged metadata record (spec §9, versioned message metadata schema).
func (r *ChatRepository) AppendMessage(ctx context.Context, sessionID string, msgType model.MessageType, content string, meta *model.MessageMetadata, excluded bool) (*model.ChatMessage, error) {
	var raw []byte
	if meta != nil {
		meta.SchemaVersion = model.MessageMetadataSchemaVersion
		b, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	msg := model.ChatMessage{
		SessionID:           sessionID,
		MessageType:         msgType,
		Content:             content,
		Metadata:            raw,
		ExcludedFromHistory: excluded,
	}
	if err := r.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// LoadRecentMessages implements load_recent_messages: it walks messages for
// sessionID newest-first, skipping ExcludedFromHistory turns, accumulating
// len(Content) until adding the next message would exceed maxChars, then
// returns what it collected in chronological order. Ties in CreatedAt break
// on id descending so the walk order is deterministic (spec §4.8).
func (r *ChatRepository) LoadRecentMessages(ctx context.Context, sessionID string, maxChars int) ([]model.ChatMessage, error) {
	var candidates []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND excluded_from_history = ?", sessionID, false).
		Order("created_at desc, id desc").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	var budget int
	var picked []model.ChatMessage
	for _, m := range candidates {
		if budget+len(m.Content) > maxChars {
			break
		}
		budget += len(m.Content)
		picked = append(picked, m)
	}

	// picked is newest-first; reverse it into chronological order for the
	// RAG orchestrator's prompt assembly.
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked, nil
}
