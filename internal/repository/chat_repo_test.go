package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/kbragio/kbrag/internal/model"
)

func TestChatRepository_LoadRecentMessages_BudgetAndOrder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewChatRepository(db)

	if _, err := repo.GetOrCreateSession(ctx, "sess-1", 1, 1); err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}

	turns := []struct {
		msgType  model.MessageType
		content  string
		excluded bool
	}{
		{model.MessageHuman, "ten chars!", false},   // 10 chars
		{model.MessageAI, "also ten c!", false},      // 11 chars
		{model.MessageHuman, "excluded turn content", true},
		{model.MessageAI, "final turn", false}, // 10 chars
	}
	for _, turn := range turns {
		if _, err := repo.AppendMessage(ctx, "sess-1", turn.msgType, turn.content, nil, turn.excluded); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	// Budget of 21 fits only the two most recent non-excluded turns
	// ("final turn" = 10 chars, "also ten c!" = 11 chars = 21), and must
	// come back oldest-first.
	got, err := repo.LoadRecentMessages(ctx, "sess-1", 21)
	if err != nil {
		t.Fatalf("LoadRecentMessages() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LoadRecentMessages() returned %d messages, want 2", len(got))
	}
	if got[0].Content != "also ten c!" || got[1].Content != "final turn" {
		t.Errorf("LoadRecentMessages() order = %q, %q; want oldest-first within budget", got[0].Content, got[1].Content)
	}
	for _, m := range got {
		if m.ExcludedFromHistory {
			t.Errorf("excluded turn leaked into LoadRecentMessages(): %q", m.Content)
		}
		if strings.Contains(m.Content, "excluded") {
			t.Errorf("excluded turn content present: %q", m.Content)
		}
	}
}

func TestChatRepository_AppendMessage_PersistsMetadata(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewChatRepository(db)

	if _, err := repo.GetOrCreateSession(ctx, "sess-2", 1, 1); err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}

	meta := &model.MessageMetadata{
		Sources: []model.Source{{DocID: "d1", DocName: "a.pdf", SegID: "s1", SegPageIdx: 2}},
	}
	msg, err := repo.AppendMessage(ctx, "sess-2", model.MessageAI, "answer", meta, false)
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if meta.SchemaVersion != model.MessageMetadataSchemaVersion {
		t.Errorf("SchemaVersion not stamped: got %d", meta.SchemaVersion)
	}
	if len(msg.Metadata) == 0 {
		t.Error("Metadata not persisted onto the returned message")
	}
}
