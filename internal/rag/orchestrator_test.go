package rag

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kbragio/kbrag/internal/conf"
	"github.com/kbragio/kbrag/internal/model"
	"github.com/kbragio/kbrag/internal/repository"
	"github.com/kbragio/kbrag/internal/retriever"
)

func newTestDocsRepo(t *testing.T) *repository.DocumentRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("underlying sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.Document{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return repository.NewDocumentRepository(db)
}

func segResult(docID, segID, content string, pageIdx int) retriever.Result {
	return retriever.Result{Segment: model.Segment{
		DocID: docID, SegID: segID, SegContent: content, SegPageIdx: pageIdx,
	}}
}

func TestBuildContext_FirstCandidateOverflowsStillIncludedTruncated(t *testing.T) {
	o := &Orchestrator{docs: newTestDocsRepo(t), cfg: conf.RAGConfig{ContextMaxChars: 5}}

	results := []retriever.Result{segResult("doc-1", "seg-1", "this single segment overflows the budget", 1)}

	text, sources := o.buildContext(context.Background(), results)
	if text != "[, 1]\nthis " {
		t.Errorf("got %q, want the first candidate truncated to the budget, tagged with [doc_name, page_idx]", text)
	}
	if len(sources) != 1 || sources[0].SegID != "seg-1" {
		t.Errorf("got sources %+v, want the overflowing candidate still attributed", sources)
	}
}

func TestBuildContext_TruncatesAtContextMaxChars(t *testing.T) {
	o := &Orchestrator{docs: newTestDocsRepo(t), cfg: conf.RAGConfig{ContextMaxChars: 15}}

	results := []retriever.Result{
		segResult("doc-1", "seg-1", "ten chars!", 1),
		segResult("doc-1", "seg-2", "this one would overflow", 2),
	}

	text, sources := o.buildContext(context.Background(), results)
	if text != "[, 1]\nten chars!" {
		t.Errorf("got %q, want only the first segment to fit the budget, tagged with [doc_name, page_idx]", text)
	}
	if len(sources) != 1 || sources[0].SegID != "seg-1" {
		t.Errorf("got sources %+v, want exactly the first segment attributed", sources)
	}
}

func TestBuildContext_AttributesDocName(t *testing.T) {
	docsRepo := newTestDocsRepo(t)
	if err := docsRepo.CreateDocument(context.Background(), &model.Document{
		DocID: "doc-1", DisplayName: "Employee Handbook", SourcePath: "s3://x",
		ProcessStatus: model.StatusSplited,
	}); err != nil {
		t.Fatalf("seed document: %v", err)
	}

	o := &Orchestrator{docs: docsRepo, cfg: conf.RAGConfig{ContextMaxChars: 1000}}
	results := []retriever.Result{segResult("doc-1", "seg-1", "some content", 1)}

	_, sources := o.buildContext(context.Background(), results)
	if len(sources) != 1 || sources[0].DocName != "Employee Handbook" {
		t.Errorf("got sources %+v, want DocName resolved from the document record", sources)
	}
}

func TestBuildContext_TagsEachChunkWithDocNameAndPageIdx(t *testing.T) {
	docsRepo := newTestDocsRepo(t)
	if err := docsRepo.CreateDocument(context.Background(), &model.Document{
		DocID: "doc-1", DisplayName: "Employee Handbook", SourcePath: "s3://x",
		ProcessStatus: model.StatusSplited,
	}); err != nil {
		t.Fatalf("seed document: %v", err)
	}

	o := &Orchestrator{docs: docsRepo, cfg: conf.RAGConfig{ContextMaxChars: 1000}}
	results := []retriever.Result{segResult("doc-1", "seg-1", "vacation policy details", 3)}

	text, _ := o.buildContext(context.Background(), results)
	want := "[Employee Handbook, 3]\nvacation policy details"
	if text != want {
		t.Errorf("got %q, want %q", text, want)
	}
}

func TestSessionLock_SameSessionIDMapsToSameStripe(t *testing.T) {
	o := &Orchestrator{}
	a := o.sessionLock("session-123")
	b := o.sessionLock("session-123")
	if a != b {
		t.Error("sessionLock returned different stripes for the same session_id")
	}
}
