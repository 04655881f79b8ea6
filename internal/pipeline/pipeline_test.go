package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kbragio/kbrag/internal/chunker"
	"github.com/kbragio/kbrag/internal/conf"
	"github.com/kbragio/kbrag/internal/lexical"
	"github.com/kbragio/kbrag/internal/model"
	"github.com/kbragio/kbrag/internal/repository"
	"github.com/kbragio/kbrag/internal/vectorstore"
)

// fakeVectors is a VectorIndexer fake that records DeleteByDoc calls so
// tests can assert on the partial-write cleanup obligation (spec §4.6
// stage 5) without a live Qdrant.
type fakeVectors struct {
	upsertErr error
	deleteErr error
	upserted  map[string][]vectorstore.Point
	deleted   []string
}

func (f *fakeVectors) UpsertDocument(ctx context.Context, docID string, points []vectorstore.Point) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if f.upserted == nil {
		f.upserted = make(map[string][]vectorstore.Point)
	}
	f.upserted[docID] = points
	return nil
}

func (f *fakeVectors) DeleteByDoc(ctx context.Context, docID string) error {
	f.deleted = append(f.deleted, docID)
	return f.deleteErr
}

type fakeLexical struct {
	indexErr error
	indexed  map[string][]lexical.Doc
	deleted  []string
}

func (f *fakeLexical) IndexDocument(ctx context.Context, docID string, docs []lexical.Doc) error {
	if f.indexErr != nil {
		return f.indexErr
	}
	if f.indexed == nil {
		f.indexed = make(map[string][]lexical.Doc)
	}
	f.indexed[docID] = docs
	return nil
}

func (f *fakeLexical) DeleteByDoc(ctx context.Context, docID string) error {
	f.deleted = append(f.deleted, docID)
	return nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeStatusSyncer struct {
	synced []model.ProcessStatus
}

func (f *fakeStatusSyncer) Sync(ctx context.Context, docID string, status model.ProcessStatus, requestID string) {
	f.synced = append(f.synced, status)
}

func newTestDB(t *testing.T) *gorm.DB {
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
	if err := db.AutoMigrate(&model.Document{}, &model.Page{}, &model.Segment{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testCfg() conf.PipelineConfig {
	return conf.PipelineConfig{
		ConvertConcurrency:   1,
		ParseConcurrency:     1,
		MergeConcurrency:     1,
		ChunkConcurrency:     1,
		VectorizeConcurrency: 1,
		TextSoftLimitChars:   500,
	}
}

// statusChain is the non-failure happy path of the state machine, in
// order, matching allowedTransitions in internal/model/transitions.go.
var statusChain = []model.ProcessStatus{
	model.StatusPending, model.StatusConverting, model.StatusParsing, model.StatusParsed,
	model.StatusMerging, model.StatusMerged, model.StatusChunking, model.StatusChunked,
	model.StatusVectorizing, model.StatusSplited,
}

// seedDocument creates a document and walks it through the state machine's
// single-hop edges up to the requested status, since UpdateStatus only
// allows adjacent transitions.
func seedDocument(t *testing.T, docs *repository.DocumentRepository, docID string, status model.ProcessStatus) *model.Document {
	t.Helper()
	doc := &model.Document{
		DocID: docID, DisplayName: "test doc", Extension: "txt", SourcePath: "object-key",
		KnowledgeBaseID: 1, OwnerID: 1, ProcessStatus: model.StatusPending,
	}
	if err := docs.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed document: %v", err)
	}

	if status != model.StatusPending {
		for _, next := range statusChain[1:] {
			if err := docs.UpdateStatus(context.Background(), docID, next, ""); err != nil {
				t.Fatalf("advance seeded document to %s: %v", next, err)
			}
			if next == status {
				break
			}
		}
	}
	return doc
}

// TestHandleVectorize_HappyPath exercises the vectorize stage end to end
// against fakes: both the vector and lexical writes succeed, so the
// document should land in StatusSplited with both stores populated.
func TestHandleVectorize_HappyPath(t *testing.T) {
	db := newTestDB(t)
	docs := repository.NewDocumentRepository(db)
	segRepo := repository.NewSegmentRepository(db)

	docID := "doc-happy"
	seedDocument(t, docs, docID, model.StatusVectorizing)

	if err := segRepo.InsertSegmentsBulk(context.Background(), []model.Segment{
		{SegID: "seg-1", DocID: docID, SegContent: "revenue grew", SegType: model.SegText, SegPageIdx: 1},
		{SegID: "seg-2", DocID: docID, SegContent: "image alt text", SegType: model.SegImage, SegPageIdx: 1},
	}); err != nil {
		t.Fatalf("seed segments: %v", err)
	}

	vectors := &fakeVectors{}
	lex := &fakeLexical{}
	p := &Pipeline{
		docs: docs, segments: segRepo,
		vectors: vectors, lex: lex, gateway: &fakeEmbedder{}, statuses: &fakeStatusSyncer{},
		cfg: testCfg(),
	}

	if err := p.handleVectorize(context.Background(), docID); err != nil {
		t.Fatalf("handleVectorize: %v", err)
	}

	got, err := docs.GetByDocID(context.Background(), docID)
	if err != nil {
		t.Fatalf("reload document: %v", err)
	}
	if got.ProcessStatus != model.StatusSplited {
		t.Errorf("status = %s, want %s", got.ProcessStatus, model.StatusSplited)
	}
	if len(vectors.upserted[docID]) != 1 {
		t.Errorf("upserted %d points, want 1 (only SegText is indexable)", len(vectors.upserted[docID]))
	}
	if len(lex.indexed[docID]) != 1 {
		t.Errorf("indexed %d lexical docs, want 1", len(lex.indexed[docID]))
	}
	if len(vectors.deleted) != 0 {
		t.Errorf("DeleteByDoc called %d times on the happy path, want 0", len(vectors.deleted))
	}
}

// TestHandleVectorize_LexicalFailureCleansUpVectorWrite directly exercises
// the fix for the partial-write bug: when the vector upsert succeeds but
// the lexical index call fails, the already-written vector points must be
// deleted before the document transitions to split_failed (spec §4.6
// stage 5: "any partial records MUST be deleted").
func TestHandleVectorize_LexicalFailureCleansUpVectorWrite(t *testing.T) {
	db := newTestDB(t)
	docs := repository.NewDocumentRepository(db)
	segRepo := repository.NewSegmentRepository(db)

	docID := "doc-partial"
	seedDocument(t, docs, docID, model.StatusVectorizing)

	if err := segRepo.InsertSegmentsBulk(context.Background(), []model.Segment{
		{SegID: "seg-1", DocID: docID, SegContent: "revenue grew", SegType: model.SegText, SegPageIdx: 1},
	}); err != nil {
		t.Fatalf("seed segments: %v", err)
	}

	vectors := &fakeVectors{}
	lex := &fakeLexical{indexErr: errors.New("elasticsearch unreachable")}
	p := &Pipeline{
		docs: docs, segments: segRepo,
		vectors: vectors, lex: lex, gateway: &fakeEmbedder{}, statuses: &fakeStatusSyncer{},
		cfg: testCfg(),
	}

	err := p.handleVectorize(context.Background(), docID)
	if err == nil {
		t.Fatal("handleVectorize: want error on lexical index failure, got nil")
	}

	got, getErr := docs.GetByDocID(context.Background(), docID)
	if getErr != nil {
		t.Fatalf("reload document: %v", getErr)
	}
	if got.ProcessStatus != model.StatusSplitFailed {
		t.Errorf("status = %s, want %s", got.ProcessStatus, model.StatusSplitFailed)
	}
	if len(vectors.upserted[docID]) != 1 {
		t.Fatalf("vector upsert should have succeeded before the lexical failure")
	}
	if len(vectors.deleted) != 1 || vectors.deleted[0] != docID {
		t.Errorf("DeleteByDoc calls = %v, want exactly [%s]", vectors.deleted, docID)
	}
}

// TestHandleVectorize_EmbedFailureLeavesNoVectorWrite covers the earlier
// failure branch: if embedding itself fails, nothing was ever upserted so
// there is nothing to clean up.
func TestHandleVectorize_EmbedFailureLeavesNoVectorWrite(t *testing.T) {
	db := newTestDB(t)
	docs := repository.NewDocumentRepository(db)
	segRepo := repository.NewSegmentRepository(db)

	docID := "doc-embed-fail"
	seedDocument(t, docs, docID, model.StatusVectorizing)

	if err := segRepo.InsertSegmentsBulk(context.Background(), []model.Segment{
		{SegID: "seg-1", DocID: docID, SegContent: "revenue grew", SegType: model.SegText, SegPageIdx: 1},
	}); err != nil {
		t.Fatalf("seed segments: %v", err)
	}

	vectors := &fakeVectors{}
	p := &Pipeline{
		docs: docs, segments: segRepo,
		vectors: vectors, lex: &fakeLexical{}, gateway: &fakeEmbedder{err: errors.New("gateway down")}, statuses: &fakeStatusSyncer{},
		cfg: testCfg(),
	}

	if err := p.handleVectorize(context.Background(), docID); err == nil {
		t.Fatal("handleVectorize: want error on embed failure, got nil")
	}
	if len(vectors.upserted) != 0 {
		t.Errorf("nothing should have been upserted, got %v", vectors.upserted)
	}
	if len(vectors.deleted) != 0 {
		t.Errorf("DeleteByDoc should not be called when nothing was written, got %v", vectors.deleted)
	}
}

// TestPipeline_FullStageSequence drives a document through every stage
// handler in order, using a fake ObjectFetcher in place of live MinIO/S3
// and a recording enqueue func in place of live Redis, and asserts the
// document reaches StatusSplited with segments and pages persisted.
func TestPipeline_FullStageSequence(t *testing.T) {
	db := newTestDB(t)
	docs := repository.NewDocumentRepository(db)
	pages := repository.NewPageRepository(db)
	segRepo := repository.NewSegmentRepository(db)

	docID := "doc-sequence"
	seedDocument(t, docs, docID, model.StatusPending)

	const content = "Quarterly Report\n\nRevenue grew significantly across every region this quarter."

	var enqueued []string
	p := &Pipeline{
		docs: docs, pages: pages, segments: segRepo,
		vectors: &fakeVectors{}, lex: &fakeLexical{}, gateway: &fakeEmbedder{}, statuses: &fakeStatusSyncer{},
		fetch: func(ctx context.Context, objectKey string) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
		enqueue: func(ctx context.Context, queue, docID string) error {
			enqueued = append(enqueued, queue)
			return nil
		},
		cfg:          testCfg(),
		pendingPages: make(map[string][]chunker.Page),
	}

	ctx := context.Background()
	if err := p.handleConvert(ctx, docID); err != nil {
		t.Fatalf("handleConvert: %v", err)
	}
	if err := p.handleParse(ctx, docID); err != nil {
		t.Fatalf("handleParse: %v", err)
	}
	if err := p.handleMerge(ctx, docID); err != nil {
		t.Fatalf("handleMerge: %v", err)
	}
	if err := p.handleChunk(ctx, docID); err != nil {
		t.Fatalf("handleChunk: %v", err)
	}
	if err := p.handleVectorize(ctx, docID); err != nil {
		t.Fatalf("handleVectorize: %v", err)
	}

	wantQueues := []string{queueParse, queueMerge, queueChunk, queueVectorize}
	if len(enqueued) != len(wantQueues) {
		t.Fatalf("enqueued %v, want %v", enqueued, wantQueues)
	}
	for i, q := range wantQueues {
		if enqueued[i] != q {
			t.Errorf("enqueued[%d] = %s, want %s", i, enqueued[i], q)
		}
	}

	got, err := docs.GetByDocID(ctx, docID)
	if err != nil {
		t.Fatalf("reload document: %v", err)
	}
	if got.ProcessStatus != model.StatusSplited {
		t.Errorf("status = %s, want %s", got.ProcessStatus, model.StatusSplited)
	}

	segs, err := segRepo.ListByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(segs) == 0 {
		t.Error("expected at least one segment to have been chunked and persisted")
	}

	pageRows, err := pages.ListByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("list pages: %v", err)
	}
	if len(pageRows) == 0 {
		t.Error("expected at least one page to have been persisted by the merge stage")
	}
}
