// Package pipeline implements component F, the ingestion pipeline
// scheduler: convert -> parse -> merge -> chunk -> vectorize+index, each
// stage a bounded worker pool drained from its own Redis queue (the same
// BLPOP-driven worker-pool shape the teacher uses for its single ETL
// queue), with per-document status persisted through every transition.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kbragio/kbrag/internal/chunker"
	"github.com/kbragio/kbrag/internal/conf"
	"github.com/kbragio/kbrag/internal/lexical"
	"github.com/kbragio/kbrag/internal/model"
	"github.com/kbragio/kbrag/internal/repository"
	"github.com/kbragio/kbrag/internal/vectorstore"
)

const (
	queueConvert   = "pipeline:convert"
	queueParse     = "pipeline:parse"
	queueMerge     = "pipeline:merge"
	queueChunk     = "pipeline:chunk"
	queueVectorize = "pipeline:vectorize"
)

// ObjectFetcher opens the original uploaded object for reading, by its
// stored object key (doc_info.source_path).
type ObjectFetcher func(ctx context.Context, objectKey string) (io.ReadCloser, error)

// enqueueFunc pushes docID onto a stage queue, the same function-field
// seam ObjectFetcher uses so a test can swap a queue without standing up
// a live Redis.
type enqueueFunc func(ctx context.Context, queue, docID string) error

// VectorIndexer is the slice of vectorstore.Store the pipeline drives,
// narrowed so a test can exercise the vectorize stage's partial-write
// cleanup without a live Qdrant, the same way retriever.PermissionChecker
// narrows the permission repository.
type VectorIndexer interface {
	UpsertDocument(ctx context.Context, docID string, points []vectorstore.Point) error
	DeleteByDoc(ctx context.Context, docID string) error
}

// LexicalIndexer is the slice of lexical.Store the pipeline drives.
type LexicalIndexer interface {
	IndexDocument(ctx context.Context, docID string, docs []lexical.Doc) error
	DeleteByDoc(ctx context.Context, docID string) error
}

// Embedder is the slice of modelgateway.Gateway the vectorize stage calls.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// StatusSyncer is the slice of statussync.Client every transition calls.
type StatusSyncer interface {
	Sync(ctx context.Context, docID string, status model.ProcessStatus, requestID string)
}

// Pipeline drives every document through the ingestion state machine
// (spec §4.6). It is constructed once at startup and its Start method
// launches every stage's worker pool; Enqueue kicks a fresh document off
// at the convert stage, and Recover re-enqueues documents stranded by a
// prior crash mid-pipeline.
type Pipeline struct {
	redis    *redis.Client
	docs     *repository.DocumentRepository
	pages    *repository.PageRepository
	segments *repository.SegmentRepository
	vectors  VectorIndexer
	lex      LexicalIndexer
	gateway  Embedder
	statuses StatusSyncer
	fetch    ObjectFetcher
	enqueue  enqueueFunc
	cfg      conf.PipelineConfig

	mu           sync.Mutex
	pendingPages map[string][]chunker.Page // doc_id -> elements awaiting merge/chunk, in-process handoff
}

func New(
	rdb *redis.Client,
	docs *repository.DocumentRepository,
	pages *repository.PageRepository,
	segments *repository.SegmentRepository,
	vectors VectorIndexer,
	lex LexicalIndexer,
	gateway Embedder,
	statuses StatusSyncer,
	fetch ObjectFetcher,
	cfg conf.PipelineConfig,
) *Pipeline {
	return &Pipeline{
		redis: rdb, docs: docs, pages: pages, segments: segments,
		vectors: vectors, lex: lex, gateway: gateway, statuses: statuses, fetch: fetch, cfg: cfg,
		enqueue:      func(ctx context.Context, queue, docID string) error { return rdb.RPush(ctx, queue, docID).Err() },
		pendingPages: make(map[string][]chunker.Page),
	}
}

// Enqueue starts a freshly created document at the convert stage.
func (p *Pipeline) Enqueue(ctx context.Context, docID string) error {
	return p.enqueue(ctx, queueConvert, docID)
}

// Recover re-enqueues documents left in a non-terminal status by a prior
// crash, dispatching each to the queue matching the stage it was in when
// it stalled (spec §4.6's restart-from-last-stable-state requirement).
func (p *Pipeline) Recover(ctx context.Context) error {
	stale, err := p.docs.StaleNonTerminal(ctx, p.cfg.RestartGracePeriod)
	if err != nil {
		return fmt.Errorf("find stale documents: %w", err)
	}
	for _, doc := range stale {
		queue := queueForStatus(doc.ProcessStatus)
		if queue == "" {
			continue
		}
		if err := p.enqueue(ctx, queue, doc.DocID); err != nil {
			log.Printf("pipeline: failed to recover doc %s: %v", doc.DocID, err)
			continue
		}
		log.Printf("pipeline: recovered doc %s into %s", doc.DocID, queue)
	}
	return nil
}

func queueForStatus(status model.ProcessStatus) string {
	switch status {
	case model.StatusPending, model.StatusConverting:
		return queueConvert
	case model.StatusParsing:
		return queueParse
	case model.StatusParsed, model.StatusMerging:
		return queueMerge
	case model.StatusMerged, model.StatusChunking:
		return queueChunk
	case model.StatusChunked, model.StatusVectorizing:
		return queueVectorize
	default:
		return ""
	}
}

// Start launches every stage's bounded worker pool and blocks until ctx is
// canceled.
func (p *Pipeline) Start(ctx context.Context) {
	p.runStage(ctx, queueConvert, p.cfg.ConvertConcurrency, p.handleConvert)
	p.runStage(ctx, queueParse, p.cfg.ParseConcurrency, p.handleParse)
	p.runStage(ctx, queueMerge, p.cfg.MergeConcurrency, p.handleMerge)
	p.runStage(ctx, queueChunk, p.cfg.ChunkConcurrency, p.handleChunk)
	p.runStage(ctx, queueVectorize, p.cfg.VectorizeConcurrency, p.handleVectorize)
	<-ctx.Done()
}

func (p *Pipeline) runStage(ctx context.Context, queue string, workers int, handle func(context.Context, string) error) {
	for i := 0; i < workers; i++ {
		go p.stageLoop(ctx, queue, i, handle)
	}
}

func (p *Pipeline) stageLoop(ctx context.Context, queue string, workerID int, handle func(context.Context, string) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			result, err := p.redis.BLPop(ctx, 0, queue).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("pipeline[%s-%d]: dequeue error: %v", queue, workerID, err)
				time.Sleep(time.Second)
				continue
			}
			docID := result[1]
			stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
			err = handle(stageCtx, docID)
			cancel()
			if err != nil {
				log.Printf("pipeline[%s-%d]: doc %s failed: %v", queue, workerID, docID, err)
			}
		}
	}
}

func (p *Pipeline) transition(ctx context.Context, doc *model.Document, to model.ProcessStatus, errMsg string) error {
	if err := p.docs.UpdateStatus(ctx, doc.DocID, to, errMsg); err != nil {
		return err
	}
	doc.ProcessStatus = to
	p.statuses.Sync(ctx, doc.DocID, to, doc.RequestID)
	return nil
}

func (p *Pipeline) handleConvert(ctx context.Context, docID string) error {
	doc, err := p.docs.GetByDocID(ctx, docID)
	if err != nil {
		return err
	}
	if err := p.transition(ctx, doc, model.StatusConverting, ""); err != nil {
		return err
	}

	localPath, err := p.downloadToTemp(ctx, doc)
	if err != nil {
		_ = p.transition(ctx, doc, model.StatusConvertFailed, err.Error())
		return err
	}

	if err := p.docs.UpdateArtifactPaths(ctx, docID, map[string]any{"pdf_path": localPath}); err != nil {
		_ = p.transition(ctx, doc, model.StatusConvertFailed, err.Error())
		return err
	}
	if err := p.transition(ctx, doc, model.StatusParsing, ""); err != nil {
		return err
	}
	return p.enqueue(ctx, queueParse, docID)
}

// downloadToTemp copies the uploaded object to a local scratch file. Only
// PDF, DOCX, TXT and MD sources are extractable in-process (ExtractPages);
// an office-document-to-PDF converter service is out of scope here, so
// non-PDF formats are passed straight through to extraction rather than
// rendered to PDF first.
func (p *Pipeline) downloadToTemp(ctx context.Context, doc *model.Document) (string, error) {
	src, err := p.fetch(ctx, doc.SourcePath)
	if err != nil {
		return "", fmt.Errorf("fetch source object: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "kbrag-"+doc.DocID+"-*."+doc.Extension)
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("copy source object: %w", err)
	}
	return dst.Name(), nil
}

func (p *Pipeline) handleParse(ctx context.Context, docID string) error {
	doc, err := p.docs.GetByDocID(ctx, docID)
	if err != nil {
		return err
	}

	pages, err := ExtractPages(doc.PDFPath, doc.Extension)
	if err != nil {
		_ = p.transition(ctx, doc, model.StatusParseFailed, err.Error())
		return err
	}

	p.mu.Lock()
	p.pendingPages[docID] = pages
	p.mu.Unlock()

	if err := p.transition(ctx, doc, model.StatusParsed, ""); err != nil {
		return err
	}
	if err := p.transition(ctx, doc, model.StatusMerging, ""); err != nil {
		return err
	}
	return p.enqueue(ctx, queueMerge, docID)
}

// handleMerge persists the page records extracted by the parse stage.
// Because ExtractPages already tags every page with its final element
// stream, there is no separate layout/OCR reconciliation to perform here;
// the stage's remaining job is making doc_page_info durable and carrying
// the element stream forward to chunking.
func (p *Pipeline) handleMerge(ctx context.Context, docID string) error {
	doc, err := p.docs.GetByDocID(ctx, docID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	pages := p.pendingPages[docID]
	p.mu.Unlock()

	pages = chunker.AttachCaptions(pages)
	p.mu.Lock()
	p.pendingPages[docID] = pages
	p.mu.Unlock()

	rows := make([]model.Page, 0, len(pages))
	for _, pg := range pages {
		imagePath := ""
		for _, el := range pg.Elements {
			if el.Type == chunker.ElementImage {
				imagePath = el.ImagePath
				break
			}
		}
		rows = append(rows, model.Page{DocID: docID, PageIdx: pg.PageIdx, ImagePath: imagePath})
	}
	if err := p.pages.UpsertPages(ctx, docID, rows); err != nil {
		_ = p.transition(ctx, doc, model.StatusMergeFailed, err.Error())
		return err
	}
	if err := p.docs.UpdateArtifactPaths(ctx, docID, map[string]any{"page_count": len(rows)}); err != nil {
		_ = p.transition(ctx, doc, model.StatusMergeFailed, err.Error())
		return err
	}

	if err := p.transition(ctx, doc, model.StatusMerged, ""); err != nil {
		return err
	}
	if err := p.transition(ctx, doc, model.StatusChunking, ""); err != nil {
		return err
	}
	return p.enqueue(ctx, queueChunk, docID)
}

func (p *Pipeline) handleChunk(ctx context.Context, docID string) error {
	doc, err := p.docs.GetByDocID(ctx, docID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	pages := p.pendingPages[docID]
	delete(p.pendingPages, docID)
	p.mu.Unlock()

	segments := chunker.Chunk(docID, pages, p.cfg)
	if err := p.segments.ReplaceForDocument(ctx, docID, segments); err != nil {
		_ = p.transition(ctx, doc, model.StatusChunkFailed, err.Error())
		return err
	}
	if err := p.docs.UpdateArtifactPaths(ctx, docID, map[string]any{"chunk_count": len(segments)}); err != nil {
		_ = p.transition(ctx, doc, model.StatusChunkFailed, err.Error())
		return err
	}

	if err := p.transition(ctx, doc, model.StatusChunked, ""); err != nil {
		return err
	}
	if err := p.transition(ctx, doc, model.StatusVectorizing, ""); err != nil {
		return err
	}
	return p.enqueue(ctx, queueVectorize, docID)
}

func (p *Pipeline) handleVectorize(ctx context.Context, docID string) error {
	doc, err := p.docs.GetByDocID(ctx, docID)
	if err != nil {
		return err
	}

	segments, err := p.segments.ListByDocument(ctx, docID)
	if err != nil {
		_ = p.transition(ctx, doc, model.StatusSplitFailed, err.Error())
		return err
	}

	var indexable []model.Segment
	for _, s := range segments {
		if s.SegType.Indexable() {
			indexable = append(indexable, s)
		}
	}

	if len(indexable) > 0 {
		texts := make([]string, len(indexable))
		for i, s := range indexable {
			texts[i] = s.SegContent
		}
		vectors, err := p.gateway.Embed(ctx, texts)
		if err != nil {
			_ = p.transition(ctx, doc, model.StatusSplitFailed, err.Error())
			return err
		}

		points := make([]vectorstore.Point, len(indexable))
		lexDocs := make([]lexical.Doc, len(indexable))
		for i, s := range indexable {
			points[i] = vectorstore.Point{
				SegID: s.SegID, Vector: vectors[i], DocID: s.DocID,
				SegType: string(s.SegType), SegPageIdx: s.SegPageIdx,
			}
			lexDocs[i] = lexical.Doc{
				SegID: s.SegID, DocID: s.DocID, SegType: string(s.SegType),
				SegPageIdx: s.SegPageIdx, SegContent: s.SegContent,
			}
		}

		if err := p.vectors.UpsertDocument(ctx, docID, points); err != nil {
			_ = p.transition(ctx, doc, model.StatusSplitFailed, err.Error())
			return err
		}
		if err := p.lex.IndexDocument(ctx, docID, lexDocs); err != nil {
			if delErr := p.vectors.DeleteByDoc(ctx, docID); delErr != nil {
				log.Printf("pipeline: failed to clean up vector points for doc %s after lexical index failure: %v", docID, delErr)
			}
			_ = p.transition(ctx, doc, model.StatusSplitFailed, err.Error())
			return err
		}
	}

	return p.transition(ctx, doc, model.StatusSplited, "")
}
