package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/kbragio/kbrag/internal/repository"
)

// Sweeper is the background half of deletion (spec §9 open question #3):
// DocumentService.Delete already deletes from both derived stores
// synchronously on the request path, before the metadata cascade. Sweeper
// polls documents soft-deleted within the lookback window and re-issues the
// same DeleteByDoc calls, which are idempotent against an already-empty
// doc_id, so vector or lexical records that still exist for a deleted
// document are removed. A crash part-way through Delete happens before the
// cascade, so it leaves the document live and is not swept.
type Sweeper struct {
	docs     *repository.DocumentRepository
	vectors  VectorIndexer
	lex      LexicalIndexer
	interval time.Duration
	lookback time.Duration
}

func NewSweeper(docs *repository.DocumentRepository, vectors VectorIndexer, lex LexicalIndexer, interval, lookback time.Duration) *Sweeper {
	return &Sweeper{docs: docs, vectors: vectors, lex: lex, interval: interval, lookback: lookback}
}

// Run polls on Sweeper's interval until ctx is canceled. Intended to be
// started in its own goroutine alongside Pipeline.Start.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	deleted, err := s.docs.ListRecentlyDeleted(ctx, time.Now().Add(-s.lookback))
	if err != nil {
		log.Printf("sweeper: list recently deleted failed: %v", err)
		return
	}
	for _, doc := range deleted {
		if err := s.vectors.DeleteByDoc(ctx, doc.DocID); err != nil {
			log.Printf("sweeper: vector cleanup failed for %s: %v", doc.DocID, err)
		}
		if err := s.lex.DeleteByDoc(ctx, doc.DocID); err != nil {
			log.Printf("sweeper: lexical cleanup failed for %s: %v", doc.DocID, err)
		}
	}
}
