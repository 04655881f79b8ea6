// Package retriever implements component G, the Hybrid Retriever: it fans
// out a query to the dense Vector Store and the lexical Store in parallel,
// fuses their rankings, applies permission filtering, hydrates full segment
// records from the Metadata Store Adapter, reranks with the Model Gateway,
// and truncates to the final result set.
package retriever

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kbragio/kbrag/internal/conf"
	"github.com/kbragio/kbrag/internal/lexical"
	"github.com/kbragio/kbrag/internal/model"
	"github.com/kbragio/kbrag/internal/modelgateway"
	"github.com/kbragio/kbrag/internal/repository"
	"github.com/kbragio/kbrag/internal/vectorstore"
)

// Result is one retrieved segment, carrying its place in the source
// document so the RAG orchestrator can attribute an answer to it.
type Result struct {
	Segment     model.Segment
	RerankScore float32
}

// fusedCandidate pairs a seg_id with its fused dense+lexical score so the
// top rerank_k can be selected before the costlier hydrate/rerank calls.
type fusedCandidate struct {
	segID string
	score float64
}

// PermissionChecker resolves the set of doc_ids a subject may read, per
// spec §4.7's permission-gated retrieval contract.
type PermissionChecker interface {
	AuthorizedDocIDs(ctx context.Context, subjectID string) ([]string, error)
}

// Retriever wires the dense store, lexical store, metadata hydration, and
// reranker behind one Search call.
type Retriever struct {
	vectors  *vectorstore.Store
	lex      *lexical.Store
	segments *repository.SegmentRepository
	perms    PermissionChecker
	gateway  *modelgateway.Gateway
	cfg      conf.RAGConfig
}

func New(vectors *vectorstore.Store, lex *lexical.Store, segments *repository.SegmentRepository, perms PermissionChecker, gateway *modelgateway.Gateway, cfg conf.RAGConfig) *Retriever {
	return &Retriever{vectors: vectors, lex: lex, segments: segments, perms: perms, gateway: gateway, cfg: cfg}
}

// Search implements the full retrieval pipeline for one query embedding +
// raw query text, scoped to subjectID's authorized documents.
func (r *Retriever) Search(ctx context.Context, queryText string, queryVector []float32, subjectID string) ([]Result, error) {
	authorizedDocIDs, err := r.perms.AuthorizedDocIDs(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("resolve authorized documents: %w", err)
	}
	if len(authorizedDocIDs) == 0 {
		return nil, nil
	}

	var denseHits []vectorstore.Hit
	var lexHits []lexical.Hit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.vectors.Search(gctx, queryVector, uint64(r.cfg.CandidateK), &vectorstore.Filter{DocIDs: authorizedDocIDs})
		if err != nil {
			return fmt.Errorf("dense search: %w", err)
		}
		denseHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := r.lex.Search(gctx, queryText, r.cfg.CandidateK, authorizedDocIDs)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		lexHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuseScores(denseHits, lexHits, r.cfg.Alpha)
	if len(fused) == 0 {
		return nil, nil
	}

	// Select the top rerank_k fused candidates before hydrating/reranking
	// (spec §4.7 step 4): candidate_k >= rerank_k >= top_k bounds how many
	// expensive cross-encoder calls the rerank stage below has to make.
	ranked := make([]fusedCandidate, 0, len(fused))
	for segID, score := range fused {
		ranked = append(ranked, fusedCandidate{segID: segID, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if r.cfg.RerankK > 0 && len(ranked) > r.cfg.RerankK {
		ranked = ranked[:r.cfg.RerankK]
	}

	segIDs := make([]string, len(ranked))
	for i, c := range ranked {
		segIDs[i] = c.segID
	}
	segments, err := r.segments.GetBySegIDs(ctx, segIDs)
	if err != nil {
		return nil, fmt.Errorf("hydrate segments: %w", err)
	}

	authorized := toSet(authorizedDocIDs)
	var candidates []model.Segment
	for _, s := range segments {
		if authorized[s.DocID] {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.SegContent
	}
	scores, err := r.gateway.Rerank(ctx, queryText, passages)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{Segment: c, RerankScore: scores[i]}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RerankScore > results[j].RerankScore })

	if r.cfg.CliffFilterEnabled {
		results = detectCliffAndFilter(results, r.cfg.TopK)
	} else if len(results) > r.cfg.TopK {
		results = results[:r.cfg.TopK]
	}
	return results, nil
}

// fuseScores implements the min-max-normalized convex combination: each
// leg's scores are normalized to [0, 1] independently, then combined as
// alpha*dense + (1-alpha)*lexical, with a leg missing a seg_id contributing
// zero rather than excluding it (a seg_id found by only one leg still
// surfaces, scored down).
func fuseScores(dense []vectorstore.Hit, lex []lexical.Hit, alpha float64) map[string]float64 {
	denseScores := make(map[string]float64, len(dense))
	denseRaw := make([]float64, len(dense))
	for i, h := range dense {
		denseRaw[i] = float64(h.Score)
	}
	denseNorm := normalizeScores(denseRaw)
	for i, h := range dense {
		denseScores[h.SegID] = denseNorm[i]
	}

	lexScores := make(map[string]float64, len(lex))
	lexRaw := make([]float64, len(lex))
	for i, h := range lex {
		lexRaw[i] = float64(h.Score)
	}
	lexNorm := normalizeScores(lexRaw)
	for i, h := range lex {
		lexScores[h.SegID] = lexNorm[i]
	}

	fused := make(map[string]float64, len(denseScores)+len(lexScores))
	for segID, score := range denseScores {
		fused[segID] = alpha * score
	}
	for segID, score := range lexScores {
		fused[segID] += (1 - alpha) * score
	}
	return fused
}

// normalizeScores is a min-max normalization: a near-flat score list (every
// value within 1e-5 of the others) collapses to all zeros rather than
// dividing by a near-zero range.
func normalizeScores(scores []float64) []float64 {
	if len(scores) <= 1 {
		return scores
	}
	min, max := scores[0], scores[0]
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	out := make([]float64, len(scores))
	if max-min <= 1e-5 {
		return out
	}
	for i, s := range scores {
		out[i] = (s - min) / (max - min)
	}
	return out
}

// detectCliffAndFilter finds the steepest score drop between consecutive
// ranked results and truncates there, capped at topK, as an alternative to
// a hard top_k cutoff (spec §9, optional refinement gated by config).
func detectCliffAndFilter(results []Result, topK int) []Result {
	if len(results) <= 1 {
		return firstN(results, topK)
	}

	cliffIndex := 1
	minDelta := results[1].RerankScore - results[0].RerankScore
	for i := 1; i < len(results)-1; i++ {
		delta := results[i+1].RerankScore - results[i].RerankScore
		if delta < minDelta {
			minDelta = delta
			cliffIndex = i + 1
		}
	}
	if topK > 0 && cliffIndex > topK {
		cliffIndex = topK
	}
	return results[:cliffIndex]
}

func firstN(results []Result, n int) []Result {
	if n > 0 && len(results) > n {
		return results[:n]
	}
	return results
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
