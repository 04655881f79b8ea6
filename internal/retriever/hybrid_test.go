package retriever

import (
	"sort"
	"testing"

	"github.com/kbragio/kbrag/internal/lexical"
	"github.com/kbragio/kbrag/internal/vectorstore"
)

func TestNormalizeScores(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"empty", nil, nil},
		{"single", []float64{5}, []float64{5}},
		{"flat", []float64{3, 3, 3}, []float64{0, 0, 0}},
		{"spread", []float64{0, 5, 10}, []float64{0, 0.5, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeScores(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if diff := got[i] - tt.want[i]; diff > 1e-9 || diff < -1e-9 {
					t.Errorf("got[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFuseScores_UnionOfBothLegsWeightedByAlpha(t *testing.T) {
	dense := []vectorstore.Hit{{SegID: "a", Score: 10}, {SegID: "b", Score: 0}}
	lex := []lexical.Hit{{SegID: "b", Score: 10}, {SegID: "c", Score: 0}}

	fused := fuseScores(dense, lex, 0.5)

	if len(fused) != 3 {
		t.Fatalf("got %d fused seg_ids, want 3 (union of both legs)", len(fused))
	}
	// "a" only appears in dense, normalized to 1.0 there, 0 from the
	// absent lexical leg: 0.5*1.0 + 0.5*0 = 0.5.
	if diff := fused["a"] - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("fused[a] = %v, want 0.5", fused["a"])
	}
	// "b" is the weakest dense hit (0.0) but the strongest lexical hit
	// (1.0): 0.5*0 + 0.5*1.0 = 0.5.
	if diff := fused["b"] - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("fused[b] = %v, want 0.5", fused["b"])
	}
}

func TestFuseScores_AlphaZeroIgnoresDenseLeg(t *testing.T) {
	dense := []vectorstore.Hit{{SegID: "a", Score: 100}}
	lex := []lexical.Hit{{SegID: "a", Score: 1}, {SegID: "b", Score: 2}}

	fused := fuseScores(dense, lex, 0)

	if fused["a"] != 0 {
		t.Errorf("alpha=0 should zero out the dense-only contribution for a shared seg_id once normalized, got %v", fused["a"])
	}
}

func TestDetectCliffAndFilter_TruncatesAtBiggestDrop(t *testing.T) {
	results := []Result{
		{RerankScore: 0.95},
		{RerankScore: 0.93},
		{RerankScore: 0.40}, // the cliff
		{RerankScore: 0.38},
		{RerankScore: 0.35},
	}

	got := detectCliffAndFilter(results, 10)
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2 (truncated right before the cliff)", len(got))
	}
}

func TestDetectCliffAndFilter_CapsAtTopK(t *testing.T) {
	results := []Result{
		{RerankScore: 0.9},
		{RerankScore: 0.89},
		{RerankScore: 0.88},
		{RerankScore: 0.1}, // cliff would keep 3, but top_k caps at 2
	}

	got := detectCliffAndFilter(results, 2)
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2 (capped by top_k)", len(got))
	}
}

func TestFusedCandidates_TruncatedToRerankKByScore(t *testing.T) {
	fused := map[string]float64{"a": 0.9, "b": 0.5, "c": 0.95, "d": 0.1}
	rerankK := 2

	ranked := make([]fusedCandidate, 0, len(fused))
	for segID, score := range fused {
		ranked = append(ranked, fusedCandidate{segID: segID, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > rerankK {
		ranked = ranked[:rerankK]
	}

	if len(ranked) != 2 {
		t.Fatalf("got %d candidates, want %d", len(ranked), rerankK)
	}
	if ranked[0].segID != "c" || ranked[1].segID != "a" {
		t.Errorf("got %v, want top-2 by score: c then a", ranked)
	}
}

func TestToSet(t *testing.T) {
	set := toSet([]string{"x", "y"})
	if !set["x"] || !set["y"] || set["z"] {
		t.Errorf("toSet produced unexpected membership: %v", set)
	}
}
