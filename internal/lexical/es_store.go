// Package lexical is the Lexical Store, component C: a derived, BM25-backed
// keyword index over segment_info kept in step with the Metadata Store
// Adapter at document granularity, mirroring the Vector Store's contract.
package lexical

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
)

// Doc is one lexical record, addressed by seg_id so indexing is idempotent.
type Doc struct {
	SegID      string `json:"seg_id"`
	DocID      string `json:"doc_id"`
	SegType    string `json:"seg_type"`
	SegPageIdx int    `json:"seg_page_idx"`
	SegContent string `json:"seg_content"`
}

// Hit is a scored candidate returned by Search.
type Hit struct {
	SegID string
	Score float32
}

// Store wraps an Elasticsearch index.
type Store struct {
	client *elasticsearch.Client
	index  string
}

func New(client *elasticsearch.Client, index string) *Store {
	return &Store{client: client, index: index}
}

// EnsureIndex creates the index with a minimal mapping if it doesn't exist yet.
func (s *Store) EnsureIndex(ctx context.Context) error {
	existsRes, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index exists: %w", err)
	}
	defer existsRes.Body.Close()
	if existsRes.StatusCode == 200 {
		return nil
	}

	body, err := json.Marshal(buildIndexMapping())
	if err != nil {
		return fmt.Errorf("marshal index mapping: %w", err)
	}
	res, err := s.client.Indices.Create(s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index: %s", res.Status())
	}
	return nil
}

// buildIndexMapping describes the index settings EnsureIndex creates.
// seg_content is mixed CJK/Latin (spec §4.3/§6): the standard analyzer only
// splits on whitespace/punctuation and never segments CJK into real words,
// so it's replaced index-wide with ik_max_word, the analyzer the original
// system's own ES mapping uses for the same reason.
func buildIndexMapping() map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"analysis": map[string]any{
				"analyzer": map[string]any{
					"default": map[string]any{
						"type":     "custom",
						"tokenizer": "ik_max_word",
						"filter":   []string{"lowercase", "asciifolding"},
					},
				},
			},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"doc_id":       map[string]any{"type": "keyword"},
				"seg_type":     map[string]any{"type": "keyword"},
				"seg_page_idx": map[string]any{"type": "integer"},
				"seg_content": map[string]any{
					"type":            "text",
					"analyzer":        "ik_max_word",
					"search_analyzer": "ik_max_word",
				},
			},
		},
	}
}

// IndexDocument implements insert_data for one document: every stale
// record under docID is removed, then the fresh set is bulk-indexed, giving
// callers the same document-grain swap semantics as vectorstore.UpsertDocument.
func (s *Store) IndexDocument(ctx context.Context, docID string, docs []Doc) error {
	if err := s.DeleteByDoc(ctx, docID); err != nil {
		return fmt.Errorf("delete stale docs for %s: %w", docID, err)
	}
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, d := range docs {
		meta := map[string]any{"index": map[string]any{"_index": s.index, "_id": d.SegID}}
		metaLine, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		docLine, err := json.Marshal(d)
		if err != nil {
			return err
		}
		buf.Write(metaLine)
		buf.WriteByte('\n')
		buf.Write(docLine)
		buf.WriteByte('\n')
	}

	res, err := s.client.Bulk(bytes.NewReader(buf.Bytes()), s.client.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk index: %s", res.Status())
	}
	return nil
}

// buildSearchBody assembles the boosted multi-clause BM25 query: exact
// phrase and exact term matches outrank the fuzzy OR match and the
// precision-oriented AND match, with an optional doc_id allowlist filter
// for permission-gated retrieval (spec §4.7).
func buildSearchBody(query string, k int, docIDs []string) map[string]any {
	should := []map[string]any{
		{"match_phrase": map[string]any{"seg_content": map[string]any{"query": query, "boost": 3.0}}},
		{"term": map[string]any{"seg_content": map[string]any{"value": query, "boost": 2.5}}},
		{"match": map[string]any{"seg_content": map[string]any{"query": query, "operator": "or", "fuzziness": "AUTO", "boost": 1.0}}},
		{"match": map[string]any{"seg_content": map[string]any{"query": query, "operator": "and", "boost": 2.0}}},
	}

	boolQuery := map[string]any{
		"should":               should,
		"minimum_should_match": 1,
	}
	if len(docIDs) > 0 {
		boolQuery["filter"] = []map[string]any{
			{"terms": map[string]any{"doc_id": docIDs}},
		}
	}

	return map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"size":  k,
	}
}

// Search runs the BM25-weighted multi-clause query from buildSearchBody
// against seg_content: an exact phrase match (boost 3.0), an exact term
// match (2.5), an AND match for precision (2.0), and a fuzzy OR match for
// recall (1.0).
func (s *Store) Search(ctx context.Context, query string, k int, docIDs []string) ([]Hit, error) {
	payload, err := json.Marshal(buildSearchBody(query, k, docIDs))
	if err != nil {
		return nil, err
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search: %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID    string  `json:"_id"`
				Score float32 `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, Hit{SegID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// DeleteByDoc implements delete_by_doc_id.
func (s *Store) DeleteByDoc(ctx context.Context, docID string) error {
	query := map[string]any{"query": map[string]any{"term": map[string]any{"doc_id": docID}}}
	payload, err := json.Marshal(query)
	if err != nil {
		return err
	}
	res, err := s.client.DeleteByQuery([]string{s.index}, bytes.NewReader(payload),
		s.client.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete by doc_id: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete by doc_id: %s", res.Status())
	}
	return nil
}
