// Package vectorstore is the Vector Store, component B of the retrieval
// system: a derived, eventually-consistent index over segment_info kept
// synchronized with the Metadata Store Adapter at document granularity.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// Point is one vector record, addressed by seg_id so upserts are idempotent.
type Point struct {
	SegID      string
	Vector     []float32
	DocID      string
	SegType    string
	SegPageIdx int
}

// Hit is a scored candidate returned by Search, carrying only what the
// hybrid retriever needs before hydration from the metadata store.
type Hit struct {
	SegID string
	Score float32
}

// Filter narrows Search to a subset of points by payload field.
// DocIDs expresses the "doc_id in allowed set" permission filter from spec
// §4.2/§4.7; DocID is for the single-document case (e.g. re-index checks).
type Filter struct {
	DocID      string
	DocIDs     []string
	SegType    string
	SegPageIdx *int
}

// Store wraps a Qdrant collection.
type Store struct {
	client     *qdrant.Client
	collection string
}

func New(client *qdrant.Client, collection string) *Store {
	return &Store{client: client, collection: collection}
}

// EnsureCollection creates the collection if it doesn't already exist,
// matching the embedding dimension and cosine distance the teacher's own
// bootstrap used for its own collection.
func (s *Store) EnsureCollection(ctx context.Context, vectorSize uint64) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, c := range collections {
		if c == s.collection {
			return nil
		}
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

// UpsertDocument replaces every point belonging to docID with points in one
// call. Deleting the old points first and upserting the new ones under the
// same request makes re-chunking a document-grain atomic swap from a
// caller's point of view (spec §4.2's consistency requirement), even though
// Qdrant itself executes the two as separate operations.
func (s *Store) UpsertDocument(ctx context.Context, docID string, points []Point) error {
	if err := s.DeleteByDoc(ctx, docID); err != nil {
		return fmt.Errorf("delete stale points for %s: %w", docID, err)
	}
	if len(points) == 0 {
		return nil
	}

	upserts := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		upserts = append(upserts, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.SegID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"doc_id":       p.DocID,
				"seg_type":     p.SegType,
				"seg_page_idx": int64(p.SegPageIdx),
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         upserts,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points for %s: %w", len(points), docID, err)
	}
	return nil
}

// Search runs a dense k-NN query, optionally scoped by Filter, and returns
// candidates ordered best-first as the hybrid retriever's dense leg.
func (s *Store) Search(ctx context.Context, vector []float32, k uint64, filter *Filter) ([]Hit, error) {
	query := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &k,
		WithPayload:    qdrant.NewWithPayloadEnable(false),
	}
	if f := buildFilter(filter); f != nil {
		query.Filter = f
	}

	points, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, Hit{SegID: idToString(p.Id), Score: p.Score})
	}
	return hits, nil
}

// DeleteByDoc removes every point tagged with docID, used on document
// deletion and before UpsertDocument re-indexes a document.
func (s *Store) DeleteByDoc(ctx context.Context, docID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{matchKeyword("doc_id", docID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("delete points for %s: %w", docID, err)
	}
	return nil
}

func buildFilter(f *Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	var must []*qdrant.Condition
	var should []*qdrant.Condition
	if f.DocID != "" {
		must = append(must, matchKeyword("doc_id", f.DocID))
	}
	for _, id := range f.DocIDs {
		should = append(should, matchKeyword("doc_id", id))
	}
	if f.SegType != "" {
		must = append(must, matchKeyword("seg_type", f.SegType))
	}
	if f.SegPageIdx != nil {
		must = append(must, qdrant.NewMatchInt("seg_page_idx", int64(*f.SegPageIdx)))
	}
	if len(must) == 0 && len(should) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must, Should: should}
}

func matchKeyword(field, value string) *qdrant.Condition {
	return qdrant.NewMatch(field, value)
}

func idToString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return ""
	}
}
