package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

const (
	semanticCollection = "orbit_plans"

	// DefaultLookupThreshold is the minimum similarity for reusing a plan.
	DefaultLookupThreshold = 0.80
	// dedupThreshold is the stricter bar for treating a new query as a
	// duplicate of a stored one at write time.
	dedupThreshold = 0.85
)

// SemanticCache stores successful plans keyed by query embedding, so
// paraphrases of an already-planned query skip the LLM. Capped size with
// LRU eviction.
type SemanticCache struct {
	collection *chromem.Collection
	threshold  float32
	maxEntries int

	mu    sync.Mutex
	order []string // document ids, least recently used first
}

// NewSemanticCache creates an in-memory semantic plan cache. The embedder
// is bridged from Eino's [][]float64 to chromem-go's []float32.
func NewSemanticCache(ctx context.Context, embedder embedding.Embedder, threshold float64, maxEntries int) (*SemanticCache, error) {
	if threshold <= 0 {
		threshold = DefaultLookupThreshold
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}

	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(semanticCollection, nil, bridgeEmbedder(embedder))
	if err != nil {
		return nil, fmt.Errorf("create plan collection: %w", err)
	}

	return &SemanticCache{
		collection: col,
		threshold:  float32(threshold),
		maxEntries: maxEntries,
	}, nil
}

// Lookup returns the stored plan most similar to the query when its
// similarity clears the threshold.
func (s *SemanticCache) Lookup(ctx context.Context, query string) (*ToolPlan, bool) {
	if s.collection.Count() == 0 {
		return nil, false
	}

	results, err := s.collection.Query(ctx, query, 1, nil, nil)
	if err != nil || len(results) == 0 {
		return nil, false
	}
	best := results[0]
	if best.Similarity < s.threshold {
		return nil, false
	}

	var plan ToolPlan
	if err := json.Unmarshal([]byte(best.Metadata["plan"]), &plan); err != nil {
		return nil, false
	}
	plan.Source = SourceSemantic

	s.touch(best.ID)
	return &plan, true
}

// Store saves a plan under its query embedding. Queries already represented
// by a near-identical stored query are skipped; the cap evicts the least
// recently used entry.
func (s *SemanticCache) Store(ctx context.Context, query string, plan *ToolPlan) error {
	if s.collection.Count() > 0 {
		results, err := s.collection.Query(ctx, query, 1, nil, nil)
		if err == nil && len(results) > 0 && results[0].Similarity >= dedupThreshold {
			s.touch(results[0].ID)
			return nil
		}
	}

	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	id := uuid.NewString()
	err = s.collection.Add(ctx, []string{id}, nil,
		[]map[string]string{{"plan": string(data)}}, []string{query})
	if err != nil {
		return fmt.Errorf("store plan: %w", err)
	}

	s.mu.Lock()
	s.order = append(s.order, id)
	var evict string
	if len(s.order) > s.maxEntries {
		evict = s.order[0]
		s.order = s.order[1:]
	}
	s.mu.Unlock()

	if evict != "" {
		if err := s.collection.Delete(ctx, nil, nil, evict); err != nil {
			return fmt.Errorf("evict plan: %w", err)
		}
	}
	return nil
}

// Len returns the number of stored plans.
func (s *SemanticCache) Len() int {
	return s.collection.Count()
}

// touch moves id to the most recently used position.
func (s *SemanticCache) touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.order {
		if existing == id {
			s.order = append(append(s.order[:i:i], s.order[i+1:]...), id)
			return
		}
	}
}

// bridgeEmbedder converts an Eino Embedder ([][]float64) to a chromem-go
// EmbeddingFunc ([]float32).
func bridgeEmbedder(embedder embedding.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vectors, err := embedder.EmbedStrings(ctx, []string{text})
		if err != nil {
			return nil, fmt.Errorf("embed text: %w", err)
		}
		if len(vectors) == 0 || len(vectors[0]) == 0 {
			return nil, fmt.Errorf("embed text: empty result")
		}

		f64 := vectors[0]
		f32 := make([]float32, len(f64))
		for i, v := range f64 {
			f32[i] = float32(v)
		}
		return f32, nil
	}
}
