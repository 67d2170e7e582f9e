package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/components/model"

	"github.com/skylattice/orbit/internal/cache"
	"github.com/skylattice/orbit/internal/models"
)

// storeTimeout bounds the async plan persistence after an LLM plan.
const storeTimeout = 30 * time.Second

// Stats counts where plans came from.
type Stats struct {
	PatternHits  int64 `json:"pattern_hits"`
	CacheHits    int64 `json:"cache_hits"`
	SemanticHits int64 `json:"semantic_hits"`
	LLMPlans     int64 `json:"llm_plans"`
	Failures     int64 `json:"failures"`
}

// Planner resolves queries to plans. Layers are checked in order and
// short-circuit on the first hit: patterns, exact plan cache, semantic
// cache, LLM.
type Planner struct {
	patterns  *PatternTable
	planCache *cache.Cache   // nil disables exact plan reuse
	semantic  *SemanticCache // nil disables paraphrase reuse
	model     model.BaseChatModel
	catalog   func() string

	patternHits  atomic.Int64
	cacheHits    atomic.Int64
	semanticHits atomic.Int64
	llmPlans     atomic.Int64
	failures     atomic.Int64
}

// New creates a planner. catalog renders the available tools for the LLM
// prompt. planCache and semantic may be nil.
func New(patterns *PatternTable, planCache *cache.Cache, semantic *SemanticCache, chatModel model.BaseChatModel, catalog func() string) *Planner {
	if patterns == nil {
		patterns = NewPatternTable()
	}
	return &Planner{
		patterns:  patterns,
		planCache: planCache,
		semantic:  semantic,
		model:     chatModel,
		catalog:   catalog,
	}
}

// Plan resolves the query. contextDigest folds per-user context (timezone,
// location, preferences) into the exact-match cache key.
func (p *Planner) Plan(ctx context.Context, query, contextDigest string) (*ToolPlan, error) {
	if plan, ok := p.patterns.Match(query); ok {
		p.patternHits.Add(1)
		return plan, nil
	}

	if p.planCache != nil {
		key := cache.PlanKey(query, contextDigest)
		if raw, freshness := p.planCache.Get(ctx, key); freshness != cache.Miss {
			if plan, err := cache.Decode[ToolPlan](raw); err == nil {
				// A stale plan is served as-is while the LLM replans it
				// in the background.
				if freshness == cache.Stale {
					p.planCache.Refresh(key, func(ctx context.Context) (any, error) {
						return p.planWithLLM(ctx, query)
					}, 0)
				}
				plan.Source = SourceCache
				p.cacheHits.Add(1)
				return &plan, nil
			}
		}
	}

	if p.semantic != nil {
		if plan, ok := p.semantic.Lookup(ctx, query); ok {
			p.semanticHits.Add(1)
			return plan, nil
		}
	}

	plan, err := p.planWithLLM(ctx, query)
	if err != nil {
		p.failures.Add(1)
		return nil, err
	}
	p.llmPlans.Add(1)

	// Persist off the request path; a lost write only costs a future LLM
	// call.
	go p.storePlan(query, contextDigest, plan)

	return plan, nil
}

// planWithLLM asks the model for a structured plan, retrying once on
// malformed output.
func (p *Planner) planWithLLM(ctx context.Context, query string) (*ToolPlan, error) {
	prompt := buildPlanPrompt(query, p.catalog())

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		var plan ToolPlan
		if err := models.CompleteJSON(ctx, p.model, planSystemPrompt, prompt, &plan); err != nil {
			lastErr = err
			continue
		}
		if len(plan.ParallelGroups) == 0 && len(plan.Tools) > 0 {
			plan.ParallelGroups = [][]string{plan.Tools}
		}
		if err := plan.Validate(); err != nil {
			lastErr = fmt.Errorf("invalid plan: %w", err)
			continue
		}
		plan.Source = SourceLLM
		return &plan, nil
	}
	return nil, fmt.Errorf("planning failed: %w", lastErr)
}

func (p *Planner) storePlan(query, contextDigest string, plan *ToolPlan) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if p.planCache != nil {
		key := cache.PlanKey(query, contextDigest)
		if err := p.planCache.Set(ctx, key, plan, 0); err != nil {
			slog.Warn("plan cache store failed", "error", err)
		}
	}
	if p.semantic != nil {
		if err := p.semantic.Store(ctx, query, plan); err != nil {
			slog.Warn("semantic plan store failed", "error", err)
		}
	}
}

// Stats returns a snapshot of the planner counters.
func (p *Planner) Stats() Stats {
	return Stats{
		PatternHits:  p.patternHits.Load(),
		CacheHits:    p.cacheHits.Load(),
		SemanticHits: p.semanticHits.Load(),
		LLMPlans:     p.llmPlans.Load(),
		Failures:     p.failures.Load(),
	}
}

const planSystemPrompt = `You are a planning assistant. Given a user query and a catalog of tools, select the tools needed to answer it and arrange them into parallel groups.

Reply with JSON only, no prose, in this exact shape:
{"tools": ["a", "b"], "parallel_groups": [["a", "b"]], "reasoning": "...", "expected_synthesis": "..."}

Rules:
- parallel_groups is an ordered list; tools in the same group run concurrently, each group waits for all previous groups.
- Every declared tool appears in exactly one group.
- Use an empty tools list when the query needs no tools and should be answered conversationally.`

func buildPlanPrompt(query, catalog string) string {
	return fmt.Sprintf("Available tools:\n%s\nUser query: %s", catalog, query)
}

// ContextDigest folds a session context map into a stable digest input.
// Marshaling sorts the keys, so equal contexts digest equally.
func ContextDigest(sessionContext map[string]string) string {
	if len(sessionContext) == 0 {
		return ""
	}
	data, err := json.Marshal(sessionContext)
	if err != nil {
		return ""
	}
	return string(data)
}
