// Package decision tracks what an agent has already asked and executed
// within a conversation, so it never asks the same question twice, never
// burns its tool budget on identical calls, and stops when it starts
// oscillating.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/skylattice/orbit/internal/embeddings"
)

// DecisionType discriminates recorded decisions.
type DecisionType string

const (
	TypeQuestion      DecisionType = "question"
	TypeToolExecution DecisionType = "tool_execution"
	TypeAction        DecisionType = "action"
)

// Decision is one recorded entry. Append-only within a session until
// cleared.
type Decision struct {
	Type      DecisionType
	Content   string
	Context   map[string]any
	Timestamp time.Time
	Result    any
}

// Config holds the memory's budgets and thresholds.
type Config struct {
	MaxSameQuestion     int     // default 1
	MaxSameTool         int     // default 2
	MaxFailedAttempts   int     // circuit trips at this count; default 3
	SimilarityThreshold float64 // semantic question match; default 0.85
	LoopWindow          int     // decisions inspected by IsLooping; default 5
}

func (c *Config) applyDefaults() {
	if c.MaxSameQuestion <= 0 {
		c.MaxSameQuestion = 1
	}
	if c.MaxSameTool <= 0 {
		c.MaxSameTool = 2
	}
	if c.MaxFailedAttempts <= 0 {
		c.MaxFailedAttempts = 3
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.85
	}
	if c.LoopWindow <= 0 {
		c.LoopWindow = 5
	}
}

// Stats is a snapshot of the memory's counters.
type Stats struct {
	Questions      int  `json:"questions"`
	ToolExecutions int  `json:"tool_executions"`
	FailedAttempts int  `json:"failed_attempts"`
	LoopsPrevented int  `json:"loops_prevented"`
	CircuitOpen    bool `json:"circuit_open"`
}

// Memory is a per-conversation decision log with loop detection and a
// circuit breaker. It is owned by a single agent; the agent serializes
// access, but the type locks anyway so sharing an agent across requests
// stays safe.
type Memory struct {
	mu  sync.Mutex
	cfg Config

	decisions      []Decision
	questionCounts map[string]int
	toolCounts     map[string]int
	questionVecs   map[string][]float64

	failedAttempts int
	circuitOpen    bool
	loopsPrevented int

	embedder embedding.Embedder // nil = exact-match only
	now      func() time.Time
}

// New creates a decision memory. embedder may be nil; semantic question
// matching then degrades to exact matching.
func New(cfg Config, embedder embedding.Embedder) *Memory {
	cfg.applyDefaults()
	return &Memory{
		cfg:            cfg,
		questionCounts: make(map[string]int),
		toolCounts:     make(map[string]int),
		questionVecs:   make(map[string][]float64),
		embedder:       embedder,
		now:            time.Now,
	}
}

// HasAsked reports whether the question was already asked, exactly
// (case-insensitive, at least MaxSameQuestion times) or semantically
// (similarity ≥ threshold when an embedder is available). Always true while
// the circuit is open.
func (m *Memory) HasAsked(ctx context.Context, question string) bool {
	m.mu.Lock()
	if m.circuitOpen {
		m.mu.Unlock()
		return true
	}
	key := normalizeQuestion(question)
	if m.questionCounts[key] >= m.cfg.MaxSameQuestion {
		m.mu.Unlock()
		return true
	}
	// Snapshot vectors for the semantic pass outside the lock.
	var known map[string][]float64
	if m.embedder != nil && len(m.questionVecs) > 0 {
		known = make(map[string][]float64, len(m.questionVecs))
		for k, v := range m.questionVecs {
			known[k] = v
		}
	}
	threshold := m.cfg.SimilarityThreshold
	m.mu.Unlock()

	if len(known) == 0 {
		return false
	}

	vec, err := embeddings.EmbedOne(ctx, m.embedder, question)
	if err != nil {
		slog.Debug("question embedding failed, exact match only", "error", err)
		return false
	}
	for _, kv := range known {
		if embeddings.Cosine(vec, kv) >= threshold {
			return true
		}
	}
	return false
}

// RecordQuestion appends a question decision. A nil result or a result map
// containing an "error" key counts as a failure; successes decrement the
// failure counter (floor 0) and close an open circuit.
func (m *Memory) RecordQuestion(ctx context.Context, question string, result any) {
	key := normalizeQuestion(question)

	var vec []float64
	if m.embedder != nil {
		v, err := embeddings.EmbedOne(ctx, m.embedder, question)
		if err != nil {
			slog.Debug("question embedding failed on record", "error", err)
		} else {
			vec = v
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.decisions = append(m.decisions, Decision{
		Type:      TypeQuestion,
		Content:   key,
		Timestamp: m.now(),
		Result:    result,
	})
	m.questionCounts[key]++
	if vec != nil {
		m.questionVecs[key] = vec
	}
	m.accountResult(result)
}

// HasExecutedTool reports whether the tool was already executed with the
// same canonical arguments at least MaxSameTool times. Always true while
// the circuit is open.
func (m *Memory) HasExecutedTool(name string, args map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.circuitOpen {
		return true
	}
	return m.toolCounts[toolKey(name, args)] >= m.cfg.MaxSameTool
}

// RecordToolExecution appends a tool decision with the same failure
// accounting as RecordQuestion.
func (m *Memory) RecordToolExecution(name string, args map[string]any, result any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := toolKey(name, args)
	m.decisions = append(m.decisions, Decision{
		Type:      TypeToolExecution,
		Content:   key,
		Context:   args,
		Timestamp: m.now(),
		Result:    result,
	})
	m.toolCounts[key]++
	m.accountResult(result)
}

// RecordAction appends a free-form action decision.
func (m *Memory) RecordAction(content string, result any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, Decision{
		Type:      TypeAction,
		Content:   content,
		Timestamp: m.now(),
		Result:    result,
	})
	m.accountResult(result)
}

// accountResult updates the failure counter and circuit state. Callers hold
// the lock.
func (m *Memory) accountResult(result any) {
	if isFailure(result) {
		m.failedAttempts++
		if m.failedAttempts >= m.cfg.MaxFailedAttempts {
			if !m.circuitOpen {
				slog.Warn("decision circuit breaker tripped",
					"failed_attempts", m.failedAttempts)
			}
			m.circuitOpen = true
		}
		return
	}
	if m.failedAttempts > 0 {
		m.failedAttempts--
	}
	// A successful operation auto-resets the breaker.
	m.circuitOpen = false
}

// IsLooping inspects the last window decisions (default LoopWindow),
// ordered by timestamp, and reports an AB/AB oscillation or an AA repeat.
// Each detection increments the loops-prevented counter.
func (m *Memory) IsLooping(window int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if window <= 0 {
		window = m.cfg.LoopWindow
	}
	n := len(m.decisions)
	if n < 2 {
		return false
	}
	start := n - window
	if start < 0 {
		start = 0
	}
	recent := make([]Decision, n-start)
	copy(recent, m.decisions[start:])
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Timestamp.Before(recent[j].Timestamp)
	})

	k := len(recent)
	same := func(a, b Decision) bool {
		return a.Type == b.Type && a.Content == b.Content
	}

	// AA: the same decision twice in a row.
	if same(recent[k-1], recent[k-2]) {
		m.loopsPrevented++
		return true
	}
	// AB/AB: the last two repeat the two before them.
	if k >= 4 && same(recent[k-1], recent[k-3]) && same(recent[k-2], recent[k-4]) {
		m.loopsPrevented++
		return true
	}
	return false
}

// ShouldEarlyExit reports whether the circuit is open and the request
// should stop before doing more damage.
func (m *Memory) ShouldEarlyExit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.circuitOpen
}

// ResetCircuitBreaker clears the breaker and failure counter manually.
func (m *Memory) ResetCircuitBreaker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.circuitOpen = false
	m.failedAttempts = 0
}

// Clear discards all recorded decisions and state.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = nil
	m.questionCounts = make(map[string]int)
	m.toolCounts = make(map[string]int)
	m.questionVecs = make(map[string][]float64)
	m.failedAttempts = 0
	m.circuitOpen = false
}

// Stats returns a snapshot of the counters.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	questions, tools := 0, 0
	for _, d := range m.decisions {
		switch d.Type {
		case TypeQuestion:
			questions++
		case TypeToolExecution:
			tools++
		}
	}
	return Stats{
		Questions:      questions,
		ToolExecutions: tools,
		FailedAttempts: m.failedAttempts,
		LoopsPrevented: m.loopsPrevented,
		CircuitOpen:    m.circuitOpen,
	}
}

func normalizeQuestion(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// toolKey canonicalizes a tool call as name + sorted key=value pairs, so
// argument order never matters.
func toolKey(name string, args map[string]any) string {
	if len(args) == 0 {
		return name
	}
	pairs := make([]string, 0, len(args))
	for k, v := range args {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(pairs)
	return name + ":" + strings.Join(pairs, "&")
}

// isFailure reports whether a recorded result represents an error.
func isFailure(result any) bool {
	if result == nil {
		return true
	}
	if err, ok := result.(error); ok {
		return err != nil
	}
	if m, ok := result.(map[string]any); ok {
		if _, has := m["error"]; has {
			return true
		}
	}
	return false
}
