// Package contextwin keeps per-session conversation buffers under a token
// budget, compacting old messages into a summary when the budget nears.
package contextwin

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageEntry is one immutable conversation message.
type MessageEntry struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Tokens    int            `json:"tokens"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// IsSummary reports whether the entry is a compaction summary.
func (m MessageEntry) IsSummary() bool {
	v, ok := m.Metadata["is_summary"].(bool)
	return ok && v
}

// Session is a keyed conversation buffer.
type Session struct {
	ID              string
	Messages        []MessageEntry
	TotalTokens     int
	CompactionCount int
	LastCompactedAt time.Time
}

// Turn is the canonical {role, content} form handed to a language model.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SummarizeFunc performs a non-streaming LLM call for summarization.
type SummarizeFunc func(ctx context.Context, prompt string) (string, error)

// TokenCounter estimates tokens for a text. The default is the len/4
// heuristic; hosts with a real tokenizer plug it in here. The same counter
// must be used for accounting and for the compaction trigger.
type TokenCounter func(text string) int

// Config holds the manager's budgets.
type Config struct {
	MaxTokens        int     // total budget; default 126000
	CompactThreshold float64 // trigger ratio; default 0.80
	KeepRecent       int     // messages always preserved verbatim; default 10
	SummaryBudget    int     // target summary tokens; default 2000
}

func (c *Config) applyDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 126000
	}
	if c.CompactThreshold <= 0 {
		c.CompactThreshold = 0.80
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = 10
	}
	if c.SummaryBudget <= 0 {
		c.SummaryBudget = 2000
	}
}

// Stats are cumulative across all sessions of a manager.
type Stats struct {
	Compactions int64 `json:"compactions"`
	TokensSaved int64 `json:"tokens_saved"`
}

// Usage is a point-in-time snapshot of one session.
type Usage struct {
	TotalTokens     int `json:"total_tokens"`
	MaxTokens       int `json:"max_tokens"`
	AvailableTokens int `json:"available_tokens"`
	MessageCount    int `json:"message_count"`
	CompactionCount int `json:"compaction_count"`
}

// Manager owns the session buffers. Compaction runs synchronously inside
// AddMessage, so the post-append state a caller observes is always
// consistent.
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	sessions  map[string]*Session
	summarize SummarizeFunc // nil = rule-based only
	count     TokenCounter

	compactions int64
	tokensSaved int64
}

// NewManager creates a manager. summarize may be nil, in which case the
// rule-based summarizer is always used.
func NewManager(cfg Config, summarize SummarizeFunc) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:       cfg,
		sessions:  make(map[string]*Session),
		summarize: summarize,
		count:     DefaultTokenCounter,
	}
}

// SetTokenCounter replaces the token estimator. Call before first use.
func (m *Manager) SetTokenCounter(c TokenCounter) {
	if c != nil {
		m.count = c
	}
}

// DefaultTokenCounter is the len/4 heuristic plus a small per-message
// overhead for role framing.
func DefaultTokenCounter(text string) int {
	return len(text)/4 + 4
}

// AddMessage appends a message to the session, creating the session if
// needed, and compacts when the budget threshold is crossed. Returns true
// if a compaction fired.
func (m *Manager) AddMessage(ctx context.Context, sessionID string, role Role, content string, metadata map[string]any) bool {
	tokens := m.count(content)

	m.mu.Lock()
	s := m.session(sessionID)
	s.Messages = append(s.Messages, MessageEntry{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Tokens:    tokens,
		Metadata:  metadata,
	})
	s.TotalTokens += tokens

	trigger := int(float64(m.cfg.MaxTokens) * m.cfg.CompactThreshold)
	needsCompaction := s.TotalTokens >= trigger && len(s.Messages) > m.cfg.KeepRecent
	m.mu.Unlock()

	if !needsCompaction {
		return false
	}
	m.compact(ctx, sessionID)
	return true
}

// compact replaces everything except the last KeepRecent messages with one
// summary message. The summary is produced by the configured LLM; on error
// (or with no LLM) the rule-based digest is used. Never surfaced.
func (m *Manager) compact(ctx context.Context, sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || len(s.Messages) <= m.cfg.KeepRecent {
		m.mu.Unlock()
		return
	}
	split := len(s.Messages) - m.cfg.KeepRecent
	old := make([]MessageEntry, split)
	copy(old, s.Messages[:split])
	m.mu.Unlock()

	summary := m.summarizeMessages(ctx, old)
	summaryTokens := m.count(summary)

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok = m.sessions[sessionID]
	if !ok {
		return // session reset while summarizing
	}
	// The buffer may have grown; re-derive the split against the messages
	// we summarized.
	if len(s.Messages) < split {
		return
	}
	recent := s.Messages[split:]

	oldTotal := 0
	for _, msg := range old {
		oldTotal += msg.Tokens
	}

	summaryMsg := MessageEntry{
		Role:      RoleSystem,
		Content:   summary,
		Timestamp: time.Now(),
		Tokens:    summaryTokens,
		Metadata:  map[string]any{"is_summary": true},
	}

	s.Messages = append([]MessageEntry{summaryMsg}, recent...)
	total := 0
	for _, msg := range s.Messages {
		total += msg.Tokens
	}
	s.TotalTokens = total
	s.CompactionCount++
	s.LastCompactedAt = time.Now()

	m.compactions++
	if saved := int64(oldTotal - summaryTokens); saved > 0 {
		m.tokensSaved += saved
	}

	slog.Info("context compaction complete",
		"session", sessionID,
		"old_messages", len(old),
		"preserved_messages", len(recent),
		"total_tokens", s.TotalTokens,
	)
}

func (m *Manager) summarizeMessages(ctx context.Context, old []MessageEntry) string {
	if m.summarize != nil {
		prompt := buildSummarizePrompt(old, m.cfg.SummaryBudget)
		summary, err := m.summarize(ctx, prompt)
		if err == nil && summary != "" {
			return summaryHeader + summary
		}
		slog.Error("llm summarization failed, using rule-based digest", "error", err)
	}
	return summaryHeader + ruleBasedDigest(old)
}

// GetContextForLLM returns the session's messages in canonical form.
// Summaries are kept when includeSummaries is true (planning), filtered
// otherwise (display).
func (m *Manager) GetContextForLLM(sessionID string, includeSummaries bool) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	turns := make([]Turn, 0, len(s.Messages))
	for _, msg := range s.Messages {
		if !includeSummaries && msg.IsSummary() {
			continue
		}
		turns = append(turns, Turn{Role: string(msg.Role), Content: msg.Content})
	}
	return turns
}

// Messages returns a copy of the session's raw entries.
func (m *Manager) Messages(sessionID string) []MessageEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]MessageEntry, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// ResetSession discards the session, restoring the fresh-budget state.
func (m *Manager) ResetSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Usage returns a snapshot for the session (zero-valued if absent).
func (m *Manager) Usage(sessionID string) Usage {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := Usage{MaxTokens: m.cfg.MaxTokens, AvailableTokens: m.cfg.MaxTokens}
	if s, ok := m.sessions[sessionID]; ok {
		u.TotalTokens = s.TotalTokens
		u.AvailableTokens = m.cfg.MaxTokens - s.TotalTokens
		u.MessageCount = len(s.Messages)
		u.CompactionCount = s.CompactionCount
	}
	return u
}

// Stats returns cumulative compaction counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Compactions: m.compactions, TokensSaved: m.tokensSaved}
}

// session returns the buffer for id, creating it if absent. Callers hold
// the lock.
func (m *Manager) session(id string) *Session {
	s, ok := m.sessions[id]
	if !ok {
		s = &Session{ID: id}
		m.sessions[id] = s
	}
	return s
}
