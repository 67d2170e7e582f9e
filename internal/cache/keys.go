package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Default tier policies.
const (
	CompletionTTL      = 24 * time.Hour
	CompletionShortTTL = 4 * time.Hour // queries about "now" go stale fast
	CompletionGrace    = time.Hour

	// Above this sampling temperature the completion lookup is skipped and
	// only the write-through happens: the response is too random to reuse,
	// but a future identical request at a lower temperature can still
	// benefit.
	CompletionTempBypass = 0.5

	ToolTTLDefault = time.Hour
	ToolTTLMin     = 30 * time.Minute
	ToolTTLMax     = 4 * time.Hour
	ToolGrace      = 5 * time.Minute

	PlanTTL   = 30 * 24 * time.Hour
	PlanGrace = 7 * 24 * time.Hour
)

// NewCompletionCache builds the completion tier over backend.
func NewCompletionCache(backend Backend) *Cache {
	return New(Config{Name: "completion", TTL: CompletionTTL, Grace: CompletionGrace}, backend)
}

// NewToolCache builds the tool-result tier over backend.
func NewToolCache(backend Backend) *Cache {
	return New(Config{Name: "tool", TTL: ToolTTLDefault, Grace: ToolGrace}, backend)
}

// NewPlanCache builds the plan tier over backend.
func NewPlanCache(backend Backend) *Cache {
	return New(Config{Name: "plan", TTL: PlanTTL, Grace: PlanGrace}, backend)
}

// temporalRe matches queries whose answers depend on the current moment.
var temporalRe = regexp.MustCompile(`(?i)\b(today|now|current|tomorrow|yesterday|this\s+(morning|afternoon|evening|week|month))\b`)

// HasTemporalMarkers reports whether the text references the current moment.
func HasTemporalMarkers(text string) bool {
	return temporalRe.MatchString(text)
}

// CompletionTTLFor returns the TTL for a completion keyed on the given
// prompt: temporal queries expire in hours, not days.
func CompletionTTLFor(prompt string) time.Duration {
	if HasTemporalMarkers(prompt) {
		return CompletionShortTTL
	}
	return CompletionTTL
}

// CompletionKey derives a key from the full sampling configuration, so two
// requests differing only in temperature or penalties never collide.
func CompletionKey(prompt, model string, temperature float64, maxTokens int, topP, frequencyPenalty, presencePenalty float64) string {
	canonical := fmt.Sprintf("%s|%s|%.3f|%d|%.3f|%.3f|%.3f",
		prompt, model, temperature, maxTokens, topP, frequencyPenalty, presencePenalty)
	return "completion:" + digest(canonical)
}

// ToolKey derives a key from the tool name and its canonicalized arguments.
// The tool name stays readable in the key so whole tool types can be
// invalidated by prefix.
func ToolKey(name string, args map[string]any) string {
	return "tool:" + name + ":" + digest(CanonicalArgs(args))
}

// ToolPrefix is the invalidation prefix covering all cached results of one
// tool.
func ToolPrefix(name string) string {
	return "tool:" + name + ":"
}

// PlanKey derives a key from the normalized query plus an optional context
// digest (timezone, location, preferences).
func PlanKey(query, contextDigest string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	return "plan:" + digest(normalized+"|"+contextDigest)
}

// CanonicalArgs serializes args as the sorted list of key=value pairs.
// Stable and order-independent, which is all short arg sets need.
func CanonicalArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(args))
	for k, v := range args {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// ClampToolTTL bounds a per-tool TTL to the allowed range; zero means the
// default.
func ClampToolTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return ToolTTLDefault
	case ttl < ToolTTLMin:
		return ToolTTLMin
	case ttl > ToolTTLMax:
		return ToolTTLMax
	default:
		return ttl
	}
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}
