package planner

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// Pattern maps a compiled regex to a precomputed plan. Patterns are
// case-insensitive, evaluated in declaration order, first match wins.
type Pattern struct {
	Name string
	re   *regexp.Regexp
	Plan ToolPlan
}

// PatternTable is the L1 matcher. Cheap enough that a miss costs well under
// a millisecond even with hundreds of patterns. User patterns sit in front
// of the builtins and can be swapped at runtime (config reload).
type PatternTable struct {
	mu       sync.RWMutex
	user     []Pattern
	builtins []Pattern
}

// builtinPatterns cover the high-frequency assistant queries. Tool names
// that a deployment does not register are skipped at execution time.
var builtinPatterns = []struct {
	name, expr string
	plan       ToolPlan
}{
	{
		name: "day_overview",
		expr: `what'?s my day|how'?s my day looking|today'?s schedule|plan for today`,
		plan: ToolPlan{
			Tools:             []string{"calendar_search", "weather", "email_search"},
			ParallelGroups:    [][]string{{"calendar_search", "weather", "email_search"}},
			Reasoning:         "Day overview: gather schedule, weather and inbox in parallel.",
			ExpectedSynthesis: "A short briefing of today's meetings, weather and notable emails.",
		},
	},
	{
		name: "email_search",
		expr: `search|find|did .* email`,
		plan: ToolPlan{
			Tools:             []string{"email_search"},
			ParallelGroups:    [][]string{{"email_search"}},
			Reasoning:         "Direct email lookup.",
			ExpectedSynthesis: "The matching emails, most relevant first.",
		},
	},
	{
		name: "calendar",
		expr: `am i free|upcoming events|next meeting|my calendar`,
		plan: ToolPlan{
			Tools:             []string{"calendar_search"},
			ParallelGroups:    [][]string{{"calendar_search"}},
			Reasoning:         "Direct calendar lookup.",
			ExpectedSynthesis: "The relevant calendar entries.",
		},
	},
	{
		name: "weather",
		expr: `weather|forecast`,
		plan: ToolPlan{
			Tools:             []string{"weather"},
			ParallelGroups:    [][]string{{"weather"}},
			Reasoning:         "Direct weather lookup.",
			ExpectedSynthesis: "Current conditions and the short-term forecast.",
		},
	},
	{
		name: "datetime",
		expr: `what time is it|current time|what'?s the date|today'?s date`,
		plan: ToolPlan{
			Tools:             []string{"current_datetime"},
			ParallelGroups:    [][]string{{"current_datetime"}},
			Reasoning:         "Direct time lookup.",
			ExpectedSynthesis: "The current date and time.",
		},
	},
}

// NewPatternTable builds the table from the builtin patterns.
func NewPatternTable() *PatternTable {
	t := &PatternTable{}
	for _, b := range builtinPatterns {
		t.builtins = append(t.builtins, Pattern{
			Name: b.name,
			re:   regexp.MustCompile(`(?i)` + b.expr),
			Plan: b.plan,
		})
	}
	return t
}

// patternFile is the YAML shape of a user-supplied pattern file.
type patternFile struct {
	Patterns []struct {
		Name              string     `yaml:"name"`
		Pattern           string     `yaml:"pattern"`
		Tools             []string   `yaml:"tools"`
		ParallelGroups    [][]string `yaml:"parallel_groups"`
		Reasoning         string     `yaml:"reasoning"`
		ExpectedSynthesis string     `yaml:"expected_synthesis"`
	} `yaml:"patterns"`
}

// LoadFile loads patterns from a YAML file in front of the builtins, so
// user patterns take precedence. A repeated call replaces the previously
// loaded set. Missing file is an error; configure no file to skip.
func (t *PatternTable) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read patterns file: %w", err)
	}

	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parse patterns file: %w", err)
	}

	loaded := make([]Pattern, 0, len(pf.Patterns))
	for _, entry := range pf.Patterns {
		re, err := regexp.Compile(`(?i)` + entry.Pattern)
		if err != nil {
			return fmt.Errorf("pattern %q: %w", entry.Name, err)
		}
		plan := ToolPlan{
			Tools:             entry.Tools,
			ParallelGroups:    entry.ParallelGroups,
			Reasoning:         entry.Reasoning,
			ExpectedSynthesis: entry.ExpectedSynthesis,
		}
		if len(plan.ParallelGroups) == 0 && len(plan.Tools) > 0 {
			plan.ParallelGroups = [][]string{plan.Tools}
		}
		if err := plan.Validate(); err != nil {
			return fmt.Errorf("pattern %q: %w", entry.Name, err)
		}
		loaded = append(loaded, Pattern{Name: entry.Name, re: re, Plan: plan})
	}

	t.mu.Lock()
	t.user = loaded
	t.mu.Unlock()
	return nil
}

// Match returns a copy of the first matching pattern's plan.
func (t *PatternTable) Match(query string) (*ToolPlan, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, patterns := range [][]Pattern{t.user, t.builtins} {
		for _, p := range patterns {
			if p.re.MatchString(query) {
				plan := p.Plan
				plan.Source = SourcePattern
				return &plan, true
			}
		}
	}
	return nil, false
}

// Len returns the number of registered patterns.
func (t *PatternTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.user) + len(t.builtins)
}
