// Package planner turns a user query into a ToolPlan through three layers:
// regex patterns, a semantic cache of past plans, and an LLM call.
package planner

import (
	"fmt"
)

// Plan sources, in lookup order.
const (
	SourcePattern  = "pattern"
	SourceCache    = "cache"
	SourceSemantic = "semantic"
	SourceLLM      = "llm"
)

// ToolPlan is an ordered list of parallel groups. Each group is a set of
// tool names that may execute concurrently; group k+1 depends on completion
// of all members of groups 0..k. An empty plan means "answer
// conversationally without tools".
type ToolPlan struct {
	Tools             []string   `json:"tools"`
	ParallelGroups    [][]string `json:"parallel_groups"`
	Reasoning         string     `json:"reasoning,omitempty"`
	ExpectedSynthesis string     `json:"expected_synthesis,omitempty"`
	Source            string     `json:"source,omitempty"`
}

// IsEmpty reports whether the plan selects no tools.
func (p *ToolPlan) IsEmpty() bool {
	return len(p.Tools) == 0
}

// Validate checks the structural invariants: groups are non-empty, no tool
// appears twice, and the union of groups equals the declared tool list.
func (p *ToolPlan) Validate() error {
	declared := make(map[string]bool, len(p.Tools))
	for _, t := range p.Tools {
		if t == "" {
			return fmt.Errorf("plan declares an empty tool name")
		}
		if declared[t] {
			return fmt.Errorf("plan declares tool %q twice", t)
		}
		declared[t] = true
	}

	seen := make(map[string]bool)
	for i, group := range p.ParallelGroups {
		if len(group) == 0 {
			return fmt.Errorf("parallel group %d is empty", i)
		}
		for _, t := range group {
			if seen[t] {
				return fmt.Errorf("tool %q appears in more than one group", t)
			}
			if !declared[t] {
				return fmt.Errorf("group %d references undeclared tool %q", i, t)
			}
			seen[t] = true
		}
	}

	if len(seen) != len(declared) {
		for t := range declared {
			if !seen[t] {
				return fmt.Errorf("declared tool %q missing from groups", t)
			}
		}
	}
	return nil
}

// singleGroup builds a one-group plan over the given tools.
func singleGroup(reasoning string, tools ...string) ToolPlan {
	return ToolPlan{
		Tools:          tools,
		ParallelGroups: [][]string{tools},
		Reasoning:      reasoning,
	}
}
