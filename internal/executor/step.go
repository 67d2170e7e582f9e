// Package executor runs the steps of a tool plan concurrently, honoring
// group dependencies, priorities, retries and per-step timeouts.
package executor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/tool"

	"github.com/skylattice/orbit/internal/planner"
	"github.com/skylattice/orbit/internal/tools"
)

// Status is the lifecycle state of a step. Transitions are monotonic:
// pending → ready → running → completed|failed. Skipped is terminal and set
// when a dependency ends failed or skipped.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Step is one scheduled tool call. The executor owns the runtime fields; the
// tool handle stays owned by the registry.
type Step struct {
	ToolName     string
	Tool         tool.InvokableTool
	Args         map[string]any
	Dependencies map[string]bool
	Priority     int // 1..10, higher runs earlier within a batch
	RetryCount   int
	Timeout      time.Duration

	Status    Status
	Attempts  int
	Result    any
	Err       error
	StartTime time.Time
	EndTime   time.Time
}

// Terminal reports whether the step reached a final state.
func (s *Step) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed || s.Status == StatusSkipped
}

// FromPlan converts a plan into executable steps. Each tool in parallel
// group k depends on every tool of groups 0..k-1 and gets priority 10-k, so
// earlier groups win batch slots. args is passed to every step. Tools absent
// from the registry become skipped steps; their dependents are skipped by
// the scheduler once the dependency can never complete.
func FromPlan(plan *planner.ToolPlan, reg *tools.Registry, args map[string]any, retryCount int, timeout time.Duration) []*Step {
	var steps []*Step
	prior := make(map[string]bool)

	for k, group := range plan.ParallelGroups {
		priority := 10 - k
		if priority < 1 {
			priority = 1
		}

		deps := make(map[string]bool, len(prior))
		for name := range prior {
			deps[name] = true
		}

		for _, name := range group {
			step := &Step{
				ToolName:     name,
				Tool:         reg.Tool(name),
				Args:         args,
				Dependencies: deps,
				Priority:     priority,
				RetryCount:   retryCount,
				Timeout:      timeout,
				Status:       StatusPending,
			}
			if step.Tool == nil {
				slog.Warn("planned tool is not registered, skipping", "tool", name)
				step.Status = StatusSkipped
				step.Err = fmt.Errorf("tool %q not registered", name)
			}
			steps = append(steps, step)
		}

		for _, name := range group {
			prior[name] = true
		}
	}
	return steps
}
