package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/skylattice/orbit/internal/config"
	"github.com/skylattice/orbit/internal/events"
)

// ErrDeadlock is returned when no step can run at all: the dependency graph
// is unsatisfiable before any work starts.
var ErrDeadlock = errors.New("execution deadlocked: unmet dependencies")

// skipReason is the error recorded on steps cascaded to skipped.
const skipReason = "Unmet dependencies or dependency failure"

// Result is the final artifact of an executor run. Every step lands in
// exactly one of Results or Errors.
type Result struct {
	Success       bool              `json:"success"`
	Results       map[string]any    `json:"results"`
	Errors        map[string]string `json:"errors"`
	TotalDuration time.Duration     `json:"total_duration"`
	Steps         []*Step           `json:"-"`
}

// Executor schedules steps in dependency order. One loop picks ready steps
// and launches up to maxParallel workers per batch; workers run the tools
// concurrently.
type Executor struct {
	maxParallel int
	retryDelay  time.Duration
	stepTimeout time.Duration
	bus         *events.Bus
}

// New creates an executor from config. bus may be nil to disable event
// emission.
func New(cfg config.ExecutorConfig, bus *events.Bus) *Executor {
	e := &Executor{
		maxParallel: cfg.MaxParallel,
		retryDelay:  cfg.RetryDelay.Duration(),
		stepTimeout: cfg.StepTimeout.Duration(),
		bus:         bus,
	}
	if e.maxParallel <= 0 {
		e.maxParallel = 10
	}
	if e.retryDelay <= 0 {
		e.retryDelay = time.Second
	}
	if e.stepTimeout <= 0 {
		e.stepTimeout = 30 * time.Second
	}
	return e
}

// Execute runs the steps until all reach a terminal state. A failed step
// never cancels independent steps; only its dependents cascade to skipped.
// The returned error is non-nil when the context was cancelled or when the
// graph deadlocked before any step ran; tool failures are reported through
// Result, not the error.
func (e *Executor) Execute(ctx context.Context, sessionID string, steps []*Step) (*Result, error) {
	// Session-scoped tools read the id back via events.SessionIDFromContext.
	ctx = events.ContextWithSessionID(ctx, sessionID)

	start := time.Now()
	res := &Result{
		Results: make(map[string]any),
		Errors:  make(map[string]string),
		Steps:   steps,
	}

	completed := make(map[string]bool, len(steps))
	terminal := 0
	for _, s := range steps {
		// Steps pre-skipped by FromPlan (unregistered tools).
		if s.Status == StatusSkipped {
			res.Errors[s.ToolName] = s.Err.Error()
			terminal++
		}
	}

	// A stall with no prior failures or pre-skipped steps means the graph
	// itself is unsatisfiable.
	unexplained := terminal == 0

	launched := false
	for terminal < len(steps) {
		if err := ctx.Err(); err != nil {
			terminal += skipRemaining(steps, res, "execution cancelled")
			return e.finish(res, start), err
		}

		ready := readySteps(steps, completed)
		if len(ready) == 0 {
			terminal += skipRemaining(steps, res, skipReason)
			if !launched && unexplained {
				return e.finish(res, start), ErrDeadlock
			}
			break
		}
		launched = true

		sort.SliceStable(ready, func(i, j int) bool {
			return ready[i].Priority > ready[j].Priority
		})
		if len(ready) > e.maxParallel {
			ready = ready[:e.maxParallel]
		}

		var wg sync.WaitGroup
		for _, s := range ready {
			wg.Add(1)
			go func(s *Step) {
				defer wg.Done()
				e.runStep(ctx, sessionID, s)
			}(s)
		}
		wg.Wait()

		for _, s := range ready {
			terminal++
			if s.Status == StatusCompleted {
				completed[s.ToolName] = true
				res.Results[s.ToolName] = s.Result
			} else {
				res.Errors[s.ToolName] = s.Err.Error()
			}
		}

		e.emitProgress(sessionID, len(steps), terminal, start)
	}

	return e.finish(res, start), nil
}

func (e *Executor) finish(res *Result, start time.Time) *Result {
	res.TotalDuration = time.Since(start)
	res.Success = len(res.Errors) == 0
	return res
}

// readySteps returns the steps whose dependencies are all completed, marking
// them ready.
func readySteps(steps []*Step, completed map[string]bool) []*Step {
	var ready []*Step
	for _, s := range steps {
		if s.Status != StatusPending && s.Status != StatusReady {
			continue
		}
		ok := true
		for dep := range s.Dependencies {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			s.Status = StatusReady
			ready = append(ready, s)
		}
	}
	return ready
}

// skipRemaining marks every non-terminal step skipped and records its error.
// Returns how many steps it skipped.
func skipRemaining(steps []*Step, res *Result, reason string) int {
	n := 0
	for _, s := range steps {
		if s.Terminal() {
			continue
		}
		s.Status = StatusSkipped
		s.Err = errors.New(reason)
		res.Errors[s.ToolName] = reason
		n++
	}
	return n
}

// runStep drives one step through its attempts. Each attempt runs under the
// step timeout; between attempts the backoff doubles and aborts on context
// cancellation.
func (e *Executor) runStep(ctx context.Context, sessionID string, s *Step) {
	s.Status = StatusRunning
	s.StartTime = time.Now()
	e.publish(sessionID, events.ToolExecutionPayload{
		Status:    events.ToolStatusStarted,
		Name:      s.ToolName,
		Arguments: s.Args,
	})

	argsJSON, err := json.Marshal(s.Args)
	if err != nil {
		e.failStep(sessionID, s, fmt.Errorf("marshal args: %w", err))
		return
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = e.stepTimeout
	}

	var lastErr error
	for attempt := 0; attempt <= s.RetryCount; attempt++ {
		s.Attempts = attempt + 1

		out, err := e.invoke(ctx, s, string(argsJSON), timeout)
		if err == nil {
			s.Result = decodeResult(out)
			s.Status = StatusCompleted
			s.EndTime = time.Now()
			e.publish(sessionID, events.ToolExecutionPayload{
				Status:   events.ToolStatusCompleted,
				Name:     s.ToolName,
				Result:   s.Result,
				Duration: s.EndTime.Sub(s.StartTime),
			})
			return
		}
		lastErr = err
		slog.Warn("tool attempt failed",
			"tool", s.ToolName, "attempt", s.Attempts, "error", err)

		if attempt < s.RetryCount {
			select {
			case <-time.After(e.retryDelay * (1 << attempt)):
			case <-ctx.Done():
				e.failStep(sessionID, s, ctx.Err())
				return
			}
		}
	}

	e.failStep(sessionID, s, lastErr)
}

func (e *Executor) failStep(sessionID string, s *Step, err error) {
	s.Status = StatusFailed
	s.Err = err
	s.EndTime = time.Now()
	e.publish(sessionID, events.ToolExecutionPayload{
		Status:   events.ToolStatusFailed,
		Name:     s.ToolName,
		Duration: s.EndTime.Sub(s.StartTime),
		Error:    err.Error(),
	})
}

// invoke runs one attempt under its own deadline. Cancel is deferred, not
// fired early, so the tool's context is released even on panic paths.
func (e *Executor) invoke(ctx context.Context, s *Step, argsJSON string, timeout time.Duration) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := s.Tool.InvokableRun(runCtx, argsJSON)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("tool %s timed out after %s", s.ToolName, timeout)
		}
		return "", err
	}
	return out, nil
}

// decodeResult parses tool output as JSON, falling back to the raw string.
func decodeResult(out string) any {
	var decoded any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		return out
	}
	return decoded
}

func (e *Executor) emitProgress(sessionID string, total, done int, start time.Time) {
	if e.bus == nil || total == 0 {
		return
	}
	remaining := total - done
	var eta time.Duration
	if done > 0 && remaining > 0 {
		eta = time.Since(start) / time.Duration(done) * time.Duration(remaining)
	}
	e.publish(sessionID, events.ProgressPayload{
		CurrentStep:     done,
		TotalSteps:      total,
		PercentComplete: float64(done) / float64(total) * 100,
		ETA:             eta,
	})
}

func (e *Executor) publish(sessionID string, payload events.EventPayload) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.NewTypedEventWithSession(events.SourceExecutor, payload, sessionID))
}
