package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/skylattice/orbit/internal/config"
	"github.com/skylattice/orbit/internal/events"
	"github.com/skylattice/orbit/internal/planner"
	"github.com/skylattice/orbit/internal/tools"
)

func testExecutor(maxParallel int, retryDelay time.Duration) *Executor {
	return New(config.ExecutorConfig{
		MaxParallel: maxParallel,
		RetryDelay:  config.Duration(retryDelay),
		StepTimeout: config.Duration(5 * time.Second),
	}, nil)
}

func makeTool(name string, fn tools.Func) *tools.FuncTool {
	return tools.NewFuncTool(&schema.ToolInfo{Name: name, Desc: name}, fn)
}

func makeStep(name string, deps []string, fn tools.Func) *Step {
	depSet := make(map[string]bool, len(deps))
	for _, d := range deps {
		depSet[d] = true
	}
	return &Step{
		ToolName:     name,
		Tool:         makeTool(name, fn),
		Args:         map[string]any{},
		Dependencies: depSet,
		Priority:     5,
		Status:       StatusPending,
	}
}

func sleepTool(d time.Duration, result any) tools.Func {
	return func(ctx context.Context, _ map[string]any) (any, error) {
		select {
		case <-time.After(d):
			return result, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestExecute_IndependentStepsRunInParallel(t *testing.T) {
	e := testExecutor(10, time.Millisecond)
	steps := []*Step{
		makeStep("a", nil, sleepTool(50*time.Millisecond, "ra")),
		makeStep("b", nil, sleepTool(50*time.Millisecond, "rb")),
		makeStep("c", nil, sleepTool(50*time.Millisecond, "rc")),
	}

	start := time.Now()
	res, err := e.Execute(context.Background(), "s", steps)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || len(res.Results) != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if elapsed >= 150*time.Millisecond {
		t.Errorf("3 parallel 50ms steps took %s, expected well under 150ms", elapsed)
	}
	if res.Results["a"] != "ra" {
		t.Errorf("result a = %v", res.Results["a"])
	}
}

func TestExecute_DependencyChainRunsInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) tools.Func {
		return func(context.Context, map[string]any) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	e := testExecutor(10, time.Millisecond)
	steps := []*Step{
		makeStep("a", nil, record("a")),
		makeStep("b", []string{"a"}, record("b")),
		makeStep("c", []string{"b"}, record("c")),
	}

	res, err := e.Execute(context.Background(), "s", steps)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("chain should succeed: %+v", res.Errors)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
}

func TestExecute_FailureIsIsolated(t *testing.T) {
	e := testExecutor(10, time.Millisecond)
	steps := []*Step{
		makeStep("a", nil, func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("boom")
		}),
		makeStep("b", nil, sleepTool(10*time.Millisecond, "rb")),
		makeStep("c", nil, sleepTool(10*time.Millisecond, "rc")),
	}

	res, err := e.Execute(context.Background(), "s", steps)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("a failed step must fail the run")
	}
	if len(res.Results) != 2 {
		t.Errorf("independent steps should still complete: %v", res.Results)
	}
	if _, ok := res.Errors["a"]; !ok {
		t.Errorf("errors should name the failed step: %v", res.Errors)
	}
	if len(res.Results)+len(res.Errors) != len(steps) {
		t.Error("every step should land in results or errors")
	}
}

func TestExecute_RetrySucceedsOnSecondAttempt(t *testing.T) {
	calls := 0
	flaky := func(context.Context, map[string]any) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}

	e := testExecutor(10, 5*time.Millisecond)
	step := makeStep("flaky", nil, flaky)
	step.RetryCount = 2

	res, err := e.Execute(context.Background(), "s", []*Step{step})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("flaky step should recover: %+v", res.Errors)
	}
	if step.Status != StatusCompleted || step.Attempts != 2 {
		t.Errorf("status=%s attempts=%d, want completed/2", step.Status, step.Attempts)
	}
}

func TestExecute_FailureCascadesToDependents(t *testing.T) {
	e := testExecutor(10, time.Millisecond)
	steps := []*Step{
		makeStep("a", nil, func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("boom")
		}),
		makeStep("b", []string{"a"}, sleepTool(time.Millisecond, "rb")),
		makeStep("c", []string{"b"}, sleepTool(time.Millisecond, "rc")),
	}

	res, err := e.Execute(context.Background(), "s", steps)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, name := range []string{"b", "c"} {
		if res.Errors[name] != "Unmet dependencies or dependency failure" {
			t.Errorf("%s error = %q", name, res.Errors[name])
		}
	}
	if steps[1].Status != StatusSkipped || steps[2].Status != StatusSkipped {
		t.Errorf("dependents should be skipped: %s, %s", steps[1].Status, steps[2].Status)
	}
	if len(res.Results)+len(res.Errors) != len(steps) {
		t.Error("every step should land in results or errors")
	}
}

func TestExecute_MaxParallelOneHonorsPriority(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) tools.Func {
		return func(context.Context, map[string]any) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	e := testExecutor(1, time.Millisecond)
	low := makeStep("low", nil, record("low"))
	low.Priority = 3
	high := makeStep("high", nil, record("high"))
	high.Priority = 9
	mid := makeStep("mid", nil, record("mid"))
	mid.Priority = 5

	if _, err := e.Execute(context.Background(), "s", []*Step{low, high, mid}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []string{"high", "mid", "low"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestExecute_TimeoutRetriesThenFails(t *testing.T) {
	e := testExecutor(10, time.Millisecond)
	step := makeStep("slow", nil, sleepTool(time.Second, "never"))
	step.RetryCount = 2
	step.Timeout = 20 * time.Millisecond

	res, err := e.Execute(context.Background(), "s", []*Step{step})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || step.Status != StatusFailed {
		t.Fatalf("slow step should fail, status=%s", step.Status)
	}
	if step.Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", step.Attempts)
	}
	if !strings.Contains(res.Errors["slow"], "timed out") {
		t.Errorf("error should mention the timeout: %q", res.Errors["slow"])
	}
}

func TestExecute_CancellationAbortsBackoffSleep(t *testing.T) {
	e := testExecutor(10, 10*time.Second)
	step := makeStep("failing", nil, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	step.RetryCount = 3

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := e.Execute(ctx, "s", []*Step{step})
	if time.Since(start) > time.Second {
		t.Fatal("cancellation should interrupt the retry backoff")
	}
	if err != nil {
		t.Fatalf("step failure before the next loop iteration is not an Execute error: %v", err)
	}
	if step.Status != StatusFailed || !errors.Is(step.Err, context.Canceled) {
		t.Errorf("status=%s err=%v, want failed/context.Canceled", step.Status, step.Err)
	}
	if res.Success {
		t.Error("cancelled run must not report success")
	}
}

func TestExecute_InitialDeadlockReturnsError(t *testing.T) {
	e := testExecutor(10, time.Millisecond)
	step := makeStep("orphan", []string{"ghost"}, sleepTool(time.Millisecond, "never"))

	res, err := e.Execute(context.Background(), "s", []*Step{step})
	if !errors.Is(err, ErrDeadlock) {
		t.Fatalf("err = %v, want ErrDeadlock", err)
	}
	if step.Status != StatusSkipped {
		t.Errorf("status = %s, want skipped", step.Status)
	}
	if res.Errors["orphan"] != "Unmet dependencies or dependency failure" {
		t.Errorf("error = %q", res.Errors["orphan"])
	}
}

func TestExecute_EmitsToolAndProgressEvents(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	ch, unsub := bus.SubscribeChan(64, events.EventToolExecution, events.EventProgress)
	defer unsub()

	e := New(config.ExecutorConfig{
		MaxParallel: 10,
		RetryDelay:  config.Duration(time.Millisecond),
	}, bus)
	steps := []*Step{makeStep("a", nil, sleepTool(time.Millisecond, "ra"))}

	if _, err := e.Execute(context.Background(), "sess-1", steps); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var statuses []events.ToolStatus
	progress := 0
	deadline := time.After(2 * time.Second)
	for len(statuses) < 2 || progress < 1 {
		select {
		case ev := <-ch:
			if ev.SessionID != "sess-1" {
				t.Errorf("event session = %q", ev.SessionID)
			}
			switch ev.Type {
			case events.EventToolExecution:
				p, _ := events.GetToolExecutionPayload(ev)
				statuses = append(statuses, p.Status)
			case events.EventProgress:
				p, _ := events.GetProgressPayload(ev)
				if p.TotalSteps != 1 || p.PercentComplete != 100 {
					t.Errorf("unexpected progress payload: %+v", p)
				}
				progress++
			}
		case <-deadline:
			t.Fatalf("missing events: statuses=%v progress=%d", statuses, progress)
		}
	}
	if statuses[0] != events.ToolStatusStarted || statuses[1] != events.ToolStatusCompleted {
		t.Errorf("tool statuses = %v", statuses)
	}
}

func TestFromPlan_GroupsBecomeDependencies(t *testing.T) {
	ctx := context.Background()
	reg := tools.NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		if err := reg.Register(ctx, makeTool(name, sleepTool(0, name))); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	plan := &planner.ToolPlan{
		Tools:          []string{"a", "b", "c"},
		ParallelGroups: [][]string{{"a", "b"}, {"c"}},
	}
	steps := FromPlan(plan, reg, map[string]any{"query": "q"}, 1, time.Second)

	if len(steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(steps))
	}
	byName := map[string]*Step{}
	for _, s := range steps {
		byName[s.ToolName] = s
	}
	if len(byName["a"].Dependencies) != 0 || byName["a"].Priority != 10 {
		t.Errorf("group 0 step: %+v", byName["a"])
	}
	c := byName["c"]
	if !c.Dependencies["a"] || !c.Dependencies["b"] || len(c.Dependencies) != 2 {
		t.Errorf("group 1 dependencies = %v", c.Dependencies)
	}
	if c.Priority != 9 {
		t.Errorf("group 1 priority = %d, want 9", c.Priority)
	}
	if c.RetryCount != 1 || c.Timeout != time.Second {
		t.Errorf("retry/timeout not applied: %+v", c)
	}
}

func TestFromPlan_UnregisteredToolSkipsItsDependents(t *testing.T) {
	ctx := context.Background()
	reg := tools.NewRegistry()
	if err := reg.Register(ctx, makeTool("real", sleepTool(0, "ok"))); err != nil {
		t.Fatalf("Register: %v", err)
	}

	plan := &planner.ToolPlan{
		Tools:          []string{"ghost", "real"},
		ParallelGroups: [][]string{{"ghost"}, {"real"}},
	}
	steps := FromPlan(plan, reg, nil, 0, time.Second)

	if steps[0].Status != StatusSkipped {
		t.Fatalf("unregistered tool status = %s, want skipped", steps[0].Status)
	}

	e := testExecutor(10, time.Millisecond)
	res, err := e.Execute(context.Background(), "s", steps)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("run with a skipped step must not succeed")
	}
	if steps[1].Status != StatusSkipped {
		t.Errorf("dependent of a missing tool should be skipped, got %s", steps[1].Status)
	}
	if len(res.Results)+len(res.Errors) != 2 {
		t.Error("every step should land in results or errors")
	}
}

func TestExecute_ToolsSeeSessionIDInContext(t *testing.T) {
	var seen string
	steps := []*Step{
		makeStep("probe", nil, func(ctx context.Context, _ map[string]any) (any, error) {
			seen = events.SessionIDFromContext(ctx)
			return "ok", nil
		}),
	}

	e := testExecutor(1, time.Millisecond)
	if _, err := e.Execute(context.Background(), "sess_ctx", steps); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if seen != "sess_ctx" {
		t.Errorf("tool saw session %q, want %q", seen, "sess_ctx")
	}
}
