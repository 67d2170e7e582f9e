// Package agent is the request controller: it feeds the context window,
// consults decision memory, plans, executes, synthesizes and streams the
// lifecycle as events.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/skylattice/orbit/internal/cache"
	"github.com/skylattice/orbit/internal/contextwin"
	"github.com/skylattice/orbit/internal/decision"
	"github.com/skylattice/orbit/internal/events"
	"github.com/skylattice/orbit/internal/executor"
	"github.com/skylattice/orbit/internal/models"
	"github.com/skylattice/orbit/internal/planner"
	"github.com/skylattice/orbit/internal/stream"
	"github.com/skylattice/orbit/internal/tools"
)

// ErrCircuitOpen is returned when decision memory stops a request before
// planning.
var ErrCircuitOpen = errors.New("decision circuit breaker is open")

// ErrLoopDetected is returned when decision memory sees the conversation
// repeating the same operations without progress.
var ErrLoopDetected = errors.New("repeated operations without progress")

// Config carries the per-agent knobs.
type Config struct {
	Name           string // agent id stamped on events
	ModelName      string // completion cache key component
	SystemPrompt   string
	StepRetryCount int
	StepTimeout    time.Duration
}

// Deps are the injected components. Completions may be nil to bypass the
// completion cache; Decisions may be nil to disable loop gating.
type Deps struct {
	Model       model.BaseChatModel
	Planner     *planner.Planner
	Executor    *executor.Executor
	Registry    *tools.Registry
	Window      *contextwin.Manager
	Decisions   *decision.Memory
	Streams     *stream.Manager
	Completions *cache.Cache
}

// Agent is stateless per request; all conversation state lives in the
// injected components.
type Agent struct {
	cfg  Config
	deps Deps
}

// New creates an agent.
func New(cfg Config, deps Deps) *Agent {
	if cfg.Name == "" {
		cfg.Name = "orbit"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = LoadPersona()
	}
	return &Agent{cfg: cfg, deps: deps}
}

// HandleMessage runs the full request lifecycle for one user message and
// returns the assistant reply. sessionCtx is the optional structured context
// (timezone, location, preferences) folded into the plan cache key.
func (a *Agent) HandleMessage(ctx context.Context, sessionID, message string, sessionCtx map[string]string) (string, error) {
	start := time.Now()
	s := a.deps.Streams.Session(sessionID, a.cfg.Name)

	a.deps.Window.AddMessage(ctx, sessionID, contextwin.RoleUser, message, nil)

	if a.deps.Decisions != nil && a.deps.Decisions.ShouldEarlyExit() {
		a.emitError(s, "I keep running into the same failures; please rephrase or reset the session.", true, "reset_session")
		return "", ErrCircuitOpen
	}

	s.Emit(events.SourceAgent, events.AgentStatusPayload{Status: events.StatusInitializing})

	// A question already answered in this conversation is not re-executed;
	// the reply comes from the history instead.
	if a.deps.Decisions != nil && a.deps.Decisions.HasAsked(ctx, message) {
		s.Emit(events.SourceAgent, events.DecisionPayload{
			Content: "Question was already answered in this conversation.",
			Reason:  "answering from context instead of re-running tools",
		})
		return a.converse(ctx, s, sessionID, message, start, 0)
	}

	s.Emit(events.SourceAgent, events.ReasoningPayload{Content: "Analyzing your request..."})

	planStart := time.Now()
	plan, err := a.deps.Planner.Plan(ctx, message, planner.ContextDigest(sessionCtx))
	if err != nil {
		a.recordOutcome(ctx, message, nil)
		a.emitError(s, fmt.Sprintf("planning failed: %v", err), true, "")
		return "", err
	}
	planDur := time.Since(planStart)

	// No tools selected: answer conversationally from history alone.
	if plan.IsEmpty() {
		return a.converse(ctx, s, sessionID, message, start, planDur)
	}

	s.Emit(events.SourceAgent, events.PlanPayload{
		Steps:          plan.Tools,
		ParallelGroups: plan.ParallelGroups,
		Strategy:       plan.Source,
	})

	execStart := time.Now()
	steps := executor.FromPlan(plan, a.deps.Registry,
		map[string]any{"query": message}, a.cfg.StepRetryCount, a.cfg.StepTimeout)
	a.gateSteps(steps)

	s.Emit(events.SourceAgent, events.AgentStatusPayload{Status: events.StatusExecuting})
	res, err := a.deps.Executor.Execute(ctx, sessionID, steps)
	execDur := time.Since(execStart)
	if err != nil {
		a.recordOutcome(ctx, message, nil)
		a.emitError(s, fmt.Sprintf("execution failed: %v", err), false, "")
		return "", err
	}

	// Oscillation is only checked when this request actually added
	// outcomes; a request whose steps were all budget-skipped must not
	// re-trip on the stale tail of the log.
	if a.recordSteps(steps) > 0 && a.deps.Decisions != nil && a.deps.Decisions.IsLooping(0) {
		a.emitError(s, "I'm repeating the same operations without making progress; please rephrase or reset the session.", true, "reset_session")
		return "", ErrLoopDetected
	}

	s.Emit(events.SourceAgent, events.ReasoningPayload{Content: "Synthesizing response..."})
	synthStart := time.Now()
	reply, err := a.synthesize(ctx, sessionID, message, res)
	if err != nil {
		a.recordOutcome(ctx, message, nil)
		a.emitError(s, fmt.Sprintf("response generation failed: %v", err), models.IsRetryable(err), "")
		return "", err
	}
	synthDur := time.Since(synthStart)

	a.recordOutcome(ctx, message, reply)
	a.deps.Window.AddMessage(ctx, sessionID, contextwin.RoleAssistant, reply, nil)

	status := events.StatusCompleted
	if !res.Success {
		status = events.StatusCompletedWithErrors
	}
	s.Emit(events.SourceAgent, events.AgentStatusPayload{Status: status})

	a.emitFinal(s, sessionID, reply, time.Since(start), planDur, execDur, synthDur)
	return reply, nil
}

// converse is the no-tools fallback: one model call over the conversation
// history.
func (a *Agent) converse(ctx context.Context, s *stream.Session, sessionID, message string, start time.Time, planDur time.Duration) (string, error) {
	synthStart := time.Now()

	turns := a.deps.Window.GetContextForLLM(sessionID, true)
	msgs := make([]*schema.Message, 0, len(turns)+1)
	if a.cfg.SystemPrompt != "" {
		msgs = append(msgs, schema.SystemMessage(a.cfg.SystemPrompt))
	}
	for _, t := range turns {
		switch contextwin.Role(t.Role) {
		case contextwin.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		case contextwin.RoleSystem:
			msgs = append(msgs, schema.SystemMessage(t.Content))
		default:
			msgs = append(msgs, schema.UserMessage(t.Content))
		}
	}

	resp, err := a.deps.Model.Generate(ctx, msgs)
	if err != nil {
		err = models.HandleError(err)
		a.recordOutcome(ctx, message, nil)
		a.emitError(s, fmt.Sprintf("response generation failed: %v", err), models.IsRetryable(err), "")
		return "", err
	}
	reply := resp.Content

	a.recordOutcome(ctx, message, reply)
	a.deps.Window.AddMessage(ctx, sessionID, contextwin.RoleAssistant, reply, nil)
	s.Emit(events.SourceAgent, events.AgentStatusPayload{Status: events.StatusCompleted})
	a.emitFinal(s, sessionID, reply, time.Since(start), planDur, 0, time.Since(synthStart))
	return reply, nil
}

// gateSteps skips steps whose identical-call budget is exhausted, so the
// executor never burns a slot repeating a call that already ran enough
// times. Skipped steps surface as errors in the result and the synthesis
// names them.
func (a *Agent) gateSteps(steps []*executor.Step) {
	if a.deps.Decisions == nil {
		return
	}
	for _, step := range steps {
		if step.Status != executor.StatusPending {
			continue
		}
		if a.deps.Decisions.HasExecutedTool(step.ToolName, step.Args) {
			step.Status = executor.StatusSkipped
			step.Err = fmt.Errorf("tool %s already executed with identical arguments", step.ToolName)
		}
	}
}

// recordSteps feeds execution outcomes into decision memory so repeated
// failures eventually trip the breaker. Returns how many outcomes it
// recorded; skipped steps are not outcomes.
func (a *Agent) recordSteps(steps []*executor.Step) int {
	if a.deps.Decisions == nil {
		return 0
	}
	recorded := 0
	for _, step := range steps {
		switch step.Status {
		case executor.StatusCompleted:
			a.deps.Decisions.RecordToolExecution(step.ToolName, step.Args, step.Result)
			recorded++
		case executor.StatusFailed:
			a.deps.Decisions.RecordToolExecution(step.ToolName, step.Args, step.Err)
			recorded++
		}
	}
	return recorded
}

// recordOutcome logs the user request as a question decision: failed
// requests count toward the circuit breaker, answered ones relax it and
// make HasAsked match future repeats.
func (a *Agent) recordOutcome(ctx context.Context, message string, reply any) {
	if a.deps.Decisions == nil {
		return
	}
	a.deps.Decisions.RecordQuestion(ctx, message, reply)
}

// Reset clears a session's conversation, decisions and stream.
func (a *Agent) Reset(sessionID string) {
	s := a.deps.Streams.Session(sessionID, a.cfg.Name)
	s.Emit(events.SourceAgent, events.SessionResetPayload{SessionID: sessionID})

	a.deps.Window.ResetSession(sessionID)
	if a.deps.Decisions != nil {
		a.deps.Decisions.Clear()
	}
	a.deps.Streams.Remove(sessionID)
}

func (a *Agent) emitError(s *stream.Session, msg string, recoverable bool, recovery string) {
	s.Emit(events.SourceAgent, events.ErrorPayload{
		Message:     msg,
		Recoverable: recoverable,
		Recovery:    recovery,
	})
}

func (a *Agent) emitFinal(s *stream.Session, sessionID, reply string, total, plan, exec, synth time.Duration) {
	usage := a.deps.Window.Usage(sessionID)
	s.Emit(events.SourceAgent, events.MessagePayload{
		Content: reply,
		Timing: &events.Timing{
			TotalMS:     total.Milliseconds(),
			PlanMS:      plan.Milliseconds(),
			ExecutionMS: exec.Milliseconds(),
			SynthesisMS: synth.Milliseconds(),
		},
		ContextUsage: &events.ContextUsage{
			TotalTokens:     usage.TotalTokens,
			MaxTokens:       usage.MaxTokens,
			AvailableTokens: usage.AvailableTokens,
			MessageCount:    usage.MessageCount,
			CompactionCount: usage.CompactionCount,
		},
	})
}
