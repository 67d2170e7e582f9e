package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// USER EVENTS
// =============================================================================

type UserMessagePayload struct {
	Content string `json:"content"`
}

func (UserMessagePayload) EventType() EventType { return EventUserMessage }

// =============================================================================
// COMMENTARY EVENTS
// =============================================================================

// ReasoningPayload carries free-form step commentary.
type ReasoningPayload struct {
	Content    string   `json:"content"`
	Confidence float64  `json:"confidence,omitempty"`
	Chain      []string `json:"chain,omitempty"`
}

func (ReasoningPayload) EventType() EventType { return EventReasoning }

type ThoughtPayload struct {
	Content string `json:"content"`
}

func (ThoughtPayload) EventType() EventType { return EventThought }

type InsightPayload struct {
	Content string `json:"content"`
}

func (InsightPayload) EventType() EventType { return EventInsight }

type DecisionPayload struct {
	Content string `json:"content"`
	Reason  string `json:"reason,omitempty"`
}

func (DecisionPayload) EventType() EventType { return EventDecision }

type DataPayload struct {
	Label string `json:"label,omitempty"`
	Data  any    `json:"data"`
}

func (DataPayload) EventType() EventType { return EventData }

// =============================================================================
// PLANNING / EXECUTION EVENTS
// =============================================================================

// PlanPayload is emitted once per request when a tool plan is selected.
type PlanPayload struct {
	Steps          []string   `json:"steps"`
	ParallelGroups [][]string `json:"parallel_groups"`
	Strategy       string     `json:"strategy,omitempty"`
}

func (PlanPayload) EventType() EventType { return EventPlan }

type ToolStatus string

const (
	ToolStatusStarted    ToolStatus = "started"
	ToolStatusInProgress ToolStatus = "in_progress"
	ToolStatusCompleted  ToolStatus = "completed"
	ToolStatusFailed     ToolStatus = "failed"
)

type ToolExecutionPayload struct {
	Status          ToolStatus     `json:"status"`
	Name            string         `json:"name"`
	Arguments       map[string]any `json:"arguments,omitempty"`
	Result          any            `json:"result,omitempty"`
	ProgressPercent float64        `json:"progress_percent,omitempty"`
	Duration        time.Duration  `json:"duration,omitempty"`
	Error           string         `json:"error,omitempty"`
}

func (ToolExecutionPayload) EventType() EventType { return EventToolExecution }

type ProgressPayload struct {
	CurrentStep     int           `json:"current_step"`
	TotalSteps      int           `json:"total_steps"`
	PercentComplete float64       `json:"percent_complete"`
	CurrentAction   string        `json:"current_action,omitempty"`
	ETA             time.Duration `json:"eta,omitempty"`
}

func (ProgressPayload) EventType() EventType { return EventProgress }

type AgentStatus string

const (
	StatusInitializing        AgentStatus = "initializing"
	StatusExecuting           AgentStatus = "executing"
	StatusCompleted           AgentStatus = "completed"
	StatusCompletedWithErrors AgentStatus = "completed_with_errors"
)

type AgentStatusPayload struct {
	Status AgentStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

func (AgentStatusPayload) EventType() EventType { return EventAgentStatus }

// =============================================================================
// LIFECYCLE EVENTS
// =============================================================================

// Timing is the latency breakdown attached to the final message, in
// milliseconds.
type Timing struct {
	TotalMS     int64 `json:"total"`
	PlanMS      int64 `json:"plan"`
	ExecutionMS int64 `json:"execution"`
	SynthesisMS int64 `json:"synthesis"`
}

// ContextUsage is a snapshot of the session's context window.
type ContextUsage struct {
	TotalTokens     int `json:"total_tokens"`
	MaxTokens       int `json:"max_tokens"`
	AvailableTokens int `json:"available_tokens"`
	MessageCount    int `json:"message_count"`
	CompactionCount int `json:"compaction_count"`
}

// MessagePayload carries the final assistant response.
type MessagePayload struct {
	Content      string        `json:"content"`
	Timing       *Timing       `json:"timing,omitempty"`
	ContextUsage *ContextUsage `json:"context_usage,omitempty"`
}

func (MessagePayload) EventType() EventType { return EventMessage }

type ErrorPayload struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	Recovery    string `json:"recovery,omitempty"`
}

func (ErrorPayload) EventType() EventType { return EventError }

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type ApprovalRequiredPayload struct {
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
	Risk   RiskLevel `json:"risk"`
	Token  string    `json:"token"`
}

func (ApprovalRequiredPayload) EventType() EventType { return EventApprovalRequired }

type SessionResetPayload struct {
	SessionID string `json:"session_id"`
}

func (SessionResetPayload) EventType() EventType { return EventSessionReset }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func NewTypedEventWithSession(source EventSource, payload EventPayload, sessionID string) Event {
	return Event{
		ID:        generateEventID(),
		SessionID: sessionID,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetUserMessagePayload(e Event) (UserMessagePayload, bool) {
	return ExtractPayload[UserMessagePayload](e)
}

func GetReasoningPayload(e Event) (ReasoningPayload, bool) {
	return ExtractPayload[ReasoningPayload](e)
}

func GetPlanPayload(e Event) (PlanPayload, bool) {
	return ExtractPayload[PlanPayload](e)
}

func GetToolExecutionPayload(e Event) (ToolExecutionPayload, bool) {
	return ExtractPayload[ToolExecutionPayload](e)
}

func GetProgressPayload(e Event) (ProgressPayload, bool) {
	return ExtractPayload[ProgressPayload](e)
}

func GetAgentStatusPayload(e Event) (AgentStatusPayload, bool) {
	return ExtractPayload[AgentStatusPayload](e)
}

func GetMessagePayload(e Event) (MessagePayload, bool) {
	return ExtractPayload[MessagePayload](e)
}

func GetErrorPayload(e Event) (ErrorPayload, bool) {
	return ExtractPayload[ErrorPayload](e)
}
