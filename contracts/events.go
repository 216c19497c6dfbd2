package contracts

import (
	"encoding/json"
	"time"
)

// Well-known queue names. These are the shared vocabulary between the
// topology registry, the publishers, and event decoding.
const (
	QueueAgentRunEvents       = "agent.runs.events"
	QueueAgentLLMCalls        = "agent.llm.calls"
	QueueAgentToolInvocations = "agent.tool.invocations"
	QueueBudgetAlerts         = "budget.alerts"
)

// EventKind identifies the decoded shape of a consumed payload.
type EventKind string

const (
	EventKindRun         EventKind = "run"
	EventKindLLMCall     EventKind = "llm_call"
	EventKindTool        EventKind = "tool"
	EventKindBudgetAlert EventKind = "budget_alert"
	EventKindUnknown     EventKind = "unknown"
)

// RunEvent is an agent run lifecycle event (started, step_completed,
// completed, failed).
type RunEvent struct {
	RunID     string                 `json:"run_id"`
	AgentID   string                 `json:"agent_id"`
	EventType string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// LLMCallEvent records a single model invocation for cost tracking.
type LLMCallEvent struct {
	RunID        string                 `json:"run_id"`
	CallID       string                 `json:"call_id,omitempty"`
	Model        string                 `json:"model"`
	InputTokens  int                    `json:"input_tokens"`
	OutputTokens int                    `json:"output_tokens"`
	CostUSD      float64                `json:"cost"`
	LatencyMs    int64                  `json:"latency_ms"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// ToolInvocationEvent records a single tool call made by an agent.
type ToolInvocationEvent struct {
	RunID      string                 `json:"run_id"`
	ToolName   string                 `json:"tool_name"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"duration_ms"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// BudgetAlert is emitted when a spend ratio crosses a configured threshold.
type BudgetAlert struct {
	OrganizationID string    `json:"organization_id"`
	AgentID        string    `json:"agent_id,omitempty"`
	AlertType      string    `json:"alert_type"`
	Threshold      float64   `json:"threshold"`
	CurrentValue   float64   `json:"current_value"`
	Message        string    `json:"message"`
	SentAt         time.Time `json:"sent_at"`
}

// Event is the tagged union handed to dispatch after decoding. Exactly one of
// the typed fields is set for a known kind; Raw always holds the original
// payload so unknown events are never silently dropped.
type Event struct {
	Kind    EventKind
	Run     *RunEvent
	LLMCall *LLMCallEvent
	Tool    *ToolInvocationEvent
	Alert   *BudgetAlert
	Raw     map[string]interface{}
}

// kindForQueue maps a queue name to the event kind its payloads carry.
func kindForQueue(queue string) EventKind {
	switch queue {
	case QueueAgentRunEvents:
		return EventKindRun
	case QueueAgentLLMCalls:
		return EventKindLLMCall
	case QueueAgentToolInvocations:
		return EventKindTool
	case QueueBudgetAlerts:
		return EventKindBudgetAlert
	default:
		return EventKindUnknown
	}
}

// DecodeEvent interprets an envelope payload according to the queue it was
// consumed from. Payloads that fail typed decoding fall back to
// EventKindUnknown rather than erroring; routing is the consumer's problem,
// malformed JSON bodies never reach this point.
func DecodeEvent(queue string, payload map[string]interface{}) Event {
	ev := Event{Kind: kindForQueue(queue), Raw: payload}

	raw, err := json.Marshal(payload)
	if err != nil {
		ev.Kind = EventKindUnknown
		return ev
	}

	switch ev.Kind {
	case EventKindRun:
		var e RunEvent
		if json.Unmarshal(raw, &e) == nil {
			ev.Run = &e
			return ev
		}
	case EventKindLLMCall:
		var e LLMCallEvent
		if json.Unmarshal(raw, &e) == nil {
			ev.LLMCall = &e
			return ev
		}
	case EventKindTool:
		var e ToolInvocationEvent
		if json.Unmarshal(raw, &e) == nil {
			ev.Tool = &e
			return ev
		}
	case EventKindBudgetAlert:
		var e BudgetAlert
		if json.Unmarshal(raw, &e) == nil {
			ev.Alert = &e
			return ev
		}
	}

	ev.Kind = EventKindUnknown
	return ev
}
