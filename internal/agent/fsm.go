// Package agent implements the conversation orchestration core: a turn
// state machine, a tool router that maps model-issued tool names to tool
// server connections, and the executor that drives one request to a final
// answer.
package agent

import (
	jerrors "github.com/soratobu/jeeves/internal/errors"
	"github.com/soratobu/jeeves/internal/mcp"
	"github.com/soratobu/jeeves/internal/model/contract"
)

type State string

const (
	StateReadyToCallLLM      State = "ReadyToCallLlm"
	StateAwaitingLLMResponse State = "AwaitingLlmResponse"
	StateExecutingTools      State = "ExecutingTools"
	StateDone                State = "Done"
	StateError               State = "Error"
)

type Event string

const (
	EventProcessInput            Event = "ProcessInput"
	EventLLMRespondedWithContent Event = "LlmRespondedWithContent"
	EventLLMRequestedTools       Event = "LlmRequestedTools"
	EventToolsExecutionCompleted Event = "ToolsExecutionCompleted"
	EventToolsExecutionFailed    Event = "ToolsExecutionFailed"
	EventErrorOccurred           Event = "ErrorOccurred"
)

var transitions = map[State]map[Event]State{
	StateReadyToCallLLM: {
		EventProcessInput:  StateAwaitingLLMResponse,
		EventErrorOccurred: StateError,
	},
	StateAwaitingLLMResponse: {
		EventLLMRespondedWithContent: StateDone,
		EventLLMRequestedTools:       StateExecutingTools,
		EventErrorOccurred:           StateError,
	},
	StateExecutingTools: {
		EventToolsExecutionCompleted: StateReadyToCallLLM,
		EventToolsExecutionFailed:    StateError,
		EventErrorOccurred:           StateError,
	},
}

// PendingToolCall is one model-issued tool invocation awaiting dispatch.
// Arguments is the raw JSON argument string from the model.
type PendingToolCall struct {
	CallID    string
	Name      string
	Arguments string
}

// ToolOutcome pairs a call id with its result, preserving issue order.
type ToolOutcome struct {
	CallID string
	Result mcp.ToolCallResponse
}

// TurnContext holds the mutable state of one request's conversation turn.
// It is created fresh per request and discarded when the turn terminates;
// history is the only surviving artifact.
type TurnContext struct {
	Messages       []contract.Message
	AvailableTools []contract.ToolDef
	CurrentTurn    int
	MaxTurns       int
	PendingCalls   []PendingToolCall
	Outcomes       []ToolOutcome
	FinalContent   string
	LastErr        error
}

// Machine enforces the turn protocol. Illegal events fail without
// mutating state.
type Machine struct {
	state State
	Ctx   *TurnContext
}

func NewMachine(ctx *TurnContext) *Machine {
	return &Machine{state: StateReadyToCallLLM, Ctx: ctx}
}

func (m *Machine) State() State {
	return m.state
}

// Transition applies event to the current state or fails with an
// invalid-transition error, leaving the state untouched.
func (m *Machine) Transition(event Event) error {
	next, ok := transitions[m.state][event]
	if !ok {
		return &jerrors.InvalidTransitionError{
			Current:   string(m.state),
			Requested: string(event),
		}
	}
	m.state = next
	return nil
}

// Terminal reports whether the machine can accept no further events.
func (m *Machine) Terminal() bool {
	return m.state == StateDone || m.state == StateError
}
