package agent

import (
	"context"
	"strings"
	"time"

	"github.com/soratobu/jeeves/internal/concurrency"
	jerrors "github.com/soratobu/jeeves/internal/errors"
	"github.com/soratobu/jeeves/internal/history"
	"github.com/soratobu/jeeves/internal/logger"
	"github.com/soratobu/jeeves/internal/mcp"
	"github.com/soratobu/jeeves/internal/model/contract"
)

// LLM is the completion backend consumed by the executor. Tool calls, if
// present in the response, must carry stable opaque ids.
type LLM interface {
	Complete(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
}

// Recaller is an optional semantic-memory collaborator. Recall failures
// are logged and ignored; they never fail a turn.
type Recaller interface {
	Recall(ctx context.Context, input string) ([]string, error)
	Remember(ctx context.Context, sessionID, input, output string) error
}

type Options struct {
	SystemPrompt         string
	MaxTurns             int
	DriverIterationLimit int
	LLMTimeout           time.Duration
	ToolTimeout          time.Duration
	Recall               Recaller
}

// Executor owns the LLM handle and the tool router and drives one request
// through the state machine to a final answer.
type Executor struct {
	llm      LLM
	tools    *ToolRouter
	store    history.Store
	recall   Recaller
	system   string
	opts     Options
	sessions *concurrency.SessionLocks
}

// NewExecutor composes the effective system prompt once: the configured
// base followed by every discovered prompt fragment, in discovery order.
func NewExecutor(llm LLM, tools *ToolRouter, store history.Store, opts Options) *Executor {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 5
	}
	if opts.DriverIterationLimit <= 0 {
		opts.DriverIterationLimit = 20
	}

	parts := append([]string{opts.SystemPrompt}, tools.SystemPromptFragments()...)

	return &Executor{
		llm:      llm,
		tools:    tools,
		store:    store,
		recall:   opts.Recall,
		system:   joinPromptParts(parts),
		opts:     opts,
		sessions: concurrency.NewSessionLocks(),
	}
}

// joinPromptParts joins non-empty prompt sections with a blank line so an
// absent base prompt never leaves a stray separator.
func joinPromptParts(parts []string) string {
	kept := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

// SystemPrompt returns the composed prompt used for every turn.
func (e *Executor) SystemPrompt() string {
	return e.system
}

// Process runs one user input to completion and returns the assistant's
// final answer. The user message is persisted before the turn starts; the
// assistant message is persisted only on success. Requests for the same
// session are serialized.
func (e *Executor) Process(ctx context.Context, sessionID, input string) (string, error) {
	e.sessions.Lock(sessionID)
	defer e.sessions.Unlock(sessionID)

	ctx = logger.WithSessionID(ctx, sessionID)
	log := logger.FromContext(ctx)

	system := e.system
	if e.recall != nil {
		memories, err := e.recall.Recall(ctx, input)
		if err != nil {
			log.Warn("Memory recall failed", "error", err)
		} else if len(memories) > 0 {
			recalled := "Relevant context from earlier conversations:\n" + strings.Join(memories, "\n")
			system = joinPromptParts([]string{system, recalled})
		}
	}

	prior, err := e.store.List(ctx, sessionID)
	if err != nil {
		return "", jerrors.Wrap(err, "load history")
	}

	messages := make([]contract.Message, 0, len(prior)+2)
	if system != "" {
		messages = append(messages, contract.NewSystemMessage(system))
	}
	for _, m := range prior {
		messages = append(messages, contract.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, contract.NewUserMessage(input))

	if err := e.store.Save(ctx, history.NewMessage(sessionID, contract.RoleUser, input)); err != nil {
		return "", jerrors.Wrap(err, "persist user message")
	}

	machine := NewMachine(&TurnContext{
		Messages:       messages,
		AvailableTools: e.tools.Tools(),
		MaxTurns:       e.opts.MaxTurns,
	})

	for i := 0; i < e.opts.DriverIterationLimit; i++ {
		switch machine.State() {
		case StateReadyToCallLLM:
			if err := e.stepLLM(ctx, machine); err != nil {
				return "", err
			}
		case StateExecutingTools:
			if err := e.stepTools(ctx, machine); err != nil {
				return "", err
			}
		case StateDone:
			return e.finish(ctx, sessionID, input, machine)
		case StateError:
			if machine.Ctx.LastErr != nil {
				return "", machine.Ctx.LastErr
			}
			return "", jerrors.Internal("turn ended in error state without a recorded cause")
		default:
			return "", jerrors.Internal("unexpected state %s", machine.State())
		}
	}

	return "", jerrors.Internal("driver iteration limit %d exceeded", e.opts.DriverIterationLimit)
}

// stepLLM performs one LLM round-trip. The turn budget is checked before
// the request is sent.
func (e *Executor) stepLLM(ctx context.Context, machine *Machine) error {
	c := machine.Ctx

	if c.CurrentTurn >= c.MaxTurns {
		return &jerrors.MaxTurnsError{MaxTurns: c.MaxTurns}
	}
	c.CurrentTurn++

	if err := machine.Transition(EventProcessInput); err != nil {
		return err
	}

	callCtx := ctx
	if e.opts.LLMTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.opts.LLMTimeout)
		defer cancel()
	}

	resp, err := e.llm.Complete(callCtx, contract.CompletionRequest{
		Messages: c.Messages,
		Tools:    c.AvailableTools,
	})
	if err != nil {
		c.LastErr = jerrors.Transport(err, "llm call failed")
		return machine.Transition(EventErrorOccurred)
	}

	if len(resp.ToolCalls) > 0 {
		c.Messages = append(c.Messages, contract.NewAssistantMessage(resp.Content, resp.ToolCalls))
		c.PendingCalls = c.PendingCalls[:0]
		for _, tc := range resp.ToolCalls {
			c.PendingCalls = append(c.PendingCalls, PendingToolCall{
				CallID:    tc.ID,
				Name:      tc.Name,
				Arguments: tc.Input,
			})
		}
		return machine.Transition(EventLLMRequestedTools)
	}

	c.Messages = append(c.Messages, contract.NewAssistantMessage(resp.Content, nil))
	c.FinalContent = resp.Content
	return machine.Transition(EventLLMRespondedWithContent)
}

// stepTools dispatches pending calls sequentially in issue order. Each
// result is paired with its call id so the transcript order matches the
// order the calls were issued.
func (e *Executor) stepTools(ctx context.Context, machine *Machine) error {
	c := machine.Ctx
	log := logger.FromContext(ctx)

	c.Outcomes = c.Outcomes[:0]
	for _, call := range c.PendingCalls {
		log.Debug("Executing tool", "tool", call.Name, "call_id", call.CallID)

		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if e.opts.ToolTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, e.opts.ToolTimeout)
		}
		result := e.tools.Execute(callCtx, call.Name, call.Arguments)
		cancel()

		c.Outcomes = append(c.Outcomes, ToolOutcome{CallID: call.CallID, Result: result})
	}

	if len(c.Outcomes) != len(c.PendingCalls) {
		c.LastErr = jerrors.Internal("tool outcome count %d does not match pending calls %d", len(c.Outcomes), len(c.PendingCalls))
		return machine.Transition(EventToolsExecutionFailed)
	}

	for _, outcome := range c.Outcomes {
		c.Messages = append(c.Messages, contract.NewToolMessage(outcome.CallID, renderToolResult(outcome.Result)))
	}

	c.PendingCalls = nil
	c.Outcomes = nil
	return machine.Transition(EventToolsExecutionCompleted)
}

func (e *Executor) finish(ctx context.Context, sessionID, input string, machine *Machine) (string, error) {
	c := machine.Ctx
	if c.FinalContent == "" {
		return "", jerrors.Internal("reached terminal state without final content")
	}

	if err := e.store.Save(ctx, history.NewMessage(sessionID, contract.RoleAssistant, c.FinalContent)); err != nil {
		return "", jerrors.Wrap(err, "persist assistant message")
	}

	if e.recall != nil {
		if err := e.recall.Remember(ctx, sessionID, input, c.FinalContent); err != nil {
			logger.FromContext(ctx).Warn("Memory store failed", "error", err)
		}
	}

	return c.FinalContent, nil
}

// renderToolResult flattens a tool result's content blocks into the text
// body of a tool-role message.
func renderToolResult(result mcp.ToolCallResponse) string {
	var parts []string
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			parts = append(parts, block.Text)
		case "image":
			parts = append(parts, "[image: "+block.MimeType+"]")
		case "resource":
			if block.Resource != nil {
				if block.Resource.Text != "" {
					parts = append(parts, block.Resource.Text)
				} else {
					parts = append(parts, "[resource: "+block.Resource.URI+"]")
				}
			}
		}
	}
	return strings.Join(parts, "\n")
}
