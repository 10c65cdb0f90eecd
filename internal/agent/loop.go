package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kohlerlabs/agentcore/internal/assembler"
	"github.com/kohlerlabs/agentcore/internal/bus"
	"github.com/kohlerlabs/agentcore/internal/tooling"
	"github.com/kohlerlabs/agentcore/pkg/models"
)

// Terminal status markers set on a stopped run's final Message, per spec
// §7: every non-success return carries a machine-readable status in
// metadata["status"] plus its accumulated history in Message.History.
const (
	statusMaxDepthReached = "max_depth_reached"
	statusCancelled       = "cancelled"
	statusTimeout         = "timeout"
	statusModelError      = "model_error"
	statusBudgetExceeded  = "budget_exceeded"
	statusContextError    = "context_error"
)

// statusForContextErr maps a context error to the terminal status it
// represents: a deadline is a Timeout, anything else (including
// context.Canceled) is a Cancelled.
func statusForContextErr(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return statusTimeout
	}
	return statusCancelled
}

// MemorySearcher is the subset of Memory the loop needs: relevant-context
// retrieval keyed on the last user turn. A nil MemorySearcher simply
// contributes no memory excerpts.
type MemorySearcher interface {
	Search(ctx context.Context, query string, k int) ([]models.Message, error)
}

// ToolDescription is the minimal shape the tool-definitions component
// needs from the registry, kept here so loop.go has no direct dependency
// on tooling.Registry's Descriptor type.
type ToolDescription struct {
	Name        string
	Description string
}

// LoopConfig wires everything one Agent Executor run needs.
type LoopConfig struct {
	Provider         LLMProvider
	Model            string
	Tools            *tooling.Executor
	ToolDescriptions []ToolDescription
	ToolDefs         []Tool // passed through to CompletionRequest.Tools
	Memory           MemorySearcher
	MemoryK          int
	Bus              *bus.Bus
	BusAction        string // action published on successful completion, e.g. "agent.message"
	BaseInstructions string
	MaxDepth         int
	BudgetTokens     int
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 25
	}
	if c.BudgetTokens <= 0 {
		c.BudgetTokens = 24000
	}
	if c.MemoryK <= 0 {
		c.MemoryK = 5
	}
	if c.BusAction == "" {
		c.BusAction = "agent.message"
	}
	return c
}

// Loop is the Agent Executor: the tail-recursive turn cycle of spec §4.5,
// lowered to an iterative for-loop since Go has no tail-call optimization.
//
// A Loop is scratch state for exactly one Run call: nextMessages/nextState
// carry turn() output back into Run's for-loop body and must not be read
// across concurrent Run calls on the same Loop. Construct one Loop per
// run, matching the teacher's per-run EventEmitter convention.
type Loop struct {
	cfg     LoopConfig
	emitter *EventEmitter

	nextMessages []models.Message
	nextState    models.TurnState
}

// NewLoop constructs a Loop for one run, identified by runID for event
// correlation. sink may be nil (NopSink is used).
func NewLoop(runID string, cfg LoopConfig, sink EventSink) *Loop {
	return &Loop{cfg: cfg.withDefaults(), emitter: NewEventEmitter(runID, sink)}
}

// Run is the entry point: run(initial_message, max_depth) -> Message.
func (l *Loop) Run(ctx context.Context, initial models.Message) (models.Message, error) {
	l.emitter.RunStarted(ctx)

	state := models.NewTurnState(l.cfg.MaxDepth)
	history := make([]models.Message, 0, 8)
	pending := []models.Message{initial}

	for {
		final, done, err := l.turn(ctx, pending, state, &history)
		if err != nil {
			if ctx.Err() != nil {
				l.emitter.RunCancelled(ctx)
			} else {
				l.emitter.RunError(ctx, err, false)
			}
			return final, err
		}
		if done {
			l.emitter.RunFinished(ctx, nil)
			return final, nil
		}
		pending = l.nextMessages
		l.nextMessages = nil
		state = l.nextState
	}
}

// turn implements spec §4.5.2. It returns (final, true, nil) when the
// turn concludes the run (no tool calls, depth reached, or cancellation),
// or (zero, false, nil) with l.nextMessages/l.nextState populated when
// the caller should continue the loop.
func (l *Loop) turn(ctx context.Context, newMessages []models.Message, state models.TurnState, history *[]models.Message) (models.Message, bool, error) {
	l.emitter.SetTurn(state.TurnCounter)
	l.emitter.TurnStarted(ctx)
	defer l.emitter.TurnFinished(ctx)

	// 1. Depth check.
	if state.DepthReached() {
		l.emitter.DepthReached(ctx, state.MaxDepth)
		return l.terminalSummary(*history, statusMaxDepthReached), true, nil
	}

	// 2. Cancellation check.
	if err := ctx.Err(); err != nil {
		return l.terminalSummary(*history, statusForContextErr(err)), true, err
	}

	// 3. Context assembly.
	*history = append(*history, newMessages...)

	var memoryExcerpts []models.Message
	if l.cfg.Memory != nil {
		if query := lastUserContent(*history); query != "" {
			found, err := l.cfg.Memory.Search(ctx, query, l.cfg.MemoryK)
			if err == nil {
				memoryExcerpts = found
			}
		}
	}

	assembled, err := l.assembleContext(*history, memoryExcerpts)
	if err != nil {
		status := statusContextError
		if errors.Is(err, assembler.ErrBudgetExceeded) {
			status = statusBudgetExceeded
		}
		msg := l.terminalSummary(*history, status).WithMetadata("error", err.Error())
		return msg, true, fmt.Errorf("context assembly: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return l.terminalSummary(*history, statusForContextErr(err)), true, err
	}

	// 4. Model call.
	assistantMsg, toolCalls, err := l.callModel(ctx, assembled)
	if err != nil {
		msg := l.terminalSummary(*history, statusModelError).WithMetadata("error", err.Error())
		return msg, true, fmt.Errorf("model call: %w", err)
	}

	// 5. Branch.
	if len(toolCalls) == 0 {
		*history = append(*history, assistantMsg)
		l.publish(ctx, assistantMsg)
		return assistantMsg, true, nil
	}

	// 6. Tool execution.
	batchStart := time.Now()
	l.emitter.ToolBatchStarted(ctx, len(toolCalls))
	for _, c := range toolCalls {
		l.emitter.ToolStarted(ctx, c.CallID, c.Name, c.Arguments)
	}
	results := l.cfg.Tools.Batch(ctx, toolCalls)
	for _, r := range results {
		l.emitter.ToolFinished(ctx, r.ToolCallID, r.Name, !r.IsError, []byte(r.Content), r.Duration)
	}
	l.emitter.ToolBatchFinished(ctx, time.Since(batchStart))

	// 7. Assemble next turn's new_messages: the assistant message that
	// requested the tools, then its batched tool-result reply.
	resultMsg := models.WithToolResults(results).AppendTo(assistantMsg)
	l.nextMessages = []models.Message{assistantMsg, resultMsg}
	l.nextState = state.NextTurn(false)

	// 8. Recurse (tail position; Run's for-loop performs the recursion).
	return models.Message{}, false, nil
}

func (l *Loop) assembleContext(history, memoryExcerpts []models.Message) ([]models.Message, error) {
	components := []assembler.Component{
		assembler.NewTextComponent("base-instructions", assembler.Critical, false, l.cfg.BaseInstructions),
		assembler.NewMessageSequenceComponent("messages", assembler.Essential, true, history),
	}
	if len(memoryExcerpts) > 0 {
		components = append(components, assembler.NewTextComponent("memory", assembler.High, true, renderMemory(memoryExcerpts)))
	}
	if len(l.cfg.ToolDescriptions) > 0 {
		names := make([]string, len(l.cfg.ToolDescriptions))
		descs := make([]string, len(l.cfg.ToolDescriptions))
		for i, td := range l.cfg.ToolDescriptions {
			names[i], descs[i] = td.Name, td.Description
		}
		components = append(components, assembler.NewTextComponent("tool-definitions", assembler.Medium, false, assembler.RenderToolDefinitions(names, descs)))
	}

	a := assembler.New(l.cfg.BudgetTokens)
	return a.Assemble(components)
}

func (l *Loop) callModel(ctx context.Context, messages []models.Message) (models.Message, []models.ToolCall, error) {
	req := &CompletionRequest{
		Model:    l.cfg.Model,
		Messages: messagesToCompletion(messages),
		Tools:    l.cfg.ToolDefs,
	}

	chunks, err := l.cfg.Provider.Complete(ctx, req)
	if err != nil {
		return models.Message{}, nil, err
	}

	var text strings.Builder
	var toolCalls []models.ToolCall
	for chunk := range chunks {
		if chunk.Error != nil {
			return models.Message{}, nil, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			l.emitter.ModelDelta(ctx, chunk.Text)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			l.emitter.ModelCompleted(ctx, l.cfg.Provider.Name(), l.cfg.Model, chunk.InputTokens, chunk.OutputTokens)
		}
	}

	msg := models.NewMessage(models.RoleAssistant, text.String())
	if len(toolCalls) > 0 {
		msg = msg.WithToolCalls(toolCalls)
	}
	return msg, toolCalls, nil
}

func (l *Loop) publish(ctx context.Context, msg models.Message) {
	if l.cfg.Bus == nil {
		return
	}
	l.cfg.Bus.Publish(models.Task{Action: l.cfg.BusAction, Payload: msg})
}

// terminalSummary builds the well-formed Message spec §7 requires for every
// non-success stop: an explanatory string, a machine-readable status
// marker in metadata, and the run's accumulated history so partial
// progress stays reachable from the caller's Message alone.
func (l *Loop) terminalSummary(history []models.Message, status string) models.Message {
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Content != "" {
			last = history[i].Content
			break
		}
	}
	summary := models.NewMessage(models.RoleAssistant, "turn loop stopped before producing a final answer")
	if last != "" {
		summary.Content = fmt.Sprintf("turn loop stopped; last content seen: %s", truncate(last, 500))
	}
	return summary.WithMetadata("status", status).WithHistory(history)
}

func lastUserContent(history []models.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

func renderMemory(excerpts []models.Message) string {
	var b strings.Builder
	for i, m := range excerpts {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

func messagesToCompletion(messages []models.Message) []CompletionMessage {
	out := make([]CompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Attachments: m.Attachments,
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
