// Package assembler builds the exact prompt payload passed to the language
// model for one agent turn, packing named, priority-tagged components into
// a token budget.
package assembler

import (
	"errors"
	"sort"
	"strings"

	agentcontext "github.com/kohlerlabs/agentcore/internal/context"
	"github.com/kohlerlabs/agentcore/pkg/models"
)

// Priority ranks a Component's importance. Lower numeric value wins: a
// Critical component is never truncated before an Essential one.
type Priority int

const (
	Critical Priority = iota
	Essential
	High
	Medium
	Low
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "CRITICAL"
	case Essential:
		return "ESSENTIAL"
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	case Low:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// ErrBudgetExceeded is returned when every truncatable component has been
// shrunk to its floor and the assembly still exceeds the token budget.
var ErrBudgetExceeded = errors.New("assembler: budget exceeded")

// truncationMarker replaces elided content in the middle of a shrunk
// text component.
const truncationMarker = "\n...[truncated]...\n"

// minTextKeepChars is the floor below which a truncatable text component
// is considered exhausted rather than shrunk further.
const minTextKeepChars = 40

// Component is one named unit of prompt content.
//
// A Component is either a text blob (base instructions, retrieved memory,
// tool definitions rendered as text) or a message sequence (the running
// conversation). Exactly one of Text or Messages should be set; Messages
// takes precedence when both are non-empty.
type Component struct {
	Name        string
	Priority    Priority
	Truncatable bool
	Text        string
	Messages    []models.Message
}

// NewTextComponent constructs a text-blob Component.
func NewTextComponent(name string, priority Priority, truncatable bool, text string) Component {
	return Component{Name: name, Priority: priority, Truncatable: truncatable, Text: text}
}

// NewMessageSequenceComponent constructs a message-sequence Component.
func NewMessageSequenceComponent(name string, priority Priority, truncatable bool, messages []models.Message) Component {
	return Component{Name: name, Priority: priority, Truncatable: truncatable, Messages: append([]models.Message(nil), messages...)}
}

func (c Component) isMessageSequence() bool {
	return c.Messages != nil
}

func (c Component) tokens() int {
	if c.isMessageSequence() {
		total := 0
		for _, m := range c.Messages {
			total += agentcontext.EstimateTokens(m.Content)
			for _, tc := range m.ToolCalls {
				total += agentcontext.EstimateTokens(tc.Name) + agentcontext.EstimateTokens(string(tc.Arguments))
			}
			for _, tr := range m.ToolResults {
				total += agentcontext.EstimateTokens(tr.Content)
			}
		}
		return total
	}
	return agentcontext.EstimateTokens(c.Text)
}

// empty reports whether a component has no more content to shrink.
func (c Component) empty() bool {
	if c.isMessageSequence() {
		return len(c.Messages) <= 2
	}
	return len(c.Text) <= minTextKeepChars
}

// shrink returns a smaller copy of c. For a message sequence, the message
// closest to the middle is dropped, always preserving the first and last
// entries (primacy/recency). For text, the component is halved around its
// midpoint, keeping head and tail and marking the elided middle.
func (c Component) shrink() Component {
	if c.isMessageSequence() {
		if len(c.Messages) <= 2 {
			return c
		}
		mid := len(c.Messages) / 2
		next := make([]models.Message, 0, len(c.Messages)-1)
		next = append(next, c.Messages[:mid]...)
		next = append(next, c.Messages[mid+1:]...)
		c.Messages = next
		return c
	}

	if len(c.Text) <= minTextKeepChars {
		return c
	}
	keep := len(c.Text) / 2
	if keep < minTextKeepChars {
		keep = minTextKeepChars
	}
	half := keep / 2
	if half < 1 {
		half = 1
	}
	head := c.Text[:half]
	tail := c.Text[len(c.Text)-half:]
	c.Text = head + truncationMarker + tail
	return c
}

// Assembler packs Components into a token budget per spec §4.3.2.
type Assembler struct {
	budgetTokens int
}

// New returns an Assembler with the given token budget.
func New(budgetTokens int) *Assembler {
	return &Assembler{budgetTokens: budgetTokens}
}

// Assemble orders components by priority (stable within a tier), then
// shrinks the lowest-priority truncatable component repeatedly until the
// total fits the budget. It returns the rendered Message sequence, or
// ErrBudgetExceeded if only non-truncatable (or exhausted) components
// remain over budget.
func (a *Assembler) Assemble(components []Component) ([]models.Message, error) {
	ordered := make([]Component, len(components))
	copy(ordered, components)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	total := 0
	for _, c := range ordered {
		total += c.tokens()
	}

	for total > a.budgetTokens {
		idx := lowestPriorityShrinkable(ordered)
		if idx < 0 {
			return nil, ErrBudgetExceeded
		}
		before := ordered[idx].tokens()
		ordered[idx] = ordered[idx].shrink()
		after := ordered[idx].tokens()
		total -= before - after
		if before == after {
			// This component can't shrink further; stop considering it.
			ordered[idx].Truncatable = false
		}
	}

	var out []models.Message
	for _, c := range ordered {
		if c.isMessageSequence() {
			out = append(out, c.Messages...)
			continue
		}
		if c.Text == "" {
			continue
		}
		out = append(out, models.Message{
			Role:    models.RoleSystem,
			Content: c.Text,
			Metadata: map[string]any{
				"component": c.Name,
				"priority":  c.Priority.String(),
			},
		})
	}
	return out, nil
}

// lowestPriorityShrinkable returns the index of the truncatable,
// non-empty component with the lowest priority (highest Priority value),
// or -1 if none remain.
func lowestPriorityShrinkable(components []Component) int {
	best := -1
	for i, c := range components {
		if !c.Truncatable || c.empty() {
			continue
		}
		if best == -1 || components[i].Priority > components[best].Priority {
			best = i
		}
	}
	return best
}

// RenderToolDefinitions flattens tool descriptions into the text blob the
// MEDIUM-priority "tool definitions" component carries. Kept here rather
// than in internal/tooling so the assembler has no dependency on it.
func RenderToolDefinitions(names []string, descriptions []string) string {
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(name)
		if i < len(descriptions) {
			b.WriteString(": ")
			b.WriteString(descriptions[i])
		}
	}
	return b.String()
}
