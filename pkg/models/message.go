package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role indicates the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentPartType discriminates the kind of a structured content part.
type ContentPartType string

const (
	ContentPartText       ContentPartType = "text"
	ContentPartAttachment ContentPartType = "attachment"
)

// ContentPart is one element of a Message's structured content sequence.
type ContentPart struct {
	Type       ContentPartType `json:"type"`
	Text       string          `json:"text,omitempty"`
	Attachment *Attachment     `json:"attachment,omitempty"`
}

// Attachment represents a structured, non-text content part (file, image,
// audio, or similar).
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, audio, video, document, file
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ToolCall is an assistant message's request to execute one tool.
type ToolCall struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	// IsReadOnly is populated by the tool registry immediately before
	// scheduling; it carries no meaning on a freshly constructed ToolCall.
	IsReadOnly bool `json:"is_read_only,omitempty"`
}

// ToolResult is the outcome of executing one ToolCall. A role=tool Message
// carries one or more of these, keyed back to their originating call by
// ToolCallID.
type ToolResult struct {
	ToolCallID  string        `json:"tool_call_id"`
	Name        string        `json:"name,omitempty"`
	Content     string        `json:"content"`
	Structured  any           `json:"structured,omitempty"`
	IsError     bool          `json:"is_error,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
}

// Message is the single value type exchanged between components.
//
// Message is immutable by convention: every field is set once at
// construction (directly, or via one of the With* helpers, each of which
// returns a new value). Callers MUST NOT mutate a Message obtained from
// elsewhere; treat every field as read-only after the constructor returns.
type Message struct {
	ID          string         `json:"id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content,omitempty"`
	Parts       []ContentPart  `json:"parts,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	ToolCallID  string         `json:"tool_call_id,omitempty"`
	Name        string         `json:"name,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	ParentID    string         `json:"parent_id,omitempty"`
	History     []Message      `json:"history,omitempty"`
}

// NewMessage constructs a Message with a generated id and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewToolMessage constructs a role=tool Message replying to callID.
func NewToolMessage(callID, content string) Message {
	m := NewMessage(RoleTool, content)
	m.ToolCallID = callID
	m.ToolResults = []ToolResult{{ToolCallID: callID, Content: content}}
	return m
}

// WithToolResults returns a new role=tool Message batching the given
// results, one per completed ToolCall from a prior assistant turn.
func WithToolResults(results []ToolResult) Message {
	m := NewMessage(RoleTool, "")
	m.ToolResults = append([]ToolResult(nil), results...)
	if len(results) == 1 {
		m.ToolCallID = results[0].ToolCallID
	}
	return m
}

// WithToolCalls returns a new Message carrying the given tool calls. Only
// meaningful on an assistant message.
func (m Message) WithToolCalls(calls []ToolCall) Message {
	next := m
	next.ToolCalls = append([]ToolCall(nil), calls...)
	return next
}

// WithParts returns a new Message whose content is the given ordered part
// sequence instead of a plain string.
func (m Message) WithParts(parts []ContentPart) Message {
	next := m
	next.Parts = append([]ContentPart(nil), parts...)
	return next
}

// WithMetadata returns a new Message with key set in metadata.
func (m Message) WithMetadata(key string, value any) Message {
	next := m
	merged := make(map[string]any, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		merged[k] = v
	}
	merged[key] = value
	next.Metadata = merged
	return next
}

// WithHistory returns a new Message carrying history as its accumulated
// turn history, for terminal messages that report partial progress rather
// than continuing a parent's causal chain.
func (m Message) WithHistory(history []Message) Message {
	next := m
	next.History = append([]Message(nil), history...)
	return next
}

// AppendTo returns a new Message that continues the causal chain from
// parent: ParentID is set to parent's ID, and History is parent's own
// History with parent (stripped of its own History) appended — a strict
// prefix extension, per the history-monotonicity invariant.
func (m Message) AppendTo(parent Message) Message {
	next := m
	next.ParentID = parent.ID
	chain := make([]Message, 0, len(parent.History)+1)
	chain = append(chain, parent.History...)
	parentNoHistory := parent
	parentNoHistory.History = nil
	chain = append(chain, parentNoHistory)
	next.History = chain
	return next
}

// Copy returns a deep, independent copy of m including slices and maps.
// Callers that need to build on an existing Message without risking
// aliasing should start from Copy rather than assigning m directly.
func (m Message) Copy() Message {
	next := m
	next.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	next.ToolResults = append([]ToolResult(nil), m.ToolResults...)
	next.Parts = append([]ContentPart(nil), m.Parts...)
	next.Attachments = append([]Attachment(nil), m.Attachments...)
	if m.Metadata != nil {
		next.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			next.Metadata[k] = v
		}
	}
	next.History = append([]Message(nil), m.History...)
	return next
}

// ToJSON serializes the Message, optionally omitting History. Round-trips
// losslessly with FromJSON for either value of includeHistory.
func (m Message) ToJSON(includeHistory bool) ([]byte, error) {
	if includeHistory {
		return json.Marshal(m)
	}
	stripped := m
	stripped.History = nil
	return json.Marshal(stripped)
}

// FromJSON deserializes a Message produced by ToJSON or json.Marshal.
func FromJSON(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}
