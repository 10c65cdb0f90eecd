// Package models defines the core data types for agentcore.
package models

import (
	"time"
)

// MemoryEntry represents a memory item stored in the vector database for semantic search.
type MemoryEntry struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`

	Content  string         `json:"content"`
	Metadata MemoryMetadata `json:"metadata"`

	// Importance is in [0,1]; defaults come from the originating role/outcome
	// (user=0.9, failed tool=0.8, successful tool=0.7, assistant=0.5) unless
	// overridden by metadata.importance on the ingesting Task.
	Importance float64 `json:"importance"`

	// Tier is the hierarchy level the entry currently resides in.
	Tier MemoryTier `json:"tier,omitempty"`

	// SourceIDs points at the entries a promoted summary was produced from,
	// for auditability (spec: "summaries carry pointers to the source entry
	// ids").
	SourceIDs []string `json:"source_ids,omitempty"`

	Embedding []float32 `json:"-"` // Not serialized to JSON
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryTier identifies one of the four hierarchy levels an entry lives in.
type MemoryTier string

const (
	TierEphemeral MemoryTier = "L1_ephemeral"
	TierSession   MemoryTier = "L2_session"
	TierEpisodic  MemoryTier = "L3_episodic"
	TierSemantic  MemoryTier = "L4_semantic"
)

// Default importance scores by originating role/outcome (spec §4.2.1).
const (
	ImportanceUserMessage    = 0.9
	ImportanceFailedTool     = 0.8
	ImportanceSuccessfulTool = 0.7
	ImportanceAssistantMsg   = 0.5

	// PromotionThreshold is the minimum importance an L3 summary needs to
	// be promoted into L4 (spec §4.2.4, θ_promote default).
	PromotionThreshold = 0.5

	// L2InsertThreshold is the minimum importance for an entry to also be
	// inserted into L2 on ingestion (spec §4.2.2).
	L2InsertThreshold = 0.6
)

// MemoryMetadata contains additional information about a memory entry.
type MemoryMetadata struct {
	Source string         `json:"source"` // "message", "document", "note"
	Role   string         `json:"role"`   // "user", "assistant"
	Tags   []string       `json:"tags"`
	Extra  map[string]any `json:"extra"`
}

// MemoryScope defines the scope for memory search/indexing.
type MemoryScope string

const (
	// ScopeSession limits memory to the current session.
	ScopeSession MemoryScope = "session"
	// ScopeChannel limits memory to the current channel.
	ScopeChannel MemoryScope = "channel"
	// ScopeAgent limits memory to the current agent.
	ScopeAgent MemoryScope = "agent"
	// ScopeGlobal searches all memories.
	ScopeGlobal MemoryScope = "global"
	// ScopeAll matches every scope, bypassing scope filtering entirely.
	ScopeAll MemoryScope = "all"

	// ScopeLocal is private to the node that wrote it (spec §4.2.6).
	ScopeLocal MemoryScope = "local"
	// ScopeShared is readable/writable by a node, its parent, and its children.
	ScopeShared MemoryScope = "shared"
	// ScopeInherited is readable from the parent chain, read-only from this node.
	ScopeInherited MemoryScope = "inherited"
)

// SearchRequest defines parameters for semantic memory search.
type SearchRequest struct {
	Query     string         `json:"query"`
	Scope     MemoryScope    `json:"scope"`
	ScopeID   string         `json:"scope_id"`
	Limit     int            `json:"limit"`
	Threshold float32        `json:"threshold"` // Min similarity (0-1)
	Filters   map[string]any `json:"filters"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	Entry      *MemoryEntry `json:"entry"`
	Score      float32      `json:"score"`      // Similarity score (0-1)
	Highlights []string     `json:"highlights"` // Matched snippets
}

// SearchResponse contains the results of a memory search.
type SearchResponse struct {
	Results    []*SearchResult `json:"results"`
	TotalCount int             `json:"total_count"`
	QueryTime  time.Duration   `json:"query_time"`
}
