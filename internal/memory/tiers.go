package memory

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kohlerlabs/agentcore/pkg/models"
)

// Summarizer compresses a contiguous run of older entries into one L3
// summary. A caller-supplied Summarizer is the "injected capability" of
// spec §4.2.4; degradedSummarize is used when none is configured.
type Summarizer interface {
	Summarize(ctx context.Context, entries []*models.MemoryEntry) (string, error)
}

// SummarizerFunc adapts a function to a Summarizer.
type SummarizerFunc func(ctx context.Context, entries []*models.MemoryEntry) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, entries []*models.MemoryEntry) (string, error) {
	return f(ctx, entries)
}

const degradedSummaryCharBudget = 800

// degradedSummarize concatenates entry content and truncates, matching
// the fallback behavior of internal/agent/context/packer.go's history
// truncation when no real summarizer is available.
func degradedSummarize(_ context.Context, entries []*models.MemoryEntry) (string, error) {
	var b strings.Builder
	for _, e := range entries {
		if b.Len() > 0 {
			b.WriteString(" / ")
		}
		b.WriteString(e.Content)
	}
	s := b.String()
	if len(s) > degradedSummaryCharBudget {
		s = s[:degradedSummaryCharBudget] + "...[truncated]"
	}
	return s, nil
}

// HierarchyConfig tunes tier capacities and promotion behavior. Zero
// values fall back to the spec's defaults.
type HierarchyConfig struct {
	L1Capacity int // default 50
	L2Capacity int // default 100
	L3Capacity int // default 500

	// PromoteThreshold gates L3->L4 promotion; default models.PromotionThreshold.
	PromoteThreshold float64

	// PromotionWorkers bounds in-flight L4 embed+index work; default 10.
	PromotionWorkers int
	// PromotionBatch bounds entries embedded per backend call; default 10.
	PromotionBatch int

	Summarizer Summarizer
	Logger     *slog.Logger
}

func (c HierarchyConfig) withDefaults() HierarchyConfig {
	if c.L1Capacity <= 0 {
		c.L1Capacity = 50
	}
	if c.L2Capacity <= 0 {
		c.L2Capacity = 100
	}
	if c.L3Capacity <= 0 {
		c.L3Capacity = 500
	}
	if c.PromoteThreshold <= 0 {
		c.PromoteThreshold = models.PromotionThreshold
	}
	if c.PromotionWorkers <= 0 {
		c.PromotionWorkers = 10
	}
	if c.PromotionBatch <= 0 {
		c.PromotionBatch = 10
	}
	if c.Summarizer == nil {
		c.Summarizer = SummarizerFunc(degradedSummarize)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// approachingBound matches spec §4.2.4's "triggered when a tier
// approaches its bound (>= 90% full)".
func approachingBound(size, cap int) bool {
	return cap > 0 && float64(size) >= 0.9*float64(cap)
}

// Hierarchy is the four-tier Memory store (spec §4.2): an L1 FIFO ring,
// an L2 priority heap, an L3 ordered list, all in-process and mutex-
// guarded per tier, plus an L4 tier delegating to the existing vector
// Manager (or a keyword-match fallback when no embedder is configured).
type Hierarchy struct {
	cfg HierarchyConfig

	l1mu sync.RWMutex
	l1   []*models.MemoryEntry // ring, oldest first

	l2mu sync.RWMutex
	l2   l2Heap

	l3mu sync.RWMutex
	l3   []*models.MemoryEntry // ordered oldest-first

	l4 *Manager // nil when vector memory is disabled; falls back to keyword match

	promoteSem chan struct{} // bounded worker pool for L3->L4 promotion
	wg         sync.WaitGroup
}

// NewHierarchy constructs a Hierarchy. l4 may be nil (vector memory
// disabled): L4 operations degrade to keyword search over L3/L4-resident
// content instead of failing.
func NewHierarchy(l4 *Manager, cfg HierarchyConfig) *Hierarchy {
	cfg = cfg.withDefaults()
	return &Hierarchy{
		cfg:        cfg,
		l4:         l4,
		promoteSem: make(chan struct{}, cfg.PromotionWorkers),
	}
}

// Ingest applies spec §4.2.2's ingestion rule to one Task carrying a
// Message payload. Tasks without a Message payload are ignored. This is
// the handler a caller subscribes against the Bus with a catch-all
// pattern ("**").
func (h *Hierarchy) Ingest(ctx context.Context, task models.Task) error {
	msg, ok := task.PayloadMessage()
	if !ok {
		return nil
	}

	entry := &models.MemoryEntry{
		ID:        uuid.NewString(),
		SessionID: task.SessionID,
		Content:   msg.Content,
		Metadata: models.MemoryMetadata{
			Source: "message",
			Role:   string(msg.Role),
		},
		Importance: defaultImportance(msg, task),
		Tier:       models.TierEphemeral,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	h.appendL1(entry)
	if entry.Importance >= models.L2InsertThreshold {
		h.insertL2(cloneEntry(entry, models.TierSession))
	}

	if approachingBound(h.l1Len(), h.cfg.L1Capacity) {
		h.promoteL1ToL3(ctx)
	}
	if approachingBound(h.l3Len(), h.cfg.L3Capacity) {
		h.promoteL3ToL4(ctx)
	}
	return nil
}

func defaultImportance(msg models.Message, task models.Task) float64 {
	if v, ok := task.Importance(); ok {
		return v
	}
	switch msg.Role {
	case models.RoleUser:
		return models.ImportanceUserMessage
	case models.RoleTool:
		for _, r := range msg.ToolResults {
			if r.IsError {
				return models.ImportanceFailedTool
			}
		}
		return models.ImportanceSuccessfulTool
	case models.RoleAssistant:
		return models.ImportanceAssistantMsg
	default:
		return models.ImportanceAssistantMsg
	}
}

func cloneEntry(e *models.MemoryEntry, tier models.MemoryTier) *models.MemoryEntry {
	clone := *e
	clone.Tier = tier
	return &clone
}

// --- L1: FIFO ring ---

func (h *Hierarchy) appendL1(e *models.MemoryEntry) {
	h.l1mu.Lock()
	defer h.l1mu.Unlock()
	h.l1 = append(h.l1, e)
	if over := len(h.l1) - h.cfg.L1Capacity; over > 0 {
		h.l1 = h.l1[over:]
	}
}

func (h *Hierarchy) l1Len() int {
	h.l1mu.RLock()
	defer h.l1mu.RUnlock()
	return len(h.l1)
}

// GetRecent returns the latest n entries from L1 (spec §4.2.3).
func (h *Hierarchy) GetRecent(n int) []*models.MemoryEntry {
	h.l1mu.RLock()
	defer h.l1mu.RUnlock()
	if n <= 0 || n > len(h.l1) {
		n = len(h.l1)
	}
	out := make([]*models.MemoryEntry, n)
	copy(out, h.l1[len(h.l1)-n:])
	return out
}

// --- L2: priority heap (bounded, lowest-importance evicted) ---

type l2Heap []*models.MemoryEntry

func (h l2Heap) Len() int            { return len(h) }
func (h l2Heap) Less(i, j int) bool  { return h[i].Importance < h[j].Importance }
func (h l2Heap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *l2Heap) Push(x any)         { *h = append(*h, x.(*models.MemoryEntry)) }
func (h *l2Heap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h *Hierarchy) insertL2(e *models.MemoryEntry) {
	h.l2mu.Lock()
	defer h.l2mu.Unlock()
	heap.Push(&h.l2, e)
	for len(h.l2) > h.cfg.L2Capacity {
		heap.Pop(&h.l2)
	}
}

// GetImportant returns the top-n entries from L2 by importance (spec §4.2.3).
func (h *Hierarchy) GetImportant(n int) []*models.MemoryEntry {
	h.l2mu.RLock()
	defer h.l2mu.RUnlock()
	sorted := make([]*models.MemoryEntry, len(h.l2))
	copy(sorted, h.l2)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Importance > sorted[j].Importance })
	if n <= 0 || n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// --- L3: ordered list of summaries ---

func (h *Hierarchy) appendL3(e *models.MemoryEntry) {
	h.l3mu.Lock()
	defer h.l3mu.Unlock()
	h.l3 = append(h.l3, e)
	if over := len(h.l3) - h.cfg.L3Capacity; over > 0 {
		h.l3 = h.l3[over:] // oldest out
	}
}

func (h *Hierarchy) l3Len() int {
	h.l3mu.RLock()
	defer h.l3mu.RUnlock()
	return len(h.l3)
}

func (h *Hierarchy) l3Snapshot() []*models.MemoryEntry {
	h.l3mu.RLock()
	defer h.l3mu.RUnlock()
	out := make([]*models.MemoryEntry, len(h.l3))
	copy(out, h.l3)
	return out
}

// --- Promotion (spec §4.2.4) ---

// promoteL1ToL3 summarizes the oldest contiguous run of L1 entries and
// inserts the summary into L3, dropping the source entries from L1.
func (h *Hierarchy) promoteL1ToL3(ctx context.Context) {
	h.l1mu.Lock()
	runLen := len(h.l1) / 2
	if runLen == 0 {
		h.l1mu.Unlock()
		return
	}
	run := make([]*models.MemoryEntry, runLen)
	copy(run, h.l1[:runLen])
	h.l1 = h.l1[runLen:]
	h.l1mu.Unlock()

	text, err := h.cfg.Summarizer.Summarize(ctx, run)
	if err != nil {
		h.cfg.Logger.Warn("memory: L1->L3 summarization failed", "error", err)
		text, _ = degradedSummarize(ctx, run)
	}

	ids := make([]string, len(run))
	maxImportance := 0.0
	for i, e := range run {
		ids[i] = e.ID
		if e.Importance > maxImportance {
			maxImportance = e.Importance
		}
	}

	h.appendL3(&models.MemoryEntry{
		ID:         uuid.NewString(),
		Content:    text,
		Importance: maxImportance,
		Tier:       models.TierEpisodic,
		SourceIDs:  ids,
		Metadata:   models.MemoryMetadata{Source: "summary"},
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	})
}

// promoteL3ToL4 embeds and indexes summaries at or above the promotion
// threshold into L4, on a bounded background worker pool so the ingesting
// producer never blocks (spec §4.2.4).
func (h *Hierarchy) promoteL3ToL4(ctx context.Context) {
	if h.l4 == nil {
		return // no embedder/backend configured; L4 stays keyword-only
	}

	var batch []*models.MemoryEntry
	for _, e := range h.l3Snapshot() {
		if e.Importance >= h.cfg.PromoteThreshold {
			batch = append(batch, e)
		}
		if len(batch) == h.cfg.PromotionBatch {
			h.scheduleIndex(ctx, batch)
			batch = nil
		}
	}
	if len(batch) > 0 {
		h.scheduleIndex(ctx, batch)
	}
}

func (h *Hierarchy) scheduleIndex(ctx context.Context, batch []*models.MemoryEntry) {
	h.promoteSem <- struct{}{}
	h.wg.Add(1)
	go func(batch []*models.MemoryEntry) {
		defer h.wg.Done()
		defer func() { <-h.promoteSem }()

		promoted := make([]*models.MemoryEntry, len(batch))
		for i, e := range batch {
			clone := cloneEntry(e, models.TierSemantic)
			promoted[i] = clone
		}
		if err := h.l4.Index(ctx, promoted); err != nil {
			h.cfg.Logger.Warn("memory: L3->L4 promotion failed", "error", err, "count", len(batch))
		}
	}(batch)
}

// Wait blocks until all in-flight promotion work finishes. Intended for
// graceful shutdown and tests; ordinary operation never waits on it.
func (h *Hierarchy) Wait() {
	h.wg.Wait()
}

// Search implements spec §4.2.3's search(query, k, tier=L4): tier scopes
// the query to one hierarchy level, defaulting to L4 (top-k by cosine
// similarity against L4's vectors when an embedder is configured,
// degrading to a keyword match over L3-resident content otherwise). L1
// and L2 are queried directly off their in-memory slices/heap; L3 is
// always a keyword match, since summaries have no embedding of their own.
func (h *Hierarchy) Search(ctx context.Context, query string, k int, tier models.MemoryTier) ([]*models.SearchResult, error) {
	switch tier {
	case models.TierEphemeral:
		return wrapResults(filterByQuery(h.GetRecent(0), query), k), nil
	case models.TierSession:
		return wrapResults(filterByQuery(h.GetImportant(0), query), k), nil
	case models.TierEpisodic:
		return h.keywordSearch(query, k), nil
	case "", models.TierSemantic:
		if h.l4 != nil {
			resp, err := h.l4.Search(ctx, &models.SearchRequest{Query: query, Scope: models.ScopeAll, Limit: k})
			if err == nil {
				return resp.Results, nil
			}
			h.cfg.Logger.Warn("memory: L4 search failed, falling back to keyword match", "error", err)
		}
		return h.keywordSearch(query, k), nil
	default:
		return nil, fmt.Errorf("memory: unknown search tier %q", tier)
	}
}

// filterByQuery keeps only entries whose content contains query
// case-insensitively; an empty query matches everything.
func filterByQuery(entries []*models.MemoryEntry, query string) []*models.MemoryEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return entries
	}
	var out []*models.MemoryEntry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Content), q) {
			out = append(out, e)
		}
	}
	return out
}

// wrapResults caps entries at k (0 means unlimited) and wraps each as a
// SearchResult; L1/L2 hits have no similarity score, so Score is a flat 1.0.
func wrapResults(entries []*models.MemoryEntry, k int) []*models.SearchResult {
	if k > 0 && k < len(entries) {
		entries = entries[:k]
	}
	out := make([]*models.SearchResult, len(entries))
	for i, e := range entries {
		out[i] = &models.SearchResult{Entry: e, Score: 1.0}
	}
	return out
}

// SearchMessages adapts Search to agent.MemorySearcher's shape, letting a
// Hierarchy be handed directly to agent.LoopConfig.Memory: each matched
// entry becomes a role=system recall message the context assembler can
// fold into a turn alongside live conversation history. It always
// searches L4 (tier defaults to semantic, the long-term recall tier the
// Agent Executor's turn loop wants), since per-tier scoping is a direct
// Hierarchy.Search concern, not the loop's.
func (h *Hierarchy) SearchMessages(ctx context.Context, query string, k int) ([]models.Message, error) {
	results, err := h.Search(ctx, query, k, models.TierSemantic)
	if err != nil {
		return nil, err
	}
	msgs := make([]models.Message, 0, len(results))
	for _, r := range results {
		if r == nil || r.Entry == nil {
			continue
		}
		msgs = append(msgs, models.NewMessage(models.RoleSystem, r.Entry.Content))
	}
	return msgs, nil
}

func (h *Hierarchy) keywordSearch(query string, k int) []*models.SearchResult {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var results []*models.SearchResult
	for _, e := range h.l3Snapshot() {
		if strings.Contains(strings.ToLower(e.Content), q) {
			results = append(results, &models.SearchResult{Entry: e, Score: 1.0})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Entry.Importance > results[j].Entry.Importance })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

// ListBySession returns entries across the requested tiers whose
// originating Task shared sessionID (spec §4.2.3). tiers may be empty,
// meaning all in-process tiers (L1-L3; L4 is queried via Search).
func (h *Hierarchy) ListBySession(sessionID string, tiers []models.MemoryTier) []*models.MemoryEntry {
	wantTier := func(t models.MemoryTier) bool {
		if len(tiers) == 0 {
			return true
		}
		for _, tt := range tiers {
			if tt == t {
				return true
			}
		}
		return false
	}

	var out []*models.MemoryEntry
	if wantTier(models.TierEphemeral) {
		h.l1mu.RLock()
		for _, e := range h.l1 {
			if e.SessionID == sessionID {
				out = append(out, e)
			}
		}
		h.l1mu.RUnlock()
	}
	if wantTier(models.TierSession) {
		h.l2mu.RLock()
		for _, e := range h.l2 {
			if e.SessionID == sessionID {
				out = append(out, e)
			}
		}
		h.l2mu.RUnlock()
	}
	if wantTier(models.TierEpisodic) {
		for _, e := range h.l3Snapshot() {
			if e.SessionID == sessionID {
				out = append(out, e)
			}
		}
	}
	return out
}
