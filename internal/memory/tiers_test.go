package memory

import (
	"context"
	"testing"

	"github.com/kohlerlabs/agentcore/pkg/models"
)

func userTask(sessionID, content string) models.Task {
	return models.Task{
		Action:    "message.received",
		SessionID: sessionID,
		Payload:   models.NewMessage(models.RoleUser, content),
	}
}

func TestHierarchy_Ingest_AppendsL1(t *testing.T) {
	h := NewHierarchy(nil, HierarchyConfig{})
	if err := h.Ingest(context.Background(), userTask("s1", "hello")); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	recent := h.GetRecent(10)
	if len(recent) != 1 || recent[0].Content != "hello" {
		t.Fatalf("GetRecent = %+v, want one entry with content 'hello'", recent)
	}
}

func TestHierarchy_Ingest_HighImportanceReachesL2(t *testing.T) {
	h := NewHierarchy(nil, HierarchyConfig{})
	if err := h.Ingest(context.Background(), userTask("s1", "important thing")); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	important := h.GetImportant(10)
	if len(important) != 1 {
		t.Fatalf("GetImportant = %+v, want one entry (user messages default to importance 0.9)", important)
	}
}

func TestHierarchy_Ingest_LowImportanceSkipsL2(t *testing.T) {
	h := NewHierarchy(nil, HierarchyConfig{})
	task := models.Task{
		Action:  "message.received",
		Payload: models.NewMessage(models.RoleAssistant, "just chatting"),
	}
	if err := h.Ingest(context.Background(), task); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if got := h.GetImportant(10); len(got) != 0 {
		t.Fatalf("GetImportant = %+v, want empty (assistant messages default below L2 threshold)", got)
	}
}

func TestHierarchy_Ingest_MetadataImportanceOverride(t *testing.T) {
	h := NewHierarchy(nil, HierarchyConfig{})
	task := models.Task{
		Action:   "message.received",
		Payload:  models.NewMessage(models.RoleAssistant, "actually critical"),
		Metadata: map[string]any{"importance": 0.95},
	}
	if err := h.Ingest(context.Background(), task); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	important := h.GetImportant(10)
	if len(important) != 1 || important[0].Importance != 0.95 {
		t.Fatalf("GetImportant = %+v, want one entry with overridden importance 0.95", important)
	}
}

func TestHierarchy_L1ToL3Promotion_OnApproachingBound(t *testing.T) {
	h := NewHierarchy(nil, HierarchyConfig{L1Capacity: 10})
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		if err := h.Ingest(ctx, userTask("s1", "msg")); err != nil {
			t.Fatalf("Ingest error: %v", err)
		}
	}
	if got := h.l3Len(); got == 0 {
		t.Fatalf("l3Len = %d, want > 0 after L1 approached its bound", got)
	}
	if got := h.l1Len(); got >= 9 {
		t.Fatalf("l1Len = %d, want fewer than 9 after the oldest run was promoted out", got)
	}
}

func TestHierarchy_GetRecent_CapsAtAvailable(t *testing.T) {
	h := NewHierarchy(nil, HierarchyConfig{})
	ctx := context.Background()
	h.Ingest(ctx, userTask("s1", "one"))
	h.Ingest(ctx, userTask("s1", "two"))
	got := h.GetRecent(100)
	if len(got) != 2 {
		t.Fatalf("GetRecent(100) len = %d, want 2", len(got))
	}
	if got[len(got)-1].Content != "two" {
		t.Fatalf("GetRecent last entry = %q, want 'two'", got[len(got)-1].Content)
	}
}

func TestHierarchy_Search_FallsBackToKeywordMatch(t *testing.T) {
	h := NewHierarchy(nil, HierarchyConfig{L1Capacity: 2})
	ctx := context.Background()
	h.Ingest(ctx, userTask("s1", "the quick brown fox"))
	h.Ingest(ctx, userTask("s1", "jumps over the lazy dog"))
	// Force a promotion so L3 has content to keyword-search.
	h.promoteL1ToL3(ctx)

	results, err := h.Search(ctx, "fox", 5, "")
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("Search = empty, want at least one keyword match for 'fox'")
	}
}

func TestHierarchy_Search_TierL1ReturnsFromL1Only(t *testing.T) {
	h := NewHierarchy(nil, HierarchyConfig{})
	ctx := context.Background()
	// promoteL1ToL3 promotes the oldest half of L1, so "promoted content"
	// (ingested first, oldest) is the one that leaves L1 for L3, and
	// "fresh in l1" (ingested second) is the one left behind.
	h.Ingest(ctx, userTask("s1", "promoted content"))
	h.Ingest(ctx, userTask("s1", "fresh in l1"))
	h.promoteL1ToL3(ctx)

	results, err := h.Search(ctx, "promoted", 5, models.TierEphemeral)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("Search(tier=L1) = %+v, want no match for content promoted out of L1", results)
	}

	results, err = h.Search(ctx, "fresh", 5, models.TierEphemeral)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(results) != 1 || results[0].Entry.Content != "fresh in l1" {
		t.Fatalf("Search(tier=L1) = %+v, want the one surviving L1 entry", results)
	}
}

func TestHierarchy_ListBySession_FiltersBySessionID(t *testing.T) {
	h := NewHierarchy(nil, HierarchyConfig{})
	ctx := context.Background()
	h.Ingest(ctx, userTask("s1", "for session one"))
	h.Ingest(ctx, userTask("s2", "for session two"))

	got := h.ListBySession("s1", nil)
	if len(got) != 1 || got[0].Content != "for session one" {
		t.Fatalf("ListBySession(s1) = %+v, want exactly the session-one entry", got)
	}
}

func TestHierarchy_Ingest_NonMessagePayloadIgnored(t *testing.T) {
	h := NewHierarchy(nil, HierarchyConfig{})
	task := models.Task{Action: "system.ping", Payload: "not a message"}
	if err := h.Ingest(context.Background(), task); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if got := h.GetRecent(10); len(got) != 0 {
		t.Fatalf("GetRecent = %+v, want empty for a non-Message payload", got)
	}
}
