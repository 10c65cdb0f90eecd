package assembler

import (
	"strings"
	"testing"

	"github.com/kohlerlabs/agentcore/pkg/models"
)

func TestAssemble_UnderBudget_EmitsAllInPriorityOrder(t *testing.T) {
	a := New(10000)
	components := []Component{
		NewTextComponent("tool-definitions", Medium, false, "calc: does math"),
		NewTextComponent("base-instructions", Critical, false, "You are a helpful agent."),
		NewTextComponent("memory", High, true, "user likes go"),
	}

	out, err := a.Assemble(components)
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d messages, want 3", len(out))
	}
	if out[0].Metadata["component"] != "base-instructions" {
		t.Errorf("out[0] component = %v, want base-instructions", out[0].Metadata["component"])
	}
	if out[1].Metadata["component"] != "memory" {
		t.Errorf("out[1] component = %v, want memory (ESSENTIAL/HIGH before MEDIUM)", out[1].Metadata["component"])
	}
	if out[2].Metadata["component"] != "tool-definitions" {
		t.Errorf("out[2] component = %v, want tool-definitions", out[2].Metadata["component"])
	}
}

func TestAssemble_ShrinksLowestPriorityFirst(t *testing.T) {
	longMemory := strings.Repeat("memory excerpt content ", 200)
	a := New(50)

	components := []Component{
		NewTextComponent("base-instructions", Critical, false, "short"),
		NewTextComponent("memory", High, true, longMemory),
	}

	out, err := a.Assemble(components)
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}

	var memoryMsg *models.Message
	for i := range out {
		if out[i].Metadata["component"] == "memory" {
			memoryMsg = &out[i]
		}
	}
	if memoryMsg == nil {
		t.Fatal("memory component missing from output")
	}
	if len(memoryMsg.Content) >= len(longMemory) {
		t.Errorf("memory content was not shrunk: len=%d original=%d", len(memoryMsg.Content), len(longMemory))
	}
	if !strings.Contains(memoryMsg.Content, truncationMarker) {
		t.Errorf("memory content missing truncation marker: %q", memoryMsg.Content)
	}
}

func TestAssemble_PreservesMessageSequenceHeadAndTail(t *testing.T) {
	var seq []models.Message
	for i := 0; i < 20; i++ {
		seq = append(seq, models.NewMessage(models.RoleUser, strings.Repeat("x", 200)))
	}
	seq[0] = models.NewMessage(models.RoleUser, "FIRST")
	seq[len(seq)-1] = models.NewMessage(models.RoleAssistant, "LAST")

	a := New(30)
	components := []Component{
		NewMessageSequenceComponent("messages", Essential, true, seq),
	}

	out, err := a.Assemble(components)
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if len(out) < 2 {
		t.Fatalf("got %d messages, want at least head+tail", len(out))
	}
	if out[0].Content != "FIRST" {
		t.Errorf("out[0].Content = %q, want FIRST", out[0].Content)
	}
	if out[len(out)-1].Content != "LAST" {
		t.Errorf("out[last].Content = %q, want LAST", out[len(out)-1].Content)
	}
}

func TestAssemble_BudgetExceeded_OnlyNonTruncatableRemain(t *testing.T) {
	a := New(1)
	components := []Component{
		NewTextComponent("base-instructions", Critical, false, strings.Repeat("word ", 500)),
	}

	_, err := a.Assemble(components)
	if err != ErrBudgetExceeded {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}
}

func TestAssemble_StableOrderWithinSamePriority(t *testing.T) {
	a := New(10000)
	components := []Component{
		NewTextComponent("first", High, false, "a"),
		NewTextComponent("second", High, false, "b"),
	}

	out, err := a.Assemble(components)
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if out[0].Metadata["component"] != "first" || out[1].Metadata["component"] != "second" {
		t.Errorf("order not stable: %v, %v", out[0].Metadata["component"], out[1].Metadata["component"])
	}
}

func TestAssemble_EmptyTextComponentOmitted(t *testing.T) {
	a := New(10000)
	components := []Component{
		NewTextComponent("empty", Medium, false, ""),
		NewTextComponent("present", High, false, "hi"),
	}

	out, err := a.Assemble(components)
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d messages, want 1 (empty component omitted)", len(out))
	}
}
