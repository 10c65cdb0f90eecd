package tooling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kohlerlabs/agentcore/pkg/models"
)

type fakeTool struct {
	name       string
	schema     json.RawMessage
	delay      time.Duration
	err        error
	panics     bool
	content    string
	isError    bool
	onExecute  func()
	concurrent *atomic.Int32
	maxSeen    *atomic.Int32
}

func (f *fakeTool) Name() string           { return f.name }
func (f *fakeTool) Description() string    { return "fake" }
func (f *fakeTool) Schema() json.RawMessage { return f.schema }

func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolExecutionResult, error) {
	if f.concurrent != nil {
		n := f.concurrent.Add(1)
		defer f.concurrent.Add(-1)
		for {
			cur := f.maxSeen.Load()
			if n <= cur || f.maxSeen.CompareAndSwap(cur, n) {
				break
			}
		}
	}
	if f.onExecute != nil {
		f.onExecute()
	}
	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.ToolExecutionResult{Content: f.content, IsError: f.isError}, nil
}

func newRegistryWith(tools ...*fakeTool) *Registry {
	r := NewRegistry()
	for _, t := range tools {
		readOnly := false
		if len(t.name) >= 4 && t.name[:4] == "get_" {
			readOnly = true
		}
		r.Register(t, WithReadOnly(readOnly))
	}
	return r
}

func TestBatch_ParallelReadRuns(t *testing.T) {
	var concurrent, maxSeen atomic.Int32
	readA := &fakeTool{name: "get_a", delay: 20 * time.Millisecond, concurrent: &concurrent, maxSeen: &maxSeen}
	readB := &fakeTool{name: "get_b", delay: 20 * time.Millisecond, concurrent: &concurrent, maxSeen: &maxSeen}

	registry := newRegistryWith(readA, readB)
	exec := NewExecutor(registry)

	calls := []models.ToolCall{
		{CallID: "1", Name: "get_a"},
		{CallID: "2", Name: "get_b"},
	}

	start := time.Now()
	results := exec.Batch(context.Background(), calls)
	elapsed := time.Since(start)

	if elapsed > 35*time.Millisecond {
		t.Errorf("reads did not run concurrently, took %s", elapsed)
	}
	if maxSeen.Load() < 2 {
		t.Errorf("max concurrent = %d, want 2", maxSeen.Load())
	}
	if len(results) != 2 || results[0].IsError || results[1].IsError {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestBatch_ReadWriteBarrier(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	readA := &fakeTool{name: "get_a", onExecute: record("get_a")}
	writeB := &fakeTool{name: "write_b", onExecute: record("write_b")}
	readC := &fakeTool{name: "get_c", onExecute: record("get_c")}

	registry := newRegistryWith(readA, writeB, readC)
	exec := NewExecutor(registry)

	calls := []models.ToolCall{
		{CallID: "1", Name: "get_a"},
		{CallID: "2", Name: "write_b"},
		{CallID: "3", Name: "get_c"},
	}

	results := exec.Batch(context.Background(), calls)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[1] != "write_b" {
		t.Errorf("execution order = %v, want write_b strictly between the two reads", order)
	}
}

func TestBatch_ToolFailureDoesNotAbortBatch(t *testing.T) {
	failing := &fakeTool{name: "get_fail", err: errors.New("boom")}
	ok := &fakeTool{name: "get_ok", content: "fine"}

	registry := newRegistryWith(failing, ok)
	exec := NewExecutor(registry)

	calls := []models.ToolCall{
		{CallID: "1", Name: "get_fail"},
		{CallID: "2", Name: "get_ok"},
	}

	results := exec.Batch(context.Background(), calls)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !results[0].IsError {
		t.Errorf("results[0].IsError = false, want true")
	}
	if results[1].IsError || results[1].Content != "fine" {
		t.Errorf("results[1] = %+v, want successful", results[1])
	}
}

func TestBatch_Timeout(t *testing.T) {
	slow := &fakeTool{name: "get_slow", delay: 50 * time.Millisecond}
	registry := newRegistryWith(slow)
	exec := NewExecutor(registry, WithCallTimeout(10*time.Millisecond))

	results := exec.Batch(context.Background(), []models.ToolCall{{CallID: "1", Name: "get_slow"}})
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("results = %+v, want single timed-out error result", results)
	}
}

func TestBatch_Panic(t *testing.T) {
	bomb := &fakeTool{name: "write_bomb", panics: true}
	registry := newRegistryWith(bomb)
	exec := NewExecutor(registry)

	results := exec.Batch(context.Background(), []models.ToolCall{{CallID: "1", Name: "write_bomb"}})
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("results = %+v, want single failed result recovering the panic", results)
	}
}

func TestBatch_BadArgumentsSkipsExecution(t *testing.T) {
	executed := false
	schema := json.RawMessage(`{"type":"object","required":["x"],"properties":{"x":{"type":"string"}}}`)
	tool := &fakeTool{name: "get_typed", schema: schema, onExecute: func() { executed = true }}

	registry := newRegistryWith(tool)
	exec := NewExecutor(registry)

	calls := []models.ToolCall{{CallID: "1", Name: "get_typed", Arguments: json.RawMessage(`{}`)}}
	results := exec.Batch(context.Background(), calls)

	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("results = %+v, want validation failure", results)
	}
	if executed {
		t.Error("tool.Execute was called despite invalid arguments")
	}
}

func TestBatch_UnknownToolProducesErrorResult(t *testing.T) {
	registry := NewRegistry()
	exec := NewExecutor(registry)

	results := exec.Batch(context.Background(), []models.ToolCall{{CallID: "1", Name: "nope"}})
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("results = %+v, want single error result for unknown tool", results)
	}
}

func TestBatch_IndexAlignment(t *testing.T) {
	a := &fakeTool{name: "get_a", content: "a"}
	b := &fakeTool{name: "write_b", content: "b"}
	c := &fakeTool{name: "get_c", content: "c"}

	registry := newRegistryWith(a, b, c)
	exec := NewExecutor(registry)

	calls := []models.ToolCall{
		{CallID: "1", Name: "get_a"},
		{CallID: "2", Name: "write_b"},
		{CallID: "3", Name: "get_c"},
	}
	results := exec.Batch(context.Background(), calls)

	want := []string{"a", "b", "c"}
	for i, w := range want {
		if results[i].Content != w || results[i].ToolCallID != calls[i].CallID {
			t.Errorf("results[%d] = %+v, want content %q matching call %q", i, results[i], w, calls[i].CallID)
		}
	}
}

func TestBatch_EmptyBatch(t *testing.T) {
	exec := NewExecutor(NewRegistry())
	results := exec.Batch(context.Background(), nil)
	if len(results) != 0 {
		t.Errorf("results = %+v, want empty", results)
	}
}

func TestBatch_CancelledContext(t *testing.T) {
	slow := &fakeTool{name: "write_slow", delay: 50 * time.Millisecond}
	registry := newRegistryWith(slow)
	exec := NewExecutor(registry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := exec.Batch(ctx, []models.ToolCall{{CallID: "1", Name: "write_slow"}})
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("results = %+v, want single error result for pre-cancelled context", results)
	}
}
