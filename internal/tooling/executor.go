package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kohlerlabs/agentcore/pkg/models"
)

// ErrorKind names the taxonomy of tool-call failures a result can carry.
// These are string kinds, not Go error types: a failed result is data,
// never a propagated exception.
type ErrorKind string

const (
	ErrorKindBadArguments ErrorKind = "BadArguments"
	ErrorKindToolFailure  ErrorKind = "ToolFailure"
	ErrorKindTimeout      ErrorKind = "Timeout"
	ErrorKindCancelled    ErrorKind = "Cancelled"
)

const defaultCallTimeout = 60 * time.Second

// Executor schedules a batch of tool calls against a Registry: read-runs
// execute concurrently, write-calls stand alone between barriers, and
// every call settles into exactly one index-aligned result regardless of
// success or failure.
type Executor struct {
	registry    *Registry
	callTimeout time.Duration
}

// NewExecutor returns an Executor bound to registry, using the default
// 60s per-call timeout unless overridden with WithCallTimeout.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{registry: registry, callTimeout: defaultCallTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCallTimeout overrides the default 60s per-call timeout.
func WithCallTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// partition is one maximal run of calls sharing a side-effect class: a
// read-run (len ≥ 1, all read-only) or a single write-call.
type partition struct {
	calls   []models.ToolCall
	indices []int
	write   bool
}

func partitionBatch(calls []models.ToolCall, registry *Registry) []partition {
	var partitions []partition
	var current partition

	isReadOnly := func(c models.ToolCall) bool {
		if d, ok := registry.Lookup(c.Name); ok {
			return d.IsReadOnly
		}
		// an unregistered tool is never assumed safe to run concurrently.
		return false
	}

	flush := func() {
		if len(current.calls) > 0 {
			partitions = append(partitions, current)
			current = partition{}
		}
	}

	for i, c := range calls {
		if isReadOnly(c) {
			if current.write {
				flush()
			}
			current.write = false
			current.calls = append(current.calls, c)
			current.indices = append(current.indices, i)
			continue
		}
		flush()
		partitions = append(partitions, partition{calls: []models.ToolCall{c}, indices: []int{i}, write: true})
	}
	flush()

	return partitions
}

// Batch executes calls respecting read/write barriers and returns results
// index-aligned to calls. It never returns an error itself: every failure
// mode becomes a per-call result with IsError=true.
func (e *Executor) Batch(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	for _, part := range partitionBatch(calls, e.registry) {
		if part.write {
			idx, call := part.indices[0], part.calls[0]
			results[idx] = e.invoke(ctx, call)
			continue
		}

		var wg sync.WaitGroup
		for i, call := range part.calls {
			idx := part.indices[i]
			wg.Add(1)
			go func(idx int, call models.ToolCall) {
				defer wg.Done()
				results[idx] = e.invoke(ctx, call)
			}(idx, call)
		}
		wg.Wait()
	}

	return results
}

func (e *Executor) invoke(ctx context.Context, call models.ToolCall) models.ToolResult {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return failedResult(call, ErrorKindCancelled, "batch cancelled before call started", start)
	}

	descriptor, ok := e.registry.Lookup(call.Name)
	if !ok {
		return failedResult(call, ErrorKindBadArguments, fmt.Sprintf("unknown tool %q", call.Name), start)
	}

	if schema, err := descriptor.compiledSchema(); err != nil {
		return failedResult(call, ErrorKindBadArguments, err.Error(), start)
	} else if schema != nil {
		var decoded any
		args := call.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		if err := json.Unmarshal(args, &decoded); err != nil {
			return failedResult(call, ErrorKindBadArguments, fmt.Sprintf("arguments not valid JSON: %v", err), start)
		}
		if err := schema.Validate(decoded); err != nil {
			return failedResult(call, ErrorKindBadArguments, err.Error(), start)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	type outcome struct {
		result *models.ToolExecutionResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := descriptor.Tool.Execute(callCtx, call.Arguments)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return failedResult(call, ErrorKindToolFailure, o.err.Error(), start)
		}
		return successResult(call, o.result, start)
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return failedResult(call, ErrorKindCancelled, "batch cancelled", start)
		}
		return failedResult(call, ErrorKindTimeout, fmt.Sprintf("tool call exceeded %s", e.callTimeout), start)
	}
}

func successResult(call models.ToolCall, r *models.ToolExecutionResult, start time.Time) models.ToolResult {
	if r == nil {
		r = &models.ToolExecutionResult{}
	}
	return models.ToolResult{
		ToolCallID:  call.CallID,
		Name:        call.Name,
		Content:     r.Content,
		IsError:     r.IsError,
		Attachments: attachmentsFromArtifacts(r.Artifacts),
		Duration:    time.Since(start),
	}
}

func failedResult(call models.ToolCall, kind ErrorKind, message string, start time.Time) models.ToolResult {
	return models.ToolResult{
		ToolCallID: call.CallID,
		Name:       call.Name,
		Content:    message,
		IsError:    true,
		Error:      fmt.Sprintf("%s: %s", kind, message),
		Duration:   time.Since(start),
	}
}

func attachmentsFromArtifacts(artifacts []models.Artifact) []models.Attachment {
	if len(artifacts) == 0 {
		return nil
	}
	out := make([]models.Attachment, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, models.Attachment{
			ID:       a.ID,
			Type:     a.Type,
			Filename: a.Filename,
			MimeType: a.MimeType,
			URL:      a.URL,
			Size:     int64(len(a.Data)),
		})
	}
	return out
}
