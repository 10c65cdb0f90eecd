// Package tooling implements the Tool Registry and Tool Executor: schema
// validation and read/write classification for every registered tool, and
// a batch scheduler that runs read-runs concurrently behind write
// barriers without ever aborting the batch on a single failure.
package tooling

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kohlerlabs/agentcore/pkg/models"
)

// readOnlyPrefixes names the naming heuristic used when a tool does not
// declare its own classification: verbs that only observe state.
var readOnlyPrefixes = regexp.MustCompile(`^(get|list|read|search|query|describe|fetch|find|lookup)_`)

// Descriptor is what the registry knows about one tool: its schema, its
// read/write classification, and the implementation to invoke.
type Descriptor struct {
	Tool       models.Tool
	IsReadOnly bool

	schema     *jsonschema.Schema
	schemaOnce sync.Once
	schemaErr  error
}

func classify(name string, explicit *bool) bool {
	if explicit != nil {
		return *explicit
	}
	return readOnlyPrefixes.MatchString(name)
}

func (d *Descriptor) compiledSchema() (*jsonschema.Schema, error) {
	d.schemaOnce.Do(func() {
		raw := d.Tool.Schema()
		if len(raw) == 0 {
			return
		}
		compiled, err := jsonschema.CompileString(d.Tool.Name()+".schema.json", string(raw))
		if err != nil {
			d.schemaErr = fmt.Errorf("compile schema for %s: %w", d.Tool.Name(), err)
			return
		}
		d.schema = compiled
	})
	return d.schema, d.schemaErr
}

// Registry maps a tool name to its Descriptor. Lookups are lock-free once
// registration has finished; registration itself is guarded for the rare
// case of dynamic (MCP, edge) tool sets.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Descriptor)}
}

// RegisterOption configures a single tool registration.
type RegisterOption func(*registerOpts)

type registerOpts struct {
	readOnly *bool
}

// WithReadOnly overrides the naming-heuristic classification explicitly.
func WithReadOnly(readOnly bool) RegisterOption {
	return func(o *registerOpts) { o.readOnly = &readOnly }
}

// Register adds tool to the registry under its own Name(). A later
// Register with the same name replaces the descriptor.
func (r *Registry) Register(tool models.Tool, opts ...RegisterOption) {
	cfg := registerOpts{}
	for _, opt := range opts {
		opt(&cfg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = &Descriptor{
		Tool:       tool,
		IsReadOnly: classify(tool.Name(), cfg.readOnly),
	}
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Lookup returns the descriptor for name, if registered.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Descriptors returns every registered tool's descriptor.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	return out
}
