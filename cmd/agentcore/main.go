// Command agentcore runs a single-agent session against the core
// runtime: a Bus, a hierarchical Memory store, and an Agent Executor
// loop wired to a configured LLM provider and tool registry.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kohlerlabs/agentcore/internal/agent"
	"github.com/kohlerlabs/agentcore/internal/agent/providers"
	"github.com/kohlerlabs/agentcore/internal/bus"
	"github.com/kohlerlabs/agentcore/internal/config"
	"github.com/kohlerlabs/agentcore/internal/memory"
	"github.com/kohlerlabs/agentcore/internal/observability"
	"github.com/kohlerlabs/agentcore/internal/tooling"
	"github.com/kohlerlabs/agentcore/internal/tools/exec"
	"github.com/kohlerlabs/agentcore/internal/tools/facts"
	"github.com/kohlerlabs/agentcore/internal/tools/files"
	"github.com/kohlerlabs/agentcore/internal/tools/memorysearch"
	"github.com/kohlerlabs/agentcore/internal/tools/naming"
	"github.com/kohlerlabs/agentcore/internal/tools/vectormemory"
	"github.com/kohlerlabs/agentcore/pkg/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "agentcore",
		Short:         "Multi-agent orchestration core: Bus, Memory, Context Assembler, Tool Executor, Agent Executor.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "agentcore.yaml", "path to config file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agentcore version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(config.Version)
			return nil
		},
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	var message string
	var sessionID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one agent turn-cycle to completion against a single message",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return fmt.Errorf("--message is required")
			}
			return runOnce(cmd.Context(), *configPath, sessionID, message)
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "initial user message to run the agent against")
	cmd.Flags().StringVar(&sessionID, "session", "default", "session id tagging the Bus tasks for this run")
	return cmd
}

func runOnce(ctx context.Context, configPath, sessionID, message string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slogLevel := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	}
	busLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))

	b := bus.New(busLogger)

	var l4 *memory.Manager
	if cfg.VectorMemory.Enabled {
		l4, err = memory.NewManager(&cfg.VectorMemory)
		if err != nil {
			return fmt.Errorf("init vector memory: %w", err)
		}
		defer l4.Close()
	}
	hierarchy := memory.NewHierarchy(l4, memory.HierarchyConfig{Logger: busLogger})

	if _, err := b.Subscribe("**", func(ctx context.Context, task bus.Task) (bus.Task, error) {
		return bus.Task{}, hierarchy.Ingest(ctx, task)
	}); err != nil {
		return fmt.Errorf("subscribe memory to bus: %w", err)
	}

	registry := tooling.NewRegistry()
	if err := registerTools(registry, cfg, l4); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	executor := tooling.NewExecutor(registry)

	provider, model, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("build LLM provider: %w", err)
	}

	loop := agent.NewLoop(sessionID, agent.LoopConfig{
		Provider:         provider,
		Model:            model,
		Tools:            executor,
		Memory:           memorySearcherFunc(hierarchy.SearchMessages),
		Bus:              b,
		BusAction:        "agent.message",
		BaseInstructions: "You are a helpful assistant.",
	}, agent.NewCallbackSink(func(ctx context.Context, e models.AgentEvent) {
		logger.Info(ctx, string(e.Type), "run_id", e.RunID, "turn", e.TurnIndex)
	}))

	final, err := loop.Run(ctx, models.NewMessage(models.RoleUser, message))
	if err != nil {
		return fmt.Errorf("agent run: %w", err)
	}

	hierarchy.Wait()
	fmt.Println(final.Content)
	return nil
}

// registerTools populates the registry with the tool set every agent
// session gets: filesystem access, process execution, fact extraction,
// and memory search/recall scoped to the configured workspace. Vector
// memory tools are only registered when L4 is actually enabled, since
// they need a live *memory.Manager to call through to.
//
// Every tool's canonical identity is checked against a naming.ToolRegistry
// first, so a future MCP or edge tool sharing a core tool's safe name is
// caught as a naming.CollisionError at startup instead of silently
// shadowing it in the tool registry.
func registerTools(registry *tooling.Registry, cfg *config.Config, l4 *memory.Manager) error {
	names := naming.NewToolRegistry()
	add := func(tool models.Tool) error {
		if err := names.Register(naming.CoreTool(tool.Name())); err != nil {
			return err
		}
		registry.Register(tool)
		return nil
	}

	workspace := cfg.Workspace.Path

	filesCfg := files.Config{Workspace: workspace, MaxReadBytes: cfg.Workspace.MaxChars}
	for _, t := range []models.Tool{
		files.NewReadTool(filesCfg),
		files.NewWriteTool(filesCfg),
		files.NewEditTool(filesCfg),
		files.NewApplyPatchTool(filesCfg),
		facts.NewExtractTool(10),
	} {
		if err := add(t); err != nil {
			return fmt.Errorf("register tool: %w", err)
		}
	}

	execManager := exec.NewManager(workspace)
	for _, t := range []models.Tool{
		exec.NewExecTool("exec", execManager),
		exec.NewProcessTool(execManager),
	} {
		if err := add(t); err != nil {
			return fmt.Errorf("register tool: %w", err)
		}
	}

	msCfg := &memorysearch.Config{WorkspacePath: workspace, Directory: workspace}
	for _, t := range []models.Tool{
		memorysearch.NewMemorySearchTool(msCfg),
		memorysearch.NewMemoryGetTool(msCfg),
	} {
		if err := add(t); err != nil {
			return fmt.Errorf("register tool: %w", err)
		}
	}

	if l4 != nil {
		for _, t := range []models.Tool{
			vectormemory.NewSearchTool(l4, &cfg.VectorMemory),
			vectormemory.NewWriteTool(l4, &cfg.VectorMemory),
		} {
			if err := add(t); err != nil {
				return fmt.Errorf("register tool: %w", err)
			}
		}
	}
	return nil
}

// memorySearcherFunc adapts a Search-shaped function to agent.MemorySearcher,
// letting *memory.Hierarchy's SearchMessages method satisfy the interface
// without Hierarchy importing the agent package.
type memorySearcherFunc func(ctx context.Context, query string, k int) ([]models.Message, error)

func (f memorySearcherFunc) Search(ctx context.Context, query string, k int) ([]models.Message, error) {
	return f(ctx, query, k)
}

// buildProvider selects cfg.LLM.DefaultProvider (or "anthropic" if unset)
// from the configured provider table and constructs the matching
// concrete adapter.
func buildProvider(cfg *config.Config) (agent.LLMProvider, string, error) {
	name := cfg.LLM.DefaultProvider
	if name == "" {
		name = "anthropic"
	}
	pcfg, ok := cfg.LLM.Providers[name]
	if !ok {
		return nil, "", fmt.Errorf("no llm.providers entry for %q", name)
	}

	switch name {
	case "anthropic":
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  pcfg.APIKey,
			BaseURL: pcfg.BaseURL,
		})
		if err != nil {
			return nil, "", err
		}
		return p, firstNonEmpty(pcfg.DefaultModel, "claude-sonnet-4-20250514"), nil
	case "openai":
		return providers.NewOpenAIProvider(pcfg.APIKey), firstNonEmpty(pcfg.DefaultModel, "gpt-4o"), nil
	default:
		return nil, "", fmt.Errorf("unsupported llm provider %q", name)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
