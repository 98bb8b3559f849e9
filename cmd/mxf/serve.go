package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/modelexchange/mxf/internal/agent"
	"github.com/modelexchange/mxf/internal/agent/providers"
	"github.com/modelexchange/mxf/internal/breaker"
	"github.com/modelexchange/mxf/internal/bus"
	"github.com/modelexchange/mxf/internal/config"
	"github.com/modelexchange/mxf/internal/control"
	"github.com/modelexchange/mxf/internal/gateway"
	"github.com/modelexchange/mxf/internal/mcp"
	"github.com/modelexchange/mxf/internal/memory"
	"github.com/modelexchange/mxf/internal/observability"
	"github.com/modelexchange/mxf/internal/storage"
	"github.com/modelexchange/mxf/internal/tools"
	"github.com/modelexchange/mxf/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var cfgPath, metricsAddr, workspace string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent against the exchange server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath(cfgPath), metricsAddr, workspace)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "configuration file (default: $MXF_CONFIG or mxf.yaml)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&workspace, "workspace", ".", "root directory for file tools")
	return cmd
}

// toolSource merges the exchange server's tool list with tools bridged
// from registered MCP servers.
type toolSource struct {
	gw  *gateway.Client
	mcp *mcp.Manager
}

func (s *toolSource) ListTools(ctx context.Context) ([]models.ToolSpec, error) {
	specs, err := s.gw.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	return append(specs, s.mcp.ServerTools()...), nil
}

func runServe(path, metricsAddr, workspace string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	promReg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promReg)
	b := bus.New(logger)

	docs, err := storage.Open(storage.Config{Path: cfg.Storage.Path, ConnectTimeout: 10 * time.Second})
	if err != nil {
		return err
	}
	defer docs.Close()

	mem := memory.NewStore(memory.Options{
		AgentID:         cfg.AgentID,
		ChannelID:       cfg.ChannelID,
		MaxHistory:      cfg.MaxHistory,
		MaxMessageSize:  cfg.MaxMessageSize,
		MaxObservations: cfg.MaxObservations,
		Docs:            docs,
		Publisher:       b,
		Logger:          logger,
		Metrics:         metrics,
	})

	client := gateway.NewClient(gateway.Config{
		URL:       cfg.Gateway.URL,
		DomainKey: cfg.Gateway.DomainKey,
		KeyID:     cfg.Gateway.KeyID,
		SecretKey: cfg.Gateway.SecretKey,
		AgentID:   cfg.AgentID,
		ChannelID: cfg.ChannelID,
	}, b, metrics, logger)

	mcpMgr := mcp.NewManager(b, cfg.ChannelID, logger)
	registry := tools.NewRegistry(&toolSource{gw: client, mcp: mcpMgr}, logger)
	brk := breaker.New(cfg.CircuitBreakerExemptTools, metrics)
	invoker := tools.NewInvoker(registry, brk, client, metrics, logger)
	if len(cfg.AllowedTools) > 0 {
		invoker.SetAllowed(cfg.AllowedTools)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	ag := agent.New(agent.Config{
		AgentID:       cfg.AgentID,
		ChannelID:     cfg.ChannelID,
		Role:          agent.Role(cfg.Role),
		Persona:       cfg.Persona,
		MaxIterations: cfg.MaxIterations,
		Options: agent.Options{
			Model:           cfg.DefaultModel,
			Temperature:     cfg.Temperature,
			MaxTokens:       cfg.MaxTokens,
			EnableReasoning: cfg.Reasoning.Enabled,
		},
	}, provider, mem, registry, invoker, brk, b, metrics, logger)

	if cfg.EnableTooling {
		registry.Register(tools.NewReadFileTool(workspace))
		registry.Register(tools.NewListFilesTool(workspace))
		registry.Register(tools.NewToolSearchTool(registry))
		registry.Register(tools.NewChannelSendTool(b, cfg.AgentID, cfg.ChannelID))
		registry.Register(tools.NewAgentSendTool(b, cfg.AgentID, cfg.ChannelID))
		registry.Register(tools.NewTaskCompleteTool(func(ctx context.Context, summary string) error {
			logger.Info("task completed", "summary", summary)
			return nil
		}))
	}

	var loop *control.Loop
	if cfg.Orchestrate {
		loop = control.NewLoop(cfg.AgentID, cfg.ChannelID, ag, mem, b, cfg.CycleDuration(), logger)
		for _, t := range tools.PhaseTools(loop) {
			registry.Register(t)
		}
	}
	coord := control.NewCoordinator(control.Config{
		AgentID:      cfg.AgentID,
		ChannelID:    cfg.ChannelID,
		Orchestrate:  cfg.Orchestrate,
		DisableTasks: cfg.DisableTaskHandling,
		Aggregate:    cfg.UseMessageAggregate,
	}, ag, loop, b, metrics, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	wireEvents(ctx, cfg, b, client, registry, mcpMgr, logger)

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go srv.ListenAndServe()
		defer srv.Shutdown(context.Background())
	}

	if err := mem.Load(ctx); err != nil {
		logger.Warn("history load failed", "error", err)
	}

	coord.Start(ctx)
	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	logger.Info("agent running",
		"agent_id", cfg.AgentID,
		"channel_id", cfg.ChannelID,
		"provider", cfg.LLMProvider,
		"orchestrate", cfg.Orchestrate)

	var fatal error
	select {
	case <-ctx.Done():
	case fatal = <-runErr:
	}

	// Orderly shutdown: stop the session, unsubscribe, flush memory.
	client.Close()
	coord.Stop()
	persistCtx, cancelPersist := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelPersist()
	if err := mem.Persist(persistCtx); err != nil {
		logger.Error("memory flush failed", "error", err)
	}

	if fatal != nil && ctx.Err() == nil {
		b.Publish(models.EventAgentStatusChange, models.NewEnvelope(
			models.EventAgentStatusChange, cfg.AgentID, cfg.ChannelID, map[string]any{
				"status": "error",
				"error":  fatal.Error(),
			}))
		return fatal
	}
	return nil
}

// wireEvents connects the bus to the transport: locally-originated
// envelopes flow out, server notifications invalidate caches, and
// channel MCP servers register on demand.
func wireEvents(ctx context.Context, cfg *config.Config, b *bus.Bus, client *gateway.Client, registry *tools.Registry, mcpMgr *mcp.Manager, logger *slog.Logger) {
	// Message events also arrive inbound from the server; only the
	// agent's own sends go back out.
	mine := func(env *models.Envelope) bool { return env.AgentID == cfg.AgentID }
	for _, event := range []string{models.EventChannelMessage, models.EventAgentMessage} {
		b.Subscribe(event, mine, func(env *models.Envelope) {
			if err := client.Send(ctx, env); err != nil {
				logger.Warn("outbound send failed", "event", env.EventType, "error", err)
			}
		})
	}
	client.Forward(
		models.EventTaskStarted,
		models.EventTaskCompleted,
		models.EventAgentStatusChange,
		models.EventAgentAllowedToolsUpdate,
		models.EventIndex,
		models.EventPersistBulkChannel,
		models.EventMcpServerRegister,
	)

	for _, event := range []string{models.EventToolsUpdated, models.EventMcpServerToolsDiscovered} {
		b.Subscribe(event, nil, func(*models.Envelope) { registry.Invalidate() })
	}

	b.Subscribe(models.EventMcpChannelServerAdd, nil, func(env *models.Envelope) {
		id, _ := env.Data["serverId"].(string)
		url, _ := env.Data["url"].(string)
		name, _ := env.Data["name"].(string)
		go func() {
			if _, err := mcpMgr.RegisterExternal(ctx, mcp.ServerConfig{ID: id, URL: url, Name: name}); err != nil {
				logger.Warn("mcp server registration failed", "server_id", id, "error", err)
				return
			}
			if err := mcpMgr.AttachToChannel(id); err != nil {
				logger.Warn("mcp channel attach failed", "server_id", id, "error", err)
			}
			registry.Invalidate()
		}()
	})
}

func buildProvider(cfg *config.Config) (agent.Provider, error) {
	switch cfg.LLMProvider {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.DefaultModel,
		})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.DefaultModel,
		})
	}
	return nil, &models.ConfigError{Field: "llmProvider", Reason: "unknown provider " + cfg.LLMProvider}
}

func buildLogger(cfg config.Logging) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
