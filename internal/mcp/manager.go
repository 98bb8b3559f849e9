// Package mcp manages external Model Context Protocol servers: their
// registration lifecycle, channel attachment, and the bridging of their
// tool sets into the agent's registry.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelexchange/mxf/internal/bus"
	"github.com/modelexchange/mxf/pkg/models"
)

// RegistrationTimeout bounds an external server registration, including
// the tool-discovery confirmation.
const RegistrationTimeout = 30 * time.Second

// ServerConfig describes an external MCP server to register.
type ServerConfig struct {
	ID   string `yaml:"id" json:"id"`
	URL  string `yaml:"url" json:"url"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// Server is a registered external server and its discovered tool set.
type Server struct {
	Config ServerConfig
	Tools  []models.ToolSpec
}

// Manager tracks external MCP servers for one channel. Registration is
// asynchronous over the event bus: the manager emits a register request
// and waits for both the registered acknowledgement and the discovery
// confirmation before the server counts as usable.
type Manager struct {
	bus       *bus.Bus
	channelID string
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.RWMutex
	servers map[string]*Server
}

// NewManager creates a manager bound to a channel.
func NewManager(b *bus.Bus, channelID string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		bus:       b,
		channelID: channelID,
		timeout:   RegistrationTimeout,
		logger:    logger.With("component", "mcp", "channel_id", channelID),
		servers:   make(map[string]*Server),
	}
}

// RegisterExternal registers an external server and waits for tool
// discovery. Without discovery confirmation within the timeout the
// registration fails even if the server acknowledged.
func (m *Manager) RegisterExternal(ctx context.Context, cfg ServerConfig) (*Server, error) {
	if cfg.ID == "" || cfg.URL == "" {
		return nil, &models.ConfigError{Field: "mcp.server", Reason: "id and url are required"}
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	registered := make(chan struct{}, 1)
	discovered := make(chan []models.ToolSpec, 1)
	failed := make(chan string, 1)

	match := func(env *models.Envelope) bool {
		id, _ := env.Data["serverId"].(string)
		return id == cfg.ID
	}
	subRegistered := m.bus.Subscribe(models.EventMcpServerRegistered, match, func(env *models.Envelope) {
		select {
		case registered <- struct{}{}:
		default:
		}
	})
	defer m.bus.Unsubscribe(subRegistered)

	subDiscovered := m.bus.Subscribe(models.EventMcpServerToolsDiscovered, match, func(env *models.Envelope) {
		select {
		case discovered <- decodeToolSpecs(env.Data["tools"]):
		default:
		}
	})
	defer m.bus.Unsubscribe(subDiscovered)

	subFailed := m.bus.Subscribe(models.EventMcpServerRegistrationFailed, match, func(env *models.Envelope) {
		reason, _ := env.Data["reason"].(string)
		select {
		case failed <- reason:
		default:
		}
	})
	defer m.bus.Unsubscribe(subFailed)

	m.bus.Publish(models.EventMcpServerRegister, models.NewCriticalEnvelope(
		models.EventMcpServerRegister, "", m.channelID, map[string]any{
			"serverId": cfg.ID,
			"url":      cfg.URL,
			"name":     cfg.Name,
		}))

	var (
		gotRegistered bool
		tools         []models.ToolSpec
		gotTools      bool
	)
	for !gotRegistered || !gotTools {
		select {
		case <-registered:
			gotRegistered = true
		case tools = <-discovered:
			gotTools = true
		case reason := <-failed:
			return nil, fmt.Errorf("register mcp server %s: %s: %w", cfg.ID, reason, models.ErrTransport)
		case <-ctx.Done():
			m.logger.Warn("mcp registration timed out",
				"server_id", cfg.ID, "registered", gotRegistered, "tools_discovered", gotTools)
			return nil, fmt.Errorf("register mcp server %s: %w", cfg.ID, models.ErrTimeout)
		}
	}

	srv := &Server{Config: cfg, Tools: tools}
	m.mu.Lock()
	m.servers[cfg.ID] = srv
	m.mu.Unlock()

	m.logger.Info("mcp server registered", "server_id", cfg.ID, "tools", len(tools))
	return srv, nil
}

// AttachToChannel announces a registered server to the channel.
func (m *Manager) AttachToChannel(serverID string) error {
	m.mu.RLock()
	srv, ok := m.servers[serverID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("mcp server %s is not registered", serverID)
	}
	m.bus.Publish(models.EventMcpChannelServerAdd, models.NewEnvelope(
		models.EventMcpChannelServerAdd, "", m.channelID, map[string]any{
			"serverId": srv.Config.ID,
			"url":      srv.Config.URL,
		}))
	return nil
}

// Remove forgets a server and announces its removal.
func (m *Manager) Remove(serverID string) {
	m.mu.Lock()
	_, existed := m.servers[serverID]
	delete(m.servers, serverID)
	m.mu.Unlock()
	if existed {
		m.bus.Publish(models.EventMcpChannelServerRemoved, models.NewEnvelope(
			models.EventMcpChannelServerRemoved, "", m.channelID, map[string]any{
				"serverId": serverID,
			}))
	}
}

// Servers returns a snapshot of registered servers.
func (m *Manager) Servers() []*Server {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Server, 0, len(m.servers))
	for _, srv := range m.servers {
		out = append(out, srv)
	}
	return out
}

// ServerTools returns the discovered tools of every registered server,
// stamped with their server id. Used to bridge the remote tool set into
// the agent registry.
func (m *Manager) ServerTools() []models.ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ToolSpec
	for _, srv := range m.servers {
		for _, spec := range srv.Tools {
			spec.Source = models.ToolSourceRemote
			spec.ServerID = srv.Config.ID
			out = append(out, spec)
		}
	}
	return out
}

func decodeToolSpecs(raw any) []models.ToolSpec {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]models.ToolSpec, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		spec := models.ToolSpec{}
		spec.Name, _ = obj["name"].(string)
		spec.Description, _ = obj["description"].(string)
		if schema, ok := obj["inputSchema"]; ok {
			if encoded, err := json.Marshal(schema); err == nil {
				spec.InputSchema = encoded
			}
		}
		if spec.Name == "" {
			continue
		}
		out = append(out, spec)
	}
	return out
}
