package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelexchange/mxf/internal/bus"
	"github.com/modelexchange/mxf/pkg/models"
)

// respond wires a fake server side that reacts to register requests.
func respond(b *bus.Bus, withRegistered, withTools bool, failReason string) {
	b.Subscribe(models.EventMcpServerRegister, nil, func(env *models.Envelope) {
		serverID, _ := env.Data["serverId"].(string)
		data := map[string]any{"serverId": serverID}
		if failReason != "" {
			data["reason"] = failReason
			b.Publish(models.EventMcpServerRegistrationFailed, models.NewEnvelope(
				models.EventMcpServerRegistrationFailed, "", env.ChannelID, data))
			return
		}
		if withRegistered {
			b.Publish(models.EventMcpServerRegistered, models.NewEnvelope(
				models.EventMcpServerRegistered, "", env.ChannelID, data))
		}
		if withTools {
			b.Publish(models.EventMcpServerToolsDiscovered, models.NewEnvelope(
				models.EventMcpServerToolsDiscovered, "", env.ChannelID, map[string]any{
					"serverId": serverID,
					"tools": []any{
						map[string]any{"name": "remote_echo", "description": "echoes"},
					},
				}))
		}
	})
}

func TestRegisterExternalWaitsForDiscovery(t *testing.T) {
	b := bus.New(nil)
	respond(b, true, true, "")
	m := NewManager(b, "c1", nil)

	srv, err := m.RegisterExternal(context.Background(), ServerConfig{ID: "srv1", URL: "https://tools.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if len(srv.Tools) != 1 || srv.Tools[0].Name != "remote_echo" {
		t.Fatalf("discovered tools lost: %v", srv.Tools)
	}

	bridged := m.ServerTools()
	if len(bridged) != 1 || bridged[0].ServerID != "srv1" || bridged[0].Source != models.ToolSourceRemote {
		t.Fatalf("server tools must be stamped with server id and remote source: %+v", bridged)
	}
}

func TestRegisterExternalFailure(t *testing.T) {
	b := bus.New(nil)
	respond(b, false, false, "bad credentials")
	m := NewManager(b, "c1", nil)

	_, err := m.RegisterExternal(context.Background(), ServerConfig{ID: "srv1", URL: "https://x"})
	if !errors.Is(err, models.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestRegisterExternalTimesOutWithoutDiscovery(t *testing.T) {
	b := bus.New(nil)
	// Server acknowledges but never reports its tool set.
	respond(b, true, false, "")
	m := NewManager(b, "c1", nil)
	m.timeout = 50 * time.Millisecond

	_, err := m.RegisterExternal(context.Background(), ServerConfig{ID: "srv1", URL: "https://x"})
	if !errors.Is(err, models.ErrTimeout) {
		t.Fatalf("registration without discovery confirmation must time out, got %v", err)
	}
}

func TestRegisterExternalValidatesConfig(t *testing.T) {
	m := NewManager(bus.New(nil), "c1", nil)
	_, err := m.RegisterExternal(context.Background(), ServerConfig{ID: "srv1"})
	var cfgErr *models.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestRemoveAnnouncesRemoval(t *testing.T) {
	b := bus.New(nil)
	respond(b, true, true, "")
	m := NewManager(b, "c1", nil)

	removed := 0
	b.Subscribe(models.EventMcpChannelServerRemoved, nil, func(env *models.Envelope) { removed++ })

	if _, err := m.RegisterExternal(context.Background(), ServerConfig{ID: "srv1", URL: "https://x"}); err != nil {
		t.Fatal(err)
	}
	m.Remove("srv1")
	m.Remove("srv1")
	if removed != 1 {
		t.Fatalf("removal should announce once, got %d", removed)
	}
}
