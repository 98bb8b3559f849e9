package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelexchange/mxf/pkg/models"
)

// ChannelRecord is the durable state of a channel: shared key/value
// state, conversation history, and the channel's MCP server list.
type ChannelRecord struct {
	ChannelID           string            `json:"channel_id"`
	SharedState         map[string]any    `json:"shared_state,omitempty"`
	ConversationHistory []models.Message  `json:"conversation_history,omitempty"`
	McpServers          []McpServerRecord `json:"mcp_servers,omitempty"`
}

// McpServerRecord describes a remote MCP server attached to a channel.
type McpServerRecord struct {
	ServerID string `json:"server_id"`
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
}

// RelationshipRecord captures state between two agents, optionally scoped
// to a channel. The agent pair is unordered and unique.
type RelationshipRecord struct {
	AgentA    string         `json:"agent_a"`
	AgentB    string         `json:"agent_b"`
	ChannelID string         `json:"channel_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// SaveChannel upserts a channel record.
func (s *Store) SaveChannel(ctx context.Context, rec *ChannelRecord) error {
	if rec == nil || rec.ChannelID == "" {
		return fmt.Errorf("channel record is required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal channel record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO channel_state (channel_id, payload, updated_at) VALUES (?,?,?)
		 ON CONFLICT (channel_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		rec.ChannelID, string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save channel: %w", err)
	}
	return nil
}

// LoadChannel returns a channel record or ErrNotFound.
func (s *Store) LoadChannel(ctx context.Context, channelID string) (*ChannelRecord, error) {
	var payload string
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM channel_state WHERE channel_id = ?`, channelID)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load channel: %w", err)
	}
	var rec ChannelRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal channel record: %w", err)
	}
	return &rec, nil
}

// SaveRelationship upserts the record for an unordered agent pair.
func (s *Store) SaveRelationship(ctx context.Context, rec *RelationshipRecord) error {
	if rec == nil || rec.AgentA == "" || rec.AgentB == "" {
		return fmt.Errorf("relationship record requires both agents")
	}
	a, b := orderPair(rec.AgentA, rec.AgentB)
	payload, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("marshal relationship data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO relationships (agent_a, agent_b, channel_id, payload, updated_at) VALUES (?,?,?,?,?)
		 ON CONFLICT (agent_a, agent_b, channel_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		a, b, rec.ChannelID, string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save relationship: %w", err)
	}
	return nil
}

// LoadRelationship returns the record for an unordered agent pair, or
// ErrNotFound.
func (s *Store) LoadRelationship(ctx context.Context, agentA, agentB, channelID string) (*RelationshipRecord, error) {
	a, b := orderPair(agentA, agentB)
	var payload string
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM relationships WHERE agent_a = ? AND agent_b = ? AND channel_id = ?`,
		a, b, channelID)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load relationship: %w", err)
	}
	rec := &RelationshipRecord{AgentA: a, AgentB: b, ChannelID: channelID}
	if err := json.Unmarshal([]byte(payload), &rec.Data); err != nil {
		return nil, fmt.Errorf("unmarshal relationship data: %w", err)
	}
	return rec, nil
}

func orderPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
