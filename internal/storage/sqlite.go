// Package storage provides the durable document store backing agent
// memory, channel state, and relationship records, on an embedded sqlite
// database.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/modelexchange/mxf/internal/memory"
	"github.com/modelexchange/mxf/pkg/models"
)

var (
	ErrNotFound = errors.New("not found")
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_messages (
	agent_id   TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	PRIMARY KEY (agent_id, channel_id, seq)
);

CREATE TABLE IF NOT EXISTS agent_meta (
	agent_id   TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	payload    TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (agent_id, channel_id)
);

CREATE TABLE IF NOT EXISTS channel_state (
	channel_id TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS relationships (
	agent_a    TEXT NOT NULL,
	agent_b    TEXT NOT NULL,
	channel_id TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (agent_a, agent_b, channel_id)
);
`

// Config configures the sqlite document store.
type Config struct {
	// Path is the database file; ":memory:" for tests.
	Path string

	ConnectTimeout time.Duration
}

// DefaultConfig returns default settings.
func DefaultConfig() Config {
	return Config{
		Path:           "mxf.db",
		ConnectTimeout: 10 * time.Second,
	}
}

// Store is the sqlite-backed document store. It implements
// memory.DocumentStore.
type Store struct {
	db *sql.DB
}

// Open opens (and if necessary creates) the database.
func Open(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		cfg = DefaultConfig()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite serializes writes; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendAgentMessages appends a conversation suffix.
func (s *Store) AppendAgentMessages(ctx context.Context, agentID, channelID string, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM agent_messages WHERE agent_id = ? AND channel_id = ?`,
		agentID, channelID)
	if err := row.Scan(&next); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	for i := range msgs {
		payload, err := json.Marshal(&msgs[i])
		if err != nil {
			return fmt.Errorf("marshal message %s: %w", msgs[i].ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agent_messages (agent_id, channel_id, seq, payload) VALUES (?,?,?,?)`,
			agentID, channelID, next+int64(i), string(payload)); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

// ReplaceAgentMessages discards the stored conversation and writes the
// given tail.
func (s *Store) ReplaceAgentMessages(ctx context.Context, agentID, channelID string, msgs []models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM agent_messages WHERE agent_id = ? AND channel_id = ?`,
		agentID, channelID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for i := range msgs {
		payload, err := json.Marshal(&msgs[i])
		if err != nil {
			return fmt.Errorf("marshal message %s: %w", msgs[i].ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agent_messages (agent_id, channel_id, seq, payload) VALUES (?,?,?,?)`,
			agentID, channelID, int64(i), string(payload)); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

// SaveAgentMeta upserts the non-conversation slice of the agent record.
func (s *Store) SaveAgentMeta(ctx context.Context, rec *memory.AgentRecord) error {
	if rec == nil {
		return fmt.Errorf("record is required")
	}
	meta := *rec
	meta.Messages = nil
	payload, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("marshal agent meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_meta (agent_id, channel_id, payload, updated_at) VALUES (?,?,?,?)
		 ON CONFLICT (agent_id, channel_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		rec.AgentID, rec.ChannelID, string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save agent meta: %w", err)
	}
	return nil
}

// LoadAgent returns the stored record; an agent with no durable state
// yields an empty record.
func (s *Store) LoadAgent(ctx context.Context, agentID, channelID string) (*memory.AgentRecord, error) {
	rec := &memory.AgentRecord{AgentID: agentID, ChannelID: channelID}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM agent_messages WHERE agent_id = ? AND channel_id = ? ORDER BY seq`,
		agentID, channelID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		rec.Messages = append(rec.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	var payload string
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM agent_meta WHERE agent_id = ? AND channel_id = ?`,
		agentID, channelID)
	switch err := row.Scan(&payload); {
	case err == nil:
		var meta memory.AgentRecord
		if err := json.Unmarshal([]byte(payload), &meta); err != nil {
			return nil, fmt.Errorf("unmarshal agent meta: %w", err)
		}
		rec.Observations = meta.Observations
		rec.Reasoning = meta.Reasoning
		rec.Plan = meta.Plan
		rec.Notes = meta.Notes
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("load agent meta: %w", err)
	}

	return rec, nil
}
