package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/modelexchange/mxf/pkg/models"
)

// Persistence ceilings. Variables so tests can exercise the quota path
// without multi-megabyte fixtures.
var (
	// docCeiling is the safe durable-document size. An accumulated
	// suffix beyond this triggers aggressive truncation.
	docCeiling = 12 * 1024 * 1024

	// perMessagePersistCap replaces very large content with a truncation
	// marker at persistence time, preserving role and metadata.
	perMessagePersistCap = 5 * 1024 * 1024
)

// AgentRecord is the durable slice of an agent's memory: the conversation
// suffix, bounded observations, latest reasoning and plan, and free-form
// notes.
type AgentRecord struct {
	AgentID      string               `json:"agent_id"`
	ChannelID    string               `json:"channel_id"`
	Messages     []models.Message     `json:"messages"`
	Observations []models.Observation `json:"observations,omitempty"`
	Reasoning    *models.Reasoning    `json:"reasoning,omitempty"`
	Plan         *models.Plan         `json:"plan,omitempty"`
	Notes        string               `json:"notes,omitempty"`
}

// DocumentStore is the durable-store contract the memory layer persists
// through. The production implementation lives in internal/storage; tests
// substitute an in-memory fake.
type DocumentStore interface {
	// AppendAgentMessages appends a conversation suffix.
	AppendAgentMessages(ctx context.Context, agentID, channelID string, msgs []models.Message) error

	// ReplaceAgentMessages discards the stored conversation and writes
	// the given tail. Used after a quota truncation.
	ReplaceAgentMessages(ctx context.Context, agentID, channelID string, msgs []models.Message) error

	// SaveAgentMeta upserts observations, reasoning, plan, and notes.
	SaveAgentMeta(ctx context.Context, rec *AgentRecord) error

	// LoadAgent returns the stored record, or an empty record when the
	// agent has no durable state yet.
	LoadAgent(ctx context.Context, agentID, channelID string) (*AgentRecord, error)
}

// Persist writes the suffix of the log not yet durable. If the
// accumulated suffix would exceed the document ceiling the store
// aggressively truncates to the tail, resets its save cursor, and emits a
// quota warning event; persistence then continues with the truncated
// record.
func (s *Store) Persist(ctx context.Context) error {
	if s.docs == nil {
		return nil
	}

	s.mu.Lock()
	suffix := make([]models.Message, len(s.messages)-s.lastSavedCount)
	copy(suffix, s.messages[s.lastSavedCount:])
	s.mu.Unlock()

	if len(suffix) == 0 {
		return s.persistMeta(ctx)
	}

	for i := range suffix {
		suffix[i] = capPersistedMessage(suffix[i])
	}

	size := suffixSize(suffix)
	if size > docCeiling {
		return s.persistTruncated(ctx)
	}

	if err := s.docs.AppendAgentMessages(ctx, s.agentID, s.channelID, suffix); err != nil {
		return fmt.Errorf("append conversation suffix: %w", err)
	}
	s.metrics.MemoryPersistBytes.Observe(float64(size))

	s.mu.Lock()
	s.lastSavedCount += len(suffix)
	s.mu.Unlock()

	return s.persistMeta(ctx)
}

// persistTruncated handles the quota path: keep only the tail in RAM and
// durable storage, reset the save cursor, warn.
func (s *Store) persistTruncated(ctx context.Context) error {
	s.mu.Lock()
	if len(s.messages) > truncateKeepMessages {
		s.messages = append([]models.Message(nil), s.messages[len(s.messages)-truncateKeepMessages:]...)
	}
	if len(s.observations) > truncateKeepObservations {
		s.observations = append([]models.Observation(nil), s.observations[len(s.observations)-truncateKeepObservations:]...)
	}
	tail := make([]models.Message, len(s.messages))
	copy(tail, s.messages)
	s.lastSavedCount = len(s.messages)
	s.mu.Unlock()

	for i := range tail {
		tail[i] = capPersistedMessage(tail[i])
	}

	s.logger.Warn("durable document exceeded safety ceiling, truncating",
		"agent_id", s.agentID,
		"kept_messages", len(tail))
	if s.publisher != nil {
		env := models.NewEnvelope(models.EventAgentError, s.agentID, s.channelID, map[string]any{
			"kind":    "quota",
			"message": models.ErrQuota.Error(),
		})
		s.publisher.Publish(models.EventAgentError, env)
	}

	if err := s.docs.ReplaceAgentMessages(ctx, s.agentID, s.channelID, tail); err != nil {
		return fmt.Errorf("replace conversation after truncation: %w", err)
	}
	return s.persistMeta(ctx)
}

func (s *Store) persistMeta(ctx context.Context) error {
	s.mu.RLock()
	rec := &AgentRecord{
		AgentID:      s.agentID,
		ChannelID:    s.channelID,
		Observations: append([]models.Observation(nil), s.observations...),
		Reasoning:    s.reasoning,
		Plan:         s.plan,
		Notes:        s.notes,
	}
	s.mu.RUnlock()
	if err := s.docs.SaveAgentMeta(ctx, rec); err != nil {
		return fmt.Errorf("save agent meta: %w", err)
	}
	return nil
}

// Load reads prior history for indexing only; it is not restored into the
// active context. Historical messages are pushed to the secondary index
// in batches with inter-batch yielding.
func (s *Store) Load(ctx context.Context) error {
	if s.docs == nil {
		return nil
	}
	rec, err := s.docs.LoadAgent(ctx, s.agentID, s.channelID)
	if err != nil {
		return fmt.Errorf("load agent record: %w", err)
	}
	if rec == nil {
		return nil
	}

	s.mu.Lock()
	s.observations = rec.Observations
	if len(s.observations) > s.maxObservations {
		s.observations = s.observations[len(s.observations)-s.maxObservations:]
	}
	s.reasoning = rec.Reasoning
	s.plan = rec.Plan
	s.notes = rec.Notes
	s.mu.Unlock()

	for i := 0; i < len(rec.Messages); i += indexBatchSize {
		end := i + indexBatchSize
		if end > len(rec.Messages) {
			end = len(rec.Messages)
		}
		for _, msg := range rec.Messages[i:end] {
			if msg.Role != models.RoleSystem {
				s.publishIndex(msg)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			runtime.Gosched()
		}
	}
	return nil
}

// capPersistedMessage replaces content beyond the persistence cap with a
// truncation marker that preserves role and metadata.
func capPersistedMessage(msg models.Message) models.Message {
	if len(msg.Content) <= perMessagePersistCap {
		return msg
	}
	original := len(msg.Content)
	msg.Content = fmt.Sprintf("[content truncated for persistence: %d bytes]", original)
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	msg.Metadata["persist_truncated_bytes"] = original
	return msg
}

func suffixSize(msgs []models.Message) int {
	total := 0
	for i := range msgs {
		encoded, err := json.Marshal(&msgs[i])
		if err != nil {
			continue
		}
		total += len(encoded)
	}
	return total
}
