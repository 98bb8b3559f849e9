// Package memory implements the per-agent append-only conversation log:
// size-bounded in RAM, trimmed in complete conversation blocks, persisted
// as a truncated suffix to the durable store, and fanned out to the
// secondary index.
package memory

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelexchange/mxf/internal/observability"
	"github.com/modelexchange/mxf/pkg/models"
)

// Publisher is the slice of the event bus the store needs: index fan-out
// and quota warnings.
type Publisher interface {
	Publish(event string, env *models.Envelope)
}

// Limits and defaults.
const (
	// DefaultMaxHistory bounds the in-RAM log, system messages excluded.
	DefaultMaxHistory = 500

	// DefaultMaxMessageSize caps a single message's content; oversize
	// messages are replaced by a placeholder recording the original size.
	DefaultMaxMessageSize = 100 * 1024

	// DefaultMaxObservations bounds the observation ring.
	DefaultMaxObservations = 10

	// truncateKeepMessages and truncateKeepObservations are the tail
	// retained after a quota truncation.
	truncateKeepMessages     = 20
	truncateKeepObservations = 10

	// indexBatchSize is how many historical messages are pushed to the
	// secondary index per batch during Load.
	indexBatchSize = 100
)

// Options configures a Store.
type Options struct {
	AgentID         string
	ChannelID       string
	MaxHistory      int
	MaxMessageSize  int
	MaxObservations int
	EnableDedupe    bool
	Docs            DocumentStore
	Publisher       Publisher
	Logger          *slog.Logger
	Metrics         *observability.Metrics
}

// Store is the agent's conversation memory. Single-writer: the owning
// agent goroutine appends; readers take snapshot copies.
type Store struct {
	mu sync.RWMutex

	agentID   string
	channelID string

	messages       []models.Message
	lastSavedCount int

	observations []models.Observation
	reasoning    *models.Reasoning
	plan         *models.Plan
	notes        string

	maxHistory      int
	maxMessageSize  int
	maxObservations int
	dedupe          bool

	docs      DocumentStore
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewStore creates a memory store for one agent.
func NewStore(opts Options) *Store {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.MaxObservations <= 0 {
		opts.MaxObservations = DefaultMaxObservations
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.Nop()
	}
	return &Store{
		agentID:         opts.AgentID,
		channelID:       opts.ChannelID,
		maxHistory:      opts.MaxHistory,
		maxMessageSize:  opts.MaxMessageSize,
		maxObservations: opts.MaxObservations,
		dedupe:          opts.EnableDedupe,
		docs:            opts.Docs,
		publisher:       opts.Publisher,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
	}
}

// Append validates and appends a message, trims the log if needed, and
// emits an index event for non-system messages.
func (s *Store) Append(msg models.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if len(msg.Content) > s.maxMessageSize {
		original := len(msg.Content)
		msg.Content = fmt.Sprintf("[message content removed: %d bytes exceeded the %d byte limit]", original, s.maxMessageSize)
		if msg.Metadata == nil {
			msg.Metadata = map[string]any{}
		}
		msg.Metadata["truncated_bytes"] = original
	}

	s.mu.Lock()
	if s.dedupe && s.isDuplicate(msg) {
		s.mu.Unlock()
		return
	}
	// Adjacent assistant turns merge into one message so the log never
	// carries two consecutive assistant entries.
	if n := len(s.messages); n > 0 && msg.Role == models.RoleAssistant && s.messages[n-1].Role == models.RoleAssistant && n > s.lastSavedCount {
		last := &s.messages[n-1]
		switch {
		case last.Content == "":
			last.Content = msg.Content
		case msg.Content != "":
			last.Content += "\n\n" + msg.Content
		}
		last.ToolCalls = append(last.ToolCalls, msg.ToolCalls...)
		s.mu.Unlock()
		if msg.Content != "" {
			s.publishIndex(msg)
		}
		return
	}
	s.messages = append(s.messages, msg)
	s.trimLocked()
	s.mu.Unlock()

	if msg.Role != models.RoleSystem {
		s.publishIndex(msg)
	}
}

// History returns a snapshot copy of the log. Readers never observe a
// partial write.
func (s *Store) History() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the current log length.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Trim removes oldest complete conversation blocks until the non-system
// length fits maxHistory. Exposed for tests; Append trims automatically.
func (s *Store) Trim() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trimLocked()
}

func (s *Store) trimLocked() {
	for s.nonSystemLenLocked() > s.maxHistory {
		start, end, ok := s.oldestBlockLocked()
		if !ok {
			return
		}
		removed := end - start + 1
		s.messages = append(s.messages[:start], s.messages[end+1:]...)
		if s.lastSavedCount > start {
			if s.lastSavedCount > end {
				s.lastSavedCount -= removed
			} else {
				s.lastSavedCount = start
			}
		}
	}
}

func (s *Store) nonSystemLenLocked() int {
	n := 0
	for _, m := range s.messages {
		if m.Role != models.RoleSystem {
			n++
		}
	}
	return n
}

// oldestBlockLocked locates the oldest complete conversation block. A
// block begins at the first non-system message and ends at the earliest
// of: an assistant message without tool calls, the final tool message
// paired to an assistant message with tool calls, or just before the next
// fresh user message. System messages are never part of a block.
func (s *Store) oldestBlockLocked() (start, end int, ok bool) {
	start = -1
	for i, m := range s.messages {
		if m.Role != models.RoleSystem {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, 0, false
	}

	for j := start; j < len(s.messages); j++ {
		m := s.messages[j]
		switch {
		case m.Role == models.RoleSystem:
			// A system message terminates the block before itself.
			if j > start {
				return start, j - 1, true
			}
		case m.Role == models.RoleAssistant && len(m.ToolCalls) == 0:
			return start, j, true
		case m.Role == models.RoleAssistant && len(m.ToolCalls) > 0:
			// Consume the paired tool messages.
			k := j + 1
			for k < len(s.messages) && s.messages[k].Role == models.RoleTool {
				k++
			}
			return start, k - 1, true
		case m.Role == models.RoleUser && j > start && !m.IsToolAck():
			return start, j - 1, true
		}
	}
	return start, len(s.messages) - 1, true
}

// SetNotes replaces the free-form notes carried in the durable record.
func (s *Store) SetNotes(notes string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = notes
}

// AddObservation appends to the bounded observation ring.
func (s *Store) AddObservation(obs models.Observation) {
	if obs.ID == "" {
		obs.ID = uuid.NewString()
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations = append(s.observations, obs)
	if len(s.observations) > s.maxObservations {
		s.observations = s.observations[len(s.observations)-s.maxObservations:]
	}
}

// Observations returns a snapshot of the observation ring.
func (s *Store) Observations() []models.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Observation, len(s.observations))
	copy(out, s.observations)
	return out
}

// SetReasoning records the most recent reasoning.
func (s *Store) SetReasoning(r *models.Reasoning) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasoning = r
}

// SetPlan records the most recent plan.
func (s *Store) SetPlan(p *models.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = p
}

func (s *Store) publishIndex(msg models.Message) {
	if s.publisher == nil {
		return
	}
	env := models.NewEnvelope(models.EventIndex, s.agentID, s.channelID, map[string]any{
		"message_id": msg.ID,
		"role":       string(msg.Role),
		"content":    msg.Content,
		"timestamp":  msg.Timestamp.UnixMilli(),
	})
	s.publisher.Publish(models.EventIndex, env)
}
