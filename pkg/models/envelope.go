package models

import (
	"time"

	"github.com/google/uuid"
)

// Event names carried in Envelope.EventType. Names are namespaced by
// family with a colon separator and match the exchange server contract.
const (
	// Agent lifecycle.
	EventAgentRegister           = "agent:register"
	EventAgentRegistered         = "agent:registered"
	EventAgentConnected          = "agent:connected"
	EventAgentDisconnected       = "agent:disconnected"
	EventAgentStatusChange       = "agent:status_change"
	EventAgentRegistrationFailed = "agent:registration_failed"
	EventAgentError              = "agent:error"
	EventAgentAllowedToolsUpdate = "agent:allowed_tools_update"

	// Channel provisioning.
	EventChannelCreate         = "channel:create"
	EventChannelCreated        = "channel:created"
	EventChannelCreationFailed = "channel:creation_failed"

	// Credential issuance.
	EventKeyGenerate         = "key:generate"
	EventKeyGenerated        = "key:generated"
	EventKeyGenerationFailed = "key:generation_failed"

	// Content delivery.
	EventAgentMessage       = "message:agent_message"
	EventChannelMessage     = "message:channel_message"
	EventPersistBulkChannel = "message:persist_bulk_channel_messages_request"

	// Task lifecycle.
	EventTaskAssigned        = "task:assigned"
	EventTaskStarted         = "task:started"
	EventTaskProgressUpdated = "task:progress_updated"
	EventTaskCompleted       = "task:completed"
	EventTaskFailed          = "task:failed"
	EventTaskCancelled       = "task:cancelled"

	// Control loop (ORPAR) orchestration.
	EventControlLoopInitialize  = "controlloop:initialize"
	EventControlLoopStart       = "controlloop:start"
	EventControlLoopStop        = "controlloop:stop"
	EventControlLoopObservation = "controlloop:observation_submit"
	EventControlLoopReflection  = "controlloop:reflection"

	// Remote-tool (MCP) lifecycle.
	EventMcpServerRegister           = "mcp:external_server_register"
	EventMcpServerRegistered         = "mcp:external_server_registered"
	EventMcpServerRegistrationFailed = "mcp:external_server_registration_failed"
	EventMcpServerToolsDiscovered    = "mcp:external_server_tools_discovered"
	EventMcpChannelServerAdd         = "mcp:channel_server_add"
	EventMcpChannelServerAdded       = "mcp:channel_server_added"
	EventMcpChannelServerRemoved     = "mcp:channel_server_removed"

	// Secondary-index fan-out.
	EventIndex            = "meilisearch:index"
	EventBackfillRequest  = "meilisearch:backfill:request"
	EventBackfillComplete = "meilisearch:backfill:complete"
	EventBackfillPartial  = "meilisearch:backfill:partial"
	EventBackfillError    = "meilisearch:backfill:error"

	// Liveness and capability sync.
	EventHeartbeat    = "heartbeat"
	EventToolsUpdated = "tools:updated"

	// Handshake.
	EventAuthSuccess = "auth:success"
	EventAuthFailed  = "auth:failed"

	// Local meta-event emitted when a subscriber handler fails.
	EventHandlerError = "on_handler_error"
)

// Envelope is the wire event schema shared by every event to and from the
// exchange server and by local bus traffic.
type Envelope struct {
	EventID   string         `json:"eventId"`
	EventType string         `json:"eventType"`
	Timestamp int64          `json:"timestamp"` // unix milliseconds
	AgentID   string         `json:"agentId"`
	ChannelID string         `json:"channelId"`
	Data      map[string]any `json:"data,omitempty"`

	// Critical marks envelopes that must not be dropped under outbound
	// backpressure (tool results, task state changes). Tagged at
	// construction and never serialized.
	Critical bool `json:"-"`
}

// NewEnvelope constructs an envelope stamped with a fresh event ID and the
// current time.
func NewEnvelope(eventType, agentID, channelID string, data map[string]any) *Envelope {
	return &Envelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UnixMilli(),
		AgentID:   agentID,
		ChannelID: channelID,
		Data:      data,
	}
}

// NewCriticalEnvelope constructs an envelope that blocks rather than drops
// when the outbound queue is saturated.
func NewCriticalEnvelope(eventType, agentID, channelID string, data map[string]any) *Envelope {
	env := NewEnvelope(eventType, agentID, channelID, data)
	env.Critical = true
	return env
}

// publicEvents is the subset of event names exposed through channel
// monitors to external subscribers.
var publicEvents = map[string]struct{}{
	EventAgentConnected:        {},
	EventAgentDisconnected:     {},
	EventAgentStatusChange:     {},
	EventAgentMessage:          {},
	EventChannelMessage:        {},
	EventTaskAssigned:          {},
	EventTaskStarted:           {},
	EventTaskProgressUpdated:   {},
	EventTaskCompleted:         {},
	EventTaskFailed:            {},
	EventTaskCancelled:         {},
	EventControlLoopReflection: {},
	EventToolsUpdated:          {},
}

// IsPublicEvent reports whether the event name may be exposed to external
// subscribers through a channel monitor.
func IsPublicEvent(eventType string) bool {
	_, ok := publicEvents[eventType]
	return ok
}
