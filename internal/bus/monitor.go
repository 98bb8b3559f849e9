package bus

import (
	"log/slog"

	"github.com/modelexchange/mxf/pkg/models"
)

// ChannelMonitor is a lightweight per-channel filtered view over the bus.
// It exposes only whitelisted public event names to external subscribers;
// handlers on non-public names are rejected with a warning and no
// registration.
type ChannelMonitor struct {
	bus       *Bus
	channelID string
	logger    *slog.Logger
	subs      []*Subscription
}

// NewChannelMonitor creates a monitor scoped to a channel.
func NewChannelMonitor(b *Bus, channelID string, logger *slog.Logger) *ChannelMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelMonitor{bus: b, channelID: channelID, logger: logger}
}

// Subscribe registers a handler for a public event, filtered to this
// monitor's channel. Returns nil for non-public event names.
func (m *ChannelMonitor) Subscribe(event string, handler HandlerFunc) *Subscription {
	if !models.IsPublicEvent(event) {
		m.logger.Warn("rejected subscription to non-public event",
			"event", event,
			"channel_id", m.channelID)
		return nil
	}
	sub := m.bus.Subscribe(event, func(env *models.Envelope) bool {
		return env.ChannelID == m.channelID
	}, handler)
	if sub != nil {
		m.subs = append(m.subs, sub)
	}
	return sub
}

// Close unsubscribes every handler the monitor registered.
func (m *ChannelMonitor) Close() {
	for _, sub := range m.subs {
		m.bus.Unsubscribe(sub)
	}
	m.subs = nil
}
