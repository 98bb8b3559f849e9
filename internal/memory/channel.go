package memory

import (
	"sync"
	"time"
)

// ChannelMemory is the shared state collectively referenced by every
// agent on a channel. Modifications are last-writer-wins by timestamp.
type ChannelMemory struct {
	mu        sync.RWMutex
	channelID string
	entries   map[string]channelEntry
}

type channelEntry struct {
	value     any
	updatedAt time.Time
}

// NewChannelMemory creates shared memory for a channel.
func NewChannelMemory(channelID string) *ChannelMemory {
	return &ChannelMemory{
		channelID: channelID,
		entries:   make(map[string]channelEntry),
	}
}

// Set writes a value stamped with the given time. A write older than the
// stored entry loses and is dropped.
func (c *ChannelMemory) Set(key string, value any, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok && existing.updatedAt.After(at) {
		return false
	}
	c.entries[key] = channelEntry{value: value, updatedAt: at}
	return true
}

// Get returns the stored value and whether it exists.
func (c *ChannelMemory) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return entry.value, true
}

// Snapshot returns a copy of the shared state.
func (c *ChannelMemory) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.entries))
	for k, v := range c.entries {
		out[k] = v.value
	}
	return out
}
