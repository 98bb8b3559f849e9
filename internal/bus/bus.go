// Package bus provides the in-process typed pub/sub dispatcher that every
// runtime component communicates through.
package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/modelexchange/mxf/pkg/models"
)

// FilterFunc is a pure predicate applied to an envelope before dispatch to
// a subscriber. A nil filter matches everything.
type FilterFunc func(env *models.Envelope) bool

// HandlerFunc receives matching envelopes. Handlers run on the publishing
// goroutine and must not block; long work belongs on the owning
// component's queue.
type HandlerFunc func(env *models.Envelope)

// Subscription identifies a registered handler for later removal.
type Subscription struct {
	id      uint64
	event   string
	filter  FilterFunc
	handler HandlerFunc
}

// Event returns the event name the subscription is bound to.
func (s *Subscription) Event() string { return s.event }

// Bus dispatches envelopes to subscribers synchronously and in
// registration order per event name. A failing handler never prevents
// delivery to the remaining handlers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	nextID atomic.Uint64
	logger *slog.Logger
}

// New creates an empty bus. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string][]*Subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for an event name with an optional filter.
func (b *Bus) Subscribe(event string, filter FilterFunc, handler HandlerFunc) *Subscription {
	if event == "" || handler == nil {
		return nil
	}
	sub := &Subscription{
		id:      b.nextID.Add(1),
		event:   event,
		filter:  filter,
		handler: handler,
	}
	b.mu.Lock()
	b.subs[event] = append(b.subs[event], sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription. Unknown subscriptions are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.event]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.event] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.event]) == 0 {
		delete(b.subs, sub.event)
	}
}

// Publish delivers the envelope to every matching subscriber of the event
// name, in subscription order, on the calling goroutine. Handler panics
// are recovered, logged, and republished as an on_handler_error
// meta-event so observers can account for the failure.
func (b *Bus) Publish(event string, env *models.Envelope) {
	if env == nil {
		return
	}
	b.mu.RLock()
	list := b.subs[event]
	snapshot := make([]*Subscription, len(list))
	copy(snapshot, list)
	b.mu.RUnlock()

	for _, sub := range snapshot {
		if sub.filter != nil && !sub.filter(env) {
			continue
		}
		b.dispatch(sub, env)
	}
}

func (b *Bus) dispatch(sub *Subscription, env *models.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", sub.event,
				"event_id", env.EventID,
				"panic", fmt.Sprint(r))
			if sub.event != models.EventHandlerError {
				meta := models.NewEnvelope(models.EventHandlerError, env.AgentID, env.ChannelID, map[string]any{
					"failed_event": sub.event,
					"event_id":     env.EventID,
					"error":        fmt.Sprint(r),
				})
				b.Publish(models.EventHandlerError, meta)
			}
		}
	}()
	sub.handler(env)
}

// SubscriberCount returns the number of handlers bound to an event name.
func (b *Bus) SubscriberCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}
