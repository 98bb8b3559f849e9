// Package gateway maintains the authenticated websocket session to the
// exchange server. Outbound envelopes become wire frames; inbound frames
// are republished on the local event bus.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/modelexchange/mxf/internal/backoff"
	"github.com/modelexchange/mxf/internal/bus"
	"github.com/modelexchange/mxf/internal/observability"
	"github.com/modelexchange/mxf/pkg/models"
)

const (
	// DefaultHandshakeTimeout bounds the connect plus register exchange.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultHeartbeatInterval is the liveness beacon period.
	DefaultHeartbeatInterval = 60 * time.Second

	// DefaultReadGrace is how long the reader tolerates server silence
	// before forcing a reconnect.
	DefaultReadGrace = 90 * time.Second

	// DefaultOutboundQueue bounds the outbound envelope buffer.
	DefaultOutboundQueue = 256

	writeWait = 10 * time.Second
)

// Config carries the connection identity and tuning knobs.
type Config struct {
	URL       string
	DomainKey string
	KeyID     string
	SecretKey string
	AgentID   string
	ChannelID string

	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	ReadGrace         time.Duration
	OutboundQueue     int
	Reconnect         backoff.Policy
}

func (c *Config) fill() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ReadGrace <= 0 {
		c.ReadGrace = DefaultReadGrace
	}
	if c.OutboundQueue <= 0 {
		c.OutboundQueue = DefaultOutboundQueue
	}
	if c.Reconnect == (backoff.Policy{}) {
		c.Reconnect = backoff.Reconnect()
	}
}

// Client is one agent's session to the exchange server.
type Client struct {
	cfg     Config
	bus     *bus.Bus
	metrics *observability.Metrics
	logger  *slog.Logger
	dialer  *websocket.Dialer
	out     *outQueue

	writeMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	replay   []*models.Envelope
	channels map[string]struct{}
	inflight map[string]chan *frame

	connected atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient builds a client. Run must be called to open the session.
func NewClient(cfg Config, b *bus.Bus, metrics *observability.Metrics, logger *slog.Logger) *Client {
	cfg.fill()
	if metrics == nil {
		metrics = observability.Nop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		bus:      b,
		metrics:  metrics,
		logger:   logger.With("component", "gateway", "agent_id", cfg.AgentID),
		dialer:   websocket.DefaultDialer,
		out:      newOutQueue(cfg.OutboundQueue, metrics, logger),
		channels: map[string]struct{}{cfg.ChannelID: {}},
		inflight: make(map[string]chan *frame),
		closed:   make(chan struct{}),
	}
}

// Connected reports whether a live session is up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Send queues an envelope for delivery. Critical envelopes block until
// the queue has room or ctx ends; others drop under pressure.
func (c *Client) Send(ctx context.Context, env *models.Envelope) error {
	return c.out.enqueue(ctx, env)
}

// Forward subscribes the gateway to the given bus events so local
// publishes flow out over the wire.
func (c *Client) Forward(events ...string) {
	for _, event := range events {
		c.bus.Subscribe(event, nil, func(env *models.Envelope) {
			if err := c.out.enqueue(context.Background(), env); err != nil {
				c.logger.Warn("outbound enqueue failed", "event", env.EventType, "error", err)
			}
		})
	}
}

// JoinChannel records a channel membership and subscribes the live
// session to it. Memberships are re-subscribed after every reconnect.
func (c *Client) JoinChannel(channelID string) error {
	c.mu.Lock()
	c.channels[channelID] = struct{}{}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return c.writeFrame(conn, &frame{
		Type:   frameRequest,
		ID:     uuid.NewString(),
		Method: "subscribe",
		Params: mustJSON(subscribeParams{ChannelID: channelID}),
	})
}

// Close ends the session permanently.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
}

// Run owns the connection lifecycle: connect, serve, reconnect with
// backoff. It returns on Close, context end, fatal auth or config
// failure, or once reconnection attempts are exhausted.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	var lastErr error
	for {
		select {
		case <-c.closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := c.connect(ctx)
		if err != nil {
			var cfgErr *models.ConfigError
			if errors.Is(err, models.ErrAuth) || errors.As(err, &cfgErr) {
				return err
			}
			lastErr = err
			attempt++
			c.metrics.GatewayReconnects.WithLabelValues("failed").Inc()
			if c.cfg.Reconnect.Exhausted(attempt) {
				c.publishError(lastErr)
				return fmt.Errorf("reconnect attempts exhausted: %w", lastErr)
			}
			c.logger.Warn("connect failed, backing off", "attempt", attempt, "error", err)
			if !c.cfg.Reconnect.Sleep(ctx, attempt) {
				return ctx.Err()
			}
			continue
		}

		attempt = 0
		c.metrics.GatewayReconnects.WithLabelValues("connected").Inc()
		err = c.session(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-c.closed:
			return nil
		default:
		}
		lastErr = err
		c.logger.Warn("session ended, reconnecting", "error", err)
	}
}

// connect dials and completes the full bootstrap: credential handshake,
// register, and channel re-subscription. Both registered and connected
// must arrive inside the handshake window.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	if c.cfg.URL == "" {
		return nil, &models.ConfigError{Field: "url", Reason: "gateway url is required"}
	}
	token, err := signCredentials(c.cfg.KeyID, c.cfg.SecretKey)
	if err != nil {
		return nil, &models.ConfigError{Field: "secretKey", Reason: err.Error()}
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %v: %w", c.cfg.URL, err, models.ErrTransport)
	}

	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)

	connectID := uuid.NewString()
	err = conn.WriteJSON(&frame{
		Type:   frameRequest,
		ID:     connectID,
		Method: "connect",
		Params: mustJSON(connectParams{
			DomainKey: c.cfg.DomainKey,
			AgentID:   c.cfg.AgentID,
			ChannelID: c.cfg.ChannelID,
			Auth:      authPayload{KeyID: c.cfg.KeyID, Token: token},
		}),
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake write: %v: %w", err, models.ErrTransport)
	}

	var authed, registered, connected bool
	for !authed || !registered || !connected {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			conn.Close()
			return nil, fmt.Errorf("bootstrap incomplete: %v: %w", err, models.ErrInitTimeout)
		}
		switch {
		case f.Type == frameResponse && f.ID == connectID:
			if f.Error != nil || (f.OK != nil && !*f.OK) {
				conn.Close()
				return nil, fmt.Errorf("handshake rejected: %s: %w", f.Error.text(), models.ErrAuth)
			}
			authed = true
			register := models.NewCriticalEnvelope(models.EventAgentRegister, c.cfg.AgentID, c.cfg.ChannelID, map[string]any{
				"agentId":   c.cfg.AgentID,
				"channelId": c.cfg.ChannelID,
			})
			if err := conn.WriteJSON(&frame{Type: frameEvent, Event: register}); err != nil {
				conn.Close()
				return nil, fmt.Errorf("register write: %v: %w", err, models.ErrTransport)
			}
		case f.Type == frameEvent && f.Event != nil:
			switch f.Event.EventType {
			case models.EventAuthFailed:
				conn.Close()
				return nil, fmt.Errorf("credentials rejected: %w", models.ErrAuth)
			case models.EventAgentRegistered:
				registered = true
			case models.EventAgentConnected:
				connected = true
			}
			c.bus.Publish(f.Event.EventType, f.Event)
		}
	}
	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})

	c.mu.Lock()
	members := make([]string, 0, len(c.channels))
	for id := range c.channels {
		members = append(members, id)
	}
	c.mu.Unlock()
	for _, id := range members {
		err := c.writeFrame(conn, &frame{
			Type:   frameRequest,
			ID:     uuid.NewString(),
			Method: "subscribe",
			Params: mustJSON(subscribeParams{ChannelID: id}),
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("resubscribe %s: %v: %w", id, err, models.ErrTransport)
		}
	}
	return conn, nil
}

// session serves one live connection until it fails or the client
// closes. Envelopes held over from a dropped link go out first, in
// their original order.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	replay := c.replay
	c.replay = nil
	c.mu.Unlock()
	c.connected.Store(true)
	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	for i, env := range replay {
		if err := c.writeEvent(conn, env); err != nil {
			c.holdForReplay(replay[i:]...)
			return fmt.Errorf("replay: %v: %w", err, models.ErrTransport)
		}
	}

	errCh := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go c.readPump(conn, errCh, done)

	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case err := <-errCh:
			return err
		case <-heartbeat.C:
			beacon := models.NewEnvelope(models.EventHeartbeat, c.cfg.AgentID, c.cfg.ChannelID, map[string]any{})
			if err := c.writeEvent(conn, beacon); err != nil {
				return fmt.Errorf("heartbeat: %v: %w", err, models.ErrTransport)
			}
		case env := <-c.out.next():
			if err := c.writeEvent(conn, env); err != nil {
				c.holdForReplay(env)
				return fmt.Errorf("send %s: %v: %w", env.EventType, err, models.ErrTransport)
			}
		}
	}
}

// readPump republishes inbound events and routes responses. Server
// silence beyond the grace window fails the read and forces reconnect.
func (c *Client) readPump(conn *websocket.Conn, errCh chan<- error, done <-chan struct{}) {
	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadGrace))
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case errCh <- fmt.Errorf("read: %v: %w", err, models.ErrTransport):
			case <-done:
			}
			return
		}
		c.dispatch(&f)
	}
}

func (c *Client) dispatch(f *frame) {
	switch f.Type {
	case frameResponse:
		c.mu.Lock()
		ch, ok := c.inflight[f.ID]
		delete(c.inflight, f.ID)
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	case frameEvent:
		if f.Event == nil {
			return
		}
		c.bus.Publish(f.Event.EventType, f.Event)
	}
}

// request performs one round trip over the live session.
func (c *Client) request(ctx context.Context, method string, params any) (*frame, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("%s: not connected: %w", method, models.ErrTransport)
	}

	id := uuid.NewString()
	ch := make(chan *frame, 1)
	c.mu.Lock()
	c.inflight[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
	}()

	err := c.writeFrame(conn, &frame{
		Type:   frameRequest,
		ID:     id,
		Method: method,
		Params: mustJSON(params),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", method, err, models.ErrTransport)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil || (resp.OK != nil && !*resp.OK) {
			return nil, fmt.Errorf("%s: %s", method, resp.Error.text())
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, fmt.Errorf("%s: session closed: %w", method, models.ErrTransport)
	}
}

func (c *Client) writeEvent(conn *websocket.Conn, env *models.Envelope) error {
	return c.writeFrame(conn, &frame{Type: frameEvent, Event: env})
}

func (c *Client) writeFrame(conn *websocket.Conn, f *frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

// holdForReplay keeps critical envelopes for redelivery on the next
// session; non-critical ones are dropped.
func (c *Client) holdForReplay(envs ...*models.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, env := range envs {
		if env.Critical {
			c.replay = append(c.replay, env)
			continue
		}
		c.metrics.OutboundDropped.WithLabelValues(env.EventType).Inc()
	}
}

func (c *Client) publishError(err error) {
	c.bus.Publish(models.EventAgentError, models.NewEnvelope(
		models.EventAgentError, c.cfg.AgentID, c.cfg.ChannelID, map[string]any{
			"error": err.Error(),
			"scope": "transport",
		}))
}
