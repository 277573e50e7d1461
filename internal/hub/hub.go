// Package hub implements the room broadcast hub: the Registry that owns
// connection and room membership state, the Broadcaster that fans messages out
// to an audience, and the per-connection session loop that ties a Stream to both.
//
// The Registry is the only shared mutable state. Broadcasts take a snapshot of
// their audience and release the registry lock before sending, so a slow or
// dead recipient never stalls other deliveries or registry operations.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Hub owns one Registry and one Broadcaster and tracks the running session loops.
type Hub struct {
	registry    *Registry
	broadcaster *Broadcaster
	instanceID  string
	clock       clockwork.Clock
	logger      *slog.Logger

	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
}

type options struct {
	clock      clockwork.Clock
	newID      func() uuid.UUID
	relay      Relay
	instanceID string
}

// Option configures a Hub.
type Option func(*options)

// WithClock sets the clock used to stamp connections and time shutdown.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithIDGenerator replaces uuid.New as the connection id source.
func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(o *options) { o.newID = newID }
}

// WithRelay forwards every local broadcast to relay.
func WithRelay(relay Relay) Option {
	return func(o *options) { o.relay = relay }
}

// WithInstanceID names this hub instance on the relay. Defaults to a random UUID.
func WithInstanceID(id string) Option {
	return func(o *options) { o.instanceID = id }
}

// New creates a Hub ready to serve sessions.
func New(logger *slog.Logger, opts ...Option) *Hub {
	o := options{
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.instanceID == "" {
		o.instanceID = uuid.NewString()
	}

	logger = logger.With(slog.String("instance", o.instanceID))
	registry := NewRegistry(logger, o.clock, o.newID)
	return &Hub{
		registry:    registry,
		broadcaster: NewBroadcaster(registry, o.relay, o.instanceID, logger),
		instanceID:  o.instanceID,
		clock:       o.clock,
		logger:      logger.With(slog.String("component", "hub")),
	}
}

// Registry returns the hub's registry.
func (h *Hub) Registry() *Registry { return h.registry }

// InstanceID returns the id this hub publishes under on the relay.
func (h *Hub) InstanceID() string { return h.instanceID }

// Stats reports how many rooms and connections are live.
func (h *Hub) Stats() (rooms, connections int) {
	return h.registry.Stats()
}

// Rooms returns the sorted ids of all non-empty rooms.
func (h *Hub) Rooms() []string {
	return h.registry.Rooms()
}

// DeliverRemote delivers a message relayed by another instance to local members.
func (h *Hub) DeliverRemote(msg RelayMessage) Delivery {
	return h.broadcaster.DeliverRemote(msg)
}

func (h *Hub) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.sessions.Add(1)
	return true
}

func (h *Hub) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// Shutdown stops accepting sessions, closes every registered connection and
// waits for all session loops to finish. It returns context.DeadlineExceeded
// if they have not finished within timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating hub shutdown...")

	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	conns := h.registry.MembersOf("")
	for _, conn := range conns {
		if err := conn.close(); err != nil {
			h.logger.Debug("Error closing connection",
				slog.String("conn_id", conn.ID().String()),
				slog.Any("error", err),
			)
		}
	}
	h.logger.Info("Closed client connections", slog.Int("count", len(conns)))

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("Hub shutdown completed successfully")
		return nil
	case <-h.clock.After(timeout):
		h.logger.Warn("Hub shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
