package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Tyrowin/roomchat/internal/metrics"
)

// Relay forwards locally accepted broadcasts to other hub instances.
type Relay interface {
	Publish(ctx context.Context, msg RelayMessage) error
}

// Delivery summarises one broadcast pass.
type Delivery struct {
	Audience    int
	Delivered   int
	Unreachable []uuid.UUID
}

// Broadcaster turns one inbound payload into deliveries to the sender's audience.
// It keeps no per-call state; everything shared lives in the Registry.
type Broadcaster struct {
	registry *Registry
	relay    Relay
	origin   string
	logger   *slog.Logger
}

// NewBroadcaster creates a Broadcaster over registry. relay may be nil.
func NewBroadcaster(registry *Registry, relay Relay, origin string, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		relay:    relay,
		origin:   origin,
		logger:   logger.With(slog.String("component", "broadcaster")),
	}
}

// Broadcast decodes payload from sender and delivers it to every member of room
// ("" = every registered connection). The sender's own copy has isMe set.
// Recipients whose send fails are unregistered and closed after the pass;
// a failed recipient never prevents delivery to the others.
func (b *Broadcaster) Broadcast(ctx context.Context, sender *Connection, room string, payload []byte) (Delivery, error) {
	in, err := DecodeInbound(payload)
	if err != nil {
		metrics.MalformedMessages.Inc()
		return Delivery{}, err
	}

	mine, theirs, err := encodeOutbound(in)
	if err != nil {
		return Delivery{}, fmt.Errorf("encode outbound: %w", err)
	}

	audience := b.registry.MembersOf(room)
	metrics.MessagesBroadcast.WithLabelValues(scopeLabel(room)).Inc()

	delivery := b.fanOut(audience, sender.ID(), mine, theirs)
	b.logger.Debug("Broadcast complete",
		slog.String("sender", sender.ID().String()),
		slog.String("room", room),
		slog.Int("audience", delivery.Audience),
		slog.Int("delivered", delivery.Delivered),
		slog.Int("unreachable", len(delivery.Unreachable)),
	)

	b.publish(ctx, RelayMessage{
		Origin:   b.origin,
		Room:     room,
		Username: in.Username,
		Data:     in.Message,
	})
	return delivery, nil
}

// DeliverRemote fans a message relayed from another instance out to the local
// members of its room. No local connection is the sender, so isMe is always false.
func (b *Broadcaster) DeliverRemote(msg RelayMessage) Delivery {
	if msg.Origin == b.origin {
		return Delivery{}
	}

	theirs, err := json.Marshal(Outbound{IsMe: false, Username: msg.Username, Data: msg.Data})
	if err != nil {
		b.logger.Error("Failed to encode relayed message", slog.Any("error", err))
		return Delivery{}
	}

	audience := b.registry.MembersOf(msg.Room)
	return b.fanOut(audience, uuid.Nil, theirs, theirs)
}

func (b *Broadcaster) fanOut(audience []*Connection, senderID uuid.UUID, mine, theirs []byte) Delivery {
	delivery := Delivery{Audience: len(audience)}

	var failed []*Connection
	for _, recipient := range audience {
		data := theirs
		if recipient.ID() == senderID {
			data = mine
		}

		if err := safeSend(recipient, data); err != nil {
			b.logger.Debug("Send failed",
				slog.String("conn_id", recipient.ID().String()),
				slog.Any("error", err),
			)
			metrics.Deliveries.WithLabelValues("unreachable").Inc()
			failed = append(failed, recipient)
			continue
		}
		metrics.Deliveries.WithLabelValues("ok").Inc()
		delivery.Delivered++
	}

	for _, recipient := range failed {
		delivery.Unreachable = append(delivery.Unreachable, recipient.ID())
		b.evict(recipient)
	}
	return delivery
}

// evict removes an unreachable recipient. Only the caller that actually removed
// it from the registry closes the handle.
func (b *Broadcaster) evict(conn *Connection) {
	if _, removed := b.registry.Unregister(conn.ID()); !removed {
		return
	}
	metrics.RecipientsEvicted.Inc()
	b.logger.Warn("Removed unreachable recipient",
		slog.String("conn_id", conn.ID().String()),
		slog.String("room", conn.Room()),
	)
	if err := conn.close(); err != nil {
		b.logger.Debug("Error closing evicted connection",
			slog.String("conn_id", conn.ID().String()),
			slog.Any("error", err),
		)
	}
}

func (b *Broadcaster) publish(ctx context.Context, msg RelayMessage) {
	if b.relay == nil {
		return
	}
	if err := b.relay.Publish(ctx, msg); err != nil {
		b.logger.Warn("Relay publish failed",
			slog.String("room", msg.Room),
			slog.Any("error", err),
		)
	}
}

// safeSend converts both send errors and panics raised by a handle into
// ErrRecipientUnreachable.
func safeSend(conn *Connection, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: send panicked: %v", ErrRecipientUnreachable, r)
		}
	}()

	if err := conn.Send(data); err != nil {
		return fmt.Errorf("%w: %w", ErrRecipientUnreachable, err)
	}
	return nil
}

func scopeLabel(room string) string {
	if room == "" {
		return "global"
	}
	return "room"
}
