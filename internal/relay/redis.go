// Package relay connects hub instances through Redis Pub/Sub so that a message
// broadcast on one instance also reaches the room's members on every other one.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/Tyrowin/roomchat/internal/hub"
	"github.com/Tyrowin/roomchat/internal/metrics"
)

const publishTimeout = 2 * time.Second

// Deliverer fans a relayed message out to local connections. *hub.Hub implements it.
type Deliverer interface {
	DeliverRemote(msg hub.RelayMessage) hub.Delivery
}

// Relay publishes local broadcasts to a Redis channel and delivers messages
// published by other instances.
type Relay struct {
	rdb     *goredis.Client
	channel string
	origin  string
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

var _ hub.Relay = (*Relay)(nil)

// New creates a Relay from a Redis URL (e.g. "redis://localhost:6379/0").
// origin must be the instance id the local hub stamps on its messages.
func New(redisURL, channel, origin string, logger *slog.Logger) (*Relay, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	logger = logger.With(slog.String("component", "relay"), slog.String("channel", channel))
	r := &Relay{
		rdb:     goredis.NewClient(opts),
		channel: channel,
		origin:  origin,
		logger:  logger,
	}
	r.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-relay",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			metrics.RelayBreakerState.Set(stateToFloat(to))
		},
	})
	return r, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Ping verifies the Redis connection.
func (r *Relay) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *Relay) Close() error {
	return r.rdb.Close()
}

// Publish sends msg to the relay channel. While the breaker is open it fails
// fast with gobreaker.ErrOpenState.
func (r *Relay) Publish(ctx context.Context, msg hub.RelayMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}

	_, err = r.cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		return nil, r.rdb.Publish(ctx, r.channel, data).Err()
	})
	switch {
	case err == nil:
		metrics.RelayMessages.WithLabelValues("publish", "ok").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RelayMessages.WithLabelValues("publish", "breaker_open").Inc()
	default:
		metrics.RelayMessages.WithLabelValues("publish", "error").Inc()
	}
	return fmt.Errorf("relay publish: %w", err)
}

// Run subscribes to the relay channel and hands every foreign message to
// target until ctx is cancelled. Redis being unreachable does not end Run:
// the subscription keeps reconnecting in the background.
func (r *Relay) Run(ctx context.Context, target Deliverer) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		metrics.RelayMessages.WithLabelValues("subscribe", "error").Inc()
		r.logger.Warn("Relay subscription not confirmed, retrying in background", slog.Any("error", err))
	} else {
		r.logger.Info("Relay subscribed")
	}

	msgCh := sub.Channel()
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return nil
			}
			r.dispatch(msg.Payload, target)
		case <-ctx.Done():
			r.logger.Info("Relay stopped")
			return nil
		}
	}
}

func (r *Relay) dispatch(payload string, target Deliverer) {
	var msg hub.RelayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		metrics.RelayMessages.WithLabelValues("receive", "error").Inc()
		r.logger.Warn("Failed to unmarshal relay message", slog.Any("error", err))
		return
	}
	if msg.Origin == r.origin {
		metrics.RelayMessages.WithLabelValues("receive", "skipped").Inc()
		return
	}

	delivery := target.DeliverRemote(msg)
	metrics.RelayMessages.WithLabelValues("receive", "ok").Inc()
	r.logger.Debug("Delivered relayed message",
		slog.String("origin", msg.Origin),
		slog.String("room", msg.Room),
		slog.Int("delivered", delivery.Delivered),
	)
}
