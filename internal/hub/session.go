package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/roomchat/internal/metrics"
)

// SessionState is the lifecycle position of one session loop.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateJoined
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

type session struct {
	hub    *Hub
	stream Stream
	room   string
	conn   *Connection
	state  SessionState
	logger *slog.Logger
}

// Serve runs the session loop for an accepted stream until the stream ends.
// The stream is registered in room ("" = global scope), receives the join
// notice, and then every payload it sends is broadcast to its audience.
// Whatever ends the loop, the connection is unregistered and the stream
// closed before Serve returns. A graceful close returns nil.
//
// ctx is handed to the relay; cancelling it does not end the session.
func (h *Hub) Serve(ctx context.Context, stream Stream, room string) error {
	if !h.begin() {
		_ = stream.Close()
		metrics.SessionsTotal.WithLabelValues("rejected").Inc()
		return ErrHubClosed
	}
	defer h.sessions.Done()

	s := &session{
		hub:    h,
		stream: stream,
		room:   room,
		state:  StateConnecting,
		logger: h.logger.With(slog.String("room", room)),
	}
	return s.run(ctx)
}

func (s *session) run(ctx context.Context) (err error) {
	conn, err := s.hub.registry.Register(s.stream, s.room)
	if err != nil {
		s.logger.Error("Failed to register connection", slog.Any("error", err))
		_ = s.stream.Close()
		metrics.SessionsTotal.WithLabelValues("rejected").Inc()
		return err
	}
	s.conn = conn
	s.logger = s.logger.With(slog.String("conn_id", conn.ID().String()))
	defer s.finish(&err)

	if s.hub.isClosing() {
		return ErrHubClosed
	}

	s.transition(StateJoined)
	if err := conn.Send(JoinNotice()); err != nil {
		return fmt.Errorf("%w: join notice: %w", ErrTransportFailure, err)
	}

	for {
		payload, err := s.stream.Receive()
		if err != nil {
			return err
		}

		if _, err := s.hub.broadcaster.Broadcast(ctx, conn, s.room, payload); err != nil {
			if errors.Is(err, ErrMalformedMessage) {
				s.logger.Warn("Dropping malformed message", slog.Any("error", err))
				continue
			}
			s.logger.Error("Broadcast failed", slog.Any("error", err))
		}
	}
}

// finish is deferred by run and therefore runs on every exit path, panics included.
func (s *session) finish(errp *error) {
	outcome := "closed"
	if r := recover(); r != nil {
		*errp = fmt.Errorf("session panic: %v", r)
		outcome = "panic"
	}

	s.transition(StateClosed)
	if _, removed := s.hub.registry.Unregister(s.conn.ID()); !removed {
		s.logger.Debug("Connection was already removed from the hub")
	}
	if err := s.stream.Close(); err != nil {
		s.logger.Debug("Error closing stream", slog.Any("error", err))
	}

	err := *errp
	s.logger = s.logger.With(slog.Duration("connected_for", s.hub.clock.Since(s.conn.JoinedAt())))
	switch {
	case outcome == "panic":
		s.logger.Error("Session panicked", slog.Any("error", err))
	case err == nil, errors.Is(err, ErrTransportClosed):
		s.logger.Info("Client disconnected", slog.Any("reason", err))
		*errp = nil
	case errors.Is(err, ErrHubClosed):
		s.logger.Info("Session ended by hub shutdown")
	default:
		outcome = "error"
		s.logger.Warn("Session ended with transport error", slog.Any("error", err))
	}
	metrics.SessionsTotal.WithLabelValues(outcome).Inc()
}

func (s *session) transition(to SessionState) {
	s.logger.Debug("Session state change",
		slog.String("from", s.state.String()),
		slog.String("to", to.String()),
	)
	s.state = to
}
