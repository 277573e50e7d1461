package hub

import (
	"time"

	"github.com/google/uuid"
)

// Handle is the send side of a peer connection. Send must not block for long:
// implementations queue the payload or fail.
type Handle interface {
	Send(data []byte) error
	Close() error
}

// Stream is a full bidirectional peer connection as consumed by the session loop.
// Receive blocks for the next inbound payload and returns an error wrapping
// ErrTransportClosed or ErrTransportFailure once the stream is done.
type Stream interface {
	Handle
	Receive() ([]byte, error)
}

// Connection is one registered peer. Its id and room never change after
// Register returns.
type Connection struct {
	id       uuid.UUID
	room     string
	handle   Handle
	joinedAt time.Time
}

// ID returns the identifier assigned at registration.
func (c *Connection) ID() uuid.UUID { return c.id }

// Room returns the room the connection joined, or "" for the global scope.
func (c *Connection) Room() string { return c.room }

// JoinedAt returns when the connection was registered.
func (c *Connection) JoinedAt() time.Time { return c.joinedAt }

// Send delivers data to the peer through its handle.
func (c *Connection) Send(data []byte) error {
	return c.handle.Send(data)
}

func (c *Connection) close() error {
	return c.handle.Close()
}
