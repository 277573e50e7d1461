package hub

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Tyrowin/roomchat/internal/metrics"
)

// Registry owns every registered connection and the room index over them.
// Rooms hold connection ids only; the connection itself lives in conns.
// A single mutex guards both maps so readers never see one updated without
// the other.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Connection
	rooms map[string]map[uuid.UUID]struct{}

	newID  func() uuid.UUID
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewRegistry creates an empty registry. A nil newID defaults to uuid.New.
func NewRegistry(logger *slog.Logger, clock clockwork.Clock, newID func() uuid.UUID) *Registry {
	if newID == nil {
		newID = uuid.New
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		conns:  make(map[uuid.UUID]*Connection),
		rooms:  make(map[string]map[uuid.UUID]struct{}),
		newID:  newID,
		clock:  clock,
		logger: logger.With(slog.String("component", "registry")),
	}
}

// Register adds a connection for handle, placing it in room unless room is "".
// It never replaces a live connection: a colliding id yields ErrDuplicateIdentifier.
func (r *Registry) Register(handle Handle, room string) (*Connection, error) {
	id := r.newID()

	r.mu.Lock()
	if _, exists := r.conns[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateIdentifier, id)
	}

	conn := &Connection{
		id:       id,
		room:     room,
		handle:   handle,
		joinedAt: r.clock.Now(),
	}
	r.conns[id] = conn
	if room != "" {
		members, ok := r.rooms[room]
		if !ok {
			members = make(map[uuid.UUID]struct{})
			r.rooms[room] = members
		}
		members[id] = struct{}{}
	}
	total, rooms := len(r.conns), len(r.rooms)
	r.mu.Unlock()

	metrics.ConnectionsCurrent.Set(float64(total))
	metrics.RoomsCurrent.Set(float64(rooms))
	r.logger.Debug("Connection registered",
		slog.String("conn_id", id.String()),
		slog.String("room", room),
		slog.Int("total", total),
	)
	return conn, nil
}

// Unregister removes the connection with id from the registry and from its room.
// Removing an unknown id is a no-op. The removed connection is returned so the
// caller that actually removed it can release its handle.
func (r *Registry) Unregister(id uuid.UUID) (*Connection, bool) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	delete(r.conns, id)

	roomRemoved := false
	if conn.room != "" {
		if members, exists := r.rooms[conn.room]; exists {
			delete(members, id)
			if len(members) == 0 {
				delete(r.rooms, conn.room)
				roomRemoved = true
			}
		}
	}
	total, rooms := len(r.conns), len(r.rooms)
	r.mu.Unlock()

	metrics.ConnectionsCurrent.Set(float64(total))
	metrics.RoomsCurrent.Set(float64(rooms))
	r.logger.Debug("Connection unregistered",
		slog.String("conn_id", id.String()),
		slog.String("room", conn.room),
		slog.Int("total", total),
	)
	if roomRemoved {
		r.logger.Debug("Removed empty room", slog.String("room", conn.room))
	}
	return conn, true
}

// MembersOf returns a snapshot of the audience for room: the room's members,
// or every registered connection when room is "". The slice is owned by the
// caller.
func (r *Registry) MembersOf(room string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if room == "" {
		out := make([]*Connection, 0, len(r.conns))
		for _, conn := range r.conns {
			out = append(out, conn)
		}
		return out
	}

	members := r.rooms[room]
	out := make([]*Connection, 0, len(members))
	for id := range members {
		out = append(out, r.conns[id])
	}
	return out
}

// lookup returns the live connection with id.
func (r *Registry) lookup(id uuid.UUID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Stats reports how many rooms and connections are live.
func (r *Registry) Stats() (rooms, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.conns)
}

// Rooms returns the sorted ids of all non-empty rooms.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// checkConsistency verifies that the room index and the connection table
// agree. It is used by tests after every mutation.
func (r *Registry) checkConsistency() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for room, members := range r.rooms {
		if len(members) == 0 {
			return fmt.Errorf("room %q is empty but still indexed", room)
		}
		for id := range members {
			conn, ok := r.conns[id]
			if !ok {
				return fmt.Errorf("room %q lists unregistered connection %s", room, id)
			}
			if conn.room != room {
				return fmt.Errorf("connection %s is indexed in room %q but belongs to %q", id, room, conn.room)
			}
		}
	}

	for id, conn := range r.conns {
		if conn.room == "" {
			continue
		}
		if _, ok := r.rooms[conn.room][id]; !ok {
			return fmt.Errorf("connection %s missing from its room %q", id, conn.room)
		}
	}
	return nil
}
