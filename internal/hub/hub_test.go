package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(opts ...Option) *Hub {
	return New(discardLogger(), opts...)
}

func TestServeRegistersAndSendsJoinNotice(t *testing.T) {
	h := newTestHub()
	c1 := startSession(t, h, "r1")

	members := h.Registry().MembersOf("r1")
	require.Len(t, members, 1)

	assert.Equal(t, []Outbound{{IsMe: true, Username: "You", Data: "Have joined!!"}}, c1.stream.received(t))

	require.NoError(t, c1.stream.Close())
	require.NoError(t, c1.wait(t))
}

func TestServeBroadcastsToRoomMembers(t *testing.T) {
	h := newTestHub()
	c1 := startSession(t, h, "r1")
	c2 := startSession(t, h, "r1")

	c1.stream.deliver(chat("alice", "hi"))

	require.Eventually(t, func() bool { return c2.stream.sentCount() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c1.stream.sentCount() == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, Outbound{IsMe: true, Username: "alice", Data: "hi"}, c1.stream.received(t)[1])
	assert.Equal(t, Outbound{IsMe: false, Username: "alice", Data: "hi"}, c2.stream.received(t)[1])
}

func TestServeKeepsRoomsIsolated(t *testing.T) {
	h := newTestHub()
	c1 := startSession(t, h, "r1")
	c2 := startSession(t, h, "r2")

	c1.stream.deliver(chat("alice", "hi"))
	require.Eventually(t, func() bool { return c1.stream.sentCount() == 2 }, time.Second, 5*time.Millisecond)

	// c1's own copy is delivered in the same pass, so c2 has had its chance.
	assert.Equal(t, 1, c2.stream.sentCount())
}

func TestServeDropsClosedPeerFromRoom(t *testing.T) {
	h := newTestHub()
	c1 := startSession(t, h, "r1")
	c2 := startSession(t, h, "r1")

	require.NoError(t, c2.stream.Close())
	c1.stream.deliver(chat("alice", "hi"))

	require.Eventually(t, func() bool { return c1.stream.sentCount() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c2.wait(t))

	members := h.Registry().MembersOf("r1")
	require.Len(t, members, 1)
	assert.Equal(t, c1.stream, members[0].handle)
	require.NoError(t, h.Registry().checkConsistency())
}

func TestServeContinuesAfterMalformedMessage(t *testing.T) {
	h := newTestHub()
	c1 := startSession(t, h, "r1")

	c1.stream.deliver(`not json`)
	c1.stream.deliver(`{"username":"alice"}`)
	c1.stream.deliver(chat("alice", "still here"))

	require.Eventually(t, func() bool { return c1.stream.sentCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Outbound{IsMe: true, Username: "alice", Data: "still here"}, c1.stream.received(t)[1])
	assert.False(t, c1.stream.isClosed())

	_, conns := h.Stats()
	assert.Equal(t, 1, conns)
}

func TestServeUnregistersOnDisconnect(t *testing.T) {
	h := newTestHub()
	c1 := startSession(t, h, "r1")

	require.NoError(t, c1.stream.Close())
	require.NoError(t, c1.wait(t))

	rooms, conns := h.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, conns)
}

func TestServeReturnsTransportFailure(t *testing.T) {
	h := newTestHub()
	stream := &failingStream{fakeStream: newFakeStream(), err: errors.New("reset by peer")}

	err := h.Serve(context.Background(), stream, "r1")
	require.ErrorIs(t, err, ErrTransportFailure)
	assert.True(t, stream.isClosed())

	_, conns := h.Stats()
	assert.Zero(t, conns)
}

func TestServeRecoversFromPanic(t *testing.T) {
	h := newTestHub()
	stream := &panickingStream{fakeStream: newFakeStream()}

	err := h.Serve(context.Background(), stream, "r1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session panic")
	assert.True(t, stream.isClosed())

	_, conns := h.Stats()
	assert.Zero(t, conns)
}

func TestServeRejectsDuplicateIdentifier(t *testing.T) {
	fixed := uuid.MustParse("5d7c3c2a-9b0e-4f6f-9a0e-1f2d3c4b5a69")
	h := newTestHub(WithIDGenerator(func() uuid.UUID { return fixed }))
	first := startSession(t, h, "r1")

	second := newFakeStream()
	err := h.Serve(context.Background(), second, "r1")
	require.ErrorIs(t, err, ErrDuplicateIdentifier)
	assert.True(t, second.isClosed())
	assert.Zero(t, second.sentCount())

	// The first session is unaffected.
	assert.False(t, first.stream.isClosed())
	_, ok := h.Registry().lookup(fixed)
	assert.True(t, ok)
}

func TestServeForwardsToRelay(t *testing.T) {
	relay := &fakeRelay{}
	h := newTestHub(WithRelay(relay), WithInstanceID("node-1"))
	c1 := startSession(t, h, "r1")

	c1.stream.deliver(chat("alice", "hi"))
	require.Eventually(t, func() bool { return len(relay.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, RelayMessage{Origin: "node-1", Room: "r1", Username: "alice", Data: "hi"}, relay.messages()[0])
	assert.Equal(t, "node-1", h.InstanceID())
}

func TestShutdownClosesSessions(t *testing.T) {
	h := newTestHub()
	sessions := []testSession{
		startSession(t, h, "r1"),
		startSession(t, h, "r1"),
		startSession(t, h, ""),
	}

	require.NoError(t, h.Shutdown(time.Second))

	for _, s := range sessions {
		assert.True(t, s.stream.isClosed())
		require.NoError(t, s.wait(t))
	}
	_, conns := h.Stats()
	assert.Zero(t, conns)

	late := newFakeStream()
	require.ErrorIs(t, h.Serve(context.Background(), late, "r1"), ErrHubClosed)
	assert.True(t, late.isClosed())
}

func TestShutdownTimesOut(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newTestHub(WithClock(clock))
	stuck := &stuckStream{release: make(chan struct{})}
	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background(), stuck, "r1") }()

	require.Eventually(t, func() bool {
		_, conns := h.Stats()
		return conns == 1
	}, time.Second, 5*time.Millisecond)

	shutdown := make(chan error, 1)
	go func() { shutdown <- h.Shutdown(time.Minute) }()

	clock.BlockUntil(1)
	select {
	case err := <-shutdown:
		t.Fatalf("Shutdown returned before its timeout: %v", err)
	default:
	}

	clock.Advance(time.Minute)
	select {
	case err := <-shutdown:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return after its timeout elapsed")
	}

	close(stuck.release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stuck session did not end after release")
	}
}

func TestHubDeliverRemote(t *testing.T) {
	h := newTestHub(WithInstanceID("node-1"))
	c1 := startSession(t, h, "r1")

	delivery := h.DeliverRemote(RelayMessage{Origin: "node-2", Room: "r1", Username: "bob", Data: "hey"})
	assert.Equal(t, 1, delivery.Delivered)
	assert.Equal(t, Outbound{IsMe: false, Username: "bob", Data: "hey"}, c1.stream.received(t)[1])
}

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "joined", StateJoined.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "SessionState(9)", SessionState(9).String())
}

type failingStream struct {
	*fakeStream
	err error
}

func (f *failingStream) Receive() ([]byte, error) {
	return nil, errors.Join(ErrTransportFailure, f.err)
}

type panickingStream struct {
	*fakeStream
}

func (p *panickingStream) Receive() ([]byte, error) {
	panic("decoder blew up")
}
