package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeStream is an in-memory Stream. Payloads pushed with deliver are returned
// by Receive; Close unblocks Receive with ErrTransportClosed.
type fakeStream struct {
	inbound chan []byte
	done    chan struct{}

	mu         sync.Mutex
	sent       [][]byte
	sendErr    error
	sendPanic  bool
	closeCalls int
	closeOnce  sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (f *fakeStream) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendPanic {
		panic("send exploded")
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.isClosed() {
		return fmt.Errorf("%w: send on closed stream", ErrTransportClosed)
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeStream) Receive() ([]byte, error) {
	select {
	case <-f.done:
		return nil, fmt.Errorf("%w: stream closed", ErrTransportClosed)
	default:
	}
	select {
	case payload := <-f.inbound:
		return payload, nil
	case <-f.done:
		return nil, fmt.Errorf("%w: stream closed", ErrTransportClosed)
	}
}

func (f *fakeStream) deliver(payload string) {
	f.inbound <- []byte(payload)
}

func (f *fakeStream) failSends(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeStream) isClosed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *fakeStream) received(t *testing.T) []Outbound {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Outbound, 0, len(f.sent))
	for _, raw := range f.sent {
		var msg Outbound
		require.NoError(t, json.Unmarshal(raw, &msg))
		out = append(out, msg)
	}
	return out
}

func (f *fakeStream) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// stuckStream ignores Close so its session never ends on its own.
type stuckStream struct {
	release chan struct{}
}

func (s *stuckStream) Send([]byte) error { return nil }
func (s *stuckStream) Close() error      { return nil }
func (s *stuckStream) Receive() ([]byte, error) {
	<-s.release
	return nil, ErrTransportClosed
}

type fakeRelay struct {
	mu        sync.Mutex
	published []RelayMessage
	err       error
}

func (r *fakeRelay) Publish(_ context.Context, msg RelayMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, msg)
	return r.err
}

func (r *fakeRelay) messages() []RelayMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RelayMessage(nil), r.published...)
}

type testSession struct {
	stream *fakeStream
	errc   chan error
}

// startSession runs Serve for a fresh fakeStream and waits for the join notice.
func startSession(t *testing.T, h *Hub, room string) testSession {
	t.Helper()

	s := testSession{stream: newFakeStream(), errc: make(chan error, 1)}
	go func() {
		s.errc <- h.Serve(context.Background(), s.stream, room)
	}()
	require.Eventually(t, func() bool { return s.stream.sentCount() >= 1 },
		time.Second, 5*time.Millisecond, "join notice not received")
	return s
}

func (s testSession) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func chat(username, message string) string {
	raw, _ := json.Marshal(Inbound{Username: username, Message: message})
	return string(raw)
}
