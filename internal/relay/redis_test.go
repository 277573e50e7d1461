package relay

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/hub"
)

type recorder struct {
	mu   sync.Mutex
	msgs []hub.RelayMessage
}

func (r *recorder) DeliverRemote(msg hub.RelayMessage) hub.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return hub.Delivery{Audience: 1, Delivered: 1}
}

func (r *recorder) received() []hub.RelayMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hub.RelayMessage(nil), r.msgs...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRejectsInvalidURL(t *testing.T) {
	_, err := New("mysql://nope", "roomchat:test", "a", discardLogger())
	require.Error(t, err)
}

func TestDispatch(t *testing.T) {
	r, err := New("redis://127.0.0.1:1/0", "roomchat:test", "node-a", discardLogger())
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	rec := &recorder{}
	r.dispatch(`{"origin":"node-b","room":"r1","username":"bob","data":"hi"}`, rec)
	r.dispatch(`{"origin":"node-a","room":"r1","username":"ana","data":"echo"}`, rec)
	r.dispatch(`not json`, rec)

	assert.Equal(t, []hub.RelayMessage{{Origin: "node-b", Room: "r1", Username: "bob", Data: "hi"}}, rec.received())
}

func TestPublishTripsBreaker(t *testing.T) {
	// Nothing listens on port 1; every publish fails fast.
	r, err := New("redis://127.0.0.1:1/0?max_retries=-1&dial_timeout=200ms", "roomchat:test", "node-a", discardLogger())
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	msg := hub.RelayMessage{Origin: "node-a", Room: "r1", Username: "ana", Data: "hi"}
	for i := 0; i < 5; i++ {
		err := r.Publish(context.Background(), msg)
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	err = r.Publish(context.Background(), msg)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, gobreaker.StateOpen, r.cb.State())
}

func TestRunOutlivesUnreachableRedis(t *testing.T) {
	r, err := New("redis://127.0.0.1:1/0?dial_timeout=200ms", "roomchat:test", "node-a", discardLogger())
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, &recorder{}) }()

	select {
	case err := <-done:
		t.Fatalf("Run returned while Redis was unreachable: %v", err)
	case <-time.After(time.Second):
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestStateToFloat(t *testing.T) {
	assert.Equal(t, 0.0, stateToFloat(gobreaker.StateClosed))
	assert.Equal(t, 1.0, stateToFloat(gobreaker.StateHalfOpen))
	assert.Equal(t, 2.0, stateToFloat(gobreaker.StateOpen))
}
