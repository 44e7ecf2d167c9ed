package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTransport struct {
	mu           sync.Mutex
	ops          []string
	subscribeErr error
}

func (t *stubTransport) Subscribe(_ context.Context, channel string) error {
	if t.subscribeErr != nil {
		return t.subscribeErr
	}
	t.mu.Lock()
	t.ops = append(t.ops, "subscribe:"+channel)
	t.mu.Unlock()
	return nil
}

func (t *stubTransport) Unsubscribe(_ context.Context, channel string) error {
	t.mu.Lock()
	t.ops = append(t.ops, "unsubscribe:"+channel)
	t.mu.Unlock()
	return nil
}

func (t *stubTransport) opList() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ops...)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	transport := &stubTransport{}
	m := NewMux(transport, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "chat-1"))
	require.NoError(t, m.Subscribe(ctx, "chat-1"))

	assert.Equal(t, []string{"subscribe:chat-1"}, transport.opList())
}

func TestSubscribeFailureLeavesNothingActive(t *testing.T) {
	transport := &stubTransport{subscribeErr: errors.New("gateway down")}
	m := NewMux(transport, zerolog.Nop())

	require.Error(t, m.Subscribe(context.Background(), "chat-1"))
	assert.Error(t, m.Bind("chat-1", EventNewMessage, func(json.RawMessage) {}))
}

func TestDuplicateBindIsNoop(t *testing.T) {
	transport := &stubTransport{}
	m := NewMux(transport, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, m.Subscribe(ctx, "chat-1"))

	var first, second int
	require.NoError(t, m.Bind("chat-1", EventTyping, func(json.RawMessage) { first++ }))
	require.NoError(t, m.Bind("chat-1", EventTyping, func(json.RawMessage) { second++ }))

	m.Dispatch("chat-1", EventTyping, nil)
	assert.Equal(t, 1, first, "re-entering a chat must not create a second binding")
	assert.Equal(t, 0, second)
}

func TestTeardownUnbindsBeforeUnsubscribe(t *testing.T) {
	transport := &stubTransport{}
	m := NewMux(transport, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, m.Subscribe(ctx, "chat-1"))

	var calls int
	require.NoError(t, m.Bind("chat-1", EventNewMessage, func(json.RawMessage) { calls++ }))
	require.NoError(t, m.Bind("chat-1", EventTyping, func(json.RawMessage) { calls++ }))
	assert.Equal(t, []string{EventNewMessage, EventTyping}, m.BoundEvents("chat-1"))

	require.NoError(t, m.Teardown(ctx, "chat-1"))
	assert.Nil(t, m.BoundEvents("chat-1"))
	assert.Equal(t, []string{"subscribe:chat-1", "unsubscribe:chat-1"}, transport.opList())

	// No dangling callbacks after teardown.
	m.Dispatch("chat-1", EventNewMessage, nil)
	assert.Equal(t, 0, calls)
}

func TestTeardownAll(t *testing.T) {
	transport := &stubTransport{}
	m := NewMux(transport, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, m.Subscribe(ctx, "chat-1"))
	require.NoError(t, m.Subscribe(ctx, "presence-bob"))

	m.TeardownAll(ctx)
	ops := transport.opList()
	assert.Contains(t, ops, "unsubscribe:chat-1")
	assert.Contains(t, ops, "unsubscribe:presence-bob")
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	transport := &stubTransport{}
	m := NewMux(transport, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, m.Subscribe(ctx, "chat-1"))

	var healthy int
	require.NoError(t, m.Bind("chat-1", EventNewMessage, func(json.RawMessage) { panic("boom") }))
	require.NoError(t, m.Bind("chat-1", EventTyping, func(json.RawMessage) { healthy++ }))

	assert.NotPanics(t, func() {
		m.Dispatch("chat-1", EventNewMessage, nil)
	})

	// The failing handler must not tear down the subscription or affect
	// other bound events.
	m.Dispatch("chat-1", EventTyping, nil)
	assert.Equal(t, 1, healthy)
	assert.Equal(t, []string{EventNewMessage, EventTyping}, m.BoundEvents("chat-1"))
}

func TestDispatchUnknownEventIsDropped(t *testing.T) {
	transport := &stubTransport{}
	m := NewMux(transport, zerolog.Nop())
	require.NoError(t, m.Subscribe(context.Background(), "chat-1"))
	assert.NotPanics(t, func() {
		m.Dispatch("chat-1", "unknown-event", json.RawMessage(`{}`))
		m.Dispatch("unknown-channel", EventTyping, nil)
	})
}
