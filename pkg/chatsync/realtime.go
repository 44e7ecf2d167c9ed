package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Event names carried on chat and participant channels.
const (
	EventNewMessage      = "new-message"
	EventTyping          = "typing"
	EventSpeaking        = "speaking"
	EventViewerState     = "viewer-state"
	EventPresenceChanged = "presence-changed"
)

// EventHandler consumes one bound event's payload.
type EventHandler func(data json.RawMessage)

// Transport is the realtime push boundary: named channel subscribe and
// unsubscribe with at-least-once event delivery and no cross-channel
// ordering. Received events are fed to Mux.Dispatch by the transport owner.
type Transport interface {
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
}

// channelSubscription tracks one active named channel and its bound events.
type channelSubscription struct {
	name     string
	handlers map[string]EventHandler
}

// Mux manages the subscription lifecycle of named push channels and fans
// bound events out to their handlers.
//
// Subscribing to an already-active name is a no-op, as is binding an event
// name that is already bound on a channel, so re-entering the same chat never
// creates duplicate bindings. Teardown always unbinds every event name before
// unsubscribing — never the reverse — so no dangling handler can fire into a
// torn-down view.
type Mux struct {
	transport Transport
	log       zerolog.Logger

	mu   sync.Mutex
	subs map[string]*channelSubscription
}

func NewMux(transport Transport, log zerolog.Logger) *Mux {
	return &Mux{
		transport: transport,
		log:       log.With().Str("component", "realtime").Logger(),
		subs:      make(map[string]*channelSubscription),
	}
}

// Subscribe activates a named channel. Idempotent.
func (m *Mux) Subscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	if _, active := m.subs[channel]; active {
		m.mu.Unlock()
		return nil
	}
	m.subs[channel] = &channelSubscription{
		name:     channel,
		handlers: make(map[string]EventHandler),
	}
	m.mu.Unlock()

	if err := m.transport.Subscribe(ctx, channel); err != nil {
		m.mu.Lock()
		delete(m.subs, channel)
		m.mu.Unlock()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	m.log.Debug().Str("channel", channel).Msg("Subscribed")
	return nil
}

// Bind attaches a handler to a named event on an active channel. Binding an
// already-bound event name is a no-op; the first handler wins.
func (m *Mux) Bind(channel, event string, handler EventHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, active := m.subs[channel]
	if !active {
		return fmt.Errorf("cannot bind %s: channel %s is not subscribed", event, channel)
	}
	if _, bound := sub.handlers[event]; bound {
		return nil
	}
	sub.handlers[event] = handler
	return nil
}

// Unbind detaches a single event handler.
func (m *Mux) Unbind(channel, event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, active := m.subs[channel]; active {
		delete(sub.handlers, event)
	}
}

// BoundEvents returns the sorted event names bound on a channel.
func (m *Mux) BoundEvents(channel string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, active := m.subs[channel]
	if !active {
		return nil
	}
	names := make([]string, 0, len(sub.handlers))
	for name := range sub.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Teardown unbinds every event on the channel and then unsubscribes it.
// Partial teardown (unsubscribe without unbind) is not offered: it can leave
// callbacks referencing a discarded view.
func (m *Mux) Teardown(ctx context.Context, channel string) error {
	m.mu.Lock()
	sub, active := m.subs[channel]
	if !active {
		m.mu.Unlock()
		return nil
	}
	for event := range sub.handlers {
		delete(sub.handlers, event)
	}
	delete(m.subs, channel)
	m.mu.Unlock()

	if err := m.transport.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", channel, err)
	}
	m.log.Debug().Str("channel", channel).Msg("Torn down")
	return nil
}

// TeardownAll tears down every active channel. Errors are logged, not
// returned: leaving a chat must always complete.
func (m *Mux) TeardownAll(ctx context.Context) {
	m.mu.Lock()
	channels := make([]string, 0, len(m.subs))
	for name := range m.subs {
		channels = append(channels, name)
	}
	m.mu.Unlock()

	for _, channel := range channels {
		if err := m.Teardown(ctx, channel); err != nil {
			m.log.Warn().Err(err).Str("channel", channel).Msg("Teardown failed")
		}
	}
}

// Dispatch routes one received event to its bound handler. Handler panics
// are recovered and logged per event: a failing handler must not tear down
// the subscription or starve other bound events.
func (m *Mux) Dispatch(channel, event string, data json.RawMessage) {
	m.mu.Lock()
	sub, active := m.subs[channel]
	var handler EventHandler
	if active {
		handler = sub.handlers[event]
	}
	m.mu.Unlock()

	if handler == nil {
		m.log.Trace().Str("channel", channel).Str("event", event).Msg("No handler bound, dropping event")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("channel", channel).
				Str("event", event).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Event handler panicked")
		}
	}()
	handler(data)
}
