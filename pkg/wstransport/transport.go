// Package wstransport implements the realtime push transport over a
// websocket connection carrying JSON frames. Delivery is at-least-once with
// no ordering guarantee across channels; deduplication is the engine's job.
package wstransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/young13371337/linker-sub001/pkg/chatsync"
)

const writeTimeout = 10 * time.Second

// frame is one websocket message. Control frames (subscribe/unsubscribe)
// carry Type; event frames carry Channel, Event and Data.
type frame struct {
	Type    string          `json:"type,omitempty"`
	Channel string          `json:"channel"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Deliver receives every event frame read from the connection, typically
// wired to chatsync.(*Mux).Dispatch.
type Deliver func(channel, event string, data json.RawMessage)

// Conn is a live websocket connection to the push gateway. It implements
// chatsync.Transport. One Conn belongs to one active chat session and is
// closed when that session is left.
type Conn struct {
	ws  *websocket.Conn
	log zerolog.Logger

	writeMu sync.Mutex
	done    chan struct{}
	closed  sync.Once
}

var _ chatsync.Transport = (*Conn)(nil)

// Dial connects to the gateway and starts the read pump. deliver is invoked
// on the read goroutine for every event frame.
func Dial(ctx context.Context, url string, log zerolog.Logger, deliver Deliver) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial realtime gateway: %w", err)
	}
	c := &Conn{
		ws:   ws,
		log:  log.With().Str("component", "wstransport").Logger(),
		done: make(chan struct{}),
	}
	go c.readPump(deliver)
	return c, nil
}

func (c *Conn) readPump(deliver Deliver) {
	// The pump context outlives any single read; closing the connection is
	// what ends it.
	ctx := context.Background()
	for {
		select {
		case <-c.done:
			return
		default:
		}
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				return
			}
			c.log.Warn().Err(err).Msg("Realtime read failed, stopping pump")
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn().Err(err).Msg("Dropping malformed realtime frame")
			continue
		}
		if f.Event == "" {
			// Control acks and keepalives carry no event name.
			continue
		}
		deliver(f.Channel, f.Event, f.Data)
	}
}

func (c *Conn) writeFrame(ctx context.Context, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Subscribe asks the gateway to start delivering events for a named channel.
func (c *Conn) Subscribe(ctx context.Context, channel string) error {
	if err := c.writeFrame(ctx, frame{Type: "subscribe", Channel: channel}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	return nil
}

// Unsubscribe stops delivery for a named channel.
func (c *Conn) Unsubscribe(ctx context.Context, channel string) error {
	if err := c.writeFrame(ctx, frame{Type: "unsubscribe", Channel: channel}); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", channel, err)
	}
	return nil
}

// Close shuts the connection down and stops the read pump.
func (c *Conn) Close() {
	c.closed.Do(func() {
		close(c.done)
		_ = c.ws.Close(websocket.StatusNormalClosure, "session left")
	})
}
