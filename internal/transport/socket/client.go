// Package socket consumes the realtime push channel: a WebSocket delivering
// typed envelopes, with optional per-event acknowledgment and dynamically
// named channels advertised mid-stream.
package socket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/parakeetlabs/streamcore/internal/auth"
	"github.com/parakeetlabs/streamcore/internal/events"
	"github.com/rs/zerolog/log"
)

type Client struct {
	url      string
	token    string
	dialer   *websocket.Dialer
	timeouts TimeoutConfig

	writeMu sync.Mutex
	conn    *websocket.Conn
}

func NewClient(url, token string, timeouts TimeoutConfig) *Client {
	return &Client{
		url:      url,
		token:    token,
		dialer:   websocket.DefaultDialer,
		timeouts: timeouts,
	}
}

// subscribeFrame asks the server to route further pushes for this session
// over a named channel.
type subscribeFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// ackFrame acknowledges receipt of an envelope that carried an id.
type ackFrame struct {
	ID  string `json:"id"`
	Ack bool   `json:"ack"`
}

// Listen dials the push channel and returns normalized events. accumulated
// supplies the session's current content for duplicate tool banner
// suppression. ChannelSwitch events are both acted on (a subscribe frame is
// sent) and forwarded, so the consumer can flip its suppression state. The
// channel closes on read failure or context cancellation; a close without a
// terminal event means the transport was interrupted.
func (c *Client) Listen(ctx context.Context, accumulated func() string) (<-chan events.Event, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
		if claims, err := auth.Inspect(c.token); err == nil && claims.ExpiresWithin(time.Minute) {
			log.Warn().Msg("Bearer token expires within a minute - socket session may be cut short")
		}
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, events.NewStreamError(events.KindTransport, "socket dial rejected", err)
		}
		return nil, events.NewStreamError(events.KindTransport, "socket dial failed", err)
	}
	c.conn = conn

	out := make(chan events.Event)
	done := make(chan struct{})
	var closeOnce sync.Once
	cleanup := func() {
		closeOnce.Do(func() {
			close(done)
			conn.Close()
		})
	}

	// Keepalive: ping on a timer, extend the read deadline on every pong.
	conn.SetReadDeadline(time.Now().Add(c.timeouts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.timeouts.PongWait))
	})
	go func() {
		ticker := time.NewTicker(c.timeouts.PingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					cleanup()
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				cleanup()
				return
			}
		}
	}()

	go func() {
		defer close(out)
		defer cleanup()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Msg("Socket read failed")
				}
				return
			}

			env, err := events.DecodeEnvelope(raw)
			if err != nil {
				log.Warn().Err(err).Msg("Ignoring undecodable socket frame")
				continue
			}
			if env.ID != "" {
				c.ack(env.ID)
			}

			evs, err := events.NormalizeEnvelope(env.Data, accumulated())
			if err != nil {
				log.Warn().Err(err).Str("type", env.Data.Type).Msg("Ignoring malformed socket payload")
				continue
			}
			for _, ev := range evs {
				if sw, ok := ev.(*events.ChannelSwitch); ok {
					c.subscribe(sw.Channel)
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close tears down the connection; any blocked read returns immediately.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) subscribe(channel string) {
	if err := c.writeJSON(subscribeFrame{Type: "subscribe", Channel: channel}); err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("Failed to subscribe to dynamic channel")
		return
	}
	log.Info().Str("channel", channel).Msg("Subscribed to dynamic channel")
}

func (c *Client) ack(id string) {
	if err := c.writeJSON(ackFrame{ID: id, Ack: true}); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("Failed to acknowledge socket event")
	}
}

func (c *Client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.timeouts.WriteWait))
	return c.conn.WriteJSON(v)
}

func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.timeouts.WriteWait))
	return c.conn.WriteMessage(messageType, data)
}
