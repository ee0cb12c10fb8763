package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/parakeetlabs/streamcore/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// pushServer upgrades the connection, pushes the given frames, then records
// everything the client writes back until the connection drops.
func pushServer(t *testing.T, frames []string, written chan<- []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case written <- msg:
			default:
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func drain(t *testing.T, stream <-chan events.Event, want int) []events.Event {
	t.Helper()
	var got []events.Event
	timeout := time.After(5 * time.Second)
	for len(got) < want {
		select {
		case ev, ok := <-stream:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for %d events, have %d", want, len(got))
		}
	}
	return got
}

func TestListenDeliversNormalizedEvents(t *testing.T) {
	written := make(chan []byte, 8)
	srv := pushServer(t, []string{
		`{"data":{"type":"chat:message:delta","data":{"content":"Hel"}}}`,
		`{"data":{"type":"event:status","data":{"status":"thinking"}}}`,
		`{"data":{"type":"chat:completion","data":{"content":"lo","done":true}}}`,
	}, written)
	defer srv.Close()

	c := NewClient(wsURL(srv), "", DefaultTimeouts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.Listen(ctx, func() string { return "" })
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	defer c.Close()

	got := drain(t, stream, 4)
	if _, ok := got[0].(*events.ContentDelta); !ok {
		t.Errorf("event 0 = %T, want ContentDelta", got[0])
	}
	if _, ok := got[1].(*events.StatusUpdate); !ok {
		t.Errorf("event 1 = %T, want StatusUpdate", got[1])
	}
	if _, ok := got[2].(*events.ContentDelta); !ok {
		t.Errorf("event 2 = %T, want ContentDelta", got[2])
	}
	if _, ok := got[3].(*events.Done); !ok {
		t.Errorf("event 3 = %T, want Done", got[3])
	}
}

func TestListenSubscribesOnChannelSwitch(t *testing.T) {
	written := make(chan []byte, 8)
	srv := pushServer(t, []string{
		`{"data":{"type":"request:chat:completion","data":{"channel":"chat:dyn1"}}}`,
	}, written)
	defer srv.Close()

	c := NewClient(wsURL(srv), "", DefaultTimeouts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.Listen(ctx, func() string { return "" })
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	defer c.Close()

	got := drain(t, stream, 1)
	sw, ok := got[0].(*events.ChannelSwitch)
	if !ok || sw.Channel != "chat:dyn1" {
		t.Fatalf("expected ChannelSwitch{chat:dyn1}, got %#v", got[0])
	}

	select {
	case msg := <-written:
		var frame subscribeFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Fatalf("unparseable subscribe frame: %v", err)
		}
		if frame.Type != "subscribe" || frame.Channel != "chat:dyn1" {
			t.Errorf("unexpected subscribe frame: %+v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe frame written after channel switch")
	}
}

func TestListenAcknowledgesFramesWithIDs(t *testing.T) {
	written := make(chan []byte, 8)
	srv := pushServer(t, []string{
		`{"id":"evt-7","data":{"type":"chat:message:delta","data":{"content":"x"}}}`,
	}, written)
	defer srv.Close()

	c := NewClient(wsURL(srv), "", DefaultTimeouts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.Listen(ctx, func() string { return "" })
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	defer c.Close()
	drain(t, stream, 1)

	select {
	case msg := <-written:
		var frame ackFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Fatalf("unparseable ack frame: %v", err)
		}
		if frame.ID != "evt-7" || !frame.Ack {
			t.Errorf("unexpected ack frame: %+v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no ack frame written for event with id")
	}
}

func TestListenClosesOnServerDrop(t *testing.T) {
	// The handler owns the upgraded connection and tears it down when told,
	// so the drop happens on the websocket itself.
	drop := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		frame := `{"data":{"type":"chat:message:delta","data":{"content":"partial"}}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
		<-drop
	}))
	defer srv.Close()

	c := NewClient(wsURL(srv), "", DefaultTimeouts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.Listen(ctx, func() string { return "" })
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}

	drain(t, stream, 1)
	close(drop)

	select {
	case _, ok := <-stream:
		if ok {
			t.Error("expected channel close after server drop, got event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event channel did not close after server drop")
	}
}
