// Package push listens on the backend's websocket channel and hands decoded
// events to a handler one at a time.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"truckdash/internal/log"
)

// EventType tags a push envelope.
type EventType string

const (
	TruckCreated  EventType = "truck_created"
	TruckUpdated  EventType = "truck_updated"
	StatusUpdated EventType = "status_updated"
	TruckDeleted  EventType = "truck_deleted"
)

// Known reports whether the dashboard reconciles this event type.
func (t EventType) Known() bool {
	switch t {
	case TruckCreated, TruckUpdated, StatusUpdated, TruckDeleted:
		return true
	}
	return false
}

// Event is the {type, data} envelope carried by every text frame.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses one frame.
func Decode(frame []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return Event{}, fmt.Errorf("decode push envelope: %w", err)
	}
	if ev.Type == "" {
		return Event{}, errors.New("decode push envelope: missing type")
	}
	return ev, nil
}

// Conn is the read side of an open push connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket. A nil Dialer uses
// websocket.DefaultDialer.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", rawURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	return conn, nil
}

// ChannelURL derives the push endpoint from the API base URL. The websocket
// scheme mirrors the transport security of the base: https gives wss, http gives ws.
func ChannelURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", base)
	}
	if path == "" {
		path = "/ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Handler applies one event. It runs to completion before the next frame is read.
type Handler func(ctx context.Context, ev Event) error

// Listener owns one connection and its read loop.
type Listener struct {
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closing   bool
}

// Listen starts the read loop on conn. Frames are decoded and handled
// sequentially on a single goroutine. Undecodable frames and unknown event
// types are logged and skipped. When the connection drops the loop exits and
// nothing reconnects.
func Listen(ctx context.Context, conn Conn, handle Handler, logger log.Logger) *Listener {
	ctx, cancel := context.WithCancel(ctx)
	l := &Listener{conn: conn, cancel: cancel, done: make(chan struct{})}
	go l.run(ctx, handle, log.OrNop(logger).WithName("push"))
	return l
}

func (l *Listener) run(ctx context.Context, handle Handler, logger log.Logger) {
	defer close(l.done)
	defer l.cancel()
	for {
		mt, frame, err := l.conn.ReadMessage()
		if err != nil {
			if l.isClosing() {
				logger.Debug("push channel closed")
			} else {
				logger.Error(err, "push channel read failed; not reconnecting")
			}
			_ = l.conn.Close()
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		ev, err := Decode(frame)
		if err != nil {
			logger.Warn("skipping push frame", "error", err.Error())
			continue
		}
		if !ev.Type.Known() {
			logger.Info("ignoring unknown push event", "type", string(ev.Type))
			continue
		}
		if err := handle(ctx, ev); err != nil {
			logger.Error(err, "apply push event", "type", string(ev.Type))
		}
	}
}

func (l *Listener) isClosing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closing
}

// Done is closed once the read loop has exited.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Close shuts the connection and waits for the read loop. Safe to call more
// than once. Must not be called from inside the handler.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closing = true
		l.mu.Unlock()
		l.cancel()
		select {
		case <-l.done:
			// The loop already closed a dropped connection.
		default:
			err = l.conn.Close()
		}
	})
	<-l.done
	return err
}
