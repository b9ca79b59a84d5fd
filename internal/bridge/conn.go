// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeQueueCapacity bounds a connection's outbound buffer (spec.md §4.7
// "Fan-out": "each connection has its own bounded write queue").
const writeQueueCapacity = 64

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// conn wraps one browser WebSocket connection with a bounded, non-blocking
// outbound queue, grounded on the teacher's serveSession write-mutex idiom
// but replacing the mutex with a channel-fed writer goroutine so a slow
// reader cannot stall the publishing goroutine that called Hub.Publish.
type conn struct {
	ws *websocket.Conn

	outbox chan any
	closed chan struct{}
	once   closeOnce
}

type closeOnce struct {
	mu   sync.Mutex
	done bool
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:     ws,
		outbox: make(chan any, writeQueueCapacity),
		closed: make(chan struct{}),
	}
}

// send enqueues v for delivery. If the queue is full, the connection is
// closed with an abnormal status (spec.md §4.7: "that connection is closed
// with an 'abnormal' code and the browser is expected to reconnect").
// Never blocks.
func (c *conn) send(v any) {
	select {
	case c.outbox <- v:
	case <-c.closed:
	default:
		log.Printf("bridge: connection write queue overflowed, closing abnormally")
		c.closeAbnormal()
	}
}

// writeLoop drains outbox and periodically pings, until close() or
// closeAbnormal() fires. Run in its own goroutine per connection.
func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case v, ok := <-c.outbox:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(v); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// armReadDeadlines wires the pong handler and initial read deadline the
// teacher's ping/pong loop uses, so a dead peer is detected even though
// nothing else is flowing.
func (c *conn) armReadDeadlines() {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}

func (c *conn) close() {
	c.once.mu.Lock()
	already := c.once.done
	c.once.done = true
	c.once.mu.Unlock()
	if already {
		return
	}
	close(c.closed)
	c.ws.Close()
}

// closeAbnormal sends a close frame with an abnormal-closure-flavored code
// before tearing the socket down. RFC 6455 reserves 1006 itself for
// implicit/unsent use, so the nearest on-wire code signaling an
// application-level failure (rather than a clean shutdown) is used instead.
func (c *conn) closeAbnormal() {
	c.once.mu.Lock()
	already := c.once.done
	c.once.mu.Unlock()
	if already {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseMessageTooBig, "write queue overflow")
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	c.ws.WriteMessage(websocket.CloseMessage, msg)
	c.close()
}
