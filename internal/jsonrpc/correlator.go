// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package jsonrpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
)

// ErrPeerClosed is returned by Call when the peer's read loop has exited.
var ErrPeerClosed = errors.New("jsonrpc: peer closed")

// ServerRequestHandler answers a server-initiated request. Implementations
// must themselves call Correlator.Reply (or Correlator.ReplyError).
type ServerRequestHandler func(m Message)

// NotificationHandler observes an inbound notification.
type NotificationHandler func(m Message)

// Correlator is generic over "peer": it owns outbound id allocation, the
// pending-reply map, and newline-delimited framing over a stdio-shaped
// connection. One Correlator per subprocess connection.
type Correlator struct {
	label string // for log prefixes, e.g. "codex [sess-123]"

	nextID int64 // atomic

	writeMu sync.Mutex
	w       io.Writer

	pendingMu sync.Mutex
	pending   map[int64]chan Message

	onServerRequest ServerRequestHandler
	onNotification  NotificationHandler
}

// New creates a Correlator writing newline-delimited JSON to w. Call Run
// with a reader to start dispatching inbound lines.
func New(label string, w io.Writer, onServerRequest ServerRequestHandler, onNotification NotificationHandler) *Correlator {
	return &Correlator{
		label:           label,
		w:               w,
		pending:         make(map[int64]chan Message),
		onServerRequest: onServerRequest,
		onNotification:  onNotification,
	}
}

// Run reads newline-delimited JSON messages from r until EOF or a read
// error, dispatching each to the reply waiter, the server-request handler,
// or the notification handler. Malformed lines are logged and dropped, never
// fatal, per spec.md §4.2. Run blocks; callers should run it in a goroutine.
func (c *Correlator) Run(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			log.Printf("jsonrpc [%s]: malformed line, dropped: %v", c.label, err)
			continue
		}

		switch Classify(m) {
		case KindReply:
			c.resolveReply(m)
		case KindServerRequest:
			if c.onServerRequest != nil {
				c.onServerRequest(m)
			} else {
				log.Printf("jsonrpc [%s]: no server-request handler for method %q", c.label, m.Method)
			}
		case KindNotification:
			if c.onNotification != nil {
				c.onNotification(m)
			}
		default:
			log.Printf("jsonrpc [%s]: unclassifiable message, dropped", c.label)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("jsonrpc [%s]: read loop ended: %v", c.label, err)
	}

	// Fail every still-pending call; nothing will ever answer them now.
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.pendingMu.Unlock()
}

func (c *Correlator) resolveReply(m Message) {
	c.pendingMu.Lock()
	ch, ok := c.pending[*m.ID]
	if ok {
		delete(c.pending, *m.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		log.Printf("jsonrpc [%s]: reply with unknown id %d, dropped", c.label, *m.ID)
		return
	}
	ch <- m
}

// Call writes a request for method with the given params and blocks until a
// matching reply arrives or the peer closes. The returned Message's Error
// field is non-nil on an RPC-level error; err is non-nil only on a transport
// failure (write error or peer closed before replying).
func (c *Correlator) Call(method string, params any) (Message, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	req, err := newRequest(id, method, params)
	if err != nil {
		return Message{}, fmt.Errorf("marshal params: %w", err)
	}

	ch := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.writeLine(req); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return Message{}, err
	}

	reply, ok := <-ch
	if !ok {
		return Message{}, ErrPeerClosed
	}
	return reply, nil
}

// Notify writes a one-way notification (no reply expected).
func (c *Correlator) Notify(method string, params any) error {
	n, err := newNotification(method, params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	return c.writeLine(n)
}

// Reply answers a server-initiated request with a success result.
func (c *Correlator) Reply(id int64, result any) error {
	m, err := NewReply(id, result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return c.writeLine(m)
}

// ReplyError answers a server-initiated request with an error.
func (c *Correlator) ReplyError(id int64, code int, message string) error {
	return c.writeLine(NewErrorReply(id, code, message))
}

// writeLine serializes writes through a mutex and frames with a trailing
// newline, per spec.md §4.2 step 3.
func (c *Correlator) writeLine(m Message) error {
	m.JSONRPC = "2.0"
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// CancelPending fails a specific outstanding call (e.g. on caller
// cancellation), per spec.md §4.2's "a pending request whose caller cancels
// must be cleanable".
func (c *Correlator) CancelPending(id int64) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if ok {
		close(ch)
	}
}
