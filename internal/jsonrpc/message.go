// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package jsonrpc implements the JSON-RPC Correlator (spec.md §4.2): request
// id allocation, a pending-reply map, inbound message classification, and
// newline-delimited framing over a generic stdio-shaped peer.
package jsonrpc

import "encoding/json"

// Message is the wire shape of one JSON-RPC 2.0 line, generous enough to
// cover requests, replies, and notifications in both directions.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Kind classifies an inbound Message per spec.md §4.2 step 2.
type Kind int

const (
	// KindReply: id present + (result | error) present.
	KindReply Kind = iota
	// KindServerRequest: id present + method present (must be answered with the same id).
	KindServerRequest
	// KindNotification: id absent + method present.
	KindNotification
	// KindMalformed: none of the above shapes matched.
	KindMalformed
)

// Classify determines which of the three inbound shapes m is.
func Classify(m Message) Kind {
	switch {
	case m.ID != nil && (m.Result != nil || m.Error != nil):
		return KindReply
	case m.ID != nil && m.Method != "":
		return KindServerRequest
	case m.ID == nil && m.Method != "":
		return KindNotification
	default:
		return KindMalformed
	}
}

func newRequest(id int64, method string, params any) (Message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Message{}, err
	}
	return Message{JSONRPC: "2.0", ID: &id, Method: method, Params: raw}, nil
}

func newNotification(method string, params any) (Message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Message{}, err
	}
	return Message{JSONRPC: "2.0", Method: method, Params: raw}, nil
}

// NewReply builds a successful reply to a server-initiated request.
func NewReply(id int64, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, err
	}
	return Message{JSONRPC: "2.0", ID: &id, Result: raw}, nil
}

// NewErrorReply builds an error reply to a server-initiated request.
func NewErrorReply(id int64, code int, message string) Message {
	return Message{JSONRPC: "2.0", ID: &id, Error: &Error{Code: code, Message: message}}
}
