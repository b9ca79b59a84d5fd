// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package permission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArbiter_RegisterAndRespond(t *testing.T) {
	a := New()

	var got Decision
	done := make(chan struct{})
	reqID := a.Register("sess-1", time.Minute, func(d Decision) {
		got = d
		close(done)
	})
	require.NotEmpty(t, reqID)

	ok := a.Respond(reqID, Decision{Allowed: true})
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("resolve not called")
	}
	assert.True(t, got.Allowed)
	assert.False(t, got.TimedOut)
}

func TestArbiter_RespondUnknownID(t *testing.T) {
	a := New()
	ok := a.Respond("does-not-exist", Decision{Allowed: true})
	assert.False(t, ok)
}

func TestArbiter_RespondTwiceFailsSecond(t *testing.T) {
	a := New()
	reqID := a.Register("sess-1", time.Minute, func(Decision) {})
	assert.True(t, a.Respond(reqID, Decision{Allowed: true}))
	assert.False(t, a.Respond(reqID, Decision{Allowed: true}))
}

func TestArbiter_Timeout(t *testing.T) {
	a := New()

	var got Decision
	done := make(chan struct{})
	a.Register("sess-1", 20*time.Millisecond, func(d Decision) {
		got = d
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout did not fire")
	}
	assert.False(t, got.Allowed)
	assert.True(t, got.TimedOut)
}

func TestArbiter_RespondAfterTimeoutFails(t *testing.T) {
	a := New()
	done := make(chan struct{})
	reqID := a.Register("sess-1", 10*time.Millisecond, func(Decision) { close(done) })

	<-done
	time.Sleep(5 * time.Millisecond)
	assert.False(t, a.Respond(reqID, Decision{Allowed: true}))
}

func TestArbiter_CancelSession(t *testing.T) {
	a := New()

	var d1, d2 Decision
	done1, done2 := make(chan struct{}), make(chan struct{})
	a.Register("sess-1", time.Minute, func(d Decision) { d1 = d; close(done1) })
	a.Register("sess-1", time.Minute, func(d Decision) { d2 = d; close(done2) })
	other := a.Register("sess-2", time.Minute, func(Decision) {})

	a.CancelSession("sess-1")

	<-done1
	<-done2
	assert.False(t, d1.Allowed)
	assert.False(t, d2.Allowed)

	// session-2's pending request is untouched
	assert.Len(t, a.Pending("sess-2"), 1)
	assert.True(t, a.Respond(other, Decision{Allowed: true}))
}

func TestArbiter_Pending(t *testing.T) {
	a := New()
	a.Register("sess-1", time.Minute, func(Decision) {})
	a.Register("sess-1", time.Minute, func(Decision) {})
	a.Register("sess-2", time.Minute, func(Decision) {})

	assert.Len(t, a.Pending("sess-1"), 2)
	assert.Len(t, a.Pending("sess-2"), 1)
}
